package siws

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	headerSuffix   = " wants you to sign in with your Solana account:"
	defaultTTL     = 15 * time.Minute
	defaultVersion = "1"
	defaultChain   = "mainnet"
)

// DefaultStatement is shown to wallet owners signing in to manage their entitlements.
const DefaultStatement = "Sign in to manage your subscriptions."

type field struct {
	label string
	get   func(*SignInInput) *string
	set   func(*SignInInput, string)
}

// fields lists the message fields in wire order.
var fields = []field{
	{"URI", func(i *SignInInput) *string { return i.URI }, func(i *SignInInput, v string) { i.URI = strPtr(v) }},
	{"Version", func(i *SignInInput) *string { return i.Version }, func(i *SignInInput, v string) { i.Version = strPtr(v) }},
	{"Chain ID", func(i *SignInInput) *string { return i.ChainID }, func(i *SignInInput, v string) { i.ChainID = strPtr(v) }},
	{"Nonce", func(i *SignInInput) *string { return &i.Nonce }, func(i *SignInInput, v string) { i.Nonce = v }},
	{"Issued At", func(i *SignInInput) *string { return &i.IssuedAt }, func(i *SignInInput, v string) { i.IssuedAt = v }},
	{"Expiration Time", func(i *SignInInput) *string { return i.ExpirationTime }, func(i *SignInInput, v string) { i.ExpirationTime = strPtr(v) }},
	{"Not Before", func(i *SignInInput) *string { return i.NotBefore }, func(i *SignInInput, v string) { i.NotBefore = strPtr(v) }},
	{"Request ID", func(i *SignInInput) *string { return i.RequestID }, func(i *SignInInput, v string) { i.RequestID = strPtr(v) }},
}

// ConstructMessage renders input in the SIWS text format:
//
//	${domain} wants you to sign in with your Solana account:
//	${address}
//
//	${statement}
//
//	URI: ${uri}
//	Version: ${version}
//	Chain ID: ${chainId}
//	Nonce: ${nonce}
//	Issued At: ${issuedAt}
//	Expiration Time: ${expirationTime}
//	Not Before: ${notBefore}
//	Request ID: ${requestId}
//	Resources:
//	- ${resources[0]}
//
// Nonce and Issued At are always written; other fields only when set.
func ConstructMessage(input SignInInput) string {
	var sb strings.Builder
	sb.WriteString(input.Domain)
	sb.WriteString(headerSuffix)
	sb.WriteString("\n")
	sb.WriteString(input.Address)

	if input.Statement != nil && *input.Statement != "" {
		sb.WriteString("\n\n")
		sb.WriteString(*input.Statement)
	}
	sb.WriteString("\n")

	for _, f := range fields {
		v := f.get(&input)
		required := f.label == "Nonce" || f.label == "Issued At"
		if v == nil || (*v == "" && !required) {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(f.label)
		sb.WriteString(": ")
		sb.WriteString(*v)
	}

	if len(input.Resources) > 0 {
		sb.WriteString("\nResources:")
		for _, r := range input.Resources {
			sb.WriteString("\n- ")
			sb.WriteString(r)
		}
	}
	return sb.String()
}

// GenerateNonce returns 128 bits of randomness, base64url without padding.
func GenerateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// InputOption customizes a SignInInput.
type InputOption func(*SignInInput)

// NewSignInInput builds a challenge for address issued at now with a 15 minute lifetime.
func NewSignInInput(domain, address string, now time.Time, opts ...InputOption) (SignInInput, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return SignInInput{}, err
	}
	now = now.UTC()
	input := SignInInput{
		Domain:         domain,
		Address:        address,
		Nonce:          nonce,
		IssuedAt:       now.Format(time.RFC3339),
		ExpirationTime: strPtr(now.Add(defaultTTL).Format(time.RFC3339)),
		Version:        strPtr(defaultVersion),
		ChainID:        strPtr(defaultChain),
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input, nil
}

func WithStatement(statement string) InputOption {
	return func(i *SignInInput) { i.Statement = strPtr(statement) }
}

func WithURI(uri string) InputOption {
	return func(i *SignInInput) { i.URI = strPtr(uri) }
}

// WithChainID sets the cluster (mainnet, devnet, testnet).
func WithChainID(chainID string) InputOption {
	return func(i *SignInInput) { i.ChainID = strPtr(chainID) }
}

// WithExpirationDuration sets expiration relative to Issued At.
func WithExpirationDuration(d time.Duration) InputOption {
	return func(i *SignInInput) {
		issued, err := time.Parse(time.RFC3339, i.IssuedAt)
		if err != nil {
			return
		}
		i.ExpirationTime = strPtr(issued.Add(d).Format(time.RFC3339))
	}
}

func WithResources(resources ...string) InputOption {
	return func(i *SignInInput) { i.Resources = append(i.Resources, resources...) }
}

func WithRequestID(id string) InputOption {
	return func(i *SignInInput) { i.RequestID = strPtr(id) }
}
