package siws

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

var (
	ErrBadSignature    = errors.New("siws: signature verification failed")
	ErrUnknownNonce    = errors.New("siws: unknown or consumed nonce")
	ErrAddressMismatch = errors.New("siws: address mismatch")
)

// PublicKeyToBase58 encodes a wallet public key as a Solana address.
func PublicKeyToBase58(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// Base58ToPublicKey decodes a Solana address into its ed25519 public key.
func Base58ToPublicKey(address string) (ed25519.PublicKey, error) {
	b, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("siws: invalid base58 address: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("siws: address decodes to %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

// ValidateAddress reports whether address is a well-formed Solana address.
func ValidateAddress(address string) error {
	_, err := Base58ToPublicKey(address)
	return err
}

// DecodeSignature accepts a base58 encoded ed25519 signature.
func DecodeSignature(sig string) ([]byte, error) {
	b, err := base58.Decode(sig)
	if err != nil {
		return nil, fmt.Errorf("siws: invalid base58 signature: %w", err)
	}
	if len(b) != ed25519.SignatureSize {
		return nil, fmt.Errorf("siws: signature is %d bytes, want %d", len(b), ed25519.SignatureSize)
	}
	return b, nil
}

// VerifySignature checks the ed25519 signature over SignedMessage. When the output carries
// no public key it is derived from the address.
func VerifySignature(out SignInOutput) error {
	pub := out.Account.PublicKey
	if len(pub) == 0 {
		var err error
		if pub, err = Base58ToPublicKey(out.Account.Address); err != nil {
			return err
		}
	} else if PublicKeyToBase58(pub) != out.Account.Address {
		return ErrAddressMismatch
	}
	if !ed25519.Verify(pub, out.SignedMessage, out.Signature) {
		return ErrBadSignature
	}
	return nil
}

// Verify checks that output signs exactly the message built from input.
func Verify(input SignInInput, out SignInOutput) error {
	if input.Address != out.Account.Address {
		return ErrAddressMismatch
	}
	if !bytes.Equal([]byte(ConstructMessage(input)), out.SignedMessage) {
		return fmt.Errorf("%w: signed message differs from challenge", ErrBadSignature)
	}
	return VerifySignature(out)
}

// Authenticator issues and consumes challenges for one domain.
type Authenticator struct {
	Domain    string
	Statement string
	Cache     ChallengeCache
	Now       func() time.Time
}

func (a *Authenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Challenge builds and stores a new challenge for address.
func (a *Authenticator) Challenge(ctx context.Context, address string, opts ...InputOption) (SignInInput, string, error) {
	if err := ValidateAddress(address); err != nil {
		return SignInInput{}, "", err
	}
	stmt := a.Statement
	if stmt == "" {
		stmt = DefaultStatement
	}
	now := a.now()
	input, err := NewSignInInput(a.Domain, address, now, append([]InputOption{WithStatement(stmt)}, opts...)...)
	if err != nil {
		return SignInInput{}, "", err
	}
	msg := ConstructMessage(input)
	exp := now.Add(defaultTTL)
	if t, ok, _ := parseRFC3339("expiration time", input.ExpirationTime); ok {
		exp = t
	}
	data := ChallengeData{Address: address, Message: msg, IssuedAt: now.UTC(), ExpiresAt: exp}
	if err := a.Cache.Put(ctx, input.Nonce, data); err != nil {
		return SignInInput{}, "", err
	}
	return input, msg, nil
}

// Complete verifies a signed challenge and consumes its nonce. It returns the verified address.
func (a *Authenticator) Complete(ctx context.Context, message string, signature []byte) (string, error) {
	input, err := ParseMessage(message)
	if err != nil {
		return "", err
	}
	if err := ValidateDomain(input, a.Domain); err != nil {
		return "", err
	}
	if err := ValidateTimestamps(input, a.now()); err != nil {
		return "", err
	}
	pending, ok, err := a.Cache.Get(ctx, input.Nonce)
	if err != nil {
		return "", err
	}
	if !ok || pending.Message != message || pending.Address != input.Address {
		return "", ErrUnknownNonce
	}
	out := SignInOutput{
		Account:       AccountInfo{Address: input.Address},
		Signature:     signature,
		SignedMessage: []byte(message),
	}
	if err := VerifySignature(out); err != nil {
		return "", err
	}
	// Consume only after the signature checks out, so a forged attempt cannot burn a nonce.
	taken, ok, err := a.Cache.Take(ctx, input.Nonce)
	if err != nil {
		return "", err
	}
	if !ok || taken.Message != message {
		return "", ErrUnknownNonce
	}
	return input.Address, nil
}
