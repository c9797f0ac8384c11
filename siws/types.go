// Package siws implements Sign-In With Solana: wallet owners prove control of an address by
// signing a challenge message, and the verified address becomes their ledger principal.
package siws

import (
	"context"
	"crypto/ed25519"
	"time"
)

// SignInInput holds the fields of a SIWS message.
type SignInInput struct {
	Domain         string   `json:"domain"`
	Address        string   `json:"address"`
	Statement      *string  `json:"statement,omitempty"`
	URI            *string  `json:"uri,omitempty"`
	Version        *string  `json:"version,omitempty"`
	ChainID        *string  `json:"chainId,omitempty"`
	Nonce          string   `json:"nonce"`
	IssuedAt       string   `json:"issuedAt"`
	ExpirationTime *string  `json:"expirationTime,omitempty"`
	NotBefore      *string  `json:"notBefore,omitempty"`
	RequestID      *string  `json:"requestId,omitempty"`
	Resources      []string `json:"resources,omitempty"`
}

// AccountInfo identifies the signing wallet.
type AccountInfo struct {
	Address   string
	PublicKey ed25519.PublicKey
}

// SignInOutput is what the wallet returns after signing.
type SignInOutput struct {
	Account       AccountInfo
	Signature     []byte
	SignedMessage []byte
}

// ChallengeData is the server-side record of an issued challenge, keyed by nonce.
type ChallengeData struct {
	Address   string    `json:"address"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ChallengeCache stores pending challenges until they are consumed or expire.
type ChallengeCache interface {
	Put(ctx context.Context, nonce string, data ChallengeData) error
	Get(ctx context.Context, nonce string) (ChallengeData, bool, error)
	// Take returns and removes a challenge in one atomic step. Of several concurrent
	// callers for one nonce at most one sees ok.
	Take(ctx context.Context, nonce string) (ChallengeData, bool, error)
}

func strPtr(s string) *string { return &s }
