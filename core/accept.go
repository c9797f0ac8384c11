package core

import (
	"context"
	"fmt"
	"time"

	jwtkit "github.com/PaulFidika/subledger/jwt"
)

// AcceptConfig configures verification of third-party JWTs (verify-only mode).
type AcceptConfig struct {
	Issuers []IssuerAccept
	Skew    time.Duration
}

// IssuerAccept describes how to accept tokens from a specific issuer.
type IssuerAccept struct {
	Issuer       string
	Audience     string // Expected audience for this service (single value)
	JWKSURL      string
	PinnedRSAPEM string // optional PEM for degraded fallback
	CacheTTL     time.Duration
}

// verifiers builds one remote verifier per accepted issuer. Their JWKS caches refresh until
// ctx is cancelled.
func (a AcceptConfig) verifiers(ctx context.Context) ([]jwtkit.TokenVerifier, error) {
	out := make([]jwtkit.TokenVerifier, 0, len(a.Issuers))
	for _, iss := range a.Issuers {
		rv, err := jwtkit.NewRemoteVerifier(ctx, jwtkit.RemoteIssuer{
			Issuer:       iss.Issuer,
			Audience:     iss.Audience,
			JWKSURL:      iss.JWKSURL,
			PinnedRSAPEM: iss.PinnedRSAPEM,
			CacheTTL:     iss.CacheTTL,
		}, a.Skew)
		if err != nil {
			return nil, fmt.Errorf("accept %s: %w", iss.Issuer, err)
		}
		out = append(out, rv)
	}
	return out, nil
}
