package jwtkit

import (
	"context"
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var ErrUnknownKey = errors.New("jwt: unknown signing key")

// Claims is what the service needs from a verified token.
type Claims struct {
	Issuer  string
	Subject string
	Roles   []string
}

// TokenVerifier verifies a bearer token and returns its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

// Verifier checks tokens issued by this service against its own KeySource.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithSkew tolerates clock drift on exp/nbf/iat.
func WithSkew(d time.Duration) VerifierOption { return func(v *Verifier) { v.skew = d } }

// WithTimeFunc overrides the verifier's notion of now.
func WithTimeFunc(now func() time.Time) VerifierOption { return func(v *Verifier) { v.now = now } }

func NewVerifier(keys KeySource, issuer, audience string, opts ...VerifierOption) *Verifier {
	v := &Verifier{keys: keys, issuer: issuer, audience: audience}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Verify(_ context.Context, raw string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.skew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}

	var sc SessionClaims
	_, err := jwt.ParseWithClaims(raw, &sc, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := v.keys.PublicKeys()[kid]
		if !ok {
			return nil, ErrUnknownKey
		}
		return pub, nil
	}, opts...)
	if err != nil {
		return Claims{}, err
	}
	if sc.Subject == "" {
		return Claims{}, errors.New("jwt: token has no subject")
	}
	return Claims{Issuer: sc.Issuer, Subject: sc.Subject, Roles: sc.Roles}, nil
}

// MultiVerifier tries each verifier in order and returns the first success.
type MultiVerifier []TokenVerifier

func (m MultiVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	errs := make([]error, 0, len(m))
	for _, v := range m {
		c, err := v.Verify(ctx, raw)
		if err == nil {
			return c, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return Claims{}, errors.New("jwt: no verifiers configured")
	}
	return Claims{}, errors.Join(errs...)
}
