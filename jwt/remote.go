package jwtkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	jwxjwt "github.com/lestrrat-go/jwx/v2/jwt"
)

// RemoteIssuer describes a third-party issuer whose tokens are accepted.
type RemoteIssuer struct {
	Issuer   string
	Audience string
	JWKSURL  string
	// PinnedRSAPEM is used when the JWKS endpoint cannot be reached.
	PinnedRSAPEM string
	CacheTTL     time.Duration
}

// RemoteVerifier validates tokens against an issuer's published JWKS, cached and refreshed
// in the background.
type RemoteVerifier struct {
	iss    RemoteIssuer
	cache  *jwk.Cache
	pinned jwk.Set
	skew   time.Duration
}

// NewRemoteVerifier registers the issuer's JWKS URL with a background cache tied to ctx.
func NewRemoteVerifier(ctx context.Context, iss RemoteIssuer, skew time.Duration) (*RemoteVerifier, error) {
	if iss.Issuer == "" || iss.JWKSURL == "" {
		return nil, errors.New("jwt: remote issuer needs issuer and jwks_url")
	}
	ttl := iss.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(iss.JWKSURL, jwk.WithMinRefreshInterval(ttl)); err != nil {
		return nil, fmt.Errorf("jwt: register jwks %s: %w", iss.JWKSURL, err)
	}
	rv := &RemoteVerifier{iss: iss, cache: cache, skew: skew}
	if iss.PinnedRSAPEM != "" {
		set, err := pinnedSet(iss.PinnedRSAPEM)
		if err != nil {
			return nil, err
		}
		rv.pinned = set
	}
	return rv, nil
}

func pinnedSet(pemStr string) (jwk.Set, error) {
	key, err := jwk.ParseKey([]byte(pemStr), jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("jwt: parse pinned key: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return set, nil
}

func (r *RemoteVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	set, err := r.cache.Get(ctx, r.iss.JWKSURL)
	if err != nil {
		if r.pinned == nil {
			return Claims{}, fmt.Errorf("jwt: fetch jwks: %w", err)
		}
		set = r.pinned
	}
	opts := []jwxjwt.ParseOption{
		jwxjwt.WithKeySet(set),
		jwxjwt.WithValidate(true),
		jwxjwt.WithIssuer(r.iss.Issuer),
		jwxjwt.WithAcceptableSkew(r.skew),
		jwxjwt.WithContext(ctx),
	}
	if r.iss.Audience != "" {
		opts = append(opts, jwxjwt.WithAudience(r.iss.Audience))
	}
	tok, err := jwxjwt.ParseString(raw, opts...)
	if err != nil {
		return Claims{}, err
	}
	if tok.Subject() == "" {
		return Claims{}, errors.New("jwt: token has no subject")
	}
	return Claims{Issuer: tok.Issuer(), Subject: tok.Subject(), Roles: stringList(tok, "roles")}, nil
}

func stringList(tok jwxjwt.Token, name string) []string {
	v, ok := tok.Get(name)
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, x := range vv {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{vv}
	}
	return nil
}
