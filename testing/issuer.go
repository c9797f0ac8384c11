// Package testing provides helpers for exercising subledger without real infrastructure:
// a mock token issuer that serves JWKS and a controllable clock.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	cfg.Auth.Accept = []config.AcceptIssuer{{Issuer: issuer.URL(), JWKSURL: issuer.JWKSURL(), Audience: issuer.Audience()}}
//
//	token := issuer.CreateToken("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
package testing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/PaulFidika/subledger/entitlements"
	jwtkit "github.com/PaulFidika/subledger/jwt"
)

// TestIssuer runs an HTTP server serving /.well-known/jwks.json and signs tokens that
// validate against it.
type TestIssuer struct {
	server   *httptest.Server
	signer   *jwtkit.RSASigner
	audience string
}

// NewTestIssuer creates a test issuer with the audience "subledger".
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithAudience("subledger")
}

// NewTestIssuerWithAudience creates a test issuer with a specific audience claim.
func NewTestIssuerWithAudience(audience string) *TestIssuer {
	signer, err := jwtkit.NewRSASigner(2048, "test-key-1")
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	ti := &TestIssuer{signer: signer, audience: audience}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		jwtkit.ServeJWKS(w, r, jwtkit.JWKSFromKeySource(ti.KeySource()))
	})
	ti.server = httptest.NewServer(mux)
	return ti
}

func (ti *TestIssuer) URL() string      { return ti.server.URL }
func (ti *TestIssuer) JWKSURL() string  { return ti.server.URL + "/.well-known/jwks.json" }
func (ti *TestIssuer) Audience() string { return ti.audience }

// KeySource exposes the signing key, for wiring a local Verifier in tests.
func (ti *TestIssuer) KeySource() jwtkit.KeySource { return jwtkit.NewStaticKeySource(ti.signer) }

func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

// CreateToken signs a one-hour token whose subject is principal.
func (ti *TestIssuer) CreateToken(principal entitlements.Principal, roles ...string) string {
	return ti.CreateTokenWithExpiry(principal, time.Now().Add(time.Hour), roles...)
}

// CreateOperatorToken signs a token carrying the operator role.
func (ti *TestIssuer) CreateOperatorToken(principal entitlements.Principal) string {
	return ti.CreateToken(principal, entitlements.RoleOperator)
}

// CreateTokenWithExpiry signs a token expiring at expiry.
func (ti *TestIssuer) CreateTokenWithExpiry(principal entitlements.Principal, expiry time.Time, roles ...string) string {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": string(principal),
		"iss": ti.URL(),
		"aud": ti.audience,
		"exp": expiry.Unix(),
		"iat": now.Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}
	token, err := ti.signer.Sign(context.Background(), claims)
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return token
}

// CreateExpiredToken signs a token that expired an hour ago.
func (ti *TestIssuer) CreateExpiredToken(principal entitlements.Principal) string {
	return ti.CreateTokenWithExpiry(principal, time.Now().Add(-time.Hour))
}
