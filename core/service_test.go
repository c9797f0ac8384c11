package core

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/subledger/apikey"
	"github.com/PaulFidika/subledger/config"
	"github.com/PaulFidika/subledger/entitlements"
	jwtkit "github.com/PaulFidika/subledger/jwt"
	"github.com/PaulFidika/subledger/siws"
	memorystore "github.com/PaulFidika/subledger/storage/memory"
	subtest "github.com/PaulFidika/subledger/testing"
)

type events struct {
	mu  sync.Mutex
	got []entitlements.Event
}

func (e *events) Publish(_ context.Context, ev entitlements.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
	return nil
}

func newTestService(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	if cfg.Keys == nil {
		signer, err := jwtkit.NewRSASigner(2048, "local")
		require.NoError(t, err)
		cfg.Keys = jwtkit.NewStaticKeySource(signer)
	}
	if cfg.Issuer == "" {
		cfg.Issuer, cfg.Audience = "subledger", "subledger"
	}
	if cfg.Wallet.Domain == "" {
		cfg.Wallet.Domain = "app.example"
	}
	log, _ := logtest.NewNullLogger()
	svc, err := New(context.Background(), cfg, memorystore.New(), append([]Option{WithLogger(log)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestNewRequiresSigner(t *testing.T) {
	_, err := New(context.Background(), Config{}, memorystore.New())
	assert.Error(t, err)
	_, err = New(context.Background(), Config{Keys: jwtkit.StaticKeySource{}}, nil)
	assert.Error(t, err)
}

func TestWalletSignIn(t *testing.T) {
	ctx := context.Background()
	log, hook := logtest.NewNullLogger()
	svc := newTestService(t, Config{}, WithSignInLogger(LogSignIns{Log: log}))

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := siws.PublicKeyToBase58(pub)

	nonce, msg, err := svc.WalletChallenge(ctx, address)
	require.NoError(t, err)
	require.NotEmpty(t, nonce)
	assert.Contains(t, msg, address)
	assert.Contains(t, msg, "app.example")

	sig := base58.Encode(ed25519.Sign(priv, []byte(msg)))
	sess, err := svc.WalletVerify(ctx, msg, sig, "127.0.0.1", "test")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	caller, err := svc.AuthenticateToken(ctx, sess.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, entitlements.Principal(address), caller.Principal)
	assert.Empty(t, caller.Roles)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "sign-in", hook.LastEntry().Message)

	_, err = svc.WalletVerify(ctx, msg, sig, "", "")
	assert.ErrorIs(t, err, siws.ErrUnknownNonce, "nonce is single use")
}

func TestWalletVerifyRejectsBadSignatures(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{})
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, msg, err := svc.WalletChallenge(ctx, siws.PublicKeyToBase58(pub))
	require.NoError(t, err)

	_, err = svc.WalletVerify(ctx, msg, "not-base58-0OIl", "", "")
	assert.ErrorIs(t, err, ErrBadSignature)

	_, other, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = svc.WalletVerify(ctx, msg, base58.Encode(ed25519.Sign(other, []byte(msg))), "", "")
	assert.ErrorIs(t, err, siws.ErrBadSignature)
}

func TestWalletChallengeRejectsBadAddress(t *testing.T) {
	svc := newTestService(t, Config{})
	_, _, err := svc.WalletChallenge(context.Background(), "nope")
	assert.Error(t, err)
}

func TestAuthenticateTokenFromAcceptedIssuer(t *testing.T) {
	ctx := context.Background()
	issuer := subtest.NewTestIssuer()
	defer issuer.Close()

	svc := newTestService(t, Config{Accept: AcceptConfig{Issuers: []IssuerAccept{{
		Issuer:   issuer.URL(),
		Audience: issuer.Audience(),
		JWKSURL:  issuer.JWKSURL(),
	}}}})

	caller, err := svc.AuthenticateToken(ctx, issuer.CreateOperatorToken("billing"))
	require.NoError(t, err)
	assert.Equal(t, entitlements.Principal("billing"), caller.Principal)
	assert.True(t, caller.HasRole(entitlements.RoleOperator))

	require.NoError(t, svc.Ledger().Mint(ctx, caller, 1, "alice"))
	ent, err := svc.Ledger().Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, entitlements.Principal("alice"), ent.Owner)

	_, err = svc.AuthenticateToken(ctx, issuer.CreateExpiredToken("billing"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	_, err = svc.AuthenticateToken(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateAPIKey(t *testing.T) {
	secret, err := apikey.Generate()
	require.NoError(t, err)
	hash, err := apikey.HashArgon2id(secret)
	require.NoError(t, err)

	svc := newTestService(t, Config{APIKeys: []apikey.Key{{
		Name: "billing", Hash: hash, Principal: "billing-svc", Roles: []string{entitlements.RoleOperator},
	}}})

	caller, name, err := svc.AuthenticateAPIKey(" " + secret + " ")
	require.NoError(t, err)
	assert.Equal(t, "billing", name)
	assert.Equal(t, entitlements.Principal("billing-svc"), caller.Principal)

	_, _, err = svc.AuthenticateAPIKey("slk_wrong")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestCustomOperatorRoles(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, Config{OperatorRoles: []string{"billing"}})
	billing := entitlements.Caller{Principal: "svc", Roles: []string{"billing"}}
	builtin := entitlements.Caller{Principal: "svc2", Roles: []string{entitlements.RoleOperator}}
	require.NoError(t, svc.Ledger().Mint(ctx, billing, 1, "alice"))
	require.NoError(t, svc.Ledger().Mint(ctx, builtin, 2, "alice"))
}

func TestEventsReachSinks(t *testing.T) {
	ctx := context.Background()
	sink := &events{}
	failing := entitlements.EventSinkFunc(func(context.Context, entitlements.Event) error { return errors.New("down") })
	svc := newTestService(t, Config{}, WithEventSink(sink), WithEventSink(failing))

	alice := entitlements.Caller{Principal: "alice"}
	require.NoError(t, svc.Ledger().Mint(ctx, alice, 9, ""))
	_, err := svc.Ledger().RenewSubscription(ctx, alice, 9, 60)
	require.NoError(t, err)

	require.Len(t, sink.got, 2)
	assert.Equal(t, entitlements.EventMinted, sink.got[0].Kind)
	assert.Equal(t, entitlements.EventUpdated, sink.got[1].Kind)
}

func TestFromConfig(t *testing.T) {
	c := config.Default()
	c.Auth.OperatorRoles = []string{"billing"}
	c.Auth.Accept = []config.AcceptIssuer{{Issuer: "https://idp", JWKSURL: "https://idp/jwks", Audience: "subledger"}}
	c.Auth.APIKeys = []config.APIKey{{Name: "k", Hash: "h", Principal: " svc ", Roles: []string{"r"}}}
	c.SIWS.URI = "https://app.example"

	got := FromConfig(c, nil)
	assert.Equal(t, "subledger", got.Issuer)
	assert.Equal(t, time.Hour, got.SessionTTL)
	assert.Equal(t, c.Auth.Skew, got.Accept.Skew)
	require.Len(t, got.Accept.Issuers, 1)
	assert.Equal(t, "https://idp/jwks", got.Accept.Issuers[0].JWKSURL)
	require.Len(t, got.APIKeys, 1)
	assert.Equal(t, entitlements.Principal(" svc "), got.APIKeys[0].Principal)
	assert.Equal(t, "https://app.example", got.Wallet.URI)
	assert.Equal(t, 15*time.Minute, got.Wallet.ChallengeTTL)
}

func TestAuditSinkLogs(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	require.NoError(t, AuditSink{Log: log}.Publish(context.Background(), entitlements.Event{ID: "e", TokenID: 3}))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, entitlements.TokenID(3), hook.LastEntry().Data["token_id"])
}
