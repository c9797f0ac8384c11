package authgin

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mr-tron/base58"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PaulFidika/subledger/adapters/ginutil"
	"github.com/PaulFidika/subledger/apikey"
	core "github.com/PaulFidika/subledger/core"
	"github.com/PaulFidika/subledger/entitlements"
	jwtkit "github.com/PaulFidika/subledger/jwt"
	memorylimiter "github.com/PaulFidika/subledger/ratelimit/memory"
	"github.com/PaulFidika/subledger/siws"
	memorystore "github.com/PaulFidika/subledger/storage/memory"
	subtest "github.com/PaulFidika/subledger/testing"
)

type harness struct {
	t      *testing.T
	svc    *core.Service
	router *gin.Engine
	clock  *subtest.FakeClock
	apiKey string
}

func newHarness(t *testing.T, rl ginutil.RateLimiter) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	signer, err := jwtkit.NewRSASigner(2048, "local")
	require.NoError(t, err)
	secret, err := apikey.Generate()
	require.NoError(t, err)
	hash, err := apikey.HashArgon2id(secret)
	require.NoError(t, err)

	clock := subtest.NewFakeClock(time.Time{})
	log, _ := logtest.NewNullLogger()
	svc, err := core.New(context.Background(), core.Config{
		Issuer:   "subledger",
		Audience: "subledger",
		Keys:     jwtkit.NewStaticKeySource(signer),
		APIKeys: []apikey.Key{{
			Name: "billing", Hash: hash, Principal: "billing-svc", Roles: []string{entitlements.RoleOperator},
		}},
		Wallet: core.WalletConfig{Domain: "app.example"},
	}, memorystore.New(), core.WithClock(clock), core.WithLogger(log))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	r := gin.New()
	GinRegisterAPI(r, svc, rl)
	return &harness{t: t, svc: svc, router: r, clock: clock, apiKey: secret}
}

func (h *harness) token(p entitlements.Principal) string {
	h.t.Helper()
	sess, err := h.svc.IssueSession(context.Background(), p)
	require.NoError(h.t, err)
	return "Bearer " + sess.AccessToken
}

func (h *harness) do(method, path, auth string, body any) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	switch {
	case strings.HasPrefix(auth, "Bearer "):
		req.Header.Set("Authorization", auth)
	case auth != "":
		req.Header.Set(APIKeyHeader, auth)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealthzAndJWKS(t *testing.T) {
	h := newHarness(t, nil)
	w, body := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["ok"])

	w, body = h.do(http.MethodGet, "/.well-known/jwks.json", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["keys"], 1)
}

func TestRoutesRequireAuthentication(t *testing.T) {
	h := newHarness(t, nil)
	w, body := h.do(http.MethodPost, "/entitlements", "", map[string]any{"token_id": 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "missing_token", body["error"])

	w, _ = h.do(http.MethodGet, "/entitlements/1", "Bearer garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, body = h.do(http.MethodGet, "/entitlements/1", "slk_nope", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid_api_key", body["error"])
}

func TestSubscriptionLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.token("alice")
	now := float64(h.clock.Now().Unix())

	w, body := h.do(http.MethodPost, "/entitlements", alice, map[string]any{"token_id": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "alice", body["owner"])
	assert.Equal(t, float64(0), body["expires_at"])

	w, body = h.do(http.MethodPost, "/entitlements", alice, map[string]any{"token_id": "1"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_exists", body["error"])

	w, body = h.do(http.MethodGet, "/entitlements/1", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["active"])
	assert.Equal(t, true, body["renewable"])

	w, body = h.do(http.MethodPost, "/entitlements/1/renew", alice, map[string]any{"duration": 2592000})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, now+2592000, body["expires_at"])

	w, body = h.do(http.MethodGet, "/entitlements/1/expires-at", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, now+2592000, body["expires_at"])

	w, body = h.do(http.MethodGet, "/entitlements/1", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["active"])

	w, body = h.do(http.MethodPost, "/entitlements/1/renew", h.token("bob"), map[string]any{"duration": 10})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "unauthorized", body["error"])

	w, body = h.do(http.MethodPost, "/entitlements/1/cancel", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["expires_at"])

	w, body = h.do(http.MethodGet, "/entitlements/1/expires-at", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), body["expires_at"])
}

func TestRenewValidation(t *testing.T) {
	h := newHarness(t, nil)
	alice := h.token("alice")
	w, _ := h.do(http.MethodPost, "/entitlements", alice, map[string]any{"token_id": 5})
	require.Equal(t, http.StatusCreated, w.Code)

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"missing duration", "/entitlements/5/renew", map[string]any{}, http.StatusBadRequest, "invalid_request"},
		{"negative", "/entitlements/5/renew", map[string]any{"duration": -1}, http.StatusBadRequest, "invalid_argument"},
		{"overflow", "/entitlements/5/renew", map[string]any{"duration": int64(entitlements.MaxTimestamp)}, http.StatusUnprocessableEntity, "overflow"},
		{"bad id", "/entitlements/x/renew", map[string]any{"duration": 1}, http.StatusBadRequest, "invalid_token_id"},
		{"unknown id", "/entitlements/6/renew", map[string]any{"duration": 1}, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := h.do(http.MethodPost, tc.path, alice, tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, body["error"])
		})
	}
}

func TestOperatorAPIKeyMintsForRecipient(t *testing.T) {
	h := newHarness(t, nil)

	w, body := h.do(http.MethodPost, "/entitlements", h.token("alice"), map[string]any{"token_id": 2, "recipient": "carol"})
	assert.Equal(t, http.StatusForbidden, w.Code, "plain sessions cannot mint for others")
	assert.Equal(t, "unauthorized", body["error"])

	w, body = h.do(http.MethodPost, "/entitlements", h.apiKey, map[string]any{"token_id": 2, "recipient": "carol"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "carol", body["owner"])

	w, _ = h.do(http.MethodPost, "/entitlements/2/renew", h.apiKey, map[string]any{"duration": 60})
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = h.do(http.MethodGet, "/me", h.apiKey, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "billing-svc", body["principal"])
	assert.Equal(t, ginutil.SourceAPIKey, body["source"])
}

func TestDelegationRoutes(t *testing.T) {
	h := newHarness(t, nil)
	alice, bob, carol := h.token("alice"), h.token("bob"), h.token("carol")
	for _, id := range []int{1, 2} {
		w, _ := h.do(http.MethodPost, "/entitlements", alice, map[string]any{"token_id": id})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, _ := h.do(http.MethodPost, "/entitlements/1/approve", alice, map[string]any{"delegate": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = h.do(http.MethodPost, "/entitlements/1/renew", bob, map[string]any{"duration": 60})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = h.do(http.MethodPost, "/entitlements/2/renew", bob, map[string]any{"duration": 60})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body := h.do(http.MethodPut, "/principals/me/operators/carol", alice, map[string]any{"approved": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["approved"])
	w, _ = h.do(http.MethodPost, "/entitlements/2/cancel", carol, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = h.do(http.MethodPut, "/principals/me/operators/alice", alice, map[string]any{"approved": true})
	assert.Equal(t, http.StatusBadRequest, w.Code, "cannot approve self")

	w, body = h.do(http.MethodPost, "/entitlements/1/transfer", bob, map[string]any{"to": "dave"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dave", body["owner"])
	w, _ = h.do(http.MethodPost, "/entitlements/1/renew", bob, map[string]any{"duration": 60})
	assert.Equal(t, http.StatusForbidden, w.Code, "transfer clears the approval")

	w, body = h.do(http.MethodGet, "/principals/me/entitlements", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data, ok := body["data"].([]any)
	require.True(t, ok)
	require.Len(t, data, 1)
	assert.Equal(t, float64(2), data[0].(map[string]any)["token_id"])

	w, body = h.do(http.MethodGet, "/principals/dave/entitlements", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data, _ = body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, true, data[0].(map[string]any)["active"])
}

func TestMutationsAreRateLimited(t *testing.T) {
	rl := memorylimiter.New(map[string]memorylimiter.Limit{
		ginutil.RLMutate:  {Limit: 1, Window: time.Minute},
		ginutil.RLDefault: {Limit: 100, Window: time.Minute},
	})
	h := newHarness(t, rl)
	alice := h.token("alice")

	w, _ := h.do(http.MethodPost, "/entitlements", alice, map[string]any{"token_id": 1})
	require.Equal(t, http.StatusCreated, w.Code)
	w, body := h.do(http.MethodPost, "/entitlements/1/renew", alice, map[string]any{"duration": 1})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", body["error"])

	w, _ = h.do(http.MethodPost, "/entitlements", h.token("bob"), map[string]any{"token_id": 2})
	assert.Equal(t, http.StatusCreated, w.Code, "buckets are per principal")
}

func TestWalletSignInOverHTTP(t *testing.T) {
	h := newHarness(t, nil)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	address := siws.PublicKeyToBase58(pub)

	w, body := h.do(http.MethodPost, "/auth/wallet/challenge", "", map[string]any{"address": address})
	require.Equal(t, http.StatusOK, w.Code)
	msg, _ := body["message"].(string)
	require.NotEmpty(t, msg)

	w, _ = h.do(http.MethodPost, "/auth/wallet/challenge", "", map[string]any{"address": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sig := base58.Encode(ed25519.Sign(priv, []byte(msg)))
	w, body = h.do(http.MethodPost, "/auth/wallet/verify", "", map[string]any{"message": msg, "signature": sig})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, float64(3600), body["expires_in"])
	tok, _ := body["access_token"].(string)

	w, body = h.do(http.MethodPost, "/entitlements", "Bearer "+tok, map[string]any{"token_id": 77})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, address, body["owner"])

	w, body = h.do(http.MethodPost, "/auth/wallet/verify", "", map[string]any{"message": msg, "signature": sig})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "nonce already consumed")
	assert.Equal(t, "invalid_signature", body["error"])
}
