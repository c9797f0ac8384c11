package siws

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
)

const testAddress = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"

var fixedNow = time.Date(2025, 12, 5, 11, 0, 0, 0, time.UTC)

func TestConstructMessage(t *testing.T) {
	input := SignInInput{
		Domain:         "ledger.example.com",
		Address:        testAddress,
		Statement:      strPtr("Sign in to manage your subscriptions."),
		URI:            strPtr("https://ledger.example.com"),
		Version:        strPtr("1"),
		ChainID:        strPtr("mainnet"),
		Nonce:          "abc12345",
		IssuedAt:       "2025-12-05T11:00:00Z",
		ExpirationTime: strPtr("2025-12-05T12:00:00Z"),
	}

	msg := ConstructMessage(input)

	for _, want := range []string{
		"ledger.example.com wants you to sign in with your Solana account:",
		testAddress,
		"Sign in to manage your subscriptions.",
		"URI: https://ledger.example.com",
		"Chain ID: mainnet",
		"Nonce: abc12345",
		"Issued At: 2025-12-05T11:00:00Z",
		"Expiration Time: 2025-12-05T12:00:00Z",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}

func TestConstructMessageMinimal(t *testing.T) {
	input := SignInInput{
		Domain:   "ledger.example.com",
		Address:  testAddress,
		Nonce:    "abc12345",
		IssuedAt: "2025-12-05T11:00:00Z",
	}

	expected := `ledger.example.com wants you to sign in with your Solana account:
7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU

Nonce: abc12345
Issued At: 2025-12-05T11:00:00Z`

	if msg := ConstructMessage(input); msg != expected {
		t.Errorf("minimal message mismatch:\ngot:\n%s\n\nwant:\n%s", msg, expected)
	}
}

func TestParseMessageRoundTrip(t *testing.T) {
	original := SignInInput{
		Domain:         "ledger.example.com",
		Address:        testAddress,
		Statement:      strPtr("Sign in"),
		URI:            strPtr("https://ledger.example.com"),
		Version:        strPtr("1"),
		ChainID:        strPtr("devnet"),
		Nonce:          "abc12345",
		IssuedAt:       "2025-12-05T11:00:00Z",
		ExpirationTime: strPtr("2025-12-05T12:00:00Z"),
		RequestID:      strPtr("req-1"),
		Resources:      []string{"https://ledger.example.com/entitlements/1", "https://ledger.example.com/entitlements/2"},
	}

	parsed, err := ParseMessage(ConstructMessage(original))
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed.Domain != original.Domain || parsed.Address != original.Address {
		t.Errorf("header mismatch: %+v", parsed)
	}
	if parsed.Nonce != original.Nonce || parsed.IssuedAt != original.IssuedAt {
		t.Errorf("nonce/issuedAt mismatch: %+v", parsed)
	}
	if parsed.Statement == nil || *parsed.Statement != "Sign in" {
		t.Errorf("statement mismatch: %v", parsed.Statement)
	}
	if parsed.ChainID == nil || *parsed.ChainID != "devnet" {
		t.Errorf("chain id mismatch: %v", parsed.ChainID)
	}
	if parsed.RequestID == nil || *parsed.RequestID != "req-1" {
		t.Errorf("request id mismatch: %v", parsed.RequestID)
	}
	if len(parsed.Resources) != 2 {
		t.Errorf("resources mismatch: %v", parsed.Resources)
	}
	if ConstructMessage(parsed) != ConstructMessage(original) {
		t.Error("re-rendered message differs from original")
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	for _, msg := range []string{
		"",
		"hello",
		"example.com wants you to sign in with your Ethereum account:\naddr\n\nNonce: x\nIssued At: y",
		"example.com wants you to sign in with your Solana account:\naddr\n\nIssued At: y",
	} {
		if _, err := ParseMessage(msg); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseMessage(%q) err = %v, want ErrMalformed", msg, err)
		}
	}
}

func TestGenerateNonce(t *testing.T) {
	nonce1, err := GenerateNonce()
	if err != nil {
		t.Fatalf("failed to generate nonce: %v", err)
	}
	if len(nonce1) < 8 {
		t.Errorf("nonce too short: %d chars", len(nonce1))
	}
	nonce2, err := GenerateNonce()
	if err != nil {
		t.Fatalf("failed to generate second nonce: %v", err)
	}
	if nonce1 == nonce2 {
		t.Error("nonces should be unique")
	}
}

func TestNewSignInInput(t *testing.T) {
	input, err := NewSignInInput("ledger.example.com", testAddress, fixedNow,
		WithStatement("Test sign in"),
		WithChainID("devnet"),
		WithExpirationDuration(5*time.Minute),
	)
	if err != nil {
		t.Fatalf("failed to create input: %v", err)
	}
	if input.IssuedAt != "2025-12-05T11:00:00Z" {
		t.Errorf("wrong issuedAt: %s", input.IssuedAt)
	}
	if input.ExpirationTime == nil || *input.ExpirationTime != "2025-12-05T11:05:00Z" {
		t.Errorf("wrong expiration: %v", input.ExpirationTime)
	}
	if input.Statement == nil || *input.Statement != "Test sign in" {
		t.Error("statement not set")
	}
	if input.ChainID == nil || *input.ChainID != "devnet" {
		t.Error("chainID not set")
	}
}

func TestBase58ToPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	decoded, err := Base58ToPublicKey(PublicKeyToBase58(pub))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !pub.Equal(decoded) {
		t.Error("public key mismatch after round-trip")
	}
}

func TestValidateAddress(t *testing.T) {
	if err := ValidateAddress(testAddress); err != nil {
		t.Errorf("valid address rejected: %v", err)
	}
	if err := ValidateAddress("abc"); err == nil {
		t.Error("short address accepted")
	}
	if err := ValidateAddress("0OIl"); err == nil {
		t.Error("invalid base58 accepted")
	}
}

func signedOutput(t *testing.T, input SignInInput, priv ed25519.PrivateKey, pub ed25519.PublicKey) SignInOutput {
	t.Helper()
	msg := []byte(ConstructMessage(input))
	return SignInOutput{
		Account:       AccountInfo{Address: PublicKeyToBase58(pub), PublicKey: pub},
		Signature:     ed25519.Sign(priv, msg),
		SignedMessage: msg,
	}
}

func TestVerifySignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	input, err := NewSignInInput("ledger.example.com", PublicKeyToBase58(pub), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	out := signedOutput(t, input, priv, pub)
	if err := VerifySignature(out); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	out.Account.PublicKey = nil
	if err := VerifySignature(out); err != nil {
		t.Errorf("signature rejected when key derived from address: %v", err)
	}

	out.Signature[0] ^= 0xFF
	if err := VerifySignature(out); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered signature err = %v", err)
	}
}

func TestVerify(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	input, err := NewSignInInput("ledger.example.com", PublicKeyToBase58(pub), fixedNow, WithStatement("Test"))
	if err != nil {
		t.Fatal(err)
	}
	out := signedOutput(t, input, priv, pub)
	if err := Verify(input, out); err != nil {
		t.Errorf("valid verify failed: %v", err)
	}

	bad := input
	bad.Address = "DifferentAddress12345678901234567890123456789"
	if err := Verify(bad, out); !errors.Is(err, ErrAddressMismatch) {
		t.Errorf("address mismatch err = %v", err)
	}
}

func TestValidateTimestamps(t *testing.T) {
	exp := fixedNow.Add(10 * time.Minute).Format(time.RFC3339)
	input := SignInInput{IssuedAt: fixedNow.Format(time.RFC3339), ExpirationTime: &exp}
	if err := ValidateTimestamps(input, fixedNow); err != nil {
		t.Errorf("valid timestamps rejected: %v", err)
	}

	if err := ValidateTimestamps(input, fixedNow.Add(11*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Errorf("expired message err = %v", err)
	}

	input.ExpirationTime = nil
	nb := fixedNow.Add(10 * time.Minute).Format(time.RFC3339)
	input.NotBefore = &nb
	if err := ValidateTimestamps(input, fixedNow); !errors.Is(err, ErrNotYet) {
		t.Errorf("not-yet-valid message err = %v", err)
	}
}

type mapCache struct {
	mu sync.Mutex
	m  map[string]ChallengeData
}

func (c *mapCache) Put(_ context.Context, k string, v ChallengeData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[string]ChallengeData{}
	}
	c.m[k] = v
	return nil
}

func (c *mapCache) Get(_ context.Context, k string) (ChallengeData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	return v, ok, nil
}

func (c *mapCache) Take(_ context.Context, k string) (ChallengeData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	delete(c.m, k)
	return v, ok, nil
}

func TestAuthenticatorChallengeAndComplete(t *testing.T) {
	ctx := context.Background()
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	addr := PublicKeyToBase58(pub)
	now := fixedNow
	auth := &Authenticator{Domain: "ledger.example.com", Cache: &mapCache{}, Now: func() time.Time { return now }}

	input, msg, err := auth.Challenge(ctx, addr)
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if input.Statement == nil || *input.Statement != DefaultStatement {
		t.Errorf("default statement not applied: %v", input.Statement)
	}

	sig := ed25519.Sign(priv, []byte(msg))
	decoded, err := DecodeSignature(base58.Encode(sig))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}

	got, err := auth.Complete(ctx, msg, decoded)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != addr {
		t.Errorf("address = %s, want %s", got, addr)
	}

	if _, err := auth.Complete(ctx, msg, decoded); !errors.Is(err, ErrUnknownNonce) {
		t.Errorf("replayed challenge err = %v, want ErrUnknownNonce", err)
	}
}

func TestAuthenticatorConcurrentReplaySucceedsOnce(t *testing.T) {
	ctx := context.Background()
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	auth := &Authenticator{Domain: "ledger.example.com", Cache: &mapCache{}, Now: func() time.Time { return fixedNow }}

	_, msg, err := auth.Challenge(ctx, PublicKeyToBase58(pub))
	if err != nil {
		t.Fatal(err)
	}
	sig := ed25519.Sign(priv, []byte(msg))

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := auth.Complete(ctx, msg, sig)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, ErrUnknownNonce) {
				t.Errorf("replay err = %v, want ErrUnknownNonce", err)
			}
		}()
	}
	wg.Wait()
	if success != 1 {
		t.Errorf("successful completions = %d, want 1", success)
	}
}

func TestAuthenticatorForgedAttemptKeepsNonce(t *testing.T) {
	ctx := context.Background()
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	auth := &Authenticator{Domain: "ledger.example.com", Cache: &mapCache{}, Now: func() time.Time { return fixedNow }}

	_, msg, err := auth.Challenge(ctx, PublicKeyToBase58(pub))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Complete(ctx, msg, ed25519.Sign(otherPriv, []byte(msg))); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("forged err = %v", err)
	}
	if _, err := auth.Complete(ctx, msg, ed25519.Sign(priv, []byte(msg))); err != nil {
		t.Errorf("genuine signer after forged attempt: %v", err)
	}
}

func TestAuthenticatorRejectsForeignSigner(t *testing.T) {
	ctx := context.Background()
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	_, otherPriv, _ := ed25519.GenerateKey(rand.Reader)
	auth := &Authenticator{Domain: "ledger.example.com", Cache: &mapCache{}, Now: func() time.Time { return fixedNow }}

	_, msg, err := auth.Challenge(ctx, PublicKeyToBase58(pub))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := auth.Complete(ctx, msg, ed25519.Sign(otherPriv, []byte(msg))); !errors.Is(err, ErrBadSignature) {
		t.Errorf("foreign signer err = %v, want ErrBadSignature", err)
	}
}

func TestAuthenticatorRejectsExpiredChallenge(t *testing.T) {
	ctx := context.Background()
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	now := fixedNow
	auth := &Authenticator{Domain: "ledger.example.com", Cache: &mapCache{}, Now: func() time.Time { return now }}

	_, msg, err := auth.Challenge(ctx, PublicKeyToBase58(pub))
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := auth.Complete(ctx, msg, ed25519.Sign(priv, []byte(msg))); !errors.Is(err, ErrExpired) {
		t.Errorf("expired challenge err = %v, want ErrExpired", err)
	}
}
