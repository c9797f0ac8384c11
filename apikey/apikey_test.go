package apikey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/PaulFidika/subledger/entitlements"
)

func TestArgon2idRoundTrip(t *testing.T) {
	h, err := HashArgon2id("s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, "$argon2id$v=19$"))

	ok, err := Verify(h, "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(h, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptVerify(t *testing.T) {
	b, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	h := string(b)
	assert.True(t, IsBcryptHash(h))

	ok, err := Verify(h, "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(h, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsUnknownFormat(t *testing.T) {
	_, err := Verify("plaintext", "plaintext")
	assert.Error(t, err)
	_, err = VerifyArgon2id("$argon2id$broken", "x")
	assert.Error(t, err)
}

func TestGenerate(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a, KeyPrefix))
	assert.NotEqual(t, a, b)
}

func TestKeyring(t *testing.T) {
	secret, err := Generate()
	require.NoError(t, err)
	h, err := HashArgon2id(secret)
	require.NoError(t, err)

	kr, err := NewKeyring([]Key{{Name: "billing", Hash: h, Principal: "billing-svc", Roles: []string{entitlements.RoleOperator}}})
	require.NoError(t, err)
	assert.Equal(t, 1, kr.Len())

	for i := 0; i < 2; i++ {
		caller, name, err := kr.Authenticate(secret)
		require.NoError(t, err)
		assert.Equal(t, "billing", name)
		assert.Equal(t, entitlements.Principal("billing-svc"), caller.Principal)
		assert.True(t, caller.HasRole(entitlements.RoleOperator))
	}

	_, _, err = kr.Authenticate("slk_wrong")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, _, err = kr.Authenticate("")
	assert.ErrorIs(t, err, ErrInvalidKey)

	var nilRing *Keyring
	_, _, err = nilRing.Authenticate(secret)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewKeyringValidates(t *testing.T) {
	_, err := NewKeyring([]Key{{Name: "x", Hash: "plain", Principal: "p"}})
	assert.Error(t, err)
	_, err = NewKeyring([]Key{{Name: "", Hash: "$2a$10$abc", Principal: "p"}})
	assert.Error(t, err)
}
