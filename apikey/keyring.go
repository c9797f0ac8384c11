package apikey

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/PaulFidika/subledger/entitlements"
)

var ErrInvalidKey = errors.New("apikey: invalid key")

// Key is one configured API key.
type Key struct {
	Name string
	// Hash is an argon2id PHC string or a bcrypt hash of the secret.
	Hash      string
	Principal entitlements.Principal
	Roles     []string
}

// Keyring checks presented secrets against configured hashes. Successful lookups are
// memoised by SHA-256 of the secret so repeat requests skip the slow hash.
type Keyring struct {
	keys []Key

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]int
}

// NewKeyring validates every hash format up front.
func NewKeyring(keys []Key) (*Keyring, error) {
	for _, k := range keys {
		if k.Name == "" || k.Principal.IsZero() {
			return nil, errors.New("apikey: key needs a name and a principal")
		}
		if !IsBcryptHash(k.Hash) && !isArgon(k.Hash) {
			return nil, errors.New("apikey: key " + k.Name + " has an unsupported hash")
		}
	}
	return &Keyring{keys: keys, verified: make(map[[sha256.Size]byte]int)}, nil
}

func isArgon(h string) bool {
	_, _, _, err := phcDecode(h)
	return err == nil
}

// Len reports the number of configured keys.
func (k *Keyring) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

// Authenticate maps a presented secret to the caller it represents.
func (k *Keyring) Authenticate(secret string) (entitlements.Caller, string, error) {
	if k == nil || secret == "" {
		return entitlements.Caller{}, "", ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(secret))
	k.mu.RLock()
	idx, ok := k.verified[digest]
	k.mu.RUnlock()
	if !ok {
		idx = -1
		for i, key := range k.keys {
			if match, err := Verify(key.Hash, secret); err == nil && match {
				idx = i
				break
			}
		}
		if idx < 0 {
			return entitlements.Caller{}, "", ErrInvalidKey
		}
		k.mu.Lock()
		k.verified[digest] = idx
		k.mu.Unlock()
	}
	key := k.keys[idx]
	return entitlements.Caller{Principal: key.Principal, Roles: key.Roles}, key.Name, nil
}
