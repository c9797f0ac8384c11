package jwtkit

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultKeysPath is where mounted secrets provide keys.json.
	DefaultKeysPath = "/vault/subledger"
	// DefaultDevKeysDir holds generated development keys between restarts.
	DefaultDevKeysDir = ".runtime/subledger"

	EnvKeyID         = "SUBLEDGER_JWT_KEY_ID"
	EnvPrivateKeyPEM = "SUBLEDGER_JWT_PRIVATE_KEY_PEM"
	EnvPublicKeys    = "SUBLEDGER_JWT_PUBLIC_KEYS"

	privateKeyFile = "private.pem"
	keyIDFile      = "kid"
)

// KeySource provides the active signer and public keys for JWKS.
type KeySource interface {
	ActiveSigner() Signer
	PublicKeys() map[string]*rsa.PublicKey
}

// StaticKeySource is a simple in-memory implementation.
type StaticKeySource struct {
	Active Signer
	Pubs   map[string]*rsa.PublicKey
}

func (s StaticKeySource) ActiveSigner() Signer                  { return s.Active }
func (s StaticKeySource) PublicKeys() map[string]*rsa.PublicKey { return s.Pubs }

// NewStaticKeySource wraps a single signer.
func NewStaticKeySource(s *RSASigner) StaticKeySource {
	return StaticKeySource{Active: s, Pubs: map[string]*rsa.PublicKey{s.KID(): s.PublicKey()}}
}

// AutoKeyOptions controls key discovery in NewAutoKeySource.
type AutoKeyOptions struct {
	KeysPath   string
	DevKeysDir string
	// Production disables key generation.
	Production bool
	Log        logrus.FieldLogger
}

// NewAutoKeySource discovers signing keys, in priority order, from:
//  1. SUBLEDGER_JWT_KEY_ID / SUBLEDGER_JWT_PRIVATE_KEY_PEM / SUBLEDGER_JWT_PUBLIC_KEYS
//  2. <KeysPath>/keys.json
//  3. generated keys persisted under DevKeysDir (never in production)
//
// Explicitly provided but unparsable keys are an error.
func NewAutoKeySource(opts AutoKeyOptions) (KeySource, error) {
	if opts.KeysPath == "" {
		opts.KeysPath = DefaultKeysPath
	}
	if opts.DevKeysDir == "" {
		opts.DevKeysDir = DefaultDevKeysDir
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}

	if ks, err := keysFromEnv(opts.Log); err != nil {
		return nil, fmt.Errorf("load keys from environment: %w", err)
	} else if ks != nil {
		return ks, nil
	}
	if ks, err := keysFromFile(opts.KeysPath, opts.Log); err != nil {
		return nil, fmt.Errorf("load keys from %s: %w", opts.KeysPath, err)
	} else if ks != nil {
		return ks, nil
	}
	if opts.Production {
		return nil, fmt.Errorf("no JWT keys in env or %s and generation is disabled in production", opts.KeysPath)
	}
	return devKeySource(opts.DevKeysDir, opts.Log)
}

// keysFromEnv returns (nil, nil) when the variables are unset.
func keysFromEnv(log logrus.FieldLogger) (KeySource, error) {
	kid := strings.TrimSpace(os.Getenv(EnvKeyID))
	priv := strings.TrimSpace(os.Getenv(EnvPrivateKeyPEM))
	switch {
	case kid == "" && priv == "":
		return nil, nil
	case kid == "":
		return nil, fmt.Errorf("%s is set but %s is missing", EnvPrivateKeyPEM, EnvKeyID)
	case priv == "":
		return nil, fmt.Errorf("%s is set but %s is missing", EnvKeyID, EnvPrivateKeyPEM)
	}
	var extra map[string]string
	if raw := strings.TrimSpace(os.Getenv(EnvPublicKeys)); raw != "" {
		if err := json.Unmarshal([]byte(raw), &extra); err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvPublicKeys, err)
		}
	}
	return buildKeySource(kid, []byte(priv), extra, log)
}

// keysFromFile returns (nil, nil) when keys.json does not exist.
func keysFromFile(dir string, log logrus.FieldLogger) (KeySource, error) {
	data, err := os.ReadFile(filepath.Join(dir, "keys.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc struct {
		ActiveKeyID         string            `json:"active_key_id"`
		ActivePrivateKeyPEM string            `json:"active_private_key_pem"`
		PublicKeys          map[string]string `json:"public_keys"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse keys.json: %w", err)
	}
	if doc.ActiveKeyID == "" || doc.ActivePrivateKeyPEM == "" {
		return nil, errors.New("keys.json needs active_key_id and active_private_key_pem")
	}
	return buildKeySource(doc.ActiveKeyID, []byte(doc.ActivePrivateKeyPEM), doc.PublicKeys, log)
}

// buildKeySource parses the active key plus any retired public keys still accepted for
// verification. Unparsable retired keys are skipped with a warning.
func buildKeySource(kid string, privPEM []byte, extra map[string]string, log logrus.FieldLogger) (KeySource, error) {
	signer, err := NewRSASignerFromPEM(kid, privPEM)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	ks := NewStaticKeySource(signer)
	for id, p := range extra {
		pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(p))
		if err != nil {
			log.WithError(err).WithField("kid", id).Warn("skipping unparsable public key")
			continue
		}
		ks.Pubs[id] = pub
	}
	return ks, nil
}

// devKeySource reuses keys persisted in dir or generates and persists a new pair.
func devKeySource(dir string, log logrus.FieldLogger) (KeySource, error) {
	if pemBytes, err := os.ReadFile(filepath.Join(dir, privateKeyFile)); err == nil {
		kid := "dev"
		if b, err := os.ReadFile(filepath.Join(dir, keyIDFile)); err == nil && strings.TrimSpace(string(b)) != "" {
			kid = strings.TrimSpace(string(b))
		}
		if s, err := NewRSASignerFromPEM(kid, pemBytes); err == nil {
			return NewStaticKeySource(s), nil
		}
	}

	kid := fmt.Sprintf("dev-%d", time.Now().Unix())
	s, err := NewRSASigner(2048, kid)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	if err := persistDevKey(dir, s); err != nil {
		log.WithError(err).Warn("dev signing key not persisted; sessions will not survive a restart")
	}
	return NewStaticKeySource(s), nil
}

func persistDevKey(dir string, s *RSASigner) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create keys directory: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(s.PrivateKey()),
	})
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyIDFile), []byte(s.KID()), 0o600); err != nil {
		return fmt.Errorf("write key id: %w", err)
	}
	return nil
}
