// Package core wires the entitlement ledger to its callers: wallet sign-in, session tokens,
// accepted third-party tokens and operator API keys all resolve to an entitlements.Caller.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PaulFidika/subledger/apikey"
	"github.com/PaulFidika/subledger/entitlements"
	jwtkit "github.com/PaulFidika/subledger/jwt"
	"github.com/PaulFidika/subledger/siws"
	memorystore "github.com/PaulFidika/subledger/storage/memory"
	redisstore "github.com/PaulFidika/subledger/storage/redis"
)

var (
	// ErrUnauthenticated is returned when no credential could be verified.
	ErrUnauthenticated = errors.New("core: unauthenticated")
	// ErrBadSignature is returned when a wallet signature cannot be decoded.
	ErrBadSignature = errors.New("core: malformed signature")
)

// Session is a signed access token issued after wallet sign-in.
type Session struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Service owns the ledger and every way of authenticating against it.
type Service struct {
	cfg      Config
	backend  entitlements.Backend
	ledger   *entitlements.Ledger
	verifier jwtkit.TokenVerifier
	wallets  *siws.Authenticator
	keyring  *apikey.Keyring
	signins  SignInLogger
	log      logrus.FieldLogger
	clock    entitlements.Clock

	rd       redis.UniversalClient
	rdPrefix string
	sinks    []entitlements.EventSink
	closers  []func() error
	cancel   context.CancelFunc
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(c entitlements.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithRedis shares wallet challenges across replicas. Without it challenges live in memory.
func WithRedis(rdb redis.UniversalClient, prefix string) Option {
	return func(s *Service) { s.rd, s.rdPrefix = rdb, prefix }
}

// WithEventSink adds a destination for ledger events. Events are always written to the
// audit log as well.
func WithEventSink(sink entitlements.EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

func WithSignInLogger(l SignInLogger) Option {
	return func(s *Service) { s.signins = l }
}

// New builds the service over backend. ctx bounds background work such as JWKS refresh for
// accepted issuers; Close stops it as well.
func New(ctx context.Context, cfg Config, backend entitlements.Backend, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("core: backend is required")
	}
	if cfg.Keys == nil || cfg.Keys.ActiveSigner() == nil {
		return nil, errors.New("core: a key source with an active signer is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}
	s := &Service{
		cfg:     cfg,
		backend: backend,
		log:     logrus.StandardLogger(),
		clock:   entitlements.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signins == nil {
		s.signins = LogSignIns{Log: s.log}
	}

	keyring, err := apikey.NewKeyring(cfg.APIKeys)
	if err != nil {
		return nil, err
	}
	s.keyring = keyring

	ctx, s.cancel = context.WithCancel(ctx)
	verifiers := jwtkit.MultiVerifier{
		jwtkit.NewVerifier(cfg.Keys, cfg.Issuer, cfg.Audience, jwtkit.WithSkew(cfg.Skew), jwtkit.WithTimeFunc(s.clock.Now)),
	}
	remote, err := cfg.Accept.verifiers(ctx)
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.verifier = append(verifiers, remote...)

	s.wallets = &siws.Authenticator{
		Domain:    cfg.Wallet.Domain,
		Statement: cfg.Wallet.Statement,
		Cache:     s.challengeCache(),
		Now:       s.clock.Now,
	}

	sink := entitlements.MultiSink{AuditSink{Log: s.log}}
	sink = append(sink, s.sinks...)
	s.ledger = entitlements.New(backend, backend,
		entitlements.WithClock(s.clock),
		entitlements.WithLogger(s.log),
		entitlements.WithEventSink(sink),
		entitlements.WithOperatorRoles(append([]string{entitlements.RoleOperator}, cfg.OperatorRoles...)...),
	)
	return s, nil
}

func (s *Service) challengeCache() siws.ChallengeCache {
	if s.rd != nil {
		return redisstore.NewChallengeCache(s.rd, s.rdPrefix+"siws:nonce:", s.cfg.Wallet.ChallengeTTL)
	}
	c := memorystore.NewChallengeCache(s.cfg.Wallet.ChallengeTTL).WithClock(s.clock.Now)
	s.closers = append(s.closers, c.Close)
	return c
}

// Ledger returns the entitlement ledger.
func (s *Service) Ledger() *entitlements.Ledger { return s.ledger }

// Backend returns the storage the ledger runs on.
func (s *Service) Backend() entitlements.Backend { return s.backend }

// Keys returns the session signing keys.
func (s *Service) Keys() jwtkit.KeySource { return s.cfg.Keys }

// JWKS returns the public keys that verify session tokens.
func (s *Service) JWKS() jwtkit.JWKS { return jwtkit.JWKSFromKeySource(s.cfg.Keys) }

// Close stops background work and releases in-process caches. It does not close the backend.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// AuthenticateToken verifies a bearer token from this service or any accepted issuer.
func (s *Service) AuthenticateToken(ctx context.Context, raw string) (entitlements.Caller, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return entitlements.Caller{}, ErrUnauthenticated
	}
	cl, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		s.log.WithError(err).Debug("bearer token rejected")
		return entitlements.Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	p := entitlements.Principal(cl.Subject).Normalize()
	if p == "" {
		return entitlements.Caller{}, ErrUnauthenticated
	}
	return entitlements.Caller{Principal: p, Roles: cl.Roles}, nil
}

// AuthenticateAPIKey maps an operator API key to its configured caller. It also returns the
// key name for logging.
func (s *Service) AuthenticateAPIKey(secret string) (entitlements.Caller, string, error) {
	caller, name, err := s.keyring.Authenticate(strings.TrimSpace(secret))
	if err != nil {
		return entitlements.Caller{}, "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return caller, name, nil
}

// WalletChallenge creates a sign-in message for address and returns it with its nonce.
func (s *Service) WalletChallenge(ctx context.Context, address string) (string, string, error) {
	var opts []siws.InputOption
	if s.cfg.Wallet.URI != "" {
		opts = append(opts, siws.WithURI(s.cfg.Wallet.URI))
	}
	if s.cfg.Wallet.ChainID != "" {
		opts = append(opts, siws.WithChainID(s.cfg.Wallet.ChainID))
	}
	if s.cfg.Wallet.ChallengeTTL > 0 {
		opts = append(opts, siws.WithExpirationDuration(s.cfg.Wallet.ChallengeTTL))
	}
	input, msg, err := s.wallets.Challenge(ctx, strings.TrimSpace(address), opts...)
	if err != nil {
		return "", "", err
	}
	return input.Nonce, msg, nil
}

// WalletVerify checks a signed challenge (base58 signature) and issues a session whose
// principal is the wallet address.
func (s *Service) WalletVerify(ctx context.Context, message, signature, ip, userAgent string) (Session, error) {
	sig, err := siws.DecodeSignature(strings.TrimSpace(signature))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	address, err := s.wallets.Complete(ctx, message, sig)
	if err != nil {
		return Session{}, err
	}
	principal := entitlements.Principal(address)
	sess, err := s.IssueSession(ctx, principal)
	if err != nil {
		return Session{}, err
	}
	s.signins.LogSignIn(ctx, principal, "siws", ip, userAgent)
	return sess, nil
}

// IssueSession signs a session token for principal. Sessions never carry roles; operator
// rights come from API keys or accepted issuers.
func (s *Service) IssueSession(ctx context.Context, principal entitlements.Principal) (Session, error) {
	tok, exp, err := jwtkit.IssueSession(ctx, s.cfg.Keys.ActiveSigner(), jwtkit.SessionRequest{
		Issuer:    s.cfg.Issuer,
		Audience:  s.cfg.Audience,
		Principal: string(principal.Normalize()),
		TTL:       s.cfg.SessionTTL,
		Now:       s.clock.Now(),
	})
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: tok, ExpiresAt: exp}, nil
}

// SessionTTL reports how long issued sessions live.
func (s *Service) SessionTTL() time.Duration { return s.cfg.SessionTTL }

// Log returns the service logger for adapters.
func (s *Service) Log() logrus.FieldLogger { return s.log }
