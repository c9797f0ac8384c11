// Package config loads subledgerd settings from a YAML file with SUBLEDGER_* environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Auth      AuthConfig      `yaml:"auth"`
	SIWS      SIWSConfig      `yaml:"siws"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Jobs      JobsConfig      `yaml:"jobs"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	// RedisURL backs the redis driver and, when set with any driver, the shared challenge
	// cache and rate limiter.
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type AuthConfig struct {
	Issuer        string         `yaml:"issuer"`
	Audience      string         `yaml:"audience"`
	SessionTTL    time.Duration  `yaml:"session_ttl"`
	Skew          time.Duration  `yaml:"skew"`
	KeysPath      string         `yaml:"keys_path"`
	DevKeysDir    string         `yaml:"dev_keys_dir"`
	Production    bool           `yaml:"production"`
	OperatorRoles []string       `yaml:"operator_roles"`
	Accept        []AcceptIssuer `yaml:"accept"`
	APIKeys       []APIKey       `yaml:"api_keys"`
}

// AcceptIssuer is a third-party token issuer whose JWTs are accepted.
type AcceptIssuer struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	PinnedRSAPEM string        `yaml:"pinned_rsa_pem"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// APIKey grants a service principal access with a hashed secret.
type APIKey struct {
	Name      string   `yaml:"name"`
	Hash      string   `yaml:"hash"`
	Principal string   `yaml:"principal"`
	Roles     []string `yaml:"roles"`
}

type SIWSConfig struct {
	Domain       string        `yaml:"domain"`
	URI          string        `yaml:"uri"`
	Statement    string        `yaml:"statement"`
	ChainID      string        `yaml:"chain_id"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
}

type RateLimitConfig struct {
	Enabled bool              `yaml:"enabled"`
	Buckets map[string]Bucket `yaml:"buckets"`
}

type Bucket struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type JobsConfig struct {
	// SweepSchedule is a cron spec; empty disables the lapse sweeper.
	SweepSchedule string `yaml:"sweep_schedule"`
	// River delivers ledger events through a durable queue. Requires the postgres driver.
	River        bool `yaml:"river"`
	RiverWorkers int  `yaml:"river_workers"`
	// WebhookURL receives every ledger event as a signed JSON POST.
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
}

// Default returns a configuration that runs a single in-memory node.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log:     LogConfig{Level: "info", Format: "json"},
		Storage: StorageConfig{Driver: DriverMemory, RedisPrefix: "subledger:"},
		Auth: AuthConfig{
			Issuer:     "subledger",
			Audience:   "subledger",
			SessionTTL: time.Hour,
			Skew:       30 * time.Second,
		},
		SIWS: SIWSConfig{Domain: "localhost", ChainID: "mainnet", ChallengeTTL: 15 * time.Minute},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Buckets: map[string]Bucket{
				"challenge": {Limit: 20, Window: time.Minute},
				"verify":    {Limit: 10, Window: time.Minute},
				"mutate":    {Limit: 120, Window: time.Minute},
				"default":   {Limit: 600, Window: time.Minute},
			},
		},
		Jobs: JobsConfig{SweepSchedule: "@every 1m", RiverWorkers: 10, WebhookTimeout: 5 * time.Second},
	}
}

// Load reads path (optional), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Parse(b, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML onto cfg, rejecting unknown keys.
func Parse(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from SUBLEDGER_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("SUBLEDGER_SERVER_ADDR", &c.Server.Addr)
	str("SUBLEDGER_LOG_LEVEL", &c.Log.Level)
	str("SUBLEDGER_LOG_FORMAT", &c.Log.Format)
	str("SUBLEDGER_STORAGE_DRIVER", &c.Storage.Driver)
	str("SUBLEDGER_SQLITE_PATH", &c.Storage.SQLitePath)
	str("SUBLEDGER_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("SUBLEDGER_REDIS_URL", &c.Storage.RedisURL)
	str("SUBLEDGER_AUTH_ISSUER", &c.Auth.Issuer)
	str("SUBLEDGER_AUTH_AUDIENCE", &c.Auth.Audience)
	str("SUBLEDGER_SIWS_DOMAIN", &c.SIWS.Domain)
	str("SUBLEDGER_SWEEP_SCHEDULE", &c.Jobs.SweepSchedule)
	str("SUBLEDGER_WEBHOOK_URL", &c.Jobs.WebhookURL)
	str("SUBLEDGER_WEBHOOK_SECRET", &c.Jobs.WebhookSecret)

	if v, ok := lookup("SUBLEDGER_ENV"); ok {
		env := strings.ToLower(strings.TrimSpace(v))
		c.Auth.Production = env == "production" || env == "prod"
	}
	if v, ok := lookup("SUBLEDGER_RIVER"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: SUBLEDGER_RIVER: %w", err)
		}
		c.Jobs.River = b
	}
	if v, ok := lookup("SUBLEDGER_SESSION_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SUBLEDGER_SESSION_TTL: %w", err)
		}
		c.Auth.SessionTTL = d
	}
	return nil
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	case DriverRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("storage.redis_url is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres, redis", c.Storage.Driver))
	}
	if c.Jobs.River && c.Storage.Driver != DriverPostgres {
		errs = append(errs, errors.New("jobs.river requires the postgres driver"))
	}
	if c.Auth.Issuer == "" || c.Auth.Audience == "" {
		errs = append(errs, errors.New("auth.issuer and auth.audience are required"))
	}
	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	for i, a := range c.Auth.Accept {
		if a.Issuer == "" || a.JWKSURL == "" {
			errs = append(errs, fmt.Errorf("auth.accept[%d] needs issuer and jwks_url", i))
		}
	}
	for i, k := range c.Auth.APIKeys {
		if k.Name == "" || k.Hash == "" || k.Principal == "" {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d] needs name, hash and principal", i))
		}
	}
	if c.SIWS.Domain == "" {
		errs = append(errs, errors.New("siws.domain is required"))
	}
	for name, b := range c.RateLimit.Buckets {
		if b.Limit <= 0 || b.Window <= 0 {
			errs = append(errs, fmt.Errorf("rate_limit.buckets.%s must have positive limit and window", name))
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", c.Log.Format))
	}
	return errors.Join(errs...)
}
