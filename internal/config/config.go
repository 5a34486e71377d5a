// Package config loads the server configuration from the environment.
package config

import (
	"encoding/base64"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	apperrors "github.com/alexjbarnes/ziggio-identity/internal/errors"
	"github.com/alexjbarnes/ziggio-identity/internal/identity"
	"github.com/alexjbarnes/ziggio-identity/internal/password"
	"github.com/alexjbarnes/ziggio-identity/internal/session"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// keyMinLen is the minimum decoded length of the signing and cookie
	// hash keys.
	keyMinLen = 32
)

// Config holds all environment-based configuration for the identity server.
type Config struct {
	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	// Issuer is the external base URL of this server. It is the iss of
	// every token.
	Issuer string `env:"ISSUER"`

	StatePath    string `env:"STATE_PATH" envDefault:"data/identity.db"`
	ClientsFile  string `env:"CLIENTS_FILE" envDefault:"clients.yaml"`
	WatchClients bool   `env:"WATCH_CLIENTS" envDefault:"true"`

	// Base64 encoded secrets. Decoded into the fields below by Load.
	SigningKeyB64      string `env:"SIGNING_KEY"`
	SessionHashKeyB64  string `env:"SESSION_HASH_KEY"`
	SessionBlockKeyB64 string `env:"SESSION_BLOCK_KEY"`

	SigningKey      []byte `env:"-"`
	SessionHashKey  []byte `env:"-"`
	SessionBlockKey []byte `env:"-"`

	SessionCookieName string `env:"SESSION_COOKIE_NAME" envDefault:"ziggio.identity"`
	SessionSecure     bool   `env:"SESSION_SECURE" envDefault:"true"`

	AccessTokenTTL       time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL      time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	AuthorizationCodeTTL time.Duration `env:"AUTHORIZATION_CODE_TTL" envDefault:"5m"`
	RefreshReuseLeeway   time.Duration `env:"REFRESH_REUSE_LEEWAY" envDefault:"0s"`

	LockoutThreshold      int           `env:"LOCKOUT_THRESHOLD" envDefault:"5"`
	LockoutDuration       time.Duration `env:"LOCKOUT_DURATION" envDefault:"5m"`
	RequireConfirmedEmail bool          `env:"REQUIRE_CONFIRMED_EMAIL" envDefault:"false"`

	// Argon2id cost. Changing any of these invalidates stored hashes.
	Argon2MemoryKiB   uint32 `env:"ARGON2_MEMORY_KIB" envDefault:"65536"`
	Argon2Iterations  uint32 `env:"ARGON2_ITERATIONS" envDefault:"4"`
	Argon2Parallelism uint8  `env:"ARGON2_PARALLELISM" envDefault:"8"`
	Argon2KeyLength   uint32 `env:"ARGON2_KEY_LENGTH" envDefault:"32"`
	HashConcurrency   int    `env:"HASH_CONCURRENCY" envDefault:"4"`

	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	SeedAdmin         bool   `env:"SEED_ADMIN" envDefault:"true"`
	SeedAdminUsername string `env:"SEED_ADMIN_USERNAME" envDefault:"administrator"`
	SeedAdminEmail    string `env:"SEED_ADMIN_EMAIL" envDefault:"admin@zigg.io"`
	SeedAdminPassword string `env:"SEED_ADMIN_PASSWORD"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.decodeKeys(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// bbolt takes a file lock on this path; resolving it keeps log
	// lines and lock errors unambiguous.
	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}

	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", name, apperrors.ErrConfiguration)
	}

	return b, nil
}

func (c *Config) decodeKeys() error {
	var err error

	if c.SigningKey, err = decodeKey("SIGNING_KEY", c.SigningKeyB64); err != nil {
		return err
	}

	if c.SessionHashKey, err = decodeKey("SESSION_HASH_KEY", c.SessionHashKeyB64); err != nil {
		return err
	}

	if c.SessionBlockKey, err = decodeKey("SESSION_BLOCK_KEY", c.SessionBlockKeyB64); err != nil {
		return err
	}

	return nil
}

func (c *Config) validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("ISSUER is required: %w", apperrors.ErrConfiguration)
	}

	if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" || u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("ISSUER must be an absolute URL without query or fragment: %w", apperrors.ErrConfiguration)
	}

	if len(c.SigningKey) < keyMinLen {
		return fmt.Errorf("SIGNING_KEY must decode to at least %d bytes: %w", keyMinLen, apperrors.ErrConfiguration)
	}

	if len(c.SessionHashKey) < keyMinLen {
		return fmt.Errorf("SESSION_HASH_KEY must decode to at least %d bytes: %w", keyMinLen, apperrors.ErrConfiguration)
	}

	switch len(c.SessionBlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("SESSION_BLOCK_KEY must decode to 16, 24 or 32 bytes: %w", apperrors.ErrConfiguration)
	}

	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 || c.AuthorizationCodeTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive: %w", apperrors.ErrConfiguration)
	}

	if c.RefreshReuseLeeway < 0 {
		return fmt.Errorf("REFRESH_REUSE_LEEWAY must not be negative: %w", apperrors.ErrConfiguration)
	}

	if c.LockoutThreshold < 0 || (c.LockoutThreshold > 0 && c.LockoutDuration <= 0) {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be >= 0 with a positive LOCKOUT_DURATION: %w", apperrors.ErrConfiguration)
	}

	if c.Argon2MemoryKiB == 0 || c.Argon2Iterations == 0 || c.Argon2Parallelism == 0 || c.Argon2KeyLength < 16 {
		return fmt.Errorf("argon2 parameters out of range: %w", apperrors.ErrConfiguration)
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive: %w", apperrors.ErrConfiguration)
	}

	if c.SeedAdmin && c.SeedAdminPassword == "" {
		return fmt.Errorf("SEED_ADMIN_PASSWORD is required when SEED_ADMIN is true: %w", apperrors.ErrConfiguration)
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// HashParams returns the Argon2id parameters.
func (c *Config) HashParams() password.Params {
	return password.Params{
		Memory:      c.Argon2MemoryKiB,
		Iterations:  c.Argon2Iterations,
		Parallelism: c.Argon2Parallelism,
		KeyLength:   c.Argon2KeyLength,
	}
}

// SignInPolicy returns the lockout and confirmation rules.
func (c *Config) SignInPolicy() identity.SignInPolicy {
	return identity.SignInPolicy{
		Lockout: identity.LockoutPolicy{
			Threshold: c.LockoutThreshold,
			Duration:  c.LockoutDuration,
		},
		RequireConfirmedEmail: c.RequireConfirmedEmail,
	}
}

// Session returns the cookie settings.
func (c *Config) Session() session.Config {
	return session.Config{
		CookieName: c.SessionCookieName,
		HashKey:    c.SessionHashKey,
		BlockKey:   c.SessionBlockKey,
		Secure:     c.SessionSecure,
	}
}
