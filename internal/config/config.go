// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/gitaccounts/internal/diaglog"
)

// CredentialBackend selects where secrets are stored.
type CredentialBackend string

const (
	CredentialBackendKeyring CredentialBackend = "keyring"
	CredentialBackendSQLite  CredentialBackend = "sqlite"
)

// AccountStoreBackend selects where the account list is persisted.
type AccountStoreBackend string

const (
	AccountStoreSQLite AccountStoreBackend = "sqlite"
	AccountStoreYAML   AccountStoreBackend = "yaml"
)

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	// SecretKey is the 32-byte AES-256 key for the sqlite credential store.
	// Nil when GITACCOUNTS_SECRET_KEY is unset.
	SecretKey []byte

	CredentialBackend CredentialBackend
	AccountStore      AccountStoreBackend
	AccountsFile      string
	DiagLog           string

	StrictTLS       bool
	RefreshInterval time.Duration
	Notify          bool

	GitHubClientID     string
	GitHubClientSecret string

	LogLevel  slog.Level
	LogFormat LogFormat
}

// HasGitHubOAuth reports whether browser authorization for GitHub is configured.
func (c *Config) HasGitHubOAuth() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// Load reads configuration from GITACCOUNTS_* environment variables and
// returns a validated Config. Every variable is optional; invalid values fail
// fast with an error naming the variable.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:         envOr("GITACCOUNTS_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:             envOr("GITACCOUNTS_DB_PATH", "gitaccounts.db"),
		AccountsFile:       envOr("GITACCOUNTS_ACCOUNTS_FILE", defaultAccountsFile()),
		DiagLog:            envOr("GITACCOUNTS_DIAG_LOG", diaglog.DefaultPath()),
		GitHubClientID:     os.Getenv("GITACCOUNTS_GITHUB_CLIENT_ID"),
		GitHubClientSecret: os.Getenv("GITACCOUNTS_GITHUB_CLIENT_SECRET"),
	}

	var err error
	if cfg.SecretKey, err = secretKey(); err != nil {
		return nil, err
	}

	switch v := CredentialBackend(envOr("GITACCOUNTS_CREDENTIAL_BACKEND", string(CredentialBackendKeyring))); v {
	case CredentialBackendKeyring, CredentialBackendSQLite:
		cfg.CredentialBackend = v
	default:
		return nil, fmt.Errorf("GITACCOUNTS_CREDENTIAL_BACKEND must be keyring or sqlite, got %q", v)
	}
	if cfg.CredentialBackend == CredentialBackendSQLite && cfg.SecretKey == nil {
		return nil, fmt.Errorf("GITACCOUNTS_CREDENTIAL_BACKEND=sqlite requires GITACCOUNTS_SECRET_KEY")
	}

	switch v := AccountStoreBackend(envOr("GITACCOUNTS_ACCOUNT_STORE", string(AccountStoreSQLite))); v {
	case AccountStoreSQLite, AccountStoreYAML:
		cfg.AccountStore = v
	default:
		return nil, fmt.Errorf("GITACCOUNTS_ACCOUNT_STORE must be sqlite or yaml, got %q", v)
	}

	if cfg.StrictTLS, err = boolEnv("GITACCOUNTS_STRICT_TLS"); err != nil {
		return nil, err
	}
	if cfg.Notify, err = boolEnv("GITACCOUNTS_NOTIFY"); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("GITACCOUNTS_REFRESH_INTERVAL"); ok && v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("GITACCOUNTS_REFRESH_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed < 0 {
			return nil, fmt.Errorf("GITACCOUNTS_REFRESH_INTERVAL must not be negative, got %s", parsed)
		}
		cfg.RefreshInterval = parsed
	}

	if (cfg.GitHubClientID == "") != (cfg.GitHubClientSecret == "") {
		return nil, fmt.Errorf("GITACCOUNTS_GITHUB_CLIENT_ID and GITACCOUNTS_GITHUB_CLIENT_SECRET must be set together")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("GITACCOUNTS_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("GITACCOUNTS_LOG_LEVEL: %w", err)
	}

	switch v := LogFormat(strings.ToLower(envOr("GITACCOUNTS_LOG_FORMAT", string(LogFormatText)))); v {
	case LogFormatText, LogFormatJSON:
		cfg.LogFormat = v
	default:
		return nil, fmt.Errorf("GITACCOUNTS_LOG_FORMAT must be text or json, got %q", v)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}

// secretKey decodes GITACCOUNTS_SECRET_KEY, which must be 64 hex characters.
func secretKey() ([]byte, error) {
	v, ok := os.LookupEnv("GITACCOUNTS_SECRET_KEY")
	if !ok || v == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("GITACCOUNTS_SECRET_KEY must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("GITACCOUNTS_SECRET_KEY must be 64 hex characters (32 bytes), got %d bytes", len(key))
	}
	return key, nil
}

func defaultAccountsFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "accounts.yaml"
	}
	return filepath.Join(dir, "gitaccounts", "accounts.yaml")
}
