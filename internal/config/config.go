// Package config loads server configuration from an optional YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all server configuration. Environment variables override YAML
// values; secrets come from the environment only.
type Config struct {
	Addr        string `yaml:"addr" env:"DDS_ADDR" env-default:":8443"`
	MetricsAddr string `yaml:"metrics_addr" env:"DDS_METRICS_ADDR" env-default:":9090"`
	Dev         bool   `yaml:"dev" env:"DDS_DEV" env-default:"false"`

	// TLS is enabled when both paths are set.
	TLSCertPath string `yaml:"tls_cert_path" env:"DDS_TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"DDS_TLS_KEY_PATH" env-default:""`

	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Limits   LimitsConfig   `yaml:"limits"`

	// RoleCatalogPath overrides the embedded role catalog.
	RoleCatalogPath string `yaml:"role_catalog_path" env:"DDS_ROLE_CATALOG" env-default:""`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL      string `yaml:"-" env:"DDS_DATABASE_URL" env-default:"postgres://dds@localhost:5432/dds?sslmode=disable"`
	MaxConns int32  `yaml:"max_conns" env:"DDS_DATABASE_MAX_CONNS" env-default:"10"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTKey    string        `yaml:"-" env:"DDS_JWT_KEY"` // secret
	AccessTTL time.Duration `yaml:"access_ttl" env:"DDS_ACCESS_TTL" env-default:"15m"`
	AgentTTL  time.Duration `yaml:"agent_ttl" env:"DDS_AGENT_TTL" env-default:"2h"`
	// BootstrapPassword enables password login for -bootstrap-admin.
	BootstrapPassword string `yaml:"-" env:"DDS_BOOTSTRAP_PASSWORD"` // secret
}

// LimitsConfig holds request and key-exchange throttling.
type LimitsConfig struct {
	RPS   float64 `yaml:"rps" env:"DDS_RATE_RPS" env-default:"50"`
	Burst int     `yaml:"burst" env:"DDS_RATE_BURST" env-default:"100"`

	ExchangeWindow   time.Duration `yaml:"exchange_window" env:"DDS_EXCHANGE_WINDOW" env-default:"15m"`
	ExchangeMaxFails int           `yaml:"exchange_max_fails" env:"DDS_EXCHANGE_MAX_FAILS" env-default:"5"`
	ExchangeBlock    time.Duration `yaml:"exchange_block" env:"DDS_EXCHANGE_BLOCK" env-default:"15m"`
}

// Load reads path if it exists, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	case errors.Is(statErr, fs.ErrNotExist):
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read env: %w", err)
		}
	default:
		return nil, fmt.Errorf("stat %s: %w", path, statErr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// TLSEnabled reports whether the listener serves TLS.
func (c *Config) TLSEnabled() bool { return c.TLSCertPath != "" }

// Validate checks required secrets and setting combinations.
func (c *Config) Validate() error {
	if c.Auth.JWTKey == "" {
		return errors.New("DDS_JWT_KEY is required")
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.AgentTTL <= 0 {
		return errors.New("token ttls must be positive")
	}
	if c.Limits.RPS <= 0 || c.Limits.Burst <= 0 {
		return errors.New("rate limit rps and burst must be positive")
	}
	if c.Limits.ExchangeMaxFails <= 0 {
		return errors.New("exchange_max_fails must be positive")
	}
	return c.validateTLS()
}

// validateTLS requires cert and key together and checks both files exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""
	if certSet != keySet {
		return errors.New("both tls_cert_path and tls_key_path must be provided together")
	}
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}
	return nil
}
