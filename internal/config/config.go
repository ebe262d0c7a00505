// Package config loads the ledgerd service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the top-level ledgerd configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Store   StoreConfig   `yaml:"store"`
	Auth    AuthConfig    `yaml:"auth"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"LEDGERD_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"LEDGERD_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"LEDGERD_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"LEDGERD_SHUTDOWN_TIMEOUT"`
	RateLimit       float64       `yaml:"rate_limit" env:"LEDGERD_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"LEDGERD_RATE_BURST"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// LedgerConfig configures session ledger behavior.
type LedgerConfig struct {
	SessionTTL  time.Duration `yaml:"session_ttl" env:"LEDGERD_SESSION_TTL"`
	SweepSpec   string        `yaml:"sweep_spec" env:"LEDGERD_SWEEP_SPEC"`
	SweepEnable bool          `yaml:"sweep_enable" env:"LEDGERD_SWEEP_ENABLE"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is one of "memory", "file", "redis", "postgres".
	Backend     string `yaml:"backend" env:"LEDGERD_STORE_BACKEND"`
	DataDir     string `yaml:"data_dir" env:"LEDGERD_DATA_DIR"`
	RedisAddr   string `yaml:"redis_addr" env:"LEDGERD_REDIS_ADDR"`
	RedisDB     int    `yaml:"redis_db" env:"LEDGERD_REDIS_DB"`
	PostgresDSN string `yaml:"postgres_dsn" env:"LEDGERD_POSTGRES_DSN"`
}

// AuthConfig configures wallet authentication.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"LEDGERD_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"LEDGERD_TOKEN_TTL"`
	NonceTTL  time.Duration `yaml:"nonce_ttl" env:"LEDGERD_NONCE_TTL"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEDGERD_LOG_LEVEL"`
	Format string `yaml:"format" env:"LEDGERD_LOG_FORMAT"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       50,
			RateBurst:       100,
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Ledger: LedgerConfig{
			SessionTTL:  2 * time.Hour,
			SweepSpec:   "*/5 * * * *",
			SweepEnable: true,
		},
		Store: StoreConfig{
			Backend: "memory",
			DataDir: "data",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			NonceTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromPath loads configuration from a YAML file, then applies
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadOrDefault loads configuration from path, or returns the default
// configuration (with environment overrides) when the file is absent.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFromPath(path)
		}
	}
	cfg := Default()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "file":
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store backend redis requires redis_addr")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store backend postgres requires postgres_dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Ledger.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}
	return nil
}
