// Package config loads runtime configuration from the environment, with
// optional .env file support for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Mwamiri/AthS/offline/store"
)

// Store driver names accepted by Config.StoreDriver.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the full runtime configuration. Every field maps to an
// ATHS_-prefixed environment variable.
type Config struct {
	// APIURL is the base URL of the results REST backend.
	APIURL string `env:"ATHS_API_URL" envDefault:"http://localhost:8080"`

	// StoreDriver selects the durable store: memory, sqlite, or mysql.
	StoreDriver string `env:"ATHS_STORE_DRIVER" envDefault:"sqlite"`

	// StorePath is the SQLite database file (sqlite driver only).
	StorePath string `env:"ATHS_STORE_PATH" envDefault:"aths-cache.db"`

	// StoreDSN is the MySQL connection string (mysql driver only).
	StoreDSN string `env:"ATHS_STORE_DSN"`

	// CacheMaxAge is how long cached entries are served while offline.
	CacheMaxAge time.Duration `env:"ATHS_CACHE_MAX_AGE" envDefault:"24h"`

	// RequestTimeout bounds each network attempt.
	RequestTimeout time.Duration `env:"ATHS_REQUEST_TIMEOUT" envDefault:"15s"`

	// RetryAttempts is the number of fetch attempts for reads; 1 disables
	// retries.
	RetryAttempts int `env:"ATHS_RETRY_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay is the base backoff delay between read retries.
	RetryBaseDelay time.Duration `env:"ATHS_RETRY_BASE_DELAY" envDefault:"200ms"`

	// SessionSecret verifies HS256 session tokens.
	SessionSecret string `env:"ATHS_SESSION_SECRET"`

	// LogJSON switches event logging to JSON lines.
	LogJSON bool `env:"ATHS_LOG_JSON" envDefault:"false"`
}

// Load reads configuration from the process environment. A .env file in
// the working directory is applied first when present; a missing file is
// not an error.
func Load() (Config, error) {
	_ = godotenv.Load()
	return parse()
}

// LoadFrom reads configuration with the given .env file applied first.
// The file must exist.
func LoadFrom(envFile string) (Config, error) {
	if err := godotenv.Load(envFile); err != nil {
		return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
	}
	return parse()
}

func parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if c.StorePath == "" {
			return fmt.Errorf("sqlite driver requires ATHS_STORE_PATH")
		}
	case DriverMySQL:
		if c.StoreDSN == "" {
			return fmt.Errorf("mysql driver requires ATHS_STORE_DSN")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if c.CacheMaxAge <= 0 {
		return fmt.Errorf("ATHS_CACHE_MAX_AGE must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("ATHS_REQUEST_TIMEOUT must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("ATHS_RETRY_ATTEMPTS must be >= 1")
	}
	return nil
}

// OpenStore opens the durable store selected by the configuration.
func (c Config) OpenStore() (store.Store, error) {
	switch c.StoreDriver {
	case DriverMemory:
		return store.NewMemStore(), nil
	case DriverSQLite:
		return store.NewSQLiteStore(c.StorePath)
	case DriverMySQL:
		return store.NewMySQLStore(c.StoreDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
}
