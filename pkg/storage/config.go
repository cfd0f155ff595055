package storage

import (
	"fmt"
	"time"
)

// Store backends.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
)

// Config for the credential store and cache backends
type Config struct {
	Type string // "memory", "sqlite", "postgres"

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// SQLite config
	SQLitePath string

	// StoreTimeout bounds every credential store call
	StoreTimeout time.Duration

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int

	// Cache config
	CacheEnabled bool
	CacheTTL     map[string]time.Duration
	L1CacheSize  int // entries in the in-process cache
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             TypeMemory,
		SQLitePath:       "hrauth.db",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		StoreTimeout:     5 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL: map[string]time.Duration{
			"profile": 5 * time.Minute,
		},
		L1CacheSize: 10000,
	}
}

// TTL returns the cache lifetime for kind, or def when none is configured.
func (c Config) TTL(kind string, def time.Duration) time.Duration {
	if ttl, ok := c.CacheTTL[kind]; ok && ttl > 0 {
		return ttl
	}
	return def
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch c.Type {
	case TypeMemory:
	case TypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required for sqlite storage")
		}
	case TypePostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, sqlite, or postgres)", c.Type)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store timeout must be positive")
	}
	return nil
}
