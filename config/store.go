package config

import (
	"fmt"
	"strings"
	"time"
)

// StoreBackend identifies a job store implementation.
type StoreBackend string

const (
	// StoreBackendMemory is the in-process map store. State is lost on exit.
	StoreBackendMemory StoreBackend = "memory"
	// StoreBackendSQLite is the embedded single-file store.
	StoreBackendSQLite StoreBackend = "sqlite"
	// StoreBackendPostgres is the shared PostgreSQL store.
	StoreBackendPostgres StoreBackend = "postgres"
)

// StoreTarget is a parsed STORE_URL.
type StoreTarget struct {
	Backend StoreBackend

	// DSN is the backend-specific connection string: the file path for
	// sqlite, the full connection URL for postgres, empty for memory.
	DSN string
}

// ParseStoreURL parses a STORE_URL value of the form scheme://target.
// Supported schemes are memory, sqlite, and postgres (postgresql is
// accepted as an alias). A malformed URL is a startup error, not a
// sanitization warning.
func ParseStoreURL(raw string) (StoreTarget, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return StoreTarget{}, fmt.Errorf("store url %q has no scheme (expected memory://, sqlite://<path>, or postgres://<dsn>)", raw)
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return StoreTarget{Backend: StoreBackendMemory}, nil
	case "sqlite":
		if rest == "" {
			return StoreTarget{}, fmt.Errorf("store url %q has no database path", raw)
		}
		return StoreTarget{Backend: StoreBackendSQLite, DSN: rest}, nil
	case "postgres", "postgresql":
		if rest == "" {
			return StoreTarget{}, fmt.Errorf("store url %q has no connection details", raw)
		}
		// pgx takes the whole URL, scheme included.
		return StoreTarget{Backend: StoreBackendPostgres, DSN: raw}, nil
	default:
		return StoreTarget{}, fmt.Errorf("store url scheme %q is not supported (valid schemes: memory, sqlite, postgres)", scheme)
	}
}

// StoreConfig contains job store configuration.
type StoreConfig struct {
	// URL selects the backend and its target, e.g. sqlite://./data/ingestd.db.
	URL string `env:"STORE_URL" envDefault:"sqlite://./data/ingestd.db"`

	// AutoMigrate controls whether pending schema migrations are applied
	// when the store opens. When false a pending migration refuses to open.
	AutoMigrate bool `env:"STORE_AUTO_MIGRATE" envDefault:"true"`

	// LeaseSeconds is how long an acquired due job stays leased before it
	// becomes re-acquirable after a crash.
	LeaseSeconds int `env:"STORE_LEASE_SECONDS" envDefault:"60"`
}

// Target parses the configured URL.
func (s *StoreConfig) Target() (StoreTarget, error) {
	return ParseStoreURL(s.URL)
}

// Lease returns the lease duration.
func (s *StoreConfig) Lease() time.Duration {
	return time.Duration(s.LeaseSeconds) * time.Second
}

// Sanitize applies guardrails to store configuration values.
func (s *StoreConfig) Sanitize() []string {
	var warnings []string
	if s.LeaseSeconds < 1 {
		warnings = append(warnings, fmt.Sprintf("store lease of %ds is invalid, using 60s", s.LeaseSeconds))
		s.LeaseSeconds = 60
	}
	return warnings
}
