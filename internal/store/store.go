package store

import (
	"strings"
)

// Opts holds store configuration.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (SQLite file path or PostgreSQL URL).
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN as "postgres", "sqlite" or "" (empty).
func DetectDSNType(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewRetryRepo builds the retry-queue backend for the given DSN: PostgreSQL
// or SQLite when a DSN is set, the in-memory repo otherwise.
func NewRetryRepo(dsn string) (RetryRepo, error) {
	switch DetectDSNType(dsn) {
	case "postgres":
		return NewPostgresRetryRepo(WithDSN(dsn))
	case "sqlite":
		return NewSQLiteRetryRepo(WithDSN(dsn))
	default:
		return NewMemoryRetryRepo(), nil
	}
}
