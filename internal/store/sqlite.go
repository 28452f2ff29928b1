// Package store provides the retry-queue backends for the SMS gateway.
//
// This file implements the SQLite-backed retry queue.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/triqapp/smsgateway/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteRetryRepo is a durable retry queue backed by a SQLite file.
type SQLiteRetryRepo struct {
	db *sql.DB
}

// Compile-time check that SQLiteRetryRepo implements RetryRepo.
var _ RetryRepo = (*SQLiteRetryRepo)(nil)

// NewSQLiteRetryRepo opens (creating if needed) the SQLite database at the
// configured DSN and applies migrations.
func NewSQLiteRetryRepo(opts ...Option) (*SQLiteRetryRepo, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("SQLiteRetryRepo opened", "path", cfg.DSN)
	return &SQLiteRetryRepo{db: db}, nil
}

func (r *SQLiteRetryRepo) Enqueue(recipient, body string, msgType models.MessageType, lastError string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := r.db.Exec(
		`INSERT INTO retry_queue (id, recipient, body, msg_type, status, attempts, last_error, next_retry_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 'queued', 0, ?, ?, ?, ?)`,
		id, recipient, body, string(msgType), nilIfEmpty(lastError), now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue retry item failed: %w", err)
	}
	return id, nil
}

func (r *SQLiteRetryRepo) ClaimDue(now time.Time, limit int) ([]RetryItem, error) {
	rows, err := r.db.Query(
		`SELECT id, recipient, body, msg_type, status, attempts, last_error, next_retry_at, created_at, updated_at
		 FROM retry_queue
		 WHERE status = 'queued' AND next_retry_at <= ? AND attempts < ?
		 ORDER BY created_at ASC LIMIT ?`,
		now, MaxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("claim due retry items failed: %w", err)
	}
	defer rows.Close()

	var items []RetryItem
	for rows.Next() {
		item, err := scanRetryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim retry iteration failed: %w", err)
	}

	for i := range items {
		if _, err := r.db.Exec(
			`UPDATE retry_queue SET status = 'sending', updated_at = ? WHERE id = ?`,
			now, items[i].ID,
		); err != nil {
			return nil, fmt.Errorf("mark retry item sending failed: %w", err)
		}
		items[i].Status = RetryStatusSending
	}
	return items, nil
}

func (r *SQLiteRetryRepo) Remove(id string) error {
	_, err := r.db.Exec(`DELETE FROM retry_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove retry item failed: %w", err)
	}
	return nil
}

func (r *SQLiteRetryRepo) Fail(id string, errMsg string, attempts int, nextRetryAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE retry_queue SET status = 'queued', attempts = ?, last_error = ?, next_retry_at = ?, updated_at = ? WHERE id = ?`,
		attempts, errMsg, nextRetryAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail retry item failed: %w", err)
	}
	return nil
}

func (r *SQLiteRetryRepo) PruneExpired(cutoff time.Time) (int, error) {
	res, err := r.db.Exec(`DELETE FROM retry_queue WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune expired retry items failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLiteRetryRepo) RequeueStale(staleBefore time.Time) (int, error) {
	res, err := r.db.Exec(
		`UPDATE retry_queue SET status = 'queued', updated_at = ? WHERE status = 'sending' AND updated_at < ?`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale retry items failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SQLiteRetryRepo) Depth() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM retry_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("retry queue depth failed: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (r *SQLiteRetryRepo) Close() error { return r.db.Close() }
