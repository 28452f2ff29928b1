// Package store provides the retry-queue backends for the SMS gateway.
//
// This file implements the PostgreSQL-backed retry queue.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/triqapp/smsgateway/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresRetryRepo is a durable retry queue backed by PostgreSQL.
type PostgresRetryRepo struct {
	db *sql.DB
}

// Compile-time check that PostgresRetryRepo implements RetryRepo.
var _ RetryRepo = (*PostgresRetryRepo)(nil)

// NewPostgresRetryRepo connects to the configured DSN and applies migrations.
func NewPostgresRetryRepo(opts ...Option) (*PostgresRetryRepo, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Debug("PostgresRetryRepo connected")
	return &PostgresRetryRepo{db: db}, nil
}

func (r *PostgresRetryRepo) Enqueue(recipient, body string, msgType models.MessageType, lastError string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := r.db.Exec(
		`INSERT INTO retry_queue (id, recipient, body, msg_type, status, attempts, last_error, next_retry_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7, $8)`,
		id, recipient, body, string(msgType), nilIfEmpty(lastError), now, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("enqueue retry item failed: %w", err)
	}
	return id, nil
}

func (r *PostgresRetryRepo) ClaimDue(now time.Time, limit int) ([]RetryItem, error) {
	rows, err := r.db.Query(
		`UPDATE retry_queue SET status = 'sending', updated_at = $1
		 WHERE id IN (
		     SELECT id FROM retry_queue
		     WHERE status = 'queued' AND next_retry_at <= $1 AND attempts < $2
		     ORDER BY created_at ASC LIMIT $3
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, recipient, body, msg_type, status, attempts, last_error, next_retry_at, created_at, updated_at`,
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
	return items, nil
}

func (r *PostgresRetryRepo) Remove(id string) error {
	_, err := r.db.Exec(`DELETE FROM retry_queue WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove retry item failed: %w", err)
	}
	return nil
}

func (r *PostgresRetryRepo) Fail(id string, errMsg string, attempts int, nextRetryAt time.Time) error {
	_, err := r.db.Exec(
		`UPDATE retry_queue SET status = 'queued', attempts = $1, last_error = $2, next_retry_at = $3, updated_at = $4 WHERE id = $5`,
		attempts, errMsg, nextRetryAt, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("fail retry item failed: %w", err)
	}
	return nil
}

func (r *PostgresRetryRepo) PruneExpired(cutoff time.Time) (int, error) {
	res, err := r.db.Exec(`DELETE FROM retry_queue WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune expired retry items failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresRetryRepo) RequeueStale(staleBefore time.Time) (int, error) {
	res, err := r.db.Exec(
		`UPDATE retry_queue SET status = 'queued', updated_at = $1 WHERE status = 'sending' AND updated_at < $2`,
		time.Now(), staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale retry items failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *PostgresRetryRepo) Depth() (int, error) {
	var n int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM retry_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("retry queue depth failed: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (r *PostgresRetryRepo) Close() error { return r.db.Close() }
