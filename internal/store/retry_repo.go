// Package store provides the retry-queue backends for the SMS gateway.
//
// Messages that exhaust every provider are parked here and redriven by the
// Processor with linear backoff until success, the attempt ceiling or the age
// ceiling. The in-memory repo is the default; SQLite and PostgreSQL backends
// make the queue durable across restarts.
package store

import (
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

// Queue policy constants.
const (
	// MaxAttempts is the redelivery ceiling; items reaching it are dropped.
	MaxAttempts = 3
	// BackoffStep is multiplied by the attempt count to space redeliveries.
	BackoffStep = 10 * time.Minute
	// MaxAge is the age ceiling; items older than this are garbage collected
	// regardless of outcome.
	MaxAge = 24 * time.Hour
)

// RetryStatus is the lifecycle state of a queued item.
type RetryStatus string

const (
	RetryStatusQueued  RetryStatus = "queued"
	RetryStatusSending RetryStatus = "sending"
)

// RetryItem is one parked message awaiting redelivery.
type RetryItem struct {
	ID          string             `json:"id"`
	Recipient   string             `json:"recipient"` // normalized wire format
	Body        string             `json:"body"`
	Type        models.MessageType `json:"type"`
	Status      RetryStatus        `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
	NextRetryAt time.Time          `json:"next_retry_at"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// RetryRepo is the retry-queue persistence contract.
type RetryRepo interface {
	// Enqueue inserts a new item with zero attempts, eligible immediately.
	Enqueue(recipient, body string, msgType models.MessageType, lastError string) (string, error)

	// ClaimDue marks up to limit queued items whose next_retry_at <= now and
	// attempts < MaxAttempts as sending and returns them.
	ClaimDue(now time.Time, limit int) ([]RetryItem, error)

	// Remove deletes an item (delivered, exhausted or expired).
	Remove(id string) error

	// Fail records a redelivery failure: attempts is the new count and
	// nextRetryAt the next eligibility time. The item returns to queued.
	Fail(id string, errMsg string, attempts int, nextRetryAt time.Time) error

	// PruneExpired removes items created before cutoff and returns the count.
	PruneExpired(cutoff time.Time) (int, error)

	// RequeueStale resets items stuck in sending since before staleBefore
	// back to queued (crash recovery for durable backends).
	RequeueStale(staleBefore time.Time) (int, error)

	// Depth returns the number of queued items.
	Depth() (int, error)

	// Close releases backend resources.
	Close() error
}
