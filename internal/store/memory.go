package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/triqapp/smsgateway/internal/models"
)

// MemoryRetryRepo is the default, process-local retry queue. Contents are
// lost on restart; deployments needing delivery-after-crash should configure
// a SQLite or PostgreSQL DSN instead.
type MemoryRetryRepo struct {
	mu    sync.Mutex
	items map[string]*RetryItem
	now   func() time.Time
}

// Compile-time check that MemoryRetryRepo implements RetryRepo.
var _ RetryRepo = (*MemoryRetryRepo)(nil)

// NewMemoryRetryRepo creates an empty in-memory retry queue.
func NewMemoryRetryRepo() *MemoryRetryRepo {
	return &MemoryRetryRepo{
		items: make(map[string]*RetryItem),
		now:   time.Now,
	}
}

// SetClock overrides the repo's clock. Intended for tests.
func (r *MemoryRetryRepo) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Enqueue inserts a new item with zero attempts, eligible immediately.
func (r *MemoryRetryRepo) Enqueue(recipient, body string, msgType models.MessageType, lastError string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	id := uuid.NewString()
	r.items[id] = &RetryItem{
		ID:          id,
		Recipient:   recipient,
		Body:        body,
		Type:        msgType,
		Status:      RetryStatusQueued,
		Attempts:    0,
		LastError:   lastError,
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return id, nil
}

// ClaimDue marks due queued items as sending and returns them, oldest first.
func (r *MemoryRetryRepo) ClaimDue(now time.Time, limit int) ([]RetryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*RetryItem
	for _, item := range r.items {
		if item.Status == RetryStatusQueued && !item.NextRetryAt.After(now) && item.Attempts < MaxAttempts {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]RetryItem, 0, len(due))
	for _, item := range due {
		item.Status = RetryStatusSending
		item.UpdatedAt = now
		claimed = append(claimed, *item)
	}
	return claimed, nil
}

// Remove deletes an item.
func (r *MemoryRetryRepo) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return fmt.Errorf("retry item %s not found", id)
	}
	delete(r.items, id)
	return nil
}

// Fail returns an item to queued with an updated attempt count and timestamp.
func (r *MemoryRetryRepo) Fail(id string, errMsg string, attempts int, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return fmt.Errorf("retry item %s not found", id)
	}
	item.Status = RetryStatusQueued
	item.Attempts = attempts
	item.LastError = errMsg
	item.NextRetryAt = nextRetryAt
	item.UpdatedAt = r.now()
	return nil
}

// PruneExpired removes items created before cutoff.
func (r *MemoryRetryRepo) PruneExpired(cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, item := range r.items {
		if item.CreatedAt.Before(cutoff) {
			delete(r.items, id)
			removed++
		}
	}
	return removed, nil
}

// RequeueStale resets items stuck in sending back to queued.
func (r *MemoryRetryRepo) RequeueStale(staleBefore time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, item := range r.items {
		if item.Status == RetryStatusSending && item.UpdatedAt.Before(staleBefore) {
			item.Status = RetryStatusQueued
			item.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

// Depth returns the number of items currently parked.
func (r *MemoryRetryRepo) Depth() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items), nil
}

// Close is a no-op for the in-memory repo.
func (r *MemoryRetryRepo) Close() error { return nil }

// Get returns a copy of an item. Intended for tests.
func (r *MemoryRetryRepo) Get(id string) (RetryItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return RetryItem{}, false
	}
	return *item, true
}
