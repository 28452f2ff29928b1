package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

// testClock returns a movable clock shared between a repo and a processor.
func testClock(start time.Time) (*time.Time, func() time.Time) {
	now := start
	return &now, func() time.Time { return now }
}

func TestProcessorRedeliversOnSecondCycle(t *testing.T) {
	repo := NewMemoryRetryRepo()
	now, clock := testClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	repo.SetClock(clock)

	calls := 0
	send := func(ctx context.Context, item RetryItem) error {
		calls++
		if calls == 1 {
			return errors.New("provider unavailable")
		}
		return nil
	}
	proc := NewProcessor(repo, send, time.Minute)
	proc.SetClock(clock)

	id, _ := repo.Enqueue("+212612345678", "hello", models.MessageTypeGeneric, "initial failure")

	// First cycle fails; the item is rescheduled with one attempt recorded.
	proc.Poll(context.Background())
	item, ok := repo.Get(id)
	if !ok {
		t.Fatal("item dropped after first failed cycle")
	}
	if item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", item.Attempts)
	}
	wantNext := now.Add(BackoffStep)
	if !item.NextRetryAt.Equal(wantNext) {
		t.Errorf("nextRetryAt = %v, want %v", item.NextRetryAt, wantNext)
	}

	// Before the backoff elapses nothing happens.
	*now = now.Add(5 * time.Minute)
	proc.Poll(context.Background())
	if calls != 1 {
		t.Fatalf("send called %d times before backoff elapsed, want 1", calls)
	}

	// After the backoff the second attempt succeeds and the item is removed.
	*now = now.Add(6 * time.Minute)
	proc.Poll(context.Background())
	if calls != 2 {
		t.Fatalf("send called %d times, want 2", calls)
	}
	if depth, _ := repo.Depth(); depth != 0 {
		t.Errorf("depth = %d after successful redelivery, want 0", depth)
	}
}

func TestProcessorDropsAtAttemptCeiling(t *testing.T) {
	repo := NewMemoryRetryRepo()
	now, clock := testClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	repo.SetClock(clock)

	calls := 0
	send := func(ctx context.Context, item RetryItem) error {
		calls++
		return errors.New("still down")
	}
	proc := NewProcessor(repo, send, time.Minute)
	proc.SetClock(clock)

	repo.Enqueue("+212612345678", "hello", models.MessageTypeGeneric, "")

	for cycle := 0; cycle < MaxAttempts; cycle++ {
		proc.Poll(context.Background())
		// Linear backoff: hop far enough to cover the widest step.
		*now = now.Add(time.Duration(MaxAttempts) * BackoffStep)
	}

	if calls != MaxAttempts {
		t.Errorf("send called %d times, want %d", calls, MaxAttempts)
	}
	if depth, _ := repo.Depth(); depth != 0 {
		t.Errorf("depth = %d after exhausting attempts, want 0", depth)
	}

	// Further cycles are no-ops.
	proc.Poll(context.Background())
	if calls != MaxAttempts {
		t.Errorf("send called again after the item was dropped")
	}
}

func TestProcessorExpiresOldItems(t *testing.T) {
	repo := NewMemoryRetryRepo()
	now, clock := testClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	repo.SetClock(clock)

	send := func(ctx context.Context, item RetryItem) error {
		t.Error("send called for an expired item")
		return nil
	}
	proc := NewProcessor(repo, send, time.Minute)
	proc.SetClock(clock)

	repo.Enqueue("+212612345678", "stale otp", models.MessageTypeOTP, "")
	*now = now.Add(MaxAge + time.Minute)

	proc.Poll(context.Background())
	if depth, _ := repo.Depth(); depth != 0 {
		t.Errorf("depth = %d, want 0 after expiry sweep", depth)
	}
}

func TestProcessorStopsOnCancelledContext(t *testing.T) {
	repo := NewMemoryRetryRepo()
	_, clock := testClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	repo.SetClock(clock)

	calls := 0
	send := func(ctx context.Context, item RetryItem) error {
		calls++
		return nil
	}
	proc := NewProcessor(repo, send, time.Minute)
	proc.SetClock(clock)

	repo.Enqueue("+212612345678", "a", models.MessageTypeGeneric, "")
	repo.Enqueue("+212612345679", "b", models.MessageTypeGeneric, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	proc.Poll(ctx)
	if calls != 0 {
		t.Errorf("send called %d times under a cancelled context, want 0", calls)
	}
}
