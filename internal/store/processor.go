// Package store provides the retry-queue backends for the SMS gateway.
//
// This file implements the Processor that redrives parked messages.
package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the processor scans for due items.
const DefaultPollInterval = 5 * time.Minute

// RetrySendFunc performs one direct delivery attempt for a parked item. The
// dispatcher supplies it; it must not re-enter the dispatcher's own retry
// loop, since the processor already is the retry path.
type RetrySendFunc func(ctx context.Context, item RetryItem) error

// Processor periodically claims due retry items and attempts redelivery with
// linear backoff (attempts × BackoffStep). Items reaching MaxAttempts, or
// older than MaxAge regardless of attempts, are dropped and logged. It runs
// on its own goroutine and never blocks the dispatcher's synchronous path.
type Processor struct {
	repo           RetryRepo
	sendFunc       RetrySendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	now            func() time.Time
}

// NewProcessor creates a Processor over repo using sendFunc for deliveries.
func NewProcessor(repo RetryRepo, sendFunc RetrySendFunc, pollInterval time.Duration) *Processor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Processor{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 15 * time.Minute,
		claimLimit:     20,
		now:            time.Now,
	}
}

// SetClock overrides the processor's clock. Intended for tests.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// RecoverStale requeues items stuck in sending state (crash recovery for
// durable backends). Should be called once at startup.
func (p *Processor) RecoverStale() error {
	n, err := p.repo.RequeueStale(p.now().Add(-p.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("Processor.RecoverStale: requeued stale retry items", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Processor) Run(ctx context.Context) {
	slog.Info("Processor.Run: starting retry queue processor", "pollInterval", p.pollInterval)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Processor.Run: stopping")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one processing cycle: garbage-collect expired items, claim due
// ones and attempt redelivery. Exported so Shutdown can run a final bounded
// drain.
func (p *Processor) Poll(ctx context.Context) {
	now := p.now()

	if expired, err := p.repo.PruneExpired(now.Add(-MaxAge)); err != nil {
		slog.Error("Processor.Poll: prune expired failed", "error", err)
	} else if expired > 0 {
		slog.Warn("Processor.Poll: dropped expired retry items", "count", expired)
	}

	items, err := p.repo.ClaimDue(now, p.claimLimit)
	if err != nil {
		slog.Error("Processor.Poll: claim failed", "error", err)
		return
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if err := p.sendFunc(ctx, item); err != nil {
			attempts := item.Attempts + 1
			if attempts >= MaxAttempts {
				slog.Warn("Processor.Poll: attempt ceiling reached, dropping item",
					"id", item.ID, "attempts", attempts, "error", err)
				if rmErr := p.repo.Remove(item.ID); rmErr != nil {
					slog.Error("Processor.Poll: remove exhausted item failed", "id", item.ID, "error", rmErr)
				}
				continue
			}
			nextRetry := now.Add(time.Duration(attempts) * BackoffStep)
			slog.Debug("Processor.Poll: redelivery failed, rescheduling",
				"id", item.ID, "attempts", attempts, "nextRetryAt", nextRetry, "error", err)
			if failErr := p.repo.Fail(item.ID, err.Error(), attempts, nextRetry); failErr != nil {
				slog.Error("Processor.Poll: reschedule failed", "id", item.ID, "error", failErr)
			}
		} else {
			if rmErr := p.repo.Remove(item.ID); rmErr != nil {
				slog.Error("Processor.Poll: remove delivered item failed", "id", item.ID, "error", rmErr)
			}
			slog.Debug("Processor.Poll: item redelivered", "id", item.ID)
		}
	}
}
