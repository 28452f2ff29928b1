// Package ratelimit implements per-recipient sliding-window admission control
// for outbound SMS traffic.
//
// Each (recipient, message type) key owns an ordered slice of send timestamps
// pruned to a 24h trailing window on every access. Admission checks three
// ceilings against that slice: per-minute, per-hour and, for OTP traffic only,
// per-day.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

// Default ceilings, overridable through Options.
const (
	DefaultMaxPerMinute = 10
	DefaultMaxPerHour   = 100
	DefaultMaxOTPPerDay = 20
	retentionWindow     = 24 * time.Hour
	minuteWindow        = time.Minute
	hourWindow          = time.Hour
)

// Opts holds limiter configuration.
type Opts struct {
	MaxPerMinute int
	MaxPerHour   int
	MaxOTPPerDay int
}

// Option configures the limiter.
type Option func(*Opts)

// WithMaxPerMinute overrides the per-minute ceiling.
func WithMaxPerMinute(n int) Option {
	return func(o *Opts) { o.MaxPerMinute = n }
}

// WithMaxPerHour overrides the per-hour ceiling.
func WithMaxPerHour(n int) Option {
	return func(o *Opts) { o.MaxPerHour = n }
}

// WithMaxOTPPerDay overrides the daily OTP ceiling.
func WithMaxOTPPerDay(n int) Option {
	return func(o *Opts) { o.MaxOTPPerDay = n }
}

type key struct {
	recipient string
	msgType   models.MessageType
}

// Limiter is a concurrency-safe sliding-window rate limiter.
type Limiter struct {
	mu      sync.Mutex
	entries map[key][]time.Time
	opts    Opts
	now     func() time.Time
}

// New creates a Limiter with the given options applied over defaults.
func New(options ...Option) *Limiter {
	opts := Opts{
		MaxPerMinute: DefaultMaxPerMinute,
		MaxPerHour:   DefaultMaxPerHour,
		MaxOTPPerDay: DefaultMaxOTPPerDay,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return &Limiter{
		entries: make(map[key][]time.Time),
		opts:    opts,
		now:     time.Now,
	}
}

// SetClock overrides the limiter's clock. Intended for tests.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Admit reports whether a send of the given type to recipient is within
// quota. It does not record anything; call Record after the send is actually
// handed to a provider.
func (l *Limiter) Admit(recipient string, msgType models.MessageType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{recipient: recipient, msgType: msgType}
	stamps := prune(l.entries[k], now)
	l.entries[k] = stamps

	if msgType == models.MessageTypeOTP && len(stamps) >= l.opts.MaxOTPPerDay {
		return false
	}
	if countSince(stamps, now.Add(-hourWindow)) >= l.opts.MaxPerHour {
		return false
	}
	if countSince(stamps, now.Add(-minuteWindow)) >= l.opts.MaxPerMinute {
		return false
	}
	return true
}

// Record appends the current timestamp for the key. Called only after a
// successful hand-off to a provider attempt.
func (l *Limiter) Record(recipient string, msgType models.MessageType) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	k := key{recipient: recipient, msgType: msgType}
	l.entries[k] = append(prune(l.entries[k], now), now)
}

// Sweep removes keys whose timestamp slice is empty after pruning, bounding
// memory. It returns the number of removed keys and the remaining cache size.
func (l *Limiter) Sweep() (removed, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, stamps := range l.entries {
		pruned := prune(stamps, now)
		if len(pruned) == 0 {
			delete(l.entries, k)
			removed++
		} else {
			l.entries[k] = pruned
		}
	}
	remaining = len(l.entries)
	slog.Debug("Limiter.Sweep: pruned rate-limit cache", "removed", removed, "remaining", remaining)
	return removed, remaining
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// prune drops timestamps older than the 24h retention window.
func prune(stamps []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-retentionWindow)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[i:]...)
}

// countSince counts timestamps strictly after cutoff.
func countSince(stamps []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(stamps) - 1; i >= 0; i-- {
		if stamps[i].After(cutoff) {
			n++
		} else {
			break
		}
	}
	return n
}
