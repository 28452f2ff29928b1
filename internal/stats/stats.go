// Package stats accumulates per-provider and per-message-type delivery
// counters, cost accounting and health snapshots for the SMS gateway.
//
// Counters live for the process lifetime and are monotonically non-decreasing;
// a bounded timestamped attempt log backs range-filtered statistics queries.
package stats

import (
	"sync"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

// attemptLogRetention bounds how far back range queries can reach.
const attemptLogRetention = 24 * time.Hour

// Counters holds the monotonic counters for one (provider, type) pair.
type Counters struct {
	Sent      int64 `json:"sent"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Cost      int64 `json:"cost"`
}

// attempt is one timestamped entry in the rolling log.
type attempt struct {
	provider string
	msgType  models.MessageType
	success  bool
	cost     int
	at       time.Time
}

// Collector is a concurrency-safe statistics accumulator.
type Collector struct {
	mu         sync.Mutex
	byProvider map[string]*Counters
	byType     map[models.MessageType]*Counters
	global     Counters
	log        []attempt
	now        func() time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		byProvider: make(map[string]*Counters),
		byType:     make(map[models.MessageType]*Counters),
		now:        time.Now,
	}
}

// SetClock overrides the collector's clock. Intended for tests.
func (c *Collector) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// RecordAttempt records the outcome of one provider attempt. Cost is only
// accumulated for successful attempts.
func (c *Collector) RecordAttempt(provider string, msgType models.MessageType, success bool, cost int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, ctr := range []*Counters{c.providerCounters(provider), c.typeCounters(msgType), &c.global} {
		ctr.Sent++
		if success {
			ctr.Succeeded++
			ctr.Cost += int64(cost)
		} else {
			ctr.Failed++
		}
	}

	c.pruneLog(now)
	c.log = append(c.log, attempt{provider: provider, msgType: msgType, success: success, cost: cost, at: now})
}

// SuccessRate returns successes/attempts for a provider, or 0.5 when the
// provider has no recorded attempts so untested providers are not starved.
func (c *Collector) SuccessRate(provider string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctr, ok := c.byProvider[provider]
	if !ok || ctr.Sent == 0 {
		return 0.5
	}
	return float64(ctr.Succeeded) / float64(ctr.Sent)
}

// Snapshot is a point-in-time copy of the accumulated statistics.
type Snapshot struct {
	Global      Counters                        `json:"global"`
	ByProvider  map[string]Counters             `json:"by_provider"`
	ByType      map[models.MessageType]Counters `json:"by_type"`
	SuccessRate float64                         `json:"success_rate"`
	RangeStart  *time.Time                      `json:"range_start,omitempty"`
	RangeEnd    *time.Time                      `json:"range_end,omitempty"`
	GeneratedAt time.Time                       `json:"generated_at"`
}

// Snapshot returns the statistics, optionally filtered to [rangeStart, rangeEnd].
// Without a range it reports the lifetime counters; with a range it aggregates
// the rolling attempt log, which retains at most 24h of history.
func (c *Collector) Snapshot(rangeStart, rangeEnd *time.Time) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	snap := Snapshot{
		ByProvider:  make(map[string]Counters),
		ByType:      make(map[models.MessageType]Counters),
		RangeStart:  rangeStart,
		RangeEnd:    rangeEnd,
		GeneratedAt: now,
	}

	if rangeStart == nil && rangeEnd == nil {
		snap.Global = c.global
		for p, ctr := range c.byProvider {
			snap.ByProvider[p] = *ctr
		}
		for t, ctr := range c.byType {
			snap.ByType[t] = *ctr
		}
	} else {
		c.pruneLog(now)
		for _, a := range c.log {
			if rangeStart != nil && a.at.Before(*rangeStart) {
				continue
			}
			if rangeEnd != nil && a.at.After(*rangeEnd) {
				continue
			}
			addAttempt(&snap.Global, a)
			pc := snap.ByProvider[a.provider]
			addAttempt(&pc, a)
			snap.ByProvider[a.provider] = pc
			tc := snap.ByType[a.msgType]
			addAttempt(&tc, a)
			snap.ByType[a.msgType] = tc
		}
	}

	if snap.Global.Sent > 0 {
		snap.SuccessRate = float64(snap.Global.Succeeded) / float64(snap.Global.Sent)
	}
	return snap
}

// ProviderHealth describes one provider in a health snapshot.
type ProviderHealth struct {
	Enabled     bool    `json:"enabled"`
	Configured  bool    `json:"configured"`
	SuccessRate float64 `json:"success_rate"`
	Attempts    int64   `json:"attempts"`
}

// Health combines provider state with gateway cache and queue gauges.
type Health struct {
	Providers      map[string]ProviderHealth `json:"providers"`
	RateLimitKeys  int                       `json:"rate_limit_keys"`
	RetryQueueSize int                       `json:"retry_queue_size"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// ProviderAttempts returns the lifetime attempt count for a provider.
func (c *Collector) ProviderAttempts(provider string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.byProvider[provider]; ok {
		return ctr.Sent
	}
	return 0
}

func (c *Collector) providerCounters(provider string) *Counters {
	ctr, ok := c.byProvider[provider]
	if !ok {
		ctr = &Counters{}
		c.byProvider[provider] = ctr
	}
	return ctr
}

func (c *Collector) typeCounters(msgType models.MessageType) *Counters {
	ctr, ok := c.byType[msgType]
	if !ok {
		ctr = &Counters{}
		c.byType[msgType] = ctr
	}
	return ctr
}

func (c *Collector) pruneLog(now time.Time) {
	cutoff := now.Add(-attemptLogRetention)
	i := 0
	for i < len(c.log) && c.log[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.log = append([]attempt(nil), c.log[i:]...)
	}
}

func addAttempt(ctr *Counters, a attempt) {
	ctr.Sent++
	if a.success {
		ctr.Succeeded++
		ctr.Cost += int64(a.cost)
	} else {
		ctr.Failed++
	}
}
