package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

// Observer receives service events. Callbacks run synchronously on the
// emitting goroutine, so emission order is part of the contract: ready, then
// zero or more sent/error/cache events, then stopped. Observers must not
// block.
type Observer func(models.Event)

// observerRegistry manages the statically known set of event observers.
type observerRegistry struct {
	mu        sync.RWMutex
	observers []Observer
	stopped   bool
}

func newObserverRegistry() *observerRegistry {
	return &observerRegistry{}
}

// register adds an observer. Registration after the service stopped is
// accepted but the observer will see no further events.
func (r *observerRegistry) register(obs Observer) {
	if obs == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
	slog.Debug("observerRegistry: observer registered", "count", len(r.observers))
}

// emit delivers an event to every registered observer in registration order.
// After markStopped, only the terminal stopped event passes through.
func (r *observerRegistry) emit(ev models.Event) {
	r.mu.RLock()
	stopped := r.stopped
	observers := r.observers
	r.mu.RUnlock()

	if stopped && ev.Type != models.EventServiceStopped {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, obs := range observers {
		obs(ev)
	}
}

// markStopped suppresses all further non-terminal events.
func (r *observerRegistry) markStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
}
