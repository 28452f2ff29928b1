package providers

import (
	"log/slog"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/phone"
	"github.com/triqapp/smsgateway/internal/stats"
)

// operatorAffinity maps a detected carrier to its own gateway adapter.
var operatorAffinity = map[phone.Operator]string{
	phone.OperatorIAM:    NameIAM,
	phone.OperatorOrange: NameOrange,
}

// Selector chooses the best untried adapter for a send attempt, in priority
// order: operator affinity, the reliable provider for OTP traffic, then the
// highest rolling success rate.
type Selector struct {
	registry *Registry
	stats    *stats.Collector
}

// NewSelector builds a Selector over the given registry and statistics.
func NewSelector(registry *Registry, collector *stats.Collector) *Selector {
	return &Selector{registry: registry, stats: collector}
}

// Choose returns the next adapter to try for recipient, excluding names in
// tried. The second return is false when every adapter has been tried, which
// terminates the dispatcher's retry loop.
func (s *Selector) Choose(recipient string, msgType models.MessageType, tried map[string]bool) (Provider, bool) {
	available := func(name string) (Provider, bool) {
		if tried[name] {
			return nil, false
		}
		return s.registry.Get(name)
	}

	if affinity, ok := operatorAffinity[phone.DetectOperator(recipient)]; ok {
		if p, ok := available(affinity); ok {
			slog.Debug("Selector.Choose: operator affinity", "provider", affinity, "recipient", phone.Mask(recipient))
			return p, true
		}
	}

	if msgType == models.MessageTypeOTP {
		if p, ok := available(s.registry.Reliable()); ok {
			slog.Debug("Selector.Choose: reliable provider for OTP", "provider", p.Name())
			return p, true
		}
	}

	var best Provider
	bestRate := -1.0
	for _, p := range s.registry.Available() {
		if tried[p.Name()] {
			continue
		}
		rate := s.stats.SuccessRate(p.Name())
		if rate > bestRate {
			best = p
			bestRate = rate
		}
	}
	if best == nil {
		return nil, false
	}
	slog.Debug("Selector.Choose: best success rate", "provider", best.Name(), "rate", bestRate)
	return best, true
}
