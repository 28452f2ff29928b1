package providers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/phone"
	"github.com/triqapp/smsgateway/internal/util"
)

// Simulation behavior constants.
const (
	simCostPerSegment     = 20
	defaultSimFailureRate = 0.05
	simMinLatency         = 20 * time.Millisecond
	simMaxLatency         = 120 * time.Millisecond
)

// SimulationProvider stands in for a real gateway. It performs no network
// I/O: it logs a masked summary, sleeps a short random interval and succeeds
// with the configured probability. Used as the default when no real adapter
// is configured and in non-production environments.
type SimulationProvider struct {
	failureRate float64
	latency     func() time.Duration
	roll        func() float64
}

// NewSimulationProvider builds the simulation adapter. A failure rate outside
// (0, 1] falls back to the 5% default.
func NewSimulationProvider(cfg SimulationConfig) *SimulationProvider {
	rate := cfg.FailureRate
	if rate <= 0 || rate > 1 {
		rate = defaultSimFailureRate
	}
	return &SimulationProvider{
		failureRate: rate,
		latency: func() time.Duration {
			return simMinLatency + time.Duration(rand.Int63n(int64(simMaxLatency-simMinLatency)))
		},
		roll: rand.Float64,
	}
}

// SetOutcome overrides the random roll so tests can force success or failure.
func (p *SimulationProvider) SetOutcome(roll func() float64) {
	p.roll = roll
	p.latency = func() time.Duration { return 0 }
}

// Name returns the registry name of the adapter.
func (p *SimulationProvider) Name() string { return NameSimulation }

// Send simulates a delivery attempt.
func (p *SimulationProvider) Send(ctx context.Context, to, body string, msgType models.MessageType) models.SendResult {
	select {
	case <-time.After(p.latency()):
	case <-ctx.Done():
		return failureResult(NameSimulation, models.ErrCodeProviderTimeout, ctx.Err())
	}

	if p.roll() < p.failureRate {
		err := fmt.Errorf("simulated gateway failure")
		slog.Debug("SimulationProvider.Send simulated failure", "to", phone.Mask(to), "type", msgType)
		return failureResult(NameSimulation, models.ErrCodeSimulatedFailure, err)
	}

	segments, cost := segmentCost(body, simCostPerSegment)
	messageID := util.GenerateRandomID("sim_", 24)
	slog.Info("SimulationProvider.Send delivered", "to", phone.Mask(to), "type", msgType, "messageID", messageID, "segments", segments)
	return models.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  NameSimulation,
		Status:    models.DeliveryStatusSent,
		Cost:      cost,
		Segments:  segments,
		Type:      msgType,
		Timestamp: time.Now(),
	}
}

// CheckStatus always reports delivered for simulated messages.
func (p *SimulationProvider) CheckStatus(ctx context.Context, messageID string) (models.DeliveryStatus, error) {
	return models.DeliveryStatusDelivered, nil
}
