package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/providers"
)

// newTestService builds a simulation-only service with zero failover backoff.
func newTestService(t *testing.T, options ...Option) *Service {
	t.Helper()
	cfg := providers.Config{Simulation: providers.SimulationConfig{Enabled: true}}
	opts := append([]Option{
		WithBackoff(func(attempt int) time.Duration { return 0 }),
		WithRetryPollInterval(time.Hour),
	}, options...)
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// forceOutcome pins the simulation adapter's roll. 1.0 forces success, 0.0
// forces failure.
func forceOutcome(t *testing.T, s *Service, roll func() float64) {
	t.Helper()
	p, ok := s.registry.Get(providers.NameSimulation)
	if !ok {
		t.Fatal("simulation provider not registered")
	}
	p.(*providers.SimulationProvider).SetOutcome(roll)
}

func always(v float64) func() float64 {
	return func() float64 { return v }
}

func TestSendOtpDelivers(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	res := s.SendOtp("0712345678", "482913", "fr")
	if !res.Success {
		t.Fatalf("SendOtp failed: %s %s", res.ErrorCode, res.ErrorMsg)
	}
	if res.Provider != providers.NameSimulation {
		t.Errorf("provider = %q, want %q", res.Provider, providers.NameSimulation)
	}
	if res.Cost <= 0 {
		t.Errorf("cost = %d, want > 0", res.Cost)
	}
	if res.MessageID == "" {
		t.Error("message ID is empty")
	}
	if res.Type != models.MessageTypeOTP {
		t.Errorf("type = %q, want otp", res.Type)
	}
	if res.Recipient != "+212******678" {
		t.Errorf("recipient = %q, want masked form", res.Recipient)
	}
}

func TestSendOtpRejectsMalformedCode(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	for _, code := range []string{"", "12", "123456789", "12ab34"} {
		res := s.SendOtp("0712345678", code, "fr")
		if res.Success || res.ErrorCode != models.ErrCodeInvalidOTPCode {
			t.Errorf("SendOtp(%q) = %v, want INVALID_OTP_CODE", code, res.ErrorCode)
		}
	}
	if snap := s.GetStatistics(nil, nil); snap.Global.Sent != 0 {
		t.Errorf("rejected codes reached a provider: %d attempts", snap.Global.Sent)
	}
}

func TestPerMinuteRateLimit(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	for i := 0; i < 10; i++ {
		res := s.SendRaw("+212612345678", fmt.Sprintf("message %d", i), models.MessageTypeGeneric)
		if !res.Success {
			t.Fatalf("send %d failed: %s", i, res.ErrorCode)
		}
	}

	res := s.SendRaw("+212612345678", "one too many", models.MessageTypeGeneric)
	if res.Success || res.ErrorCode != models.ErrCodeRateLimited {
		t.Fatalf("over-limit send = %v, want RATE_LIMIT_EXCEEDED", res.ErrorCode)
	}

	// Admission rejections are final: nothing is parked for retry.
	if depth, _ := s.retryRepo.Depth(); depth != 0 {
		t.Errorf("retry depth = %d after admission rejection, want 0", depth)
	}

	// Another recipient is unaffected.
	if res := s.SendRaw("+212698765432", "hello", models.MessageTypeGeneric); !res.Success {
		t.Errorf("independent recipient rejected: %s", res.ErrorCode)
	}
}

func TestExhaustedSendIsParkedForRetry(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(0.0))

	res := s.SendRaw("0612345678", "payment receipt", models.MessageTypePayment)
	if res.Success {
		t.Fatal("send succeeded with a failing provider")
	}
	if res.ErrorCode != models.ErrCodeSimulatedFailure {
		t.Errorf("error code = %q", res.ErrorCode)
	}

	snap := s.GetStatistics(nil, nil)
	if snap.Global.Failed != 1 {
		t.Errorf("failed attempts = %d, want 1 (one per tried provider)", snap.Global.Failed)
	}
	if snap.Global.Cost != 0 {
		t.Errorf("cost = %d for a failed send, want 0", snap.Global.Cost)
	}

	items, err := s.retryRepo.ClaimDue(time.Now(), 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("retry queue has %d items, want 1", len(items))
	}
	item := items[0]
	if item.Attempts != 0 {
		t.Errorf("parked attempts = %d, want 0", item.Attempts)
	}
	if item.Recipient != "+212612345678" {
		t.Errorf("parked recipient = %q, want normalized form", item.Recipient)
	}
	if item.Type != models.MessageTypePayment {
		t.Errorf("parked type = %q", item.Type)
	}
}

func TestParkedItemRedelivered(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(0.0))

	if res := s.SendRaw("+212612345678", "hello", models.MessageTypeGeneric); res.Success {
		t.Fatal("send succeeded with a failing provider")
	}

	// The provider recovers; the next processor cycle drains the queue.
	forceOutcome(t, s, always(1.0))
	s.processor.Poll(context.Background())

	if depth, _ := s.retryRepo.Depth(); depth != 0 {
		t.Errorf("retry depth = %d after redelivery, want 0", depth)
	}
	snap := s.GetStatistics(nil, nil)
	if snap.Global.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", snap.Global.Succeeded)
	}
}

func TestMissingTemplateFieldShortCircuits(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	res := s.SendPaymentNotification("+212612345678", models.KindPaymentConfirmed,
		map[string]string{"amount": "120"}, "fr")
	if res.Success || res.ErrorCode != models.ErrCodeMissingField {
		t.Fatalf("result = %v, want MISSING_TEMPLATE_FIELD", res.ErrorCode)
	}

	if snap := s.GetStatistics(nil, nil); snap.Global.Sent != 0 {
		t.Errorf("a provider was contacted: %d attempts", snap.Global.Sent)
	}
	if depth, _ := s.retryRepo.Depth(); depth != 0 {
		t.Errorf("retry depth = %d, want 0", depth)
	}
}

func TestUnknownNotificationKind(t *testing.T) {
	s := newTestService(t)
	res := s.SendTripNotification("+212612345678", models.NotificationKind("NOPE"), nil, "fr")
	if res.Success || res.ErrorCode != models.ErrCodeUnknownTemplate {
		t.Errorf("result = %v, want UNKNOWN_TEMPLATE", res.ErrorCode)
	}
}

func TestInvalidRecipientConsumesNothing(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	res := s.SendRaw("12345", "hello", models.MessageTypeGeneric)
	if res.Success || res.ErrorCode != models.ErrCodeInvalidPhone {
		t.Fatalf("result = %v, want INVALID_PHONE_NUMBER", res.ErrorCode)
	}

	if snap := s.GetStatistics(nil, nil); snap.Global.Sent != 0 {
		t.Errorf("stats recorded for an invalid recipient: %d", snap.Global.Sent)
	}
	if s.limiter.Size() != 0 {
		t.Error("rate-limit quota consumed for an invalid recipient")
	}
}

func TestBodyBounds(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	if res := s.SendRaw("+212612345678", "", models.MessageTypeGeneric); res.ErrorCode != models.ErrCodeEmptyMessage {
		t.Errorf("empty body = %v, want EMPTY_MESSAGE", res.ErrorCode)
	}
	long := strings.Repeat("a", models.MaxBodyLength+1)
	if res := s.SendRaw("+212612345678", long, models.MessageTypeGeneric); res.ErrorCode != models.ErrCodeMessageTooLong {
		t.Errorf("oversized body = %v, want MESSAGE_TOO_LONG", res.ErrorCode)
	}
}

func TestEventOrdering(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	var seen []models.EventType
	s.RegisterObserver(func(ev models.Event) {
		seen = append(seen, ev.Type)
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res := s.SendRaw("+212612345678", "hello", models.MessageTypeGeneric); !res.Success {
		t.Fatalf("send failed: %s", res.ErrorCode)
	}
	forceOutcome(t, s, always(0.0))
	s.SendRaw("+212698765432", "bye", models.MessageTypeGeneric)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []models.EventType{
		models.EventServiceReady,
		models.EventSMSSent,
		models.EventSMSError,
		models.EventServiceStopped,
	}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestEventPayload(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	var got models.Event
	s.RegisterObserver(func(ev models.Event) {
		if ev.Type == models.EventSMSSent {
			got = ev
		}
	})

	s.SendRaw("+212612345678", "hello", models.MessageTypeGeneric)
	if got.Recipient != "+212******678" {
		t.Errorf("event recipient = %q, want masked form", got.Recipient)
	}
	if got.Provider != providers.NameSimulation {
		t.Errorf("event provider = %q", got.Provider)
	}
	if got.Time.IsZero() {
		t.Error("event timestamp not set")
	}
}

func TestShutdownIsTerminal(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	stoppedEvents := 0
	s.RegisterObserver(func(ev models.Event) {
		if ev.Type == models.EventServiceStopped {
			stoppedEvents++
		}
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if stoppedEvents != 1 {
		t.Errorf("service.stopped emitted %d times, want 1", stoppedEvents)
	}

	if res := s.SendRaw("+212612345678", "hello", models.MessageTypeGeneric); res.ErrorCode != models.ErrCodeServiceStopped {
		t.Errorf("send after shutdown = %v, want SERVICE_STOPPED", res.ErrorCode)
	}
	if err := s.Start(context.Background()); !errors.Is(err, models.ErrServiceStopped) {
		t.Errorf("Start after shutdown = %v, want ErrServiceStopped", err)
	}
}

func TestGetHealth(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))
	s.SendRaw("+212612345678", "hello", models.MessageTypeGeneric)

	h := s.GetHealth()
	sim, ok := h.Providers[providers.NameSimulation]
	if !ok {
		t.Fatal("health has no simulation entry")
	}
	if !sim.Enabled || !sim.Configured {
		t.Errorf("simulation health = %+v", sim)
	}
	if sim.Attempts != 1 || sim.SuccessRate != 1.0 {
		t.Errorf("attempts = %d rate = %v, want 1 and 1.0", sim.Attempts, sim.SuccessRate)
	}
	if h.RateLimitKeys != 1 {
		t.Errorf("rate limit keys = %d, want 1", h.RateLimitKeys)
	}
	if h.RetryQueueSize != 0 {
		t.Errorf("retry queue size = %d, want 0", h.RetryQueueSize)
	}
}

func TestGetStatisticsAggregates(t *testing.T) {
	s := newTestService(t)
	rolls := []float64{1, 1, 0}
	i := 0
	forceOutcome(t, s, func() float64 {
		v := rolls[i%len(rolls)]
		i++
		return v
	})

	s.SendRaw("+212612345678", "first", models.MessageTypeGeneric)
	s.SendRaw("+212612345678", "second", models.MessageTypeGeneric)
	s.SendRaw("+212698765432", "third", models.MessageTypeGeneric)

	snap := s.GetStatistics(nil, nil)
	if snap.Global.Succeeded != 2 || snap.Global.Failed != 1 {
		t.Errorf("global = %+v, want 2 succeeded 1 failed", snap.Global)
	}
	if snap.Global.Cost <= 0 {
		t.Errorf("cost = %d, want > 0", snap.Global.Cost)
	}
	byType, ok := snap.ByType[models.MessageTypeGeneric]
	if !ok || byType.Sent != 3 {
		t.Errorf("by-type generic = %+v, want 3 attempts", byType)
	}
}

func TestPruneCacheEmitsEvent(t *testing.T) {
	s := newTestService(t)
	forceOutcome(t, s, always(1.0))

	var got models.Event
	s.RegisterObserver(func(ev models.Event) {
		if ev.Type == models.EventCacheCleaned {
			got = ev
		}
	})

	s.SendRaw("+212612345678", "hello", models.MessageTypeGeneric)
	s.PruneCache()

	if got.Type != models.EventCacheCleaned {
		t.Fatal("cache.cleaned not emitted")
	}
	if got.Remaining != 1 {
		t.Errorf("remaining = %d, want 1 fresh entry", got.Remaining)
	}
	if got.Removed != 0 {
		t.Errorf("removed = %d, want 0", got.Removed)
	}
}

func TestCheckStatus(t *testing.T) {
	s := newTestService(t)

	status, err := s.CheckStatus("sim_abc", providers.NameSimulation)
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if status != models.DeliveryStatusDelivered {
		t.Errorf("status = %q, want delivered", status)
	}

	if _, err := s.CheckStatus("id", "carrier-pigeon"); !errors.Is(err, models.ErrUnknownProvider) {
		t.Errorf("unknown provider error = %v", err)
	}
}
