// Package dispatch orchestrates outbound SMS delivery for the Triq platform.
//
// The Service is the subsystem's public entry point: it validates inputs,
// renders localized bodies, applies sliding-window admission control, walks
// providers with failover and linear backoff, accounts statistics and cost,
// emits observer events, and parks exhausted sends in the retry queue. It
// owns the background maintenance loops and an explicit lifecycle
// (New → Start → Shutdown).
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/phone"
	"github.com/triqapp/smsgateway/internal/providers"
	"github.com/triqapp/smsgateway/internal/ratelimit"
	"github.com/triqapp/smsgateway/internal/scheduler"
	"github.com/triqapp/smsgateway/internal/stats"
	"github.com/triqapp/smsgateway/internal/store"
	"github.com/triqapp/smsgateway/internal/template"
)

// DefaultMaxRetries bounds the provider failover loop within one dispatch call.
const DefaultMaxRetries = 3

// otpCodeRegex accepts numeric OTP codes of 4 to 8 digits.
var otpCodeRegex = regexp.MustCompile(`^\d{4,8}$`)

// Opts holds dispatcher configuration beyond the provider registry.
type Opts struct {
	MaxRetries        int
	RetryPollInterval time.Duration
	RetryDSN          string
	RateLimit         []ratelimit.Option
	Backoff           func(attempt int) time.Duration
}

// Option configures the Service.
type Option func(*Opts)

// WithMaxRetries overrides the per-call provider attempt ceiling.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// WithRetryPollInterval overrides the retry-queue redrive interval.
func WithRetryPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.RetryPollInterval = d }
}

// WithRetryDSN selects a durable retry-queue backend (SQLite path or
// PostgreSQL URL). Without it the queue is in-memory and lost on restart.
func WithRetryDSN(dsn string) Option {
	return func(o *Opts) { o.RetryDSN = dsn }
}

// WithRateLimitOptions forwards options to the rate limiter.
func WithRateLimitOptions(opts ...ratelimit.Option) Option {
	return func(o *Opts) { o.RateLimit = append(o.RateLimit, opts...) }
}

// WithBackoff overrides the inter-attempt backoff. Intended for tests.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(o *Opts) { o.Backoff = fn }
}

// Service is the SMS dispatch subsystem. Safe for concurrent use.
type Service struct {
	registry  *providers.Registry
	selector  *providers.Selector
	limiter   *ratelimit.Limiter
	collector *stats.Collector
	retryRepo store.RetryRepo
	processor *store.Processor
	sched     *scheduler.Scheduler
	observers *observerRegistry

	maxRetries int
	backoff    func(attempt int) time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates the provider configuration and constructs the service.
// Construction fails, rather than degrading to a stub, when no provider is
// usable or an enabled provider is missing credentials.
func New(cfg providers.Config, options ...Option) (*Service, error) {
	var opts Opts
	for _, opt := range options {
		opt(&opts)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = func(attempt int) time.Duration {
			return time.Duration(attempt) * time.Second
		}
	}

	registry, err := providers.NewRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("dispatch service init: %w", err)
	}

	retryRepo, err := store.NewRetryRepo(opts.RetryDSN)
	if err != nil {
		return nil, fmt.Errorf("dispatch service init retry store: %w", err)
	}

	collector := stats.NewCollector()
	s := &Service{
		registry:   registry,
		selector:   providers.NewSelector(registry, collector),
		limiter:    ratelimit.New(opts.RateLimit...),
		collector:  collector,
		retryRepo:  retryRepo,
		observers:  newObserverRegistry(),
		maxRetries: opts.MaxRetries,
		backoff:    opts.Backoff,
	}
	s.processor = store.NewProcessor(retryRepo, s.redeliver, opts.RetryPollInterval)
	return s, nil
}

// RegisterObserver subscribes a callback to service events.
func (s *Service) RegisterObserver(obs Observer) {
	s.observers.register(obs)
}

// Start launches the background loops (retry redrive, hourly cache sweep) and
// emits service.ready. It is idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return models.ErrServiceStopped
	}
	if s.started {
		return nil
	}
	s.started = true

	if err := s.processor.RecoverStale(); err != nil {
		slog.Warn("Service.Start: stale retry recovery failed", "error", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processor.Run(runCtx)
	}()

	s.sched = scheduler.New()
	if err := s.sched.AddHourly(s.PruneCache); err != nil {
		cancel()
		return fmt.Errorf("dispatch service start: schedule cache sweep: %w", err)
	}

	slog.Info("Service.Start: sms dispatch service ready", "providers", s.registry.Names())
	s.observers.emit(models.Event{Type: models.EventServiceReady})
	return nil
}

// Shutdown drains due retry-queue items (best effort, bounded by ctx), stops
// the background loops and emits service.stopped exactly once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	if started {
		// Best-effort final drain of whatever is already due.
		s.processor.Poll(ctx)

		s.cancel()
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("Service.Shutdown: timed out waiting for background loops")
		}
		s.sched.Stop()
	}

	err := s.retryRepo.Close()
	s.observers.emit(models.Event{Type: models.EventServiceStopped})
	s.observers.markStopped()
	slog.Info("Service.Shutdown: sms dispatch service stopped")
	return err
}

// SendOtp renders and delivers a one-time verification code.
func (s *Service) SendOtp(recipient, code, locale string) models.SendResult {
	if !otpCodeRegex.MatchString(code) {
		return models.Failure(models.ErrCodeInvalidOTPCode, "otp code must be 4 to 8 digits")
	}
	body, errCode, err := template.Render(template.KeyOTP, locale, map[string]string{"code": code})
	if err != nil {
		return models.Failure(errCode, err.Error())
	}
	return s.dispatch(recipient, body, models.MessageTypeOTP)
}

// SendPaymentNotification renders and delivers a payment lifecycle
// notification. Required template fields (e.g. amount and reference for a
// payment confirmation) are validated before any provider is contacted.
func (s *Service) SendPaymentNotification(recipient string, kind models.NotificationKind, data map[string]string, locale string) models.SendResult {
	return s.sendTemplated(recipient, kind, data, locale, models.MessageTypePayment)
}

// SendTripNotification renders and delivers a trip lifecycle notification.
func (s *Service) SendTripNotification(recipient string, kind models.NotificationKind, data map[string]string, locale string) models.SendResult {
	return s.sendTemplated(recipient, kind, data, locale, models.MessageTypeTrip)
}

func (s *Service) sendTemplated(recipient string, kind models.NotificationKind, data map[string]string, locale string, msgType models.MessageType) models.SendResult {
	key, ok := template.KeyForKind(kind)
	if !ok {
		return models.Failure(models.ErrCodeUnknownTemplate, fmt.Sprintf("unknown notification kind %q", kind))
	}
	body, errCode, err := template.Render(key, locale, data)
	if err != nil {
		return models.Failure(errCode, err.Error())
	}
	return s.dispatch(recipient, body, msgType)
}

// SendRaw delivers a pre-rendered body. An empty message type defaults to
// generic.
func (s *Service) SendRaw(recipient, body string, msgType models.MessageType) models.SendResult {
	if msgType == "" {
		msgType = models.MessageTypeGeneric
	}
	return s.dispatch(recipient, body, msgType)
}

// dispatch is the core send path: validate, admit, walk providers with
// failover, account the outcome, and hand off to the retry queue on
// exhaustion.
func (s *Service) dispatch(recipient, body string, msgType models.MessageType) models.SendResult {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return models.Failure(models.ErrCodeServiceStopped, models.ErrServiceStopped.Error())
	}

	if ok, code := phone.Validate(recipient); !ok {
		return models.Failure(code, fmt.Sprintf("invalid recipient %q", phone.Mask(recipient)))
	}
	if body == "" {
		return models.Failure(models.ErrCodeEmptyMessage, "message body is empty")
	}
	if len(body) > models.MaxBodyLength {
		return models.Failure(models.ErrCodeMessageTooLong, fmt.Sprintf("message body exceeds %d characters", models.MaxBodyLength))
	}

	normalized := phone.Normalize(recipient)
	masked := phone.Mask(normalized)

	if !s.limiter.Admit(normalized, msgType) {
		slog.Warn("Service.dispatch: rate limit exceeded", "to", masked, "type", msgType)
		return models.Failure(models.ErrCodeRateLimited, "rate limit exceeded for recipient")
	}

	tried := make(map[string]bool)
	var last models.SendResult
	attempted := false

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		provider, ok := s.selector.Choose(normalized, msgType, tried)
		if !ok {
			break
		}
		tried[provider.Name()] = true
		attempted = true

		res := provider.Send(context.Background(), normalized, body, msgType)
		if res.Success {
			s.limiter.Record(normalized, msgType)
			s.collector.RecordAttempt(provider.Name(), msgType, true, res.Cost)
			res.Recipient = masked
			res.Type = msgType
			s.observers.emit(models.Event{
				Type:      models.EventSMSSent,
				Message:   msgType,
				Recipient: masked,
				Provider:  provider.Name(),
			})
			slog.Info("Service.dispatch: sent", "to", masked, "type", msgType, "provider", provider.Name(), "cost", res.Cost)
			return res
		}

		s.collector.RecordAttempt(provider.Name(), msgType, false, 0)
		last = res
		slog.Warn("Service.dispatch: provider attempt failed",
			"to", masked, "type", msgType, "provider", provider.Name(), "code", res.ErrorCode, "error", res.ErrorMsg)

		// A provider-side rate-limit rejection is not a transport fault;
		// switching gateways would just burn quota elsewhere.
		if res.ErrorCode == models.ErrCodeRateLimited {
			return s.failDispatch(masked, msgType, last, false, "", "")
		}

		if attempt < s.maxRetries {
			time.Sleep(s.backoff(attempt))
		}
	}

	if !attempted {
		last = models.Failure(models.ErrCodeAllProvidersDown, "no provider available")
	}
	return s.failDispatch(masked, msgType, last, true, normalized, body)
}

// failDispatch finalizes a failed dispatch: optional retry-queue hand-off,
// error event, failure result.
func (s *Service) failDispatch(masked string, msgType models.MessageType, last models.SendResult, enqueue bool, normalized, body string) models.SendResult {
	if enqueue {
		if _, err := s.retryRepo.Enqueue(normalized, body, msgType, last.ErrorMsg); err != nil {
			slog.Error("Service.dispatch: retry enqueue failed", "to", masked, "error", err)
		} else {
			slog.Info("Service.dispatch: parked in retry queue", "to", masked, "type", msgType)
		}
	}
	s.observers.emit(models.Event{
		Type:      models.EventSMSError,
		Message:   msgType,
		Recipient: masked,
		Code:      last.ErrorCode,
		Error:     last.ErrorMsg,
	})
	last.Recipient = masked
	last.Type = msgType
	return last
}

// redeliver performs one direct provider attempt for a parked item. The
// retry processor is already the retry path, so it bypasses the failover
// loop.
func (s *Service) redeliver(ctx context.Context, item store.RetryItem) error {
	provider, ok := s.selector.Choose(item.Recipient, item.Type, nil)
	if !ok {
		return models.ErrNoProviderConfigured
	}

	masked := phone.Mask(item.Recipient)
	res := provider.Send(ctx, item.Recipient, item.Body, item.Type)
	if !res.Success {
		s.collector.RecordAttempt(provider.Name(), item.Type, false, 0)
		return fmt.Errorf("redelivery via %s failed: %s", provider.Name(), res.ErrorMsg)
	}

	s.limiter.Record(item.Recipient, item.Type)
	s.collector.RecordAttempt(provider.Name(), item.Type, true, res.Cost)
	s.observers.emit(models.Event{
		Type:      models.EventSMSSent,
		Message:   item.Type,
		Recipient: masked,
		Provider:  provider.Name(),
	})
	slog.Info("Service.redeliver: parked item delivered", "to", masked, "provider", provider.Name())
	return nil
}

// CheckStatus queries the delivery status of a message on the provider that
// sent it.
func (s *Service) CheckStatus(messageID, provider string) (models.DeliveryStatus, error) {
	p, ok := s.registry.Get(provider)
	if !ok {
		return models.DeliveryStatusUnknown, fmt.Errorf("%w: %s", models.ErrUnknownProvider, provider)
	}
	ctx, cancel := context.WithTimeout(context.Background(), providers.DefaultTimeout)
	defer cancel()
	return p.CheckStatus(ctx, messageID)
}

// GetStatistics returns global and per-provider/per-type counters, optionally
// filtered to a time range backed by the rolling attempt log.
func (s *Service) GetStatistics(rangeStart, rangeEnd *time.Time) stats.Snapshot {
	return s.collector.Snapshot(rangeStart, rangeEnd)
}

// GetHealth reports provider state, rate-limiter cache size and retry-queue
// depth. Pure in-memory read; no external call is made.
func (s *Service) GetHealth() stats.Health {
	depth, err := s.retryRepo.Depth()
	if err != nil {
		slog.Error("Service.GetHealth: retry depth failed", "error", err)
	}

	health := stats.Health{
		Providers:      make(map[string]stats.ProviderHealth),
		RateLimitKeys:  s.limiter.Size(),
		RetryQueueSize: depth,
		GeneratedAt:    time.Now(),
	}
	for name, st := range s.registry.States() {
		health.Providers[name] = stats.ProviderHealth{
			Enabled:     st.Enabled,
			Configured:  st.Configured,
			SuccessRate: s.collector.SuccessRate(name),
			Attempts:    s.collector.ProviderAttempts(name),
		}
	}
	return health
}

// PruneCache sweeps the rate-limiter cache and emits cache.cleaned. Normally
// driven hourly by the scheduler; exported as a manual trigger.
func (s *Service) PruneCache() {
	removed, remaining := s.limiter.Sweep()
	s.observers.emit(models.Event{
		Type:      models.EventCacheCleaned,
		Removed:   removed,
		Remaining: remaining,
	})
}
