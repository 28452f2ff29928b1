package providers

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
)

// Default adapter timeouts and sender identity.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultSenderName = "Triq"
)

// TwilioConfig configures the Twilio adapter.
type TwilioConfig struct {
	Enabled    bool
	AccountSID string
	AuthToken  string
	FromNumber string
	Timeout    time.Duration
}

// GatewayConfig configures an HTTP gateway adapter (IAM, Orange).
type GatewayConfig struct {
	Enabled bool
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

// SimulationConfig configures the in-process simulation adapter.
type SimulationConfig struct {
	Enabled     bool
	FailureRate float64 // defaults to 0.05 when zero or out of range
}

// Config holds the full provider configuration. Immutable after the Registry
// validates it at startup.
type Config struct {
	Twilio     TwilioConfig
	IAM        GatewayConfig
	Orange     GatewayConfig
	Simulation SimulationConfig

	// SenderName is the alphanumeric sender identity used by the HTTP gateways.
	SenderName string
	// ReliableProvider is preferred for OTP traffic when available.
	ReliableProvider string
}

// ProviderState describes one configured provider for health reporting.
type ProviderState struct {
	Enabled    bool
	Configured bool
}

// Registry holds the validated, statically wired adapters.
type Registry struct {
	providers []Provider
	byName    map[string]Provider
	states    map[string]ProviderState
	reliable  string
}

// NewRegistry validates cfg and constructs the enabled adapters. It refuses
// to initialize when an enabled adapter is missing credentials, or when
// nothing is enabled and simulation is disabled.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.SenderName == "" {
		cfg.SenderName = DefaultSenderName
	}
	if cfg.ReliableProvider == "" {
		cfg.ReliableProvider = NameTwilio
	}

	r := &Registry{
		byName:   make(map[string]Provider),
		states:   make(map[string]ProviderState),
		reliable: cfg.ReliableProvider,
	}

	if cfg.Twilio.Enabled {
		p, err := NewTwilioProvider(cfg.Twilio)
		if err != nil {
			return nil, err
		}
		r.register(p)
	}
	r.states[NameTwilio] = ProviderState{Enabled: cfg.Twilio.Enabled, Configured: cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != ""}

	if cfg.IAM.Enabled {
		p, err := NewIAMProvider(cfg.IAM, cfg.SenderName)
		if err != nil {
			return nil, err
		}
		r.register(p)
	}
	r.states[NameIAM] = ProviderState{Enabled: cfg.IAM.Enabled, Configured: cfg.IAM.APIURL != "" && cfg.IAM.APIKey != ""}

	if cfg.Orange.Enabled {
		p, err := NewOrangeProvider(cfg.Orange, cfg.SenderName)
		if err != nil {
			return nil, err
		}
		r.register(p)
	}
	r.states[NameOrange] = ProviderState{Enabled: cfg.Orange.Enabled, Configured: cfg.Orange.APIURL != "" && cfg.Orange.APIKey != ""}

	if cfg.Simulation.Enabled {
		r.register(NewSimulationProvider(cfg.Simulation))
	}
	r.states[NameSimulation] = ProviderState{Enabled: cfg.Simulation.Enabled, Configured: true}

	if len(r.providers) == 0 {
		return nil, fmt.Errorf("provider registry: %w", models.ErrNoProviderConfigured)
	}

	slog.Info("provider registry initialized", "providers", r.Names(), "reliable", r.reliable)
	return r, nil
}

func (r *Registry) register(p Provider) {
	r.providers = append(r.providers, p)
	r.byName[p.Name()] = p
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Available returns the enabled adapters in registration order.
func (r *Registry) Available() []Provider {
	return r.providers
}

// Names returns the enabled adapter names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	return names
}

// Reliable returns the name of the provider preferred for OTP traffic.
func (r *Registry) Reliable() string {
	return r.reliable
}

// States describes every known provider (enabled or not) for health reporting.
func (r *Registry) States() map[string]ProviderState {
	out := make(map[string]ProviderState, len(r.states))
	for name, st := range r.states {
		out[name] = st
	}
	return out
}
