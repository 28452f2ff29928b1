// Command smsgateway runs the Triq SMS dispatch service.
//
// Configuration comes from the environment (optionally a .env file), with
// command line flags taking precedence. With -send-to/-send-body it performs
// a one-shot smoke-test send before settling into daemon mode.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/triqapp/smsgateway/internal/dispatch"
	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/providers"
	"github.com/triqapp/smsgateway/internal/ratelimit"
	"github.com/triqapp/smsgateway/internal/store"
	"github.com/triqapp/smsgateway/internal/util"
)

// shutdownTimeout bounds the final retry-queue drain on exit.
const shutdownTimeout = 30 * time.Second

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	svc, err := dispatch.New(buildProviderConfig(config), buildDispatchOptions(config, flags)...)
	if err != nil {
		slog.Error("Failed to initialize sms dispatch service", "error", err)
		os.Exit(1)
	}

	svc.RegisterObserver(func(ev models.Event) {
		slog.Debug("service event", "type", ev.Type, "recipient", ev.Recipient, "provider", ev.Provider, "code", ev.Code)
	})

	if err := svc.Start(context.Background()); err != nil {
		slog.Error("Failed to start sms dispatch service", "error", err)
		os.Exit(1)
	}

	if *flags.sendTo != "" && *flags.sendBody != "" {
		res := svc.SendRaw(*flags.sendTo, *flags.sendBody, models.MessageTypeGeneric)
		slog.Info("One-shot send finished",
			"success", res.Success, "provider", res.Provider, "messageID", res.MessageID,
			"cost", res.Cost, "code", res.ErrorCode, "error", res.ErrorMsg)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("Signal received, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		slog.Error("Shutdown finished with error", "error", err)
		os.Exit(1)
	}
	slog.Info("smsgateway exited successfully")
}

// Config holds environment configuration.
type Config struct {
	TwilioEnabled bool
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	TwilioTimeout time.Duration

	IAMEnabled bool
	IAMAPIURL  string
	IAMAPIKey  string
	IAMTimeout time.Duration

	OrangeEnabled bool
	OrangeAPIURL  string
	OrangeAPIKey  string
	OrangeTimeout time.Duration

	SimulationEnabled bool
	SenderName        string
	ReliableProvider  string

	MaxPerMinute int
	MaxPerHour   int
	MaxOTPPerDay int

	MaxRetries        int
	RetryPollInterval time.Duration
	RetryDSN          string
}

// Flags holds command line flag values.
type Flags struct {
	retryDSN *string
	sendTo   *string
	sendBody *string
}

// initializeLogger sets up structured logging with debug level.
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		TwilioEnabled: util.ParseBoolEnv("SMS_TWILIO_ENABLED", false),
		TwilioSID:     os.Getenv("SMS_TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("SMS_TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("SMS_TWILIO_FROM_NUMBER"),
		TwilioTimeout: util.ParseDurationEnv("SMS_TWILIO_TIMEOUT", providers.DefaultTimeout),

		IAMEnabled: util.ParseBoolEnv("SMS_IAM_ENABLED", false),
		IAMAPIURL:  os.Getenv("SMS_IAM_API_URL"),
		IAMAPIKey:  os.Getenv("SMS_IAM_API_KEY"),
		IAMTimeout: util.ParseDurationEnv("SMS_IAM_TIMEOUT", providers.DefaultTimeout),

		OrangeEnabled: util.ParseBoolEnv("SMS_ORANGE_ENABLED", false),
		OrangeAPIURL:  os.Getenv("SMS_ORANGE_API_URL"),
		OrangeAPIKey:  os.Getenv("SMS_ORANGE_API_KEY"),
		OrangeTimeout: util.ParseDurationEnv("SMS_ORANGE_TIMEOUT", providers.DefaultTimeout),

		SimulationEnabled: util.ParseBoolEnv("SMS_SIMULATION_ENABLED", true),
		SenderName:        os.Getenv("SMS_SENDER_NAME"),
		ReliableProvider:  os.Getenv("SMS_RELIABLE_PROVIDER"),

		MaxPerMinute: util.ParseIntEnv("SMS_RATE_MAX_PER_MINUTE", ratelimit.DefaultMaxPerMinute),
		MaxPerHour:   util.ParseIntEnv("SMS_RATE_MAX_PER_HOUR", ratelimit.DefaultMaxPerHour),
		MaxOTPPerDay: util.ParseIntEnv("SMS_OTP_MAX_PER_DAY", ratelimit.DefaultMaxOTPPerDay),

		MaxRetries:        util.ParseIntEnv("SMS_MAX_RETRIES", dispatch.DefaultMaxRetries),
		RetryPollInterval: util.ParseDurationEnv("SMS_RETRY_INTERVAL", store.DefaultPollInterval),
		RetryDSN:          os.Getenv("SMS_RETRY_DB_DSN"),
	}

	slog.Debug("environment variables loaded",
		"SMS_TWILIO_ENABLED", config.TwilioEnabled,
		"SMS_IAM_ENABLED", config.IAMEnabled,
		"SMS_ORANGE_ENABLED", config.OrangeEnabled,
		"SMS_SIMULATION_ENABLED", config.SimulationEnabled,
		"SMS_RETRY_DB_DSN_SET", config.RetryDSN != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		retryDSN: flag.String("retry-dsn", config.RetryDSN, "retry queue DSN, SQLite path or PostgreSQL URL (overrides $SMS_RETRY_DB_DSN)"),
		sendTo:   flag.String("send-to", "", "recipient for a one-shot smoke-test send"),
		sendBody: flag.String("send-body", "", "body for a one-shot smoke-test send"),
	}
	flag.Parse()
	return flags
}

// buildProviderConfig constructs the provider registry configuration.
func buildProviderConfig(config Config) providers.Config {
	return providers.Config{
		Twilio: providers.TwilioConfig{
			Enabled:    config.TwilioEnabled,
			AccountSID: config.TwilioSID,
			AuthToken:  config.TwilioToken,
			FromNumber: config.TwilioFrom,
			Timeout:    config.TwilioTimeout,
		},
		IAM: providers.GatewayConfig{
			Enabled: config.IAMEnabled,
			APIURL:  config.IAMAPIURL,
			APIKey:  config.IAMAPIKey,
			Timeout: config.IAMTimeout,
		},
		Orange: providers.GatewayConfig{
			Enabled: config.OrangeEnabled,
			APIURL:  config.OrangeAPIURL,
			APIKey:  config.OrangeAPIKey,
			Timeout: config.OrangeTimeout,
		},
		Simulation: providers.SimulationConfig{
			Enabled: config.SimulationEnabled,
		},
		SenderName:       config.SenderName,
		ReliableProvider: config.ReliableProvider,
	}
}

// buildDispatchOptions constructs dispatcher configuration options.
func buildDispatchOptions(config Config, flags Flags) []dispatch.Option {
	opts := []dispatch.Option{
		dispatch.WithMaxRetries(config.MaxRetries),
		dispatch.WithRetryPollInterval(config.RetryPollInterval),
		dispatch.WithRateLimitOptions(
			ratelimit.WithMaxPerMinute(config.MaxPerMinute),
			ratelimit.WithMaxPerHour(config.MaxPerHour),
			ratelimit.WithMaxOTPPerDay(config.MaxOTPPerDay),
		),
	}
	if *flags.retryDSN != "" {
		opts = append(opts, dispatch.WithRetryDSN(*flags.retryDSN))
	}
	return opts
}
