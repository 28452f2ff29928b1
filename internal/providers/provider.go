// Package providers contains the SMS gateway adapters and their registry.
//
// Each adapter implements the Provider interface over one external gateway
// (Twilio, the Maroc Telecom business gateway, the Orange SMS API) or the
// in-process simulation. The Registry validates configuration at startup and
// refuses to initialize on an invalid setup; the Selector picks the best
// untried adapter for a dispatch attempt.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/triqapp/smsgateway/internal/models"
)

// Provider names as referenced in configuration, statistics and results.
const (
	NameTwilio     = "twilio"
	NameIAM        = "iam"
	NameOrange     = "orange"
	NameSimulation = "simulation"
)

// Provider is the uniform contract every gateway adapter implements.
// Send receives a recipient already normalized to wire format and reports the
// outcome as a SendResult; it never returns a Go error for expected transport
// failures. Both calls are bounded by the adapter's configured timeout.
type Provider interface {
	// Name returns the adapter's registry name.
	Name() string

	// Send delivers body to the normalized recipient and reports the outcome.
	Send(ctx context.Context, to, body string, msgType models.MessageType) models.SendResult

	// CheckStatus looks up the delivery status of a previously sent message.
	CheckStatus(ctx context.Context, messageID string) (models.DeliveryStatus, error)
}

// classifyTransportErr maps a transport-level error into the common taxonomy.
func classifyTransportErr(err error) models.ErrorCode {
	if err == nil {
		return models.ErrCodeNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.ErrCodeProviderTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrCodeProviderTimeout
	}
	if strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return models.ErrCodeProviderTimeout
	}
	return models.ErrCodeProviderError
}

// failureResult builds a failed SendResult attributed to a provider.
func failureResult(provider string, code models.ErrorCode, err error) models.SendResult {
	res := models.Failure(code, err.Error())
	res.Provider = provider
	return res
}

// segmentCost returns (segments, totalCost) for a body at the provider's
// per-segment rate.
func segmentCost(body string, perSegment int) (int, int) {
	segments := models.Segments(len(body))
	return segments, segments * perSegment
}

// requireCredential returns a fatal configuration error when value is empty.
func requireCredential(provider, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s: %w: %s", provider, models.ErrMissingCredentials, field)
	}
	return nil
}
