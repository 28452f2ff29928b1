package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/phone"
)

// iamCostPerSegment is the billed cost of one segment in centimes.
const iamCostPerSegment = 25

// IAMProvider sends SMS through the Maroc Telecom business messaging gateway.
// It is the affinity adapter for recipients on the IAM network.
type IAMProvider struct {
	apiURL string
	apiKey string
	sender string
	client *http.Client
}

type iamSendRequest struct {
	Sender  string `json:"sender"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type iamSendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// NewIAMProvider validates credentials and builds the adapter.
func NewIAMProvider(cfg GatewayConfig, sender string) (*IAMProvider, error) {
	if err := requireCredential(NameIAM, "API URL", cfg.APIURL); err != nil {
		return nil, err
	}
	if err := requireCredential(NameIAM, "API key", cfg.APIKey); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &IAMProvider{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey: cfg.APIKey,
		sender: sender,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the registry name of the adapter.
func (p *IAMProvider) Name() string { return NameIAM }

// Send delivers one message through the gateway.
func (p *IAMProvider) Send(ctx context.Context, to, body string, msgType models.MessageType) models.SendResult {
	payload, err := json.Marshal(iamSendRequest{Sender: p.sender, To: to, Content: body})
	if err != nil {
		return failureResult(NameIAM, models.ErrCodeProviderError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return failureResult(NameIAM, models.ErrCodeProviderError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Error("IAMProvider.Send request failed", "to", phone.Mask(to), "error", err)
		return failureResult(NameIAM, classifyTransportErr(err), err)
	}
	defer resp.Body.Close()

	var parsed iamSendResponse
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		_ = json.Unmarshal(raw, &parsed)
		err := fmt.Errorf("iam gateway returned %d: %s", resp.StatusCode, parsed.Message)
		slog.Error("IAMProvider.Send rejected", "to", phone.Mask(to), "status", resp.StatusCode, "code", parsed.Code)
		code := models.ErrCodeProviderError
		if resp.StatusCode == http.StatusTooManyRequests {
			code = models.ErrCodeRateLimited
		}
		return failureResult(NameIAM, code, err)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return failureResult(NameIAM, models.ErrCodeInvalidResponse, fmt.Errorf("iam gateway malformed response: %w", err))
	}
	if parsed.MessageID == "" {
		return failureResult(NameIAM, models.ErrCodeInvalidResponse, fmt.Errorf("iam gateway response missing message_id"))
	}

	segments, cost := segmentCost(body, iamCostPerSegment)
	slog.Debug("IAMProvider.Send succeeded", "to", phone.Mask(to), "messageID", parsed.MessageID, "segments", segments)
	return models.SendResult{
		Success:   true,
		MessageID: parsed.MessageID,
		Provider:  NameIAM,
		Status:    mapGatewayStatus(parsed.Status),
		Cost:      cost,
		Segments:  segments,
		Type:      msgType,
		Timestamp: time.Now(),
	}
}

// CheckStatus looks up the delivery status of a message.
func (p *IAMProvider) CheckStatus(ctx context.Context, messageID string) (models.DeliveryStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiURL+"/v1/messages/"+messageID, nil)
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	req.Header.Set("X-API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.DeliveryStatusUnknown, fmt.Errorf("iam gateway status lookup returned %d", resp.StatusCode)
	}
	var parsed iamSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.DeliveryStatusUnknown, fmt.Errorf("iam gateway malformed status response: %w", err)
	}
	return mapGatewayStatus(parsed.Status), nil
}

// mapGatewayStatus maps a local gateway status string to the common taxonomy.
// Shared by the IAM and Orange adapters, whose aggregator platforms use the
// same status vocabulary.
func mapGatewayStatus(status string) models.DeliveryStatus {
	switch strings.ToLower(status) {
	case "queued", "pending", "accepted":
		return models.DeliveryStatusQueued
	case "sent", "submitted":
		return models.DeliveryStatusSent
	case "delivered":
		return models.DeliveryStatusDelivered
	case "failed", "rejected", "expired", "undeliverable":
		return models.DeliveryStatusFailed
	default:
		return models.DeliveryStatusUnknown
	}
}
