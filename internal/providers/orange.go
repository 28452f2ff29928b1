package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/phone"
)

// orangeCostPerSegment is the billed cost of one segment in centimes.
const orangeCostPerSegment = 28

// OrangeProvider sends SMS through the Orange SMS API (MEA). It is the
// affinity adapter for recipients on the Orange network.
type OrangeProvider struct {
	apiURL string
	apiKey string
	sender string
	client *http.Client
}

type orangeSendRequest struct {
	OutboundSMSMessageRequest struct {
		Address                string `json:"address"`
		SenderAddress          string `json:"senderAddress"`
		SenderName             string `json:"senderName"`
		OutboundSMSTextMessage struct {
			Message string `json:"message"`
		} `json:"outboundSMSTextMessage"`
	} `json:"outboundSMSMessageRequest"`
}

type orangeSendResponse struct {
	OutboundSMSMessageRequest struct {
		ResourceURL string `json:"resourceURL"`
	} `json:"outboundSMSMessageRequest"`
	RequestError struct {
		ServiceException struct {
			MessageID string `json:"messageId"`
			Text      string `json:"text"`
		} `json:"serviceException"`
	} `json:"requestError"`
}

type orangeDeliveryResponse struct {
	DeliveryInfoList struct {
		DeliveryInfo []struct {
			DeliveryStatus string `json:"deliveryStatus"`
		} `json:"deliveryInfo"`
	} `json:"deliveryInfoList"`
}

// NewOrangeProvider validates credentials and builds the adapter.
func NewOrangeProvider(cfg GatewayConfig, sender string) (*OrangeProvider, error) {
	if err := requireCredential(NameOrange, "API URL", cfg.APIURL); err != nil {
		return nil, err
	}
	if err := requireCredential(NameOrange, "API key", cfg.APIKey); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &OrangeProvider{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		apiKey: cfg.APIKey,
		sender: sender,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the registry name of the adapter.
func (p *OrangeProvider) Name() string { return NameOrange }

// Send delivers one message through the Orange SMS API.
func (p *OrangeProvider) Send(ctx context.Context, to, body string, msgType models.MessageType) models.SendResult {
	var reqBody orangeSendRequest
	reqBody.OutboundSMSMessageRequest.Address = "tel:" + to
	reqBody.OutboundSMSMessageRequest.SenderAddress = "tel:+212000"
	reqBody.OutboundSMSMessageRequest.SenderName = p.sender
	reqBody.OutboundSMSMessageRequest.OutboundSMSTextMessage.Message = body

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return failureResult(NameOrange, models.ErrCodeProviderError, err)
	}

	endpoint := p.apiURL + "/smsmessaging/v1/outbound/" + url.PathEscape("tel:+212000") + "/requests"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return failureResult(NameOrange, models.ErrCodeProviderError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Error("OrangeProvider.Send request failed", "to", phone.Mask(to), "error", err)
		return failureResult(NameOrange, classifyTransportErr(err), err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed orangeSendResponse
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(raw, &parsed)
		err := fmt.Errorf("orange api returned %d: %s", resp.StatusCode, parsed.RequestError.ServiceException.Text)
		slog.Error("OrangeProvider.Send rejected", "to", phone.Mask(to), "status", resp.StatusCode)
		code := models.ErrCodeProviderError
		if resp.StatusCode == http.StatusTooManyRequests {
			code = models.ErrCodeRateLimited
		}
		return failureResult(NameOrange, code, err)
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return failureResult(NameOrange, models.ErrCodeInvalidResponse, fmt.Errorf("orange api malformed response: %w", err))
	}

	messageID := messageIDFromResourceURL(parsed.OutboundSMSMessageRequest.ResourceURL)
	if messageID == "" {
		return failureResult(NameOrange, models.ErrCodeInvalidResponse, fmt.Errorf("orange api response missing resourceURL"))
	}

	segments, cost := segmentCost(body, orangeCostPerSegment)
	slog.Debug("OrangeProvider.Send succeeded", "to", phone.Mask(to), "messageID", messageID, "segments", segments)
	return models.SendResult{
		Success:   true,
		MessageID: messageID,
		Provider:  NameOrange,
		Status:    models.DeliveryStatusSent,
		Cost:      cost,
		Segments:  segments,
		Type:      msgType,
		Timestamp: time.Now(),
	}
}

// CheckStatus queries the delivery infos of a previous request.
func (p *OrangeProvider) CheckStatus(ctx context.Context, messageID string) (models.DeliveryStatus, error) {
	endpoint := p.apiURL + "/smsmessaging/v1/outbound/" + url.PathEscape("tel:+212000") + "/requests/" + url.PathEscape(messageID) + "/deliveryInfos"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.DeliveryStatusUnknown, fmt.Errorf("orange api delivery lookup returned %d", resp.StatusCode)
	}
	var parsed orangeDeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.DeliveryStatusUnknown, fmt.Errorf("orange api malformed delivery response: %w", err)
	}
	infos := parsed.DeliveryInfoList.DeliveryInfo
	if len(infos) == 0 {
		return models.DeliveryStatusUnknown, nil
	}
	return mapOrangeStatus(infos[0].DeliveryStatus), nil
}

// messageIDFromResourceURL extracts the trailing request id from a resourceURL.
func messageIDFromResourceURL(resourceURL string) string {
	if resourceURL == "" {
		return ""
	}
	parts := strings.Split(strings.TrimRight(resourceURL, "/"), "/")
	return parts[len(parts)-1]
}

func mapOrangeStatus(status string) models.DeliveryStatus {
	switch status {
	case "MessageWaiting":
		return models.DeliveryStatusQueued
	case "DeliveredToNetwork":
		return models.DeliveryStatusSent
	case "DeliveredToTerminal":
		return models.DeliveryStatusDelivered
	case "DeliveryImpossible", "DeliveryUncertain":
		return models.DeliveryStatusFailed
	default:
		return models.DeliveryStatusUnknown
	}
}
