package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/triqapp/smsgateway/internal/models"
	"github.com/triqapp/smsgateway/internal/phone"
)

// twilioCostPerSegment is the billed cost of one segment in centimes.
const twilioCostPerSegment = 35

// TwilioProvider sends SMS through the Twilio REST API. It is the designated
// reliable provider for OTP traffic in the default configuration.
type TwilioProvider struct {
	client  *twilio.RestClient
	from    string
	timeout time.Duration
}

// NewTwilioProvider validates credentials and builds the adapter. Missing
// credentials are a fatal configuration error.
func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if err := requireCredential(NameTwilio, "account SID", cfg.AccountSID); err != nil {
		return nil, err
	}
	if err := requireCredential(NameTwilio, "auth token", cfg.AuthToken); err != nil {
		return nil, err
	}
	if err := requireCredential(NameTwilio, "from number", cfg.FromNumber); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	httpClient := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
	}
	httpClient.SetTimeout(cfg.Timeout)
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
		Client:   httpClient,
	})

	return &TwilioProvider{client: rest, from: cfg.FromNumber, timeout: cfg.Timeout}, nil
}

// Name returns the registry name of the adapter.
func (p *TwilioProvider) Name() string { return NameTwilio }

// Send delivers one message through Twilio.
func (p *TwilioProvider) Send(ctx context.Context, to, body string, msgType models.MessageType) models.SendResult {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(p.from)
	params.SetBody(body)

	msg, err := p.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioProvider.Send failed", "to", phone.Mask(to), "error", err)
		return failureResult(NameTwilio, classifyTransportErr(err), err)
	}

	segments, cost := segmentCost(body, twilioCostPerSegment)
	res := models.SendResult{
		Success:   true,
		Provider:  NameTwilio,
		Status:    models.DeliveryStatusSent,
		Cost:      cost,
		Segments:  segments,
		Type:      msgType,
		Timestamp: time.Now(),
	}
	if msg.Sid != nil {
		res.MessageID = *msg.Sid
	}
	if msg.Status != nil {
		res.Status = mapTwilioStatus(*msg.Status)
	}
	slog.Debug("TwilioProvider.Send succeeded", "to", phone.Mask(to), "sid", res.MessageID, "segments", segments)
	return res
}

// CheckStatus fetches the current delivery status of a message by SID.
func (p *TwilioProvider) CheckStatus(ctx context.Context, messageID string) (models.DeliveryStatus, error) {
	msg, err := p.client.Api.FetchMessage(messageID, &twilioApi.FetchMessageParams{})
	if err != nil {
		return models.DeliveryStatusUnknown, err
	}
	if msg.Status == nil {
		return models.DeliveryStatusUnknown, nil
	}
	return mapTwilioStatus(*msg.Status), nil
}

func mapTwilioStatus(status string) models.DeliveryStatus {
	switch status {
	case "accepted", "queued", "scheduled", "sending":
		return models.DeliveryStatusQueued
	case "sent":
		return models.DeliveryStatusSent
	case "delivered", "read":
		return models.DeliveryStatusDelivered
	case "failed", "undelivered", "canceled":
		return models.DeliveryStatusFailed
	default:
		return models.DeliveryStatusUnknown
	}
}
