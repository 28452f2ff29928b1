// Package models defines the core data structures for the Triq SMS gateway.
//
// It includes message types, send results, delivery statuses and the error
// taxonomy shared across the dispatcher, providers and store.
package models

import (
	"errors"
	"time"
)

// MessageType classifies outbound traffic for rate limiting and statistics.
type MessageType string

const (
	// MessageTypeOTP is a one-time verification code. Subject to the daily cap.
	MessageTypeOTP MessageType = "otp"
	// MessageTypePayment is a payment lifecycle notification.
	MessageTypePayment MessageType = "payment"
	// MessageTypeTrip is a trip lifecycle notification (driver assigned, trip started).
	MessageTypeTrip MessageType = "trip"
	// MessageTypeGeneric is free-form transactional traffic sent through SendRaw.
	MessageTypeGeneric MessageType = "generic"
)

// NotificationKind selects the template used for a payment or trip notification.
type NotificationKind string

const (
	KindPaymentConfirmed NotificationKind = "CONFIRMATION_PAIEMENT"
	KindPaymentFailed    NotificationKind = "ECHEC_PAIEMENT"
	KindRefund           NotificationKind = "REMBOURSEMENT"
	KindLowBalance       NotificationKind = "SOLDE_FAIBLE"
	KindDispute          NotificationKind = "LITIGE"
	KindDriverAssigned   NotificationKind = "CHAUFFEUR_ASSIGNE"
	KindTripStarted      NotificationKind = "TRAJET_DEMARRE"
)

// DeliveryStatus is the unified status reported by provider status lookups.
type DeliveryStatus string

const (
	DeliveryStatusQueued    DeliveryStatus = "queued"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusUnknown   DeliveryStatus = "unknown"
)

// ErrorCode identifies an expected failure mode in a SendResult.
type ErrorCode string

const (
	ErrCodeNone             ErrorCode = ""
	ErrCodeInvalidPhone     ErrorCode = "INVALID_PHONE_NUMBER"
	ErrCodeInvalidOTPCode   ErrorCode = "INVALID_OTP_CODE"
	ErrCodeEmptyMessage     ErrorCode = "EMPTY_MESSAGE"
	ErrCodeMessageTooLong   ErrorCode = "MESSAGE_TOO_LONG"
	ErrCodeMissingField     ErrorCode = "MISSING_TEMPLATE_FIELD"
	ErrCodeUnknownTemplate  ErrorCode = "UNKNOWN_TEMPLATE"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeProviderError    ErrorCode = "PROVIDER_ERROR"
	ErrCodeProviderTimeout  ErrorCode = "PROVIDER_TIMEOUT"
	ErrCodeInvalidResponse  ErrorCode = "INVALID_PROVIDER_RESPONSE"
	ErrCodeAllProvidersDown ErrorCode = "ALL_PROVIDERS_FAILED"
	ErrCodeSimulatedFailure ErrorCode = "SIMULATED_FAILURE"
	ErrCodeServiceStopped   ErrorCode = "SERVICE_STOPPED"
	ErrCodeUnknownProvider  ErrorCode = "UNKNOWN_PROVIDER"
)

// Validation constants for dispatcher input checks.
const (
	// MaxBodyLength is the maximum accepted message body length.
	MaxBodyLength = 1600
	// MinOTPDigits and MaxOTPDigits bound the accepted OTP code length.
	MinOTPDigits = 4
	MaxOTPDigits = 8
	// SingleSegmentLength is the character budget of a single SMS segment.
	SingleSegmentLength = 160
	// ConcatSegmentLength is the character budget of each continuation segment.
	ConcatSegmentLength = 153
)

// Error variables for configuration and lifecycle failures.
var (
	ErrNoProviderConfigured = errors.New("no provider enabled and simulation disabled")
	ErrMissingCredentials   = errors.New("provider enabled without required credentials")
	ErrServiceStopped       = errors.New("sms service is stopped")
	ErrUnknownProvider      = errors.New("unknown provider")
)

// SendResult is the immutable outcome of a single dispatch call or provider
// attempt. Expected failures are reported through Success/ErrorCode rather
// than a Go error.
type SendResult struct {
	Success   bool           `json:"success"`
	MessageID string         `json:"message_id,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Status    DeliveryStatus `json:"status"`
	Cost      int            `json:"cost"`
	Segments  int            `json:"segments,omitempty"`
	ErrorCode ErrorCode      `json:"error_code,omitempty"`
	ErrorMsg  string         `json:"error_message,omitempty"`
	Recipient string         `json:"recipient,omitempty"` // always masked
	Type      MessageType    `json:"type,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Failure builds a failed SendResult with the given code and message.
func Failure(code ErrorCode, msg string) SendResult {
	return SendResult{
		Success:   false,
		Status:    DeliveryStatusFailed,
		ErrorCode: code,
		ErrorMsg:  msg,
		Timestamp: time.Now(),
	}
}

// EventType identifies a lifecycle or delivery event emitted by the service.
type EventType string

const (
	EventServiceReady   EventType = "service.ready"
	EventServiceError   EventType = "service.error"
	EventServiceStopped EventType = "service.stopped"
	EventSMSSent        EventType = "sms.sent"
	EventSMSError       EventType = "sms.error"
	EventCacheCleaned   EventType = "cache.cleaned"
)

// Event is delivered to registered observers. Recipient is always masked.
type Event struct {
	Type      EventType   `json:"type"`
	Message   MessageType `json:"message_type,omitempty"`
	Recipient string      `json:"recipient,omitempty"`
	Provider  string      `json:"provider,omitempty"`
	Code      ErrorCode   `json:"code,omitempty"`
	Error     string      `json:"error,omitempty"`
	Removed   int         `json:"removed,omitempty"`
	Remaining int         `json:"remaining,omitempty"`
	Time      time.Time   `json:"time"`
}

// Segments returns the SMS segment count for a message body of length n.
// Bodies up to one segment bill as one; longer bodies bill the first full
// segment plus 153-character continuation parts.
func Segments(n int) int {
	if n <= 0 {
		return 0
	}
	if n <= SingleSegmentLength {
		return 1
	}
	extra := n - SingleSegmentLength
	parts := extra / ConcatSegmentLength
	if extra%ConcatSegmentLength != 0 {
		parts++
	}
	return 1 + parts
}
