// Package template renders localized SMS bodies with safe variable substitution.
//
// Templates are keyed by message kind with French and English variants.
// Placeholders use the {varName} form; variable values are sanitized before
// substitution so a value can never inject markup into the rendered body.
package template

import (
	"fmt"
	"strings"

	"github.com/triqapp/smsgateway/internal/models"
)

// Key identifies a template catalog entry.
type Key string

const (
	KeyOTP              Key = "otp"
	KeyPaymentConfirmed Key = "payment_confirmed"
	KeyPaymentFailed    Key = "payment_failed"
	KeyRefund           Key = "refund"
	KeyLowBalance       Key = "low_balance"
	KeyDispute          Key = "dispute"
	KeyDriverAssigned   Key = "driver_assigned"
	KeyTripStarted      Key = "trip_started"
)

// DefaultLocale is used when the requested locale has no variant.
const DefaultLocale = "fr"

type entry struct {
	required []string
	variants map[string]string
}

var catalog = map[Key]entry{
	KeyOTP: {
		required: []string{"code"},
		variants: map[string]string{
			"fr": "Triq: votre code de vérification est {code}. Il expire dans 10 minutes. Ne le partagez jamais.",
			"en": "Triq: your verification code is {code}. It expires in 10 minutes. Never share it.",
		},
	},
	KeyPaymentConfirmed: {
		required: []string{"amount", "reference"},
		variants: map[string]string{
			"fr": "Triq: paiement de {amount} MAD confirmé. Référence: {reference}. Merci!",
			"en": "Triq: payment of {amount} MAD confirmed. Reference: {reference}. Thank you!",
		},
	},
	KeyPaymentFailed: {
		required: []string{"amount", "reference"},
		variants: map[string]string{
			"fr": "Triq: échec du paiement de {amount} MAD (réf {reference}). Veuillez réessayer ou utiliser un autre moyen.",
			"en": "Triq: payment of {amount} MAD failed (ref {reference}). Please retry or use another method.",
		},
	},
	KeyRefund: {
		required: []string{"amount", "reference"},
		variants: map[string]string{
			"fr": "Triq: remboursement de {amount} MAD effectué (réf {reference}). Délai bancaire: 3 à 5 jours.",
			"en": "Triq: refund of {amount} MAD issued (ref {reference}). Allow 3 to 5 banking days.",
		},
	},
	KeyLowBalance: {
		required: []string{"balance"},
		variants: map[string]string{
			"fr": "Triq: votre solde est faible ({balance} MAD). Rechargez pour continuer à réserver des trajets.",
			"en": "Triq: your balance is low ({balance} MAD). Top up to keep booking trips.",
		},
	},
	KeyDispute: {
		required: []string{"reference"},
		variants: map[string]string{
			"fr": "Triq: votre litige (réf {reference}) a été enregistré. Notre équipe vous contactera sous 48h.",
			"en": "Triq: your dispute (ref {reference}) has been recorded. Our team will contact you within 48h.",
		},
	},
	KeyDriverAssigned: {
		required: []string{"driver", "vehicle"},
		variants: map[string]string{
			"fr": "Triq: {driver} arrive avec {vehicle}. Suivez le trajet dans l'application.",
			"en": "Triq: {driver} is on the way in {vehicle}. Track your trip in the app.",
		},
	},
	KeyTripStarted: {
		required: []string{"destination"},
		variants: map[string]string{
			"fr": "Triq: trajet démarré vers {destination}. Bonne route!",
			"en": "Triq: trip started towards {destination}. Safe travels!",
		},
	},
}

// KeyForKind maps a notification kind to its template key.
func KeyForKind(kind models.NotificationKind) (Key, bool) {
	switch kind {
	case models.KindPaymentConfirmed:
		return KeyPaymentConfirmed, true
	case models.KindPaymentFailed:
		return KeyPaymentFailed, true
	case models.KindRefund:
		return KeyRefund, true
	case models.KindLowBalance:
		return KeyLowBalance, true
	case models.KindDispute:
		return KeyDispute, true
	case models.KindDriverAssigned:
		return KeyDriverAssigned, true
	case models.KindTripStarted:
		return KeyTripStarted, true
	default:
		return "", false
	}
}

// RequiredVars returns the variables a template key expects.
func RequiredVars(key Key) ([]string, bool) {
	e, ok := catalog[key]
	if !ok {
		return nil, false
	}
	return e.required, true
}

// Render produces the localized body for key, substituting vars into the
// {varName} placeholders. It returns models.ErrCodeUnknownTemplate for an
// unknown key and models.ErrCodeMissingField when a required variable is
// absent or empty. Rendering is deterministic.
func Render(key Key, locale string, vars map[string]string) (string, models.ErrorCode, error) {
	e, ok := catalog[key]
	if !ok {
		return "", models.ErrCodeUnknownTemplate, fmt.Errorf("unknown template key %q", key)
	}

	for _, name := range e.required {
		if strings.TrimSpace(vars[name]) == "" {
			return "", models.ErrCodeMissingField, fmt.Errorf("template %q missing required field %q", key, name)
		}
	}

	body, ok := e.variants[locale]
	if !ok {
		body = e.variants[DefaultLocale]
	}

	for name, value := range vars {
		body = strings.ReplaceAll(body, "{"+name+"}", Sanitize(value))
	}
	return body, models.ErrCodeNone, nil
}

// Sanitize strips angle brackets from a variable value so substituted content
// cannot inject markup into the message body.
func Sanitize(value string) string {
	value = strings.ReplaceAll(value, "<", "")
	return strings.ReplaceAll(value, ">", "")
}
