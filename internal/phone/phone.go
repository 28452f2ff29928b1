// Package phone provides validation, operator detection, normalization and
// masking for Moroccan mobile numbers (+212 numbering plan).
//
// All adapters receive numbers in the international wire format produced by
// Normalize; all log lines and events carry the redacted form produced by Mask.
package phone

import (
	"regexp"
	"strings"

	"github.com/triqapp/smsgateway/internal/models"
)

// Operator identifies the recipient's mobile carrier, detected by prefix.
type Operator string

const (
	OperatorIAM     Operator = "iam"
	OperatorOrange  Operator = "orange"
	OperatorInwi    Operator = "inwi"
	OperatorUnknown Operator = "unknown"
)

// CountryCode is the dialing code all wire-format numbers carry.
const CountryCode = "212"

// Accepted input shapes. A mobile number has 9 significant digits starting
// with 6 or 7.
var (
	intlPattern        = regexp.MustCompile(`^\+212[67]\d{8}$`)
	countryCodePattern = regexp.MustCompile(`^212[67]\d{8}$`)
	localZeroPattern   = regexp.MustCompile(`^0[67]\d{8}$`)
	bareLocalPattern   = regexp.MustCompile(`^[67]\d{8}$`)
)

// operatorPrefixes maps the first two significant digits to a carrier.
var operatorPrefixes = map[string]Operator{
	"61": OperatorIAM, "66": OperatorIAM, "70": OperatorIAM, "76": OperatorIAM,
	"65": OperatorOrange, "69": OperatorOrange, "74": OperatorOrange, "77": OperatorOrange,
	"60": OperatorInwi, "63": OperatorInwi, "67": OperatorInwi, "78": OperatorInwi,
}

// Validate reports whether number matches one of the four accepted shapes.
// It returns models.ErrCodeInvalidPhone as the error code on rejection.
func Validate(number string) (bool, models.ErrorCode) {
	n := strings.TrimSpace(number)
	if n == "" {
		return false, models.ErrCodeInvalidPhone
	}
	if intlPattern.MatchString(n) || countryCodePattern.MatchString(n) ||
		localZeroPattern.MatchString(n) || bareLocalPattern.MatchString(n) {
		return true, models.ErrCodeNone
	}
	return false, models.ErrCodeInvalidPhone
}

// Normalize canonicalizes any accepted shape into the international wire
// format "+212XXXXXXXXX". Normalize is idempotent for accepted inputs.
// It returns the input unchanged when validation fails; callers are expected
// to Validate first.
func Normalize(number string) string {
	n := strings.TrimSpace(number)
	switch {
	case intlPattern.MatchString(n):
		return n
	case countryCodePattern.MatchString(n):
		return "+" + n
	case localZeroPattern.MatchString(n):
		return "+" + CountryCode + n[1:]
	case bareLocalPattern.MatchString(n):
		return "+" + CountryCode + n
	default:
		return n
	}
}

// DetectOperator classifies a number by its significant-digit prefix,
// defaulting to OperatorUnknown. Accepts any of the four shapes.
func DetectOperator(number string) Operator {
	if ok, _ := Validate(number); !ok {
		return OperatorUnknown
	}
	significant := strings.TrimPrefix(Normalize(number), "+"+CountryCode)
	if len(significant) < 2 {
		return OperatorUnknown
	}
	if op, ok := operatorPrefixes[significant[:2]]; ok {
		return op
	}
	return OperatorUnknown
}

// Mask redacts a number for logging: the first three and last three digits
// stay visible, everything between is replaced by '*'. A leading '+' is
// preserved. Inputs too short to redact meaningfully are fully masked.
func Mask(number string) string {
	n := strings.TrimSpace(number)
	prefix := ""
	if strings.HasPrefix(n, "+") {
		prefix = "+"
		n = n[1:]
	}
	if len(n) <= 6 {
		return prefix + strings.Repeat("*", len(n))
	}
	return prefix + n[:3] + strings.Repeat("*", len(n)-6) + n[len(n)-3:]
}
