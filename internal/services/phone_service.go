package services

import (
	"strings"
	"unicode"
)

// PhoneService normalizes phone numbers to canonical E.164 form. Every synced
// entity that carries a number runs through Normalize before storage, so the
// same rules must hold on every client: the normalized string is the dedup
// key, and two devices formatting the same number differently must still
// collapse to one row.
type PhoneService struct{}

// NewPhoneService creates a new PhoneService
func NewPhoneService() *PhoneService {
	return &PhoneService{}
}

// Normalize converts a raw address to canonical form:
//   - alphanumeric sender ids (shortnames, email gateways) are trimmed only
//   - formatting characters are stripped, keeping digits and a leading +
//   - 10-digit numbers are assumed NANP and become +1XXXXXXXXXX
//   - 11-digit numbers with a leading 1 become +1XXXXXXXXXX
//   - already +-prefixed numbers keep their country code
//   - 6 digits or fewer is a short code and stays bare
func (s *PhoneService) Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if isAlphanumericSender(trimmed) {
		return trimmed
	}

	plus := strings.HasPrefix(trimmed, "+")
	digits := keepDigits(trimmed)
	if digits == "" {
		return trimmed
	}

	if plus {
		return "+" + digits
	}

	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	}

	// Short codes and anything without a reliable country-code rule stay as
	// bare digits.
	return digits
}

// IsShortCode reports whether the address is a carrier short code.
func (s *PhoneService) IsShortCode(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || isAlphanumericSender(trimmed) {
		return false
	}
	digits := keepDigits(trimmed)
	return digits != "" && len(digits) <= 6 && !strings.HasPrefix(trimmed, "+")
}

// Same reports whether two raw addresses normalize to the same canonical
// form.
func (s *PhoneService) Same(a, b string) bool {
	return s.Normalize(a) == s.Normalize(b)
}

// isAlphanumericSender detects sender ids that are not phone numbers at all:
// branded SMS senders ("GOOGLE"), email-to-SMS gateways. Those are stored
// verbatim because stripping them would destroy the identifier.
func isAlphanumericSender(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || r == '@' {
			return true
		}
	}
	return false
}

func keepDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
