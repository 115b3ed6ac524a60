package util

import (
	"strings"
	"unicode"

	"agri-auth/internal/autherr"
)

// NormalizePhone canonicalizes a raw phone input to a 10-digit Indian
// mobile number. It tolerates spaces, hyphens and a +91/91/0 prefix.
// Returns INVALID_PHONE_NUMBER when the remainder is not a valid
// mobile number (10 digits, first digit 6-9).
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, raw)

	cleaned = strings.TrimPrefix(cleaned, "+")
	if len(cleaned) == 12 && strings.HasPrefix(cleaned, "91") {
		cleaned = cleaned[2:]
	} else if len(cleaned) == 11 && strings.HasPrefix(cleaned, "0") {
		cleaned = cleaned[1:]
	}

	if !isValidMobile(cleaned) {
		return "", autherr.New(autherr.CodeInvalidPhoneNumber, "invalid phone number")
	}
	return cleaned, nil
}

func isValidMobile(s string) bool {
	if len(s) != 10 {
		return false
	}
	if s[0] < '6' || s[0] > '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MaskPhone obscures all but the last 4 digits for log output.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
