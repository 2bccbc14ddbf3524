// Package normalize provides idempotent value canonicalization for emit-time
// cleaning: US phone numbers, email addresses, dates, booleans, and enum
// vocabulary resolution.
//
// Every normalizer is a pure function from string to string that either
// succeeds or returns a *Error; no normalizer panics and none mutates shared
// state. All normalizers satisfy f(f(x)) == f(x) over their accepted domain,
// so applying one twice can never change a value that already passed.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Error describes a normalization failure. The message doubles as the
// user-facing hint attached to exception records, so it states what the
// input looked like and what was expected.
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}

func failf(format string, args ...any) error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

var (
	nonDigits = regexp.MustCompile(`\D`)
	isoDate   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

const (
	phoneDigitsBare = 10
	phoneDigitsFull = 11
)

// PhoneUS normalizes a US phone number to 11 digits with a leading "1".
//
// All non-digit characters are stripped first. Ten digits gain the country
// code; eleven digits starting with "1" pass through. Anything else fails.
func PhoneUS(value string) (string, error) {
	digits := nonDigits.ReplaceAllString(value, "")

	switch {
	case len(digits) == phoneDigitsBare:
		return "1" + digits, nil
	case len(digits) == phoneDigitsFull && strings.HasPrefix(digits, "1"):
		return digits, nil
	default:
		return "", failf("Expected 10 or 11 digits, got %d (%s)", len(digits), value)
	}
}

// Email normalizes an email address: trim, lowercase, and a structural check
// requiring exactly one "@", a non-empty local part, and a domain containing
// at least one "." with non-empty labels on both sides.
func Email(value string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(value))

	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "", failf("Expected exactly one @ in email: %s", value)
	}

	if local == "" {
		return "", failf("Email has empty local part: %s", value)
	}

	if !strings.Contains(domain, ".") {
		return "", failf("Email domain has no dot: %s", value)
	}

	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return "", failf("Email domain has an empty label: %s", value)
		}
	}

	return email, nil
}

// dateLayouts are tried in order after the fast ISO path. US forms come
// before EU forms, so ambiguous strings like 03/04/2024 resolve as US.
// The numeric layouts use non-padded verbs so both 01/15/2024 and 1/15/2024
// parse; Go's padded verbs would reject the unpadded form.
var dateLayouts = []string{
	"2006-1-2",        // ISO
	"1/2/2006",        // US: 01/15/2024
	"2/1/2006",        // EU: 15/01/2024
	"1-2-2006",        // US: 01-15-2024
	"2-1-2006",        // EU: 15-01-2024
	"2006/1/2",        // 2024/01/15
	"Jan 2, 2006",     // Jan 15, 2024
	"January 2, 2006", // January 15, 2024
	"2 Jan 2006",      // 15 Jan 2024
	"2 January 2006",  // 15 January 2024
	"20060102",        // compact
}

const (
	serialMin = 1
	serialMax = 100000
)

// serialEpoch is the spreadsheet day-zero (1899-12-30).
var serialEpoch = time.Date(1899, time.December, 30, 0, 0, 0, 0, time.UTC)

// DateAny normalizes a date in any supported input form to YYYY-MM-DD.
//
// A valid ISO string passes through unchanged. Otherwise the layouts above
// are tried in order, then a numeric value in (1, 100000) is interpreted as
// a spreadsheet serial (days since 1899-12-30).
func DateAny(value string) (string, error) {
	s := strings.TrimSpace(value)

	if isoDate.MatchString(s) {
		if _, err := time.Parse("2006-01-02", s); err == nil {
			return s, nil
		}
		// Shaped like ISO but not a real date (e.g. 2024-13-40); fall
		// through to the other layouts.
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if serial > serialMin && serial < serialMax {
			t := serialEpoch.Add(time.Duration(serial * float64(24*time.Hour)))

			return t.Format("2006-01-02"), nil
		}
	}

	return "", failf("Cannot parse date: %s", value)
}

// Bool coerces a truthy/falsy token to the canonical strings "true"/"false".
// Recognized (case-insensitive): true/t/yes/y/1 and false/f/no/n/0.
func Bool(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "t", "yes", "y", "1":
		return "true", nil
	case "false", "f", "no", "n", "0":
		return "false", nil
	default:
		return "", failf("Cannot interpret as boolean: %s", value)
	}
}

// Enum resolves a raw enum value to a canonical external ID.
//
// Resolution order, first hit wins:
//  1. seed synonym alias
//  2. inline mapping key
//  3. membership in inline mapping values (already an external ID)
//  4. membership in seed canonical set (already canonical)
//
// Lookup is exact-match and case-sensitive.
func Enum(value string, inline map[string]string, synonyms map[string]string, canonical map[string]struct{}) (string, error) {
	v := strings.TrimSpace(value)

	if target, ok := synonyms[v]; ok {
		return target, nil
	}

	if target, ok := inline[v]; ok {
		return target, nil
	}

	for _, mapped := range inline {
		if v == mapped {
			return v, nil
		}
	}

	if _, ok := canonical[v]; ok {
		return v, nil
	}

	return "", failf("Unknown enum value: %q (not in mapping or synonyms)", v)
}
