// Package phone turns user-entered phone numbers into the canonical
// +<country><mobile indicator><subscriber> dialing format.
package phone

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	DefaultCountryCode      = "54"
	DefaultMobileIndicator  = "9"
	DefaultSubscriberLength = 10

	internationalPrefix = "00"
	trunkPrefix         = "0"
)

var nonDialable = regexp.MustCompile(`[^\d+]+`)

// Normalizer applies a national numbering plan. The zero value is not usable;
// build one with New or use Default.
type Normalizer struct {
	countryCode      string
	mobileIndicator  string
	subscriberLength int
	canonical        *regexp.Regexp
}

// Default is the Argentine numbering plan.
var Default = MustNew(DefaultCountryCode, DefaultMobileIndicator, DefaultSubscriberLength)

func New(countryCode, mobileIndicator string, subscriberLength int) (*Normalizer, error) {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	mobileIndicator = strings.TrimSpace(mobileIndicator)

	if countryCode == "" || !isDigits(countryCode) {
		return nil, fmt.Errorf("invalid country code %q", countryCode)
	}
	if mobileIndicator != "" && !isDigits(mobileIndicator) {
		return nil, fmt.Errorf("invalid mobile indicator %q", mobileIndicator)
	}
	if subscriberLength <= 0 {
		return nil, fmt.Errorf("subscriber length must be positive")
	}

	pattern := fmt.Sprintf(`^\+%s%s\d{8,12}$`, regexp.QuoteMeta(countryCode), regexp.QuoteMeta(mobileIndicator))

	return &Normalizer{
		countryCode:      countryCode,
		mobileIndicator:  mobileIndicator,
		subscriberLength: subscriberLength,
		canonical:        regexp.MustCompile(pattern),
	}, nil
}

func MustNew(countryCode, mobileIndicator string, subscriberLength int) *Normalizer {
	n, err := New(countryCode, mobileIndicator, subscriberLength)
	if err != nil {
		panic(err)
	}
	return n
}

// Normalize returns a best-effort canonical form of raw. Input without any
// digits normalizes to the empty string. Normalize is idempotent.
func (n *Normalizer) Normalize(raw string) string {
	s := nonDialable.ReplaceAllString(strings.TrimSpace(raw), "")

	international := strings.HasPrefix(s, "+")
	digits := strings.ReplaceAll(s, "+", "")

	if !international && strings.HasPrefix(digits, internationalPrefix) {
		international = true
		digits = strings.TrimPrefix(digits, internationalPrefix)
	}
	if digits == "" {
		return ""
	}

	if international {
		// Foreign numbers are kept as dialed; IsValid rejects them.
		if !strings.HasPrefix(digits, n.countryCode) {
			return "+" + digits
		}
		return "+" + n.countryCode + n.withIndicator(strings.TrimPrefix(digits, n.countryCode))
	}

	if !n.hasCountryPrefix(digits) {
		digits = strings.TrimPrefix(digits, trunkPrefix)
		if digits == "" {
			return ""
		}
	}
	if n.hasCountryPrefix(digits) {
		return "+" + n.countryCode + n.withIndicator(strings.TrimPrefix(digits, n.countryCode))
	}

	return "+" + n.countryCode + n.withIndicator(digits)
}

// IsValid reports whether raw normalizes to a canonical mobile number.
func (n *Normalizer) IsValid(raw string) bool {
	normalized := n.Normalize(raw)
	if normalized == "" {
		return false
	}
	return n.canonical.MatchString(normalized)
}

func (n *Normalizer) CountryCode() string { return n.countryCode }

// hasCountryPrefix treats a digit string as already carrying the country code
// only when a full subscriber number still follows it.
func (n *Normalizer) hasCountryPrefix(digits string) bool {
	return strings.HasPrefix(digits, n.countryCode) &&
		len(digits)-len(n.countryCode) >= n.subscriberLength
}

func (n *Normalizer) withIndicator(subscriber string) string {
	if n.mobileIndicator == "" {
		return subscriber
	}
	if len(subscriber) == n.subscriberLength && !strings.HasPrefix(subscriber, n.mobileIndicator) {
		return n.mobileIndicator + subscriber
	}
	return subscriber
}

// Normalize uses the default numbering plan.
func Normalize(raw string) string { return Default.Normalize(raw) }

// IsValid uses the default numbering plan.
func IsValid(raw string) bool { return Default.IsValid(raw) }

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
