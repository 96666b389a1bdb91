// Package policy validates raw password strength and canonicalizes email
// addresses. It is pure: no clocks, no stores, no side effects.
package policy

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrPasswordNoUpper  = errors.New("password needs an uppercase letter")
	ErrPasswordNoLower  = errors.New("password needs a lowercase letter")
	ErrPasswordNoDigit  = errors.New("password needs a digit")
	ErrPasswordNoSymbol = errors.New("password needs a symbol")

	ErrEmailMalformed = errors.New("malformed email address")
)

// symbols is the accepted punctuation set for the symbol rule.
const symbols = "!@#$%^&*()-_=+[]{};:'\",.<>/?\\|`~"

// Policy bounds accepted password lengths. Character-class rules are fixed.
type Policy struct {
	minLength int
	maxLength int
}

// New builds a Policy. Non-positive bounds fall back to 8 and 128.
func New(minLength, maxLength int) Policy {
	if minLength <= 0 {
		minLength = 8
	}
	if maxLength <= 0 {
		maxLength = 128
	}
	return Policy{minLength: minLength, maxLength: maxLength}
}

// Validate checks the password against the rules in a fixed order and
// returns the first failing rule only: length-low, length-high, uppercase,
// lowercase, digit, symbol. Callers must not assume all violations are
// reported at once.
func (p Policy) Validate(password string) error {
	length := utf8.RuneCountInString(password)
	if length < p.minLength {
		return ErrPasswordTooShort
	}
	if length > p.maxLength {
		return ErrPasswordTooLong
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(symbols, r):
			hasSymbol = true
		}
	}

	switch {
	case !hasUpper:
		return ErrPasswordNoUpper
	case !hasLower:
		return ErrPasswordNoLower
	case !hasDigit:
		return ErrPasswordNoDigit
	case !hasSymbol:
		return ErrPasswordNoSymbol
	}

	return nil
}

// NormalizeEmail validates the shape of an email address and returns its
// canonical lower-cased form, which is the account uniqueness key. It
// requires exactly one @, a non-empty local part, and a syntactically valid
// dotted domain.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))

	at := strings.IndexByte(email, '@')
	if at <= 0 || at != strings.LastIndexByte(email, '@') {
		return "", ErrEmailMalformed
	}

	local, domain := email[:at], email[at+1:]
	if local == "" || strings.ContainsAny(local, " \t") {
		return "", ErrEmailMalformed
	}
	if !validDomain(domain) {
		return "", ErrEmailMalformed
	}

	return email, nil
}

func validDomain(domain string) bool {
	if domain == "" || !strings.Contains(domain, ".") {
		return false
	}

	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			if r != '-' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return false
			}
		}
	}

	return true
}
