package types

import (
	"fmt"
	"net/url"
	"strings"
)

// Input limits for user-supplied records.
const (
	MaxNameLength     = 200
	MaxTextLength     = 10000
	MaxListItems      = 50
	MaxPointsPerAward = 1000
)

// ValidateRedirectURL checks that a checkout redirect target is an absolute
// http(s) URL. Plain http is only accepted for localhost.
func ValidateRedirectURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%s: redirect url must be absolute", ErrCodeValidationInvalidInput)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		host := parsed.Hostname()
		if host == "localhost" || host == "127.0.0.1" {
			return nil
		}
		return fmt.Errorf("%s: redirect url must use https", ErrCodeValidationInvalidInput)
	default:
		return fmt.Errorf("%s: unsupported redirect url scheme %q", ErrCodeValidationInvalidInput, parsed.Scheme)
	}
}

// NormalizeEmail lowercases and trims an address for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
