package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxIDLength = 128

// ValidateID checks an opaque identifier such as a peer, session or transport id.
// Ids come from the media server so any printable text is accepted.
func ValidateID(id, fieldName string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, maxIDLength)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%s is not valid UTF-8", fieldName)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%s contains control characters", fieldName)
		}
	}
	return nil
}

func ValidatePeerID(peerID string) error {
	return ValidateID(peerID, "peer ID")
}

// ValidateURL checks that urlStr is absolute and uses one of schemes.
func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("invalid URL scheme %q (must be one of %s)", u.Scheme, strings.Join(schemes, ", "))
}
