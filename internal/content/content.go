package content

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

const (
	MaxMessageLength     = 4000
	MaxDisplayNameLength = 64
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

var (
	policy        = bluemonday.UGCPolicy()
	namePolicy    = bluemonday.StrictPolicy()
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from message text.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// SanitizeName strips all markup from a display name and caps its length.
func SanitizeName(name string) string {
	clean := strings.TrimSpace(namePolicy.Sanitize(name))
	if utf8.RuneCountInString(clean) > MaxDisplayNameLength {
		clean = string([]rune(clean)[:MaxDisplayNameLength])
	}
	return clean
}

// ValidateUsername checks if the username contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateUsername(username string) error {
	if username == "" {
		return errors.New("username cannot be empty")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("username contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}

// PrepareMessage trims and sanitizes chat message text.
// Length is counted in runes after sanitizing.
func PrepareMessage(text string) (string, error) {
	clean := strings.TrimSpace(Sanitize(text))
	if clean == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(clean) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return clean, nil
}
