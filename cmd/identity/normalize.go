package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxUsernameLength bounds usernames in runes.
	MaxUsernameLength = 64
)

// NormalizeUsername performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Additional rules (unicode confusables)
// can be added later behind a versioned policy.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks the display form of a username before it is stored.
// It returns ErrInvalidInput (wrapped in OpError) for empty, oversized, or
// control-character input.
func ValidateUsername(s string) error {
	const op = "identity.ValidateUsername"

	s = strings.TrimSpace(s)
	if s == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}
	if !utf8.ValidString(s) {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is not valid UTF-8"}
	}
	if utf8.RuneCountInString(s) > MaxUsernameLength {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username too long"}
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username contains control characters"}
		}
	}
	return nil
}
