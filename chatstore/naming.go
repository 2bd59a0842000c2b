package chatstore

import (
	"strings"

	"github.com/mqy/minichat/errs"
)

const (
	// Separator joins the two usernames of a conversation id.
	// ValidateUsername never accepts it.
	Separator = "_"

	MinUsernameLen = 3
	MaxUsernameLen = 32
)

// NormalizeUsername trims and lower-cases a username.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername accepts 3-32 chars of [a-z0-9.-] on a normalized name.
func ValidateUsername(s string) error {
	if len(s) < MinUsernameLen || len(s) > MaxUsernameLen {
		return errs.ErrInvalidUsername
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '.' || c == '-':
		default:
			return errs.ErrInvalidUsername
		}
	}
	return nil
}

// CanonicalID returns the conversation id of users a and b: the two
// normalized names sorted and joined by Separator, so that
// CanonicalID(a, b) == CanonicalID(b, a).
func CanonicalID(a, b string) (string, error) {
	a, b = NormalizeUsername(a), NormalizeUsername(b)
	if a == "" || b == "" || a == b {
		return "", errs.ErrInvalidIdentity
	}
	if ValidateUsername(a) != nil || ValidateUsername(b) != nil {
		return "", errs.ErrInvalidIdentity
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// ParseID returns the participants of a canonical id, in sorted order.
func ParseID(id string) (string, string, error) {
	parts := strings.Split(id, Separator)
	if len(parts) != 2 {
		return "", "", errs.ErrInvalidIdentity
	}
	a, b := parts[0], parts[1]
	if ValidateUsername(a) != nil || ValidateUsername(b) != nil || a >= b {
		return "", "", errs.ErrInvalidIdentity
	}
	return a, b, nil
}

// Peer returns the other participant of id, or an error if user is not
// one of its participants.
func Peer(id, user string) (string, error) {
	a, b, err := ParseID(id)
	if err != nil {
		return "", err
	}
	switch user {
	case a:
		return b, nil
	case b:
		return a, nil
	}
	return "", errs.ErrForbidden
}
