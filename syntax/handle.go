package syntax

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var handleRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// Handle is a syntactically valid atproto handle: a domain-like,
// human-readable account identifier.
//
// Use [ParseHandle] instead of wrapping strings directly, especially when
// working with input.
type Handle string

func ParseHandle(raw string) (Handle, error) {
	if raw == "" {
		return "", errors.New("expected handle, got empty string")
	}
	if len(raw) > 253 {
		return "", errors.New("handle is too long (253 chars max)")
	}
	if !handleRegex.MatchString(raw) {
		return "", fmt.Errorf("handle syntax didn't validate via regex: %s", raw)
	}
	return Handle(raw), nil
}

// Normalize returns a lower-cased copy of the handle. Handles are
// case-insensitive; normalize before comparing or using as a map key.
func (h Handle) Normalize() Handle {
	return Handle(strings.ToLower(string(h)))
}

func (h Handle) String() string {
	return string(h)
}

func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Handle) UnmarshalText(text []byte) error {
	handle, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = handle
	return nil
}
