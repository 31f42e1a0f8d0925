package syntax

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var didRegex = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)

// DID is a syntactically valid decentralized identifier, method-tagged
// (eg, "did:plc:abc123" or "did:web:example.com").
//
// Use [ParseDID] instead of wrapping strings directly, especially when
// working with input.
type DID string

func ParseDID(raw string) (DID, error) {
	if raw == "" {
		return "", errors.New("expected DID, got empty string")
	}
	if len(raw) > 2*1024 {
		return "", errors.New("DID is too long (2048 chars max)")
	}
	if !didRegex.MatchString(raw) {
		return "", fmt.Errorf("DID syntax didn't validate via regex")
	}
	return DID(raw), nil
}

// Method returns the method segment of the DID ("plc", "web", ...),
// normalized to lower-case.
func (d DID) Method() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 2 {
		return ""
	}
	return strings.ToLower(parts[1])
}

// Identifier returns the final method-specific segment of the DID.
func (d DID) Identifier() string {
	parts := strings.SplitN(string(d), ":", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

func (d DID) String() string {
	return string(d)
}

func (d DID) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DID) UnmarshalText(text []byte) error {
	did, err := ParseDID(string(text))
	if err != nil {
		return err
	}
	*d = did
	return nil
}
