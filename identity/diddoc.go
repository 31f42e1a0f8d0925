package identity

import (
	"fmt"
	"strings"

	"github.com/bibliome/atproto-oauth/syntax"
)

// Service type identifying the atproto hosting server (PDS) entry in a DID
// document's service list.
const PDSServiceType = "AtprotoPersonalDataServer"

type DIDDocument struct {
	DID         syntax.DID   `json:"id"`
	AlsoKnownAs []string     `json:"alsoKnownAs,omitempty"`
	Service     []DocService `json:"service,omitempty"`
}

type DocService struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

// PDSEndpoint returns the hosting server URL from the document's service
// list, or an error wrapping [ErrServiceNotDeclared] if no entry matches
// [PDSServiceType].
func (doc *DIDDocument) PDSEndpoint() (string, error) {
	for _, svc := range doc.Service {
		if svc.Type != PDSServiceType {
			continue
		}
		if svc.ServiceEndpoint == "" {
			continue
		}
		return svc.ServiceEndpoint, nil
	}
	return "", fmt.Errorf("%w: no %s entry", ErrServiceNotDeclared, PDSServiceType)
}

// DeclaresHandle reports whether the document's alsoKnownAs list claims the
// given handle (as an "at://" URI).
func (doc *DIDDocument) DeclaresHandle(handle syntax.Handle) bool {
	want := "at://" + strings.ToLower(handle.String())
	for _, aka := range doc.AlsoKnownAs {
		if strings.ToLower(aka) == want {
			return true
		}
	}
	return false
}
