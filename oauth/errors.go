package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/bibliome/atproto-oauth/util/ssrf"
)

var (
	// ErrDiscoveryFailed indicates the protected-resource or auth server
	// metadata could not be fetched or was invalid.
	ErrDiscoveryFailed = errors.New("auth server discovery failed")

	// ErrInvalidAuthServerMetadata indicates a fetched metadata document was
	// missing a required field.
	ErrInvalidAuthServerMetadata = errors.New("invalid auth server metadata")

	// ErrInvalidClientConfig indicates the client configuration failed
	// validation at construction time.
	ErrInvalidClientConfig = errors.New("invalid client config")
)

const errBodyLimit = 1024

// ProtocolError is returned when a PAR, token, or resource endpoint
// rejects a request. When the response body was a standard OAuth error
// document, Code and Description carry its `error` and `error_description`
// fields; otherwise RawBody carries a truncated copy of the body.
type ProtocolError struct {
	StatusCode  int
	Code        string
	Description string
	RawBody     string
}

func (pe *ProtocolError) Error() string {
	if pe.Code != "" && pe.Description != "" {
		return fmt.Sprintf("OAuth request failed (HTTP %d): %s: %s", pe.StatusCode, pe.Code, pe.Description)
	}
	if pe.Code != "" {
		return fmt.Sprintf("OAuth request failed (HTTP %d): %s", pe.StatusCode, pe.Code)
	}
	if pe.RawBody != "" {
		return fmt.Sprintf("OAuth request failed (HTTP %d): %s", pe.StatusCode, pe.RawBody)
	}
	return fmt.Sprintf("OAuth request failed (HTTP %d)", pe.StatusCode)
}

// newProtocolError consumes (part of) the response body. The caller remains
// responsible for closing it.
func newProtocolError(resp *http.Response) *ProtocolError {
	pe := &ProtocolError{StatusCode: resp.StatusCode}
	b, err := ssrf.ReadBody(resp.Body, errBodyLimit)
	if err != nil {
		return pe
	}
	var body struct {
		Code        string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(b, &body); err == nil && body.Code != "" {
		pe.Code = body.Code
		pe.Description = body.Description
		return pe
	}
	pe.RawBody = string(b)
	return pe
}
