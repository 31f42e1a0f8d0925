package oauth

import (
	"fmt"
	"net/http"

	"github.com/bibliome/atproto-oauth/util/ssrf"
)

// HTTPClient is the outbound request surface the protocol client depends
// on. Production callers should use an SSRF-guarded [ssrf.SafeClient];
// tests can substitute any transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the low-level OAuth protocol client: discovery, PAR, token
// requests, and authenticated resource calls. It holds no per-session
// state; keys, verifiers, and nonces are supplied by the caller on each
// call so one Client can serve concurrent sessions.
type Client struct {
	Client HTTPClient
	Config ClientConfig
}

// NewClient validates the configuration and verifies at construction that
// the cryptographic primitives this client needs are usable, by generating
// and signing a throwaway proof. Either every later call has working
// crypto, or construction fails fast with a descriptive error.
func NewClient(config ClientConfig, httpClient HTTPClient) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if httpClient == nil {
		httpClient = ssrf.NewSafeClient()
	}
	key, err := NewDPoPKey()
	if err != nil {
		return nil, err
	}
	if _, err := key.NewProof("POST", "https://example.com/check", "", ""); err != nil {
		return nil, fmt.Errorf("%w: proof signing self-check: %w", ErrDPoPKeyUnavailable, err)
	}
	return &Client{
		Client: httpClient,
		Config: config,
	}, nil
}
