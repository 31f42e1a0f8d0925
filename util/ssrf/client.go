package ssrf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultRedirects = 5
)

// SafeClient is an HTTP client which runs [CheckURL] before every request,
// including each redirect hop, and applies a fixed timeout. It is the trust
// boundary for all protocol traffic to caller-influenced hosts: resolver,
// discovery, PAR, and token requests must all go through it.
//
// The zero value is not usable; construct with [NewSafeClient].
type SafeClient struct {
	Client    *http.Client
	Resolver  *net.Resolver
	UserAgent string
}

// NewSafeClient returns a SafeClient with a pooled transport, 10 second
// timeout, and a 5-redirect cap.
func NewSafeClient() *SafeClient {
	sc := &SafeClient{
		UserAgent: "atproto-oauth-client",
	}
	sc.Client = &http.Client{
		Transport: cleanhttp.DefaultPooledTransport(),
		Timeout:   defaultTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= defaultRedirects {
				return fmt.Errorf("%w: too many redirects", ErrRequestFailed)
			}
			return CheckURL(req.Context(), sc.Resolver, req.URL.String())
		},
	}
	return sc
}

// Do runs the guard against the request URL, then executes the request.
// Transport-level failures are wrapped as [ErrRequestTimeout] or
// [ErrRequestFailed]; the guard never silently proceeds past a blocked host.
func (sc *SafeClient) Do(req *http.Request) (*http.Response, error) {
	if err := CheckURL(req.Context(), sc.Resolver, req.URL.String()); err != nil {
		slog.Warn("blocked outbound request", "url", req.URL.String(), "err", err)
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" && sc.UserAgent != "" {
		req.Header.Set("User-Agent", sc.UserAgent)
	}
	resp, err := sc.Client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrRequestTimeout, req.URL)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrRequestFailed, req.URL, err)
	}
	return resp, nil
}

// Get issues a guarded GET request.
func (sc *SafeClient) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	return sc.Do(req)
}

// PostForm issues a guarded form-encoded POST request, with optional extra
// headers (eg, a DPoP proof).
func (sc *SafeClient) PostForm(ctx context.Context, rawURL string, vals url.Values, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", rawURL, strings.NewReader(vals.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return sc.Do(req)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ReadBody reads a capped response body, for error reporting and small
// metadata documents.
func ReadBody(r io.Reader, limit int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, limit))
}
