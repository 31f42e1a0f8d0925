package oauth

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// nonceRetryStatus reports whether a status code is one the protocol allows
// a nonce-driven retry for.
func nonceRetryStatus(code int) bool {
	return code == 400 || code == 401 || code == 428
}

func formRequest(ctx context.Context, endpoint string, vals url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(vals.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// postWithDPoP sends a form-encoded POST with a fresh DPoP proof. If the
// server rejects the attempt with a retryable status and supplies a fresh
// nonce, the proof is regenerated with that nonce and the request resent
// exactly once; a second failure is not retried. Returns the response and
// the latest observed nonce; the caller owns both the response body and the
// decision of what a non-2xx status means.
func (c *Client) postWithDPoP(ctx context.Context, endpoint string, vals url.Values, key *DPoPKey, nonce string) (*http.Response, string, error) {
	body := vals.Encode()

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		proof, err := key.NewProof("POST", endpoint, nonce, "")
		if err != nil {
			return nil, nonce, err
		}
		req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(body))
		if err != nil {
			return nil, nonce, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("DPoP", proof)

		resp, err = c.Client.Do(req)
		if err != nil {
			return nil, nonce, err
		}

		fresh := resp.Header.Get("DPoP-Nonce")
		if fresh != "" {
			nonce = fresh
		}
		if attempt == 0 && nonceRetryStatus(resp.StatusCode) && fresh != "" {
			slog.Debug("retrying request with server nonce", "endpoint", endpoint, "statusCode", resp.StatusCode)
			resp.Body.Close()
			continue
		}
		break
	}
	return resp, nonce, nil
}
