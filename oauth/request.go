package oauth

import (
	"fmt"
	"log/slog"
	"net/http"
)

// DoWithAuth executes an HTTP request against a resource server (usually
// the account's PDS) with the session's access token and a DPoP proof
// bound to the session key. If the server replies 401 with a fresh
// DPoP-Nonce the request is re-signed and resent exactly once; a second
// 401 is returned to the caller unmodified. The returned nonce is the
// latest one observed and should be persisted back to the session.
//
// Requests with a body must set req.GetBody (http.NewRequest does this
// for common reader types) so the retry can rewind it.
func (c *Client) DoWithAuth(req *http.Request, accessToken string, key *DPoPKey, nonce string) (*http.Response, string, error) {
	ath := HashAccessToken(accessToken)

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		proof, err := key.NewProof(req.Method, req.URL.String(), nonce, ath)
		if err != nil {
			return nil, nonce, err
		}
		req.Header.Set("Authorization", "DPoP "+accessToken)
		req.Header.Set("DPoP", proof)

		resp, err = c.Client.Do(req)
		if err != nil {
			return nil, nonce, err
		}
		resourceRequests.WithLabelValues(httpStatusLabel(resp.StatusCode)).Inc()

		fresh := resp.Header.Get("DPoP-Nonce")
		if fresh != "" {
			nonce = fresh
		}
		if attempt == 0 && resp.StatusCode == http.StatusUnauthorized && fresh != "" {
			slog.Debug("retrying resource request with server nonce", "url", req.URL.String())
			resp.Body.Close()
			if req.Body != nil {
				if req.GetBody == nil {
					return nil, nonce, fmt.Errorf("resource request to %s not retryable: body cannot be rewound", req.URL)
				}
				body, err := req.GetBody()
				if err != nil {
					return nil, nonce, err
				}
				req.Body = body
			}
			continue
		}
		break
	}
	return resp, nonce, nil
}
