package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/go-querystring/query"
)

// PARRequest carries the caller-generated values for one pushed
// authorization request. The code challenge must be derived from the same
// PKCE verifier later presented at code exchange, and the key must be the
// session's DPoP key.
type PARRequest struct {
	CodeChallenge string
	State         string

	// optional account hint (handle or DID) for the auth server login UI
	LoginHint string

	// optional resource indicator
	Resource string
}

// SendPAR pushes the authorization request to the auth server and returns
// the opaque request reference. The browser-visible authorization URL built
// from it carries no other OAuth parameters; everything else travels here.
func (c *Client) SendPAR(ctx context.Context, meta *AuthServerMetadata, par PARRequest, key *DPoPKey, nonce string) (*AuthRequestRef, error) {
	endpoint := meta.PushedAuthorizationRequestEndpoint

	body := pushedAuthRequest{
		ResponseType:        "code",
		ClientID:            c.Config.ClientID,
		RedirectURI:         c.Config.RedirectURI,
		Scope:               c.Config.Scope,
		State:               par.State,
		CodeChallenge:       par.CodeChallenge,
		CodeChallengeMethod: "S256",
		LoginHint:           par.LoginHint,
		Resource:            par.Resource,
	}
	vals, err := query.Values(body)
	if err != nil {
		return nil, err
	}

	slog.Debug("sending pushed authorization request", "authServer", endpoint, "state", par.State)

	resp, nonce, err := c.postWithDPoP(ctx, endpoint, vals, key, nonce)
	if err != nil {
		return nil, fmt.Errorf("PAR request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	tokenRequests.WithLabelValues("par", httpStatusLabel(resp.StatusCode)).Inc()
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		perr := newProtocolError(resp)
		slog.Warn("PAR request failed", "authServer", endpoint, "statusCode", resp.StatusCode, "err", perr)
		return nil, fmt.Errorf("PAR request to %s: %w", endpoint, perr)
	}

	var ref AuthRequestRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("PAR response from %s failed to decode: %w", endpoint, err)
	}
	ref.DPoPNonce = nonce
	return &ref, nil
}

// BuildAuthorizationURL returns the URL to redirect the end user to: the
// authorization endpoint with only client_id and request_uri as query
// parameters.
func (c *Client) BuildAuthorizationURL(meta *AuthServerMetadata, ref *AuthRequestRef) string {
	vals := url.Values{}
	vals.Set("client_id", c.Config.ClientID)
	vals.Set("request_uri", ref.RequestURI)
	return meta.AuthorizationEndpoint + "?" + vals.Encode()
}
