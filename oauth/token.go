package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/go-querystring/query"
)

// ExchangeCode trades an authorization code for a token set. The PKCE
// verifier and DPoP key must be the ones generated before PAR for this
// session; the resulting access token is bound to that key.
func (c *Client) ExchangeCode(ctx context.Context, meta *AuthServerMetadata, code, verifier string, key *DPoPKey, nonce string) (*TokenSet, error) {
	body := initialTokenRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  c.Config.RedirectURI,
		ClientID:     c.Config.ClientID,
		CodeVerifier: verifier,
	}
	return c.tokenRequest(ctx, meta, "exchange", body, key, nonce)
}

// RefreshTokens trades a refresh token for a new token set, using the same
// session DPoP key.
func (c *Client) RefreshTokens(ctx context.Context, meta *AuthServerMetadata, refreshToken string, key *DPoPKey, nonce string) (*TokenSet, error) {
	body := refreshTokenRequest{
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		ClientID:     c.Config.ClientID,
	}
	return c.tokenRequest(ctx, meta, "refresh", body, key, nonce)
}

func (c *Client) tokenRequest(ctx context.Context, meta *AuthServerMetadata, op string, body any, key *DPoPKey, nonce string) (*TokenSet, error) {
	endpoint := meta.TokenEndpoint
	vals, err := query.Values(body)
	if err != nil {
		return nil, err
	}

	resp, nonce, err := c.postWithDPoP(ctx, endpoint, vals, key, nonce)
	if err != nil {
		return nil, fmt.Errorf("token request to %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	tokenRequests.WithLabelValues(op, httpStatusLabel(resp.StatusCode)).Inc()
	if resp.StatusCode != 200 {
		perr := newProtocolError(resp)
		slog.Warn("token request failed", "authServer", endpoint, "statusCode", resp.StatusCode, "err", perr)
		return nil, fmt.Errorf("token request to %s: %w", endpoint, perr)
	}

	var tokens TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("token response from %s failed to decode: %w", endpoint, err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response from %s missing access_token", endpoint)
	}
	if tokens.TokenType != "DPoP" {
		return nil, fmt.Errorf("token response from %s has unexpected token_type: %s", endpoint, tokens.TokenType)
	}
	tokens.DPoPNonce = nonce
	return &tokens, nil
}

// RevokeToken asks the auth server to revoke a token. Revocation is
// advisory cleanup: if the server advertises no revocation endpoint this
// returns false without a network call, and any failure (protocol or
// transport) also returns false rather than an error. The DPoP proof is
// attached only when a key is supplied. Returns true only on HTTP 200.
func (c *Client) RevokeToken(ctx context.Context, meta *AuthServerMetadata, token, tokenTypeHint string, key *DPoPKey, nonce string) bool {
	if meta.RevocationEndpoint == "" {
		return false
	}
	endpoint := meta.RevocationEndpoint

	body := revokeTokenRequest{
		Token:         token,
		TokenTypeHint: tokenTypeHint,
		ClientID:      c.Config.ClientID,
	}
	vals, err := query.Values(body)
	if err != nil {
		return false
	}

	if key == nil {
		req, err := formRequest(ctx, endpoint, vals)
		if err != nil {
			return false
		}
		resp, err := c.Client.Do(req)
		if err != nil {
			slog.Warn("token revocation failed", "authServer", endpoint, "err", err)
			return false
		}
		defer resp.Body.Close()
		tokenRequests.WithLabelValues("revoke", httpStatusLabel(resp.StatusCode)).Inc()
		return resp.StatusCode == 200
	}

	resp, _, err := c.postWithDPoP(ctx, endpoint, vals, key, nonce)
	if err != nil {
		slog.Warn("token revocation failed", "authServer", endpoint, "err", err)
		return false
	}
	defer resp.Body.Close()
	tokenRequests.WithLabelValues("revoke", httpStatusLabel(resp.StatusCode)).Inc()
	return resp.StatusCode == 200
}
