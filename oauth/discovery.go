package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ResolveAuthServerURL fetches the protected-resource metadata from a
// hosting server and returns its authorization server (the first entry of
// the advertised list).
func (c *Client) ResolveAuthServerURL(ctx context.Context, hostURL string) (string, error) {
	u := hostURL + "/.well-known/oauth-protected-resource"
	resp, err := c.get(ctx, u)
	if err != nil {
		return "", fmt.Errorf("%w: fetching %s: %w", ErrDiscoveryFailed, u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("%w: fetching %s: status=%d", ErrDiscoveryFailed, u, resp.StatusCode)
	}
	var meta ProtectedResourceMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("%w: parsing %s: %w", ErrDiscoveryFailed, u, err)
	}
	if len(meta.AuthorizationServers) == 0 {
		return "", fmt.Errorf("%w: %s lists no authorization servers", ErrDiscoveryFailed, hostURL)
	}
	return meta.AuthorizationServers[0], nil
}

// ResolveAuthServerMetadata fetches and validates the authorization server
// metadata document for an issuer.
func (c *Client) ResolveAuthServerMetadata(ctx context.Context, issuerURL string) (*AuthServerMetadata, error) {
	u := issuerURL + "/.well-known/oauth-authorization-server"
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching %s: %w", ErrDiscoveryFailed, u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%w: fetching %s: status=%d", ErrDiscoveryFailed, u, resp.StatusCode)
	}
	var meta AuthServerMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrDiscoveryFailed, u, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Discover chains both metadata fetches: hosting server to authorization
// server URL to validated metadata.
func (c *Client) Discover(ctx context.Context, hostURL string) (*AuthServerMetadata, error) {
	issuer, err := c.ResolveAuthServerURL(ctx, hostURL)
	if err != nil {
		return nil, err
	}
	return c.ResolveAuthServerMetadata(ctx, issuer)
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	return c.Client.Do(req)
}
