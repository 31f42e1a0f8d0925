/*
OAuth client implementation for atproto.

Feature set includes:

- protected-resource and auth server metadata discovery
- PKCE: generating verifiers and computing S256 challenges
- DPoP: per-session ES256 keys, proof signing, and server nonce handling for both the auth server and the account's host
- PAR submission and authorization URL construction
- token exchange, refresh, and revocation
- authenticated HTTP requests against the account's host

Most applications will use the high-level [ClientApp] and a [ClientAuthStore] implementation to manage logins, persistence, and token refreshes. The lower-level [Client] methods can be used in isolation.

All outbound requests go through an injectable [HTTPClient]; the default is an SSRF-guarded client ([github.com/bibliome/atproto-oauth/util/ssrf.SafeClient]) which refuses plain HTTP and private or internal network addresses.

# Quickstart

Create a single [ClientApp] during service setup, shared across all users and sessions:

	config := oauth.ClientConfig{
		ClientID:    "https://app.example.com/oauth/client-metadata.json",
		RedirectURI: "https://app.example.com/oauth/callback",
		Scope:       "atproto transition:generic",
	}

	app, err := oauth.NewClientApp(config, nil, oauth.NewMemStore())
	if err != nil {
		return err
	}

For a real service, use a database-backed [ClientAuthStore] instead of [MemStore], or all sessions are dropped on restart.

The client metadata document must be served at the client_id URL; [ClientConfig.ClientMetadata] generates it:

	http.HandleFunc("GET /oauth/client-metadata.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(config.ClientMetadata("Example App"))
	})

Login starts from an account handle. [ClientApp.StartAuthFlow] resolves the handle, discovers the auth server, pushes the authorization request, and returns the URL to redirect the browser to:

	redirectURL, err := app.StartAuthFlow(ctx, "alice.example.com")

The auth server sends the user back to the redirect URI; [ClientApp.ProcessCallback] completes the exchange and persists the session:

	sess, err := app.ProcessCallback(ctx, oauth.CallbackParams{
		State: r.URL.Query().Get("state"),
		ISS:   r.URL.Query().Get("iss"),
		Code:  r.URL.Query().Get("code"),
	})

Sessions can then be resumed by DID and used for authenticated requests to the account's host via [Client.DoWithAuth], refreshed with [ClientApp.RefreshSession], and ended with [ClientApp.Logout].
*/
package oauth
