package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bibliome/atproto-oauth/identity"
	"github.com/bibliome/atproto-oauth/syntax"
	"github.com/bibliome/atproto-oauth/util/ssrf"
)

// IdentityResolver is the subset of identity resolution an auth flow needs.
// Satisfied by [identity.Resolver] and [identity.CacheResolver].
type IdentityResolver interface {
	LookupHandle(ctx context.Context, handle syntax.Handle) (*identity.Identity, error)
}

// ClientApp composes identity resolution, auth server discovery, PAR, and
// token exchange into the complete login flow of a web app. It owns a
// [ClientAuthStore] to bridge the redirect gap between StartAuthFlow and
// ProcessCallback.
type ClientApp struct {
	Client   *Client
	Resolver IdentityResolver
	Store    ClientAuthStore

	// Events, when set, receives a timed record of each flow step.
	Events *slog.Logger
}

// NewClientApp validates the config and verifies DPoP proof signing works
// in this process before returning. A nil httpClient gets an SSRF-guarded
// default shared by OAuth requests and identity resolution.
func NewClientApp(config ClientConfig, httpClient HTTPClient, store ClientAuthStore) (*ClientApp, error) {
	if httpClient == nil {
		httpClient = ssrf.NewSafeClient()
	}
	client, err := NewClient(config, httpClient)
	if err != nil {
		return nil, err
	}
	return &ClientApp{
		Client:   client,
		Resolver: identity.NewResolver(httpClient),
		Store:    store,
	}, nil
}

func (app *ClientApp) event(ctx context.Context, step string, start time.Time, attrs ...any) {
	if app.Events == nil {
		return
	}
	attrs = append(attrs, "step", step, "duration", time.Since(start))
	app.Events.InfoContext(ctx, "oauth flow step", attrs...)
}

// StartAuthFlow begins a login for the given account handle: resolves the
// handle to its hosting server, discovers the authorization server, pushes
// the authorization request, persists the in-flight state, and returns the
// URL to redirect the user's browser to.
func (app *ClientApp) StartAuthFlow(ctx context.Context, handle string) (string, error) {
	h, err := syntax.ParseHandle(handle)
	if err != nil {
		return "", err
	}

	start := time.Now()
	ident, err := app.Resolver.LookupHandle(ctx, h)
	if err != nil {
		return "", err
	}
	app.event(ctx, "resolve-identity", start, "handle", ident.Handle, "did", ident.DID)

	start = time.Now()
	authServerURL, err := app.Client.ResolveAuthServerURL(ctx, ident.PDSEndpoint)
	if err != nil {
		return "", err
	}
	meta, err := app.Client.ResolveAuthServerMetadata(ctx, authServerURL)
	if err != nil {
		return "", err
	}
	app.event(ctx, "discover-authserver", start, "authServer", authServerURL)

	key, err := NewDPoPKey()
	if err != nil {
		return "", err
	}
	privJWK, err := key.PrivateJWKBytes()
	if err != nil {
		return "", err
	}
	verifier := GeneratePKCEVerifier()
	state := randomToken()

	start = time.Now()
	ref, err := app.Client.SendPAR(ctx, meta, PARRequest{
		CodeChallenge: S256CodeChallenge(verifier),
		State:         state,
		LoginHint:     ident.Handle.String(),
	}, key, "")
	if err != nil {
		return "", err
	}
	app.event(ctx, "pushed-auth-request", start, "authServer", authServerURL)

	info := AuthRequestData{
		State:               state,
		DID:                 ident.DID,
		Handle:              ident.Handle,
		PDSEndpoint:         ident.PDSEndpoint,
		AuthServerURL:       authServerURL,
		Scope:               app.Client.Config.Scope,
		RequestURI:          ref.RequestURI,
		PKCEVerifier:        verifier,
		DPoPAuthServerNonce: ref.DPoPNonce,
		DPoPPrivateJWK:      privJWK,
	}
	if err := app.Store.SaveAuthRequestInfo(ctx, info); err != nil {
		return "", err
	}

	return app.Client.BuildAuthorizationURL(meta, ref), nil
}

// CallbackParams are the query parameters delivered to the redirect URI.
type CallbackParams struct {
	State string
	ISS   string
	Code  string
}

// ProcessCallback completes the login: looks up (and consumes) the
// in-flight request state, checks the issuer, exchanges the code for
// tokens, and persists the resulting session.
func (app *ClientApp) ProcessCallback(ctx context.Context, params CallbackParams) (*SessionData, error) {
	info, err := app.Store.GetAuthRequestInfo(ctx, params.State)
	if err != nil {
		return nil, fmt.Errorf("unknown or expired auth request state: %w", err)
	}
	// single-use, even if the exchange below fails
	if err := app.Store.DeleteAuthRequestInfo(ctx, params.State); err != nil {
		return nil, err
	}

	meta, err := app.Client.ResolveAuthServerMetadata(ctx, info.AuthServerURL)
	if err != nil {
		return nil, err
	}
	if params.ISS != "" && params.ISS != meta.Issuer {
		return nil, fmt.Errorf("callback issuer mismatch: expected %s, got %s", meta.Issuer, params.ISS)
	}

	key, err := ParseDPoPKey(info.DPoPPrivateJWK)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	tokens, err := app.Client.ExchangeCode(ctx, meta, params.Code, info.PKCEVerifier, key, info.DPoPAuthServerNonce)
	if err != nil {
		return nil, err
	}
	app.event(ctx, "exchange-code", start, "authServer", info.AuthServerURL, "did", info.DID)

	if tokens.Subject != "" && tokens.Subject != info.DID.String() {
		return nil, fmt.Errorf("token subject mismatch: expected %s, got %s", info.DID, tokens.Subject)
	}

	sess := SessionData{
		DID:                 info.DID,
		PDSEndpoint:         info.PDSEndpoint,
		AuthServerURL:       info.AuthServerURL,
		AccessToken:         tokens.AccessToken,
		RefreshToken:        tokens.RefreshToken,
		DPoPAuthServerNonce: tokens.DPoPNonce,
		DPoPPrivateJWK:      info.DPoPPrivateJWK,
	}
	if err := app.Store.SaveSession(ctx, sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ResumeSession loads the persisted session for an account.
func (app *ClientApp) ResumeSession(ctx context.Context, did syntax.DID) (*SessionData, error) {
	return app.Store.GetSession(ctx, did)
}

// RefreshSession replaces the session's tokens using its refresh token and
// persists the update. The caller's copy of the session is updated in
// place.
func (app *ClientApp) RefreshSession(ctx context.Context, sess *SessionData) error {
	meta, err := app.Client.ResolveAuthServerMetadata(ctx, sess.AuthServerURL)
	if err != nil {
		return err
	}
	key, err := ParseDPoPKey(sess.DPoPPrivateJWK)
	if err != nil {
		return err
	}

	start := time.Now()
	tokens, err := app.Client.RefreshTokens(ctx, meta, sess.RefreshToken, key, sess.DPoPAuthServerNonce)
	if err != nil {
		return err
	}
	app.event(ctx, "refresh-tokens", start, "did", sess.DID)

	sess.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		sess.RefreshToken = tokens.RefreshToken
	}
	sess.DPoPAuthServerNonce = tokens.DPoPNonce
	return app.Store.SaveSession(ctx, *sess)
}

// Logout revokes the session's tokens (best effort) and deletes the
// persisted session. Revocation failures are not reported: the session is
// gone locally either way.
func (app *ClientApp) Logout(ctx context.Context, did syntax.DID) error {
	sess, err := app.Store.GetSession(ctx, did)
	if err != nil {
		return app.Store.DeleteSession(ctx, did)
	}

	if meta, err := app.Client.ResolveAuthServerMetadata(ctx, sess.AuthServerURL); err == nil {
		key, err := ParseDPoPKey(sess.DPoPPrivateJWK)
		if err != nil {
			key = nil
		}
		app.Client.RevokeToken(ctx, meta, sess.RefreshToken, "refresh_token", key, sess.DPoPAuthServerNonce)
		app.Client.RevokeToken(ctx, meta, sess.AccessToken, "access_token", key, sess.DPoPAuthServerNonce)
	}

	return app.Store.DeleteSession(ctx, did)
}
