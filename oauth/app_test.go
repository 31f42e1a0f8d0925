package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/bibliome/atproto-oauth/syntax"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routes all requests to a single test server, preserving the original host
// so the handler can dispatch on it
type hostRoutingTransport struct {
	serverHost string
}

func (t *hostRoutingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Host = req.URL.Host
	out.URL.Scheme = "http"
	out.URL.Host = t.serverHost
	return http.DefaultTransport.RoundTrip(out)
}

func routedClient(srv *httptest.Server) *http.Client {
	u, _ := url.Parse(srv.URL)
	return &http.Client{Transport: &hostRoutingTransport{serverHost: u.Host}}
}

// fakeAuthServer plays a complete account host and authorization server:
// identity resolution, discovery, PAR with a required DPoP nonce, code
// exchange, and revocation.
type fakeAuthServer struct {
	mu            sync.Mutex
	parState      string
	codeChallenge string
	revoked       []string
}

func (f *fakeAuthServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Host == "alice.example" && r.URL.Path == "/.well-known/atproto-did":
			fmt.Fprint(w, "did:plc:abc123")

		case r.Host == "plc.directory" && r.URL.Path == "/did:plc:abc123":
			fmt.Fprint(w, `{
				"id": "did:plc:abc123",
				"alsoKnownAs": ["at://alice.example"],
				"service": [
					{"id": "#atproto_pds", "type": "AtprotoPersonalDataServer", "serviceEndpoint": "https://pds.example"}
				]
			}`)

		case r.Host == "pds.example" && r.URL.Path == "/.well-known/oauth-protected-resource":
			fmt.Fprint(w, `{"authorization_servers": ["https://auth.example"]}`)

		case r.Host == "auth.example" && r.URL.Path == "/.well-known/oauth-authorization-server":
			fmt.Fprint(w, `{
				"issuer": "https://auth.example",
				"authorization_endpoint": "https://auth.example/authorize",
				"token_endpoint": "https://auth.example/token",
				"pushed_authorization_request_endpoint": "https://auth.example/par",
				"revocation_endpoint": "https://auth.example/revoke"
			}`)

		case r.Host == "auth.example" && r.URL.Path == "/par":
			require.NoError(t, r.ParseForm())
			claims := proofClaims(t, r.Header.Get("DPoP"))
			if claims["nonce"] == nil {
				w.Header().Set("DPoP-Nonce", "as-nonce-1")
				w.WriteHeader(400)
				fmt.Fprint(w, `{"error": "use_dpop_nonce"}`)
				return
			}
			assert.Equal(t, "code", r.PostForm.Get("response_type"))
			assert.Equal(t, "alice.example", r.PostForm.Get("login_hint"))
			assert.Equal(t, "S256", r.PostForm.Get("code_challenge_method"))
			f.mu.Lock()
			f.parState = r.PostForm.Get("state")
			f.codeChallenge = r.PostForm.Get("code_challenge")
			f.mu.Unlock()
			w.WriteHeader(201)
			fmt.Fprint(w, `{"request_uri": "urn:ietf:params:oauth:request_uri:xyz", "expires_in": 60}`)

		case r.Host == "auth.example" && r.URL.Path == "/token":
			require.NoError(t, r.ParseForm())
			claims := proofClaims(t, r.Header.Get("DPoP"))
			if claims["nonce"] == nil {
				w.Header().Set("DPoP-Nonce", "as-nonce-2")
				w.WriteHeader(400)
				fmt.Fprint(w, `{"error": "use_dpop_nonce"}`)
				return
			}
			switch r.PostForm.Get("grant_type") {
			case "authorization_code":
				assert.Equal(t, "code123", r.PostForm.Get("code"))
				f.mu.Lock()
				challenge := f.codeChallenge
				f.mu.Unlock()
				assert.Equal(t, challenge, S256CodeChallenge(r.PostForm.Get("code_verifier")))
				fmt.Fprint(w, `{"access_token": "at-1", "refresh_token": "rt-1", "token_type": "DPoP", "expires_in": 3600, "sub": "did:plc:abc123"}`)
			case "refresh_token":
				assert.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))
				fmt.Fprint(w, `{"access_token": "at-2", "refresh_token": "rt-2", "token_type": "DPoP", "expires_in": 3600, "sub": "did:plc:abc123"}`)
			default:
				w.WriteHeader(400)
				fmt.Fprint(w, `{"error": "unsupported_grant_type"}`)
			}

		case r.Host == "auth.example" && r.URL.Path == "/revoke":
			require.NoError(t, r.ParseForm())
			f.mu.Lock()
			f.revoked = append(f.revoked, r.PostForm.Get("token"))
			f.mu.Unlock()

		default:
			http.NotFound(w, r)
		}
	}
}

func TestClientAppLoginFlow(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fake := &fakeAuthServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	app, err := NewClientApp(testConfig(), routedClient(srv), NewMemStore())
	require.NoError(t, err)

	redirectURL, err := app.StartAuthFlow(ctx, "alice.example")
	require.NoError(t, err)

	u, err := url.Parse(redirectURL)
	require.NoError(t, err)
	assert.Equal("auth.example", u.Host)
	assert.Equal("/authorize", u.Path)
	assert.Equal(testConfig().ClientID, u.Query().Get("client_id"))
	assert.Equal("urn:ietf:params:oauth:request_uri:xyz", u.Query().Get("request_uri"))
	assert.Len(u.Query(), 2, "authorization URL carries only client_id and request_uri")

	sess, err := app.ProcessCallback(ctx, CallbackParams{
		State: fake.parState,
		ISS:   "https://auth.example",
		Code:  "code123",
	})
	require.NoError(t, err)
	assert.Equal(syntax.DID("did:plc:abc123"), sess.DID)
	assert.Equal("https://pds.example", sess.PDSEndpoint)
	assert.Equal("https://auth.example", sess.AuthServerURL)
	assert.Equal("at-1", sess.AccessToken)
	assert.Equal("rt-1", sess.RefreshToken)

	// the request state is single-use
	_, err = app.ProcessCallback(ctx, CallbackParams{State: fake.parState, Code: "code123"})
	assert.Error(err)

	resumed, err := app.ResumeSession(ctx, sess.DID)
	require.NoError(t, err)
	assert.Equal(sess.AccessToken, resumed.AccessToken)

	require.NoError(t, app.RefreshSession(ctx, resumed))
	assert.Equal("at-2", resumed.AccessToken)
	assert.Equal("rt-2", resumed.RefreshToken)
	stored, err := app.ResumeSession(ctx, sess.DID)
	require.NoError(t, err)
	assert.Equal("at-2", stored.AccessToken)

	require.NoError(t, app.Logout(ctx, sess.DID))
	assert.ElementsMatch([]string{"rt-2", "at-2"}, fake.revoked)
	_, err = app.ResumeSession(ctx, sess.DID)
	assert.Error(err)
}

func TestProcessCallbackIssuerMismatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	fake := &fakeAuthServer{}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	app, err := NewClientApp(testConfig(), routedClient(srv), NewMemStore())
	require.NoError(t, err)

	_, err = app.StartAuthFlow(ctx, "alice.example")
	require.NoError(t, err)

	_, err = app.ProcessCallback(ctx, CallbackParams{
		State: fake.parState,
		ISS:   "https://attacker.example",
		Code:  "code123",
	})
	assert.ErrorContains(err, "issuer mismatch")
}
