package oauth

import (
	"fmt"
	"net/url"

	"github.com/bibliome/atproto-oauth/syntax"
)

// Expected response from looking up OAuth protected-resource metadata on a
// hosting server (eg, a PDS instance).
type ProtectedResourceMetadata struct {
	AuthorizationServers []string `json:"authorization_servers"`
}

// AuthServerMetadata is the subset of the authorization server metadata
// document this client depends on.
type AuthServerMetadata struct {
	// the "origin" URL of the authorization server; https scheme, no path
	Issuer string `json:"issuer"`

	// endpoint URL for authorization redirects
	AuthorizationEndpoint string `json:"authorization_endpoint"`

	// endpoint URL for token requests
	TokenEndpoint string `json:"token_endpoint"`

	// endpoint URL for pushed authorization requests
	PushedAuthorizationRequestEndpoint string `json:"pushed_authorization_request_endpoint"`

	// endpoint URL for token revocation; servers are not required to
	// advertise one
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`
}

// Validate checks that all four required fields are present, naming the
// first missing one.
func (m *AuthServerMetadata) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"issuer", m.Issuer},
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
		{"pushed_authorization_request_endpoint", m.PushedAuthorizationRequestEndpoint},
	} {
		if f.value == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidAuthServerMetadata, f.name)
		}
	}
	return nil
}

// ClientConfig identifies this OAuth client. Created once at configuration
// time and immutable afterwards.
type ClientConfig struct {
	// ClientID is an HTTPS URL which doubles as the location of the client
	// metadata document.
	ClientID string

	// RedirectURI receives the authorization callback.
	RedirectURI string

	// Scope is a space-separated list of requested scopes.
	Scope string
}

func (c *ClientConfig) Validate() error {
	u, err := url.Parse(c.ClientID)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("%w: client_id must be an HTTPS URL", ErrInvalidClientConfig)
	}
	if c.RedirectURI == "" {
		return fmt.Errorf("%w: redirect_uri is required", ErrInvalidClientConfig)
	}
	if c.Scope == "" {
		return fmt.Errorf("%w: scope is required", ErrInvalidClientConfig)
	}
	return nil
}

// ClientMetadata is the client metadata document served at the client_id
// URL, declaring this client to authorization servers.
type ClientMetadata struct {
	ClientID                string   `json:"client_id"`
	ClientName              string   `json:"client_name,omitempty"`
	ClientURI               string   `json:"client_uri,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	Scope                   string   `json:"scope"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	ApplicationType         string   `json:"application_type"`
	DPoPBoundAccessTokens   bool     `json:"dpop_bound_access_tokens"`
}

// ClientMetadata renders the metadata document for this configuration.
func (c *ClientConfig) ClientMetadata(clientName string) ClientMetadata {
	u, _ := url.Parse(c.ClientID)
	clientURI := ""
	if u != nil {
		clientURI = u.Scheme + "://" + u.Host
	}
	return ClientMetadata{
		ClientID:                c.ClientID,
		ClientName:              clientName,
		ClientURI:               clientURI,
		RedirectURIs:            []string{c.RedirectURI},
		Scope:                   c.Scope,
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		ApplicationType:         "web",
		DPoPBoundAccessTokens:   true,
	}
}

// Validate checks the document for internal consistency against the
// client_id it will be served under.
func (m *ClientMetadata) Validate(clientID string) error {
	if m.ClientID != clientID {
		return fmt.Errorf("client_id mismatch: %s != %s", m.ClientID, clientID)
	}
	if len(m.RedirectURIs) == 0 {
		return fmt.Errorf("at least one redirect_uri is required")
	}
	if !m.DPoPBoundAccessTokens {
		return fmt.Errorf("dpop_bound_access_tokens must be true")
	}
	if m.TokenEndpointAuthMethod != "none" {
		return fmt.Errorf("unsupported token_endpoint_auth_method: %s", m.TokenEndpointAuthMethod)
	}
	return nil
}

// The fields included in a PAR request. These HTTP POST bodies are
// form-encoded, so use URL encoding syntax, not JSON.
type pushedAuthRequest struct {
	ResponseType        string `url:"response_type"`
	ClientID            string `url:"client_id"`
	RedirectURI         string `url:"redirect_uri"`
	Scope               string `url:"scope"`
	State               string `url:"state"`
	CodeChallenge       string `url:"code_challenge"`
	CodeChallengeMethod string `url:"code_challenge_method"`
	LoginHint           string `url:"login_hint,omitempty"`
	Resource            string `url:"resource,omitempty"`
}

// AuthRequestRef is the server's reference to a pushed authorization
// request. Single-use and short-lived (server-enforced).
type AuthRequestRef struct {
	// opaque URI to hand back via the browser redirect
	RequestURI string `json:"request_uri"`

	// seconds the request_uri remains valid
	ExpiresIn int `json:"expires_in"`

	// DPoP nonce observed during the PAR exchange, to carry forward into
	// the next request to the same auth server
	DPoPNonce string `json:"-"`
}

type initialTokenRequest struct {
	GrantType    string `url:"grant_type"`
	Code         string `url:"code"`
	RedirectURI  string `url:"redirect_uri"`
	ClientID     string `url:"client_id"`
	CodeVerifier string `url:"code_verifier"`
}

type refreshTokenRequest struct {
	GrantType    string `url:"grant_type"`
	RefreshToken string `url:"refresh_token"`
	ClientID     string `url:"client_id"`
}

type revokeTokenRequest struct {
	Token         string `url:"token"`
	TokenTypeHint string `url:"token_type_hint,omitempty"`
	ClientID      string `url:"client_id"`
}

// TokenSet is the response from the token endpoint, for both initial
// exchange and refresh. Access tokens are sender-constrained: valid only
// when presented with a proof from the same DPoP key used at issuance.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	Subject      string `json:"sub,omitempty"`

	// DPoP nonce observed during the exchange, carried forward
	DPoPNonce string `json:"-"`
}

// AuthRequestData is the client-side state of an in-flight authorization,
// persisted across the redirect gap. State is the primary key.
type AuthRequestData struct {
	State string `json:"state"`

	// account this flow started from
	DID    syntax.DID    `json:"did"`
	Handle syntax.Handle `json:"handle"`

	// hosting server and auth server for the account
	PDSEndpoint   string `json:"pds_endpoint"`
	AuthServerURL string `json:"authserver_url"`

	Scope      string `json:"scope"`
	RequestURI string `json:"request_uri"`

	// the secret the code challenge was derived from; sent only at exchange
	PKCEVerifier string `json:"pkce_verifier"`

	// auth server DPoP nonce observed during PAR
	DPoPAuthServerNonce string `json:"dpop_authserver_nonce"`

	// session DPoP keypair, serialized as a private JWK
	DPoPPrivateJWK []byte `json:"dpop_private_jwk"`
}

// SessionData is the persisted state of an authorized session.
type SessionData struct {
	DID           syntax.DID `json:"did"`
	PDSEndpoint   string     `json:"pds_endpoint"`
	AuthServerURL string     `json:"authserver_url"`

	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	// current nonces, per endpoint (auth server vs hosting server)
	DPoPAuthServerNonce string `json:"dpop_authserver_nonce"`
	DPoPPDSNonce        string `json:"dpop_pds_nonce"`

	DPoPPrivateJWK []byte `json:"dpop_private_jwk"`
}
