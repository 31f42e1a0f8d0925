package oauth

import (
	"context"

	"github.com/bibliome/atproto-oauth/syntax"
)

// Interface for persisting auth request state and session data, required as
// part of an OAuth client app.
//
// Sessions are keyed by account DID: a second login for the same account
// replaces the earlier session. Auth requests are keyed by the state token
// generated at the start of the flow.
//
// Implementations should generally allow for concurrent access.
type ClientAuthStore interface {
	GetSession(ctx context.Context, did syntax.DID) (*SessionData, error)
	SaveSession(ctx context.Context, sess SessionData) error
	DeleteSession(ctx context.Context, did syntax.DID) error

	GetAuthRequestInfo(ctx context.Context, state string) (*AuthRequestData, error)
	SaveAuthRequestInfo(ctx context.Context, info AuthRequestData) error
	DeleteAuthRequestInfo(ctx context.Context, state string) error
}
