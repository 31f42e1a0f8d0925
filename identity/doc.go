// Package identity resolves atproto handles to DIDs, DIDs to DID documents,
// and DID documents to the account's hosting server (PDS) endpoint.
//
// All network fetches go through an injected HTTP client, expected to be an
// SSRF-guarded client ([github.com/bibliome/atproto-oauth/util/ssrf.SafeClient])
// in production. Handles resolve via the HTTP well-known route on the
// handle's own origin, with a fallback to a public directory API. DIDs
// resolve via the PLC directory (did:plc) or the domain's well-known
// did.json (did:web).
package identity
