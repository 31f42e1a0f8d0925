package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

// GeneratePKCEVerifier returns a new random PKCE code verifier: 48 random
// bytes, base64url-encoded without padding (64 characters, within the 43-128
// range RFC 7636 allows). One verifier per authorization attempt; it is not
// transmitted until code exchange.
func GeneratePKCEVerifier() string {
	buf := make([]byte, 48)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// S256CodeChallenge computes the S256 transform of a PKCE verifier:
// unpadded base64url of the SHA-256 digest. Also used for the DPoP `ath`
// access token hash, which is the same construction.
func S256CodeChallenge(raw string) string {
	b := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// randomToken returns a short random URL-safe string, used for OAuth state
// values and DPoP proof identifiers (jti).
func randomToken() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
