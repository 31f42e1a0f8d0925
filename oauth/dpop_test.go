package oauth

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseProof(t *testing.T, key *DPoPKey, proof string) *jwt.Token {
	t.Helper()
	tok, err := jwt.Parse(proof, func(tok *jwt.Token) (any, error) {
		return &key.priv.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	require.True(t, tok.Valid)
	return tok
}

func TestNewProofClaims(t *testing.T) {
	assert := assert.New(t)

	key, err := NewDPoPKey()
	require.NoError(t, err)

	proof, err := key.NewProof("POST", "https://auth.example/token?x=1#frag", "nonce123", "")
	require.NoError(t, err)

	tok := parseProof(t, key, proof)
	claims := tok.Claims.(jwt.MapClaims)

	assert.Equal("POST", claims["htm"])
	assert.Equal("https://auth.example/token", claims["htu"], "query and fragment must be stripped")
	assert.Equal("nonce123", claims["nonce"])
	assert.NotEmpty(claims["jti"])
	assert.NotContains(claims, "ath")

	iat := claims["iat"].(float64)
	exp := claims["exp"].(float64)
	assert.Equal(float64(300), exp-iat)

	assert.Equal("dpop+jwt", tok.Header["typ"])
	jwk, ok := tok.Header["jwk"].(map[string]any)
	require.True(t, ok)
	assert.Equal("EC", jwk["kty"])
	assert.Equal("P-256", jwk["crv"])
	assert.NotEmpty(jwk["x"])
	assert.NotEmpty(jwk["y"])
	assert.NotContains(jwk, "d", "private component must never appear in a proof")
}

func TestNewProofAccessTokenHash(t *testing.T) {
	assert := assert.New(t)

	key, err := NewDPoPKey()
	require.NoError(t, err)

	ath := HashAccessToken("some-access-token")
	proof, err := key.NewProof("GET", "https://pds.example/xrpc/com.atproto.repo.listRecords", "", ath)
	require.NoError(t, err)

	claims := parseProof(t, key, proof).Claims.(jwt.MapClaims)
	assert.Equal(ath, claims["ath"])
	assert.NotContains(claims, "nonce")

	uniq, err := key.NewProof("GET", "https://pds.example/xrpc/com.atproto.repo.listRecords", "", ath)
	require.NoError(t, err)
	assert.NotEqual(proof, uniq, "every proof carries a fresh jti")
}

func TestDPoPKeyRoundTrip(t *testing.T) {
	assert := assert.New(t)

	key, err := NewDPoPKey()
	require.NoError(t, err)

	b, err := key.PrivateJWKBytes()
	require.NoError(t, err)

	restored, err := ParseDPoPKey(b)
	require.NoError(t, err)
	assert.Equal(key.PublicJWK(), restored.PublicJWK())

	// a proof signed by the restored key verifies against the original public key
	proof, err := restored.NewProof("POST", "https://auth.example/token", "", "")
	require.NoError(t, err)
	parseProof(t, key, proof)

	_, err = ParseDPoPKey([]byte(`{"kty":"EC","crv":"P-256"}`))
	assert.Error(err)
}
