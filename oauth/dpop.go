package oauth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Lifetime of a DPoP proof, from issue time to the `exp` claim.
const dpopProofLifetime = 300 * time.Second

var ErrDPoPKeyUnavailable = errors.New("DPoP key generation failed")

// JWK is a JSON Web Key restricted to the P-256 keys this package uses.
// The D field is only set for private keys and must never appear in a
// proof header.
type JWK struct {
	KeyType string `json:"kty"`
	Curve   string `json:"crv"`
	X       string `json:"x"` // base64url, no padding
	Y       string `json:"y"` // base64url, no padding
	D       string `json:"d,omitempty"`
}

// DPoPKey is the ephemeral proof-of-possession keypair for one
// authorization session. It lives in memory for the session's lifetime and
// must never be shared across concurrent sessions for different users: the
// key is what binds the issued access token to the session.
type DPoPKey struct {
	priv      *ecdsa.PrivateKey
	publicJWK JWK
}

// NewDPoPKey generates a fresh P-256 keypair.
func NewDPoPKey() (*DPoPKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDPoPKeyUnavailable, err)
	}
	return &DPoPKey{priv: priv, publicJWK: publicJWK(priv)}, nil
}

func publicJWK(priv *ecdsa.PrivateKey) JWK {
	x := make([]byte, 32)
	y := make([]byte, 32)
	priv.PublicKey.X.FillBytes(x)
	priv.PublicKey.Y.FillBytes(y)
	return JWK{
		KeyType: "EC",
		Curve:   "P-256",
		X:       base64.RawURLEncoding.EncodeToString(x),
		Y:       base64.RawURLEncoding.EncodeToString(y),
	}
}

// PublicJWK returns the public half of the key, as embedded in proof
// headers.
func (k *DPoPKey) PublicJWK() JWK {
	return k.publicJWK
}

// PrivateJWKBytes serializes the full keypair as a private JWK, for
// persisting an in-flight authorization across the callback gap.
func (k *DPoPKey) PrivateJWKBytes() ([]byte, error) {
	d := make([]byte, 32)
	k.priv.D.FillBytes(d)
	jwk := k.publicJWK
	jwk.D = base64.RawURLEncoding.EncodeToString(d)
	return json.Marshal(jwk)
}

// ParseDPoPKey loads a keypair from private JWK bytes produced by
// [DPoPKey.PrivateJWKBytes].
func ParseDPoPKey(b []byte) (*DPoPKey, error) {
	var jwk JWK
	if err := json.Unmarshal(b, &jwk); err != nil {
		return nil, fmt.Errorf("parsing private JWK: %w", err)
	}
	if jwk.KeyType != "EC" || jwk.Curve != "P-256" || jwk.D == "" {
		return nil, fmt.Errorf("unsupported private JWK (need EC P-256)")
	}
	dbuf, err := base64.RawURLEncoding.DecodeString(jwk.D)
	if err != nil {
		return nil, fmt.Errorf("invalid private JWK base64 encoding: %w", err)
	}
	xbuf, err := base64.RawURLEncoding.DecodeString(jwk.X)
	if err != nil {
		return nil, fmt.Errorf("invalid private JWK base64 encoding: %w", err)
	}
	ybuf, err := base64.RawURLEncoding.DecodeString(jwk.Y)
	if err != nil {
		return nil, fmt.Errorf("invalid private JWK base64 encoding: %w", err)
	}
	curve := elliptic.P256()
	var x, y, d big.Int
	x.SetBytes(xbuf)
	y.SetBytes(ybuf)
	d.SetBytes(dbuf)
	if !curve.Params().IsOnCurve(&x, &y) {
		return nil, fmt.Errorf("invalid P-256 public key (not on curve)")
	}
	priv := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: &x, Y: &y},
		D:         &d,
	}
	return &DPoPKey{priv: priv, publicJWK: publicJWK(priv)}, nil
}

type dpopClaims struct {
	jwt.RegisteredClaims

	HTTPMethod      string  `json:"htm"`
	TargetURI       string  `json:"htu"`
	AccessTokenHash *string `json:"ath,omitempty"`
	Nonce           *string `json:"nonce,omitempty"`
}

// NewProof mints a single-use DPoP proof JWT for one HTTP attempt. The
// target URI is stripped of query and fragment; nonce and access-token hash
// are included only when non-empty. Proofs are never reused across attempts.
func (k *DPoPKey) NewProof(httpMethod, rawURL, nonce, accessTokenHash string) (string, error) {
	htu, err := stripURL(rawURL)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := dpopClaims{
		HTTPMethod: httpMethod,
		TargetURI:  htu,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        randomToken(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(dpopProofLifetime)),
		},
	}
	if nonce != "" {
		claims.Nonce = &nonce
	}
	if accessTokenHash != "" {
		claims.AccessTokenHash = &accessTokenHash
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["typ"] = "dpop+jwt"
	token.Header["jwk"] = k.publicJWK
	return token.SignedString(k.priv)
}

// HashAccessToken computes the `ath` claim value binding a proof to a
// specific access token.
func HashAccessToken(token string) string {
	return S256CodeChallenge(token)
}

// stripURL removes query and fragment, per the DPoP `htu` claim rules.
func stripURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid proof target URL: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}
