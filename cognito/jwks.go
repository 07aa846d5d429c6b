package cognito

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrJWKSFetchFailed is returned when the discovery endpoint cannot be read
var ErrJWKSFetchFailed = errors.New("failed to fetch JWKS")

// maxJWKSBytes caps the size of a key set document
const maxJWKSBytes = 1 << 20

// JWKS represents the JSON Web Key Set
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKSURL returns the well-known key set URL of a Cognito user pool
func JWKSURL(region, userPoolID string) string {
	return fmt.Sprintf("%s/.well-known/jwks.json", IssuerURL(region, userPoolID))
}

// IssuerURL returns the issuer of tokens minted by a Cognito user pool
func IssuerURL(region, userPoolID string) string {
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, userPoolID)
}

// HTTPKeySetFetcher fetches key sets from a JWKS endpoint
type HTTPKeySetFetcher struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// NewHTTPKeySetFetcher creates a fetcher for url with a bounded client timeout
func NewHTTPKeySetFetcher(url string, timeout time.Duration, logger *zap.Logger) *HTTPKeySetFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPKeySetFetcher{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// URL returns the endpoint the fetcher reads from
func (f *HTTPKeySetFetcher) URL() string {
	return f.url
}

// FetchKeySet downloads and converts the key set. Keys that cannot be used for
// signature verification are skipped; a set with no usable key is an error.
func (f *HTTPKeySetFetcher) FetchKeySet(ctx context.Context) (*KeySetSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJWKSFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrJWKSFetchFailed, resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make([]VerificationKey, 0, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		key, err := jwk.VerificationKey()
		if err != nil {
			f.logger.Warn("skipping unusable JWK",
				zap.String("kid", jwk.Kid),
				zap.String("kty", jwk.Kty),
				zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no usable signing keys in %s", ErrJWKSFetchFailed, f.url)
	}

	return NewKeySetSnapshot(keys, f.now())
}

// VerificationKey converts the JWK into a VerificationKey
func (k JWK) VerificationKey() (VerificationKey, error) {
	var (
		publicKey crypto.PublicKey
		alg       = k.Alg
		err       error
	)

	switch k.Kty {
	case "RSA":
		publicKey, err = k.rsaPublicKey()
		if alg == "" {
			alg = "RS256"
		}
	case "EC":
		publicKey, err = k.ecPublicKey()
		if alg == "" {
			alg = ecAlgorithms[k.Crv]
		}
	case "OKP":
		publicKey, err = k.ed25519PublicKey()
		if alg == "" {
			alg = "EdDSA"
		}
	default:
		return VerificationKey{}, fmt.Errorf("unsupported key type %q", k.Kty)
	}
	if err != nil {
		return VerificationKey{}, err
	}

	return NewVerificationKey(k.Kid, alg, publicKey)
}

var ecAlgorithms = map[string]string{
	"P-256": "ES256",
	"P-384": "ES384",
	"P-521": "ES512",
}

var ecCurves = map[string]elliptic.Curve{
	"P-256": elliptic.P256(),
	"P-384": elliptic.P384(),
	"P-521": elliptic.P521(),
}

func (k JWK) rsaPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 || len(eBytes) > 4 {
		return nil, errors.New("invalid RSA key parameters")
	}

	var e int
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	if e < 3 {
		return nil, errors.New("invalid RSA exponent")
	}

	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
}

func (k JWK) ecPublicKey() (*ecdsa.PublicKey, error) {
	curve, ok := ecCurves[k.Crv]
	if !ok {
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
	}

	x, y := new(big.Int).SetBytes(xBytes), new(big.Int).SetBytes(yBytes)
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("point is not on curve")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func (k JWK) ed25519PublicKey() (ed25519.PublicKey, error) {
	if k.Crv != "Ed25519" {
		return nil, fmt.Errorf("unsupported curve %q", k.Crv)
	}
	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
	}
	if len(xBytes) != ed25519.PublicKeySize {
		return nil, errors.New("invalid Ed25519 key length")
	}
	return ed25519.PublicKey(xBytes), nil
}
