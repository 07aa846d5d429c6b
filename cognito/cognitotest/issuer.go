// Package cognitotest mints tokens signed by an in-memory key for tests of
// code that sits behind the cognito Authenticator.
package cognitotest

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	ClientID = "test-client-id"
	KeyID    = "test-kid"
	Subject  = "7f1c2a9e-0b5d-4e7a-9a51-3c2d8e4f6a10"
)

// Issuer signs tokens and owns an Authenticator that trusts them
type Issuer struct {
	key           *rsa.PrivateKey
	Cache         *cognito.KeySetCache
	Authenticator *cognito.Authenticator
}

// NewIssuer creates an issuer with a loaded key set
func NewIssuer(t require.TestingT) *Issuer {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verificationKey, err := cognito.NewVerificationKey(KeyID, "RS256", &key.PublicKey)
	require.NoError(t, err)
	snapshot, err := cognito.NewKeySetSnapshot([]cognito.VerificationKey{verificationKey}, time.Now())
	require.NoError(t, err)

	cache := cognito.NewKeySetCache(staticFetcher{snapshot: snapshot}, cognito.KeySetCacheConfig{}, zap.NewNop(), nil)
	require.NoError(t, cache.Init(context.Background()))

	validator := cognito.NewClaimsValidator(cognito.ClaimsConfig{ClientID: ClientID})
	return &Issuer{
		key:           key,
		Cache:         cache,
		Authenticator: cognito.NewAuthenticator(cache, validator, zap.NewNop(), nil),
	}
}

// Claims returns a valid claim map carrying role; an empty role is omitted
func Claims(role string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub":              Subject,
		"exp":              time.Now().Add(time.Hour).Unix(),
		"iat":              time.Now().Unix(),
		"aud":              ClientID,
		"email":            "test@example.com",
		"cognito:username": "testuser",
		"token_use":        "id",
	}
	if role != "" {
		claims[cognito.DefaultRoleClaim] = role
	}
	return claims
}

// Sign signs claims with the issuer key
func (i *Issuer) Sign(t require.TestingT, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = KeyID

	raw, err := token.SignedString(i.key)
	require.NoError(t, err)
	return raw
}

// Token returns a valid token for role
func (i *Issuer) Token(t require.TestingT, role string) string {
	return i.Sign(t, Claims(role))
}

// ClaimSet returns verified claims for role
func (i *Issuer) ClaimSet(t require.TestingT, role string) *cognito.ClaimSet {
	claims, err := i.Authenticator.VerifyRequest(context.Background(), i.Token(t, role))
	require.NoError(t, err)
	return claims
}

// JWKS returns the issuer's public key in key set document form
func (i *Issuer) JWKS() cognito.JWKS {
	return cognito.JWKS{Keys: []cognito.JWK{{
		Kid: KeyID,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(i.key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(i.key.E)).Bytes()),
	}}}
}

// Server serves the key set document over HTTP until the test ends
func (i *Issuer) Server(t testing.TB) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(i.JWKS())
	}))
	t.Cleanup(server.Close)
	return server
}

type staticFetcher struct {
	snapshot *cognito.KeySetSnapshot
}

func (f staticFetcher) FetchKeySet(context.Context) (*cognito.KeySetSnapshot, error) {
	return f.snapshot, nil
}
