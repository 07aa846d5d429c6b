package cognito

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testClientID = "test-client-id"
	testKid      = "test-kid-123"
)

// Test helper to generate RSA key pair
func generateTestKeyPair(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

func rsaJWK(publicKey *rsa.PublicKey, kid string) JWK {
	return JWK{
		Kid: kid,
		Kty: "RSA",
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
	}
}

// mockJWKSServer serves a key set that tests can swap, and counts fetches
type mockJWKSServer struct {
	*httptest.Server

	mu      sync.Mutex
	keys    []JWK
	status  int
	fetches atomic.Int32
}

// Test helper to create a mock JWKS server
func createMockJWKSServer(t *testing.T, keys ...JWK) *mockJWKSServer {
	m := &mockJWKSServer{keys: keys, status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.fetches.Add(1)

		m.mu.Lock()
		status, keys := m.status, m.keys
		m.mu.Unlock()

		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JWKS{Keys: keys})
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockJWKSServer) setKeys(keys ...JWK) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = keys
}

func (m *mockJWKSServer) setStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

func (m *mockJWKSServer) fetchCount() int {
	return int(m.fetches.Load())
}

// Test helper to create a cache that has completed its startup fetch
func newTestCache(t *testing.T, server *mockJWKSServer, interval time.Duration) *KeySetCache {
	fetcher := NewHTTPKeySetFetcher(server.URL, 5*time.Second, zap.NewNop())
	c := NewKeySetCache(fetcher, KeySetCacheConfig{UnknownKeyRefreshInterval: interval}, zap.NewNop(), nil)
	require.NoError(t, c.Init(context.Background()))
	return c
}

func validClaims(role string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub":              "7f1c2a9e-0b5d-4e7a-9a51-3c2d8e4f6a10",
		"exp":              time.Now().Add(time.Hour).Unix(),
		"iat":              time.Now().Unix(),
		"aud":              testClientID,
		"email":            "test@example.com",
		"cognito:username": "testuser",
		"token_use":        "id",
	}
	if role != "" {
		claims[DefaultRoleClaim] = role
	}
	return claims
}

// Test helper to create a signed test token
func createTestToken(t *testing.T, privateKey *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}

func newTestAuthenticator(t *testing.T, keys KeySource) *Authenticator {
	validator := NewClaimsValidator(ClaimsConfig{ClientID: testClientID})
	return NewAuthenticator(keys, validator, zap.NewNop(), nil)
}

// stubFetcher returns canned snapshots without I/O
type stubFetcher struct {
	mu       sync.Mutex
	snapshot *KeySetSnapshot
	err      error
	calls    atomic.Int32
	release  chan struct{}
}

func (f *stubFetcher) FetchKeySet(ctx context.Context) (*KeySetSnapshot, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot, f.err
}

func (f *stubFetcher) set(snapshot *KeySetSnapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot, f.err = snapshot, err
}

func rsaSnapshot(t *testing.T, publicKey *rsa.PublicKey, kids ...string) *KeySetSnapshot {
	keys := make([]VerificationKey, 0, len(kids))
	for _, kid := range kids {
		key, err := NewVerificationKey(kid, "RS256", publicKey)
		require.NoError(t, err)
		keys = append(keys, key)
	}
	snapshot, err := NewKeySetSnapshot(keys, time.Now())
	require.NoError(t, err)
	return snapshot
}
