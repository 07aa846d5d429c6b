package cognito

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingRecorder captures recorder events
type recordingRecorder struct {
	mu        sync.Mutex
	verified  []string
	decisions []string
}

func (r *recordingRecorder) KeySetRefreshed(string, bool) {}
func (r *recordingRecorder) KeySetDegraded(bool)          {}

func (r *recordingRecorder) TokenVerified(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = append(r.verified, outcome)
}

func (r *recordingRecorder) AccessDecided(role, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, role+":"+outcome)
}

func TestAuthenticator_VerifyRequest(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	auth := newTestAuthenticator(t, newTestCache(t, server, time.Minute))

	claims := validClaims(RoleDoctor)
	raw := createTestToken(t, privateKey, testKid, claims)

	got, err := auth.VerifyRequest(context.Background(), raw)
	require.NoError(t, err)
	assert.True(t, got.Trusted())

	gotMap := got.Map()
	require.Len(t, gotMap, len(claims))
	for name, value := range claims {
		assert.EqualValues(t, value, normalize(gotMap[name]), "claim %s", name)
	}
}

// normalize turns json.Number values back into int64 for comparison
func normalize(value interface{}) interface{} {
	if n, ok := value.(interface{ Int64() (int64, error) }); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	return value
}

func TestAuthenticator_VerifyRequestFailures(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	auth := newTestAuthenticator(t, newTestCache(t, server, time.Minute))

	expired := validClaims(RoleDoctor)
	expired["exp"] = time.Now().Add(-time.Minute).Unix()

	wrongAudience := validClaims(RoleDoctor)
	wrongAudience["aud"] = "another-app"

	noSubject := validClaims(RoleDoctor)
	delete(noSubject, "sub")

	valid := createTestToken(t, privateKey, testKid, validClaims(RoleDoctor))
	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		raw   string
		want  error
		class ErrorClass
	}{
		{"garbage", "not-a-token", ErrMalformedToken, ClassAuthentication},
		{"bad signature", tampered, ErrSignatureMismatch, ClassAuthentication},
		{"unknown kid", createTestToken(t, privateKey, "nope", validClaims(RoleDoctor)), ErrUnknownKeyID, ClassAuthentication},
		{"expired", createTestToken(t, privateKey, testKid, expired), ErrExpiredToken, ClassAuthentication},
		{"wrong audience", createTestToken(t, privateKey, testKid, wrongAudience), ErrAudienceMismatch, ClassAuthentication},
		{"missing subject", createTestToken(t, privateKey, testKid, noSubject), ErrMissingSubject, ClassAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := auth.VerifyRequest(context.Background(), tt.raw)
			assert.Nil(t, claims)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var authErr *AuthError
			require.True(t, errors.As(err, &authErr))
			assert.Equal(t, tt.class, authErr.Class())
		})
	}
}

func TestAuthenticator_Guard(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	recorder := &recordingRecorder{}
	validator := NewClaimsValidator(ClaimsConfig{ClientID: testClientID})
	auth := NewAuthenticator(newTestCache(t, server, time.Minute), validator, zap.NewNop(), recorder)

	doctor := createTestToken(t, privateKey, testKid, validClaims(RoleDoctor))
	patient := createTestToken(t, privateKey, testKid, validClaims(RolePatient))

	allowed := auth.Guard(context.Background(), doctor, RoleDoctor)
	assert.True(t, allowed.Allow)
	assert.Nil(t, allowed.Err)
	assert.True(t, allowed.Claims.Trusted())
	assert.Equal(t, RoleDoctor, allowed.ActualRole)

	denied := auth.Guard(context.Background(), patient, RoleDoctor)
	assert.False(t, denied.Allow)
	require.NotNil(t, denied.Err)
	assert.Equal(t, KindRoleMismatch, denied.Err.Kind)
	assert.Equal(t, ClassAuthorization, denied.Err.Class())
	assert.Equal(t, RolePatient, denied.ActualRole)
	assert.Equal(t, RoleDoctor, denied.RequiredRole)

	unauthenticated := auth.Guard(context.Background(), "a.b", RoleDoctor)
	assert.False(t, unauthenticated.Allow)
	require.NotNil(t, unauthenticated.Err)
	assert.Equal(t, ClassAuthentication, unauthenticated.Err.Class())
	assert.Nil(t, unauthenticated.Claims)

	assert.Equal(t, []string{OutcomeOK, OutcomeOK, string(KindMalformedToken)}, recorder.verified)
	assert.Equal(t, []string{
		"Doctor:ok",
		"Doctor:role_mismatch",
		"Doctor:malformed_token",
	}, recorder.decisions)
}

func TestAuthenticator_KeySetUnavailable(t *testing.T) {
	privateKey, _ := generateTestKeyPair(t)
	c := NewKeySetCache(&stubFetcher{}, KeySetCacheConfig{}, zap.NewNop(), nil)
	auth := newTestAuthenticator(t, c)

	raw := createTestToken(t, privateKey, testKid, validClaims(RoleDoctor))
	decision := auth.Guard(context.Background(), raw, RoleDoctor)

	require.NotNil(t, decision.Err)
	assert.Equal(t, KindKeySetUnavailable, decision.Err.Kind)
	assert.Equal(t, ClassUnavailable, decision.Err.Class())
}

func TestAuthenticator_ConcurrentUnknownKidSingleFetch(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	auth := newTestAuthenticator(t, newTestCache(t, server, time.Minute))

	raw := createTestToken(t, privateKey, "rotated-away", validClaims(RoleDoctor))

	const callers = 32
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = auth.VerifyRequest(context.Background(), raw)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUnknownKeyID)
	}
	assert.Equal(t, 2, server.fetchCount(), "startup fetch plus a single coalesced refresh")
}

func TestAuthenticator_ForgedRoleClaim(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	auth := newTestAuthenticator(t, newTestCache(t, server, time.Minute))

	// unsigned token claiming to be a doctor
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, validClaims(RoleDoctor))
	unsigned.Header["kid"] = testKid
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	decision := auth.Guard(context.Background(), raw, RoleDoctor)
	assert.False(t, decision.Allow)
	require.NotNil(t, decision.Err)
	assert.Equal(t, ClassAuthentication, decision.Err.Class())
}

const base64URLAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// replaceAt swaps the character at i of segment for replacement
func replaceAt(segment string, i int, replacement byte) string {
	b := []byte(segment)
	b[i] = replacement
	return string(b)
}

func TestAuthenticator_SignatureSegmentTampering(t *testing.T) {
	privateKey, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	auth := newTestAuthenticator(t, newTestCache(t, server, time.Minute))

	raw := createTestToken(t, privateKey, testKid, validClaims(RoleDoctor))
	parts := strings.Split(raw, ".")
	signature := parts[2]

	_, err := auth.VerifyRequest(context.Background(), raw)
	require.NoError(t, err)

	assertRejected := func(t *testing.T, tampered string) {
		claims, err := auth.VerifyRequest(context.Background(), parts[0]+"."+parts[1]+"."+tampered)
		assert.Nil(t, claims)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrSignatureMismatch) || errors.Is(err, ErrMalformedToken),
			"unexpected error %v", err)
	}

	t.Run("every position", func(t *testing.T) {
		for i := 0; i < len(signature); i++ {
			replacement := byte('A')
			if signature[i] == 'A' {
				replacement = 'B'
			}
			assertRejected(t, replaceAt(signature, i, replacement))
		}
	})

	t.Run("unused bits of the last character", func(t *testing.T) {
		last := len(signature) - 1
		index := strings.IndexByte(base64URLAlphabet, signature[last])
		require.GreaterOrEqual(t, index, 0)

		// RS256 signatures are 256 bytes, leaving 4 unused bits in the last character
		tampered := replaceAt(signature, last, base64URLAlphabet[index^1])
		claims, err := auth.VerifyRequest(context.Background(), parts[0]+"."+parts[1]+"."+tampered)
		assert.Nil(t, claims)
		assert.ErrorIs(t, err, ErrMalformedToken)
	})
}
