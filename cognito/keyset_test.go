package cognito

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewVerificationKey(t *testing.T) {
	_, rsaKey := generateTestKeyPair(t)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edKey, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		name      string
		kid       string
		alg       string
		key       interface{}
		expectErr bool
	}{
		{"rsa", "k1", "RS256", rsaKey, false},
		{"rsa pss", "k1", "PS256", rsaKey, false},
		{"ecdsa", "k1", "ES256", &ecKey.PublicKey, false},
		{"ed25519", "k1", "EdDSA", edKey, false},
		{"hmac rejected", "k1", "HS256", rsaKey, true},
		{"none rejected", "k1", "none", rsaKey, true},
		{"unknown alg", "k1", "XX999", rsaKey, true},
		{"rsa alg with ec key", "k1", "RS256", &ecKey.PublicKey, true},
		{"missing kid", "", "RS256", rsaKey, true},
		{"missing key", "k1", "RS256", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NewVerificationKey(tt.kid, tt.alg, tt.key)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kid, key.KeyID())
			assert.Equal(t, tt.alg, key.Algorithm())
			assert.Equal(t, tt.key, key.PublicKey())
		})
	}
}

func TestNewKeySetSnapshot(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)

	t.Run("keeps publication order", func(t *testing.T) {
		snapshot := rsaSnapshot(t, publicKey, "b", "a", "c")
		assert.Equal(t, []string{"b", "a", "c"}, snapshot.KeyIDs())
		assert.Equal(t, 3, snapshot.Len())

		key, ok := snapshot.Lookup("a")
		assert.True(t, ok)
		assert.Equal(t, "a", key.KeyID())

		_, ok = snapshot.Lookup("missing")
		assert.False(t, ok)
	})

	t.Run("rejects duplicate kid", func(t *testing.T) {
		key, err := NewVerificationKey("dup", "RS256", publicKey)
		require.NoError(t, err)

		_, err = NewKeySetSnapshot([]VerificationKey{key, key}, time.Now())
		assert.Error(t, err)
	})
}

func TestKeySetCache_GetBeforeInit(t *testing.T) {
	c := NewKeySetCache(&stubFetcher{}, KeySetCacheConfig{}, zap.NewNop(), nil)

	snapshot, err := c.Get()
	assert.Nil(t, snapshot)
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.False(t, c.Stats().Loaded)
}

func TestKeySetCache_InitFailureIsFatal(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("connection refused")}
	c := NewKeySetCache(fetcher, KeySetCacheConfig{}, zap.NewNop(), nil)

	err := c.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.False(t, c.Degraded(), "no snapshot was ever served")
}

func TestKeySetCache_DegradedMode(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	first := rsaSnapshot(t, publicKey, "k1")
	fetcher := &stubFetcher{snapshot: first}
	c := NewKeySetCache(fetcher, KeySetCacheConfig{}, zap.NewNop(), nil)
	require.NoError(t, c.Init(context.Background()))

	fetcher.set(nil, errors.New("provider down"))
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.True(t, c.Degraded())

	current, err := c.Get()
	require.NoError(t, err)
	assert.Same(t, first, current, "last good snapshot keeps serving")

	second := rsaSnapshot(t, publicKey, "k2")
	fetcher.set(second, nil)
	refreshed, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, refreshed)
	assert.False(t, c.Degraded())

	stats := c.Stats()
	assert.True(t, stats.Loaded)
	assert.Equal(t, []string{"k2"}, stats.KeyIDs)
}

func TestKeySetCache_RefreshForUnknownKeyThrottled(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	c := newTestCache(t, server, time.Minute)
	require.Equal(t, 1, server.fetchCount())

	_, err := c.RefreshForUnknownKey(context.Background(), "rotated")
	require.NoError(t, err)
	assert.Equal(t, 2, server.fetchCount())

	_, err = c.RefreshForUnknownKey(context.Background(), "rotated")
	require.NoError(t, err)
	assert.Equal(t, 2, server.fetchCount(), "same kid inside the window must not refetch")

	_, err = c.RefreshForUnknownKey(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, 3, server.fetchCount(), "each kid has its own window")
}

func TestKeySetCache_RefreshForUnknownKeyWindowExpires(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	c := newTestCache(t, server, 50*time.Millisecond)

	_, err := c.RefreshForUnknownKey(context.Background(), "rotated")
	require.NoError(t, err)
	assert.Equal(t, 2, server.fetchCount())

	time.Sleep(80 * time.Millisecond)

	_, err = c.RefreshForUnknownKey(context.Background(), "rotated")
	require.NoError(t, err)
	assert.Equal(t, 3, server.fetchCount())
}

func newBudgetedCache(t *testing.T, server *mockJWKSServer, interval time.Duration, maxRefreshes int) *KeySetCache {
	fetcher := NewHTTPKeySetFetcher(server.URL, 5*time.Second, zap.NewNop())
	c := NewKeySetCache(fetcher, KeySetCacheConfig{
		UnknownKeyRefreshInterval: interval,
		MaxUnknownKeyRefreshes:    maxRefreshes,
	}, zap.NewNop(), nil)
	require.NoError(t, c.Init(context.Background()))
	return c
}

func TestKeySetCache_DistinctUnknownKeysShareABudget(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	c := newBudgetedCache(t, server, time.Minute, 3)
	require.Equal(t, 1, server.fetchCount())

	for i := 0; i < 20; i++ {
		snapshot, err := c.RefreshForUnknownKey(context.Background(), fmt.Sprintf("forged-%d", i))
		require.NoError(t, err)
		assert.Equal(t, []string{testKid}, snapshot.KeyIDs())
	}

	assert.Equal(t, 4, server.fetchCount(), "startup fetch plus the budget, whatever the number of kids")
}

func TestKeySetCache_DistinctUnknownKeysConcurrent(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	c := newBudgetedCache(t, server, time.Minute, 3)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.RefreshForUnknownKey(context.Background(), fmt.Sprintf("forged-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, server.fetchCount(), 4)
}

func TestKeySetCache_UnknownKeyBudgetRenews(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, testKid))
	c := newBudgetedCache(t, server, 50*time.Millisecond, 1)

	_, err := c.RefreshForUnknownKey(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.RefreshForUnknownKey(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, server.fetchCount(), "budget of one is spent by the first kid")

	time.Sleep(80 * time.Millisecond)

	_, err = c.RefreshForUnknownKey(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 3, server.fetchCount(), "a kid turned away by the budget is not remembered")
}

func TestKeySetCache_ConcurrentRefreshesCoalesce(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	fetcher := &stubFetcher{snapshot: rsaSnapshot(t, publicKey, "k1")}
	c := NewKeySetCache(fetcher, KeySetCacheConfig{}, zap.NewNop(), nil)
	require.NoError(t, c.Init(context.Background()))

	fetcher.release = make(chan struct{})
	const workers = 50

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, _ = c.RefreshForUnknownKey(context.Background(), "unknown")
		}()
	}
	close(start)

	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Equal(t, int32(2), fetcher.calls.Load(), "startup plus one refresh")
}

func TestKeySetCache_RefreshHonorsCallerContext(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	fetcher := &stubFetcher{snapshot: rsaSnapshot(t, publicKey, "k1")}
	c := NewKeySetCache(fetcher, KeySetCacheConfig{}, zap.NewNop(), nil)
	require.NoError(t, c.Init(context.Background()))

	fetcher.release = make(chan struct{})
	defer close(fetcher.release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Refresh(ctx)
	assert.ErrorIs(t, err, ErrKeySetUnavailable)

	current, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, current.KeyIDs())
}

func TestKeySetCache_Run(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, "k1"))
	fetcher := NewHTTPKeySetFetcher(server.URL, time.Second, zap.NewNop())
	c := NewKeySetCache(fetcher, KeySetCacheConfig{BackgroundRefresh: 10 * time.Millisecond}, zap.NewNop(), nil)
	require.NoError(t, c.Init(context.Background()))

	server.setKeys(rsaJWK(publicKey, "k2"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		snapshot, err := c.Get()
		return err == nil && snapshot.KeyIDs()[0] == "k2"
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestKeySetCache_RunDisabled(t *testing.T) {
	c := NewKeySetCache(&stubFetcher{}, KeySetCacheConfig{}, zap.NewNop(), nil)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately without a refresh period")
	}
}

func TestKeySetCache_ServerErrorKeepsSnapshot(t *testing.T) {
	_, publicKey := generateTestKeyPair(t)
	server := createMockJWKSServer(t, rsaJWK(publicKey, "k1"))
	c := newTestCache(t, server, time.Minute)

	server.setStatus(http.StatusInternalServerError)
	_, err := c.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrKeySetUnavailable)
	assert.True(t, c.Stats().Degraded)

	snapshot, err := c.Get()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, snapshot.KeyIDs())
}
