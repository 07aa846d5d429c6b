package cognito

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultUnknownKeyRefreshInterval bounds lazy refreshes per unknown kid
	DefaultUnknownKeyRefreshInterval = 5 * time.Minute

	// DefaultMaxUnknownKeyRefreshes bounds lazy refreshes across all kids
	// within one refresh interval
	DefaultMaxUnknownKeyRefreshes = 10

	// DefaultFetchTimeout bounds a single key set fetch
	DefaultFetchTimeout = 10 * time.Second

	refreshGroupKey = "jwks"
)

// VerificationKey is a public key published by the identity provider.
// Fields are unexported so a key cannot change after it has been fetched.
type VerificationKey struct {
	keyID     string
	algorithm string
	publicKey crypto.PublicKey
}

// NewVerificationKey validates that algorithm is an asymmetric signing method
// compatible with publicKey
func NewVerificationKey(keyID, algorithm string, publicKey crypto.PublicKey) (VerificationKey, error) {
	if keyID == "" {
		return VerificationKey{}, errors.New("key id is required")
	}
	if publicKey == nil {
		return VerificationKey{}, fmt.Errorf("key %s: public key is required", keyID)
	}

	method := jwt.GetSigningMethod(algorithm)
	compatible := false
	switch method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		_, compatible = publicKey.(*rsa.PublicKey)
	case *jwt.SigningMethodECDSA:
		_, compatible = publicKey.(*ecdsa.PublicKey)
	case *jwt.SigningMethodEd25519:
		_, compatible = publicKey.(ed25519.PublicKey)
	}
	if !compatible {
		return VerificationKey{}, fmt.Errorf("key %s: unsupported algorithm %q for %T", keyID, algorithm, publicKey)
	}

	return VerificationKey{keyID: keyID, algorithm: algorithm, publicKey: publicKey}, nil
}

// KeyID returns the key identifier (kid)
func (k VerificationKey) KeyID() string { return k.keyID }

// Algorithm returns the signing algorithm bound to the key
func (k VerificationKey) Algorithm() string { return k.algorithm }

// PublicKey returns the public key material
func (k VerificationKey) PublicKey() crypto.PublicKey { return k.publicKey }

// KeySetSnapshot is an immutable, ordered set of verification keys
type KeySetSnapshot struct {
	keys      []VerificationKey
	byID      map[string]VerificationKey
	fetchedAt time.Time
}

// NewKeySetSnapshot builds a snapshot, rejecting duplicate key ids
func NewKeySetSnapshot(keys []VerificationKey, fetchedAt time.Time) (*KeySetSnapshot, error) {
	snapshot := &KeySetSnapshot{
		keys:      make([]VerificationKey, 0, len(keys)),
		byID:      make(map[string]VerificationKey, len(keys)),
		fetchedAt: fetchedAt,
	}
	for _, key := range keys {
		if _, exists := snapshot.byID[key.keyID]; exists {
			return nil, fmt.Errorf("duplicate key id %q in key set", key.keyID)
		}
		snapshot.keys = append(snapshot.keys, key)
		snapshot.byID[key.keyID] = key
	}
	return snapshot, nil
}

// Lookup finds a key by kid
func (s *KeySetSnapshot) Lookup(keyID string) (VerificationKey, bool) {
	key, ok := s.byID[keyID]
	return key, ok
}

// KeyIDs returns the key ids in publication order
func (s *KeySetSnapshot) KeyIDs() []string {
	ids := make([]string, len(s.keys))
	for i, key := range s.keys {
		ids[i] = key.keyID
	}
	return ids
}

// Len returns the number of keys
func (s *KeySetSnapshot) Len() int { return len(s.keys) }

// FetchedAt returns when the snapshot was fetched
func (s *KeySetSnapshot) FetchedAt() time.Time { return s.fetchedAt }

// KeySetFetcher retrieves a fresh key set from the identity provider
type KeySetFetcher interface {
	FetchKeySet(ctx context.Context) (*KeySetSnapshot, error)
}

// KeySetCacheConfig holds refresh policy for KeySetCache
type KeySetCacheConfig struct {
	// UnknownKeyRefreshInterval is the window in which an unknown kid
	// may trigger at most one refresh
	UnknownKeyRefreshInterval time.Duration

	// MaxUnknownKeyRefreshes caps the fetches that distinct unknown kids
	// together may trigger within one UnknownKeyRefreshInterval
	MaxUnknownKeyRefreshes int

	// BackgroundRefresh is the period of the Run loop; zero disables it
	BackgroundRefresh time.Duration

	// FetchTimeout bounds each fetch regardless of caller deadlines
	FetchTimeout time.Duration
}

// KeySetCache owns the current KeySetSnapshot. Readers never block on a
// refresh: a new snapshot is built out of place and swapped atomically.
type KeySetCache struct {
	fetcher  KeySetFetcher
	logger   *zap.Logger
	recorder Recorder

	backgroundRefresh time.Duration
	fetchTimeout      time.Duration

	current  atomic.Pointer[KeySetSnapshot]
	degraded atomic.Bool

	group               singleflight.Group
	attemptsMu          sync.Mutex
	attempts            *cache.Cache // kid -> struct{}, expires after the refresh interval
	maxUnknownRefreshes int
}

// KeySetStats describes the cache for health reporting
type KeySetStats struct {
	Loaded    bool      `json:"loaded"`
	Degraded  bool      `json:"degraded"`
	KeyCount  int       `json:"key_count"`
	KeyIDs    []string  `json:"key_ids,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
}

// NewKeySetCache creates an empty cache; call Init before serving requests
func NewKeySetCache(fetcher KeySetFetcher, cfg KeySetCacheConfig, logger *zap.Logger, recorder Recorder) *KeySetCache {
	if cfg.UnknownKeyRefreshInterval <= 0 {
		cfg.UnknownKeyRefreshInterval = DefaultUnknownKeyRefreshInterval
	}
	if cfg.MaxUnknownKeyRefreshes <= 0 {
		cfg.MaxUnknownKeyRefreshes = DefaultMaxUnknownKeyRefreshes
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &KeySetCache{
		fetcher:             fetcher,
		logger:              logger,
		recorder:            recorder,
		backgroundRefresh:   cfg.BackgroundRefresh,
		fetchTimeout:        cfg.FetchTimeout,
		attempts:            cache.New(cfg.UnknownKeyRefreshInterval, 2*cfg.UnknownKeyRefreshInterval),
		maxUnknownRefreshes: cfg.MaxUnknownKeyRefreshes,
	}
}

// Get returns the current snapshot
func (c *KeySetCache) Get() (*KeySetSnapshot, error) {
	snapshot := c.current.Load()
	if snapshot == nil {
		return nil, ErrKeySetUnavailable
	}
	return snapshot, nil
}

// Init performs the eager startup fetch. An error here must stop the process.
func (c *KeySetCache) Init(ctx context.Context) error {
	if _, err := c.refresh(ctx, TriggerStartup); err != nil {
		return fmt.Errorf("initial key set fetch failed: %w", err)
	}
	return nil
}

// Refresh fetches a new snapshot and swaps it in. On failure the previous
// snapshot keeps serving and the cache enters degraded mode.
func (c *KeySetCache) Refresh(ctx context.Context) (*KeySetSnapshot, error) {
	return c.refresh(ctx, TriggerManual)
}

// RefreshForUnknownKey refreshes on behalf of a token signed with an unknown
// kid. Each kid triggers at most one fetch per refresh interval, and all kids
// together at most MaxUnknownKeyRefreshes. Throttled calls get the current
// snapshot back without any I/O.
func (c *KeySetCache) RefreshForUnknownKey(ctx context.Context, keyID string) (*KeySetSnapshot, error) {
	ch := c.group.DoChan("kid:"+keyID, func() (interface{}, error) {
		if !c.admitUnknownKey(keyID) {
			return c.Get()
		}

		v, err, _ := c.group.Do(refreshGroupKey, func() (interface{}, error) {
			return c.fetchAndSwap(TriggerUnknownKey)
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySetSnapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// admitUnknownKey records keyID and reports whether it may trigger a fetch
func (c *KeySetCache) admitUnknownKey(keyID string) bool {
	c.attemptsMu.Lock()
	defer c.attemptsMu.Unlock()

	if _, seen := c.attempts.Get(keyID); seen {
		c.logger.Debug("unknown key refresh throttled", zap.String("kid", keyID))
		return false
	}
	// Items skips entries that expired but are not yet evicted
	if len(c.attempts.Items()) >= c.maxUnknownRefreshes {
		c.logger.Warn("unknown key refresh budget exhausted",
			zap.String("kid", keyID),
			zap.Int("max_refreshes", c.maxUnknownRefreshes))
		return false
	}
	c.attempts.SetDefault(keyID, struct{}{})
	return true
}

// Run refreshes the key set periodically until ctx is cancelled
func (c *KeySetCache) Run(ctx context.Context) {
	if c.backgroundRefresh <= 0 {
		return
	}

	ticker := time.NewTicker(c.backgroundRefresh)
	defer ticker.Stop()

	c.logger.Info("key set background refresh started", zap.Duration("interval", c.backgroundRefresh))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("key set background refresh stopped")
			return
		case <-ticker.C:
			_, _ = c.refresh(ctx, TriggerBackground)
		}
	}
}

// Degraded reports whether the last refresh failed while an older snapshot is served
func (c *KeySetCache) Degraded() bool {
	return c.degraded.Load()
}

// Stats returns a point-in-time view of the cache
func (c *KeySetCache) Stats() KeySetStats {
	stats := KeySetStats{Degraded: c.degraded.Load()}
	if snapshot := c.current.Load(); snapshot != nil {
		stats.Loaded = true
		stats.KeyCount = snapshot.Len()
		stats.KeyIDs = snapshot.KeyIDs()
		stats.FetchedAt = snapshot.FetchedAt()
	}
	return stats
}

// refresh coalesces concurrent callers into one fetch; each caller stops
// waiting when its own ctx is done while the shared fetch runs to completion
func (c *KeySetCache) refresh(ctx context.Context, trigger string) (*KeySetSnapshot, error) {
	ch := c.group.DoChan(refreshGroupKey, func() (interface{}, error) {
		return c.fetchAndSwap(trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySetSnapshot), nil
	case <-ctx.Done():
		return nil, newAuthError(KindKeySetUnavailable, "key set refresh abandoned", ctx.Err())
	}
}

func (c *KeySetCache) fetchAndSwap(trigger string) (*KeySetSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.fetchTimeout)
	defer cancel()

	snapshot, err := c.fetcher.FetchKeySet(ctx)
	if err != nil {
		c.recorder.KeySetRefreshed(trigger, false)
		if c.current.Load() != nil {
			if !c.degraded.Swap(true) {
				c.logger.Warn("key set refresh failed, serving last good snapshot",
					zap.String("trigger", trigger),
					zap.Error(err))
			}
			c.recorder.KeySetDegraded(true)
		} else {
			c.logger.Error("key set refresh failed and no snapshot is available",
				zap.String("trigger", trigger),
				zap.Error(err))
		}
		return nil, newAuthError(KindKeySetUnavailable, "key set refresh failed", err)
	}

	c.current.Store(snapshot)
	if c.degraded.Swap(false) {
		c.logger.Info("key set refresh recovered from degraded mode")
	}
	c.recorder.KeySetDegraded(false)
	c.recorder.KeySetRefreshed(trigger, true)

	c.logger.Info("key set refreshed",
		zap.String("trigger", trigger),
		zap.Int("keys", snapshot.Len()),
		zap.Strings("kids", snapshot.KeyIDs()))

	return snapshot, nil
}
