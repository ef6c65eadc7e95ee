package dispatch

import (
	"context"
	"sync"
	"time"
)

// VigilanceStatus is the compliance screening state of a carrier.
type VigilanceStatus string

const (
	VigilanceOK      VigilanceStatus = "OK"
	VigilanceBlocked VigilanceStatus = "BLOCKED"
	VigilanceUnknown VigilanceStatus = "UNKNOWN"
)

// VigilanceChecker resolves the screening status of a carrier. Blocked
// carriers are skipped by the chain without consuming their SLA window.
type VigilanceChecker interface {
	Status(ctx context.Context, carrierID string) (VigilanceStatus, error)
}

// StaticVigilance serves statuses from a fixed map, defaulting to UNKNOWN.
type StaticVigilance map[string]VigilanceStatus

func (s StaticVigilance) Status(_ context.Context, carrierID string) (VigilanceStatus, error) {
	if st, ok := s[carrierID]; ok {
		return st, nil
	}
	return VigilanceUnknown, nil
}

// VigilanceCacheStore holds screening statuses with a TTL so the chain does
// not hammer the upstream service on every hop.
type VigilanceCacheStore interface {
	Get(ctx context.Context, carrierID string) (VigilanceStatus, bool, error)
	Set(ctx context.Context, carrierID string, st VigilanceStatus, ttl time.Duration) error
}

// DefaultVigilanceTTL mirrors the upstream cache window.
const DefaultVigilanceTTL = 5 * time.Minute

// CachedVigilance wraps a checker with a TTL cache.
type CachedVigilance struct {
	inner VigilanceChecker
	cache VigilanceCacheStore
	ttl   time.Duration
}

// NewCachedVigilance creates a caching wrapper around checker.
func NewCachedVigilance(checker VigilanceChecker, cache VigilanceCacheStore, ttl time.Duration) *CachedVigilance {
	if ttl <= 0 {
		ttl = DefaultVigilanceTTL
	}
	return &CachedVigilance{inner: checker, cache: cache, ttl: ttl}
}

// Status returns the cached status when fresh, otherwise asks the upstream
// checker and refreshes the cache. Upstream failures fall back to UNKNOWN so
// an outage of the screening service never blocks dispatching.
func (c *CachedVigilance) Status(ctx context.Context, carrierID string) (VigilanceStatus, error) {
	if st, ok, err := c.cache.Get(ctx, carrierID); err == nil && ok {
		return st, nil
	}
	st, err := c.inner.Status(ctx, carrierID)
	if err != nil {
		return VigilanceUnknown, err
	}
	if err := c.cache.Set(ctx, carrierID, st, c.ttl); err != nil {
		return st, err
	}
	return st, nil
}

// MemoryVigilanceCache is an in-process VigilanceCacheStore.
type MemoryVigilanceCache struct {
	mu   sync.Mutex
	data map[string]cachedStatus
	now  func() time.Time
}

type cachedStatus struct {
	status    VigilanceStatus
	expiresAt time.Time
}

// NewMemoryVigilanceCache creates an empty cache.
func NewMemoryVigilanceCache() *MemoryVigilanceCache {
	return &MemoryVigilanceCache{data: map[string]cachedStatus{}, now: time.Now}
}

// SetClock overrides the time source, used by tests.
func (c *MemoryVigilanceCache) SetClock(now func() time.Time) { c.now = now }

func (c *MemoryVigilanceCache) Get(_ context.Context, carrierID string) (VigilanceStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[carrierID]
	if !ok || c.now().After(e.expiresAt) {
		delete(c.data, carrierID)
		return VigilanceUnknown, false, nil
	}
	return e.status, true, nil
}

func (c *MemoryVigilanceCache) Set(_ context.Context, carrierID string, st VigilanceStatus, ttl time.Duration) error {
	c.mu.Lock()
	c.data[carrierID] = cachedStatus{status: st, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
