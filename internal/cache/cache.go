package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/crisk-verify/internal/errors"
)

// DefaultTTL is the lifetime of a cached verification result
const DefaultTTL = 15 * time.Minute

// Remote is a shared second tier consulted on local misses
type Remote interface {
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) (int64, error)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// Stats is a snapshot of cache accounting
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Size         int     `json:"size"`
	HitRate      float64 `json:"hit_rate"`
	RemoteErrors int64   `json:"remote_errors"`
}

// Cache is a TTL-keyed store with hit/miss accounting. Expired entries are
// evicted lazily on access. Lookups never block on other lookups beyond the
// map lock.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	hits    int64
	misses  int64
	remErrs int64

	ttl    time.Duration
	remote Remote
	logger *logrus.Logger
	now    func() time.Time
}

// Option customizes a Cache
type Option[V any] func(*Cache[V])

// WithRemote adds a write-through remote tier
func WithRemote[V any](r Remote) Option[V] {
	return func(c *Cache[V]) { c.remote = r }
}

// WithLogger sets the logger used for remote faults
func WithLogger[V any](l *logrus.Logger) Option[V] {
	return func(c *Cache[V]) { c.logger = l }
}

// New creates a cache whose entries default to ttl
func New[V any](ttl time.Duration, opts ...Option[V]) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.SetOutput(io.Discard)
	}
	return c
}

// Get returns the value for key. An expired entry counts as a miss and is
// removed.
func (c *Cache[V]) Get(ctx context.Context, key string) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	if ok {
		c.hits++
		c.mu.Unlock()
		return e.value, true
	}
	c.mu.Unlock()

	if c.remote != nil {
		var v V
		found, err := c.remote.Get(ctx, key, &v)
		if err != nil {
			c.remoteFault("get", key, err)
		} else if found {
			c.mu.Lock()
			c.hits++
			now := c.now()
			c.entries[key] = entry[V]{value: v, expiresAt: now.Add(c.ttl), createdAt: now}
			c.mu.Unlock()
			return v, true
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	var zero V
	return zero, false
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *Cache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	c.mu.Lock()
	now := c.now()
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl), createdAt: now}
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.SetWithTTL(ctx, key, value, ttl); err != nil {
			c.remoteFault("set", key, err)
		}
	}
}

// Delete removes key from both tiers
func (c *Cache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			c.remoteFault("delete", key, err)
		}
	}
}

// Clear drops all entries, local and remote, and resets the counters
func (c *Cache[V]) Clear(ctx context.Context) {
	c.ClearLocal()
	if c.remote != nil {
		if _, err := c.remote.Clear(ctx); err != nil {
			c.remoteFault("clear", "*", err)
		}
	}
}

// ClearLocal drops the process-local entries and resets the counters. The
// remote tier is shared with other processes and left to expire.
func (c *Cache[V]) ClearLocal() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.hits, c.misses, c.remErrs = 0, 0, 0
	c.mu.Unlock()
}

// Stats returns a snapshot of the counters. Size counts unexpired entries.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	size := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			size++
		}
	}
	s := Stats{Hits: c.hits, Misses: c.misses, Size: size, RemoteErrors: c.remErrs}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[V]) remoteFault(op, key string, err error) {
	c.mu.Lock()
	c.remErrs++
	c.mu.Unlock()

	wrapped := errors.Wrap(err, errors.ErrorTypeOrchestration, errors.CodeCacheRemote, errors.SeverityLow,
		fmt.Sprintf("remote cache %s failed", op))
	c.logger.WithFields(logrus.Fields{
		"code": wrapped.Code,
		"key":  key,
	}).WithError(err).Warn("Remote cache fault ignored")
}

// Key derives a stable cache key from any JSON-encodable value
func Key(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache key: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
