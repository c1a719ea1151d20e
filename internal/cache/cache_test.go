package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	Score float64 `json:"score"`
	Level string  `json:"level"`
}

func newTestCache(ttl time.Duration, opts ...Option[result]) (*Cache[result], *time.Time) {
	c := New[result](ttl, opts...)
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestCache_SetThenGet(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, "k", result{Score: 42, Level: "MEDIUM"}, 0)

	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, result{Score: 42, Level: "MEDIUM"}, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 1.0, stats.HitRate)
}

func TestCache_ExpiryIsAMiss(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, "k", result{Score: 1}, 10*time.Second)
	*clock = clock.Add(10 * time.Second)

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)

	c.mu.Lock()
	_, present := c.entries["k"]
	c.mu.Unlock()
	assert.False(t, present, "stale entry is evicted on access")
}

func TestCache_HitRateAndClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, "a", result{}, 0)
	c.Get(ctx, "a")
	c.Get(ctx, "a")
	c.Get(ctx, "b")
	c.Get(ctx, "c")

	assert.Equal(t, 0.5, c.Stats().HitRate)

	c.Delete(ctx, "a")
	_, ok := c.Get(ctx, "a")
	assert.False(t, ok)

	c.Clear(ctx)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New[int](time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%5))
			c.Set(ctx, key, i, 0)
			c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, 5, stats.Size)
	assert.Equal(t, int64(20), stats.Hits+stats.Misses)
}

// memoryRemote stands in for Redis
type memoryRemote struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{data: map[string][]byte{}}
}

func (m *memoryRemote) Get(_ context.Context, key string, target interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, target)
}

func (m *memoryRemote) SetWithTTL(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.data[key] = raw
	return nil
}

func (m *memoryRemote) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return m.err
}

func (m *memoryRemote) Clear(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string][]byte{}
	return n, m.err
}

func TestCache_RemoteTier(t *testing.T) {
	remote := newMemoryRemote()
	ctx := context.Background()

	writer := New[result](time.Minute, WithRemote[result](remote))
	writer.Set(ctx, "k", result{Score: 70, Level: "HIGH"}, 0)

	reader := New[result](time.Minute, WithRemote[result](remote))
	v, ok := reader.Get(ctx, "k")
	require.True(t, ok, "local miss falls through to the remote tier")
	assert.Equal(t, "HIGH", v.Level)
	assert.Equal(t, 1, reader.Stats().Size, "remote hit is cached locally")
}

func TestCache_ClearLocalKeepsRemote(t *testing.T) {
	remote := newMemoryRemote()
	ctx := context.Background()
	c := New[result](time.Minute, WithRemote[result](remote))

	c.Set(ctx, "k", result{Score: 40}, 0)
	c.ClearLocal()
	assert.Equal(t, Stats{}, c.Stats())

	v, ok := c.Get(ctx, "k")
	require.True(t, ok, "remote entry survives a local clear")
	assert.Equal(t, 40.0, v.Score)

	c.Clear(ctx)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestCache_RemoteFaultsAreIgnored(t *testing.T) {
	remote := newMemoryRemote()
	remote.err = stderrors.New("connection refused")
	c := New[result](time.Minute, WithRemote[result](remote))
	ctx := context.Background()

	c.Set(ctx, "k", result{Score: 5}, 0)
	v, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 5.0, v.Score)

	_, ok = c.Get(ctx, "missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.RemoteErrors)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestKey(t *testing.T) {
	a, err := Key(map[string]string{"file": "a.ts"})
	require.NoError(t, err)
	b, err := Key(map[string]string{"file": "a.ts"})
	require.NoError(t, err)
	c, err := Key(map[string]string{"file": "b.ts"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	_, err = Key(func() {})
	assert.Error(t, err)
}

func TestRedisClient(t *testing.T) {
	assert.Equal(t, "crisk:abc", RemoteKey("crisk", "abc"))
	assert.Equal(t, "abc", RemoteKey("", "abc"))

	_, err := NewRedisClient(context.Background(), "", "", "crisk", 0)
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = NewRedisClient(ctx, "127.0.0.1:1", "", "crisk", 0)
	assert.Error(t, err, "unreachable server fails fast")
}
