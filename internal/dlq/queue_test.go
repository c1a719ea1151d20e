package dlq

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestQueue(t *testing.T) (*Queue, *time.Time) {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "archive.db"), 3)
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return clock }
	return q, &clock
}

func TestQueue_EnqueueIncrementsRetryCount(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()

	entry := Entry{Operation: "assess", Service: "llm", Category: "TIMEOUT", ErrorMessage: "deadline exceeded"}

	first, err := q.Enqueue(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, 0, first.RetryCount)
	assert.Nil(t, first.LastRetryAt)

	*clock = clock.Add(time.Minute)
	second, err := q.Enqueue(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, second.RetryCount)
	require.NotNil(t, second.LastRetryAt)
	assert.True(t, second.CreatedAt.Before(second.UpdatedAt))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalEntries)
}

func TestQueue_PendingAndStats(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()

	exhausted := Entry{Operation: "plan", Service: "llm", ErrorMessage: "quota exceeded"}
	for i := 0; i < 4; i++ {
		_, err := q.Enqueue(ctx, exhausted)
		require.NoError(t, err)
	}
	*clock = clock.Add(time.Second)
	_, err := q.Enqueue(ctx, Entry{Operation: "plan", Service: "llm", ErrorMessage: "network unreachable"})
	require.NoError(t, err)

	pending, err := q.Pending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "network unreachable", pending[0].ErrorMessage)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.ExhaustedRetries)
	assert.Equal(t, 1, stats.RetryableEntries)
}

func TestQueue_RecentOrdersByUpdate(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()

	for _, msg := range []string{"a", "b", "c"} {
		_, err := q.Enqueue(ctx, Entry{Operation: "op", ErrorMessage: msg})
		require.NoError(t, err)
		*clock = clock.Add(time.Second)
	}

	recent, err := q.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].ErrorMessage)
	assert.Equal(t, "b", recent[1].ErrorMessage)
}

func TestQueue_MarkResolvedAndPurge(t *testing.T) {
	q, clock := openTestQueue(t)
	ctx := context.Background()

	old, err := q.Enqueue(ctx, Entry{Operation: "op", ErrorMessage: "old"})
	require.NoError(t, err)
	*clock = clock.Add(48 * time.Hour)
	fresh, err := q.Enqueue(ctx, Entry{Operation: "op", ErrorMessage: "fresh"})
	require.NoError(t, err)

	purged, err := q.PurgeOld(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	require.NoError(t, q.MarkResolved(ctx, old.Fingerprint), "resolving a missing entry is not an error")
	require.NoError(t, q.MarkResolved(ctx, fresh.Fingerprint))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, Fingerprint("a", "b", "c"), Fingerprint("a", "b", "c"))
	assert.NotEqual(t, Fingerprint("a", "b", "c"), Fingerprint("a", "bc", ""))
	assert.Len(t, Fingerprint("a", "b", "c"), 32)
}
