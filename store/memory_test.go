package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danribes/mystic-ecom-sub013/types"
)

func newMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetRoundTrip(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "k", []byte("v"), time.Minute))

	value, ttl, err := s.GetWithTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), value)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestGetMissingKey(t *testing.T) {
	s := newMemory(t)

	_, _, err := s.GetWithTTL(context.Background(), "nope")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)
}

func TestTTLExpiry(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "short", []byte("v"), 20*time.Millisecond))
	time.Sleep(40 * time.Millisecond)

	_, _, err := s.GetWithTTL(ctx, "short")
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	exists, err := s.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSetIfAbsent(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	acquired, err := s.SetIfAbsent(ctx, "lock", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.SetIfAbsent(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	value, _, err := s.GetWithTTL(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), value)
}

func TestSetIfAbsentAfterExpiry(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	acquired, err := s.SetIfAbsent(ctx, "lock", []byte("a"), 20*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(40 * time.Millisecond)

	acquired, err = s.SetIfAbsent(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestScoredSetOperations(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.AddScored(ctx, "window", 100, "a"))
	require.NoError(t, s.AddScored(ctx, "window", 200, "b"))
	require.NoError(t, s.AddScored(ctx, "window", 300, "c"))

	count, err := s.CountScoreRange(ctx, "window", 100, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	member, score, err := s.OldestScored(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, "a", member)
	assert.Equal(t, float64(100), score)

	removed, err := s.RemoveScoreRange(ctx, "window", 0, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	member, _, err = s.OldestScored(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, "b", member)
}

func TestSlideWindow(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	require.NoError(t, s.AddScored(ctx, "window", 100, "stale"))
	require.NoError(t, s.AddScored(ctx, "window", 500, "live-1"))
	require.NoError(t, s.AddScored(ctx, "window", 600, "live-2"))

	count, oldest, err := s.SlideWindow(ctx, "window", 400)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, float64(500), oldest)

	// The stale member is gone for good.
	count, err = s.CountScoreRange(ctx, "window", 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestSlideWindowEmptyKey(t *testing.T) {
	s := newMemory(t)

	count, oldest, err := s.SlideWindow(context.Background(), "missing", 400)
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, oldest)
}

func TestScanPagesThroughMatches(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	for _, key := range []string{"cache:products:1", "cache:products:2", "cache:products:3", "cache:courses:1", "idem:evt"} {
		require.NoError(t, s.SetWithTTL(ctx, key, []byte("v"), time.Minute))
	}

	var all []string
	var cursor uint64
	for {
		keys, next, err := s.Scan(ctx, "cache:products:*", cursor, 2)
		require.NoError(t, err)
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}

	assert.ElementsMatch(t, []string{"cache:products:1", "cache:products:2", "cache:products:3"}, all)
}

func TestFailureInjection(t *testing.T) {
	s := newMemory(t)
	ctx := context.Background()

	s.Fail(types.ErrStoreUnavailable)

	_, _, err := s.GetWithTTL(ctx, "k")
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.ErrorIs(t, s.SetWithTTL(ctx, "k", []byte("v"), 0), types.ErrStoreUnavailable)
	assert.ErrorIs(t, s.Ping(ctx), types.ErrStoreUnavailable)

	s.Fail(nil)
	assert.NoError(t, s.SetWithTTL(ctx, "k", []byte("v"), 0))
}

func TestMatchPattern(t *testing.T) {
	assert.True(t, matchPattern("cache:*", "cache:products:1"))
	assert.True(t, matchPattern("cache:products:*", "cache:products:1"))
	assert.False(t, matchPattern("cache:products:*", "cache:courses:1"))
	assert.True(t, matchPattern("exact", "exact"))
	assert.False(t, matchPattern("exact", "exactly"))
}
