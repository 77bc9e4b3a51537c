package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/logger"
	"github.com/danribes/mystic-ecom-sub013/metrics"
	"github.com/danribes/mystic-ecom-sub013/store"
	"github.com/danribes/mystic-ecom-sub013/types"
)

func newTestLimiter(t *testing.T, profiles ...types.RateLimitProfile) (types.RateLimiter, *store.MemoryStore) {
	t.Helper()

	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	limiter, err := NewLimiter(
		logger.NewZapWrapper(zap.NewNop()),
		&types.RateLimitConfig{Enabled: true, Profiles: profiles},
		memStore,
		metrics.NewMemoryMetrics(),
	)
	require.NoError(t, err)
	require.NoError(t, limiter.Start())
	t.Cleanup(func() { _ = limiter.Stop() })

	return limiter, memStore
}

func authProfile() types.RateLimitProfile {
	return types.RateLimitProfile{
		Name:        "auth",
		KeyPrefix:   "rl:auth",
		MaxRequests: 5,
		Window:      types.Duration(15 * time.Minute),
		Strategy:    types.IdentifyByIP,
	}
}

func TestCheckCountsDownRemaining(t *testing.T) {
	limiter, _ := newTestLimiter(t, authProfile())
	ctx := context.Background()

	for want := 4; want >= 0; want-- {
		verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Equal(t, 5, verdict.Limit)
		assert.Equal(t, want, verdict.Remaining)
	}

	verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, 0, verdict.Remaining)

	// The oldest of the five markers was placed just now, so the rejection
	// resets roughly one full window out.
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), verdict.ResetAt, time.Second)
	assert.Greater(t, verdict.RetryAfter, 14*time.Minute)
}

func TestCheckIsolatesIdentifiers(t *testing.T) {
	limiter, _ := newTestLimiter(t, authProfile())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "auth", "203.0.113.7")
		require.NoError(t, err)
	}

	verdict, err := limiter.Check(ctx, "auth", "198.51.100.9")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 4, verdict.Remaining)
}

func TestResetAtComesFromOldestMarkerNotClockBoundary(t *testing.T) {
	profile := types.RateLimitProfile{
		Name:        "search",
		KeyPrefix:   "rl:search",
		MaxRequests: 2,
		Window:      types.Duration(2 * time.Second),
		Strategy:    types.IdentifyByIP,
	}
	limiter, memStore := newTestLimiter(t, profile)
	ctx := context.Background()

	// Seed a marker 1.5s into the trailing window, as if the client spent
	// part of its budget earlier. A fixed-window limiter aligned to clock
	// boundaries would have already forgotten it.
	oldest := time.Now().Add(-1500 * time.Millisecond)
	require.NoError(t, memStore.AddScored(ctx, "rl:search:203.0.113.7", float64(oldest.UnixMilli()), "seed"))

	verdict, err := limiter.Check(ctx, "search", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)

	verdict, err = limiter.Check(ctx, "search", "203.0.113.7")
	require.NoError(t, err)
	require.False(t, verdict.Allowed)

	// resetAt = oldest surviving marker + window, i.e. ~0.5s out, far
	// sooner than a naive now+window.
	assert.WithinDuration(t, oldest.Add(2*time.Second), verdict.ResetAt, 200*time.Millisecond)
	assert.Less(t, verdict.RetryAfter, time.Second)
}

func TestWindowSlidesMarkersExpire(t *testing.T) {
	profile := types.RateLimitProfile{
		Name:        "burst",
		KeyPrefix:   "rl:burst",
		MaxRequests: 2,
		Window:      types.Duration(time.Second),
		Strategy:    types.IdentifyByIP,
	}
	limiter, memStore := newTestLimiter(t, profile)
	ctx := context.Background()

	// Markers older than the window are pruned before counting.
	stale := time.Now().Add(-3 * time.Second)
	require.NoError(t, memStore.AddScored(ctx, "rl:burst:id", float64(stale.UnixMilli()), "stale-1"))
	require.NoError(t, memStore.AddScored(ctx, "rl:burst:id", float64(stale.UnixMilli())+1, "stale-2"))

	verdict, err := limiter.Check(ctx, "burst", "id")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 1, verdict.Remaining)
}

func TestStatusDoesNotConsumeSlot(t *testing.T) {
	limiter, _ := newTestLimiter(t, authProfile())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		verdict, err := limiter.Status(ctx, "auth", "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Equal(t, 5, verdict.Remaining)
	}

	verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 4, verdict.Remaining)
}

func TestResetClearsRecord(t *testing.T) {
	limiter, _ := newTestLimiter(t, authProfile())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "auth", "203.0.113.7")
		require.NoError(t, err)
	}

	require.NoError(t, limiter.Reset(ctx, "auth", "203.0.113.7"))

	verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 4, verdict.Remaining)
}

func TestCheckFailsOpenOnStoreOutage(t *testing.T) {
	limiter, memStore := newTestLimiter(t, authProfile())
	ctx := context.Background()

	memStore.Fail(types.ErrStoreUnavailable)

	verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 5, verdict.Remaining)
}

func TestCheckFailsClosedWhenProfileOptsIn(t *testing.T) {
	profile := authProfile()
	profile.FailClosed = true
	limiter, memStore := newTestLimiter(t, profile)
	ctx := context.Background()

	memStore.Fail(types.ErrStoreTimeout)

	verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, 0, verdict.Remaining)
}

func TestUnknownProfileIsAnError(t *testing.T) {
	limiter, _ := newTestLimiter(t, authProfile())

	_, err := limiter.Check(context.Background(), "nope", "203.0.113.7")
	assert.ErrorIs(t, err, types.ErrProfileUnknown)

	_, err = limiter.Status(context.Background(), "nope", "203.0.113.7")
	assert.ErrorIs(t, err, types.ErrProfileUnknown)

	assert.ErrorIs(t, limiter.Reset(context.Background(), "nope", "x"), types.ErrProfileUnknown)
}

func TestEmptyIdentifierBucketsUnderUnknown(t *testing.T) {
	limiter, _ := newTestLimiter(t, authProfile())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "auth", "")
		require.NoError(t, err)
	}

	verdict, err := limiter.Check(ctx, "auth", "unknown")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
}

// discreteStore hides the WindowSlider capability so the limiter exercises
// its fallback prune-count-oldest path.
type discreteStore struct {
	types.StateStore
}

func TestSlideFallbackWithoutWindowSlider(t *testing.T) {
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	limiter, err := NewLimiter(
		logger.NewZapWrapper(zap.NewNop()),
		&types.RateLimitConfig{Enabled: true, Profiles: []types.RateLimitProfile{authProfile()}},
		discreteStore{StateStore: memStore},
		metrics.NewMemoryMetrics(),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for want := 4; want >= 0; want-- {
		verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, verdict.Allowed)
		assert.Equal(t, want, verdict.Remaining)
	}

	verdict, err := limiter.Check(ctx, "auth", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
}

func TestDuplicateProfileRejected(t *testing.T) {
	memStore := store.NewMemoryStore()
	t.Cleanup(func() { _ = memStore.Close() })

	_, err := NewLimiter(
		logger.NewZapWrapper(zap.NewNop()),
		&types.RateLimitConfig{Enabled: true, Profiles: []types.RateLimitProfile{authProfile(), authProfile()}},
		memStore,
		metrics.NewMemoryMetrics(),
	)
	assert.ErrorIs(t, err, types.ErrProfileDuplicate)
}
