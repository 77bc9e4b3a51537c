package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danribes/mystic-ecom-sub013/config"
	"github.com/danribes/mystic-ecom-sub013/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	serviceConfig := config.NewLoader().Defaults()
	serviceConfig.Logger.Level = "error"
	serviceConfig.Store.Type = "memory"

	service, err := NewServiceFromConfig(context.Background(), serviceConfig)
	require.NoError(t, err)
	require.NoError(t, service.Start())
	t.Cleanup(func() {
		if service.IsRunning() {
			_ = service.Stop()
		}
	})

	return service
}

func TestServiceLifecycle(t *testing.T) {
	service := newTestService(t)

	assert.True(t, service.IsRunning())
	assert.ErrorIs(t, service.Start(), types.ErrAlreadyRunning)

	require.NoError(t, service.Stop())
	assert.False(t, service.IsRunning())
	assert.ErrorIs(t, service.Stop(), types.ErrNotRunning)
}

func TestServiceWiresComponentsOverOneStore(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	// All three governance concerns operate against the same store without
	// stepping on each other's keyspaces.
	verdict, err := service.RateLimiter().Check(ctx, "auth", "198.51.100.4")
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)
	assert.Equal(t, 5, verdict.Limit)

	require.NoError(t, service.Cache().Set(ctx, "products", "p1", "cached", time.Minute))

	require.NoError(t, service.Idempotency().MarkProcessed(ctx, "evt_001"))

	var cached string
	hit, err := service.Cache().Get(ctx, "products", "p1", &cached)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "cached", cached)

	processed, err := service.Idempotency().IsProcessed(ctx, "evt_001")
	require.NoError(t, err)
	assert.True(t, processed)

	// Flushing the cache keyspace leaves the other records intact.
	require.NoError(t, service.Cache().FlushAll(ctx, "test"))

	processed, err = service.Idempotency().IsProcessed(ctx, "evt_001")
	require.NoError(t, err)
	assert.True(t, processed)

	status, err := service.RateLimiter().Status(ctx, "auth", "198.51.100.4")
	require.NoError(t, err)
	assert.Equal(t, 4, status.Remaining)
}

func TestServiceRejectsInvalidConfig(t *testing.T) {
	serviceConfig := config.NewLoader().Defaults()
	serviceConfig.Store.Type = "memory"
	serviceConfig.RateLimit.Profiles = []types.RateLimitProfile{
		{Name: "a", KeyPrefix: "rl:x", MaxRequests: 1, Window: types.Duration(time.Minute)},
		{Name: "b", KeyPrefix: "rl:x", MaxRequests: 1, Window: types.Duration(time.Minute)},
	}

	_, err := NewServiceFromConfig(context.Background(), serviceConfig)
	assert.ErrorIs(t, err, types.ErrProfileInvalid)
}
