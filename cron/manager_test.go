package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/logger"
	"github.com/danribes/mystic-ecom-sub013/types"
)

func newTestManager(t *testing.T) types.CronManager {
	t.Helper()

	manager, err := NewManager(
		context.Background(),
		logger.NewZapWrapper(zap.NewNop()),
		&types.CronConfig{Enabled: true, Timezone: "UTC"},
	)
	require.NoError(t, err)
	return manager
}

func noopJob(ctx context.Context) error { return nil }

func TestAddJobRegistersOnce(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.AddJob("report", "0 * * * *", noopJob))
	assert.ErrorIs(t, manager.AddJob("report", "30 * * * *", noopJob), types.ErrCronJobExists)
	assert.Equal(t, []string{"report"}, manager.Jobs())
}

func TestAddJobValidation(t *testing.T) {
	manager := newTestManager(t)

	assert.ErrorIs(t, manager.AddJob("", "* * * * *", noopJob), types.ErrCronJobNameIsEmpty)
	assert.ErrorIs(t, manager.AddJob("job", "* * * * *", nil), types.ErrCronJobIsNil)
	assert.ErrorIs(t, manager.AddJob("job", "not a schedule", noopJob), types.ErrCronExpressionInvalid)
}

func TestRemoveJob(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.AddJob("probe", "* * * * *", noopJob))
	require.NoError(t, manager.RemoveJob("probe"))
	assert.Empty(t, manager.Jobs())

	assert.ErrorIs(t, manager.RemoveJob("probe"), types.ErrCronJobNotFound)
}

func TestManagerLifecycle(t *testing.T) {
	manager := newTestManager(t)

	require.NoError(t, manager.Start())
	assert.True(t, manager.IsRunning())
	assert.ErrorIs(t, manager.Start(), types.ErrAlreadyRunning)

	require.NoError(t, manager.Stop())
	assert.False(t, manager.IsRunning())
	assert.ErrorIs(t, manager.Stop(), types.ErrNotRunning)
}
