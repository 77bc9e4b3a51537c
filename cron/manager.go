package cron

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/types"
)

const defaultJobTimeout = 30 * time.Second

type jobEntry struct {
	id       cron.EntryID
	schedule string
}

type Manager struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     types.Logger
	cron       *cron.Cron
	jobs       map[string]jobEntry
	mu         sync.RWMutex
	jobTimeout time.Duration
	running    int32
}

func NewManager(ctx context.Context, logger types.Logger, config *types.CronConfig) (types.CronManager, error) {
	timezone := time.UTC
	if config != nil && config.Timezone != "" {
		if loc, err := time.LoadLocation(config.Timezone); err == nil {
			timezone = loc
		} else {
			logger.Warn("Unknown cron timezone, using UTC", zap.String("timezone", config.Timezone))
		}
	}

	managerCtx, cancel := context.WithCancel(ctx)

	m := &Manager{
		ctx:        managerCtx,
		cancel:     cancel,
		logger:     logger,
		jobs:       make(map[string]jobEntry),
		jobTimeout: defaultJobTimeout,
	}

	m.cron = cron.New(
		cron.WithLocation(timezone),
		cron.WithChain(cron.Recover(safeCronLogger{logger: logger})),
	)

	return m, nil
}

func (m *Manager) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrAlreadyRunning
	}

	m.cron.Start()
	m.logger.Info("Cron scheduler started")
	return nil
}

func (m *Manager) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrNotRunning
	}

	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(10 * time.Second):
		m.logger.Warn("Cron scheduler stop timeout")
	}

	m.cancel()
	m.logger.Info("Cron scheduler stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *Manager) AddJob(name, schedule string, handler func(ctx context.Context) error) error {
	if name == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if handler == nil {
		return types.ErrCronJobIsNil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[name]; exists {
		return types.Errorf(types.ErrCronJobExists, "job: %s", name)
	}

	id, err := m.cron.AddFunc(schedule, func() {
		jobCtx, cancel := context.WithTimeout(m.ctx, m.jobTimeout)
		defer cancel()

		start := time.Now()
		if err := handler(jobCtx); err != nil {
			m.logger.Error("Cron job failed",
				zap.String("job", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}

		m.logger.Debug("Cron job completed",
			zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	})
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "job %s: %v", name, err)
	}

	m.jobs[name] = jobEntry{id: id, schedule: schedule}
	m.logger.Info("Cron job registered", zap.String("job", name), zap.String("schedule", schedule))

	return nil
}

func (m *Manager) RemoveJob(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.jobs[name]
	if !exists {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", name)
	}

	m.cron.Remove(entry.id)
	delete(m.jobs, name)
	return nil
}

func (m *Manager) Jobs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.jobs))
	for name := range m.jobs {
		names = append(names, name)
	}
	return names
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
