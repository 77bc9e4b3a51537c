// Package governance wires the distributed request-governance layer: a
// sliding-window rate limiter, a namespaced response cache, and a webhook
// idempotency tracker, all coordinating through one shared keyed store.
package governance

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/cache"
	"github.com/danribes/mystic-ecom-sub013/config"
	"github.com/danribes/mystic-ecom-sub013/cron"
	"github.com/danribes/mystic-ecom-sub013/idempotency"
	"github.com/danribes/mystic-ecom-sub013/logger"
	"github.com/danribes/mystic-ecom-sub013/metrics"
	"github.com/danribes/mystic-ecom-sub013/ratelimit"
	"github.com/danribes/mystic-ecom-sub013/store"
	"github.com/danribes/mystic-ecom-sub013/types"
)

type Service struct {
	ctx     context.Context
	cancel  context.CancelFunc
	config  types.ConfigManager
	logger  types.Logger
	store   types.StateStore
	metrics types.MetricsManager
	limiter types.RateLimiter
	cache   types.ResponseCache
	tracker types.IdempotencyTracker
	cron    types.CronManager
	running int32
}

// NewService builds the full governance stack from a yaml config file. Every
// component receives the shared store and ambient managers by explicit
// injection; there is no package-level client.
func NewService(ctx context.Context, configPath string) (*Service, error) {
	configManager, err := config.NewConfigurationManager(configPath)
	if err != nil {
		return nil, err
	}

	return newService(ctx, configManager)
}

// NewServiceFromConfig builds the stack from an in-memory config, mainly for
// embedding and tests.
func NewServiceFromConfig(ctx context.Context, serviceConfig *types.ServiceConfig) (*Service, error) {
	configManager, err := config.NewFromConfig(serviceConfig)
	if err != nil {
		return nil, err
	}

	return newService(ctx, configManager)
}

func newService(ctx context.Context, configManager types.ConfigManager) (*Service, error) {
	serviceCtx, cancel := context.WithCancel(ctx)
	serviceConfig := configManager.GetConfig()

	log, err := logger.New(serviceConfig.Logger)
	if err != nil {
		cancel()
		return nil, err
	}

	metricsManager, err := metrics.New(log, serviceConfig.Metrics)
	if err != nil {
		cancel()
		return nil, err
	}

	stateStore, err := store.New(serviceCtx, log, serviceConfig.Store)
	if err != nil {
		cancel()
		return nil, err
	}

	limiter, err := ratelimit.NewLimiter(log, serviceConfig.RateLimit, stateStore, metricsManager)
	if err != nil {
		cancel()
		return nil, err
	}

	responseCache, err := cache.NewResponseCache(log, serviceConfig.Cache, stateStore, metricsManager)
	if err != nil {
		cancel()
		return nil, err
	}

	tracker, err := idempotency.NewTracker(log, serviceConfig.Idempotency, stateStore, metricsManager)
	if err != nil {
		cancel()
		return nil, err
	}

	service := &Service{
		ctx:     serviceCtx,
		cancel:  cancel,
		config:  configManager,
		logger:  log,
		store:   stateStore,
		metrics: metricsManager,
		limiter: limiter,
		cache:   responseCache,
		tracker: tracker,
	}

	if serviceConfig.Cron != nil && serviceConfig.Cron.Enabled {
		cronManager, err := cron.NewManager(serviceCtx, log, serviceConfig.Cron)
		if err != nil {
			cancel()
			return nil, err
		}
		if err := cron.RegisterGovernanceJobs(cronManager, log, responseCache, stateStore, metricsManager); err != nil {
			cancel()
			return nil, err
		}
		service.cron = cronManager
	}

	return service, nil
}

func (s *Service) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return types.ErrAlreadyRunning
	}

	for _, component := range s.components() {
		if err := component.Start(); err != nil {
			s.logger.Error("Failed to start component", zap.Error(err))
			atomic.StoreInt32(&s.running, 0)
			return err
		}
	}

	s.logger.Info("Request governance service started",
		zap.String("name", s.config.GetConfig().Name),
		zap.String("version", s.config.GetConfig().Version))

	return nil
}

func (s *Service) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return types.ErrNotRunning
	}

	components := s.components()
	for i := len(components) - 1; i >= 0; i-- {
		if err := components[i].Stop(); err != nil {
			s.logger.Warn("Failed to stop component", zap.Error(err))
		}
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn("Failed to close store", zap.Error(err))
	}

	s.cancel()
	s.logger.Info("Request governance service stopped")
	return nil
}

func (s *Service) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *Service) components() []types.LifecycleManager {
	components := []types.LifecycleManager{s.metrics, s.limiter, s.cache}
	if s.cron != nil {
		components = append(components, s.cron)
	}
	return components
}

func (s *Service) Logger() types.Logger { return s.logger }

func (s *Service) Store() types.StateStore { return s.store }

func (s *Service) Metrics() types.MetricsManager { return s.metrics }

func (s *Service) RateLimiter() types.RateLimiter { return s.limiter }

func (s *Service) Cache() types.ResponseCache { return s.cache }

func (s *Service) Idempotency() types.IdempotencyTracker { return s.tracker }
