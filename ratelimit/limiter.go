package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/types"
)

// recordTTLBuffer pads the backing key's expiry past the window so abandoned
// identifiers self-clean without ever expiring a live record early.
const recordTTLBuffer = 10 * time.Second

// Limiter is a sliding-window admission controller. Every marker is a scored
// member (timestamp in milliseconds) of a per-identifier set in the shared
// store, so all horizontally-scaled instances count against the same record.
//
// The prune-count-insert sequence is not atomic across workers: N requests
// racing on one identifier can overshoot the limit by at most N-1. That bound
// is accepted; simulating atomicity with client-side locking would reintroduce
// the coordination problem the shared store exists to solve.
type Limiter struct {
	logger   types.Logger
	metrics  types.MetricsManager
	store    types.StateStore
	profiles map[string]types.RateLimitProfile
	ordered  []types.RateLimitProfile
	running  int32
}

func NewLimiter(logger types.Logger, config *types.RateLimitConfig, st types.StateStore, metrics types.MetricsManager) (types.RateLimiter, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	profiles := make(map[string]types.RateLimitProfile, len(config.Profiles))
	ordered := make([]types.RateLimitProfile, 0, len(config.Profiles))

	for _, profile := range config.Profiles {
		if profile.Name == "" || profile.KeyPrefix == "" {
			return nil, types.Errorf(types.ErrProfileInvalid, "profile needs name and key prefix")
		}
		if profile.MaxRequests < 1 || profile.Window.Std() < time.Second {
			return nil, types.Errorf(types.ErrProfileInvalid, "profile %s: bad limit or window", profile.Name)
		}
		if profile.Strategy == "" {
			profile.Strategy = types.IdentifyByIP
		}
		if _, dup := profiles[profile.Name]; dup {
			return nil, types.Errorf(types.ErrProfileDuplicate, "profile: %s", profile.Name)
		}
		profiles[profile.Name] = profile
		ordered = append(ordered, profile)
	}

	logger.Info("Rate limiter initialized", zap.Int("profiles", len(profiles)))

	return &Limiter{
		logger:   logger,
		metrics:  metrics,
		store:    st,
		profiles: profiles,
		ordered:  ordered,
	}, nil
}

func (l *Limiter) Start() error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return types.ErrAlreadyRunning
	}
	return nil
}

func (l *Limiter) Stop() error {
	if !atomic.CompareAndSwapInt32(&l.running, 1, 0) {
		return types.ErrNotRunning
	}
	return nil
}

func (l *Limiter) IsRunning() bool {
	return atomic.LoadInt32(&l.running) == 1
}

func (l *Limiter) Profile(name string) (types.RateLimitProfile, bool) {
	profile, ok := l.profiles[name]
	return profile, ok
}

func (l *Limiter) Profiles() []types.RateLimitProfile {
	profiles := make([]types.RateLimitProfile, len(l.ordered))
	copy(profiles, l.ordered)
	return profiles
}

func (l *Limiter) Check(ctx context.Context, profileName, identifier string) (types.RateLimitVerdict, error) {
	profile, ok := l.profiles[profileName]
	if !ok {
		return types.RateLimitVerdict{}, types.Errorf(types.ErrProfileUnknown, "profile: %s", profileName)
	}

	identifier = normalizeIdentifier(identifier)
	key := recordKey(profile, identifier)
	window := profile.Window.Std()
	now := time.Now()
	windowStart := now.Add(-window)

	count, oldest, err := l.slide(ctx, key, float64(windowStart.UnixMilli()))
	if err != nil {
		return l.storeFailureVerdict(profile, identifier, err, "check"), nil
	}

	if count >= int64(profile.MaxRequests) {
		resetAt := time.UnixMilli(int64(oldest)).Add(window)
		l.record(profile.Name, "rejected")
		return types.RateLimitVerdict{
			Allowed:    false,
			Limit:      profile.MaxRequests,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: clampDuration(time.Until(resetAt)),
		}, nil
	}

	// A uuid tiebreaker keeps two markers landing in the same millisecond
	// from collapsing into one set member.
	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()

	if err := l.store.AddScored(ctx, key, float64(now.UnixMilli()), member); err != nil {
		return l.storeFailureVerdict(profile, identifier, err, "record"), nil
	}

	if err := l.store.Expire(ctx, key, window+recordTTLBuffer); err != nil {
		l.logger.Warn("Failed to refresh rate limit record expiry",
			zap.String("profile", profile.Name), zap.Error(err))
	}

	l.record(profile.Name, "allowed")

	return types.RateLimitVerdict{
		Allowed:   true,
		Limit:     profile.MaxRequests,
		Remaining: profile.MaxRequests - int(count) - 1,
		ResetAt:   now.Add(window),
	}, nil
}

func (l *Limiter) Status(ctx context.Context, profileName, identifier string) (types.RateLimitVerdict, error) {
	profile, ok := l.profiles[profileName]
	if !ok {
		return types.RateLimitVerdict{}, types.Errorf(types.ErrProfileUnknown, "profile: %s", profileName)
	}

	identifier = normalizeIdentifier(identifier)
	window := profile.Window.Std()
	now := time.Now()
	windowStart := now.Add(-window)

	count, oldest, err := l.slide(ctx, recordKey(profile, identifier), float64(windowStart.UnixMilli()))
	if err != nil {
		return l.storeFailureVerdict(profile, identifier, err, "status"), nil
	}

	verdict := types.RateLimitVerdict{
		Allowed:   count < int64(profile.MaxRequests),
		Limit:     profile.MaxRequests,
		Remaining: profile.MaxRequests - int(count),
		ResetAt:   now.Add(window),
	}
	if verdict.Remaining < 0 {
		verdict.Remaining = 0
	}
	if count > 0 {
		verdict.ResetAt = time.UnixMilli(int64(oldest)).Add(window)
	}
	if !verdict.Allowed {
		verdict.RetryAfter = clampDuration(time.Until(verdict.ResetAt))
	}

	return verdict, nil
}

func (l *Limiter) Reset(ctx context.Context, profileName, identifier string) error {
	profile, ok := l.profiles[profileName]
	if !ok {
		return types.Errorf(types.ErrProfileUnknown, "profile: %s", profileName)
	}

	identifier = normalizeIdentifier(identifier)
	if _, err := l.store.Delete(ctx, recordKey(profile, identifier)); err != nil {
		return types.WrapError(err, "failed to reset rate limit record")
	}

	l.logger.Info("Rate limit record reset",
		zap.String("profile", profile.Name), zap.String("identifier", identifier))

	return nil
}

// slide prunes expired markers and reports the surviving count and oldest
// score, preferring the store's single-round-trip capability when present.
func (l *Limiter) slide(ctx context.Context, key string, minScore float64) (int64, float64, error) {
	if slider, ok := l.store.(types.WindowSlider); ok {
		return slider.SlideWindow(ctx, key, minScore)
	}

	if _, err := l.store.RemoveScoreRange(ctx, key, math.Inf(-1), minScore-1); err != nil {
		return 0, 0, err
	}

	count, err := l.store.CountScoreRange(ctx, key, math.Inf(-1), math.Inf(1))
	if err != nil {
		return 0, 0, err
	}
	if count == 0 {
		return 0, 0, nil
	}

	_, oldest, err := l.store.OldestScored(ctx, key)
	if err != nil {
		if types.IsError(err, types.ErrKeyNotFound) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	return count, oldest, nil
}

// storeFailureVerdict applies the divergent outage policy: admit by default
// (rate limiting is defense in depth, an outage must not become a full
// application outage), reject when the profile opts into fail-closed. Either
// way the failure is logged, never surfaced to the caller as an error.
func (l *Limiter) storeFailureVerdict(profile types.RateLimitProfile, identifier string, err error, op string) types.RateLimitVerdict {
	l.logger.Warn("Rate limit store failure",
		zap.String("profile", profile.Name),
		zap.String("identifier", identifier),
		zap.String("op", op),
		zap.Bool("fail_closed", profile.FailClosed),
		zap.Error(err))

	l.record(profile.Name, "store_failure")

	window := profile.Window.Std()
	if profile.FailClosed {
		return types.RateLimitVerdict{
			Allowed:    false,
			Limit:      profile.MaxRequests,
			Remaining:  0,
			ResetAt:    time.Now().Add(window),
			RetryAfter: window,
		}
	}

	return types.RateLimitVerdict{
		Allowed:   true,
		Limit:     profile.MaxRequests,
		Remaining: profile.MaxRequests,
		ResetAt:   time.Now().Add(window),
	}
}

func (l *Limiter) record(profileName, result string) {
	counter := l.metrics.Counter("ratelimit_checks_total", map[string]string{
		"profile": profileName,
		"result":  result,
	})
	counter.Inc()
}

func recordKey(profile types.RateLimitProfile, identifier string) string {
	return profile.KeyPrefix + ":" + identifier
}

func normalizeIdentifier(identifier string) string {
	if identifier == "" {
		return "unknown"
	}
	return identifier
}

func clampDuration(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
