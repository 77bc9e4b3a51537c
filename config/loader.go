package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danribes/mystic-ecom-sub013/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (*types.ServiceConfig, error) {
	if configPath == "" {
		return nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.readFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, types.WrapError(err, "failed to read config file")
	}

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func (l *Loader) Validate(config *types.ServiceConfig) error {
	if config == nil {
		return types.ErrConfigIsNil
	}

	if err := l.validator.Struct(config); err != nil {
		return types.WrapError(err, "config validation failed")
	}

	if config.RateLimit != nil {
		seen := make(map[string]struct{}, len(config.RateLimit.Profiles))
		prefixes := make(map[string]string, len(config.RateLimit.Profiles))
		for _, profile := range config.RateLimit.Profiles {
			if _, dup := seen[profile.Name]; dup {
				return types.Errorf(types.ErrProfileDuplicate, "profile: %s", profile.Name)
			}
			seen[profile.Name] = struct{}{}

			if profile.Window.Std() < time.Second {
				return types.Errorf(types.ErrProfileInvalid,
					"profile %s: window below one second", profile.Name)
			}

			if owner, taken := prefixes[profile.KeyPrefix]; taken {
				return types.Errorf(types.ErrProfileInvalid,
					"profiles %s and %s share key prefix %s", owner, profile.Name, profile.KeyPrefix)
			}
			prefixes[profile.KeyPrefix] = profile.Name
		}
	}

	return nil
}

func (l *Loader) readFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Name:    "governance",
		Version: "0.1.0",
		Logger: &types.LoggerConfig{
			Level: "info",
		},
		Store: &types.StoreConfig{
			Type:      "redis",
			OpTimeout: types.Duration(100 * time.Millisecond),
			KeyPrefix: "govern",
		},
		RateLimit: &types.RateLimitConfig{
			Enabled:  true,
			Profiles: DefaultProfiles(),
		},
		Cache: &types.CacheConfig{
			Enabled:     true,
			CompressMin: 1024,
			ScanCount:   100,
		},
		Idempotency: &types.IdempotencyConfig{
			Enabled:    true,
			Retention:  types.Duration(24 * time.Hour),
			ReserveTTL: types.Duration(5 * time.Minute),
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
		},
	}
}

// DefaultProfiles is the profile table shipped when the config names none.
// Auth is deliberately tight against credential stuffing; admin is keyed by
// user rather than IP because admin traffic often shares an office NAT.
func DefaultProfiles() []types.RateLimitProfile {
	return []types.RateLimitProfile{
		{
			Name:        "auth",
			KeyPrefix:   "rl:auth",
			MaxRequests: 5,
			Window:      types.Duration(15 * time.Minute),
			Strategy:    types.IdentifyByIP,
		},
		{
			Name:        "search",
			KeyPrefix:   "rl:search",
			MaxRequests: 30,
			Window:      types.Duration(time.Minute),
			Strategy:    types.IdentifyByIP,
		},
		{
			Name:        "admin",
			KeyPrefix:   "rl:admin",
			MaxRequests: 200,
			Window:      types.Duration(time.Minute),
			Strategy:    types.IdentifyByUserID,
		},
	}
}
