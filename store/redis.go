package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
}

// RedisStore implements types.StateStore over a shared redis instance. It is
// safe for use from any number of workers and application instances; redis is
// the single source of truth for every key it holds.
type RedisStore struct {
	logger    types.Logger
	config    *RedisConfig
	client    *redis.Client
	keyPrefix string
	opTimeout time.Duration
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.StateStore, error) {
	redisConfig := &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	s := &RedisStore{
		logger:    logger,
		config:    redisConfig,
		keyPrefix: config.KeyPrefix,
		opTimeout: config.OpTimeout.Std(),
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port),
		Password:     redisConfig.Password,
		DB:           redisConfig.DB,
		PoolSize:     redisConfig.PoolSize,
		MinIdleConns: redisConfig.MinIdleConnections,
		DialTimeout:  redisConfig.DialTimeout,
		ReadTimeout:  redisConfig.ReadTimeout,
		WriteTimeout: redisConfig.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return nil, types.WrapError(err, "failed to connect to redis")
	}

	logger.Info("Redis store connected",
		zap.String("addr", fmt.Sprintf("%s:%d", redisConfig.Host, redisConfig.Port)),
		zap.Int("db", redisConfig.DB),
		zap.String("key_prefix", config.KeyPrefix))

	return s, nil
}

func (s *RedisStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	if key == "" {
		return nil, 0, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	fullKey := s.buildFullKey(key)

	pipe := s.client.Pipeline()
	getCmd := pipe.Get(opCtx, fullKey)
	ttlCmd := pipe.TTL(opCtx, fullKey)
	if _, err := pipe.Exec(opCtx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, s.mapError(err)
	}

	value, err := getCmd.Bytes()
	if err != nil {
		return nil, 0, s.mapError(err)
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		ttl = 0
	}

	return value, ttl, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.mapError(s.client.Set(opCtx, s.buildFullKey(key), value, ttl).Err())
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	acquired, err := s.client.SetNX(opCtx, s.buildFullKey(key), value, ttl).Result()
	if err != nil {
		return false, s.mapError(err)
	}

	return acquired, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	fullKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		fullKeys = append(fullKeys, s.buildFullKey(key))
	}

	removed, err := s.client.Del(opCtx, fullKeys...).Result()
	if err != nil {
		return 0, s.mapError(err)
	}

	return removed, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	count, err := s.client.Exists(opCtx, s.buildFullKey(key)).Result()
	if err != nil {
		return false, s.mapError(err)
	}

	return count > 0, nil
}

func (s *RedisStore) AddScored(ctx context.Context, key string, score float64, member string) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.mapError(s.client.ZAdd(opCtx, s.buildFullKey(key), redis.Z{Score: score, Member: member}).Err())
}

func (s *RedisStore) RemoveScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	if key == "" {
		return 0, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	removed, err := s.client.ZRemRangeByScore(opCtx, s.buildFullKey(key), formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, s.mapError(err)
	}

	return removed, nil
}

func (s *RedisStore) CountScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	if key == "" {
		return 0, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	count, err := s.client.ZCount(opCtx, s.buildFullKey(key), formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, s.mapError(err)
	}

	return count, nil
}

func (s *RedisStore) OldestScored(ctx context.Context, key string) (string, float64, error) {
	if key == "" {
		return "", 0, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	members, err := s.client.ZRangeWithScores(opCtx, s.buildFullKey(key), 0, 0).Result()
	if err != nil {
		return "", 0, s.mapError(err)
	}
	if len(members) == 0 {
		return "", 0, types.ErrKeyNotFound
	}

	member, _ := members[0].Member.(string)
	return member, members[0].Score, nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.mapError(s.client.Expire(opCtx, s.buildFullKey(key), ttl).Err())
}

// SlideWindow implements types.WindowSlider: prune, count and locate the
// oldest survivor in one pipelined round trip. The three commands are not a
// transaction; a concurrent racer on the same key can add a marker between
// them, which bounds the limiter's overshoot by the number of racers.
func (s *RedisStore) SlideWindow(ctx context.Context, key string, minScore float64) (int64, float64, error) {
	if key == "" {
		return 0, 0, types.ErrKeyEmpty
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	fullKey := s.buildFullKey(key)

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(opCtx, fullKey, "-inf", "("+formatScore(minScore))
	countCmd := pipe.ZCard(opCtx, fullKey)
	oldestCmd := pipe.ZRangeWithScores(opCtx, fullKey, 0, 0)

	if _, err := pipe.Exec(opCtx); err != nil {
		return 0, 0, s.mapError(err)
	}

	count := countCmd.Val()

	var oldest float64
	if members := oldestCmd.Val(); len(members) > 0 {
		oldest = members[0].Score
	}

	return count, oldest, nil
}

func (s *RedisStore) Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	keys, next, err := s.client.Scan(opCtx, cursor, s.buildFullKey(pattern), count).Result()
	if err != nil {
		return nil, 0, s.mapError(err)
	}

	stripped := make([]string, 0, len(keys))
	for _, key := range keys {
		stripped = append(stripped, s.stripPrefix(key))
	}

	return stripped, next, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	return s.mapError(s.client.Ping(opCtx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) buildFullKey(key string) string {
	if s.keyPrefix != "" {
		return s.keyPrefix + ":" + key
	}
	return key
}

func (s *RedisStore) stripPrefix(key string) string {
	if s.keyPrefix != "" {
		return strings.TrimPrefix(key, s.keyPrefix+":")
	}
	return key
}

func (s *RedisStore) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return types.ErrKeyNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrStoreTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
