package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/danribes/mystic-ecom-sub013/types"
	"github.com/danribes/mystic-ecom-sub013/utils"
)

// keyspacePrefix separates cache entries from the other governance records
// (rate limit markers, idempotency sentinels) sharing the store.
const keyspacePrefix = "cache"

const defaultScanCount = 100

// ResponseCache memoizes expensive reads behind namespace-scoped keys in the
// shared store. It fails open: a store outage degrades to recomputation, never
// to an error for the caller. TTL policy belongs to callers; each Set carries
// its own TTL and the cache holds no per-namespace table.
type ResponseCache struct {
	logger      types.Logger
	metrics     types.MetricsManager
	store       types.StateStore
	compressMin int
	scanCount   int64
	hits        uint64
	misses      uint64
	storeErrors uint64
	group       singleflight.Group
	running     int32
}

func NewResponseCache(logger types.Logger, config *types.CacheConfig, st types.StateStore, metrics types.MetricsManager) (types.ResponseCache, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	scanCount := int64(config.ScanCount)
	if scanCount <= 0 {
		scanCount = defaultScanCount
	}

	return &ResponseCache{
		logger:      logger,
		metrics:     metrics,
		store:       st,
		compressMin: config.CompressMin,
		scanCount:   scanCount,
	}, nil
}

func (c *ResponseCache) Start() error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return types.ErrAlreadyRunning
	}
	return nil
}

func (c *ResponseCache) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.running, 1, 0) {
		return types.ErrNotRunning
	}
	return nil
}

func (c *ResponseCache) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

func (c *ResponseCache) Get(ctx context.Context, namespace, key string, target interface{}) (bool, error) {
	start := time.Now()
	defer c.observe("get", start)

	payload, ok := c.getPayload(ctx, namespace, key)
	if !ok {
		return false, nil
	}

	if err := utils.Unmarshal(payload, target); err != nil {
		c.logger.Error("Failed to unmarshal cached value",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		return false, nil
	}

	return true, nil
}

func (c *ResponseCache) Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	defer c.observe("set", start)

	if namespace == "" {
		return types.ErrNamespaceEmpty
	}
	if key == "" {
		return types.ErrKeyEmpty
	}
	if value == nil {
		return types.ErrCacheValueNil
	}

	payload, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to marshal cache value")
	}

	return c.setPayload(ctx, namespace, key, payload, ttl)
}

func (c *ResponseCache) GetOrCompute(ctx context.Context, namespace, key string, ttl time.Duration, target interface{}, compute func(ctx context.Context) (interface{}, error)) error {
	if namespace == "" {
		return types.ErrNamespaceEmpty
	}
	if key == "" {
		return types.ErrKeyEmpty
	}

	// Collapse concurrent misses for one key into a single computation per
	// instance. This is a latency optimization only; the shared store stays
	// the source of truth across instances.
	flightKey := entryKey(namespace, key)
	result, err, _ := c.group.Do(flightKey, func() (interface{}, error) {
		if payload, ok := c.getPayload(ctx, namespace, key); ok {
			return payload, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		payload, err := utils.Marshal(value)
		if err != nil {
			return nil, types.WrapError(err, "failed to marshal computed value")
		}

		if err := c.setPayload(ctx, namespace, key, payload, ttl); err != nil {
			c.logger.Warn("Failed to store computed value",
				zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		}

		return payload, nil
	})
	if err != nil {
		return err
	}

	return utils.Unmarshal(result.([]byte), target)
}

func (c *ResponseCache) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return types.ErrNamespaceEmpty
	}
	if key == "" {
		return types.ErrKeyEmpty
	}

	if _, err := c.store.Delete(ctx, entryKey(namespace, key)); err != nil {
		return types.WrapError(err, "failed to delete cache entry")
	}

	return nil
}

// InvalidateNamespace removes exactly the entries under namespace and reports
// how many were deleted. Enumeration is cursor-paged so a large keyspace never
// stalls the shared store.
func (c *ResponseCache) InvalidateNamespace(ctx context.Context, namespace string) (int64, error) {
	start := time.Now()
	defer c.observe("invalidate_namespace", start)

	if namespace == "" {
		return 0, types.ErrNamespaceEmpty
	}

	removed, err := c.deleteByPattern(ctx, keyspacePrefix+":"+namespace+":*")
	if err != nil {
		return removed, types.WrapError(err, "namespace invalidation failed")
	}

	c.logger.Info("Cache namespace invalidated",
		zap.String("namespace", namespace), zap.Int64("keys_deleted", removed))

	return removed, nil
}

func (c *ResponseCache) FlushAll(ctx context.Context, actor string) error {
	start := time.Now()
	defer c.observe("flush_all", start)

	c.logger.Warn("Flushing entire response cache", zap.String("actor", actor))

	removed, err := c.deleteByPattern(ctx, keyspacePrefix+":*")
	if err != nil {
		return types.WrapError(err, "cache flush failed")
	}

	c.logger.Warn("Response cache flushed",
		zap.String("actor", actor), zap.Int64("keys_deleted", removed))

	return nil
}

func (c *ResponseCache) Stats(ctx context.Context) (types.CacheStats, error) {
	stats := types.CacheStats{
		Hits:            atomic.LoadUint64(&c.hits),
		Misses:          atomic.LoadUint64(&c.misses),
		StoreErrors:     atomic.LoadUint64(&c.storeErrors),
		KeysByNamespace: make(map[string]int64),
	}

	err := c.scanKeys(ctx, keyspacePrefix+":*", func(keys []string) error {
		for _, key := range keys {
			stats.TotalKeys++
			rest := strings.TrimPrefix(key, keyspacePrefix+":")
			if sep := strings.IndexByte(rest, ':'); sep > 0 {
				stats.KeysByNamespace[rest[:sep]]++
			}
		}
		return nil
	})
	if err != nil {
		return stats, types.WrapError(err, "cache stats scan failed")
	}

	return stats, nil
}

func (c *ResponseCache) getPayload(ctx context.Context, namespace, key string) ([]byte, bool) {
	if namespace == "" || key == "" {
		return nil, false
	}

	data, _, err := c.store.GetWithTTL(ctx, entryKey(namespace, key))
	if err != nil {
		if types.IsError(err, types.ErrKeyNotFound) {
			c.miss(namespace)
			return nil, false
		}

		// A store failure reads as a miss to the caller, but is counted and
		// logged apart from genuine misses.
		atomic.AddUint64(&c.storeErrors, 1)
		c.count(namespace, "store_error")
		c.logger.Warn("Cache store failure, treating as miss",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		return nil, false
	}

	_, payload, err := decodeEntry(data)
	if err != nil {
		c.logger.Error("Dropping malformed cache entry",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		_, _ = c.store.Delete(ctx, entryKey(namespace, key))
		c.miss(namespace)
		return nil, false
	}

	atomic.AddUint64(&c.hits, 1)
	c.count(namespace, "hit")
	return payload, true
}

func (c *ResponseCache) setPayload(ctx context.Context, namespace, key string, payload []byte, ttl time.Duration) error {
	data, err := encodeEntry(namespace, key, payload, c.compressMin)
	if err != nil {
		return err
	}

	if err := c.store.SetWithTTL(ctx, entryKey(namespace, key), data, ttl); err != nil {
		c.logger.Error("Failed to set cache entry",
			zap.String("namespace", namespace), zap.String("key", key), zap.Error(err))
		return types.WrapError(err, "failed to set cache entry")
	}

	return nil
}

// deleteByPattern enumerates the full matching key set before deleting any of
// it. Deleting mid-scan would invalidate the cursor, and a scan can hand the
// same key out twice; collecting into a set keeps the reported count exact.
func (c *ResponseCache) deleteByPattern(ctx context.Context, pattern string) (int64, error) {
	seen := make(map[string]struct{})
	err := c.scanKeys(ctx, pattern, func(keys []string) error {
		for _, key := range keys {
			seen[key] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	batch := make([]string, 0, len(seen))
	for key := range seen {
		batch = append(batch, key)
	}

	var total int64
	for start := 0; start < len(batch); start += int(c.scanCount) {
		end := start + int(c.scanCount)
		if end > len(batch) {
			end = len(batch)
		}
		removed, err := c.store.Delete(ctx, batch[start:end]...)
		total += removed
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (c *ResponseCache) scanKeys(ctx context.Context, pattern string, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.store.Scan(ctx, pattern, cursor, c.scanCount)
		if err != nil {
			return err
		}
		if err := fn(keys); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (c *ResponseCache) miss(namespace string) {
	atomic.AddUint64(&c.misses, 1)
	c.count(namespace, "miss")
}

func (c *ResponseCache) count(namespace, result string) {
	counter := c.metrics.Counter("cache_requests_total", map[string]string{
		"namespace": namespace,
		"result":    result,
	})
	counter.Inc()
}

func (c *ResponseCache) observe(operation string, start time.Time) {
	histogram := c.metrics.Histogram("cache_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	)
	histogram.ObserveDuration(start)
}

func entryKey(namespace, key string) string {
	return keyspacePrefix + ":" + namespace + ":" + key
}
