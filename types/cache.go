package types

import (
	"context"
	"time"
)

type ResponseCache interface {
	LifecycleManager
	Get(ctx context.Context, namespace, key string, target interface{}) (bool, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	// GetOrCompute returns the cached value when present, otherwise runs
	// compute once per key per instance and stores the result.
	GetOrCompute(ctx context.Context, namespace, key string, ttl time.Duration, target interface{}, compute func(ctx context.Context) (interface{}, error)) error
	Delete(ctx context.Context, namespace, key string) error
	InvalidateNamespace(ctx context.Context, namespace string) (int64, error)
	FlushAll(ctx context.Context, actor string) error
	Stats(ctx context.Context) (CacheStats, error)
}

type CacheStats struct {
	Hits            uint64           `json:"hits"`
	Misses          uint64           `json:"misses"`
	StoreErrors     uint64           `json:"store_errors"`
	TotalKeys       int64            `json:"total_keys"`
	KeysByNamespace map[string]int64 `json:"keys_by_namespace"`
}

type ResponseCacheCreator func(config interface{}) (ResponseCache, error)
