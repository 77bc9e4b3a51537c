package types

import (
	"context"
	"time"
)

// StateStore is the narrow capability the governance components consume from
// the shared external keyed store. All coordination across workers and across
// horizontally-scaled instances goes through an implementation of this
// interface; no component keeps authoritative local copies of its state.
type StateStore interface {
	GetWithTTL(ctx context.Context, key string) (value []byte, ttl time.Duration, err error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)

	AddScored(ctx context.Context, key string, score float64, member string) error
	RemoveScoreRange(ctx context.Context, key string, min, max float64) (int64, error)
	CountScoreRange(ctx context.Context, key string, min, max float64) (int64, error)
	OldestScored(ctx context.Context, key string) (member string, score float64, err error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Scan enumerates keys matching pattern one cursor page at a time. A
	// returned cursor of 0 means the enumeration is complete.
	Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error)

	Ping(ctx context.Context) error
	Close() error
}

// WindowSlider is an optional StateStore capability: prune every member of a
// scored set below minScore, then report the surviving count and the oldest
// surviving score, all in a single round trip. Implementations that can batch
// or script the three steps should provide it; consumers fall back to the
// discrete StateStore calls otherwise.
type WindowSlider interface {
	SlideWindow(ctx context.Context, key string, minScore float64) (count int64, oldestScore float64, err error)
}

type StateStoreCreator func(config interface{}) (StateStore, error)
