package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danribes/mystic-ecom-sub013/types"
)

// MemoryStore is a single-process types.StateStore used in tests and in
// development runs without a shared store. It mirrors redis semantics (lazy
// TTL expiry, scored sets, cursor scans) but offers no cross-instance
// coordination, so it must never back a multi-instance deployment.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	failure error
	janitor *time.Ticker
	done    chan struct{}
	closed  bool
}

type memoryRecord struct {
	value     []byte
	scored    map[string]float64
	expiresAt time.Time
}

func (r *memoryRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && now.After(r.expiresAt)
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		records: make(map[string]*memoryRecord),
		janitor: time.NewTicker(time.Minute),
		done:    make(chan struct{}),
	}

	go func() {
		for {
			select {
			case <-s.janitor.C:
				s.sweep()
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Fail makes every subsequent operation return err until called with nil.
// Used by tests to simulate a store outage.
func (s *MemoryStore) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *MemoryStore) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error) {
	if key == "" {
		return nil, 0, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return nil, 0, s.failure
	}

	record, ok := s.live(key)
	if !ok || record.value == nil {
		return nil, 0, types.ErrKeyNotFound
	}

	var ttl time.Duration
	if !record.expiresAt.IsZero() {
		ttl = time.Until(record.expiresAt)
	}

	value := make([]byte, len(record.value))
	copy(value, record.value)

	return value, ttl, nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return s.failure
	}

	s.records[key] = &memoryRecord{
		value:     append([]byte(nil), value...),
		expiresAt: expiryAt(ttl),
	}

	return nil
}

func (s *MemoryStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return false, s.failure
	}

	if _, exists := s.live(key); exists {
		return false, nil
	}

	s.records[key] = &memoryRecord{
		value:     append([]byte(nil), value...),
		expiresAt: expiryAt(ttl),
	}

	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return 0, s.failure
	}

	var removed int64
	for _, key := range keys {
		if _, exists := s.live(key); exists {
			delete(s.records, key)
			removed++
		}
	}

	return removed, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return false, s.failure
	}

	_, exists := s.live(key)
	return exists, nil
}

func (s *MemoryStore) AddScored(ctx context.Context, key string, score float64, member string) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return s.failure
	}

	record, ok := s.live(key)
	if !ok {
		record = &memoryRecord{scored: make(map[string]float64)}
		s.records[key] = record
	}
	if record.scored == nil {
		record.scored = make(map[string]float64)
	}

	record.scored[member] = score
	return nil
}

func (s *MemoryStore) RemoveScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	if key == "" {
		return 0, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return 0, s.failure
	}

	record, ok := s.live(key)
	if !ok || record.scored == nil {
		return 0, nil
	}

	var removed int64
	for member, score := range record.scored {
		if score >= min && score <= max {
			delete(record.scored, member)
			removed++
		}
	}

	if len(record.scored) == 0 && record.value == nil {
		delete(s.records, key)
	}

	return removed, nil
}

func (s *MemoryStore) CountScoreRange(ctx context.Context, key string, min, max float64) (int64, error) {
	if key == "" {
		return 0, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return 0, s.failure
	}

	record, ok := s.live(key)
	if !ok || record.scored == nil {
		return 0, nil
	}

	var count int64
	for _, score := range record.scored {
		if score >= min && score <= max {
			count++
		}
	}

	return count, nil
}

func (s *MemoryStore) OldestScored(ctx context.Context, key string) (string, float64, error) {
	if key == "" {
		return "", 0, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return "", 0, s.failure
	}

	record, ok := s.live(key)
	if !ok || len(record.scored) == 0 {
		return "", 0, types.ErrKeyNotFound
	}

	oldestMember, oldestScore := "", 0.0
	first := true
	for member, score := range record.scored {
		if first || score < oldestScore {
			oldestMember, oldestScore = member, score
			first = false
		}
	}

	return oldestMember, oldestScore, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if key == "" {
		return types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return s.failure
	}

	if record, ok := s.live(key); ok {
		record.expiresAt = expiryAt(ttl)
	}

	return nil
}

func (s *MemoryStore) SlideWindow(ctx context.Context, key string, minScore float64) (int64, float64, error) {
	if key == "" {
		return 0, 0, types.ErrKeyEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return 0, 0, s.failure
	}

	record, ok := s.live(key)
	if !ok || record.scored == nil {
		return 0, 0, nil
	}

	for member, score := range record.scored {
		if score < minScore {
			delete(record.scored, member)
		}
	}

	var count int64
	oldest, first := 0.0, true
	for _, score := range record.scored {
		count++
		if first || score < oldest {
			oldest = score
			first = false
		}
	}

	return count, oldest, nil
}

func (s *MemoryStore) Scan(ctx context.Context, pattern string, cursor uint64, count int64) ([]string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return nil, 0, s.failure
	}

	now := time.Now()
	matched := make([]string, 0)
	for key, record := range s.records {
		if record.expired(now) {
			continue
		}
		if matchPattern(pattern, key) {
			matched = append(matched, key)
		}
	}
	sort.Strings(matched)

	if count <= 0 {
		count = 10
	}

	start := int(cursor)
	if start >= len(matched) {
		return nil, 0, nil
	}

	end := start + int(count)
	var next uint64
	if end >= len(matched) {
		end = len(matched)
	} else {
		next = uint64(end)
	}

	return matched[start:end], next, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.janitor.Stop()
	close(s.done)
	s.records = make(map[string]*memoryRecord)
	return nil
}

// live returns the record under key, lazily evicting it when expired.
// Callers must hold s.mu.
func (s *MemoryStore) live(key string) (*memoryRecord, bool) {
	record, ok := s.records[key]
	if !ok {
		return nil, false
	}
	if record.expired(time.Now()) {
		delete(s.records, key)
		return nil, false
	}
	return record, true
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, record := range s.records {
		if record.expired(now) {
			delete(s.records, key)
		}
	}
}

func expiryAt(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// matchPattern supports the single trailing-or-embedded '*' glob the
// governance components use; it is not a full redis glob.
func matchPattern(pattern, key string) bool {
	star := strings.IndexByte(pattern, '*')
	if star < 0 {
		return pattern == key
	}
	prefix, suffix := pattern[:star], pattern[star+1:]
	return len(key) >= len(prefix)+len(suffix) &&
		strings.HasPrefix(key, prefix) && strings.HasSuffix(key, suffix)
}
