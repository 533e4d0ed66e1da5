package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/BradenHooton/sentinel/internal/models"
)

// MemoryStore is a single-instance Store backed by ttlcache.
// A mutex serializes compound operations (set membership, window counters).
type MemoryStore struct {
	mu      sync.Mutex
	values  *ttlcache.Cache[string, []byte]
	sets    *ttlcache.Cache[string, map[string]struct{}]
	windows *ttlcache.Cache[string, models.RateLimitEntry]
}

// NewMemoryStore creates an in-memory store and starts its expiry loops
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		values: ttlcache.New[string, []byte](
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		),
		sets: ttlcache.New[string, map[string]struct{}](
			ttlcache.WithDisableTouchOnHit[string, map[string]struct{}](),
		),
		windows: ttlcache.New[string, models.RateLimitEntry](
			ttlcache.WithDisableTouchOnHit[string, models.RateLimitEntry](),
		),
	}

	go s.values.Start()
	go s.sets.Start()
	go s.windows.Start()

	return s
}

func cacheTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}

func (s *MemoryStore) Get(_ context.Context, key string, dst any) error {
	item := s.values.Get(key)
	if item == nil {
		return ErrNotFound
	}
	return decode(item.Value(), dst)
}

func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	s.values.Set(key, data, cacheTTL(ttl))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := false
	if s.values.Get(key) != nil {
		existed = true
		s.values.Delete(key)
	}
	if s.sets.Get(key) != nil {
		existed = true
		s.sets.Delete(key)
	}
	if s.windows.Get(key) != nil {
		existed = true
		s.windows.Delete(key)
	}
	return existed, nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, k := range s.values.Keys() {
		if strings.HasPrefix(k, prefix) && s.values.Get(k) != nil {
			keys = append(keys, k)
		}
	}
	for _, k := range s.sets.Keys() {
		if strings.HasPrefix(k, prefix) && s.sets.Get(k) != nil {
			keys = append(keys, k)
		}
	}
	for _, k := range s.windows.Keys() {
		if strings.HasPrefix(k, prefix) && s.windows.Get(k) != nil {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := map[string]struct{}{}
	if item := s.sets.Get(key); item != nil {
		for m := range item.Value() {
			members[m] = struct{}{}
		}
	}
	members[member] = struct{}{}
	s.sets.Set(key, members, cacheTTL(ttl))
	return nil
}

func (s *MemoryStore) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.sets.Get(key)
	if item == nil {
		return nil, nil
	}
	members := make([]string, 0, len(item.Value()))
	for m := range item.Value() {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) RemoveFromSet(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.sets.Get(key)
	if item == nil {
		return nil
	}

	members := make(map[string]struct{}, len(item.Value()))
	for m := range item.Value() {
		if m != member {
			members[m] = struct{}{}
		}
	}
	if len(members) == 0 {
		s.sets.Delete(key)
		return nil
	}

	ttl := ttlcache.NoTTL
	if !item.ExpiresAt().IsZero() {
		ttl = time.Until(item.ExpiresAt())
		if ttl <= 0 {
			s.sets.Delete(key)
			return nil
		}
	}
	s.sets.Set(key, members, ttl)
	return nil
}

func (s *MemoryStore) IncrementWindow(_ context.Context, key string, now time.Time, window time.Duration) (models.RateLimitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry models.RateLimitEntry
	if item := s.windows.Get(key); item != nil {
		entry = item.Value()
	}

	if entry.Count == 0 || now.After(entry.ResetTime) {
		entry = models.RateLimitEntry{
			Count:        1,
			ResetTime:    now.Add(window),
			FirstRequest: now,
		}
	} else {
		entry.Count++
	}

	s.windows.Set(key, entry, window+time.Second)
	return entry, nil
}

// Close stops the expiry loops
func (s *MemoryStore) Close() error {
	s.values.Stop()
	s.sets.Stop()
	s.windows.Stop()
	return nil
}
