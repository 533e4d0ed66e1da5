package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BradenHooton/sentinel/internal/models"
)

// fixedWindowLua counts a hit in a fixed window stored as a hash.
// KEYS[1] = window key
// ARGV[1] = now (unix millis)
// ARGV[2] = window length (millis)
//
// Returns {count, reset, first}.
var fixedWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local reset = tonumber(redis.call('HGET', KEYS[1], 'reset') or '0')

if count == 0 or now > reset then
  redis.call('HSET', KEYS[1], 'count', 1, 'reset', now + window, 'first', now)
  redis.call('PEXPIRE', KEYS[1], window + 1000)
  return {1, now + window, now}
end

count = redis.call('HINCRBY', KEYS[1], 'count', 1)
local first = tonumber(redis.call('HGET', KEYS[1], 'first') or tostring(now))
return {count, reset, first}
`)

// RedisStore is a Store shared across instances
type RedisStore struct {
	rdb redis.UniversalClient
}

// NewRedisStore wraps an existing client
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisStoreFromURL parses a redis:// URL and verifies connectivity
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{rdb: rdb}, nil
}

func redisTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func (s *RedisStore) Get(ctx context.Context, key string, dst any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get %s: %w", key, err)
	}
	return decode(data, dst)
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, data, redisTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", prefix, err)
	}
	return keys, nil
}

func (s *RedisStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, key, member)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis sadd %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", key, err)
	}
	return members, nil
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, key, member string) error {
	if err := s.rdb.SRem(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IncrementWindow(ctx context.Context, key string, now time.Time, window time.Duration) (models.RateLimitEntry, error) {
	vals, err := fixedWindowLua.Run(ctx, s.rdb, []string{key}, now.UnixMilli(), window.Milliseconds()).Int64Slice()
	if err != nil {
		return models.RateLimitEntry{}, fmt.Errorf("redis window %s: %w", key, err)
	}
	if len(vals) != 3 {
		return models.RateLimitEntry{}, fmt.Errorf("redis window %s: unexpected reply length %d", key, len(vals))
	}

	return models.RateLimitEntry{
		Count:        vals[0],
		ResetTime:    time.UnixMilli(vals[1]),
		FirstRequest: time.UnixMilli(vals[2]),
	}, nil
}

// Ping reports whether redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
