package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"verification-service/internal/client"
)

// Lua scripts keep the limiter check-and-increment atomic under concurrent
// requests for the same identity.

// KEYS[1] window zset; ARGV: now_ms, window_ms, limit, member.
// Returns {allowed, count_in_window, oldest_ms}.
const slidingWindowScript = `
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])

if count < limit then
    redis.call('ZADD', KEYS[1], now, ARGV[4])
    redis.call('PEXPIRE', KEYS[1], window)
    return {1, count + 1, now}
end

local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
return {0, count, tonumber(oldest[2])}
`

// KEYS[1] bucket hash; ARGV: now_ms, capacity, refill_ms.
// Returns {allowed, tokens_left, next_refill_ms}.
const tokenBucketScript = `
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill = tonumber(ARGV[3])

local bucket = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = tonumber(bucket[1])
local last = tonumber(bucket[2])
if tokens == nil then
    tokens = capacity
    last = now
end

local elapsed = now - last
local refilled = math.floor(elapsed / refill)
if refilled > 0 then
    tokens = math.min(capacity, tokens + refilled)
    if tokens == capacity then
        last = now
    else
        last = last + refilled * refill
    end
end

local allowed = 0
if tokens > 0 then
    tokens = tokens - 1
    allowed = 1
end
redis.call('HMSET', KEYS[1], 'tokens', tokens, 'last_refill', last)
redis.call('PEXPIRE', KEYS[1], refill * capacity * 2)
return {allowed, tokens, last + refill}
`

// RedisStore is the production Store backed by the shared Redis client.
type RedisStore struct {
	client *client.RedisClient
}

func NewRedisStore(client *client.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrKeyNotFound
		}
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.Client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.client.IncrWithExpire(ctx, key, ttl)
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	return s.client.Client.TTL(ctx, key).Result()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) SlidingWindow(ctx context.Context, key string, limit int, window time.Duration) (LimitResult, error) {
	now := time.Now()
	res, err := s.client.Eval(ctx, slidingWindowScript, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString())
	if err != nil {
		return LimitResult{}, fmt.Errorf("sliding window check failed: %w", err)
	}

	allowed, count, anchor, err := parseLimitReply(res)
	if err != nil {
		return LimitResult{}, err
	}

	return LimitResult{
		Allowed: allowed,
		Count:   count,
		ResetAt: time.UnixMilli(anchor).Add(window),
	}, nil
}

func (s *RedisStore) TokenBucket(ctx context.Context, key string, capacity int, refillEvery time.Duration) (LimitResult, error) {
	now := time.Now()
	res, err := s.client.Eval(ctx, tokenBucketScript, []string{key},
		now.UnixMilli(), capacity, refillEvery.Milliseconds())
	if err != nil {
		return LimitResult{}, fmt.Errorf("token bucket check failed: %w", err)
	}

	allowed, tokens, nextRefill, err := parseLimitReply(res)
	if err != nil {
		return LimitResult{}, err
	}

	return LimitResult{
		Allowed: allowed,
		Count:   tokens,
		ResetAt: time.UnixMilli(nextRefill),
	}, nil
}

func parseLimitReply(res interface{}) (bool, int, int64, error) {
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 3 {
		return false, 0, 0, fmt.Errorf("unexpected limiter script reply: %v", res)
	}
	allowed, ok1 := reply[0].(int64)
	count, ok2 := reply[1].(int64)
	anchor, ok3 := reply[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return false, 0, 0, fmt.Errorf("unexpected limiter script reply types: %v", res)
	}
	return allowed == 1, int(count), anchor, nil
}
