package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = now (unix seconds, microsecond precision)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tostring(tokens)}
`)

// RedisRateLimiter shares token buckets between API replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	rps    float64
	burst  int
	prefix string
}

// NewRedisRateLimiter connects to the server at url (redis://...).
func NewRedisRateLimiter(url string, rps float64, burst int) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return NewRedisRateLimiterFromClient(redis.NewClient(opts), rps, burst), nil
}

func NewRedisRateLimiterFromClient(client redis.UniversalClient, rps float64, burst int) *RedisRateLimiter {
	if rps <= 0 {
		rps = 1
	}
	return &RedisRateLimiter{client: client, rps: rps, burst: burst, prefix: "credledger:ratelimit:"}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.prefix + key}, l.rps, l.burst, 1, now).Result()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	results, ok := res.([]any)
	if !ok || len(results) != 2 {
		return false, errors.New("redis limiter: unexpected script reply")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// Ping checks connectivity.
func (l *RedisRateLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}
