package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/tributo-labs/defensor/pkg/contracts"
)

// Limiter gates LLM calls. Acquire blocks or fails fast depending on
// the implementation; a denied acquisition is a transient failure so
// the retry policy applies.
type Limiter interface {
	Acquire(ctx context.Context, key string) error
}

// LocalLimiter is a per-process token bucket, the fallback when no
// Redis is configured.
type LocalLimiter struct {
	limiter *rate.Limiter
}

// NewLocalLimiter allows rpm requests per minute with the given burst.
func NewLocalLimiter(rpm, burst int) *LocalLimiter {
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)}
}

func (l *LocalLimiter) Acquire(ctx context.Context, _ string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", contracts.ErrCancelled, err)
	}
	return nil
}

// tokenBucketScript runs the bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = cost
// ARGV[4] = current unix timestamp (seconds)
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
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return allowed
`)

// RedisLimiter shares one token bucket across engine replicas.
type RedisLimiter struct {
	client *redis.Client
	rpm    int
	burst  int
}

func NewRedisLimiter(addr string, rpm, burst int) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		rpm:    rpm,
		burst:  burst,
	}
}

// Acquire consumes one token; an empty bucket is a transient failure.
func (l *RedisLimiter) Acquire(ctx context.Context, key string) error {
	perSecond := float64(l.rpm) / 60.0
	if perSecond <= 0 {
		perSecond = 1.0
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{"limiter:llm:" + key},
		perSecond, l.burst, 1, now).Int64()
	if err != nil {
		return fmt.Errorf("%w: redis limiter: %w", contracts.ErrTransient, err)
	}
	if res != 1 {
		return fmt.Errorf("%w: llm rate limit exhausted for %s", contracts.ErrTransient, key)
	}
	return nil
}
