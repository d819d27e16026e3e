package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum events allowed per window
	Window time.Duration // Sliding window length
	Prefix string        // Key namespace, e.g. "api" or "dispatch"
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// slidingWindow trims, counts and adds in one round trip so concurrent
// callers can't both slip under the limit.
var slidingWindow = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])
local n      = tonumber(ARGV[4])
local ttl    = tonumber(ARGV[5])
local member = ARGV[6]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count + n > limit then
  return {0, count}
end
for i = 1, n do
  redis.call('ZADD', key, now, member .. ':' .. i)
end
redis.call('PEXPIRE', key, ttl)
return {1, count}
`)

// RateLimiter implements sliding window rate limiting on a Redis sorted set.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
	now    func() time.Time
}

func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	if config.Prefix == "" {
		config.Prefix = "ratelimit"
	}
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
		now:    time.Now,
	}
}

// Allow records one event for key if the window has room.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	return r.AllowN(ctx, key, 1)
}

// AllowN records n events for key if all of them fit.
func (r *RateLimiter) AllowN(ctx context.Context, key string, n int) (*RateLimitResult, error) {
	now := r.now()
	resetAt := now.Add(r.config.Window)
	redisKey := fmt.Sprintf("%s:%s", r.config.Prefix, key)

	// microseconds keep scores exact as Lua doubles
	raw, err := slidingWindow.Run(ctx, r.client.rdb, []string{redisKey},
		now.UnixMicro(),
		r.config.Window.Microseconds(),
		r.config.Limit,
		n,
		(r.config.Window + time.Second).Milliseconds(),
		uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis rate limit script failed: %w", err)
	}

	allowed, count := raw[0] == 1, int(raw[1])
	remaining := r.config.Limit - count
	if allowed {
		remaining -= n
	}

	if !allowed {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", redisKey),
			zap.Int("current", count),
			zap.Int("limit", r.config.Limit),
		)
	}

	return &RateLimitResult{
		Allowed:   allowed,
		Remaining: max(0, remaining),
		ResetAt:   resetAt,
	}, nil
}

// Permit reports whether one more event fits under the limit. It lets the
// limiter throttle outbox dispatch per tenant and type.
func (r *RateLimiter) Permit(ctx context.Context, key string) (bool, error) {
	res, err := r.AllowN(ctx, key, 1)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}
