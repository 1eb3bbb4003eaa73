package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quotasigner/internal/domain"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "quotasigner:ratelimit:"

type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// INCR and PEXPIRE run atomically so a key never outlives its window.
var redisAllowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {current, ttl}
`)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Now      func() time.Time
}

func NewRedisLimiter(cfg RedisConfig) (*RedisLimiter, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisLimiterWithClient(client, cfg.Now), nil
}

func NewRedisLimiterWithClient(client *redis.Client, now func() time.Time) *RedisLimiter {
	if now == nil {
		now = time.Now
	}
	return &RedisLimiter{client: client, now: now}
}

// Ping checks connectivity at startup.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	windowMillis := window.Milliseconds()
	if windowMillis <= 0 {
		windowMillis = 1000
	}
	result, err := redisAllowScript.Run(ctx, r.client, []string{redisKeyPrefix + key}, windowMillis).Result()
	if err != nil {
		return domain.RateLimitDecision{}, err
	}
	return parseAllowResult(result, limit, r.now())
}

func parseAllowResult(result any, limit int, now time.Time) (domain.RateLimitDecision, error) {
	values, ok := result.([]any)
	if !ok || len(values) < 2 {
		return domain.RateLimitDecision{}, errors.New("unexpected redis rate limit response")
	}
	current, ok := values[0].(int64)
	if !ok {
		return domain.RateLimitDecision{}, errors.New("invalid redis counter response")
	}
	ttlMillis, _ := values[1].(int64)
	resetAt := now
	if ttlMillis > 0 {
		resetAt = resetAt.Add(time.Duration(ttlMillis) * time.Millisecond)
	}
	remaining := limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return domain.RateLimitDecision{
		Allowed:   current <= int64(limit),
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
