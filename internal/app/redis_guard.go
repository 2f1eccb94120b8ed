/**
 * @description
 * Redis-backed concurrency guards: a distributed job lock so a payroll job
 * runs at most once per cycle across service replicas, and a fixed-window
 * rate limiter used to throttle webhook callers.
 */

package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes a lock key only if it still holds our token, so
// a lock that expired and was re-acquired by another replica is never
// released by the original holder.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisJobLock provides a distributed mutual-exclusion guard for payroll
// jobs. The lock carries a TTL so a crashed replica cannot wedge a job
// permanently.
type RedisJobLock struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisJobLock creates a job lock manager with the given key prefix.
func NewRedisJobLock(client redis.UniversalClient, prefix string) *RedisJobLock {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		trimmed = "payroll:job"
	}
	return &RedisJobLock{client: client, prefix: strings.TrimSuffix(trimmed, ":")}
}

// Acquire attempts to take the lock for a named job and cycle. It returns a
// release function when the lock was won, and ok=false when another replica
// holds it. A nil client degrades to always-acquired for single-replica
// deployments without Redis.
func (l *RedisJobLock) Acquire(ctx context.Context, job string, ttl time.Duration) (release func(), ok bool, err error) {
	if l == nil || l.client == nil {
		return func() {}, true, nil
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	key := fmt.Sprintf("%s:%s", l.prefix, job)
	token := uuid.NewString()

	won, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire job lock %s: %w", key, err)
	}
	if !won {
		return nil, false, nil
	}

	release = func() {
		// Best effort: an expired lock simply releases itself.
		_ = releaseLockScript.Run(context.Background(), l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

var webhookRateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// RedisWebhookRateLimiter implements distributed rate limiting using Redis.
type RedisWebhookRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisWebhookRateLimiter(client redis.UniversalClient, prefix string) *RedisWebhookRateLimiter {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "payroll:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisWebhookRateLimiter{
		client: client,
		prefix: trimmedPrefix,
	}
}

// ConsumeRateLimit counts a hit for subject within scope and returns the
// running count plus how long the caller should wait once over the limit.
// A nil client or non-positive limit disables limiting.
func (r *RedisWebhookRateLimiter) ConsumeRateLimit(
	ctx context.Context,
	scope string,
	subject string,
	limit int,
	window time.Duration,
) (count int, retryAfterSeconds int, err error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	normalizedScope := strings.TrimSpace(scope)
	normalizedSubject := strings.TrimSpace(subject)
	if normalizedScope == "" || normalizedSubject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s:%s", r.prefix, normalizedScope, normalizedSubject)
	rawResult, err := webhookRateLimitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis limiter response shape: %T", rawResult)
	}

	currentCount, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}

	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(currentCount), 0, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}

	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}

	return int(currentCount), retryAfter, nil
}
