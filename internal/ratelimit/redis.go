package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "spotter:ratelimit"

// admitScript evaluates one sliding-window admission atomically.
// Returns {allowed, retry_after_ms, remaining}.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local capacity = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < capacity then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, 0, capacity - count - 1}
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local wait = window - (now - tonumber(oldest[2]))
if wait < 0 then wait = 0 end
return {0, wait, 0}
`)

var releaseScript = redis.NewScript(`
local members = redis.call('ZRANGEBYSCORE', KEYS[1], ARGV[1], ARGV[1], 'LIMIT', 0, 1)
if #members > 0 then
  return redis.call('ZREM', KEYS[1], members[1])
end
return 0
`)

// RedisLimiter keeps one sorted set per owner so several API processes share
// the same windows.
type RedisLimiter struct {
	client redis.Scripter
	policy Policy
	prefix string
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix sets the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		if trimmed := strings.Trim(prefix, ":"); trimmed != "" {
			l.prefix = trimmed
		}
	}
}

// NewRedisLimiter constructs a Redis-backed limiter.
func NewRedisLimiter(client redis.Scripter, policy Policy, opts ...RedisOption) *RedisLimiter {
	limiter := &RedisLimiter{
		client: client,
		policy: policy.normalized(),
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter
}

// Capacity returns the per-window admission count.
func (l *RedisLimiter) Capacity() int { return l.policy.Capacity }

// Window returns the sliding window length.
func (l *RedisLimiter) Window() time.Duration { return l.policy.Window }

// Admit runs the admission script for the owner's key.
func (l *RedisLimiter) Admit(ctx context.Context, ownerID int64, now time.Time) (Decision, error) {
	if ownerID <= 0 {
		return Decision{}, errInvalidOwner
	}
	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
	raw, err := admitScript.Run(ctx, l.client,
		[]string{l.key(ownerID)},
		now.UnixMilli(), l.policy.Window.Milliseconds(), l.policy.Capacity, member,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: admit owner %d: %w", ownerID, err)
	}
	if len(raw) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %v", raw)
	}
	return Decision{
		Allowed:    raw[0] == 1,
		RetryAfter: time.Duration(raw[1]) * time.Millisecond,
		Remaining:  int(raw[2]),
	}, nil
}

// Release removes one member scored at admittedAt.
func (l *RedisLimiter) Release(ctx context.Context, ownerID int64, admittedAt time.Time) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key(ownerID)}, admittedAt.UnixMilli()).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("ratelimit: release owner %d: %w", ownerID, err)
	}
	return nil
}

func (l *RedisLimiter) key(ownerID int64) string {
	return l.prefix + ":" + strconv.FormatInt(ownerID, 10)
}
