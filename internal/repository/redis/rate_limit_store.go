package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"agri-auth/internal/autherr"
	"agri-auth/internal/client"
	"agri-auth/internal/util"
)

const (
	rateLimitPrefix    = "rl:"
	rateLimitOpTimeout = 3 * time.Second
)

// incrementWindowScript counts a request against a fixed window. The window
// TTL is set only when the counter is first created, so the reset point never
// slides with traffic. Returns the running count and the remaining window ms.
const incrementWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// RateLimitStore implements a fixed-reset-window counter in Redis.
type RateLimitStore struct {
	client *client.RedisClient
}

func NewRateLimitStore(redisClient *client.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: redisClient}
}

// IncrementWindow counts one request against the key's current window and
// returns the new count plus time until the window resets. The caller
// compares count against its limit.
func (s *RateLimitStore) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, rateLimitOpTimeout)
	defer cancel()

	redisKey := rateLimitPrefix + key

	result, err := s.client.Eval(ctx, incrementWindowScript, []string{redisKey}, window.Milliseconds())
	if err != nil {
		util.Error("Rate limit increment failed",
			zap.String("key", key),
			zap.Error(err))
		return 0, 0, autherr.Wrap(autherr.CodeStoreUnavailable, "rate limit store unavailable", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, autherr.New(autherr.CodeStoreUnavailable, "unexpected rate limit script reply")
	}

	count, err := toInt64(values[0])
	if err != nil {
		return 0, 0, autherr.Wrap(autherr.CodeStoreUnavailable, "invalid rate limit count", err)
	}
	ttlMs, err := toInt64(values[1])
	if err != nil {
		return 0, 0, autherr.Wrap(autherr.CodeStoreUnavailable, "invalid rate limit ttl", err)
	}

	return count, time.Duration(ttlMs) * time.Millisecond, nil
}

// ResetWindow clears the counter for a key. Used by tests and admin tooling.
func (s *RateLimitStore) ResetWindow(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, rateLimitOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, rateLimitPrefix+key); err != nil {
		return autherr.Wrap(autherr.CodeStoreUnavailable, "rate limit reset failed", err)
	}
	return nil
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
