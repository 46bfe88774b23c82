package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/reminder-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	defaultKeyPrefix         = "reminder:ratelimit"
	backoffStep              = 20 * time.Millisecond
	backoffMax               = 200 * time.Millisecond
	windowSeconds            = 1
)

// fixedWindowScript counts hits in a one-second bucket and rejects once the limit is exceeded.
var fixedWindowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)

// RateLimiter shares a per-second budget of outbound calls and messages
// across every API replica talking to the telephony provider.
type RateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	keyPrefix   string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRateLimiter(client *goredis.Client, limitPerSec int) (*RateLimiter, error) {
	return newRateLimiter(client, int64(limitPerSec), defaultKeyPrefix, time.Now, sleepWithContext)
}

func newRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	keyPrefix string,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = defaultKeyPrefix
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		keyPrefix:   keyPrefix,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		return false, fmt.Errorf("channel is required")
	}

	key := r.bucketKey(channel)
	result, err := fixedWindowScript.Run(ctx, r.client, []string{key}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit for %s: %w", channel, err)
	}

	return result == 1, nil
}

// Wait blocks until channel has budget in the current window or ctx ends.
func (r *RateLimiter) Wait(ctx context.Context, channel string) error {
	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(backoff*2, backoffMax)
	}
}

func (r *RateLimiter) bucketKey(channel string) string {
	return fmt.Sprintf("%s:%s:%d", r.keyPrefix, channel, r.now().UTC().Unix())
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
