package authkit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptLimiter counts failures per identifier with a fixed cooldown
// window. The counter key is INCR'd on failure and given its TTL on
// first increment, so the window starts at the first failure.
type attemptLimiter struct {
	rdb         redis.UniversalClient
	prefix      string
	maxAttempts int
	window      time.Duration
}

func newAttemptLimiter(rdb redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *attemptLimiter {
	return &attemptLimiter{rdb: rdb, prefix: prefix, maxAttempts: maxAttempts, window: window}
}

func (l *attemptLimiter) key(id string) string { return l.prefix + ":" + id }

// Check returns ErrRateLimited once the identifier has spent its
// allowance for the current window.
func (l *attemptLimiter) Check(ctx context.Context, id string) error {
	count, err := l.rdb.Get(ctx, l.key(id)).Int()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure bumps the counter, starting the window on the first
// failure.
func (l *attemptLimiter) RecordFailure(ctx context.Context, id string) error {
	count, err := l.rdb.Incr(ctx, l.key(id)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, l.key(id), l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errBackendUnavailable, err)
		}
	}
	return nil
}

// Reset clears the counter after a success.
func (l *attemptLimiter) Reset(ctx context.Context, id string) error {
	if err := l.rdb.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	return nil
}

// requestWindow is the fixed window for email-sending throttles; the
// per-flow configs say how many requests fit in it.
const requestWindow = time.Hour

// requestLimiter throttles how often email-sending flows fire per
// identifier. Unlike attemptLimiter it counts every request, success or
// not, since each one costs an outbound email.
type requestLimiter struct {
	rdb    redis.UniversalClient
	window time.Duration
}

func newRequestLimiter(rdb redis.UniversalClient, window time.Duration) *requestLimiter {
	return &requestLimiter{rdb: rdb, window: window}
}

// Allow consumes one request slot for the scope and identifier,
// returning ErrRateLimited when the window's allowance is gone.
func (l *requestLimiter) Allow(ctx context.Context, scope, id string, max int) error {
	if max <= 0 {
		return nil
	}
	key := "akr:" + scope + ":" + id
	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errBackendUnavailable, err)
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", errBackendUnavailable, err)
		}
	}
	if int(count) > max {
		return ErrRateLimited
	}
	return nil
}
