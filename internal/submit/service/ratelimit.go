package service

import (
	"context"
	"strconv"
	"time"

	"minoj/internal/common/cache"
	appErr "minoj/pkg/errors"
)

const (
	submissionTimestampKeyPrefix = "user_submission_timestamp:"
	rateLockKeyPrefix            = "submit:rate:lock:"

	defaultRateWindow = time.Minute
	defaultRateMax    = 3

	rateLockTTL      = 5 * time.Second
	rateLockAttempts = 20
	rateLockBackoff  = 25 * time.Millisecond
)

// RateLimiter enforces the per-user submission cap over a sliding
// window. Timestamps live in a redis list with the newest entry at the
// head; expired entries are purged lazily from the tail. The
// read-purge-check-append sequence runs under a per-user lock so
// concurrent submissions of the same user cannot both slip under the
// cap.
type RateLimiter struct {
	cache  cache.Cache
	window time.Duration
	max    int64
	now    func() time.Time
}

func NewRateLimiter(cacheClient cache.Cache, window time.Duration, max int64) *RateLimiter {
	if window <= 0 {
		window = defaultRateWindow
	}
	if max <= 0 {
		max = defaultRateMax
	}
	return &RateLimiter{
		cache:  cacheClient,
		window: window,
		max:    max,
		now:    time.Now,
	}
}

// AllowToSubmit reports whether the user may submit now and, if so,
// records the submission timestamp in the same critical section.
func (l *RateLimiter) AllowToSubmit(ctx context.Context, userID int64) (bool, error) {
	lockKey := rateLockKeyPrefix + strconv.FormatInt(userID, 10)
	if err := l.acquireLock(ctx, lockKey); err != nil {
		return false, err
	}
	defer func() { _ = l.cache.Unlock(ctx, lockKey) }()

	key := submissionTimestampKeyPrefix + strconv.FormatInt(userID, 10)
	now := l.now().UTC()

	if err := l.purgeExpired(ctx, key, now); err != nil {
		return false, err
	}

	count, err := l.cache.LLen(ctx, key)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "count recent submissions")
	}
	if count >= l.max {
		return false, nil
	}

	if err := l.cache.LPush(ctx, key, now.Format(time.RFC3339Nano)); err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "record submission timestamp")
	}
	return true, nil
}

func (l *RateLimiter) acquireLock(ctx context.Context, lockKey string) error {
	for attempt := 0; attempt < rateLockAttempts; attempt++ {
		acquired, err := l.cache.TryLock(ctx, lockKey, rateLockTTL)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "acquire rate lock")
		}
		if acquired {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rateLockBackoff):
		}
	}
	return appErr.New(appErr.LockFailed).WithMessage("rate limit lock is busy")
}

// purgeExpired drops entries older than the window from the tail. A
// malformed entry is dropped as well so the list cannot wedge.
func (l *RateLimiter) purgeExpired(ctx context.Context, key string, now time.Time) error {
	for {
		tail, err := l.cache.LRange(ctx, key, -1, -1)
		if err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "read submission timestamps")
		}
		if len(tail) == 0 {
			return nil
		}
		ts, parseErr := time.Parse(time.RFC3339Nano, tail[0])
		if parseErr == nil && now.Sub(ts) < l.window {
			return nil
		}
		if _, err := l.cache.RPop(ctx, key); err != nil {
			return appErr.Wrapf(err, appErr.CacheError, "purge submission timestamp")
		}
	}
}
