package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"minoj/internal/common/cache"
)

func newRateTestCache(t *testing.T) (*miniredis.Miniredis, cache.Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestAllowToSubmitCapsAtLimit(t *testing.T) {
	_, c := newRateTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, 3)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		allowed, err := limiter.AllowToSubmit(ctx, 7)
		if err != nil {
			t.Fatalf("allow %d failed: %v", i, err)
		}
		if !allowed {
			t.Fatalf("submission %d should be allowed", i)
		}
	}
	allowed, err := limiter.AllowToSubmit(ctx, 7)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if allowed {
		t.Fatal("fourth submission within the window must be denied")
	}
}

func TestAllowToSubmitIsPerUser(t *testing.T) {
	_, c := newRateTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, 1)

	ctx := context.Background()
	if allowed, _ := limiter.AllowToSubmit(ctx, 1); !allowed {
		t.Fatal("first user should be allowed")
	}
	if allowed, _ := limiter.AllowToSubmit(ctx, 2); !allowed {
		t.Fatal("second user should not share the first user's window")
	}
	if allowed, _ := limiter.AllowToSubmit(ctx, 1); allowed {
		t.Fatal("first user should now be capped")
	}
}

func TestAllowToSubmitWindowSlides(t *testing.T) {
	_, c := newRateTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, 3)
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if allowed, err := limiter.AllowToSubmit(ctx, 7); err != nil || !allowed {
			t.Fatalf("warmup submission %d: allowed=%v err=%v", i, allowed, err)
		}
	}
	if allowed, _ := limiter.AllowToSubmit(ctx, 7); allowed {
		t.Fatal("cap must hold inside the window")
	}

	current = current.Add(61 * time.Second)
	allowed, err := limiter.AllowToSubmit(ctx, 7)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !allowed {
		t.Fatal("expired entries must free the window")
	}

	// everything older than the window is gone, only the new entry stays
	count, err := c.LLen(ctx, submissionTimestampKeyPrefix+"7")
	if err != nil {
		t.Fatalf("llen failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("timestamp list length = %d, want 1", count)
	}
}

func TestAllowToSubmitDropsMalformedEntries(t *testing.T) {
	_, c := newRateTestCache(t)
	limiter := NewRateLimiter(c, time.Minute, 3)

	ctx := context.Background()
	if err := c.LPush(ctx, submissionTimestampKeyPrefix+"7", "not-a-timestamp"); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}
	allowed, err := limiter.AllowToSubmit(ctx, 7)
	if err != nil {
		t.Fatalf("allow failed: %v", err)
	}
	if !allowed {
		t.Fatal("malformed entry must not count against the cap")
	}
}
