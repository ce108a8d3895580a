package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestListKeyDeterministic(t *testing.T) {
	c, _ := newTestCache(t)
	coord := NewCoordinator(c, "oj", 0)

	k1 := coord.ListKey("submission_list", "7", "p1", "1", "20")
	k2 := coord.ListKey("submission_list", "7", "p1", "1", "20")
	if k1 != k2 {
		t.Fatalf("same query produced different keys: %s vs %s", k1, k2)
	}

	k3 := coord.ListKey("submission_list", "7", "p1", "2", "20")
	if k1 == k3 {
		t.Fatalf("different pages produced the same key %s", k1)
	}
}

func TestStoreAndGet(t *testing.T) {
	c, _ := newTestCache(t)
	coord := NewCoordinator(c, "oj", time.Minute)
	ctx := context.Background()

	key := coord.ListKey("submission_list", "7", "", "1", "20")
	if err := coord.Store(ctx, "submission_list", key, `{"items":[]}`,
		Dependency{Field: "user_id", Value: "7"},
	); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	got, err := coord.Get(ctx, key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != `{"items":[]}` {
		t.Fatalf("unexpected payload %q", got)
	}
}

func TestGetMiss(t *testing.T) {
	c, _ := newTestCache(t)
	coord := NewCoordinator(c, "oj", time.Minute)

	got, err := coord.Get(context.Background(), coord.ListKey("submission_list", "absent"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got != "" {
		t.Fatalf("expected miss, got %q", got)
	}
}

func TestInvalidateByDependency(t *testing.T) {
	c, _ := newTestCache(t)
	coord := NewCoordinator(c, "oj", time.Minute)
	ctx := context.Background()

	userKey := coord.ListKey("submission_list", "7", "", "1", "20")
	otherKey := coord.ListKey("submission_list", "8", "", "1", "20")

	if err := coord.Store(ctx, "submission_list", userKey, "user7-page",
		Dependency{Field: "user_id", Value: "7"},
		Dependency{Field: "problem_id", Value: "p1"},
	); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := coord.Store(ctx, "submission_list", otherKey, "user8-page",
		Dependency{Field: "user_id", Value: "8"},
	); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	if err := coord.Invalidate(ctx, "submission_list", Dependency{Field: "user_id", Value: "7"}); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}

	if got, _ := coord.Get(ctx, userKey); got != "" {
		t.Fatalf("expected user7 entry gone, got %q", got)
	}
	if got, _ := coord.Get(ctx, otherKey); got != "user8-page" {
		t.Fatalf("expected user8 entry intact, got %q", got)
	}

	// The problem_id dependency of the dropped entry is now dangling but
	// must stay harmless.
	if err := coord.Invalidate(ctx, "submission_list", Dependency{Field: "problem_id", Value: "p1"}); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if got, _ := coord.Get(ctx, otherKey); got != "user8-page" {
		t.Fatalf("unrelated entry dropped by invalidation")
	}
}

func TestEntriesExpire(t *testing.T) {
	c, mr := newTestCache(t)
	coord := NewCoordinator(c, "oj", time.Minute)
	ctx := context.Background()

	key := coord.ListKey("submission_list", "7", "", "1", "20")
	if err := coord.Store(ctx, "submission_list", key, "payload",
		Dependency{Field: "user_id", Value: "7"},
	); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if got, _ := coord.Get(ctx, key); got != "" {
		t.Fatalf("expected expired entry, got %q", got)
	}
}
