package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client), mr
}

func TestRedisCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("missing key: ok=%v err=%v, want miss without error", ok, err)
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	val, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("get after set: val=%q ok=%v err=%v", val, ok, err)
	}
}

func TestRedisCache_Expiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v", time.Second); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("expired key should be a miss")
	}
}

func TestRedisCache_Remove(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Remove(ctx, "never-existed"); err != nil {
		t.Errorf("removing a missing key should not error: %v", err)
	}

	c.Set(ctx, "k", "v", 0)
	if err := c.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("removed key should be a miss")
	}
}

func TestRedisCache_RemoveByPattern(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Set(ctx, "sync:queue:a", "1", 0)
	c.Set(ctx, "sync:queue:b", "2", 0)
	c.Set(ctx, "sync:token", "3", 0)

	if err := c.RemoveByPattern(ctx, "sync:queue:*"); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.Get(ctx, "sync:queue:a"); ok {
		t.Error("matched key should be gone")
	}
	if _, ok, _ := c.Get(ctx, "sync:token"); !ok {
		t.Error("unmatched key should survive")
	}
}

func TestRedisCache_Increment(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := c.Increment(ctx, "counter")
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("increment = %d, want %d", n, want)
		}
	}
}

func TestWithCache_MissComputesAndStores(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	calls := 0
	compute := func(ctx context.Context) (string, error) {
		calls++
		return "computed", nil
	}

	for i := 0; i < 3; i++ {
		val, err := WithCache(ctx, c, "memo", time.Minute, compute)
		if err != nil {
			t.Fatal(err)
		}
		if val != "computed" {
			t.Errorf("val = %q, want computed", val)
		}
	}

	if calls != 1 {
		t.Errorf("compute called %d times, want 1", calls)
	}
}

func TestWithCache_NilCacheStillComputes(t *testing.T) {
	val, err := WithCache(context.Background(), nil, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "direct", nil
	})
	if err != nil || val != "direct" {
		t.Fatalf("val=%q err=%v, want direct without error", val, err)
	}
}

func TestWithCache_BrokenCacheDegradesToCompute(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	mr.Close()

	calls := 0
	val, err := WithCache(ctx, c, "k", time.Minute, func(ctx context.Context) (string, error) {
		calls++
		return "fallback", nil
	})
	if err != nil {
		t.Fatalf("broken cache must not fail the call: %v", err)
	}
	if val != "fallback" || calls != 1 {
		t.Errorf("val=%q calls=%d, want fallback via compute", val, calls)
	}
}

func TestWithCache_ComputeErrorPropagates(t *testing.T) {
	c, _ := newTestCache(t)

	wantErr := errors.New("upstream down")
	_, err := WithCache(context.Background(), c, "k", time.Minute, func(ctx context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}
