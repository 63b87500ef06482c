package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCacheGetMissingReturnsEmpty(t *testing.T) {
	c, _ := newTestCache(t)
	v, err := c.Get(context.Background(), "missing")
	if err != nil || v != "" {
		t.Fatalf("expected empty value, got %q err=%v", v, err)
	}
}

func TestRedisCacheEvalNilReply(t *testing.T) {
	c, _ := newTestCache(t)
	res, err := c.Eval(context.Background(), "return redis.call('LPOP', KEYS[1])", []string{"empty"})
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, got %v", res)
	}
}

func TestRedisCacheZRevRange(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	if _, err := mr.ZAdd("z", 1, "a"); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}
	if _, err := mr.ZAdd("z", 3, "b"); err != nil {
		t.Fatalf("zadd failed: %v", err)
	}
	got, err := c.ZRevRangeWithScores(ctx, "z", 0, -1)
	if err != nil {
		t.Fatalf("zrevrange failed: %v", err)
	}
	if len(got) != 2 || got[0].Member != "b" || got[1].Member != "a" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGetWithCachedCachesValueAndEmpty(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	load := func(v int) func(context.Context) (int, error) {
		return func(context.Context) (int, error) {
			calls++
			return v, nil
		}
	}
	isEmpty := func(v int) bool { return v == 0 }
	marshal := func(v int) string { return strconv.Itoa(v) }
	unmarshal := func(s string) (int, error) { return strconv.Atoi(s) }

	for i := 0; i < 2; i++ {
		v, err := GetWithCached(ctx, c, "k", time.Minute, time.Second, isEmpty, marshal, unmarshal, load(7))
		if err != nil || v != 7 {
			t.Fatalf("expected 7, got %d err=%v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one load, got %d", calls)
	}

	for i := 0; i < 2; i++ {
		v, err := GetWithCached(ctx, c, "empty", time.Minute, time.Second, isEmpty, marshal, unmarshal, load(0))
		if err != nil || v != 0 {
			t.Fatalf("expected zero, got %d err=%v", v, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected empty value to be cached, loads=%d", calls)
	}
	if got, _ := mr.Get("empty"); got != NullCacheValue {
		t.Fatalf("expected null marker, got %q", got)
	}

	wantErr := errors.New("db down")
	_, err := GetWithCached(ctx, c, "err", time.Minute, time.Second, isEmpty, marshal, unmarshal,
		func(context.Context) (int, error) { return 0, wantErr })
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestJitterTTLWithinTenPercent(t *testing.T) {
	ttl := 10 * time.Second
	for i := 0; i < 20; i++ {
		got := JitterTTL(ttl)
		if got > ttl || got < 9*time.Second {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}
