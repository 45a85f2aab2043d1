package lookupcache

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// unreachable points at a port nothing listens on, so every command fails.
func unreachable(t *testing.T) goredis.UniversalClient {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLoadFallsThroughWhenRedisIsDown(t *testing.T) {
	c := New(unreachable(t), nil, nil, Config{})
	var calls atomic.Int32
	got, err := c.LoadInt(context.Background(), "study:name:s1", func(context.Context) (int64, error) {
		calls.Add(1)
		return 7, nil
	})
	if err != nil || got != 7 {
		t.Fatalf("LoadInt: want=7,nil got=%d,%v", got, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("load calls: want=1 got=%d", calls.Load())
	}
	c.Invalidate(context.Background(), "study:name:s1")
}

func TestLoadErrorsAreNotCached(t *testing.T) {
	c := New(unreachable(t), nil, nil, Config{})
	boom := errors.New("not found")
	_, err := c.LoadString(context.Background(), "study:1:name", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("LoadString: want=%v got=%v", boom, err)
	}
}

func TestDialRequiresAddress(t *testing.T) {
	if _, err := Dial(context.Background(), Config{}); err == nil {
		t.Fatalf("Dial: want error for empty address")
	}
}

func TestRedisRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := Dial(ctx, Config{Addr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer rdb.Close()

	prefix := "trialstore-test:" + time.Now().Format("150405.000000") + ":"
	c := New(rdb, nil, nil, Config{Prefix: prefix, TTL: time.Minute})
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		calls.Add(1)
		return "s1", nil
	}
	for i := 0; i < 3; i++ {
		got, err := c.LoadString(ctx, "study:0:name", load)
		if err != nil || got != "s1" {
			t.Fatalf("LoadString: want=s1,nil got=%q,%v", got, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("load calls after warm cache: want=1 got=%d", calls.Load())
	}
	c.Invalidate(ctx, "study:0:name")
	if _, err := c.LoadString(ctx, "study:0:name", load); err != nil {
		t.Fatalf("LoadString after invalidate: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("load calls after invalidate: want=2 got=%d", calls.Load())
	}
}
