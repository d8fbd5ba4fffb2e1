package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return NewLimiter(client)
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "alice", rule)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d blocked under the limit", i+1)
		}
	}

	ok, err := l.Allow(ctx, "alice", rule)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("request over the limit allowed")
	}
}

func TestWindowResets(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 300 * time.Millisecond}

	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Fatal("first request blocked")
	}
	if ok, _ := l.Allow(ctx, "alice", rule); ok {
		t.Fatal("second request in window allowed")
	}

	time.Sleep(400 * time.Millisecond)
	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Fatal("request after window expiry blocked")
	}
}

func TestIdentifiersIsolated(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	if ok, _ := l.Allow(ctx, "alice", rule); !ok {
		t.Fatal("alice blocked")
	}
	if ok, _ := l.Allow(ctx, "bob", rule); !ok {
		t.Fatal("bob blocked by alice's counter")
	}
}

func TestRemaining(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 5, Window: 10 * time.Second}

	n, err := l.Remaining(ctx, "alice", rule)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if n != 5 {
		t.Fatalf("fresh remaining = %d", n)
	}

	for i := 0; i < 2; i++ {
		if _, err := l.Allow(ctx, "alice", rule); err != nil {
			t.Fatalf("allow: %v", err)
		}
	}
	n, err = l.Remaining(ctx, "alice", rule)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if n != 3 {
		t.Fatalf("remaining = %d, want 3", n)
	}
}

func TestFailOpenOnRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:1"})
	t.Cleanup(func() { client.Close() })
	l := NewLimiter(client)

	ok, err := l.Allow(context.Background(), "alice", RuleMessage)
	if err == nil {
		t.Fatal("expected an error from a dead redis")
	}
	if !ok {
		t.Fatal("limiter failed closed")
	}
}
