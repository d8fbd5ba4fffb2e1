package abuse

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestGuard(t *testing.T, cfg Config) *Guard {
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

	return NewGuard(client, cfg)
}

func TestSkipsBelowThresholdNoPenalty(t *testing.T) {
	g := newTestGuard(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		until, err := g.RecordSkip(ctx, "alice")
		if err != nil {
			t.Fatalf("record skip: %v", err)
		}
		if !until.IsZero() {
			t.Fatalf("penalty after %d skips", i+1)
		}
	}

	remaining, err := g.Remaining(ctx, "alice")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %v, want 0", remaining)
	}
}

func TestThresholdTriggersPenalty(t *testing.T) {
	cfg := DefaultConfig()
	g := newTestGuard(t, cfg)
	ctx := context.Background()

	var until time.Time
	var err error
	for i := 0; i < 3; i++ {
		until, err = g.RecordSkip(ctx, "alice")
		if err != nil {
			t.Fatalf("record skip: %v", err)
		}
	}
	if until.IsZero() {
		t.Fatal("no penalty after threshold skips")
	}

	remaining, err := g.Remaining(ctx, "alice")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining <= 0 || remaining > cfg.PenaltyTTL {
		t.Fatalf("remaining = %v", remaining)
	}
}

func TestPenaltyNotExtendedByMoreSkips(t *testing.T) {
	g := newTestGuard(t, DefaultConfig())
	ctx := context.Background()

	var first time.Time
	var err error
	for i := 0; i < 3; i++ {
		first, err = g.RecordSkip(ctx, "alice")
		if err != nil {
			t.Fatalf("record skip: %v", err)
		}
	}

	again, err := g.RecordSkip(ctx, "alice")
	if err != nil {
		t.Fatalf("record skip: %v", err)
	}
	if !again.Equal(first) {
		t.Fatalf("penalty deadline moved: %v -> %v", first, again)
	}
}

func TestSkipWindowExpires(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SkipWindow = 200 * time.Millisecond
	g := newTestGuard(t, cfg)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := g.RecordSkip(ctx, "alice"); err != nil {
			t.Fatalf("record skip: %v", err)
		}
	}
	time.Sleep(300 * time.Millisecond)

	// Window elapsed, the counter restarted; two more skips stay clean.
	for i := 0; i < 2; i++ {
		until, err := g.RecordSkip(ctx, "alice")
		if err != nil {
			t.Fatalf("record skip: %v", err)
		}
		if !until.IsZero() {
			t.Fatal("penalty from skips in separate windows")
		}
	}
}

func TestUsersCountedSeparately(t *testing.T) {
	g := newTestGuard(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.RecordSkip(ctx, "alice"); err != nil {
			t.Fatalf("record skip: %v", err)
		}
	}

	remaining, err := g.Remaining(ctx, "bob")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("bob penalized by alice's skips: %v", remaining)
	}
}
