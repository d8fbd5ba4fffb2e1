package ban

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return NewStore(client)
}

func TestBanAndIsBanned(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	banned, _, _, err := s.IsBanned(ctx, "alice")
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if banned {
		t.Fatal("fresh user reported as banned")
	}

	if err := s.Ban(ctx, "alice", time.Minute, "spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}

	banned, remaining, reason, err := s.IsBanned(ctx, "alice")
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if !banned {
		t.Fatal("expected banned")
	}
	if reason != "spam" {
		t.Fatalf("reason = %q, want %q", reason, "spam")
	}
	if remaining <= 0 || remaining > 60 {
		t.Fatalf("remaining = %d, want 1..60", remaining)
	}
}

func TestUnban(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Ban(ctx, "bob", time.Minute, "spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := s.Unban(ctx, "bob"); err != nil {
		t.Fatalf("unban: %v", err)
	}
	banned, _, _, err := s.IsBanned(ctx, "bob")
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if banned {
		t.Fatal("still banned after unban")
	}
}

func TestBanExpires(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Ban(ctx, "carol", 100*time.Millisecond, "spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	banned, _, _, err := s.IsBanned(ctx, "carol")
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if banned {
		t.Fatal("ban survived its TTL")
	}
}

func TestReportAndCheckBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < AutoBanThreshold-1; i++ {
		banned, _, err := s.ReportAndCheck(ctx, "dave")
		if err != nil {
			t.Fatalf("report %d: %v", i+1, err)
		}
		if banned {
			t.Fatalf("banned after %d reports", i+1)
		}
	}

	count, err := s.OffenseCount(ctx, "dave")
	if err != nil {
		t.Fatalf("offense count: %v", err)
	}
	if count != AutoBanThreshold-1 {
		t.Fatalf("count = %d, want %d", count, AutoBanThreshold-1)
	}
}

func TestReportAndCheckAutoBan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var banned bool
	var duration time.Duration
	var err error
	for i := 0; i < AutoBanThreshold; i++ {
		banned, duration, err = s.ReportAndCheck(ctx, "eve")
		if err != nil {
			t.Fatalf("report %d: %v", i+1, err)
		}
	}
	if !banned {
		t.Fatalf("not banned after %d reports", AutoBanThreshold)
	}
	if duration != Ban15Min {
		t.Fatalf("duration = %v, want %v", duration, Ban15Min)
	}

	isBanned, _, reason, err := s.IsBanned(ctx, "eve")
	if err != nil {
		t.Fatalf("is banned: %v", err)
	}
	if !isBanned {
		t.Fatal("suspension record missing")
	}
	if reason != "multiple_reports" {
		t.Fatalf("reason = %q, want %q", reason, "multiple_reports")
	}
}

func TestReportEscalation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Threshold + 1 reports: the fourth escalates to the 1h tier.
	var duration time.Duration
	for i := 0; i < AutoBanThreshold+1; i++ {
		_, duration, _ = s.ReportAndCheck(ctx, "frank")
	}
	if duration != Ban1Hour {
		t.Fatalf("duration = %v, want %v", duration, Ban1Hour)
	}

	// A fifth report escalates to the 24h tier.
	_, duration, _ = s.ReportAndCheck(ctx, "frank")
	if duration != Ban24Hour {
		t.Fatalf("duration = %v, want %v", duration, Ban24Hour)
	}
}

func TestReportCountersIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.ReportAndCheck(ctx, "gina"); err != nil {
		t.Fatalf("report: %v", err)
	}
	count, err := s.OffenseCount(ctx, "henry")
	if err != nil {
		t.Fatalf("offense count: %v", err)
	}
	if count != 0 {
		t.Fatalf("count for untouched user = %d, want 0", count)
	}
}
