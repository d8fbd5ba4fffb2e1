// Package ban provides report-driven suspensions backed by Redis.
// Suspension records are simple key-value pairs with TTL-based expiry:
//
//	Key:   ban:<user_id>
//	Value: <reason>
//	TTL:   suspension duration
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for suspension records.
	BanPrefix = "ban:"

	// ReportsPrefix is the Redis key prefix for report counters.
	ReportsPrefix = "reports:"

	// Escalating suspension durations.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense

	// ReportsTTL is how long the report counter lives in Redis. After 24h
	// without new reports the counter resets to zero.
	ReportsTTL = 24 * time.Hour

	// AutoBanThreshold is the number of reports within ReportsTTL that
	// triggers an automatic suspension.
	AutoBanThreshold = 3
)

// Store manages suspension records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a suspension store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned checks whether a user is currently suspended.
// Returns (banned, remainingSeconds, reason, error). Redis errors are
// returned so callers can decide how to handle them; the recommended
// policy is fail-open.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, int, string, error) {
	key := BanPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The record exists but the TTL read failed. Report suspended
		// with 0 remaining rather than swallowing the suspension.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Ban suspends a user for the given duration. The record expires on its own.
func (s *Store) Ban(ctx context.Context, userID string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BanPrefix+userID, reason, duration).Err()
}

// Unban lifts a suspension immediately.
func (s *Store) Unban(ctx context.Context, userID string) error {
	return s.client.Del(ctx, BanPrefix+userID).Err()
}

// escalationDuration returns the suspension length for an offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

// OffenseCount returns the current report counter for a user. Returns 0
// when no reports are recorded or the counter expired.
func (s *Store) OffenseCount(ctx context.Context, userID string) (int, error) {
	val, err := s.client.Get(ctx, ReportsPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// ReportAndCheck increments the report counter for a user and applies an
// automatic suspension once the threshold is reached:
//
//	3 reports -> 15 minutes
//	4 reports -> 1 hour
//	5+        -> 24 hours
//
// The counter's TTL is set on first increment so the 24h window does not
// slide. Returns (banned, duration, error).
func (s *Store) ReportAndCheck(ctx context.Context, userID string) (bool, time.Duration, error) {
	key := ReportsPrefix + userID

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ban: report incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ReportsTTL).Err(); err != nil {
			return false, 0, fmt.Errorf("ban: report expire: %w", err)
		}
	}

	if count >= AutoBanThreshold {
		// Offenses past the threshold escalate the duration.
		duration := escalationDuration(int(count) - AutoBanThreshold + 1)
		if err := s.Ban(ctx, userID, duration, "multiple_reports"); err != nil {
			return false, 0, fmt.Errorf("ban: report ban: %w", err)
		}
		return true, duration, nil
	}
	return false, 0, nil
}
