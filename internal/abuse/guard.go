// Package abuse throttles users who churn through partners by skipping.
//
// Skips are counted in a rolling window. Crossing the threshold places
// a temporary matchmaking penalty on the user; while it lasts, match
// requests are refused with the remaining wait time.
package abuse

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SkipCountPrefix + userID counts recent skips. Expires with the window.
	SkipCountPrefix = "skip:count:"

	// PenaltyPrefix + userID stores the penalty deadline as unix millis.
	PenaltyPrefix = "penalty:"
)

// Config tunes the skip window and penalty.
type Config struct {
	SkipWindow    time.Duration // counting window for skips
	SkipThreshold int64         // skips within the window that trigger a penalty
	PenaltyTTL    time.Duration // how long the penalty lasts
}

func DefaultConfig() Config {
	return Config{
		SkipWindow:    60 * time.Second,
		SkipThreshold: 3,
		PenaltyTTL:    5 * time.Minute,
	}
}

// Guard tracks skips and penalties in Redis.
type Guard struct {
	client *redis.Client
	cfg    Config
}

func NewGuard(client *redis.Client, cfg Config) *Guard {
	return &Guard{client: client, cfg: cfg}
}

// RecordSkip counts one skip for the user. When the count within the
// window reaches the threshold a penalty is placed and its deadline
// returned. An existing penalty is never extended; repeat skips while
// penalized return the original deadline.
func (g *Guard) RecordSkip(ctx context.Context, userID string) (until time.Time, err error) {
	if until, err = g.Deadline(ctx, userID); err != nil {
		return time.Time{}, err
	} else if !until.IsZero() {
		return until, nil
	}

	countKey := SkipCountPrefix + userID
	count, err := g.client.Incr(ctx, countKey).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("abuse: incr skip count: %w", err)
	}
	if count == 1 {
		if err := g.client.Expire(ctx, countKey, g.cfg.SkipWindow).Err(); err != nil {
			return time.Time{}, fmt.Errorf("abuse: expire skip count: %w", err)
		}
	}
	if count < g.cfg.SkipThreshold {
		return time.Time{}, nil
	}

	until = time.Now().Add(g.cfg.PenaltyTTL)
	pipe := g.client.Pipeline()
	pipe.Set(ctx, PenaltyPrefix+userID, until.UnixMilli(), g.cfg.PenaltyTTL)
	pipe.Del(ctx, countKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return time.Time{}, fmt.Errorf("abuse: set penalty: %w", err)
	}
	return until, nil
}

// Deadline returns the user's penalty deadline, or the zero time when
// no penalty is active.
func (g *Guard) Deadline(ctx context.Context, userID string) (time.Time, error) {
	val, err := g.client.Get(ctx, PenaltyPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("abuse: get penalty: %w", err)
	}

	millis, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("abuse: bad penalty value %q: %w", val, err)
	}
	until := time.UnixMilli(millis)
	if !until.After(time.Now()) {
		return time.Time{}, nil
	}
	return until, nil
}

// Remaining returns how long the user's penalty still lasts, or 0.
func (g *Guard) Remaining(ctx context.Context, userID string) (time.Duration, error) {
	until, err := g.Deadline(ctx, userID)
	if err != nil {
		return 0, err
	}
	if until.IsZero() {
		return 0, nil
	}
	return time.Until(until), nil
}
