// Package matching pairs waiting users out of Redis-backed FIFO queues.
//
// Every waiting user sits in the global queue; users who picked a mood
// additionally sit in that mood's queue. A match attempt scans the mood
// queue first and falls back to the global one, so same-mood pairs form
// whenever possible without starving anyone.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bakaiti/server/internal/presence"
)

const (
	// KeyGlobalQueue holds every waiting user regardless of mood.
	KeyGlobalQueue = "queue:random"

	// KeyMoodQueuePrefix + mood holds users waiting for that mood.
	KeyMoodQueuePrefix = "queue:mood:"

	// KeyUserMoodPrefix + userID records the mood a queued user picked,
	// so their mood-queue entry can be found again on dequeue.
	KeyUserMoodPrefix = "user:mood:"

	// MoodRandom means the user did not pick a mood and waits only in
	// the global queue.
	MoodRandom = "random"

	userMoodTTL = 5 * time.Minute
)

// ErrAlreadyQueued is returned by Enqueue when the user is already waiting.
var ErrAlreadyQueued = errors.New("matching: user already in queue")

// Queue manages the waiting pools. Concurrent match attempts are
// arbitrated by Redis itself: LPOP hands each queued user to exactly
// one caller.
type Queue struct {
	client   *redis.Client
	presence *presence.Registry
}

func NewQueue(client *redis.Client, pr *presence.Registry) *Queue {
	return &Queue{client: client, presence: pr}
}

func moodQueueKey(mood string) string {
	return KeyMoodQueuePrefix + mood
}

// Enqueue appends the user to the tail of the global queue, and to the
// tail of the mood queue when a mood was picked. Returns
// ErrAlreadyQueued if the user is already waiting.
func (q *Queue) Enqueue(ctx context.Context, userID, mood string) error {
	queued, err := q.IsQueued(ctx, userID)
	if err != nil {
		return err
	}
	if queued {
		return ErrAlreadyQueued
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, KeyUserMoodPrefix+userID, mood, userMoodTTL)
	if mood != MoodRandom {
		pipe.RPush(ctx, moodQueueKey(mood), userID)
	}
	pipe.RPush(ctx, KeyGlobalQueue, userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matching: enqueue %s: %w", userID, err)
	}
	return nil
}

// TryMatch looks for a waiting partner for userID. The mood queue is
// scanned first when a mood was picked, then the global queue. Returns
// the matched partner's ID and queued mood, or "" when nobody suitable
// is waiting.
//
// A matched partner is removed from every queue before this returns, so
// they cannot be handed to a second caller.
func (q *Queue) TryMatch(ctx context.Context, userID, mood string) (string, string, error) {
	if mood != MoodRandom {
		partner, err := q.scan(ctx, moodQueueKey(mood), userID)
		if err != nil {
			return "", "", err
		}
		if partner != "" {
			return partner, mood, q.claim(ctx, partner)
		}
	}

	partner, err := q.scan(ctx, KeyGlobalQueue, userID)
	if err != nil {
		return "", "", err
	}
	if partner == "" {
		return "", "", nil
	}

	partnerMood, err := q.client.Get(ctx, KeyUserMoodPrefix+partner).Result()
	if err == redis.Nil {
		partnerMood = MoodRandom
	} else if err != nil {
		return "", "", fmt.Errorf("matching: partner mood: %w", err)
	}
	return partner, partnerMood, q.claim(ctx, partner)
}

// claim removes a matched partner from every queue.
func (q *Queue) claim(ctx context.Context, partner string) error {
	return q.Remove(ctx, partner)
}

// scan pops entries off the head of key until it finds an online user
// other than self. Popped entries belonging to self are pushed back at
// the end in their original order; offline entries are dropped for good.
func (q *Queue) scan(ctx context.Context, key, self string) (string, error) {
	var skipped []string
	var matched string

	for {
		candidate, err := q.client.LPop(ctx, key).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			return "", fmt.Errorf("matching: scan %s: %w", key, err)
		}
		if candidate == self {
			skipped = append(skipped, candidate)
			continue
		}
		online, err := q.presence.IsOnline(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("matching: scan %s: %w", key, err)
		}
		if !online {
			// Stale entry from a dead connection, drop it.
			continue
		}
		matched = candidate
		break
	}

	// Restore skipped entries to the head in their original order.
	for i := len(skipped) - 1; i >= 0; i-- {
		if err := q.client.LPush(ctx, key, skipped[i]).Err(); err != nil {
			return "", fmt.Errorf("matching: restore %s: %w", key, err)
		}
	}
	return matched, nil
}

// Remove deletes every queue entry for the user. Safe to call for users
// who are not queued.
func (q *Queue) Remove(ctx context.Context, userID string) error {
	mood, err := q.client.Get(ctx, KeyUserMoodPrefix+userID).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("matching: remove %s: %w", userID, err)
	}

	pipe := q.client.Pipeline()
	pipe.LRem(ctx, KeyGlobalQueue, 0, userID)
	if mood != "" && mood != MoodRandom {
		pipe.LRem(ctx, moodQueueKey(mood), 0, userID)
	}
	pipe.Del(ctx, KeyUserMoodPrefix+userID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("matching: remove %s: %w", userID, err)
	}
	return nil
}

// IsQueued reports whether the user currently has a global-queue entry.
func (q *Queue) IsQueued(ctx context.Context, userID string) (bool, error) {
	_, err := q.client.LPos(ctx, KeyGlobalQueue, userID, redis.LPosArgs{}).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("matching: lpos %s: %w", userID, err)
	}
	return true, nil
}

// Size returns the number of users waiting in the global queue.
func (q *Queue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, KeyGlobalQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("matching: llen: %w", err)
	}
	return n, nil
}
