package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// VibePrefix + sessionID + ":" + userID holds the user's most recent
	// leading emoji.
	VibePrefix = "vibe:emoji:"

	// VibeTTL is how long two emoji have to coincide to count as a
	// shared vibe.
	VibeTTL = 5 * time.Second
)

// VibeTracker detects both participants opening a message with the same
// emoji within a short window.
type VibeTracker struct {
	client *redis.Client
}

func NewVibeTracker(client *redis.Client) *VibeTracker {
	return &VibeTracker{client: client}
}

func vibeKey(sessionID, userID string) string {
	return VibePrefix + sessionID + ":" + userID
}

// Record stores the sender's emoji and reports whether the partner's
// stored emoji matches. On a match both keys are cleared so one shared
// moment fires exactly once.
func (v *VibeTracker) Record(ctx context.Context, sessionID, userID, partnerID, emoji string) (bool, error) {
	partnerEmoji, err := v.client.Get(ctx, vibeKey(sessionID, partnerID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("chat: vibe get: %w", err)
	}

	if partnerEmoji == emoji {
		pipe := v.client.Pipeline()
		pipe.Del(ctx, vibeKey(sessionID, userID))
		pipe.Del(ctx, vibeKey(sessionID, partnerID))
		if _, err := pipe.Exec(ctx); err != nil {
			return false, fmt.Errorf("chat: vibe clear: %w", err)
		}
		return true, nil
	}

	if err := v.client.Set(ctx, vibeKey(sessionID, userID), emoji, VibeTTL).Err(); err != nil {
		return false, fmt.Errorf("chat: vibe set: %w", err)
	}
	return false, nil
}

// FirstEmoji returns the first emoji rune in text, or "" when the text
// contains none.
func FirstEmoji(text string) string {
	for _, r := range text {
		if isEmoji(r) {
			return string(r)
		}
	}
	return ""
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1F5FF: // symbols and pictographs
		return true
	case r >= 0x1F600 && r <= 0x1F64F: // emoticons
		return true
	case r >= 0x1F680 && r <= 0x1F6FF: // transport
		return true
	case r >= 0x1F900 && r <= 0x1F9FF: // supplemental
		return true
	case r >= 0x1FA70 && r <= 0x1FAFF: // extended-A
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	}
	return false
}
