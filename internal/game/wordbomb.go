// Package game runs the word-bomb mini game inside a session.
//
// One round at a time per session: a letter is drawn, both participants
// race to submit a word starting with it. Round state lives in Redis so
// participants connected to different server instances see one round,
// and the winner is claimed with a Lua script so exactly one answer can
// win.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
)

const (
	// RoundPrefix + sessionID holds the active round hash.
	RoundPrefix = "wordbomb:"

	// RoundTTL is the lifetime of the round key. Longer than the answer
	// window so late answers can still be told apart from no round.
	RoundTTL = 20 * time.Second

	// AnswerWindow is how long answers are accepted after the round starts.
	AnswerWindow = 15 * time.Second

	// MinWordLen is the minimum accepted word length in runes.
	MinWordLen = 3
)

// Letters a round can draw. Rare starters are left out; the weights
// below favor letters with plenty of short common words.
const Letters = "ABCDEFGHILMNOPRSTW"

var letterWeights = map[byte]int{
	'A': 3, 'B': 3, 'C': 3, 'D': 2, 'E': 1, 'F': 2, 'G': 2, 'H': 2,
	'I': 1, 'L': 2, 'M': 3, 'N': 1, 'O': 1, 'P': 3, 'R': 2, 'S': 4,
	'T': 3, 'W': 2,
}

// Outcome of an answer attempt.
type Outcome int

const (
	OutcomeWon     Outcome = iota // first valid answer
	OutcomeWrong                  // word does not qualify
	OutcomeLate                   // answer window already closed
	OutcomeTaken                  // someone else already won
	OutcomeNoRound                // no round in flight
)

// ErrRoundActive is returned by Start when the session already has a
// round in flight.
var ErrRoundActive = errors.New("game: round already active")

// startLua opens a round only when none exists, writing the letter, the
// start time, and the TTL in one step. Split writes could crash between
// them and leave a round key that never expires.
var startLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "letter", ARGV[1], "started_at", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return 1
`)

// claimLua atomically decides the outcome of an answer. A winner field
// is written at most once per round.
var claimLua = redis.NewScript(`
local letter = redis.call("HGET", KEYS[1], "letter")
if not letter then
    return "none"
end
local started = tonumber(redis.call("HGET", KEYS[1], "started_at"))
if tonumber(ARGV[2]) - started > tonumber(ARGV[3]) then
    return "late"
end
if redis.call("HGET", KEYS[1], "winner") then
    return "taken"
end
redis.call("HSET", KEYS[1], "winner", ARGV[1])
return "won"
`)

// WordBomb manages rounds in Redis.
type WordBomb struct {
	client *redis.Client
}

func NewWordBomb(client *redis.Client) *WordBomb {
	return &WordBomb{client: client}
}

func roundKey(sessionID string) string {
	return RoundPrefix + sessionID
}

// Start opens a round for the session and returns the drawn letter.
// Returns ErrRoundActive while a previous round's key still exists.
func (w *WordBomb) Start(ctx context.Context, sessionID string) (string, error) {
	letter := drawLetter()

	opened, err := startLua.Run(ctx, w.client, []string{roundKey(sessionID)},
		letter, time.Now().UnixMilli(), RoundTTL.Milliseconds()).Int64()
	if err != nil {
		return "", fmt.Errorf("game: start round: %w", err)
	}
	if opened == 0 {
		return "", ErrRoundActive
	}
	return letter, nil
}

// Answer judges one submission. Word shape is checked first; only
// qualifying words compete for the winner claim.
func (w *WordBomb) Answer(ctx context.Context, sessionID, userID, word string) (Outcome, error) {
	key := roundKey(sessionID)

	letter, err := w.client.HGet(ctx, key, "letter").Result()
	if errors.Is(err, redis.Nil) {
		return OutcomeNoRound, nil
	}
	if err != nil {
		return OutcomeNoRound, fmt.Errorf("game: read round: %w", err)
	}

	if !qualifies(word, letter) {
		return OutcomeWrong, nil
	}

	res, err := claimLua.Run(ctx, w.client, []string{key},
		userID, time.Now().UnixMilli(), AnswerWindow.Milliseconds()).Text()
	if err != nil {
		return OutcomeNoRound, fmt.Errorf("game: claim: %w", err)
	}
	switch res {
	case "won":
		return OutcomeWon, nil
	case "late":
		return OutcomeLate, nil
	case "taken":
		return OutcomeTaken, nil
	default:
		return OutcomeNoRound, nil
	}
}

// Letter returns the active round's letter, or "" when no round is in
// flight.
func (w *WordBomb) Letter(ctx context.Context, sessionID string) (string, error) {
	letter, err := w.client.HGet(ctx, roundKey(sessionID), "letter").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("game: read round: %w", err)
	}
	return letter, nil
}

// End discards the session's round, if any.
func (w *WordBomb) End(ctx context.Context, sessionID string) error {
	return w.client.Del(ctx, roundKey(sessionID)).Err()
}

func qualifies(word, letter string) bool {
	word = strings.TrimSpace(word)
	if utf8.RuneCountInString(word) < MinWordLen {
		return false
	}
	return strings.HasPrefix(strings.ToUpper(word), letter)
}

func drawLetter() string {
	total := 0
	for i := 0; i < len(Letters); i++ {
		total += letterWeights[Letters[i]]
	}
	n := rand.Intn(total)
	for i := 0; i < len(Letters); i++ {
		n -= letterWeights[Letters[i]]
		if n < 0 {
			return string(Letters[i])
		}
	}
	return string(Letters[0])
}
