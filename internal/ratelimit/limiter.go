// Package ratelimit throttles per-user actions with Redis fixed-window
// counters. Every limited action (chat message, match request, image
// send, connection attempt) has a Rule naming its key prefix, limit and
// window.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:msg:"
	Limit  int           // max count per window
	Window time.Duration // window length
}

// Standard rules.
var (
	// RuleMessage allows 10 messages per 10 seconds per user.
	RuleMessage = Rule{Key: "rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleMatch allows 10 match requests per minute per user.
	RuleMatch = Rule{Key: "rl:match:", Limit: 10, Window: 1 * time.Minute}

	// RuleImage allows 3 image sends per minute per user.
	RuleImage = Rule{Key: "rl:img:", Limit: 3, Window: 1 * time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}
)

// incrScript bumps the window counter and stamps the TTL on the first hit,
// in one round trip. Doing both server-side closes the gap where a crash
// between INCR and EXPIRE would leave a counter that never resets.
var incrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Limiter checks Rules against Redis. A Redis outage fails open: the
// caller gets allowed=true plus the error, and normal traffic keeps
// flowing while Redis is down.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow records one action for identifier under rule and reports whether
// it fits in the current window.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := incrScript.Run(ctx, l.client, []string{key}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		log.Printf("[ratelimit] counter bump failed key=%s: %v (failing open)", key, err)
		return true, err
	}

	return count <= int64(rule.Limit), nil
}

// Remaining reports how many actions identifier has left in the current
// window, without consuming one. A missing key means an untouched window,
// so the full limit comes back; so does any Redis error (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	switch {
	case err == redis.Nil:
		return rule.Limit, nil
	case err != nil:
		log.Printf("[ratelimit] counter read failed key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	if count >= rule.Limit {
		return 0, nil
	}
	return rule.Limit - count, nil
}
