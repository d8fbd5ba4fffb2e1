package responder

import (
	"context"
	"fmt"
	"time"
)

// Backend tiers. The permissive tier carries flirtier conversations;
// the safe tier handles everything else.
const (
	TierSafe       = "safe"
	TierPermissive = "permissive"
)

// historyWindow is how many recent turns a backend sees. Older context
// is dropped so long chats stay cheap and the persona stays consistent
// with what was just said.
const historyWindow = 6

// Each backend gets a couple of tries before the chain moves on, so a
// transient upstream blip does not cost a healthy backend its turn.
const (
	backendAttempts = 2
	retryBackoff    = 300 * time.Millisecond
)

// Router fans a completion out across tiered backends, failing over
// within the tier first and across tiers second.
type Router struct {
	tiers      map[string][]Backend
	perAttempt time.Duration
}

// NewRouter builds a router. perAttempt bounds each backend call.
func NewRouter(perAttempt time.Duration) *Router {
	return &Router{
		tiers:      make(map[string][]Backend),
		perAttempt: perAttempt,
	}
}

// Add appends a backend to a tier's failover chain.
func (r *Router) Add(tier string, b Backend) {
	r.tiers[tier] = append(r.tiers[tier], b)
}

// TierFor picks the backend tier for a turn. The latest message's
// emotion decides first, but a flirty turn anywhere in the recency
// window keeps the conversation on the permissive tier: a flirty chat
// does not switch rails because one line came out neutral.
func TierFor(emotion string, history []Turn) string {
	if emotion == EmotionFlirty {
		return TierPermissive
	}
	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	for _, t := range recent {
		if t.Role == "user" && DetectEmotion(t.Text) == EmotionFlirty {
			return TierPermissive
		}
	}
	return TierSafe
}

// Complete tries every backend in the requested tier, then the other
// tier's backends. Each backend is retried with a short backoff before
// the chain falls through to the next one. History is trimmed to the
// recency window before any call. Returns the first success or the
// last error.
func (r *Router) Complete(ctx context.Context, tier string, req CompletionRequest) (string, error) {
	if len(req.History) > historyWindow {
		req.History = req.History[len(req.History)-historyWindow:]
	}

	var lastErr error
	for _, b := range r.chain(tier) {
		text, err := completeWithRetry(ctx, b, req, backendAttempts, retryBackoff, r.perAttempt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("responder: no backends configured")
	}
	return "", lastErr
}

// chain returns the requested tier's backends followed by every other
// tier's, preserving in-tier order.
func (r *Router) chain(tier string) []Backend {
	out := append([]Backend{}, r.tiers[tier]...)
	for name, backends := range r.tiers {
		if name == tier {
			continue
		}
		out = append(out, backends...)
	}
	return out
}
