package responder

import (
	"context"
	"log"
	"math/rand"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bakaiti/server/internal/metrics"
)

// Typing simulation constants. The delay scales with reply length so
// long messages take believably longer to type.
const (
	typingBaseDelay = 1500 * time.Millisecond
	typingPerChar   = 40 * time.Millisecond
	typingMaxDelay  = 6 * time.Second
)

// refusalPattern spots a backend breaking character. Any reply matching
// it is discarded in favor of the canned pool.
var refusalPattern = regexp.MustCompile(`(?i)as an ai|language model|cannot assist|apologies|sorry`)

// fallbackPool keeps the conversation alive when every backend is down
// or refused. Deliberately vague lines that fit almost any context.
var fallbackPool = []string{
	"haha bas timepass, tum batao",
	"arre network thoda slow chal raha hai yaha",
	"hmm acha.. aur kya chal raha hai",
	"lol sahi hai",
	"kya karu, thodi bore ho rahi hu aaj",
	"acha suno, tumhe kya pasand hai?",
	"hehe tum thode funny ho",
	"arre yaar aisa kuch nahi",
	"hmm sochna padega iske baare me",
	"chalo koi aur baat karte hai na",
}

// Reply is a generated response, possibly split into multiple messages
// sent back to back.
type Reply struct {
	Texts   []string
	Emotion string // classified emotion of the user message
}

// Responder turns an incoming user message into a persona reply.
type Responder struct {
	router *Router
}

func New(router *Router) *Responder {
	return &Responder{router: router}
}

// Generate produces a reply to the last user turn in history. It never
// fails the conversation: backend errors and refusals fall back to the
// canned pool. The only returned error is context cancellation.
func (r *Responder) Generate(ctx context.Context, persona Persona, sit Situation, history []Turn) (Reply, error) {
	if len(history) == 0 {
		return Reply{Texts: []string{pickFallback()}, Emotion: EmotionNeutral}, nil
	}
	last := history[len(history)-1]
	sit.Emotion = DetectEmotion(last.Text)
	if sit.Now.IsZero() {
		sit.Now = time.Now()
	}

	req := CompletionRequest{
		System:      buildSystemPrompt(persona, sit),
		History:     history,
		MaxTokens:   120,
		Temperature: 0.9,
	}

	started := time.Now()
	raw, err := r.router.Complete(ctx, TierFor(sit.Emotion, history), req)
	metrics.ResponderLatency.Observe(time.Since(started).Seconds())
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	if err != nil {
		log.Printf("[responder] all backends failed, using fallback: %v", err)
		metrics.ResponderFallbacks.WithLabelValues("backend").Inc()
		return Reply{Texts: []string{pickFallback()}, Emotion: sit.Emotion}, nil
	}
	if refusalPattern.MatchString(raw) {
		log.Printf("[responder] refusal detected, using fallback")
		metrics.ResponderFallbacks.WithLabelValues("refusal").Inc()
		return Reply{Texts: []string{pickFallback()}, Emotion: sit.Emotion}, nil
	}

	texts := splitDoubleText(postProcess(raw))
	if len(texts) == 0 {
		texts = []string{pickFallback()}
	}
	return Reply{Texts: texts, Emotion: sit.Emotion}, nil
}

// TypingDelay returns how long the persona "types" before text arrives.
func TypingDelay(text string) time.Duration {
	d := typingBaseDelay + time.Duration(utf8.RuneCountInString(text))*typingPerChar
	if d > typingMaxDelay {
		d = typingMaxDelay
	}
	return d
}

// Ghosting delay bounds. Long enough that the pause registers, short
// enough that the reply still lands well inside the session's lifetime.
const (
	ghostDelayMin    = 20 * time.Second
	ghostDelaySpread = 70 * time.Second
)

// ShouldGhost decides whether the persona goes quiet for a while before
// replying this turn. Rare, slightly more likely when the user has gone
// terse, so the persona feels like it has a life outside the chat.
func ShouldGhost(sit Situation) bool {
	chance := 0.03
	if sit.ShortReplyStreak >= 3 {
		chance = 0.08
	}
	return rand.Float64() < chance
}

// GhostDelay is how long the persona stays silent on a ghosted turn
// before typing starts.
func GhostDelay() time.Duration {
	return ghostDelayMin + time.Duration(rand.Int63n(int64(ghostDelaySpread)))
}

func pickFallback() string {
	return fallbackPool[rand.Intn(len(fallbackPool))]
}

// postProcess makes model output read like phone typing: no wrapping
// quotes, repeated characters capped, formal capitalization and the
// trailing period usually dropped.
func postProcess(text string) string {
	text = strings.TrimSpace(text)
	text = strings.Trim(text, `"'`)
	text = collapseRuns(text)

	if rand.Float64() < 0.7 {
		text = casualCase(text)
	}
	text = strings.TrimSuffix(text, ".")
	return strings.TrimSpace(text)
}

// collapseRuns caps any run of 3+ identical characters at 2, so
// "hahahaha" and "sooooo" come out as "haha"-adjacent rather than
// model-generated walls.
func collapseRuns(text string) string {
	var b strings.Builder
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= 3 {
				continue
			}
		} else {
			prev = r
			run = 1
		}
		b.WriteRune(r)
	}
	return b.String()
}

// casualCase lowercases a leading capital unless the text starts with
// "I" as a word.
func casualCase(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError || !unicode.IsUpper(r) {
		return text
	}
	if r == 'I' && (len(text) == size || text[size] == ' ' || text[size] == '\'') {
		return text
	}
	return string(unicode.ToLower(r)) + text[size:]
}

// splitDoubleText breaks a reply on paragraph breaks into separate
// messages, capped at two. People double-text; essays they do not.
func splitDoubleText(text string) []string {
	parts := strings.Split(text, "\n\n")
	if len(parts) == 1 {
		parts = strings.Split(text, "\n")
	}

	out := make([]string, 0, 2)
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == 2 {
			break
		}
	}
	return out
}
