package ghost

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bakaiti/server/internal/responder"
)

// shortReplyRunes is the cutoff under which a user turn counts as
// terse for the disengagement streak.
const shortReplyRunes = 6

// Conversation is the in-memory state of one ghost session. Lives only
// on the instance that owns the ghost; lost state just means the
// persona "forgets", which the prompt allows for anyway.
type Conversation struct {
	mu          sync.Mutex
	profile     *Profile
	history     []responder.Turn
	language    string
	shortStreak int
	imageAsks   int
}

// Profile returns the persona behind this conversation.
func (c *Conversation) Profile() *Profile {
	return c.profile
}

// AppendUser records a user turn, updating the terse-reply streak and
// the sticky language preference.
func (c *Conversation) AppendUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, responder.Turn{
		Role: "user",
		Text: text,
		Ts:   time.Now().UnixMilli(),
	})
	if utf8.RuneCountInString(strings.TrimSpace(text)) < shortReplyRunes {
		c.shortStreak++
	} else {
		c.shortStreak = 0
	}
	if lang := responder.DetectLanguageRequest(text); lang != "" {
		c.language = lang
	}
}

// AppendGhost records a persona turn.
func (c *Conversation) AppendGhost(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, responder.Turn{
		Role: "ghost",
		Text: text,
		Ts:   time.Now().UnixMilli(),
	})
}

// History returns a copy of the full transcript.
func (c *Conversation) History() []responder.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]responder.Turn, len(c.history))
	copy(out, c.history)
	return out
}

// Situation snapshots the conversation state for prompt building.
func (c *Conversation) Situation() responder.Situation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return responder.Situation{
		Language:         c.language,
		TurnCount:        len(c.history),
		ShortReplyStreak: c.shortStreak,
		Now:              time.Now(),
	}
}

// RecordImageAsk counts one photo request and returns the running total.
func (c *Conversation) RecordImageAsk() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.imageAsks++
	return c.imageAsks
}

// Transcripts holds the conversations of every live ghost session on
// this instance.
type Transcripts struct {
	mu    sync.RWMutex
	convs map[string]*Conversation // sessionID -> conversation
}

func NewTranscripts() *Transcripts {
	return &Transcripts{convs: make(map[string]*Conversation)}
}

// Create opens a conversation for a new ghost session.
func (t *Transcripts) Create(sessionID string, profile *Profile) *Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	conv := &Conversation{profile: profile}
	t.convs[sessionID] = conv
	return conv
}

// Get returns the conversation for a session, or nil when the session
// is not a ghost session owned by this instance.
func (t *Transcripts) Get(sessionID string) *Conversation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.convs[sessionID]
}

// Drop discards a conversation when its session ends.
func (t *Transcripts) Drop(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.convs, sessionID)
}
