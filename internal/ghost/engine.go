package ghost

import (
	"context"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bakaiti/server/internal/matching"
	"github.com/bakaiti/server/internal/responder"
	"github.com/bakaiti/server/internal/session"
)

// DefaultWaitTimeout is how long a user waits in the queue before being
// handed a synthetic partner.
const DefaultWaitTimeout = 30 * time.Second

// Notifier delivers ghost-session events to the user's connection. The
// websocket layer implements it; the engine stays transport-agnostic.
type Notifier interface {
	GhostMatched(userID string, sess *session.Session, profile *Profile)
	GhostTyping(userID, sessionID string, typing bool)
	GhostText(userID, sessionID, text string)
	GhostImage(userID, sessionID, imageURL, caption string)
}

// Engine owns the queue-timeout timers and drives ghost conversations.
type Engine struct {
	queue       *matching.Queue
	sessions    *session.Manager
	transcripts *Transcripts
	resp        *responder.Responder
	notifier    Notifier
	wait        time.Duration

	// replaceable in tests so pacing and the ghosting dice are
	// deterministic
	sleep       func(time.Duration)
	ghostChance func(responder.Situation) bool

	mu     sync.Mutex
	timers map[string]*time.Timer // userID -> pending conversion
	closed bool
}

func NewEngine(queue *matching.Queue, sessions *session.Manager, transcripts *Transcripts, resp *responder.Responder, notifier Notifier, wait time.Duration) *Engine {
	if wait <= 0 {
		wait = DefaultWaitTimeout
	}
	return &Engine{
		queue:       queue,
		sessions:    sessions,
		transcripts: transcripts,
		resp:        resp,
		notifier:    notifier,
		wait:        wait,
		sleep:       time.Sleep,
		ghostChance: responder.ShouldGhost,
		timers:      make(map[string]*time.Timer),
	}
}

// Schedule arms the conversion timer for a user who just entered the
// queue. Re-scheduling resets the clock.
func (e *Engine) Schedule(userID, mood string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if t, ok := e.timers[userID]; ok {
		t.Stop()
	}
	e.timers[userID] = time.AfterFunc(e.wait, func() {
		e.convert(userID, mood)
	})
}

// Cancel disarms a pending conversion, called when the user matched,
// stopped searching, or disconnected.
func (e *Engine) Cancel(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[userID]; ok {
		t.Stop()
		delete(e.timers, userID)
	}
}

// Close disarms every timer. In-flight conversations finish on their own.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}

// convert turns a still-waiting user into a ghost session. The queue
// check makes firing after a real match a harmless no-op.
func (e *Engine) convert(userID, mood string) {
	e.mu.Lock()
	delete(e.timers, userID)
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queued, err := e.queue.IsQueued(ctx, userID)
	if err != nil {
		log.Printf("[ghost] queue check for %s: %v", userID, err)
		return
	}
	if !queued {
		return
	}
	if err := e.queue.Remove(ctx, userID); err != nil {
		log.Printf("[ghost] dequeue %s: %v", userID, err)
		return
	}

	profile := NewProfile()
	encoded, err := profile.Encode()
	if err != nil {
		log.Printf("[ghost] encode profile: %v", err)
		return
	}

	sess, err := e.sessions.Create(ctx, session.CreateParams{
		ParticipantA: userID,
		ParticipantB: profile.UserID,
		MoodA:        mood,
		MoodB:        mood,
		IsGhost:      true,
		GhostProfile: encoded,
	})
	if err != nil {
		log.Printf("[ghost] create session for %s: %v", userID, err)
		return
	}

	e.transcripts.Create(sess.ID, profile)
	e.notifier.GhostMatched(userID, sess, profile)
	log.Printf("[ghost] converted %s after %v wait, session %s", userID, e.wait, sess.ID)

	go e.greet(userID, sess.ID, profile)
}

// greet sends the persona's opener after a human-feeling pause.
func (e *Engine) greet(userID, sessionID string, profile *Profile) {
	e.sleep(2*time.Second + time.Duration(rand.Intn(2000))*time.Millisecond)

	conv := e.transcripts.Get(sessionID)
	if conv == nil {
		return // session already ended
	}

	opener := profile.Opener()
	e.notifier.GhostTyping(userID, sessionID, true)
	e.sleep(responder.TypingDelay(opener))
	e.notifier.GhostTyping(userID, sessionID, false)

	conv.AppendGhost(opener)
	e.notifier.GhostText(userID, sessionID, opener)
}

// HandleUserMessage runs one turn of a ghost conversation. Non-blocking:
// the reply is generated and delivered on its own goroutine. A ghosted
// turn still answers, just after a long silence.
func (e *Engine) HandleUserMessage(sessionID, userID, text string) {
	conv := e.transcripts.Get(sessionID)
	if conv == nil {
		return
	}
	conv.AppendUser(text)

	if responder.IsImageRequest(text) {
		go e.replyToImageRequest(sessionID, userID, conv)
		return
	}

	sit := conv.Situation()
	var pause time.Duration
	if e.ghostChance(sit) {
		pause = responder.GhostDelay()
	}
	go e.reply(sessionID, userID, conv, sit, pause)
}

func (e *Engine) reply(sessionID, userID string, conv *Conversation, sit responder.Situation, pause time.Duration) {
	if pause > 0 {
		e.sleep(pause)
		if e.transcripts.Get(sessionID) == nil {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	out, err := e.resp.Generate(ctx, conv.Profile().Persona, sit, conv.History())
	if err != nil {
		return
	}

	for _, text := range out.Texts {
		if e.transcripts.Get(sessionID) == nil {
			return // session ended mid-reply
		}
		e.notifier.GhostTyping(userID, sessionID, true)
		e.sleep(responder.TypingDelay(text))
		e.notifier.GhostTyping(userID, sessionID, false)

		conv.AppendGhost(text)
		e.notifier.GhostText(userID, sessionID, text)
	}
}

func (e *Engine) replyToImageRequest(sessionID, userID string, conv *Conversation) {
	asks := conv.RecordImageAsk()

	if responder.WantsToDecline(asks) {
		line := responder.DeclineLine()
		e.notifier.GhostTyping(userID, sessionID, true)
		e.sleep(responder.TypingDelay(line))
		e.notifier.GhostTyping(userID, sessionID, false)
		conv.AppendGhost(line)
		e.notifier.GhostText(userID, sessionID, line)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	prompt := e.resp.ImagePrompt(ctx, conv.Profile().Persona)
	imageURL := responder.ImageURL(prompt)

	// longer pause, she's "taking" the photo
	e.sleep(3*time.Second + time.Duration(rand.Intn(3000))*time.Millisecond)

	if err := responder.FetchImage(ctx, imageURL); err != nil {
		log.Printf("[ghost] image fetch for session=%s: %v", sessionID, err)
		if e.transcripts.Get(sessionID) == nil {
			return
		}
		line := responder.ExcuseLine()
		conv.AppendGhost(line)
		e.notifier.GhostText(userID, sessionID, line)
		return
	}

	if e.transcripts.Get(sessionID) == nil {
		return
	}
	caption := responder.CaptionLine()
	conv.AppendGhost(caption)
	e.notifier.GhostImage(userID, sessionID, imageURL, caption)
}

// EndSession discards the conversation state for an ended session.
func (e *Engine) EndSession(sessionID string) {
	e.transcripts.Drop(sessionID)
}

// IsGhostUser reports whether an ID belongs to a synthetic partner.
// Real IDs come from the auth service and never carry this prefix.
func IsGhostUser(userID string) bool {
	return strings.HasPrefix(userID, "ghost_") && len(userID) > len("ghost_")
}
