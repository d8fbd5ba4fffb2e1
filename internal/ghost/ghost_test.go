package ghost

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bakaiti/server/internal/matching"
	"github.com/bakaiti/server/internal/presence"
	"github.com/bakaiti/server/internal/responder"
	"github.com/bakaiti/server/internal/session"
)

// ---- profile ----

func TestNewProfileComplete(t *testing.T) {
	p := NewProfile()

	if !IsGhostUser(p.UserID) {
		t.Fatalf("user ID %q not in ghost namespace", p.UserID)
	}
	if p.DisplayName == "" || p.Name != p.DisplayName {
		t.Fatalf("name mismatch: %q vs %q", p.DisplayName, p.Name)
	}
	if p.Age < 19 || p.Age > 26 {
		t.Fatalf("age %d out of range", p.Age)
	}
	if p.City == "" || p.Occupation == "" || p.Personality == "" {
		t.Fatal("incomplete persona")
	}
	if len(p.Interests) != 3 {
		t.Fatalf("interests = %v", p.Interests)
	}
	if !strings.HasPrefix(p.PhotoURL, avatarEndpoint) {
		t.Fatalf("photo url = %q", p.PhotoURL)
	}
	if strings.Contains(p.PhotoURL, " ") {
		t.Fatalf("unescaped photo url %q", p.PhotoURL)
	}
}

func TestProfileEncodeDecode(t *testing.T) {
	p := NewProfile()
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeProfile(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != p.UserID || got.Name != p.Name || got.City != p.City {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, p)
	}
}

func TestIsGhostUser(t *testing.T) {
	if !IsGhostUser("ghost_5f2d") {
		t.Fatal("ghost ID not recognized")
	}
	if IsGhostUser("alice") || IsGhostUser("ghost") || IsGhostUser("ghost_") {
		t.Fatal("real ID classified as ghost")
	}
}

// ---- transcripts ----

func TestConversationStreakAndLanguage(t *testing.T) {
	tr := NewTranscripts()
	conv := tr.Create("s1", NewProfile())

	conv.AppendUser("ok")
	conv.AppendUser("hm")
	conv.AppendUser("k")
	if sit := conv.Situation(); sit.ShortReplyStreak != 3 {
		t.Fatalf("streak = %d, want 3", sit.ShortReplyStreak)
	}

	conv.AppendUser("actually tell me about your city")
	if sit := conv.Situation(); sit.ShortReplyStreak != 0 {
		t.Fatalf("streak not reset: %d", sit.ShortReplyStreak)
	}

	conv.AppendUser("can you speak english please")
	if sit := conv.Situation(); sit.Language != responder.LangEnglish {
		t.Fatalf("language = %q", sit.Language)
	}
	// preference sticks
	conv.AppendUser("what do you do all day")
	if sit := conv.Situation(); sit.Language != responder.LangEnglish {
		t.Fatal("language preference lost")
	}
}

func TestTranscriptsDrop(t *testing.T) {
	tr := NewTranscripts()
	tr.Create("s1", NewProfile())
	tr.Drop("s1")
	if tr.Get("s1") != nil {
		t.Fatal("conversation survived drop")
	}
}

// ---- engine ----

type fakeNotifier struct {
	matched chan string // session IDs
	texts   chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		matched: make(chan string, 4),
		texts:   make(chan string, 16),
	}
}

func (f *fakeNotifier) GhostMatched(userID string, sess *session.Session, profile *Profile) {
	f.matched <- sess.ID
}
func (f *fakeNotifier) GhostTyping(userID, sessionID string, typing bool) {}
func (f *fakeNotifier) GhostText(userID, sessionID, text string)          { f.texts <- text }
func (f *fakeNotifier) GhostImage(userID, sessionID, imageURL, caption string) {
	f.texts <- imageURL
}

func newTestEngine(t *testing.T, notifier Notifier, wait time.Duration) (*Engine, *matching.Queue, *session.Manager) {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush db: %v", err)
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	pr := presence.NewRegistry(client)
	queue := matching.NewQueue(client, pr)
	sessions := session.NewManager(client)
	resp := responder.New(responder.NewRouter(time.Second))
	engine := NewEngine(queue, sessions, NewTranscripts(), resp, notifier, wait)
	t.Cleanup(engine.Close)

	if err := pr.Touch(ctx, "alice", "conn-1"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	return engine, queue, sessions
}

func TestConvertAfterWait(t *testing.T) {
	notifier := newFakeNotifier()
	engine, queue, sessions := newTestEngine(t, notifier, 100*time.Millisecond)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, "alice", "happy"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	engine.Schedule("alice", "happy")

	var sessionID string
	select {
	case sessionID = <-notifier.matched:
	case <-time.After(3 * time.Second):
		t.Fatal("conversion never fired")
	}

	sess, err := sessions.Get(ctx, sessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !sess.IsGhost {
		t.Fatal("session not flagged synthetic")
	}
	if !IsGhostUser(sess.PartnerOf("alice")) {
		t.Fatalf("partner %q is not synthetic", sess.PartnerOf("alice"))
	}
	if _, err := DecodeProfile(sess.GhostProfile); err != nil {
		t.Fatalf("stored profile unreadable: %v", err)
	}

	queued, err := queue.IsQueued(ctx, "alice")
	if err != nil {
		t.Fatalf("is queued: %v", err)
	}
	if queued {
		t.Fatal("user left in queue after conversion")
	}
}

func TestConvertSkippedWhenNotQueued(t *testing.T) {
	notifier := newFakeNotifier()
	engine, _, _ := newTestEngine(t, notifier, 50*time.Millisecond)

	// never enqueued, so the timer must no-op
	engine.Schedule("alice", "happy")

	select {
	case id := <-notifier.matched:
		t.Fatalf("converted without a queue entry: %s", id)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestCancelDisarmsConversion(t *testing.T) {
	notifier := newFakeNotifier()
	engine, queue, _ := newTestEngine(t, notifier, 100*time.Millisecond)
	ctx := context.Background()

	if err := queue.Enqueue(ctx, "alice", "happy"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	engine.Schedule("alice", "happy")
	engine.Cancel("alice")

	select {
	case id := <-notifier.matched:
		t.Fatalf("converted after cancel: %s", id)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestHandleUserMessageRepliesFromFallback(t *testing.T) {
	notifier := newFakeNotifier()
	engine, _, _ := newTestEngine(t, notifier, time.Hour)
	engine.sleep = func(time.Duration) {}

	engine.transcripts.Create("s1", NewProfile())

	// no backends configured, so the canned pool must answer
	engine.HandleUserMessage("s1", "alice", "tell me something about yourself")

	select {
	case text := <-notifier.texts:
		if text == "" {
			t.Fatal("empty reply")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reply")
	}
}

func TestGhostedTurnStillReplies(t *testing.T) {
	notifier := newFakeNotifier()
	engine, _, _ := newTestEngine(t, notifier, time.Hour)

	var slept []time.Duration
	var mu sync.Mutex
	engine.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	engine.ghostChance = func(responder.Situation) bool { return true }

	engine.transcripts.Create("s1", NewProfile())
	engine.HandleUserMessage("s1", "alice", "hello hello anyone home")

	select {
	case text := <-notifier.texts:
		if text == "" {
			t.Fatal("empty reply")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("ghosted turn never replied")
	}

	mu.Lock()
	defer mu.Unlock()
	var longest time.Duration
	for _, d := range slept {
		if d > longest {
			longest = d
		}
	}
	if longest < 10*time.Second {
		t.Fatalf("ghosted turn paused only %v before replying", longest)
	}
}
