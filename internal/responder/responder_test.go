package responder

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeBackend returns a fixed reply or error and records calls.
type fakeBackend struct {
	name  string
	reply string
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func testRouter(backends ...Backend) *Router {
	r := NewRouter(2 * time.Second)
	for _, b := range backends {
		r.Add(TierSafe, b)
	}
	return r
}

func testPersona() Persona {
	return Persona{
		Name:        "Priya",
		Age:         22,
		City:        "Mumbai",
		Occupation:  "design student",
		Personality: "playful and teasing",
		Interests:   []string{"music", "chai"},
	}
}

// ---- emotion classification ----

func TestDetectEmotion(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"hahaha that was great", EmotionHappy},
		{"i feel so lonely today", EmotionSad},
		{"you sound really cute", EmotionFlirty},
		{"wtf is wrong with you", EmotionAngry},
		{"this is so boring yaar", EmotionBored},
		{"why do you say that?", EmotionCurious},
		{"went to the market today", EmotionNeutral},
		{"ok", EmotionBored},  // terse with no trigger reads as disengaged
		{"hmm", EmotionBored}, // same
		{"lol", EmotionHappy}, // short trigger words still count
		{"why", EmotionCurious},
	}
	for _, c := range cases {
		if got := DetectEmotion(c.text); got != c.want {
			t.Errorf("DetectEmotion(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

func TestEmotionRuleOrder(t *testing.T) {
	// happy markers outrank the trailing question mark
	if got := DetectEmotion("haha really why?"); got != EmotionHappy {
		t.Fatalf("got %q, want happy", got)
	}
}

// ---- language requests ----

func TestDetectLanguageRequest(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"can you speak english please", LangEnglish},
		{"hindi me baat karo na", LangHindi},
		{"talk in english", LangEnglish},
		{"what's your name", ""},
	}
	for _, c := range cases {
		if got := DetectLanguageRequest(c.text); got != c.want {
			t.Errorf("DetectLanguageRequest(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

// ---- generation and failover ----

func TestGenerateUsesBackendReply(t *testing.T) {
	b := &fakeBackend{name: "primary", reply: "arre hi! kaise ho"}
	r := New(testRouter(b))

	reply, err := r.Generate(context.Background(), testPersona(), Situation{}, []Turn{
		{Role: "user", Text: "heyy"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(reply.Texts) == 0 {
		t.Fatal("empty reply")
	}
	if !strings.Contains(reply.Texts[0], "kaise ho") {
		t.Fatalf("reply = %q", reply.Texts[0])
	}
}

func TestGenerateFailsOverToSecondBackend(t *testing.T) {
	dead := &fakeBackend{name: "dead", err: errors.New("connection refused")}
	alive := &fakeBackend{name: "alive", reply: "haan bolo"}
	r := New(testRouter(dead, alive))

	reply, err := r.Generate(context.Background(), testPersona(), Situation{}, []Turn{
		{Role: "user", Text: "are you there?"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if dead.calls != backendAttempts || alive.calls != 1 {
		t.Fatalf("calls = %d, %d", dead.calls, alive.calls)
	}
	if reply.Texts[0] != "haan bolo" {
		t.Fatalf("reply = %q", reply.Texts[0])
	}
}

// flakyBackend fails a fixed number of times, then succeeds.
type flakyBackend struct {
	failures int
	reply    string
	calls    int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("upstream hiccup")
	}
	return f.reply, nil
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	b := &flakyBackend{failures: 1, reply: "wapas aa gayi"}
	r := NewRouter(time.Second)
	r.Add(TierSafe, b)

	text, err := r.Complete(context.Background(), TierSafe, CompletionRequest{
		History: []Turn{{Role: "user", Text: "hello?"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if b.calls != 2 {
		t.Fatalf("backend called %d times, want 2", b.calls)
	}
	if text != "wapas aa gayi" {
		t.Fatalf("text = %q", text)
	}
}

func TestGenerateRecoversFromSingleBlip(t *testing.T) {
	b := &flakyBackend{failures: 1, reply: "wapas aa gayi"}
	router := NewRouter(time.Second)
	router.Add(TierSafe, b)
	r := New(router)

	reply, err := r.Generate(context.Background(), testPersona(), Situation{}, []Turn{
		{Role: "user", Text: "network theek hai?"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply.Texts[0] != "wapas aa gayi" {
		t.Fatalf("reply = %q, want the retried backend reply", reply.Texts[0])
	}
}

func TestGenerateSurvivesTotalBackendFailure(t *testing.T) {
	dead1 := &fakeBackend{name: "a", err: errors.New("down")}
	dead2 := &fakeBackend{name: "b", err: errors.New("down")}
	r := New(testRouter(dead1, dead2))

	reply, err := r.Generate(context.Background(), testPersona(), Situation{}, []Turn{
		{Role: "user", Text: "hello?"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(reply.Texts) != 1 || reply.Texts[0] == "" {
		t.Fatalf("no fallback reply: %v", reply.Texts)
	}
}

func TestGenerateRejectsRefusals(t *testing.T) {
	b := &fakeBackend{name: "primary", reply: "As an AI language model, I cannot assist with that."}
	r := New(testRouter(b))

	reply, err := r.Generate(context.Background(), testPersona(), Situation{}, []Turn{
		{Role: "user", Text: "who are you really"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.Contains(strings.ToLower(reply.Texts[0]), "language model") {
		t.Fatalf("refusal leaked: %q", reply.Texts[0])
	}
}

func TestRouterTrimsHistory(t *testing.T) {
	var seen int
	b := &recordingBackend{reply: "ok"}
	r := NewRouter(time.Second)
	r.Add(TierSafe, b)

	history := make([]Turn, 20)
	for i := range history {
		history[i] = Turn{Role: "user", Text: "msg"}
	}
	if _, err := r.Complete(context.Background(), TierSafe, CompletionRequest{History: history}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	seen = b.historyLen
	if seen != historyWindow {
		t.Fatalf("backend saw %d turns, want %d", seen, historyWindow)
	}
}

type recordingBackend struct {
	reply      string
	historyLen int
}

func (r *recordingBackend) Name() string { return "recording" }

func (r *recordingBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	r.historyLen = len(req.History)
	return r.reply, nil
}

func TestTierForEmotion(t *testing.T) {
	if TierFor(EmotionFlirty, nil) != TierPermissive {
		t.Fatal("flirty not routed to permissive tier")
	}
	if TierFor(EmotionNeutral, nil) != TierSafe {
		t.Fatal("neutral not routed to safe tier")
	}
}

func TestTierStickyAcrossRecentTurns(t *testing.T) {
	history := []Turn{
		{Role: "user", Text: "you sound really cute"},
		{Role: "ghost", Text: "hehe stop it"},
		{Role: "user", Text: "went to the market today"},
	}
	if TierFor(EmotionNeutral, history) != TierPermissive {
		t.Fatal("flirty conversation fell back to the safe tier on one neutral line")
	}

	// a flirty line outside the recency window no longer counts
	old := []Turn{{Role: "user", Text: "you sound really cute"}}
	for i := 0; i < historyWindow; i++ {
		old = append(old, Turn{Role: "user", Text: "what did you have for lunch"})
	}
	if TierFor(EmotionNeutral, old) != TierSafe {
		t.Fatal("stale flirty turn still pinning the permissive tier")
	}
}

// ---- post-processing ----

func TestCollapseRuns(t *testing.T) {
	if got := collapseRuns("sooooo goooood"); got != "soo good" {
		t.Fatalf("got %q", got)
	}
	if got := collapseRuns("normal text"); got != "normal text" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitDoubleText(t *testing.T) {
	parts := splitDoubleText("first thing\n\nsecond thing\n\nthird thing")
	if len(parts) != 2 {
		t.Fatalf("parts = %v", parts)
	}
	if parts[0] != "first thing" || parts[1] != "second thing" {
		t.Fatalf("parts = %v", parts)
	}

	single := splitDoubleText("just one line")
	if len(single) != 1 || single[0] != "just one line" {
		t.Fatalf("single = %v", single)
	}
}

func TestTypingDelayBounds(t *testing.T) {
	short := TypingDelay("hi")
	if short < typingBaseDelay {
		t.Fatalf("short delay %v below base", short)
	}
	long := TypingDelay(strings.Repeat("a", 500))
	if long != typingMaxDelay {
		t.Fatalf("long delay %v, want cap %v", long, typingMaxDelay)
	}
}

// ---- media ----

func TestIsImageRequest(t *testing.T) {
	positives := []string{
		"send me a pic",
		"can you share a selfie",
		"photo bhejo na",
		"pic pls",
	}
	for _, text := range positives {
		if !IsImageRequest(text) {
			t.Errorf("missed image request %q", text)
		}
	}
	negatives := []string{
		"i took a picture of the sunset today",
		"what's up",
	}
	for _, text := range negatives {
		if IsImageRequest(text) {
			t.Errorf("false positive %q", text)
		}
	}
}

func TestWantsToDeclineEasesOff(t *testing.T) {
	const n = 2000
	declinedFirst, declinedLater := 0, 0
	for i := 0; i < n; i++ {
		if WantsToDecline(1) {
			declinedFirst++
		}
		if WantsToDecline(5) {
			declinedLater++
		}
	}
	if declinedFirst <= declinedLater {
		t.Fatalf("persistence not rewarded: first=%d later=%d", declinedFirst, declinedLater)
	}
	if declinedLater > n/2 {
		t.Fatalf("still declining too often after repeated asks: %d/%d", declinedLater, n)
	}
}

func TestImageURLIsWellFormed(t *testing.T) {
	u := ImageURL(defaultImagePrompt(testPersona()))
	if !strings.HasPrefix(u, imageEndpoint) {
		t.Fatalf("url = %q", u)
	}
	if strings.Contains(u, " ") {
		t.Fatalf("unescaped space in %q", u)
	}
}

func TestImagePromptDerivedFromBackend(t *testing.T) {
	b := &fakeBackend{name: "primary", reply: "selfie at a cafe window, evening light"}
	r := New(testRouter(b))

	prompt := r.ImagePrompt(context.Background(), testPersona())
	if prompt != "selfie at a cafe window, evening light" {
		t.Fatalf("prompt = %q", prompt)
	}
	if b.calls != 1 {
		t.Fatalf("backend called %d times", b.calls)
	}
}

func TestImagePromptFallsBackToTemplate(t *testing.T) {
	dead := &fakeBackend{name: "dead", err: errors.New("down")}
	r := New(testRouter(dead))

	prompt := r.ImagePrompt(context.Background(), testPersona())
	if !strings.Contains(prompt, "design student") {
		t.Fatalf("fallback prompt = %q", prompt)
	}

	refusing := &fakeBackend{name: "refusing", reply: "I cannot assist with that request."}
	r = New(testRouter(refusing))
	if p := r.ImagePrompt(context.Background(), testPersona()); !strings.Contains(p, "design student") {
		t.Fatalf("refusal not replaced by template: %q", p)
	}
}

func TestFetchImageChecksStatus(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpegbytes"))
	}))
	defer ok.Close()
	if err := FetchImage(context.Background(), ok.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "generation failed", http.StatusInternalServerError)
	}))
	defer broken.Close()
	if err := FetchImage(context.Background(), broken.URL); err == nil {
		t.Fatal("bad status accepted")
	}
}

func TestGhostDelayBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := GhostDelay()
		if d < ghostDelayMin || d >= ghostDelayMin+ghostDelaySpread {
			t.Fatalf("delay %v out of bounds", d)
		}
	}
}

// ---- prompt assembly ----

func TestSystemPromptCarriesPersonaAndModifiers(t *testing.T) {
	sit := Situation{
		Emotion:          EmotionFlirty,
		Language:         LangEnglish,
		ShortReplyStreak: 3,
		TurnCount:        25,
		Now:              time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC),
	}
	prompt := buildSystemPrompt(testPersona(), sit)

	for _, want := range []string{"Priya", "Mumbai", "design student", "English", "flirt", "losing interest", "open up"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(prompt, "morning") {
		t.Error("afternoon prompt mentions morning")
	}
}
