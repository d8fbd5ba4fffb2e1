package chat

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// ---- validation ----

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("hello"); err != nil {
		t.Fatalf("plain message rejected: %v", err)
	}
	if err := ValidateMessage(""); err == nil {
		t.Fatal("empty message accepted")
	}
	if err := ValidateMessage(strings.Repeat("a", MaxTextChars+1)); err == nil {
		t.Fatal("oversized message accepted")
	}
	if err := ValidateMessage(strings.Repeat("é", MaxTextChars)); err != nil {
		t.Fatalf("max-length multibyte message rejected: %v", err)
	}
	if err := ValidateMessage(string([]byte{0xff, 0xfe})); err == nil {
		t.Fatal("invalid UTF-8 accepted")
	}
}

func TestValidateImageURL(t *testing.T) {
	if err := ValidateImageURL("https://example.com/a.png"); err != nil {
		t.Fatalf("https url rejected: %v", err)
	}
	if err := ValidateImageURL(""); err == nil {
		t.Fatal("empty url accepted")
	}
	if err := ValidateImageURL("ftp://example.com/a.png"); err == nil {
		t.Fatal("ftp url accepted")
	}
	if err := ValidateImageURL("/relative/path.png"); err == nil {
		t.Fatal("relative url accepted")
	}
}

// ---- ring buffer ----

func TestBufferOrderAndOverflow(t *testing.T) {
	mb := NewMessageBuffer()

	for i := 0; i < MaxBufferMessages+5; i++ {
		mb.Add("s1", BufferedMessage{From: "alice", Text: string(rune('a' + i)), Ts: int64(i)})
	}

	got := mb.Get("s1")
	if len(got) != MaxBufferMessages {
		t.Fatalf("len = %d, want %d", len(got), MaxBufferMessages)
	}
	if got[0].Ts != 5 {
		t.Fatalf("oldest retained ts = %d, want 5", got[0].Ts)
	}
	if got[len(got)-1].Ts != int64(MaxBufferMessages+4) {
		t.Fatalf("newest ts = %d", got[len(got)-1].Ts)
	}
}

func TestBufferDrop(t *testing.T) {
	mb := NewMessageBuffer()
	mb.Add("s1", BufferedMessage{From: "alice", Text: "hi"})
	mb.Drop("s1")

	if n := mb.Len("s1"); n != 0 {
		t.Fatalf("len after drop = %d", n)
	}
	if got := mb.Get("s1"); len(got) != 0 {
		t.Fatalf("messages after drop: %v", got)
	}
}

// ---- emoji extraction ----

func TestFirstEmoji(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"hello \U0001F600 there", "\U0001F600"},
		{"\U0001F525 fire", "\U0001F525"},
		{"no emoji here", ""},
		{"two \U0001F602\U0001F60D picks first", "\U0001F602"},
		{"❤ heart", "❤"},
	}
	for _, c := range cases {
		if got := FirstEmoji(c.text); got != c.want {
			t.Errorf("FirstEmoji(%q) = %q, want %q", c.text, got, c.want)
		}
	}
}

// ---- vibe tracker ----

func newTestVibe(t *testing.T) *VibeTracker {
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

	return NewVibeTracker(client)
}

func TestVibeMatch(t *testing.T) {
	v := newTestVibe(t)
	ctx := context.Background()

	same, err := v.Record(ctx, "s1", "alice", "bob", "\U0001F600")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if same {
		t.Fatal("vibe fired with only one participant")
	}

	same, err = v.Record(ctx, "s1", "bob", "alice", "\U0001F600")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !same {
		t.Fatal("matching emoji did not fire")
	}

	// Keys cleared on match, a repeat does not fire again.
	same, err = v.Record(ctx, "s1", "bob", "alice", "\U0001F600")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if same {
		t.Fatal("vibe fired twice for one shared moment")
	}
}

func TestVibeDifferentEmoji(t *testing.T) {
	v := newTestVibe(t)
	ctx := context.Background()

	if _, err := v.Record(ctx, "s1", "alice", "bob", "\U0001F600"); err != nil {
		t.Fatalf("record: %v", err)
	}
	same, err := v.Record(ctx, "s1", "bob", "alice", "\U0001F525")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if same {
		t.Fatal("different emoji matched")
	}
}
