package moderation

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultBlocklistLoaded(t *testing.T) {
	f := NewFilter()
	if f == nil {
		t.Fatal("NewFilter returned nil")
	}
	if len(f.words) == 0 && len(f.phrases) == 0 {
		t.Fatal("default filter has no terms")
	}
}

func TestCheckSingleWords(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"bare term", "badword", true, "badword"},
		{"mid sentence", "well badword to you too", true, "badword"},
		{"uppercase", "BADWORD", true, "badword"},
		{"mixed case", "OfFeNsIvE", true, "offensive"},
		{"next to punctuation", "wow, badword!", true, "badword"},
		{"clean text", "nice weather today", false, ""},
		{"term as prefix stays clean", "badwording along", false, ""},
		{"term as suffix stays clean", "mybadword", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.input)
			if res.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.input, res.Blocked, tt.blocked)
			}
			if !tt.blocked {
				return
			}
			if res.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, res.Term, tt.term)
			}
			if res.Reason != "blocked_keyword" {
				t.Errorf("Check(%q).Reason = %q, want blocked_keyword", tt.input, res.Reason)
			}
		})
	}
}

func TestCheckPhrases(t *testing.T) {
	f := NewFilterWithTerms([]string{"kill yourself", "go die"})

	tests := []struct {
		name    string
		input   string
		blocked bool
		term    string
	}{
		{"bare phrase", "kill yourself", true, "kill yourself"},
		{"phrase inside sentence", "just kill yourself already", true, "kill yourself"},
		{"uppercase phrase", "KILL YOURSELF", true, "kill yourself"},
		{"second phrase", "go die somewhere", true, "go die"},
		{"inflected word stays clean", "kill yourselves", false, ""},
		{"words split apart stay clean", "kill time by yourself", false, ""},
		{"clean text", "this chat is fun", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.input)
			if res.Blocked != tt.blocked {
				t.Fatalf("Check(%q).Blocked = %v, want %v", tt.input, res.Blocked, tt.blocked)
			}
			if tt.blocked && res.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, res.Term, tt.term)
			}
		})
	}
}

func TestCheckLeetSubstitutions(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "offensive"})

	for _, input := range []string{
		"b@dw0rd",
		"b@dword",
		"off3n$ive",
		"offens1ve",
		"offens!ve",
		"0ff3n$!v3",
	} {
		if res := f.Check(input); !res.Blocked {
			t.Errorf("Check(%q) passed, want blocked", input)
		}
	}
}

func TestCheckCleanConversation(t *testing.T) {
	f := NewFilter()

	// Includes words that contain blocklist fragments as substrings.
	for _, msg := range []string{
		"hello, how are you?",
		"what are your hobbies?",
		"do you like music?",
		"what class are you in?",
		"I need to assess the situation",
		"the grape harvest was great",
		"",
	} {
		if res := f.Check(msg); res.Blocked {
			t.Errorf("Check(%q) blocked on term %q, want clean", msg, res.Term)
		}
	}
}

func TestCheckDefaultTerms(t *testing.T) {
	f := NewFilter()

	// Spot-check terms across the blocklist categories.
	for _, term := range []string{
		"nigger",
		"faggot",
		"kill yourself",
		"child porn",
		"send nudes",
		"heil hitler",
		"bomb threat",
		"free bitcoin",
	} {
		if res := f.Check(term); !res.Blocked {
			t.Errorf("Check(%q) passed, want blocked", term)
		}
	}
}

func TestCheckInterestsDropsBlocked(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword", "kill yourself"})

	clean := f.CheckInterests([]string{"music", "badword", "movies", "programming"})
	want := []string{"music", "movies", "programming"}
	if len(clean) != len(want) {
		t.Fatalf("CheckInterests kept %d items, want %d", len(clean), len(want))
	}
	for i := range want {
		if clean[i] != want[i] {
			t.Errorf("clean[%d] = %q, want %q", i, clean[i], want[i])
		}
	}

	if got := f.CheckInterests(nil); len(got) != 0 {
		t.Errorf("CheckInterests(nil) kept %d items, want 0", len(got))
	}
}

func TestTermListIsTrimmed(t *testing.T) {
	f := NewFilterWithTerms([]string{"", "  ", "valid"})
	if _, ok := f.words["valid"]; !ok {
		t.Error("trimmed term missing from words set")
	}
	if len(f.words) != 1 {
		t.Errorf("words set has %d entries, want 1", len(f.words))
	}
}

func TestNormalizeLeet(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"h3ll0", "hello"},
		{"@ss", "ass"},
		{"$h!t", "shit"},
		{"n0", "no"},
		{"ch@ng3", "change"},
	}
	for _, tt := range tests {
		if got := normalizeLeet(tt.input); got != tt.want {
			t.Errorf("normalizeLeet(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTokenizers(t *testing.T) {
	plain := tokenizePlain("hello, world! one---two")
	wantPlain := []string{"hello", "world", "one", "two"}
	if len(plain) != len(wantPlain) {
		t.Fatalf("tokenizePlain = %v, want %v", plain, wantPlain)
	}
	for i := range wantPlain {
		if plain[i] != wantPlain[i] {
			t.Errorf("tokenizePlain[%d] = %q, want %q", i, plain[i], wantPlain[i])
		}
	}

	// Leet tokens split on whitespace only so substitution characters survive.
	leet := tokenizeLeet("hello $h!t bye")
	wantLeet := []string{"hello", "$h!t", "bye"}
	if len(leet) != len(wantLeet) {
		t.Fatalf("tokenizeLeet = %v, want %v", leet, wantLeet)
	}
	for i := range wantLeet {
		if leet[i] != wantLeet[i] {
			t.Errorf("tokenizeLeet[%d] = %q, want %q", i, leet[i], wantLeet[i])
		}
	}
}

// The filter sits on the send_message hot path, so Check has a latency
// budget of 0.1ms per message.
func TestCheckLatencyBudget(t *testing.T) {
	f := NewFilter()
	msg := "hey how are you doing today? I love chatting about music and movies. What are your favorite hobbies?"

	const iterations = 1000
	start := time.Now()
	for i := 0; i < iterations; i++ {
		f.Check(msg)
	}
	avgNs := time.Since(start).Nanoseconds() / iterations

	maxNs := int64(100_000)
	if raceDetectorEnabled {
		// The race detector slows everything by an order of magnitude.
		maxNs = 1_000_000
	}
	if avgNs > maxNs {
		t.Errorf("Check averaged %dns per call, budget is %dns", avgNs, maxNs)
	}
}

func BenchmarkCheckClean(b *testing.B) {
	f := NewFilter()
	msg := strings.Repeat("a perfectly ordinary chat message with nothing wrong in it. ", 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}

func BenchmarkCheckBlocked(b *testing.B) {
	f := NewFilter()
	msg := "this message contains a nigger slur and should be blocked"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Check(msg)
	}
}
