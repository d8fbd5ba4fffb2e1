package moderation

import "testing"

// Spam tests use an empty blocklist so only the pattern heuristics fire.

func TestSpamPatterns(t *testing.T) {
	f := NewFilterWithTerms(nil)

	tests := []struct {
		name  string
		input string
		term  string
	}{
		{"http link", "check out http://evil.com", "url"},
		{"https link with path", "visit https://spam.xyz/click", "url"},
		{"www host", "go to www.phishing.net", "url"},
		{"bare domain with path", "visit evil.com/free", "url"},
		{"bare ru domain with path", "go to site.ru/malware", "url"},
		{"dashed phone", "+1-555-123-4567", "phone"},
		{"parenthesized phone", "(555) 123-4567", "phone"},
		{"dotted phone", "555.123.4567", "phone"},
		{"phone inside sentence", "call me at 555-123-4567 okay?", "phone"},
		{"stretched word", "hellooooooo", "char_flood"},
		{"shouting run", "AAAAAA", "char_flood"},
		{"punctuation run", "wow!!!!!", "char_flood"},
		{"tripled word", "buy buy buy", "word_flood"},
		{"tripled word mixed case", "BUY buy Buy", "word_flood"},
		{"tripled word inside sentence", "hey buy buy buy now", "word_flood"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Check(tt.input)
			if !res.Blocked {
				t.Fatalf("Check(%q) passed, want blocked", tt.input)
			}
			if res.Reason != "spam_pattern" {
				t.Errorf("Check(%q).Reason = %q, want spam_pattern", tt.input, res.Reason)
			}
			if res.Term != tt.term {
				t.Errorf("Check(%q).Term = %q, want %q", tt.input, res.Term, tt.term)
			}
		})
	}
}

func TestSpamPassesNormalChat(t *testing.T) {
	f := NewFilterWithTerms(nil)

	for _, msg := range []string{
		"I have 3 cats",
		"my score is 100",
		"upgrade to v2.0",
		"pi is about 3.14",
		"I got 42 out of 50",
		"see you in 2025",
		"it costs $5.99",
		"wow!!! that's great!!",
		"sooo cool",
		"yeah yeah whatever",
		"ok. sure. fine.",
		"hello\nworld",
		"",
		"   ",
	} {
		if res := f.Check(msg); res.Blocked {
			t.Errorf("Check(%q) blocked (reason=%q term=%q), want clean",
				msg, res.Reason, res.Term)
		}
	}
}

func TestFloodThresholds(t *testing.T) {
	f := NewFilterWithTerms(nil)

	if res := f.Check("aaaa"); res.Blocked {
		t.Error("four-character run blocked, threshold is five")
	}
	if res := f.Check("aaaaa"); !res.Blocked || res.Term != "char_flood" {
		t.Errorf("five-character run: got blocked=%v term=%q", res.Blocked, res.Term)
	}
	if res := f.Check("go go"); res.Blocked {
		t.Error("doubled word blocked, threshold is three")
	}
	if res := f.Check("go go go"); !res.Blocked || res.Term != "word_flood" {
		t.Errorf("tripled word: got blocked=%v term=%q", res.Blocked, res.Term)
	}
}

// Keyword hits take priority over the spam heuristics.
func TestKeywordBeatsSpamPattern(t *testing.T) {
	f := NewFilterWithTerms([]string{"badword"})

	res := f.Check("badword")
	if !res.Blocked || res.Reason != "blocked_keyword" {
		t.Fatalf("got blocked=%v reason=%q, want keyword block", res.Blocked, res.Reason)
	}

	res = f.Check("visit http://evil.com")
	if !res.Blocked || res.Reason != "spam_pattern" || res.Term != "url" {
		t.Fatalf("got blocked=%v reason=%q term=%q, want url spam block",
			res.Blocked, res.Reason, res.Term)
	}
}
