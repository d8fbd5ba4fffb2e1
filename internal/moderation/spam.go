package moderation

import (
	"regexp"
	"strings"
	"unicode"
)

// Flood thresholds. Five identical characters in a row or the same word
// three times running reads as flooding, not conversation.
const (
	charFloodRun = 5
	wordFloodRun = 3
)

// reURL catches http/https links, www-prefixed hosts, and bare domains on
// common TLDs. Bare domains must carry a path ("evil.com/free") so version
// strings and decimals ("v2.0", "3.14") pass.
var reURL = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|\S+\.(com|net|org|io|co|xyz|info|biz|ru|cn|tk|ml|ga|cf)/\S*)`)

// rePhone catches phone-number shapes like +1-555-123-4567, (555) 123-4567,
// and 555.123.4567. Boundary anchors keep short counts ("100") and digit
// runs inside words from matching.
var rePhone = regexp.MustCompile(`(?:^|\s)(\+?\d{1,3}[-.\s]?)?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}(?:\s|$)`)

// checkSpamPatterns applies the spam heuristics in order and blocks on the
// first hit. Term names the heuristic that fired.
func (f *Filter) checkSpamPatterns(text string) FilterResult {
	switch {
	case reURL.MatchString(text):
		return FilterResult{Blocked: true, Reason: "spam_pattern", Term: "url"}
	case rePhone.MatchString(text):
		return FilterResult{Blocked: true, Reason: "spam_pattern", Term: "phone"}
	case longestCharRun(text) >= charFloodRun:
		return FilterResult{Blocked: true, Reason: "spam_pattern", Term: "char_flood"}
	case longestWordRun(text) >= wordFloodRun:
		return FilterResult{Blocked: true, Reason: "spam_pattern", Term: "word_flood"}
	}
	return FilterResult{}
}

// longestCharRun returns the length of the longest run of one repeated
// character. RE2 has no backreferences, so a linear scan does the job.
func longestCharRun(text string) int {
	longest, run := 0, 0
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

// longestWordRun returns the longest streak of the same word repeated
// consecutively, compared case-insensitively on whitespace tokens.
func longestWordRun(text string) int {
	words := strings.FieldsFunc(text, unicode.IsSpace)
	longest, run := 0, 0
	prev := ""
	for _, w := range words {
		lower := strings.ToLower(w)
		if lower == prev {
			run++
		} else {
			run = 1
			prev = lower
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}
