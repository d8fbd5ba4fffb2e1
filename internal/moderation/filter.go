// Package moderation screens chat messages for prohibited content before
// they are delivered. The keyword filter matches whole words and multi-word
// phrases, with a second pass over leet-speak normalized tokens so trivial
// obfuscation ("b@dw0rd") does not slip through. Spam patterns (URLs, phone
// numbers, flooding) are checked after keywords.
package moderation

import (
	"strings"
	"unicode"
)

// FilterResult describes the outcome of a content check.
type FilterResult struct {
	Blocked bool
	Reason  string // "blocked_keyword" or "spam_pattern"
	Term    string // the matched term or pattern name
}

// Filter holds the blocklist split into single words and multi-word phrases.
// It is immutable after construction and safe for concurrent use.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string // each phrase as its token sequence
}

// defaultTerms is the built-in blocklist: slurs, self-harm encouragement,
// sexual content involving minors, solicitation, hate symbols, threats, and
// common scam bait.
var defaultTerms = []string{
	// slurs
	"nigger", "nigga", "faggot", "tranny", "kike", "chink", "spic",
	// self-harm encouragement
	"kill yourself", "go die", "kys", "neck yourself",
	// minors / sexual content
	"child porn", "cp trade", "jailbait", "loli porn",
	// solicitation
	"send nudes", "buy my content", "onlyfans promo", "sugar daddy wanted",
	// hate symbols
	"heil hitler", "sieg heil", "white power", "gas the",
	// threats
	"bomb threat", "i will kill you", "shoot up", "rape you",
	// scams
	"free bitcoin", "crypto giveaway", "double your money", "cashapp me",
}

// NewFilter builds a filter from the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultTerms)
}

// NewFilterWithTerms builds a filter from an explicit term list. Terms are
// lowercased and trimmed; empty entries are dropped. Multi-word terms are
// matched as exact token sequences.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		tokens := strings.Fields(term)
		if len(tokens) == 1 {
			f.words[tokens[0]] = struct{}{}
		} else {
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// Check screens a message. Keyword matches are reported before spam patterns.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)

	plain := tokenizePlain(lower)
	if term := f.matchTokens(plain); term != "" {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	// Second pass: normalize leet substitutions inside whitespace tokens.
	leet := tokenizeLeet(lower)
	normalized := make([]string, len(leet))
	for i, tok := range leet {
		normalized[i] = normalizeLeet(tok)
	}
	if term := f.matchTokens(normalized); term != "" {
		return FilterResult{Blocked: true, Reason: "blocked_keyword", Term: term}
	}

	return f.checkSpamPatterns(text)
}

// CheckInterests returns the subset of interests that pass the filter.
func (f *Filter) CheckInterests(interests []string) []string {
	var clean []string
	for _, interest := range interests {
		if !f.Check(interest).Blocked {
			clean = append(clean, interest)
		}
	}
	return clean
}

// matchTokens looks for a blocked word or phrase in a token sequence and
// returns the matched term, or "".
func (f *Filter) matchTokens(tokens []string) string {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok
		}
	}
	for _, phrase := range f.phrases {
		if len(phrase) > len(tokens) {
			continue
		}
		for i := 0; i+len(phrase) <= len(tokens); i++ {
			match := true
			for j, want := range phrase {
				if tokens[i+j] != want {
					match = false
					break
				}
			}
			if match {
				return strings.Join(phrase, " ")
			}
		}
	}
	return ""
}

// leetMap covers the substitutions seen in practice. Applied per rune.
var leetMap = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet maps leet characters back to letters.
func normalizeLeet(token string) string {
	var b strings.Builder
	b.Grow(len(token))
	for _, r := range token {
		if mapped, ok := leetMap[r]; ok {
			b.WriteRune(mapped)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// tokenizePlain splits on any non-alphanumeric rune, so punctuation never
// hides or fabricates a match.
func tokenizePlain(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// tokenizeLeet splits on whitespace only, keeping leet characters in place
// for normalization.
func tokenizeLeet(text string) []string {
	return strings.Fields(text)
}
