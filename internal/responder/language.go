package responder

import "strings"

// Language preferences a conversation can settle on.
const (
	LangHinglish = "hinglish" // default register
	LangEnglish  = "english"
	LangHindi    = "hindi"
)

var englishTriggers = []string{
	"speak english",
	"in english",
	"english me",
	"english mein",
	"english please",
	"talk in english",
	"only english",
}

var hindiTriggers = []string{
	"speak hindi",
	"in hindi",
	"hindi me baat",
	"hindi mein",
	"hindi please",
	"talk in hindi",
	"only hindi",
}

// DetectLanguageRequest returns the language the user asked to switch
// to, or "" when the message carries no such request. The preference
// sticks for the rest of the conversation.
func DetectLanguageRequest(text string) string {
	lower := strings.ToLower(text)
	for _, trig := range englishTriggers {
		if strings.Contains(lower, trig) {
			return LangEnglish
		}
	}
	for _, trig := range hindiTriggers {
		if strings.Contains(lower, trig) {
			return LangHindi
		}
	}
	return ""
}
