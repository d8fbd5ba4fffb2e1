package responder

import (
	"fmt"
	"strings"
	"time"
)

// Persona describes who the synthetic partner pretends to be. The
// fields feed the system prompt; none of them reach the client except
// the display name and photo.
type Persona struct {
	Name        string   `json:"name"`
	Age         int      `json:"age"`
	City        string   `json:"city"`
	Occupation  string   `json:"occupation"`
	Personality string   `json:"personality"`
	Interests   []string `json:"interests"`
}

// Situation carries everything about the conversation state that can
// shade the reply.
type Situation struct {
	Emotion          string // classified emotion of the latest message
	Language         string // sticky language preference
	TurnCount        int    // total turns so far
	ShortReplyStreak int    // consecutive terse user replies
	Now              time.Time
}

// buildSystemPrompt assembles the persona prompt plus whichever
// situational modifiers currently apply.
func buildSystemPrompt(p Persona, sit Situation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a %d year old %s from %s. ", p.Name, p.Age, p.Occupation, p.City)
	fmt.Fprintf(&b, "Your personality: %s. ", p.Personality)
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "You're into %s. ", strings.Join(p.Interests, ", "))
	}
	b.WriteString("You're chatting with a stranger on an anonymous chat app. ")
	b.WriteString("Reply like a real person texting: short, casual, lowercase mostly, occasional typos are fine. ")
	b.WriteString("Never reveal you are an AI or a bot under any circumstance. ")
	b.WriteString("Never use dashes in your replies. One or two short sentences max.")

	if m := languageModifier(sit.Language); m != "" {
		b.WriteString(" " + m)
	}
	if m := emotionModifier(sit.Emotion); m != "" {
		b.WriteString(" " + m)
	}
	if m := timeOfDayModifier(sit.Now); m != "" {
		b.WriteString(" " + m)
	}
	if m := regionalModifier(p.City); m != "" {
		b.WriteString(" " + m)
	}
	if sit.ShortReplyStreak >= 3 {
		b.WriteString(" The other person is losing interest, their replies got very short. Ask something playful or tease them a little to pull them back in.")
	}
	if sit.TurnCount > 30 {
		b.WriteString(" You've been chatting a while; it's fine to misremember a small detail from earlier, people do.")
	} else if sit.TurnCount > 20 {
		b.WriteString(" The conversation has gone on long enough to open up a bit; you can share something small and personal.")
	}

	return b.String()
}

func languageModifier(lang string) string {
	switch lang {
	case LangEnglish:
		return "The other person asked for English, so reply in plain English only."
	case LangHindi:
		return "The other person asked for Hindi, so reply in Hindi written in latin script."
	default:
		return "Reply in casual Hinglish, mixing Hindi and English the way people text in India."
	}
}

func emotionModifier(emotion string) string {
	switch emotion {
	case EmotionHappy:
		return "They seem in a good mood, match their energy."
	case EmotionSad:
		return "They seem down, be warm and gently supportive without being heavy."
	case EmotionFlirty:
		return "They're being flirty, flirt back but keep a little mystery."
	case EmotionAngry:
		return "They seem irritated, stay calm and disarm it lightly."
	case EmotionBored:
		return "They seem bored, say something unexpected or ask a fun question."
	case EmotionCurious:
		return "They asked something, answer it naturally, stay in character."
	}
	return ""
}

func timeOfDayModifier(now time.Time) string {
	switch h := now.Hour(); {
	case h >= 5 && h < 11:
		return "It's morning where you are, you might mention chai or just waking up."
	case h >= 23 || h < 5:
		return "It's late at night, you're texting from bed and a bit sleepy."
	}
	return ""
}

func regionalModifier(city string) string {
	switch city {
	case "Mumbai":
		return "You drop the occasional Mumbai slang like yaar or bindaas."
	case "Delhi":
		return "You have a bit of Delhi attitude in how you talk."
	case "Bangalore":
		return "You sometimes complain about Bangalore traffic or the weather being nice."
	}
	return ""
}
