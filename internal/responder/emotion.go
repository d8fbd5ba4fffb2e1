// Package responder generates replies for synthetic chat partners.
//
// A reply is produced in stages: classify the incoming message, build a
// persona prompt with situational modifiers, call a completion backend
// with tier failover, then post-process the text so it reads like a
// person typing on a phone. Every stage degrades: with all backends
// down the responder still answers from a canned pool.
package responder

import (
	"strings"
	"unicode/utf8"
)

// Emotions the classifier can produce.
const (
	EmotionHappy   = "happy"
	EmotionSad     = "sad"
	EmotionFlirty  = "flirty"
	EmotionAngry   = "angry"
	EmotionBored   = "bored"
	EmotionCurious = "curious"
	EmotionNeutral = "neutral"
)

type emotionRule struct {
	emotion  string
	triggers []string
}

// Rules are checked in order; the first rule with a matching trigger
// wins, so happy markers beat the question mark in "haha why".
var emotionRules = []emotionRule{
	{EmotionHappy, []string{"haha", "lol", "lmao", "hehe", "yay", "awesome", "great", "nice", "\U0001F602", "\U0001F60A", "\U0001F604"}},
	{EmotionSad, []string{"sad", "cry", "depressed", "lonely", "miss you", "hurt", "upset", "\U0001F622", "\U0001F62D"}},
	{EmotionFlirty, []string{"cute", "beautiful", "gorgeous", "hot", "sexy", "date", "kiss", "love you", "\U0001F618", "\U0001F60D"}},
	{EmotionAngry, []string{"angry", "hate", "stupid", "idiot", "wtf", "annoying", "shut up", "\U0001F621"}},
	{EmotionBored, []string{"bored", "boring", "meh", "whatever", "nothing much"}},
	{EmotionCurious, []string{"?", "why", "how", "what", "really", "tell me", "kya"}},
}

// DetectEmotion classifies a user message. The trigger tables are
// consulted first, so "lol" reads happy even though it is short; a very
// short message that trips no trigger reads as disengagement.
func DetectEmotion(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, rule := range emotionRules {
		for _, trig := range rule.triggers {
			if strings.Contains(lower, trig) {
				return rule.emotion
			}
		}
	}

	if utf8.RuneCountInString(trimmed) < 4 {
		return EmotionBored
	}
	return EmotionNeutral
}
