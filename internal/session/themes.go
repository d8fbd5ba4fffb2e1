package session

import "math/rand"

// MoodThemes are the visual themes a session can start with. One is
// picked at random on create; participants can negotiate a different
// one afterwards.
var MoodThemes = []string{
	"ocean",
	"sunset",
	"forest",
	"night",
	"sunrise",
	"lavender",
	"coral",
	"arctic",
	"desert",
	"aurora",
}

// RandomTheme picks one of MoodThemes.
func RandomTheme() string {
	return MoodThemes[rand.Intn(len(MoodThemes))]
}

// ValidTheme reports whether name is a known theme.
func ValidTheme(name string) bool {
	for _, t := range MoodThemes {
		if t == name {
			return true
		}
	}
	return false
}
