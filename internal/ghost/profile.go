// Package ghost converts users stuck in the matchmaking queue into
// sessions with a synthetic partner. The partner gets a generated
// persona and profile photo; replies come from the responder pipeline.
// Clients are never told the partner is synthetic.
package ghost

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"

	"github.com/google/uuid"

	"github.com/bakaiti/server/internal/responder"
)

// avatarEndpoint renders a profile photo from the persona's name.
const avatarEndpoint = "https://ui-avatars.com/api/"

var firstNames = []string{
	"Priya", "Ananya", "Shreya", "Kavya", "Riya", "Ishita", "Sneha",
	"Pooja", "Neha", "Simran", "Aditi", "Tanvi", "Megha", "Divya", "Sakshi",
}

var cities = []string{
	"Mumbai", "Delhi", "Bangalore", "Pune", "Jaipur",
	"Hyderabad", "Chandigarh", "Kolkata", "Indore", "Lucknow",
}

var occupations = []string{
	"college student", "fashion design student", "freelance artist",
	"cafe barista", "psychology student", "content writer",
	"MBA student", "makeup artist", "yoga instructor", "photographer",
}

var personalities = []string{
	"playful and teasing",
	"shy but curious",
	"bubbly and talkative",
	"sarcastic with a soft side",
	"dreamy and romantic",
	"bold and a little flirty",
}

var interestPool = []string{
	"music", "bollywood movies", "travel", "chai", "street food",
	"cricket", "poetry", "dancing", "memes", "photography",
	"shopping", "kdramas",
}

var openers = []string{
	"heyy.. kaise ho? :)",
	"hii, bore ho rahi thi so thought I'd say hi",
	"heyy whats up.. kya kar rahe ho?",
	"hello hello.. first time yaha pe?",
	"hii :) aaj ka din kaisa tha?",
}

// Profile is a generated persona plus the identity shown to the client.
type Profile struct {
	UserID      string `json:"user_id"` // synthetic, never collides with real IDs
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url"`
	responder.Persona
}

// NewProfile generates a random persona.
func NewProfile() *Profile {
	name := firstNames[rand.Intn(len(firstNames))]

	interests := make([]string, 0, 3)
	for _, i := range rand.Perm(len(interestPool))[:3] {
		interests = append(interests, interestPool[i])
	}

	return &Profile{
		UserID:      fmt.Sprintf("ghost_%x", uuid.New()),
		DisplayName: name,
		PhotoURL:    avatarURL(name),
		Persona: responder.Persona{
			Name:        name,
			Age:         19 + rand.Intn(8),
			City:        cities[rand.Intn(len(cities))],
			Occupation:  occupations[rand.Intn(len(occupations))],
			Personality: personalities[rand.Intn(len(personalities))],
			Interests:   interests,
		},
	}
}

// Opener picks a conversation starter.
func (p *Profile) Opener() string {
	return openers[rand.Intn(len(openers))]
}

// Encode serializes the profile for storage on the session record.
func (p *Profile) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("ghost: encode profile: %w", err)
	}
	return string(raw), nil
}

// DecodeProfile restores a profile stored with Encode.
func DecodeProfile(raw string) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("ghost: decode profile: %w", err)
	}
	return &p, nil
}

func avatarURL(name string) string {
	q := url.Values{}
	q.Set("name", name)
	q.Set("background", "random")
	q.Set("size", "256")
	return avatarEndpoint + "?" + q.Encode()
}
