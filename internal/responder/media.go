package responder

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// imageEndpoint generates a photo from a text prompt.
const imageEndpoint = "https://image.pollinations.ai/prompt/"

// imageClient fetches generated photos. The endpoint renders on first
// request, so the timeout covers generation, not just transfer.
var imageClient = &http.Client{Timeout: 20 * time.Second}

var imageRequestPattern = regexp.MustCompile(
	`(?i)(send|share|show|bhejo|bhej|dikha).{0,20}(pic|photo|selfie|image|picture|tasveer)|(?i)\b(pic|selfie)s?\s*(\?|pls|please|plz)`)

// IsImageRequest reports whether the user is asking for a photo.
func IsImageRequest(text string) bool {
	return imageRequestPattern.MatchString(text)
}

// WantsToDecline plays hard to get: the first ask is almost always
// turned down, persistence pays off. askCount is how many times the
// user has asked so far, this request included.
func WantsToDecline(askCount int) bool {
	var chance float64
	switch {
	case askCount <= 1:
		chance = 0.9
	case askCount == 2:
		chance = 0.6
	case askCount == 3:
		chance = 0.3
	default:
		chance = 0.1
	}
	return rand.Float64() < chance
}

var declineLines = []string{
	"haha itni jaldi? pehle baat toh karo",
	"hmm abhi nahi.. maybe later ;)",
	"arre abhi toh hum mile bhi nahi properly",
	"lol nice try.. thoda wait karo",
	"shy hu yaar, baad me dekhte hai",
}

// DeclineLine picks a teasing refusal for a photo request.
func DeclineLine() string {
	return declineLines[rand.Intn(len(declineLines))]
}

var captionLines = []string{
	"okay okay.. yeh lo :)",
	"fine, but just this once",
	"hehe don't judge, bad lighting tha",
	"yeh wali theek hai?",
}

// CaptionLine picks a caption to send alongside a photo.
func CaptionLine() string {
	return captionLines[rand.Intn(len(captionLines))]
}

var excuseLines = []string{
	"ugh camera act up kar raha hai, baad me try karti hu",
	"arre net itna slow hai yaha, pic ja hi nahi rahi",
	"phone hang ho gaya yaar, thodi der me bhejti hu pakka",
}

// ExcuseLine picks a believable reason the promised photo never arrived.
func ExcuseLine() string {
	return excuseLines[rand.Intn(len(excuseLines))]
}

// imagePromptAsk is the instruction sent to the backing model to turn
// the persona into a one-line photo description.
const imagePromptAsk = "Describe in one short line, under 15 words, a casual selfie you might send right now. Only the description, nothing else."

// maxPromptRunes caps the derived description so a rambling model reply
// cannot blow up the image URL.
const maxPromptRunes = 160

// ImagePrompt derives the photo description for the persona through the
// backing model. Any failure, refusal, or unusable reply falls back to
// the fixed safe template.
func (r *Responder) ImagePrompt(ctx context.Context, p Persona) string {
	req := CompletionRequest{
		System:      buildSystemPrompt(p, Situation{Now: time.Now()}),
		History:     []Turn{{Role: "user", Text: imagePromptAsk}},
		MaxTokens:   40,
		Temperature: 0.8,
	}
	text, err := r.router.Complete(ctx, TierSafe, req)
	if err != nil || refusalPattern.MatchString(text) {
		return defaultImagePrompt(p)
	}
	text = strings.TrimSpace(strings.Trim(strings.ReplaceAll(text, "\n", " "), `"'`))
	if text == "" || utf8.RuneCountInString(text) > maxPromptRunes {
		return defaultImagePrompt(p)
	}
	return text
}

func defaultImagePrompt(p Persona) string {
	return fmt.Sprintf(
		"casual selfie of a %d year old indian woman, %s, natural lighting, phone camera, modest clothing",
		p.Age, p.Occupation,
	)
}

// ImageURL builds the generated-photo URL for a description.
func ImageURL(prompt string) string {
	return fmt.Sprintf("%s%s?width=512&height=640&nologo=true&seed=%d",
		imageEndpoint, url.PathEscape(prompt), rand.Intn(1_000_000))
}

// FetchImage renders the generated image server-side before the URL is
// handed to the client, so a broken generation turns into an excuse
// instead of a dead image bubble. The fetch also warms the endpoint's
// cache for the client's own request.
func FetchImage(ctx context.Context, imageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("responder: build image request: %w", err)
	}
	resp, err := imageClient.Do(req)
	if err != nil {
		return fmt.Errorf("responder: fetch image: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("responder: image endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
