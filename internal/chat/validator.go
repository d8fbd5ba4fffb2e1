package chat

import (
	"fmt"
	"net/url"
	"unicode/utf8"
)

const (
	MaxMessageBytes = 4096 // 4KB max frame size
	MaxTextChars    = 1000 // max character count per message
)

// ValidateMessage checks that a chat message meets content requirements.
func ValidateMessage(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ValidateImageURL checks that an image reference is an absolute
// http(s) URL. The server relays the reference, it never fetches it on
// the recipient's behalf.
func ValidateImageURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("image url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("image url is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("image url must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("image url must be absolute")
	}
	return nil
}
