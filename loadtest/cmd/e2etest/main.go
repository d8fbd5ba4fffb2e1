// Command e2etest runs a scripted two-user conversation against a live chat
// server and verifies the full feature surface: matchmaking, message relay,
// vibe detection, theme negotiation, the word-bomb game, and the rapid-skip
// penalty. Exit code is non-zero if any step fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/bakaiti/server/loadtest/client"
)

var (
	passed int
	failed int
)

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
	timeout := flag.Duration("timeout", 10*time.Second, "per-step timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	run := fmt.Sprintf("%d", time.Now().UnixNano())
	alice := mustConnect(ctx, *serverURL, "e2e-alice-"+run)
	defer alice.Close()
	bob := mustConnect(ctx, *serverURL, "e2e-bob-"+run)
	defer bob.Close()

	inbox := func(c *client.Client, types ...string) map[string]chan json.RawMessage {
		chans := make(map[string]chan json.RawMessage)
		for _, t := range types {
			ch := make(chan json.RawMessage, 16)
			chans[t] = ch
			t := t
			c.On(t, func(raw json.RawMessage) { ch <- raw })
		}
		return chans
	}

	watched := []string{
		client.TypeMatchFound, client.TypeNewMessage, client.TypeSameVibe,
		client.TypeThemeChanged, client.TypeWordBombStarted, client.TypeWordBombWon,
		client.TypePartnerSkipped, client.TypePenaltyApplied, client.TypeSessionEnded,
		client.TypeError, client.TypeThemeProposed,
	}
	aliceIn := inbox(alice, watched...)
	bobIn := inbox(bob, watched...)

	// ---- match ----
	sessionID := stepMatch(alice, bob, aliceIn, bobIn, *timeout)

	// ---- message relay ----
	step("message relay", func() error {
		if err := alice.Send(map[string]string{
			"type": client.TypeSendMessage, "session_id": sessionID, "text": "hello there",
		}); err != nil {
			return err
		}
		raw, err := waitFor(bobIn[client.TypeNewMessage], *timeout)
		if err != nil {
			return err
		}
		var m struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.Text != "hello there" {
			return fmt.Errorf("got text %q", m.Text)
		}
		return nil
	})

	// ---- same vibe ----
	step("same vibe detection", func() error {
		for _, c := range []*client.Client{alice, bob} {
			if err := c.Send(map[string]string{
				"type": client.TypeSendMessage, "session_id": sessionID, "text": "🔥 what a day",
			}); err != nil {
				return err
			}
		}
		if _, err := waitFor(aliceIn[client.TypeSameVibe], *timeout); err != nil {
			return fmt.Errorf("alice never saw same_vibe: %w", err)
		}
		if _, err := waitFor(bobIn[client.TypeSameVibe], *timeout); err != nil {
			return fmt.Errorf("bob never saw same_vibe: %w", err)
		}
		return nil
	})

	// ---- theme negotiation ----
	step("theme negotiation", func() error {
		if err := alice.Send(map[string]string{
			"type": client.TypeProposeTheme, "session_id": sessionID, "theme": "sunset",
		}); err != nil {
			return err
		}
		if _, err := waitFor(bobIn[client.TypeThemeProposed], *timeout); err != nil {
			return fmt.Errorf("bob never saw the proposal: %w", err)
		}
		if err := bob.Send(map[string]string{
			"type": client.TypeAcceptTheme, "session_id": sessionID, "theme": "sunset",
		}); err != nil {
			return err
		}
		raw, err := waitFor(aliceIn[client.TypeThemeChanged], *timeout)
		if err != nil {
			return err
		}
		var m struct {
			Theme string `json:"theme"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.Theme != "sunset" {
			return fmt.Errorf("got theme %q", m.Theme)
		}
		return nil
	})

	// ---- word bomb ----
	step("word bomb round", func() error {
		if err := alice.Send(map[string]string{
			"type": client.TypeStartWordBomb, "session_id": sessionID,
		}); err != nil {
			return err
		}
		raw, err := waitFor(bobIn[client.TypeWordBombStarted], *timeout)
		if err != nil {
			return err
		}
		var started struct {
			Letter string `json:"letter"`
		}
		if err := json.Unmarshal(raw, &started); err != nil {
			return err
		}
		// Any word of four or more letters starting with the round letter.
		answer := started.Letter + "aaaa"
		if err := bob.Send(map[string]string{
			"type": client.TypeWordBombAnswer, "session_id": sessionID, "answer": answer,
		}); err != nil {
			return err
		}
		raw, err = waitFor(aliceIn[client.TypeWordBombWon], *timeout)
		if err != nil {
			return err
		}
		var won struct {
			WinnerID string `json:"winner_id"`
		}
		if err := json.Unmarshal(raw, &won); err != nil {
			return err
		}
		if won.WinnerID != bob.UserID() {
			return fmt.Errorf("winner was %q, wanted bob", won.WinnerID)
		}
		return nil
	})

	// ---- rapid skip penalty ----
	step("rapid skip penalty", func() error {
		// The current session counts as the first skip. Two more rapid
		// match-and-skip cycles push alice over the threshold.
		sid := sessionID
		for i := 0; ; i++ {
			if err := alice.Send(map[string]string{
				"type": client.TypeSkip, "session_id": sid,
			}); err != nil {
				return err
			}
			if _, err := waitFor(bobIn[client.TypePartnerSkipped], *timeout); err != nil {
				return fmt.Errorf("bob never saw partner_skipped: %w", err)
			}
			select {
			case <-aliceIn[client.TypePenaltyApplied]:
				return nil
			case <-time.After(500 * time.Millisecond):
			}
			if i >= 4 {
				return fmt.Errorf("no penalty after %d skips", i+1)
			}
			sid = stepRematch(alice, bob, aliceIn, bobIn, *timeout)
			if sid == "" {
				return fmt.Errorf("rematch %d failed", i+1)
			}
		}
	})

	// ---- penalty blocks matching ----
	step("penalty blocks matching", func() error {
		if err := alice.Send(map[string]string{
			"type": client.TypeStartMatching, "mood": "chatty",
		}); err != nil {
			return err
		}
		raw, err := waitFor(aliceIn[client.TypeError], *timeout)
		if err != nil {
			return err
		}
		var m struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if m.Code != "penalty_active" {
			return fmt.Errorf("got error code %q, wanted penalty_active", m.Code)
		}
		return nil
	})

	fmt.Printf("\n%d passed, %d failed\n", passed, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// stepMatch runs the initial matchmaking handshake and returns the session ID.
func stepMatch(alice, bob *client.Client, aliceIn, bobIn map[string]chan json.RawMessage, timeout time.Duration) string {
	var sessionID string
	step("matchmaking", func() error {
		for _, c := range []*client.Client{alice, bob} {
			if err := c.Send(map[string]string{"type": client.TypeStartMatching, "mood": "chatty"}); err != nil {
				return err
			}
		}
		raw, err := waitFor(aliceIn[client.TypeMatchFound], timeout)
		if err != nil {
			return err
		}
		var m struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		if _, err := waitFor(bobIn[client.TypeMatchFound], timeout); err != nil {
			return fmt.Errorf("bob never matched: %w", err)
		}
		sessionID = m.SessionID
		return nil
	})
	if sessionID == "" {
		fmt.Println("cannot continue without a session")
		os.Exit(1)
	}
	return sessionID
}

// stepRematch re-queues both users and returns the new session ID, or "".
func stepRematch(alice, bob *client.Client, aliceIn, bobIn map[string]chan json.RawMessage, timeout time.Duration) string {
	drain(aliceIn[client.TypeMatchFound])
	drain(bobIn[client.TypeMatchFound])
	for _, c := range []*client.Client{alice, bob} {
		if err := c.Send(map[string]string{"type": client.TypeStartMatching, "mood": "chatty"}); err != nil {
			return ""
		}
	}
	raw, err := waitFor(aliceIn[client.TypeMatchFound], timeout)
	if err != nil {
		return ""
	}
	if _, err := waitFor(bobIn[client.TypeMatchFound], timeout); err != nil {
		return ""
	}
	var m struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.SessionID
}

func step(name string, fn func() error) {
	if err := fn(); err != nil {
		failed++
		fmt.Printf("FAIL  %-28s %v\n", name, err)
		return
	}
	passed++
	fmt.Printf("ok    %s\n", name)
}

func waitFor(ch chan json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	select {
	case raw := <-ch:
		return raw, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("timed out after %s", timeout)
	}
}

func drain(ch chan json.RawMessage) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func mustConnect(ctx context.Context, serverURL, token string) *client.Client {
	c, err := client.New(ctx, serverURL, token)
	if err != nil {
		log.Fatalf("connect %s: %v", token, err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.WaitForConnected(waitCtx); err != nil {
		log.Fatalf("handshake %s: %v", token, err)
	}
	return c
}
