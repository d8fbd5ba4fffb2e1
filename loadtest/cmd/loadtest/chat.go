package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bakaiti/server/loadtest/client"
	"github.com/bakaiti/server/loadtest/stats"
)

// runChat matches pairs and then has both sides exchange messages for the
// test duration. Each message embeds a send timestamp so the receiver can
// measure end to end relay latency through the session bus.
func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	var (
		serverURL    = fs.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
		pairs        = fs.Int("pairs", 50, "number of chatting pairs")
		duration     = fs.Duration("duration", 30*time.Second, "how long each pair chats")
		msgInterval  = fs.Duration("msg-interval", 1200*time.Millisecond, "delay between messages per side (server caps at 10 per 10s)")
		matchTimeout = fs.Duration("match-timeout", 15*time.Second, "max wait for match_found")
		mood         = fs.String("mood", "chatty", "mood both sides request")
		metricsURL   = fs.String("metrics-url", "", "server metrics endpoint to scrape (optional)")
	)
	fs.Parse(args)

	collector := stats.NewCollector()
	var scraper *stats.Scraper
	if *metricsURL != "" {
		scraper = stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start()
	}

	log.Printf("chat: %d pairs for %s, message every %s, against %s",
		*pairs, *duration, *msgInterval, *serverURL)

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runChatPair(*serverURL, n, *mood, *matchTimeout, *duration, *msgInterval, collector)
		}(i)
		// Stagger pair startup so matching does not stampede.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	if scraper != nil {
		scraper.Stop()
		scraper.Report()
	}
	collector.Report()
}

func runChatPair(serverURL string, n int, mood string, matchTimeout, duration, msgInterval time.Duration, collector *stats.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), matchTimeout+duration+30*time.Second)
	defer cancel()

	a, err := connectUser(ctx, serverURL, fmt.Sprintf("chat-%d-a", n))
	if err != nil {
		collector.Incr("connect_errors")
		return
	}
	defer a.Close()

	b, err := connectUser(ctx, serverURL, fmt.Sprintf("chat-%d-b", n))
	if err != nil {
		collector.Incr("connect_errors")
		return
	}
	defer b.Close()

	matchedA := make(chan matchInfo, 1)
	matchedB := make(chan matchInfo, 1)
	watchForMatch(a, matchedA)
	watchForMatch(b, matchedB)
	watchForRelay(a, collector)
	watchForRelay(b, collector)

	if err := a.Send(map[string]string{"type": client.TypeStartMatching, "mood": mood}); err != nil {
		collector.Incr("send_errors")
		return
	}
	if err := b.Send(map[string]string{"type": client.TypeStartMatching, "mood": mood}); err != nil {
		collector.Incr("send_errors")
		return
	}

	var sessionID string
	for i := 0; i < 2; i++ {
		select {
		case m := <-matchedA:
			sessionID = m.SessionID
		case m := <-matchedB:
			sessionID = m.SessionID
		case <-time.After(matchTimeout):
			collector.Incr("match_timeouts")
			return
		}
	}
	collector.Incr("pairs_matched")

	var chatWG sync.WaitGroup
	chatWG.Add(2)
	go chatLoop(ctx, a, sessionID, duration, msgInterval, collector, &chatWG)
	go chatLoop(ctx, b, sessionID, duration, msgInterval, collector, &chatWG)
	chatWG.Wait()

	if err := a.Send(map[string]string{"type": client.TypeEndChat, "session_id": sessionID}); err != nil {
		collector.Incr("send_errors")
	}
	time.Sleep(100 * time.Millisecond)
}

// chatLoop sends timestamped messages at a fixed interval for the duration.
func chatLoop(ctx context.Context, c *client.Client, sessionID string, duration, interval time.Duration, collector *stats.Collector, wg *sync.WaitGroup) {
	defer wg.Done()
	deadline := time.Now().Add(duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		text := fmt.Sprintf("loadtest %d hello from a friendly robot", time.Now().UnixNano())
		msg := map[string]string{
			"type":       client.TypeSendMessage,
			"session_id": sessionID,
			"text":       text,
		}
		if err := c.Send(msg); err != nil {
			collector.Incr("send_errors")
			return
		}
		collector.Incr("messages_sent")
	}
}

// watchForRelay records relay latency for new_message events that carry the
// embedded send timestamp, skipping the sender's own echoes.
func watchForRelay(c *client.Client, collector *stats.Collector) {
	c.On(client.TypeNewMessage, func(raw json.RawMessage) {
		var m struct {
			SenderID string `json:"sender_id"`
			Text     string `json:"text"`
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		if m.SenderID == c.UserID() {
			return
		}
		collector.Incr("messages_received")
		if ts, ok := extractTimestamp(m.Text); ok {
			collector.Record("relay_latency", time.Since(time.Unix(0, ts)))
		}
	})
}

// extractTimestamp parses the nanosecond timestamp embedded in loadtest
// message text ("loadtest <nanos> ...").
func extractTimestamp(text string) (int64, bool) {
	fields := strings.Fields(text)
	if len(fields) < 2 || fields[0] != "loadtest" {
		return 0, false
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
