package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bakaiti/server/loadtest/client"
	"github.com/bakaiti/server/loadtest/stats"
)

// runMatch pushes N pairs of users through the matchmaking flow and measures
// the time from start_matching to match_found. Both users in a pair request
// the same mood so the mood queue, not the global fallback, serves them.
func runMatch(args []string) {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	var (
		serverURL    = fs.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
		pairs        = fs.Int("pairs", 100, "number of user pairs to match")
		concurrency  = fs.Int("concurrency", 20, "pairs matched concurrently")
		matchTimeout = fs.Duration("match-timeout", 15*time.Second, "max wait for match_found")
		mood         = fs.String("mood", "chatty", "mood both sides request")
		metricsURL   = fs.String("metrics-url", "", "server metrics endpoint to scrape (optional)")
	)
	fs.Parse(args)

	collector := stats.NewCollector()
	var scraper *stats.Scraper
	if *metricsURL != "" {
		scraper = stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start()
	}

	log.Printf("match: %d pairs, %d concurrent, mood=%s, against %s",
		*pairs, *concurrency, *mood, *serverURL)

	sem := make(chan struct{}, *concurrency)
	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		sem <- struct{}{}
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			defer func() { <-sem }()
			runPair(*serverURL, n, *mood, *matchTimeout, collector)
		}(i)
	}
	wg.Wait()

	if scraper != nil {
		scraper.Stop()
		scraper.Report()
	}
	collector.Report()
}

// runPair connects two clients, has both enter the queue, and waits for each
// to receive match_found.
func runPair(serverURL string, n int, mood string, timeout time.Duration, collector *stats.Collector) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+20*time.Second)
	defer cancel()

	a, err := connectUser(ctx, serverURL, fmt.Sprintf("match-%d-a", n))
	if err != nil {
		collector.Incr("connect_errors")
		return
	}
	defer a.Close()

	b, err := connectUser(ctx, serverURL, fmt.Sprintf("match-%d-b", n))
	if err != nil {
		collector.Incr("connect_errors")
		return
	}
	defer b.Close()
	collector.Add("connected", 2)

	matchedA := make(chan matchInfo, 1)
	matchedB := make(chan matchInfo, 1)
	watchForMatch(a, matchedA)
	watchForMatch(b, matchedB)

	start := time.Now()
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
			collector.Record("match_latency", time.Since(start))
			sessionID = m.SessionID
		case m := <-matchedB:
			collector.Record("match_latency", time.Since(start))
			sessionID = m.SessionID
		case <-time.After(timeout):
			collector.Incr("match_timeouts")
			return
		}
	}
	collector.Incr("pairs_matched")

	// Tear down cleanly so queue state does not leak into the next run.
	if err := a.Send(map[string]string{"type": client.TypeEndChat, "session_id": sessionID}); err != nil {
		collector.Incr("send_errors")
	}
	time.Sleep(100 * time.Millisecond)
}

// matchInfo is the slice of match_found the load test cares about.
type matchInfo struct {
	SessionID string `json:"session_id"`
}

func watchForMatch(c *client.Client, ch chan matchInfo) {
	c.On(client.TypeMatchFound, func(raw json.RawMessage) {
		var m matchInfo
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		select {
		case ch <- m:
		default:
		}
	})
}

// connectUser dials and waits for the server's connected confirmation.
func connectUser(ctx context.Context, serverURL, token string) (*client.Client, error) {
	c, err := client.New(ctx, serverURL, token)
	if err != nil {
		return nil, err
	}
	if err := c.WaitForConnected(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
