package stats

import (
	"bufio"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Scraper periodically pulls the server's Prometheus endpoint during a load
// test run so server-side numbers can be printed next to client-side ones.
type Scraper struct {
	url      string
	interval time.Duration

	mu        sync.Mutex
	snapshots []map[string]float64
	stop      chan struct{}
	done      chan struct{}
}

// NewScraper returns a Scraper that polls url every interval.
func NewScraper(url string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      url,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins scraping in the background.
func (s *Scraper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.scrapeOnce()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.scrapeOnce()
			}
		}
	}()
}

// Stop halts scraping and waits for the background goroutine to exit.
func (s *Scraper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scraper) scrapeOnce() {
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(s.url)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	snapshot := make(map[string]float64)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := parseMetricLine(line)
		if !ok {
			continue
		}
		// Labeled series for the same metric are summed.
		snapshot[name] += value
	}

	s.mu.Lock()
	s.snapshots = append(s.snapshots, snapshot)
	s.mu.Unlock()
}

// parseMetricLine parses "name{labels} value" or "name value" lines.
func parseMetricLine(line string) (string, float64, bool) {
	sp := strings.LastIndexByte(line, ' ')
	if sp < 0 {
		return "", 0, false
	}
	value, err := strconv.ParseFloat(line[sp+1:], 64)
	if err != nil {
		return "", 0, false
	}
	name := line[:sp]
	if brace := strings.IndexByte(name, '{'); brace >= 0 {
		name = name[:brace]
	}
	return name, value, true
}

// Report prints the server-side view of the run: peak gauges, final
// counters, and histogram averages for the metrics the chat server exposes.
func (s *Scraper) Report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.snapshots) == 0 {
		fmt.Println("\n(no server metrics scraped)")
		return
	}
	last := s.snapshots[len(s.snapshots)-1]

	fmt.Printf("\n========== SERVER METRICS (%d scrapes) ==========\n", len(s.snapshots))
	fmt.Printf("%-34s %.0f (peak %.0f)\n", "connections", last["chatserver_connections_total"], s.peakValue("chatserver_connections_total"))
	fmt.Printf("%-34s %.0f (peak %.0f)\n", "active sessions", last["chatserver_active_sessions"], s.peakValue("chatserver_active_sessions"))
	fmt.Printf("%-34s %.0f (peak %.0f)\n", "match queue size", last["chatserver_match_queue_size"], s.peakValue("chatserver_match_queue_size"))
	fmt.Printf("%-34s %.0f\n", "messages total", last["chatserver_messages_total"])
	fmt.Printf("%-34s %.0f\n", "ghost conversions", last["chatserver_ghost_conversions_total"])
	fmt.Printf("%-34s %.0f\n", "skips", last["chatserver_skips_total"])
	fmt.Printf("%-34s %.0f\n", "penalties", last["chatserver_penalties_total"])
	printHistogramAvg(last, "match wait", "chatserver_match_wait_seconds")
	printHistogramAvg(last, "responder latency", "chatserver_responder_latency_seconds")
	fmt.Println("=================================================")
}

// peakValue returns the maximum value a metric reached across all scrapes.
func (s *Scraper) peakValue(name string) float64 {
	var peak float64
	for _, snap := range s.snapshots {
		if v, ok := snap[name]; ok && v > peak {
			peak = v
		}
	}
	return peak
}

func printHistogramAvg(snapshot map[string]float64, label, name string) {
	count := snapshot[name+"_count"]
	if count == 0 {
		return
	}
	avg := snapshot[name+"_sum"] / count
	fmt.Printf("%-34s %.3fs avg over %.0f samples\n", label, avg, count)
}
