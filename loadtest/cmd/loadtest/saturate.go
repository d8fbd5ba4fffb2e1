package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bakaiti/server/loadtest/client"
	"github.com/bakaiti/server/loadtest/stats"
)

// runSaturate opens connections at a fixed ramp rate and holds them open
// until interrupted, exercising the epoll reactor and connection limits.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	var (
		serverURL  = fs.String("url", "ws://localhost:8080/ws", "server WebSocket URL")
		total      = fs.Int("connections", 1000, "total connections to open")
		rampRate   = fs.Int("ramp", 100, "connections opened per second")
		hold       = fs.Duration("hold", 60*time.Second, "how long to hold after ramp completes")
		pingEvery  = fs.Duration("ping-every", 20*time.Second, "keepalive ping interval per connection")
		metricsURL = fs.String("metrics-url", "", "server metrics endpoint to scrape (optional)")
	)
	fs.Parse(args)

	collector := stats.NewCollector()
	var scraper *stats.Scraper
	if *metricsURL != "" {
		scraper = stats.NewScraper(*metricsURL, 5*time.Second)
		scraper.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("interrupted, tearing down")
		cancel()
	}()

	log.Printf("saturate: %d connections at %d/s against %s", *total, *rampRate, *serverURL)

	var wg sync.WaitGroup
	interval := time.Second / time.Duration(*rampRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

ramp:
	for i := 0; i < *total; i++ {
		select {
		case <-ctx.Done():
			break ramp
		case <-ticker.C:
		}

		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			holdConnection(ctx, *serverURL, fmt.Sprintf("sat-%d", n), *pingEvery, collector)
		}(i)

		if (i+1)%500 == 0 {
			log.Printf("ramp: %d connections opened", i+1)
		}
	}

	log.Printf("ramp complete, holding for %s", *hold)
	select {
	case <-ctx.Done():
	case <-time.After(*hold):
	}
	cancel()
	wg.Wait()

	if scraper != nil {
		scraper.Stop()
		scraper.Report()
	}
	collector.Report()
}

func holdConnection(ctx context.Context, serverURL, token string, pingEvery time.Duration, collector *stats.Collector) {
	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.New(dialCtx, serverURL, token)
	dialCancel()
	if err != nil {
		collector.Incr("connect_errors")
		return
	}
	defer c.Close()

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	err = c.WaitForConnected(waitCtx)
	waitCancel()
	if err != nil {
		collector.Incr("handshake_errors")
		return
	}
	collector.Incr("connected")
	collector.Record("connect_latency", c.GetMetrics().ConnectLatency)

	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Send(map[string]string{"type": client.TypePing}); err != nil {
				collector.Incr("send_errors")
				return
			}
		}
	}
}
