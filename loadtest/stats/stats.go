// Package stats aggregates latency samples and counters collected during a
// load test run and prints percentile summaries.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Collector gathers samples from many concurrent client goroutines.
type Collector struct {
	mu        sync.Mutex
	samples   map[string][]time.Duration
	counters  map[string]int64
	startTime time.Time
}

// NewCollector returns an empty Collector. The run's wall clock starts now.
func NewCollector() *Collector {
	return &Collector{
		samples:   make(map[string][]time.Duration),
		counters:  make(map[string]int64),
		startTime: time.Now(),
	}
}

// Record adds a latency sample under the given name.
func (c *Collector) Record(name string, d time.Duration) {
	c.mu.Lock()
	c.samples[name] = append(c.samples[name], d)
	c.mu.Unlock()
}

// Incr increments a named counter.
func (c *Collector) Incr(name string) {
	c.mu.Lock()
	c.counters[name]++
	c.mu.Unlock()
}

// Add adds n to a named counter.
func (c *Collector) Add(name string, n int64) {
	c.mu.Lock()
	c.counters[name] += n
	c.mu.Unlock()
}

// Count returns the current value of a counter.
func (c *Collector) Count(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// Report prints a summary of all counters and latency percentiles.
func (c *Collector) Report() {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.startTime)
	fmt.Printf("\n========== RESULTS (after %s) ==========\n", elapsed.Round(time.Millisecond))

	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%-30s %d\n", name, c.counters[name])
	}

	sampleNames := make([]string, 0, len(c.samples))
	for name := range c.samples {
		sampleNames = append(sampleNames, name)
	}
	sort.Strings(sampleNames)
	for _, name := range sampleNames {
		printPercentiles(name, c.samples[name])
	}
	fmt.Println("=========================================")
}

func printPercentiles(name string, samples []time.Duration) {
	if len(samples) == 0 {
		return
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, s := range sorted {
		total += s
	}

	fmt.Printf("\n%s (%d samples):\n", name, len(sorted))
	fmt.Printf("  min:  %s\n", sorted[0].Round(time.Microsecond))
	fmt.Printf("  avg:  %s\n", (total / time.Duration(len(sorted))).Round(time.Microsecond))
	fmt.Printf("  p50:  %s\n", percentile(sorted, 50).Round(time.Microsecond))
	fmt.Printf("  p95:  %s\n", percentile(sorted, 95).Round(time.Microsecond))
	fmt.Printf("  p99:  %s\n", percentile(sorted, 99).Round(time.Microsecond))
	fmt.Printf("  max:  %s\n", sorted[len(sorted)-1].Round(time.Microsecond))
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
