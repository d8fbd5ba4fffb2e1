package matching

import (
	"context"
	"log"
	"time"
)

// Cleaner periodically drops queue entries whose owner went offline
// without dequeueing. The match scan already discards stale entries it
// encounters; the cleaner keeps the queue short between scans.
type Cleaner struct {
	queue    *Queue
	interval time.Duration
}

func NewCleaner(queue *Queue, interval time.Duration) *Cleaner {
	return &Cleaner{queue: queue, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := c.sweep(ctx); err != nil {
				log.Printf("[matching] cleanup sweep failed: %v", err)
			} else if removed > 0 {
				log.Printf("[matching] cleanup removed %d stale queue entries", removed)
			}
		}
	}
}

func (c *Cleaner) sweep(ctx context.Context) (int, error) {
	ids, err := c.queue.client.LRange(ctx, KeyGlobalQueue, 0, -1).Result()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, id := range ids {
		online, err := c.queue.presence.IsOnline(ctx, id)
		if err != nil {
			return removed, err
		}
		if online {
			continue
		}
		if err := c.queue.Remove(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
