package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// Liveness policy: a connection must show a successful read every
// heartbeatEvery + heartbeatGrace or it is evicted. Pings go out on every
// sweep; any frame the client sends back (pong included) refreshes
// LastPing on the read path.
const (
	heartbeatEvery = 30 * time.Second
	heartbeatGrace = 10 * time.Second
)

// HeartbeatConfig tunes the liveness sweep.
type HeartbeatConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: heartbeatEvery, Timeout: heartbeatGrace}
}

// StartHeartbeat launches the sweep goroutine. It returns immediately and
// the goroutine exits with the server's done channel.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-server.done:
				return
			case now := <-ticker.C:
				sweepConnections(server, config, now)
			}
		}
	}()
}

// sweepConnections evicts connections whose last read is older than the
// liveness deadline and pings the rest. A failed ping write also evicts,
// since the socket is clearly gone.
func sweepConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout
	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastPing)
		if idle > deadline {
			log.Printf("ws: evicting user=%s after %s idle", c.UserID, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}
		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping to user=%s: %v", c.UserID, err)
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a protocol-level ping frame. The write mutex keeps it
// from interleaving with application frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
