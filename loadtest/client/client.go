// Package client provides a reusable WebSocket load test client for the
// Bakaiti chat server. It connects using gobwas/ws (the same library the
// server uses), authenticates with a token query parameter, and tracks
// per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol message types (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeStartMatching  = "start_matching"
	TypeStopMatching   = "stop_matching"
	TypeSendMessage    = "send_message"
	TypeTyping         = "typing"
	TypeProposeTheme   = "propose_theme"
	TypeAcceptTheme    = "accept_theme"
	TypeStartWordBomb  = "start_word_bomb"
	TypeWordBombAnswer = "word_bomb_answer"
	TypeSessionPing    = "session_ping"
	TypeSkip           = "skip"
	TypeEndChat        = "end_chat"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeConnected       = "connected"
	TypeMatchingStatus  = "matching_status"
	TypeMatchFound      = "match_found"
	TypeNewMessage      = "new_message"
	TypePartnerTyping   = "partner_typing"
	TypeSameVibe        = "same_vibe"
	TypePenaltyApplied  = "penalty_applied"
	TypeSessionEnded    = "session_ended"
	TypePartnerSkipped  = "partner_skipped"
	TypePartnerLeft     = "partner_left"
	TypeThemeProposed   = "theme_proposed"
	TypeThemeChanged    = "theme_changed"
	TypeWordBombStarted = "word_bomb_started"
	TypeWordBombWon     = "word_bomb_won"
	TypeSessionPong     = "session_pong"
	TypeError           = "error"
	TypePong            = "pong"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency   time.Duration
	MatchLatency     time.Duration
	MessagesReceived int
	MessagesSent     int
	Errors           int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection. It manages the
// WebSocket lifecycle, dispatches incoming messages to registered handlers,
// and records the user ID assigned on connect.
type Client struct {
	conn      net.Conn
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
}

// New connects to the server with the given token. The server's connected
// message is handled internally to capture the assigned user ID; all other
// messages are dispatched to registered handlers.
func New(ctx context.Context, baseURL, token string) (*Client, error) {
	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, baseURL+"?token="+url.QueryEscape(token))
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends a JSON message to the server. It is goroutine-safe.
func (c *Client) Send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.MessagesSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// On registers a handler for a server message type. The handler receives the
// full raw JSON of the message for flexible decoding. Handlers run on the
// read loop goroutine so they should not block for extended periods. Only
// one handler per type is supported; registering again replaces the first.
func (c *Client) On(msgType string, handler func(json.RawMessage)) {
	c.handlers[msgType] = handler
}

// WaitForConnected blocks until the server has confirmed the connection or
// the context is cancelled.
func (c *Client) WaitForConnected(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("connection closed before the server confirmed it")
		case <-ticker.C:
			if c.UserID() != "" {
				return nil
			}
		}
	}
}

// Close closes the connection and stops the read loop. Safe to call twice.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// UserID returns the user ID confirmed by the server, or "".
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// RecordMatchLatency stores the time a match took for this client.
func (c *Client) RecordMatchLatency(d time.Duration) {
	c.mu.Lock()
	c.metrics.MatchLatency = d
	c.mu.Unlock()
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// readLoop continuously reads frames and dispatches them to handlers. It
// runs until the connection is closed or an unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Intentional close, not an error.
				return
			default:
			}
			c.mu.Lock()
			c.metrics.Errors++
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		c.metrics.MessagesReceived++
		c.mu.Unlock()

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		// Capture the user ID from the connected message.
		if envelope.Type == TypeConnected {
			var msg struct {
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal(data, &msg); err == nil && msg.UserID != "" {
				c.mu.Lock()
				c.userID = msg.UserID
				c.mu.Unlock()
			}
		}

		if handler, ok := c.handlers[envelope.Type]; ok {
			handler(json.RawMessage(data))
		}
	}
}
