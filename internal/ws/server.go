// Package ws handles WebSocket connection management, including
// authenticating and upgrading HTTP connections, maintaining active
// client connections, and dispatching incoming messages to the
// appropriate handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/bakaiti/server/internal/identity"
	"github.com/bakaiti/server/internal/metrics"
	"github.com/bakaiti/server/internal/presence"
	"github.com/bakaiti/server/internal/protocol"
	"github.com/bakaiti/server/internal/ratelimit"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// authenticates and upgrades HTTP connections, registers them with the
// poller for I/O readiness notifications, and dispatches ready
// connections to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	poller       *Poller
	conns        *ConnectionManager
	verifier     identity.Verifier
	presence     *presence.Registry
	connLimiter  *ratelimit.Limiter // optional per-IP upgrade throttle
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    func(conn *Connection)              // called after a connection is registered
	onDisconnect func(conn *Connection)              // called when a connection is removed
	httpServer   *http.Server
	bufPool      sync.Pool // pool of reusable read buffers
	done         chan struct{}
	startedAt    time.Time // server start time for uptime calculation
}

// NewServer creates a Server with the given configuration, identity
// verifier, presence registry, and message callback. The onMessage
// function is called from a worker goroutine whenever a complete
// WebSocket text frame is received from a client.
func NewServer(config ServerConfig, verifier identity.Verifier, pr *presence.Registry, onMessage func(conn *Connection, data []byte)) *Server {
	s := &Server{
		config:     config,
		conns:      NewConnectionManager(),
		verifier:   verifier,
		presence:   pr,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
		bufPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 4096)
				return &buf
			},
		},
	}

	return s
}

// Start initializes the poller, configures the HTTP server, and begins
// accepting WebSocket connections. It starts the readiness event loop in a
// background goroutine and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create poller: %w", err)
	}

	s.startedAt = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: mux,
	}

	// Start the readiness event loop in the background.
	go s.startEventLoop()

	// Start the heartbeat monitor to detect and close dead connections.
	StartHeartbeat(s, DefaultHeartbeatConfig())

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d)",
		s.config.ListenAddr, s.config.WorkerPoolSize, s.config.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request's token, then upgrades to a
// WebSocket connection using the gobwas/ws zero-copy upgrader. Rejected
// tokens never reach the upgrade. On success the Connection is created
// carrying the verified identity, registered with the connection
// manager and the poller, and marked online.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Enforce maximum connection limit.
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	// Per-IP throttle catches reconnect storms before token verification
	// spends a round trip on them.
	if s.connLimiter != nil {
		if ok, _ := s.connLimiter.Allow(r.Context(), clientIP(r), ratelimit.RuleConnect); !ok {
			http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
			return
		}
	}

	token := requestToken(r)
	verifyCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	ident, err := s.verifier.Verify(verifyCtx, token)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidToken):
			http.Error(w, "invalid token", http.StatusUnauthorized)
		case errors.Is(err, identity.ErrSuspended):
			http.Error(w, "account suspended", http.StatusForbidden)
		default:
			log.Printf("ws: token verification failed: %v", err)
			http.Error(w, "verification unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	// Upgrade the HTTP connection to WebSocket.
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	// One connection per user: a reconnect evicts the previous one.
	if old := s.conns.GetByUser(ident.UserID); old != nil {
		log.Printf("ws: replacing connection for user=%s", ident.UserID)
		s.RemoveConnection(old)
	}

	fd := connFD(conn)
	c := &Connection{
		ID:          uuid.New().String(),
		UserID:      ident.UserID,
		DisplayName: ident.DisplayName,
		Conn:        conn,
		Fd:          fd,
		CreatedAt:   time.Now(),
		LastPing:    time.Now(),
	}

	// Register the connection in the manager and the poller.
	s.conns.Add(c)
	if err := s.poller.Register(conn); err != nil {
		log.Printf("ws: poller register failed for conn %s: %v", c.ID, err)
		s.conns.Remove(c.ID)
		return
	}

	// Mark the user online so the matchmaker can see them, and publish the
	// display profile other instances use to describe this user.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := s.presence.Touch(ctx, ident.UserID, c.ID); err != nil {
		log.Printf("ws: presence touch failed for user %s: %v", ident.UserID, err)
	}
	if err := s.presence.SetProfile(ctx, ident.UserID, presence.Profile{
		DisplayName: ident.DisplayName,
		PhotoURL:    ident.PhotoURL,
	}); err != nil {
		log.Printf("ws: profile store failed for user %s: %v", ident.UserID, err)
	}
	cancel()

	metrics.ConnectionsTotal.Inc()

	// Confirm the connection to the client.
	connectedMsg, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{
		UserID:      ident.UserID,
		DisplayName: ident.DisplayName,
	})
	if err != nil {
		log.Printf("ws: failed to build connected message for %s: %v", c.ID, err)
	} else if err := c.WriteMessage(connectedMsg); err != nil {
		log.Printf("ws: failed to send connected message for %s: %v", c.ID, err)
	}

	if s.onConnect != nil {
		s.onConnect(c)
	}

	log.Printf("ws: new connection user=%s conn=%s fd=%d (total=%d)",
		ident.UserID, c.ID, fd, s.conns.Count())
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime. It is used by load balancers for
// health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the readiness wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.poller.WaitReady()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: poll wait error: %v", err)
				continue
			}
		}

		for _, conn := range conns {
			conn := conn // capture for goroutine

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed from
// the poller and the connection manager.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale poller wakeup).
		// Don't kill the connection; the heartbeat sweep evicts dead ones.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Clear read deadline after successful frame read.
	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.LastPing = time.Now()

	// Handle control frames without removing the connection.
	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
		}
		// Pong/ping: connection is alive, nothing else to do.
		return
	}

	// Read data frame payload.
	data := make([]byte, header.Length)
	if header.Length > 0 {
		_, err = io.ReadFull(reader, data)
		if err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// SetOnConnect registers a callback invoked after a new connection is
// registered and confirmed to the client.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, or graceful close). It runs before
// the presence marker is cleared, so the handler can inspect user state.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// SetConnLimiter enables per-IP throttling of upgrade attempts.
func (s *Server) SetConnLimiter(l *ratelimit.Limiter) {
	s.connLimiter = l
}

// requestToken pulls the auth token from the query string, falling back
// to an Authorization bearer header for clients that keep credentials
// out of URLs.
func requestToken(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// clientIP is the throttling identity for an upgrade attempt: the host
// part of the peer address, port stripped so reconnects count together.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RemoveConnection removes a connection from both the poller and the
// connection manager, and closes the underlying network connection. It is
// exported so that the heartbeat monitor can evict dead connections.
func (s *Server) RemoveConnection(c *Connection) {
	_ = s.poller.Unregister(c.Conn)

	// Guard: only proceed if the connection was actually in the manager.
	// This prevents double cleanup when multiple goroutines race to remove
	// the same connection (e.g., read error + heartbeat timeout).
	if !s.conns.Remove(c.ID) {
		return
	}

	metrics.ConnectionsTotal.Dec()

	// Notify application layer before clearing presence.
	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	// Clear the online marker unless a newer connection owns it.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if connID, err := s.presence.ConnID(ctx, c.UserID); err != nil {
		log.Printf("ws: presence lookup for user %s: %v", c.UserID, err)
	} else if connID == c.ID {
		if err := s.presence.Clear(ctx, c.UserID); err != nil {
			log.Printf("ws: presence clear for user %s: %v", c.UserID, err)
		}
	}

	log.Printf("ws: connection closed user=%s conn=%s (total=%d)", c.UserID, c.ID, s.conns.Count())
}

// SendToUser writes a WebSocket text frame to the user's current
// connection on this instance. It is goroutine-safe thanks to the
// per-connection write mutex.
func (s *Server) SendToUser(userID string, data []byte) error {
	c := s.conns.GetByUser(userID)
	if c == nil {
		return fmt.Errorf("ws: user %s not connected", userID)
	}

	if s.config.WriteTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}

	err := c.WriteMessage(data)

	// Clear write deadline so it doesn't affect future writes (e.g., heartbeat pings).
	_ = c.Conn.SetWriteDeadline(time.Time{})

	return err
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat or handler layer).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections,
// and releases the poller.
func (s *Server) Shutdown() error {
	log.Println("ws: shutting down server...")

	// Signal the event loop to stop.
	close(s.done)

	// Stop accepting new HTTP connections with a deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("ws: http shutdown error: %v", err)
	}

	// Clear presence and close all active WebSocket connections.
	for _, c := range s.conns.All() {
		clearCtx, clearCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.presence.Clear(clearCtx, c.UserID)
		clearCancel()
		_ = s.poller.Unregister(c.Conn)
		c.Close()
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return nil
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
