package ws

import (
	"log"
	"time"

	"github.com/bakaiti/server/internal/protocol"
)

// MessageHandler receives the concrete struct ParseClientMessage produced
// for the registered type (protocol.StartMatchingMsg and friends, passed
// by value).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes parsed client messages to per-type handlers.
// JSON-level ping/pong is answered here so handlers never see it; parse
// failures and unknown types get a structured error back on the socket.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
	server   *Server
}

// NewMessageDispatcher builds a dispatcher. server may be nil at this
// point: NewServer wants Dispatch as its callback, so the dispatcher is
// usually built first and given the server via SetServer.
func NewMessageDispatcher(server *Server) *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
		server:   server,
	}
}

func (d *MessageDispatcher) SetServer(server *Server) {
	d.server = server
}

// Register installs the handler for a message type, replacing any
// previous one. All registration happens before Start, so no locking.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch parses raw frame bytes and routes them. It runs on a read
// worker goroutine.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: bad frame from user=%s: %v", conn.UserID, err)
		d.replyError(conn, "parse_error", "invalid message format")
		return
	}

	if msgType == protocol.TypePing {
		d.replyPong(conn)
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: no handler for type=%q from user=%s", msgType, conn.UserID)
		d.replyError(conn, "unsupported_type", "unsupported message type")
		return
	}
	handler(conn, msg)
}

func (d *MessageDispatcher) replyError(conn *Connection, code, message string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: encode error reply for user=%s: %v", conn.UserID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: send error reply to user=%s: %v", conn.UserID, err)
	}
}

// replyPong answers a JSON-level ping. The ping also counts as liveness
// for the heartbeat sweep.
func (d *MessageDispatcher) replyPong(conn *Connection) {
	conn.LastPing = time.Now()
	data, err := protocol.NewServerMessage(protocol.TypePong, protocol.PongMsg{})
	if err != nil {
		log.Printf("ws: encode pong for user=%s: %v", conn.UserID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: send pong to user=%s: %v", conn.UserID, err)
	}
}
