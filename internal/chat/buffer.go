package chat

import "sync"

// MaxBufferMessages is the number of recent messages retained per session.
const MaxBufferMessages = 20

// BufferedMessage represents a single message stored in the ring buffer.
type BufferedMessage struct {
	From string `json:"from"` // user ID of sender
	Text string `json:"text"`
	Kind string `json:"kind"` // "text" or "image"
	Ts   int64  `json:"ts"`
}

// MessageBuffer stores the last N messages per session in memory, for
// replay after a brief reconnect. It is goroutine-safe and uses a ring
// buffer internally.
type MessageBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // sessionID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of BufferedMessage.
type ringBuffer struct {
	items []BufferedMessage
	pos   int
	count int
}

// NewMessageBuffer creates a new empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{
		buffers: make(map[string]*ringBuffer),
	}
}

// Add appends a message to the session's ring buffer. If the buffer is
// full, the oldest message is overwritten.
func (mb *MessageBuffer) Add(sessionID string, msg BufferedMessage) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rb, ok := mb.buffers[sessionID]
	if !ok {
		rb = &ringBuffer{
			items: make([]BufferedMessage, MaxBufferMessages),
		}
		mb.buffers[sessionID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferMessages
	if rb.count < MaxBufferMessages {
		rb.count++
	}
}

// Get returns the buffered messages for a session in chronological
// order (oldest first). Returns an empty slice if the session has no
// buffer.
func (mb *MessageBuffer) Get(sessionID string) []BufferedMessage {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[sessionID]
	if !ok {
		return []BufferedMessage{}
	}

	out := make([]BufferedMessage, 0, rb.count)
	start := rb.pos - rb.count
	if start < 0 {
		start += MaxBufferMessages
	}
	for i := 0; i < rb.count; i++ {
		out = append(out, rb.items[(start+i)%MaxBufferMessages])
	}
	return out
}

// Len returns how many messages are buffered for a session.
func (mb *MessageBuffer) Len(sessionID string) int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[sessionID]
	if !ok {
		return 0
	}
	return rb.count
}

// Drop discards the session's buffer. Called when the session ends.
func (mb *MessageBuffer) Drop(sessionID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.buffers, sessionID)
}
