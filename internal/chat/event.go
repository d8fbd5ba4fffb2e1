package chat

import "encoding/json"

// SessionEvent is the payload published to NATS session.<session_id>
// subjects. Every server instance holding a participant's connection
// receives it and forwards Payload, an already-encoded server message,
// to its local participants.
type SessionEvent struct {
	Type    string          `json:"type"`         // mirrors the server message type
	From    string          `json:"from"`         // sender's user ID, excluded from delivery
	To      string          `json:"to,omitempty"` // when set, deliver only to this user
	Payload json.RawMessage `json:"payload"`      // server message to forward verbatim
	Ts      int64           `json:"ts,omitempty"` // unix millis at publish
}
