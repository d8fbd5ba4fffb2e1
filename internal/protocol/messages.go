// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeStartMatching  = "start_matching"
	TypeStopMatching   = "stop_matching"
	TypeSendMessage    = "send_message"
	TypeSendImage      = "send_image"
	TypeTyping         = "typing"
	TypeReactMessage   = "react_message"
	TypeGhostMessage   = "ghost_message"
	TypeProposeTheme   = "propose_theme"
	TypeAcceptTheme    = "accept_theme"
	TypeRejectTheme    = "reject_theme"
	TypeStartWordBomb  = "start_word_bomb"
	TypeWordBombAnswer = "word_bomb_answer"
	TypeSessionPing    = "session_ping"
	TypeCallRequest    = "call_request"
	TypeCallAccept     = "call_accept"
	TypeCallReject     = "call_reject"
	TypeWebRTCOffer    = "webrtc_offer"
	TypeWebRTCAnswer   = "webrtc_answer"
	TypeWebRTCIce      = "webrtc_ice"
	TypeCallEnd        = "call_end"
	TypeSkip           = "skip"
	TypeEndChat        = "end_chat"
	TypeReport         = "report"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeConnected           = "connected"
	TypeMatchingStatus      = "matching_status"
	TypeMatchFound          = "match_found"
	TypeNewMessage          = "new_message"
	TypePartnerTyping       = "partner_typing"
	TypeSameVibe            = "same_vibe"
	TypePenaltyApplied      = "penalty_applied"
	TypeSessionEnded        = "session_ended"
	TypePartnerSkipped      = "partner_skipped"
	TypePartnerLeft         = "partner_left"
	TypePartnerDisconnected = "partner_disconnected"
	TypeMessageGhosted      = "message_ghosted"
	TypeMessageReaction     = "message_reaction"
	TypeThemeProposed       = "theme_proposed"
	TypeThemeChanged        = "theme_changed"
	TypeThemeRejected       = "theme_rejected"
	TypeWordBombStarted     = "word_bomb_started"
	TypeWordBombWon         = "word_bomb_won"
	TypeWordBombWrong       = "word_bomb_wrong"
	TypeWordBombError       = "word_bomb_error"
	TypeSessionPong         = "session_pong"
	TypeIncomingCall        = "incoming_call"
	TypeCallAccepted        = "call_accepted"
	TypeCallRejected        = "call_rejected"
	TypeCallEnded           = "call_ended"
	TypeError               = "error"
	TypePong                = "pong"
)

// Matching status values carried by MatchingStatusMsg.
const (
	StatusSearching      = "searching"
	StatusStopped        = "stopped"
	StatusAlreadyInQueue = "already_in_queue"
)

// Session-ended reasons. Skip and leave are distinct: skipping feeds the
// abuse guard, leaving does not.
const (
	ReasonYouSkipped     = "you_skipped"
	ReasonYouEnded       = "you_ended"
	ReasonConnectionLost = "connection_lost"
	ReasonExpired        = "expired"
)

// ---------------------------------------------------------------------------
// Envelope is the first-pass JSON shape used to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// StartMatchingMsg is sent by the client to request a partner with an
// optional mood tag. An empty mood is treated as "random".
type StartMatchingMsg struct {
	Type string `json:"type"`
	Mood string `json:"mood"`
}

// StopMatchingMsg is sent by the client to leave the matching queue.
type StopMatchingMsg struct {
	Type string `json:"type"`
}

// SendMessageMsg is a text message sent by the client within a session.
type SendMessageMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// SendImageMsg is an ephemeral image message. ExpirySeconds controls how long
// the image stays visible on the partner's client (default 30).
type SendImageMsg struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	ImageURL      string `json:"image_url"`
	ExpirySeconds int    `json:"expiry_seconds"`
}

// TypingMsg indicates whether the client is currently typing.
type TypingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	IsTyping  bool   `json:"is_typing"`
}

// ReactMessageMsg attaches (or clears, with an empty emoji) a reaction to a
// message identified by its index in the conversation.
type ReactMessageMsg struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	MessageIndex int    `json:"message_index"`
	Emoji        string `json:"emoji"`
}

// GhostMessageMsg marks a message as "ghosted" (blurred) for both sides.
type GhostMessageMsg struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	MessageIndex int    `json:"message_index"`
	IsGhosted    bool   `json:"is_ghosted"`
}

// ProposeThemeMsg proposes a mood-lighting theme change to the partner.
type ProposeThemeMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Theme     string `json:"theme"`
}

// AcceptThemeMsg accepts a proposed theme; the session record is updated.
type AcceptThemeMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Theme     string `json:"theme"`
}

// RejectThemeMsg rejects a proposed theme.
type RejectThemeMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// StartWordBombMsg starts a word-bomb round in the session.
type StartWordBombMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// WordBombAnswerMsg submits an answer to the active word-bomb round.
type WordBombAnswerMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// SessionPingMsg asks the server whether a session is still alive.
type SessionPingMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// CallRequestMsg asks the partner to start an audio or video call.
type CallRequestMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	CallType  string `json:"call_type"` // "audio" | "video"
}

// CallAcceptMsg accepts an incoming call.
type CallAcceptMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// CallRejectMsg rejects an incoming call.
type CallRejectMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SDPPayload is the minimal shape of a WebRTC session description we relay.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// WebRTCOfferMsg relays an SDP offer to the partner.
type WebRTCOfferMsg struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Offer     *SDPPayload `json:"offer"`
}

// WebRTCAnswerMsg relays an SDP answer to the partner.
type WebRTCAnswerMsg struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Answer    *SDPPayload `json:"answer"`
}

// WebRTCIceMsg relays an ICE candidate to the partner. The candidate is kept
// opaque; only its presence is validated.
type WebRTCIceMsg struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Candidate json.RawMessage `json:"candidate"`
}

// CallEndMsg ends an ongoing call.
type CallEndMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SkipMsg ends the session and immediately frees the user for re-matching.
type SkipMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// EndChatMsg ends the session without the skip penalty semantics.
type EndChatMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// ReportMsg reports the current partner for abusive behavior.
type ReportMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent once the connection is authenticated.
type ConnectedMsg struct {
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
}

// MatchingStatusMsg reports queue state changes.
type MatchingStatusMsg struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Mood   string `json:"mood,omitempty"`
}

// PartnerInfo is the public slice of a partner's profile shared on match.
type PartnerInfo struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// MatchFoundMsg is sent to both sides when a session has been created.
type MatchFoundMsg struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"session_id"`
	MoodTheme   string      `json:"mood_theme"`
	YourMood    string      `json:"your_mood"`
	PartnerMood string      `json:"partner_mood"`
	IsSameMood  bool        `json:"is_same_mood"`
	Partner     PartnerInfo `json:"partner"`
}

// NewMessageMsg carries a chat message (text or image) to session members.
type NewMessageMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	Kind      string `json:"kind,omitempty"` // "image" for image messages
	ImageURL  string `json:"image_url,omitempty"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// PartnerTypingMsg relays the partner's typing indicator.
type PartnerTypingMsg struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// SameVibeMsg fires when both participants sent the same emoji within the
// detection window.
type SameVibeMsg struct {
	Type      string `json:"type"`
	Emoji     string `json:"emoji"`
	Timestamp int64  `json:"timestamp"`
}

// PenaltyAppliedMsg notifies the client of a rapid-skip cooldown.
type PenaltyAppliedMsg struct {
	Type       string `json:"type"`
	Kind       string `json:"kind"`     // "rapid_skip"
	Until      int64  `json:"until"`    // unix millis
	DurationMs int64  `json:"duration"` // penalty length in millis
}

// SessionEndedMsg confirms to the acting user that their session is over.
type SessionEndedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// PartnerSkippedMsg tells a user their partner skipped them.
type PartnerSkippedMsg struct {
	Type string `json:"type"`
}

// PartnerLeftMsg tells a user their partner ended the chat.
type PartnerLeftMsg struct {
	Type string `json:"type"`
}

// PartnerDisconnectedMsg tells a user their partner's connection dropped.
type PartnerDisconnectedMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// MessageGhostedMsg relays a ghosted-message toggle to the partner.
type MessageGhostedMsg struct {
	Type         string `json:"type"`
	MessageIndex int    `json:"message_index"`
	IsGhosted    bool   `json:"is_ghosted"`
	GhostedBy    string `json:"ghosted_by"`
}

// MessageReactionMsg relays a message reaction to the partner.
type MessageReactionMsg struct {
	Type         string `json:"type"`
	MessageIndex int    `json:"message_index"`
	Emoji        string `json:"emoji"`
	ReactedBy    string `json:"reacted_by"`
}

// ThemeProposedMsg relays a theme proposal to the partner.
type ThemeProposedMsg struct {
	Type       string `json:"type"`
	Theme      string `json:"theme"`
	ProposedBy string `json:"proposed_by"`
}

// ThemeChangedMsg notifies both sides that a theme was accepted.
type ThemeChangedMsg struct {
	Type       string `json:"type"`
	Theme      string `json:"theme"`
	AcceptedBy string `json:"accepted_by"`
}

// ThemeRejectedMsg notifies the proposer that the theme was declined.
type ThemeRejectedMsg struct {
	Type       string `json:"type"`
	RejectedBy string `json:"rejected_by"`
}

// WordBombStartedMsg announces a new word-bomb round.
type WordBombStartedMsg struct {
	Type      string `json:"type"`
	Letter    string `json:"letter"`
	StartedBy string `json:"started_by"`
	TimeLimit int    `json:"time_limit"`
}

// WordBombWonMsg announces the round winner.
type WordBombWonMsg struct {
	Type     string `json:"type"`
	WinnerID string `json:"winner_id"`
	Word     string `json:"word"`
	Letter   string `json:"letter"`
}

// WordBombWrongMsg rejects an invalid answer (sender only).
type WordBombWrongMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WordBombErrorMsg reports a game-level error such as no active round.
type WordBombErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SessionPongMsg answers a session_ping with the session's liveness.
type SessionPongMsg struct {
	Type      string `json:"type"`
	Valid     bool   `json:"valid"`
	SessionID string `json:"session_id,omitempty"`
}

// IncomingCallMsg notifies the partner of a call request.
type IncomingCallMsg struct {
	Type       string `json:"type"`
	CallType   string `json:"call_type"`
	CallerID   string `json:"caller_id"`
	CallerName string `json:"caller_name"`
}

// CallAcceptedMsg notifies the caller that the call was accepted.
type CallAcceptedMsg struct {
	Type string `json:"type"`
}

// CallRejectedMsg notifies the caller that the call was rejected.
type CallRejectedMsg struct {
	Type string `json:"type"`
}

// CallEndedMsg notifies the partner that the call ended.
type CallEndedMsg struct {
	Type string `json:"type"`
}

// RelayedOfferMsg forwards an SDP offer to the partner.
type RelayedOfferMsg struct {
	Type  string      `json:"type"`
	Offer *SDPPayload `json:"offer"`
}

// RelayedAnswerMsg forwards an SDP answer to the partner.
type RelayedAnswerMsg struct {
	Type   string      `json:"type"`
	Answer *SDPPayload `json:"answer"`
}

// RelayedIceMsg forwards an ICE candidate to the partner.
type RelayedIceMsg struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
}

// ErrorMsg is sent by the server to communicate an error condition. Until
// carries the penalty expiry (unix millis) for penalty errors.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Until   int64  `json:"until,omitempty"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeStartMatching:
		var m StartMatchingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopMatching:
		var m StopMatchingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendImage:
		var m SendImageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReactMessage:
		var m ReactMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGhostMessage:
		var m GhostMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeProposeTheme:
		var m ProposeThemeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAcceptTheme:
		var m AcceptThemeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeRejectTheme:
		var m RejectThemeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStartWordBomb:
		var m StartWordBombMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWordBombAnswer:
		var m WordBombAnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSessionPing:
		var m SessionPingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallRequest:
		var m CallRequestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallAccept:
		var m CallAcceptMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallReject:
		var m CallRejectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCOffer:
		var m WebRTCOfferMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCAnswer:
		var m WebRTCAnswerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeWebRTCIce:
		var m WebRTCIceMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeCallEnd:
		var m CallEndMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSkip:
		var m SkipMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeEndChat:
		var m EndChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReport:
		var m ReportMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
