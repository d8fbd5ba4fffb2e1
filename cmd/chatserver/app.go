package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/bakaiti/server/internal/abuse"
	"github.com/bakaiti/server/internal/ban"
	"github.com/bakaiti/server/internal/chat"
	"github.com/bakaiti/server/internal/game"
	"github.com/bakaiti/server/internal/ghost"
	"github.com/bakaiti/server/internal/matching"
	"github.com/bakaiti/server/internal/messaging"
	"github.com/bakaiti/server/internal/metrics"
	"github.com/bakaiti/server/internal/moderation"
	"github.com/bakaiti/server/internal/presence"
	"github.com/bakaiti/server/internal/protocol"
	"github.com/bakaiti/server/internal/ratelimit"
	"github.com/bakaiti/server/internal/report"
	"github.com/bakaiti/server/internal/session"
	"github.com/bakaiti/server/internal/ws"
)

// Kinds of user-notify envelopes.
const (
	notifyMatchFound = "match_found"
	notifyForward    = "forward"
)

// notifyEnvelope travels on the match.notify.<user_id> subject. Payload is an
// already-encoded server message forwarded to the user's socket; match_found
// envelopes additionally subscribe the user to the new session's subject.
type notifyEnvelope struct {
	Kind      string          `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// app wires the transport, matchmaker, session state, and ghost engine
// together. Dispatcher handlers and NATS callbacks all hang off it.
type app struct {
	server      *ws.Server
	nats        *messaging.NATSClient
	presence    *presence.Registry
	queue       *matching.Queue
	sessions    *session.Manager
	guard       *abuse.Guard
	limiter     *ratelimit.Limiter
	vibes       *chat.VibeTracker
	buffer      *chat.MessageBuffer
	wordbomb    *game.WordBomb
	transcripts *ghost.Transcripts
	ghosts      *ghost.Engine
	filter      *moderation.Filter
	bans        *ban.Store
	reports     *report.Store // nil when Postgres is not configured

	enqueuedAt sync.Map // userID -> time.Time, feeds the wait histogram
}

// send encodes a server message and writes it to one connection.
func (a *app) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[app] encode %s for user=%s: %v", msgType, conn.UserID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[app] write %s to user=%s: %v", msgType, conn.UserID, err)
	}
}

func (a *app) sendError(conn *ws.Connection, code, message string) {
	a.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}

// sendToUser delivers an encoded message to a locally connected user.
func (a *app) sendToUser(userID string, data []byte) {
	if err := a.server.SendToUser(userID, data); err != nil {
		log.Printf("[app] deliver to user=%s: %v", userID, err)
	}
}

// publishToSession encodes a server message, wraps it in a SessionEvent, and
// publishes it on the session's subject. An empty from delivers to both
// participants; a non-empty to restricts delivery to that user.
func (a *app) publishToSession(sessionID, from, to, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[relay] encode %s for session=%s: %v", msgType, sessionID, err)
		return
	}
	ev := chat.SessionEvent{
		Type:    msgType,
		From:    from,
		To:      to,
		Payload: data,
		Ts:      time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[relay] marshal event for session=%s: %v", sessionID, err)
		return
	}
	if err := a.nats.PublishSessionEvent(sessionID, raw); err != nil {
		log.Printf("[relay] publish %s to session=%s: %v", msgType, sessionID, err)
	}
}

// fanout delivers a session-scoped message. Ghost sessions have no NATS
// subscribers, so the user's own copy goes straight to the socket.
func (a *app) fanout(conn *ws.Connection, sess *session.Session, msgType string, payload interface{}, includeSelf bool) {
	if sess.IsGhost {
		if includeSelf {
			a.send(conn, msgType, payload)
		}
		return
	}
	from := conn.UserID
	if includeSelf {
		from = ""
	}
	a.publishToSession(sess.ID, from, "", msgType, payload)
}

// joinSession subscribes a local user to their session's subject.
func (a *app) joinSession(userID, sessionID string) {
	err := a.nats.SubscribeSession(sessionID, userID, func(data []byte) {
		a.deliverSessionEvent(userID, data)
	})
	if err != nil {
		log.Printf("[relay] subscribe user=%s session=%s: %v", userID, sessionID, err)
	}
}

// deliverable reports whether a relayed event should reach userID. An
// empty From is a broadcast that includes the sender; a set From skips
// the sender's own copy; a set To restricts delivery to that user.
func deliverable(ev chat.SessionEvent, userID string) bool {
	if ev.From != "" && ev.From == userID {
		return false
	}
	if ev.To != "" && ev.To != userID {
		return false
	}
	return true
}

// deliverSessionEvent forwards a relayed event to a local participant.
// Terminal events drop the subscription.
func (a *app) deliverSessionEvent(userID string, data []byte) {
	var ev chat.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Printf("[relay] unmarshal event for user=%s: %v", userID, err)
		return
	}
	if !deliverable(ev, userID) {
		return
	}
	a.sendToUser(userID, ev.Payload)

	switch ev.Type {
	case protocol.TypePartnerSkipped, protocol.TypePartnerLeft, protocol.TypePartnerDisconnected:
		_ = a.nats.UnsubscribeSession(userID)
	}
}

// onConnect subscribes the user to their lifecycle subject and rejoins a
// session that survived a reconnect.
func (a *app) onConnect(conn *ws.Connection) {
	userID := conn.UserID
	err := a.nats.SubscribeUserNotify(userID, func(data []byte) {
		a.handleNotify(userID, data)
	})
	if err != nil {
		log.Printf("[app] notify subscribe for user=%s: %v", userID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if sid, err := a.sessions.CurrentSession(ctx, userID); err == nil && sid != "" {
		a.joinSession(userID, sid)
	}
}

// handleNotify processes a lifecycle envelope for a local user.
func (a *app) handleNotify(userID string, data []byte) {
	var env notifyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Printf("[notify] unmarshal for user=%s: %v", userID, err)
		return
	}
	if env.Kind == notifyMatchFound && env.SessionID != "" {
		a.joinSession(userID, env.SessionID)
		a.observeWait(userID)
		a.ghosts.Cancel(userID)
	}
	if len(env.Payload) > 0 {
		a.sendToUser(userID, env.Payload)
	}
}

// observeWait records queue time for a user who just got matched.
func (a *app) observeWait(userID string) {
	if v, ok := a.enqueuedAt.LoadAndDelete(userID); ok {
		metrics.MatchWaitSeconds.Observe(time.Since(v.(time.Time)).Seconds())
	}
}

// endSession tears down every piece of per-session state on this instance.
func (a *app) endSession(ctx context.Context, sess *session.Session) {
	if err := a.sessions.End(ctx, sess); err != nil {
		log.Printf("[app] end session=%s: %v", sess.ID, err)
	}
	a.buffer.Drop(sess.ID)
	_ = a.wordbomb.End(ctx, sess.ID)
	if sess.IsGhost {
		a.ghosts.EndSession(sess.ID)
		metrics.ActiveSessions.WithLabelValues("ghost").Dec()
	} else {
		metrics.ActiveSessions.WithLabelValues("human").Dec()
	}
}

// onDisconnect cleans up matchmaking and session state when a socket drops.
func (a *app) onDisconnect(conn *ws.Connection) {
	userID := conn.UserID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.ghosts.Cancel(userID)
	a.enqueuedAt.Delete(userID)
	if err := a.queue.Remove(ctx, userID); err != nil {
		log.Printf("[disconnect] dequeue user=%s: %v", userID, err)
	}

	if sid, err := a.sessions.CurrentSession(ctx, userID); err == nil && sid != "" {
		if sess, err := a.sessions.Get(ctx, sid); err == nil {
			if !sess.IsGhost {
				a.publishToSession(sid, userID, "", protocol.TypePartnerDisconnected,
					protocol.PartnerDisconnectedMsg{Reason: "connection_lost"})
			}
			a.endSession(ctx, sess)
		}
	}

	_ = a.nats.UnsubscribeSession(userID)
	_ = a.nats.UnsubscribeUserNotify(userID)
	log.Printf("[disconnect] cleanup done for user=%s", userID)
}

// completeMatch creates the session for an immediate match and notifies both
// sides. The partner may be connected to another instance, so their copy
// rides the notify subject.
func (a *app) completeMatch(ctx context.Context, conn *ws.Connection, mood, partnerID, partnerMood string) {
	sess, err := a.sessions.Create(ctx, session.CreateParams{
		ParticipantA: conn.UserID,
		ParticipantB: partnerID,
		MoodA:        mood,
		MoodB:        partnerMood,
	})
	if err != nil {
		log.Printf("[match] create session for user=%s: %v", conn.UserID, err)
		a.sendError(conn, "internal_error", "could not create session")
		return
	}
	metrics.ActiveSessions.WithLabelValues("human").Inc()
	a.observeWait(conn.UserID)

	partnerProfile, err := a.presence.GetProfile(ctx, partnerID)
	if err != nil {
		log.Printf("[match] partner profile for %s: %v", partnerID, err)
	}
	selfProfile, err := a.presence.GetProfile(ctx, conn.UserID)
	if err != nil {
		log.Printf("[match] self profile for %s: %v", conn.UserID, err)
	}
	if selfProfile.DisplayName == "" {
		selfProfile.DisplayName = conn.DisplayName
	}

	a.joinSession(conn.UserID, sess.ID)
	a.send(conn, protocol.TypeMatchFound, protocol.MatchFoundMsg{
		SessionID:   sess.ID,
		MoodTheme:   sess.Theme,
		YourMood:    mood,
		PartnerMood: partnerMood,
		IsSameMood:  sess.SameMood(),
		Partner: protocol.PartnerInfo{
			DisplayName: partnerProfile.DisplayName,
			PhotoURL:    partnerProfile.PhotoURL,
		},
	})

	theirs, err := protocol.NewServerMessage(protocol.TypeMatchFound, protocol.MatchFoundMsg{
		SessionID:   sess.ID,
		MoodTheme:   sess.Theme,
		YourMood:    partnerMood,
		PartnerMood: mood,
		IsSameMood:  sess.SameMood(),
		Partner: protocol.PartnerInfo{
			DisplayName: selfProfile.DisplayName,
			PhotoURL:    selfProfile.PhotoURL,
		},
	})
	if err != nil {
		log.Printf("[match] encode partner payload: %v", err)
		return
	}
	env, err := json.Marshal(notifyEnvelope{
		Kind:      notifyMatchFound,
		SessionID: sess.ID,
		Payload:   theirs,
	})
	if err != nil {
		log.Printf("[match] marshal envelope: %v", err)
		return
	}
	if err := a.nats.PublishUserNotify(partnerID, env); err != nil {
		log.Printf("[match] notify partner=%s: %v", partnerID, err)
	}

	log.Printf("[match] user=%s paired with %s session=%s theme=%s",
		conn.UserID, partnerID, sess.ID, sess.Theme)
}

// ---------------------------------------------------------------------------
// ghost.Notifier implementation
// ---------------------------------------------------------------------------

// GhostMatched presents the synthetic partner exactly like a human match.
func (a *app) GhostMatched(userID string, sess *session.Session, profile *ghost.Profile) {
	metrics.GhostConversions.Inc()
	metrics.ActiveSessions.WithLabelValues("ghost").Inc()
	a.observeWait(userID)

	data, err := protocol.NewServerMessage(protocol.TypeMatchFound, protocol.MatchFoundMsg{
		SessionID:   sess.ID,
		MoodTheme:   sess.Theme,
		YourMood:    sess.MoodA,
		PartnerMood: sess.MoodB,
		IsSameMood:  sess.SameMood(),
		Partner: protocol.PartnerInfo{
			DisplayName: profile.DisplayName,
			PhotoURL:    profile.PhotoURL,
		},
	})
	if err != nil {
		log.Printf("[ghost] encode match for user=%s: %v", userID, err)
		return
	}
	a.sendToUser(userID, data)
}

func (a *app) GhostTyping(userID, sessionID string, typing bool) {
	data, err := protocol.NewServerMessage(protocol.TypePartnerTyping, protocol.PartnerTypingMsg{IsTyping: typing})
	if err != nil {
		return
	}
	a.sendToUser(userID, data)
}

func (a *app) GhostText(userID, sessionID, text string) {
	now := time.Now().UnixMilli()
	senderID := a.ghostSenderID(sessionID)
	a.buffer.Add(sessionID, chat.BufferedMessage{From: senderID, Text: text, Kind: "text", Ts: now})

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      text,
		Timestamp: now,
	})
	if err != nil {
		log.Printf("[ghost] encode message for user=%s: %v", userID, err)
		return
	}
	a.sendToUser(userID, data)
}

func (a *app) GhostImage(userID, sessionID, imageURL, caption string) {
	now := time.Now().UnixMilli()
	senderID := a.ghostSenderID(sessionID)
	a.buffer.Add(sessionID, chat.BufferedMessage{From: senderID, Text: caption, Kind: "image", Ts: now})

	data, err := protocol.NewServerMessage(protocol.TypeNewMessage, protocol.NewMessageMsg{
		SessionID: sessionID,
		SenderID:  senderID,
		Text:      caption,
		Kind:      "image",
		ImageURL:  imageURL,
		ExpiresAt: now + (30 * time.Second).Milliseconds(),
		Timestamp: now,
	})
	if err != nil {
		log.Printf("[ghost] encode image for user=%s: %v", userID, err)
		return
	}
	a.sendToUser(userID, data)
}

func (a *app) ghostSenderID(sessionID string) string {
	if conv := a.transcripts.Get(sessionID); conv != nil {
		return conv.Profile().UserID
	}
	return "partner"
}
