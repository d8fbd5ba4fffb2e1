package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/bakaiti/server/internal/chat"
	"github.com/bakaiti/server/internal/game"
	"github.com/bakaiti/server/internal/ghost"
	"github.com/bakaiti/server/internal/matching"
	"github.com/bakaiti/server/internal/metrics"
	"github.com/bakaiti/server/internal/protocol"
	"github.com/bakaiti/server/internal/ratelimit"
	"github.com/bakaiti/server/internal/report"
	"github.com/bakaiti/server/internal/session"
	"github.com/bakaiti/server/internal/ws"
)

// defaultImageExpiry applies when the client omits expiry_seconds.
const defaultImageExpiry = 30 * time.Second

// maxImageExpiry caps client-chosen image lifetimes.
const maxImageExpiry = 5 * time.Minute

func handlerCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// memberSession loads a session and checks membership, reporting an error to
// the client on failure.
func (a *app) memberSession(ctx context.Context, conn *ws.Connection, sessionID string) (*session.Session, bool) {
	sess, err := a.sessions.Member(ctx, sessionID, conn.UserID)
	if err != nil {
		a.sendError(conn, "invalid_session", "no such session")
		return nil, false
	}
	return sess, true
}

// allow runs a rate limit check, reporting rate_limited to the client when
// the budget is exhausted.
func (a *app) allow(ctx context.Context, conn *ws.Connection, rule ratelimit.Rule) bool {
	ok, err := a.limiter.Allow(ctx, conn.UserID, rule)
	if err != nil {
		log.Printf("[ratelimit] check for user=%s: %v", conn.UserID, err)
	}
	if !ok {
		metrics.MessagesTotal.WithLabelValues("blocked").Inc()
		a.sendError(conn, "rate_limited", "slow down")
	}
	return ok
}

func registerHandlers(dispatcher *ws.MessageDispatcher, a *app) {
	// -----------------------------------------------------------------------
	// start_matching — enter the queue or match immediately
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStartMatching, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.StartMatchingMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		mood := strings.ToLower(strings.TrimSpace(m.Mood))
		if mood == "" {
			mood = matching.MoodRandom
		}

		banned, remaining, _, err := a.bans.IsBanned(ctx, conn.UserID)
		if err != nil {
			log.Printf("[match] ban lookup for user=%s: %v", conn.UserID, err)
		}
		if banned {
			a.send(conn, protocol.TypeError, protocol.ErrorMsg{
				Code:    "suspended",
				Message: "account suspended after repeated reports",
				Until:   time.Now().Add(time.Duration(remaining) * time.Second).UnixMilli(),
			})
			return
		}

		until, err := a.guard.Deadline(ctx, conn.UserID)
		if err != nil {
			log.Printf("[match] penalty lookup for user=%s: %v", conn.UserID, err)
		}
		if !until.IsZero() {
			a.send(conn, protocol.TypeError, protocol.ErrorMsg{
				Code:    "penalty_active",
				Message: "matchmaking is on cooldown",
				Until:   until.UnixMilli(),
			})
			return
		}

		if !a.allow(ctx, conn, ratelimit.RuleMatch) {
			return
		}

		if sid, err := a.sessions.CurrentSession(ctx, conn.UserID); err == nil && sid != "" {
			a.sendError(conn, "already_in_session", "end the current chat first")
			return
		}

		_ = a.presence.Touch(ctx, conn.UserID, conn.ID)

		partnerID, partnerMood, err := a.queue.TryMatch(ctx, conn.UserID, mood)
		if err != nil {
			log.Printf("[match] try match for user=%s: %v", conn.UserID, err)
			a.sendError(conn, "internal_error", "matching unavailable")
			return
		}
		if partnerID != "" {
			a.completeMatch(ctx, conn, mood, partnerID, partnerMood)
			return
		}

		if err := a.queue.Enqueue(ctx, conn.UserID, mood); err == matching.ErrAlreadyQueued {
			a.send(conn, protocol.TypeMatchingStatus, protocol.MatchingStatusMsg{Status: "already_in_queue", Mood: mood})
			return
		} else if err != nil {
			log.Printf("[match] enqueue user=%s: %v", conn.UserID, err)
			a.sendError(conn, "internal_error", "matching unavailable")
			return
		}

		a.enqueuedAt.Store(conn.UserID, time.Now())
		a.ghosts.Schedule(conn.UserID, mood)
		if size, err := a.queue.Size(ctx); err == nil {
			metrics.MatchQueueSize.Set(float64(size))
		}
		a.send(conn, protocol.TypeMatchingStatus, protocol.MatchingStatusMsg{Status: "searching", Mood: mood})
		log.Printf("[match] user=%s searching mood=%s", conn.UserID, mood)
	})

	// -----------------------------------------------------------------------
	// stop_matching — leave the queue
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStopMatching, func(conn *ws.Connection, msg interface{}) {
		ctx, cancel := handlerCtx()
		defer cancel()

		a.ghosts.Cancel(conn.UserID)
		a.enqueuedAt.Delete(conn.UserID)
		if err := a.queue.Remove(ctx, conn.UserID); err != nil {
			log.Printf("[match] dequeue user=%s: %v", conn.UserID, err)
		}
		a.send(conn, protocol.TypeMatchingStatus, protocol.MatchingStatusMsg{Status: "stopped"})
	})

	// -----------------------------------------------------------------------
	// send_message — text message within a session
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if !a.allow(ctx, conn, ratelimit.RuleMessage) {
			return
		}
		if err := chat.ValidateMessage(m.Text); err != nil {
			a.sendError(conn, "invalid_message", err.Error())
			return
		}
		if res := a.filter.Check(m.Text); res.Blocked {
			metrics.MessagesTotal.WithLabelValues("blocked").Inc()
			a.sendError(conn, "message_blocked", res.Reason)
			log.Printf("[moderation] blocked message from user=%s reason=%s term=%s",
				conn.UserID, res.Reason, res.Term)
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		_ = a.sessions.RefreshTTL(ctx, sess)
		_ = a.presence.Touch(ctx, conn.UserID, conn.ID)
		metrics.MessagesTotal.WithLabelValues("text").Inc()

		now := time.Now().UnixMilli()
		a.buffer.Add(sess.ID, chat.BufferedMessage{From: conn.UserID, Text: m.Text, Kind: "text", Ts: now})

		// The sender gets their own copy back as delivery confirmation.
		outgoing := protocol.NewMessageMsg{
			SessionID: sess.ID,
			SenderID:  conn.UserID,
			Text:      m.Text,
			Timestamp: now,
		}
		if sess.IsGhost {
			a.send(conn, protocol.TypeNewMessage, outgoing)
			a.ghosts.HandleUserMessage(sess.ID, conn.UserID, m.Text)
			return
		}

		a.fanout(conn, sess, protocol.TypeNewMessage, outgoing, true)

		if emoji := chat.FirstEmoji(m.Text); emoji != "" {
			matched, err := a.vibes.Record(ctx, sess.ID, conn.UserID, sess.PartnerOf(conn.UserID), emoji)
			if err != nil {
				log.Printf("[vibe] record for session=%s: %v", sess.ID, err)
			} else if matched {
				a.fanout(conn, sess, protocol.TypeSameVibe, protocol.SameVibeMsg{Emoji: emoji, Timestamp: now}, true)
			}
		}
	})

	// -----------------------------------------------------------------------
	// send_image — ephemeral image message
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSendImage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SendImageMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if !a.allow(ctx, conn, ratelimit.RuleImage) {
			return
		}
		if err := chat.ValidateImageURL(m.ImageURL); err != nil {
			a.sendError(conn, "invalid_image", err.Error())
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		expiry := time.Duration(m.ExpirySeconds) * time.Second
		if expiry <= 0 {
			expiry = defaultImageExpiry
		} else if expiry > maxImageExpiry {
			expiry = maxImageExpiry
		}

		_ = a.sessions.RefreshTTL(ctx, sess)
		metrics.MessagesTotal.WithLabelValues("image").Inc()

		now := time.Now().UnixMilli()
		a.buffer.Add(sess.ID, chat.BufferedMessage{From: conn.UserID, Kind: "image", Ts: now})

		outgoing := protocol.NewMessageMsg{
			SessionID: sess.ID,
			SenderID:  conn.UserID,
			Kind:      "image",
			ImageURL:  m.ImageURL,
			ExpiresAt: now + expiry.Milliseconds(),
			Timestamp: now,
		}
		if sess.IsGhost {
			a.send(conn, protocol.TypeNewMessage, outgoing)
			return
		}

		a.fanout(conn, sess, protocol.TypeNewMessage, outgoing, true)
	})

	// -----------------------------------------------------------------------
	// typing — typing indicator relay
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.TypingMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		metrics.MessagesTotal.WithLabelValues("typing").Inc()
		a.fanout(conn, sess, protocol.TypePartnerTyping, protocol.PartnerTypingMsg{IsTyping: m.IsTyping}, false)
	})

	// -----------------------------------------------------------------------
	// react_message / ghost_message — per-message toggles
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReactMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReactMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeMessageReaction, protocol.MessageReactionMsg{
			MessageIndex: m.MessageIndex,
			Emoji:        m.Emoji,
			ReactedBy:    conn.UserID,
		}, false)
	})

	dispatcher.Register(protocol.TypeGhostMessage, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.GhostMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeMessageGhosted, protocol.MessageGhostedMsg{
			MessageIndex: m.MessageIndex,
			IsGhosted:    m.IsGhosted,
			GhostedBy:    conn.UserID,
		}, false)
	})

	// -----------------------------------------------------------------------
	// propose_theme / accept_theme / reject_theme — theme negotiation
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeProposeTheme, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ProposeThemeMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if !session.ValidTheme(m.Theme) {
			a.sendError(conn, "invalid_theme", "unknown theme")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		if sess.IsGhost {
			// The synthetic partner agrees after a human pause.
			theme := m.Theme
			sessionID := sess.ID
			partnerID := sess.PartnerOf(conn.UserID)
			go func() {
				time.Sleep(time.Duration(1000+rand.Intn(1500)) * time.Millisecond)
				gctx, gcancel := handlerCtx()
				defer gcancel()
				if _, err := a.sessions.Member(gctx, sessionID, conn.UserID); err != nil {
					return
				}
				_ = a.sessions.SetTheme(gctx, sessionID, theme)
				a.send(conn, protocol.TypeThemeChanged, protocol.ThemeChangedMsg{Theme: theme, AcceptedBy: partnerID})
			}()
			return
		}

		a.fanout(conn, sess, protocol.TypeThemeProposed, protocol.ThemeProposedMsg{
			Theme:      m.Theme,
			ProposedBy: conn.UserID,
		}, false)
	})

	dispatcher.Register(protocol.TypeAcceptTheme, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.AcceptThemeMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if !session.ValidTheme(m.Theme) {
			a.sendError(conn, "invalid_theme", "unknown theme")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		if err := a.sessions.SetTheme(ctx, sess.ID, m.Theme); err != nil {
			log.Printf("[theme] set for session=%s: %v", sess.ID, err)
			return
		}
		a.fanout(conn, sess, protocol.TypeThemeChanged, protocol.ThemeChangedMsg{
			Theme:      m.Theme,
			AcceptedBy: conn.UserID,
		}, true)
	})

	dispatcher.Register(protocol.TypeRejectTheme, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.RejectThemeMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeThemeRejected, protocol.ThemeRejectedMsg{
			RejectedBy: conn.UserID,
		}, false)
	})

	// -----------------------------------------------------------------------
	// start_word_bomb / word_bomb_answer — mini-game
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeStartWordBomb, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.StartWordBombMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		letter, err := a.wordbomb.Start(ctx, sess.ID)
		if err == game.ErrRoundActive {
			a.send(conn, protocol.TypeWordBombError, protocol.WordBombErrorMsg{Message: "a round is already running"})
			return
		}
		if err != nil {
			log.Printf("[wordbomb] start for session=%s: %v", sess.ID, err)
			return
		}
		a.fanout(conn, sess, protocol.TypeWordBombStarted, protocol.WordBombStartedMsg{
			Letter:    letter,
			StartedBy: conn.UserID,
			TimeLimit: int(game.AnswerWindow.Seconds()),
		}, true)
	})

	dispatcher.Register(protocol.TypeWordBombAnswer, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WordBombAnswerMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		letter, err := a.wordbomb.Letter(ctx, sess.ID)
		if err != nil {
			log.Printf("[wordbomb] letter for session=%s: %v", sess.ID, err)
		}
		outcome, err := a.wordbomb.Answer(ctx, sess.ID, conn.UserID, m.Answer)
		if err != nil {
			log.Printf("[wordbomb] answer for session=%s: %v", sess.ID, err)
			return
		}

		switch outcome {
		case game.OutcomeWon:
			a.fanout(conn, sess, protocol.TypeWordBombWon, protocol.WordBombWonMsg{
				WinnerID: conn.UserID,
				Word:     m.Answer,
				Letter:   letter,
			}, true)
			_ = a.wordbomb.End(ctx, sess.ID)
		case game.OutcomeWrong:
			a.send(conn, protocol.TypeWordBombWrong, protocol.WordBombWrongMsg{
				Message: fmt.Sprintf("word must start with %s and be at least %d letters", letter, game.MinWordLen),
			})
		case game.OutcomeLate:
			a.send(conn, protocol.TypeWordBombError, protocol.WordBombErrorMsg{Message: "time is up"})
		case game.OutcomeTaken:
			a.send(conn, protocol.TypeWordBombError, protocol.WordBombErrorMsg{Message: "your partner got it first"})
		case game.OutcomeNoRound:
			a.send(conn, protocol.TypeWordBombError, protocol.WordBombErrorMsg{Message: "no active round"})
		}
	})

	// -----------------------------------------------------------------------
	// session_ping — liveness probe
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSessionPing, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SessionPingMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, err := a.sessions.Member(ctx, m.SessionID, conn.UserID)
		if err != nil {
			a.send(conn, protocol.TypeSessionPong, protocol.SessionPongMsg{Valid: false})
			return
		}
		_ = a.sessions.RefreshTTL(ctx, sess)
		a.send(conn, protocol.TypeSessionPong, protocol.SessionPongMsg{Valid: true, SessionID: sess.ID})
	})

	// -----------------------------------------------------------------------
	// call signaling — request/accept/reject/end plus WebRTC relays
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeCallRequest, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.CallRequestMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if m.CallType != "audio" && m.CallType != "video" {
			a.sendError(conn, "invalid_call_type", "call_type must be audio or video")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		if sess.IsGhost {
			// The synthetic partner always declines, after a believable delay.
			go func() {
				time.Sleep(time.Duration(2000+rand.Intn(2000)) * time.Millisecond)
				a.send(conn, protocol.TypeCallRejected, protocol.CallRejectedMsg{})
			}()
			return
		}

		a.fanout(conn, sess, protocol.TypeIncomingCall, protocol.IncomingCallMsg{
			CallType:   m.CallType,
			CallerID:   conn.UserID,
			CallerName: conn.DisplayName,
		}, false)
	})

	dispatcher.Register(protocol.TypeCallAccept, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.CallAcceptMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeCallAccepted, protocol.CallAcceptedMsg{}, false)
	})

	dispatcher.Register(protocol.TypeCallReject, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.CallRejectMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeCallRejected, protocol.CallRejectedMsg{}, false)
	})

	dispatcher.Register(protocol.TypeWebRTCOffer, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WebRTCOfferMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if m.Offer == nil || m.Offer.SDP == "" {
			a.sendError(conn, "invalid_payload", "missing offer")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeWebRTCOffer, protocol.RelayedOfferMsg{Offer: m.Offer}, false)
	})

	dispatcher.Register(protocol.TypeWebRTCAnswer, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WebRTCAnswerMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if m.Answer == nil || m.Answer.SDP == "" {
			a.sendError(conn, "invalid_payload", "missing answer")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeWebRTCAnswer, protocol.RelayedAnswerMsg{Answer: m.Answer}, false)
	})

	dispatcher.Register(protocol.TypeWebRTCIce, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.WebRTCIceMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if len(m.Candidate) == 0 {
			a.sendError(conn, "invalid_payload", "missing candidate")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeWebRTCIce, protocol.RelayedIceMsg{Candidate: m.Candidate}, false)
	})

	dispatcher.Register(protocol.TypeCallEnd, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.CallEndMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}
		a.fanout(conn, sess, protocol.TypeCallEnded, protocol.CallEndedMsg{}, false)
	})

	// -----------------------------------------------------------------------
	// skip — end the session with penalty accounting
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeSkip, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.SkipMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		metrics.SkipsTotal.Inc()
		a.fanout(conn, sess, protocol.TypePartnerSkipped, protocol.PartnerSkippedMsg{}, false)
		a.endSession(ctx, sess)
		_ = a.nats.UnsubscribeSession(conn.UserID)
		a.send(conn, protocol.TypeSessionEnded, protocol.SessionEndedMsg{Reason: "you_skipped"})

		until, err := a.guard.RecordSkip(ctx, conn.UserID)
		if err != nil {
			log.Printf("[skip] penalty check for user=%s: %v", conn.UserID, err)
			return
		}
		if !until.IsZero() {
			metrics.PenaltiesTotal.Inc()
			a.send(conn, protocol.TypePenaltyApplied, protocol.PenaltyAppliedMsg{
				Kind:       "rapid_skip",
				Until:      until.UnixMilli(),
				DurationMs: time.Until(until).Milliseconds(),
			})
			log.Printf("[skip] rapid-skip penalty for user=%s until=%d", conn.UserID, until.UnixMilli())
		}
	})

	// -----------------------------------------------------------------------
	// end_chat — end the session without penalty
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeEndChat, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.EndChatMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		a.fanout(conn, sess, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{}, false)
		a.endSession(ctx, sess)
		_ = a.nats.UnsubscribeSession(conn.UserID)
		a.send(conn, protocol.TypeSessionEnded, protocol.SessionEndedMsg{Reason: "you_ended"})
		log.Printf("end_chat from user=%s session=%s", conn.UserID, sess.ID)
	})

	// -----------------------------------------------------------------------
	// report — abuse report with conversation snapshot
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeReport, func(conn *ws.Connection, msg interface{}) {
		m, ok := msg.(protocol.ReportMsg)
		if !ok {
			return
		}
		ctx, cancel := handlerCtx()
		defer cancel()

		if !report.ValidReason(m.Reason) {
			a.sendError(conn, "invalid_reason", "unknown report reason")
			return
		}
		sess, ok := a.memberSession(ctx, conn, m.SessionID)
		if !ok {
			return
		}

		reported := sess.PartnerOf(conn.UserID)

		// Ghost partners cannot be meaningfully reported.
		if !ghost.IsGhostUser(reported) {
			if banned, duration, err := a.bans.ReportAndCheck(ctx, reported); err != nil {
				log.Printf("[report] escalation for user=%s: %v", reported, err)
			} else if banned {
				log.Printf("[report] user=%s suspended for %v after repeated reports", reported, duration)
			}
		}

		snapshot := a.buffer.Get(sess.ID)
		entries := make([]report.MessageEntry, 0, len(snapshot))
		for _, bm := range snapshot {
			entries = append(entries, report.MessageEntry{From: bm.From, Text: bm.Text, Ts: bm.Ts})
		}

		if a.reports == nil {
			log.Printf("report from user=%s against=%s session=%s reason=%s (store disabled)",
				conn.UserID, reported, sess.ID, m.Reason)
			return
		}

		rep := &report.Report{
			ReporterID: conn.UserID,
			ReportedID: reported,
			SessionID:  sess.ID,
			Reason:     m.Reason,
			Messages:   entries,
		}
		go func() {
			sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer scancel()
			if err := a.reports.Create(sctx, rep); err != nil {
				log.Printf("report store: %v", err)
				return
			}
			if n, err := a.reports.CountRecent(sctx, reported, 24*time.Hour); err == nil && n >= 3 {
				log.Printf("user=%s accumulated %d reports in 24h", reported, n)
			}
		}()
		log.Printf("report from user=%s against=%s session=%s reason=%s",
			conn.UserID, reported, sess.ID, m.Reason)
	})
}
