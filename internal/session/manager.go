// Package session stores active chat sessions in Redis.
//
// A session is a hash under session:<id> holding both participants and
// the shared theme, plus a user:session:<user_id> pointer per
// participant so a user's current session can be found without
// scanning. Record and pointers share one TTL; activity refreshes all
// three, so an abandoned session and its pointers expire together.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for session hashes.
	SessionPrefix = "session:"

	// UserSessionPrefix + userID points at that user's current session ID.
	UserSessionPrefix = "user:session:"

	// SessionTTL is the idle lifetime of a session. Refreshed on every
	// message, so only abandoned sessions expire.
	SessionTTL = 30 * time.Minute
)

// ErrNotFound is returned when a session ID resolves to nothing,
// usually because the session ended or its TTL ran out.
var ErrNotFound = errors.New("session: not found")

// Session is the stored state of one active chat.
type Session struct {
	ID           string `redis:"id"`
	ParticipantA string `redis:"participant_a"`
	ParticipantB string `redis:"participant_b"`
	MoodA        string `redis:"mood_a"`
	MoodB        string `redis:"mood_b"`
	Theme        string `redis:"theme"`
	IsGhost      bool   `redis:"is_ghost"`
	GhostProfile string `redis:"ghost_profile"` // profile JSON, empty for human sessions
	StartedAt    int64  `redis:"started_at"`
}

// Includes reports whether userID is one of the two participants.
func (s *Session) Includes(userID string) bool {
	return userID == s.ParticipantA || userID == s.ParticipantB
}

// PartnerOf returns the other participant's ID, or "" when userID is
// not a participant.
func (s *Session) PartnerOf(userID string) string {
	switch userID {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	}
	return ""
}

// SameMood reports whether both participants picked the same mood.
func (s *Session) SameMood() bool {
	return s.MoodA != "" && s.MoodA == s.MoodB
}

// CreateParams carries everything needed to open a session.
type CreateParams struct {
	ParticipantA string
	ParticipantB string
	MoodA        string
	MoodB        string
	IsGhost      bool
	GhostProfile string
}

// Manager reads and writes session state in Redis.
type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// Create opens a new session between two participants, picks a theme,
// and sets both user pointers. Returns the stored session.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Session, error) {
	sess := &Session{
		ID:           uuid.New().String(),
		ParticipantA: p.ParticipantA,
		ParticipantB: p.ParticipantB,
		MoodA:        p.MoodA,
		MoodB:        p.MoodB,
		Theme:        RandomTheme(),
		IsGhost:      p.IsGhost,
		GhostProfile: p.GhostProfile,
		StartedAt:    time.Now().Unix(),
	}

	key := SessionPrefix + sess.ID
	fields := map[string]interface{}{
		"id":            sess.ID,
		"participant_a": sess.ParticipantA,
		"participant_b": sess.ParticipantB,
		"mood_a":        sess.MoodA,
		"mood_b":        sess.MoodB,
		"theme":         sess.Theme,
		"is_ghost":      sess.IsGhost,
		"ghost_profile": sess.GhostProfile,
		"started_at":    sess.StartedAt,
	}

	pipe := m.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.Set(ctx, UserSessionPrefix+sess.ParticipantA, sess.ID, SessionTTL)
	pipe.Set(ctx, UserSessionPrefix+sess.ParticipantB, sess.ID, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Get loads a session by ID. Returns ErrNotFound for expired or ended
// sessions.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	res := m.client.HGetAll(ctx, SessionPrefix+sessionID)
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("session: get %s: %w", sessionID, err)
	}
	if len(res.Val()) == 0 {
		return nil, ErrNotFound
	}

	var sess Session
	if err := res.Scan(&sess); err != nil {
		return nil, fmt.Errorf("session: scan %s: %w", sessionID, err)
	}
	return &sess, nil
}

// Member loads the session and verifies userID belongs to it. Returns
// ErrNotFound when the session is gone or the user is not a
// participant, so callers cannot act on sessions they are not in.
func (m *Manager) Member(ctx context.Context, sessionID, userID string) (*Session, error) {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Includes(userID) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// RefreshTTL resets the idle clock on the session record and both user
// pointers.
func (m *Manager) RefreshTTL(ctx context.Context, sess *Session) error {
	pipe := m.client.Pipeline()
	pipe.Expire(ctx, SessionPrefix+sess.ID, SessionTTL)
	pipe.Expire(ctx, UserSessionPrefix+sess.ParticipantA, SessionTTL)
	pipe.Expire(ctx, UserSessionPrefix+sess.ParticipantB, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: refresh %s: %w", sess.ID, err)
	}
	return nil
}

// SetTheme updates the stored theme after a theme change was accepted.
func (m *Manager) SetTheme(ctx context.Context, sessionID, theme string) error {
	if err := m.client.HSet(ctx, SessionPrefix+sessionID, "theme", theme).Err(); err != nil {
		return fmt.Errorf("session: set theme %s: %w", sessionID, err)
	}
	return nil
}

// End deletes the session record and both user pointers. Safe to call
// twice; ending an already-ended session is a no-op.
func (m *Manager) End(ctx context.Context, sess *Session) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+sess.ID)
	pipe.Del(ctx, UserSessionPrefix+sess.ParticipantA)
	pipe.Del(ctx, UserSessionPrefix+sess.ParticipantB)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: end %s: %w", sess.ID, err)
	}
	return nil
}

// CurrentSession returns the session ID the user is in, or "" when not
// in any session.
func (m *Manager) CurrentSession(ctx context.Context, userID string) (string, error) {
	id, err := m.client.Get(ctx, UserSessionPrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("session: current for %s: %w", userID, err)
	}
	return id, nil
}
