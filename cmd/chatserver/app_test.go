package main

import (
	"testing"

	"github.com/bakaiti/server/internal/chat"
	"github.com/bakaiti/server/internal/protocol"
)

func TestSessionEventDelivery(t *testing.T) {
	cases := []struct {
		name   string
		ev     chat.SessionEvent
		userID string
		want   bool
	}{
		// broadcast events (message fan-out) reach the sender too
		{"broadcast to sender", chat.SessionEvent{Type: protocol.TypeNewMessage}, "alice", true},
		{"broadcast to partner", chat.SessionEvent{Type: protocol.TypeNewMessage}, "bob", true},

		// directional events skip the sender's own copy
		{"typing skips sender", chat.SessionEvent{Type: protocol.TypePartnerTyping, From: "alice"}, "alice", false},
		{"typing reaches partner", chat.SessionEvent{Type: protocol.TypePartnerTyping, From: "alice"}, "bob", true},

		// targeted events reach only the addressee
		{"targeted hit", chat.SessionEvent{From: "alice", To: "bob"}, "bob", true},
		{"targeted miss", chat.SessionEvent{From: "alice", To: "bob"}, "carol", false},
	}
	for _, c := range cases {
		if got := deliverable(c.ev, c.userID); got != c.want {
			t.Errorf("%s: deliverable = %v, want %v", c.name, got, c.want)
		}
	}
}
