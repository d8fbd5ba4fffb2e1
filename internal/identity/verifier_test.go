package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPVerifier_ValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req["token"] != "tok-1" {
			t.Errorf("expected token tok-1, got %q", req["token"])
		}
		json.NewEncoder(w).Encode(Identity{UserID: "user-1", DisplayName: "Asha"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, 2*time.Second)
	id, err := v.Verify(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "user-1" {
		t.Errorf("expected user-1, got %q", id.UserID)
	}
	if id.DisplayName != "Asha" {
		t.Errorf("expected Asha, got %q", id.DisplayName)
	}
}

func TestHTTPVerifier_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, 2*time.Second)
	_, err := v.Verify(context.Background(), "bad")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestHTTPVerifier_BannedUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Identity{
			UserID:      "user-2",
			BannedUntil: time.Now().Add(time.Hour),
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, 2*time.Second)
	_, err := v.Verify(context.Background(), "tok-2")
	if !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
}

func TestHTTPVerifier_ExpiredBanIsAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Identity{
			UserID:      "user-3",
			BannedUntil: time.Now().Add(-time.Hour),
		})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, 2*time.Second)
	id, err := v.Verify(context.Background(), "tok-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "user-3" {
		t.Errorf("expected user-3, got %q", id.UserID)
	}
}

func TestHTTPVerifier_EmptyToken(t *testing.T) {
	v := NewHTTPVerifier("http://unused", time.Second)
	_, err := v.Verify(context.Background(), "")
	if !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	var v StaticVerifier

	id, err := v.Verify(context.Background(), "dev-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "dev-user" {
		t.Errorf("expected dev-user, got %q", id.UserID)
	}

	if _, err := v.Verify(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
