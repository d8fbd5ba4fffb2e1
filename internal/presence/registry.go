// Package presence tracks which users currently hold a live connection.
// Records are stored in Redis with a sliding TTL:
//
//	Key:   user:online:<user_id>
//	Value: <connection_id>
//	TTL:   5 minutes, refreshed on connect and matching activity
//
// Absence of the key means the user is not eligible to be matched.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// OnlinePrefix is the Redis key prefix for online markers.
	OnlinePrefix = "user:online:"

	// ProfilePrefix is the Redis key prefix for display profiles. Profiles
	// share the online marker's TTL so they never outlive the marker by much.
	ProfilePrefix = "user:profile:"

	// OnlineTTL is the sliding lifetime of an online marker.
	OnlineTTL = 5 * time.Minute
)

// Profile is the publicly visible identity of an online user, stored so any
// instance can describe a matched partner it never saw connect.
type Profile struct {
	DisplayName string `json:"display_name"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

// Registry manages online markers in Redis.
type Registry struct {
	client *redis.Client
}

// NewRegistry creates a presence registry using the provided Redis client.
func NewRegistry(client *redis.Client) *Registry {
	return &Registry{client: client}
}

// Touch records that userID is online behind connID, resetting the TTL.
func (r *Registry) Touch(ctx context.Context, userID, connID string) error {
	return r.client.Set(ctx, OnlinePrefix+userID, connID, OnlineTTL).Err()
}

// ConnID returns the connection ID behind an online user, or "" if the user
// is offline.
func (r *Registry) ConnID(ctx context.Context, userID string) (string, error) {
	connID, err := r.client.Get(ctx, OnlinePrefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return connID, nil
}

// IsOnline reports whether the user currently has a live marker.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	connID, err := r.ConnID(ctx, userID)
	if err != nil {
		return false, err
	}
	return connID != "", nil
}

// SetProfile stores the user's display profile alongside the online marker.
func (r *Registry) SetProfile(ctx context.Context, userID string, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, ProfilePrefix+userID, data, OnlineTTL).Err()
}

// GetProfile returns the stored display profile. An offline or expired user
// yields a zero Profile, not an error.
func (r *Registry) GetProfile(ctx context.Context, userID string) (Profile, error) {
	data, err := r.client.Get(ctx, ProfilePrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Clear removes the online marker and profile, making the user unmatchable
// immediately.
func (r *Registry) Clear(ctx context.Context, userID string) error {
	return r.client.Del(ctx, OnlinePrefix+userID, ProfilePrefix+userID).Err()
}
