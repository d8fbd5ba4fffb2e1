// Package identity verifies the opaque bearer credentials presented at
// connection time. Verification is delegated to an external identity
// service; this package only defines the contract and a thin HTTP client
// for it.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidToken is returned when the identity service rejects a credential.
var ErrInvalidToken = errors.New("identity: invalid token")

// ErrSuspended is returned when the account's ban has not yet expired.
var ErrSuspended = errors.New("identity: account suspended")

// Identity is the verified principal behind a connection.
type Identity struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	PhotoURL    string    `json:"photo_url"`
	BannedUntil time.Time `json:"banned_until"`
}

// Verifier resolves an opaque bearer token to a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier calls an external identity endpoint to validate tokens.
// The endpoint receives {"token": "..."} and answers with the Identity
// fields, or a non-200 status for invalid credentials.
type HTTPVerifier struct {
	endpoint string
	client   *http.Client
}

// NewHTTPVerifier creates a verifier for the given endpoint URL. The timeout
// bounds each verification call; a hung identity service must not stall
// connection handling.
func NewHTTPVerifier(endpoint string, timeout time.Duration) *HTTPVerifier {
	return &HTTPVerifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Verify posts the token to the identity endpoint and decodes the response.
// A banned-until timestamp in the future yields ErrSuspended; callers reject
// the connection outright in both error cases.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("identity: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: verify call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: verify endpoint returned %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("identity: decode response: %w", err)
	}
	if id.UserID == "" {
		return nil, ErrInvalidToken
	}
	if !id.BannedUntil.IsZero() && id.BannedUntil.After(time.Now()) {
		return nil, ErrSuspended
	}
	return &id, nil
}

// StaticVerifier accepts any non-empty token and derives the user ID from it.
// It exists for local development and tests, where no identity service runs.
type StaticVerifier struct{}

// Verify treats the token itself as the user ID.
func (StaticVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	return &Identity{UserID: token, DisplayName: "anon"}, nil
}
