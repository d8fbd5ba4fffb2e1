package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Turn is one message in the conversation history.
type Turn struct {
	Role string `json:"role"` // "user" or "ghost"
	Text string `json:"text"`
	Ts   int64  `json:"ts,omitempty"`
}

// CompletionRequest is the input to a completion backend.
type CompletionRequest struct {
	System      string
	History     []Turn
	MaxTokens   int
	Temperature float64
}

// Backend produces one completion. Implementations must honor ctx
// cancellation.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
}

// HTTPBackend talks to an OpenAI-compatible chat completions endpoint.
type HTTPBackend struct {
	name   string
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewHTTPBackend creates a backend against an OpenAI-compatible API.
// The timeout bounds each individual request.
func NewHTTPBackend(name, url, apiKey, model string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		name:   name,
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

func (b *HTTPBackend) Name() string { return b.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation to the API and returns the assistant
// text of the first choice.
func (b *HTTPBackend) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]chatMessage, 0, len(req.History)+1)
	messages = append(messages, chatMessage{Role: "system", Content: req.System})
	for _, t := range req.History {
		role := "user"
		if t.Role == "ghost" {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: t.Text})
	}

	body, err := json.Marshal(chatRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("responder: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("responder: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("responder: %s request: %w", b.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("responder: %s returned status %d", b.name, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("responder: decode %s response: %w", b.name, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("responder: %s returned no content", b.name)
	}
	return parsed.Choices[0].Message.Content, nil
}

// completeWithRetry retries transient backend failures with a fixed
// backoff, bounding every attempt with its own timeout. Context
// cancellation stops the retries immediately.
func completeWithRetry(ctx context.Context, b Backend, req CompletionRequest, attempts int, backoff, perAttempt time.Duration) (string, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
		attemptCtx, cancel := context.WithTimeout(ctx, perAttempt)
		text, err := b.Complete(attemptCtx, req)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", lastErr
		}
	}
	return "", lastErr
}
