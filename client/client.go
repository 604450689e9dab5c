// Package client is the thin HTTP client a chat-platform integration uses
// to call the snaptex daemon. It forwards raw user text untouched and
// hands back either PNG bytes or a classified failure the integration can
// map to a user-visible message.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FailureKind values mirror the daemon's outcome classification.
const (
	KindCPU      = "cpu"
	KindMemory   = "memory"
	KindInput    = "input"
	KindInternal = "internal"
)

// RenderFailure is a classified non-success outcome. Kind "cpu" and
// "memory" are limit violations, "input" is unrenderable markup (message
// safe to show verbatim), "internal" is an unexpected failure the caller
// should surface generically and escalate.
type RenderFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"error"`
}

func (f *RenderFailure) Error() string {
	return fmt.Sprintf("render failed (%s): %s", f.Kind, f.Message)
}

// Client talks to a snaptex daemon.
type Client struct {
	BaseURL  string
	APIToken string
	HTTP     *http.Client
}

func New(baseURL, apiToken string) *Client {
	return &Client{
		BaseURL:  baseURL,
		APIToken: apiToken,
		HTTP:     &http.Client{Timeout: 120 * time.Second},
	}
}

// Render posts raw user text and returns the rendered PNG. Non-success
// responses come back as *RenderFailure.
func (c *Client) Render(ctx context.Context, scope, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{"text": text, "scope": scope})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseFailure(data, resp.StatusCode)
	}
	return data, nil
}

// Event is one entry from the daemon's render event log.
type Event struct {
	ID        string        `json:"id"`
	Scope     string        `json:"scope"`
	Key       string        `json:"key,omitempty"`
	Type      string        `json:"type"`
	Detail    string        `json:"detail,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Events fetches the newest render events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]*Event, error) {
	url := fmt.Sprintf("%s/events?limit=%d", c.BaseURL, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseFailure(data, resp.StatusCode)
	}

	var evs []*Event
	if err := json.Unmarshal(data, &evs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return evs, nil
}

// Health pings the daemon.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func parseFailure(data []byte, status int) error {
	var f RenderFailure
	if err := json.Unmarshal(data, &f); err != nil || f.Message == "" {
		return &RenderFailure{
			Kind:    KindInternal,
			Message: fmt.Sprintf("unexpected response (status %d)", status),
		}
	}
	return &f
}
