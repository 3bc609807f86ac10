// Package serverapi is the HTTP client for the application server's push
// endpoints. The server side itself (subscription store, delivery) is an
// external collaborator; this package only speaks its wire contract.
package serverapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pushbridge/internal/platform"
)

// Fixed server paths.
const (
	SubscribePath   = "/push/subscribe"
	UnsubscribePath = "/push/unsubscribe"
)

// APIError represents a non-2xx response. Error() is the response body text
// so server-provided rejection reasons surface verbatim to callers.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// Client talks to the application server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures the client.
type Option func(*Client)

// WithTimeout overrides the default 30s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a client for the given server base URL (no trailing slash
// required; one is tolerated).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Subscribe reports a new subscription to the server. It returns only after
// the server acknowledged with a 2xx status.
func (c *Client) Subscribe(ctx context.Context, sub *platform.Subscription) error {
	if err := c.postJSON(ctx, SubscribePath, sub); err != nil {
		return fmt.Errorf("serverapi.Subscribe: %w", err)
	}
	return nil
}

// Unsubscribe tells the server to drop the subscription.
func (c *Client) Unsubscribe(ctx context.Context, sub *platform.Subscription) error {
	if err := c.postJSON(ctx, UnsubscribePath, sub); err != nil {
		return fmt.Errorf("serverapi.Unsubscribe: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	// A 2xx body is JSON when present; an empty body means an empty object.
	// Either way the caller only needs the acknowledgment.
	if len(bytes.TrimSpace(respBody)) > 0 {
		var ack map[string]any
		if err := json.Unmarshal(respBody, &ack); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
