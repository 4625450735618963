// Package relay hands outbound email to the external HTTP email relay.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// SecretHeader carries the shared relay secret on every request.
	SecretHeader = "X-Relay-Secret"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 1 << 10
)

// Message is the JSON document the relay accepts.
type Message struct {
	NotificationEmail string `json:"notificationEmail"`
	Subject           string `json:"subject"`
	Body              string `json:"body"`
}

// StatusError is returned when the relay answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("email relay returned %d: %s", e.StatusCode, e.Body)
}

// Client posts messages to the relay endpoint.
type Client struct {
	url    string
	secret string
	client *http.Client
}

// New creates a relay client. A zero timeout uses a 10 second default.
func New(url, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		url:    strings.TrimSpace(url),
		secret: strings.TrimSpace(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether both the relay URL and secret are set.
func (c *Client) Configured() bool {
	return c != nil && c.url != "" && c.secret != ""
}

// Send delivers msg to the relay. It does not retry.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("email relay not configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode relay message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SecretHeader, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("email relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}
