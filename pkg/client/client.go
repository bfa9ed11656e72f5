// Package client is a Go client for the gateway: a streaming call over
// WebSocket and a fire-and-forget submission over REST.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// MessageHandler receives each stream message as it arrives. Returning
// an error aborts the stream.
type MessageHandler func(msg Message) error

type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// New creates a client for a gateway base URL such as
// "http://localhost:8000".
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
}

func (c *Client) wsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/generate"
	return u.String(), nil
}

// Generate streams one request, invoking handler per message until the
// terminal message. Returns the final message.
func (c *Client) Generate(ctx context.Context, prompt string, maxTokens int, handler MessageHandler) (*Message, error) {
	wsURL, err := c.wsURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gateway: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(GenerateRequest{Prompt: prompt, MaxTokens: maxTokens}); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return nil, fmt.Errorf("stream read failed: %w", err)
		}
		if handler != nil {
			if err := handler(msg); err != nil {
				return nil, err
			}
		}
		if msg.Terminal() {
			return &msg, nil
		}
	}
}

// Submit queues a job without streaming and returns its request id.
func (c *Client) Submit(ctx context.Context, prompt string, maxTokens int) (*SubmitResponse, error) {
	body, err := json.Marshal(GenerateRequest{Prompt: prompt, MaxTokens: maxTokens})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var out SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// QueueStatus reads the pending job count.
func (c *Client) QueueStatus(ctx context.Context) (*QueueStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/queue/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}

	var out QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
