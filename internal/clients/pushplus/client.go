// Package pushplus sends notifications through the PushPlus relay service.
package pushplus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultEndpoint = "http://www.pushplus.plus/send"

// Client posts notification messages to PushPlus. A client with an empty
// token is valid and silently drops every message.
type Client struct {
	client   *http.Client
	endpoint string
	token    string
	log      zerolog.Logger
}

// NewClient creates a new PushPlus client.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		endpoint: defaultEndpoint,
		token:    token,
		log:      log.With().Str("client", "pushplus").Logger(),
	}
}

// Enabled reports whether a token is configured.
func (c *Client) Enabled() bool {
	return c.token != ""
}

type message struct {
	Token   string `json:"token"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Send delivers one notification. Without a token it is a no-op.
func (c *Client) Send(ctx context.Context, title, content string) error {
	if !c.Enabled() {
		c.log.Debug().Str("title", title).Msg("No token configured, skipping notification")
		return nil
	}

	payload, err := json.Marshal(message{Token: c.token, Title: title, Content: content})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notification rejected with status %d: %s", resp.StatusCode, string(body))
	}

	c.log.Info().Str("title", title).Msg("Notification sent")
	return nil
}
