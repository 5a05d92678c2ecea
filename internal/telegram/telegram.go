// Package telegram delivers operator notifications (trade confirmations,
// stop-loss triggers, startup and shutdown) to a Telegram chat.
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the delivery callback handed to components that raise
// operator alerts. A nil-safe no-op is fine when Telegram is not configured.
type Notifier func(text string)

// Client posts messages to the Telegram Bot API. Delivery is best effort;
// a failed notification is logged, never propagated.
type Client struct {
	token      string
	chatID     string
	httpClient *http.Client
	log        zerolog.Logger
}

// New returns a Client. With an empty token or chat ID the client is
// disabled and Send becomes a no-op.
func New(token, chatID string, log zerolog.Logger) *Client {
	return &Client{
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "telegram").Logger(),
	}
}

// Enabled reports whether credentials are configured.
func (c *Client) Enabled() bool {
	return c.token != "" && c.chatID != ""
}

// Notify returns the delivery callback for this client.
func (c *Client) Notify() Notifier {
	return c.Send
}

// Send posts a Markdown message to the configured chat.
func (c *Client) Send(text string) {
	if !c.Enabled() {
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)
	payload := map[string]string{
		"chat_id":    c.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to encode telegram payload")
		return
	}

	resp, err := c.httpClient.Post(url, "application/json", bytes.NewBuffer(body))
	if err != nil {
		c.log.Warn().Err(err).Msg("telegram delivery failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("status", resp.Status).Msg("telegram API rejected notification")
	}
}
