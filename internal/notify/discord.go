package notify

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

// Embed colours.
const (
	discordRed   = 0xE74C3C
	discordGreen = 0x2ECC71
)

// discordMaxDescription is the embed description limit.
const discordMaxDescription = 4096

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender with a 10 second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "optionsd",
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// embedColor is red for failures and reverts, green otherwise.
func embedColor(title string) int {
	t := strings.ToLower(title)
	if strings.Contains(t, "fail") || strings.Contains(t, "revert") {
		return discordRed
	}
	return discordGreen
}

// Send posts one embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	if r := []rune(message); len(r) > discordMaxDescription {
		message = string(r[:discordMaxDescription-1]) + "…"
	}
	body, err := json.Marshal(discordPayload{
		Username: d.username,
		Embeds: []discordEmbed{{
			Title:       title,
			Description: message,
			Color:       embedColor(title),
			Timestamp:   d.now().UTC().Format(time.RFC3339),
		}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("discord: rate limited, retry after %ss", resp.Header.Get("Retry-After"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
