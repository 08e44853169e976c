package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// discordColors tints embeds by the kind's prefix.
var discordColors = map[string]int{
	"question": 0x3b82f6,
	"market":   0x10b981,
	"oracle":   0xf59e0b,
	"ops":      0xef4444,
}

// DiscordSender posts alerts to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, a Alert) error {
	embed := map[string]any{
		"title":       a.Title,
		"description": fmt.Sprintf("```\n%s\n```", a.Text),
		"color":       discordColors[kindPrefix(a.Kind)],
	}
	if a.Event != nil && !a.Event.At.IsZero() {
		embed["timestamp"] = a.Event.At.UTC().Format(time.RFC3339)
	}
	payload := map[string]any{"embeds": []any{embed}}
	return postJSON(ctx, d.client, "discord", d.webhookURL, payload, nil)
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
