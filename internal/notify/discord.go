package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// DiscordSettings holds configuration for a Discord webhook channel.
type DiscordSettings struct {
	WebhookURL string `json:"webhook_url"`
}

// Discord sends alerts to a Discord webhook as an embed.
type Discord struct {
	webhookURL string
	client     *http.Client
}

// NewDiscord creates a Discord notifier for the given webhook URL.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name for logging.
func (d *Discord) Name() string { return "discord" }

// Send posts the alert to the Discord webhook.
func (d *Discord) Send(ctx context.Context, alert *store.Alert) error {
	payload := discordPayload{
		Embeds: []discordEmbed{{
			Title:       severityEmoji(alert.Severity) + " " + alert.Title,
			Description: alert.Message,
			Color:       colorInt(severityColor(alert.Severity)),
			Fields: []discordField{
				{Name: "Severity", Value: string(alert.Severity), Inline: true},
				{Name: "Host", Value: orNA(alert.HostName), Inline: true},
				{Name: "Container", Value: orNA(alert.ContainerName), Inline: true},
			},
			Timestamp: alert.TriggeredAt.UTC().Format(time.RFC3339),
			Footer:    discordFooter{Text: footerText},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send discord request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord returned %s", resp.Status)
	}
	return nil
}

// colorInt converts a "#rrggbb" accent color into the integer form Discord
// expects.
func colorInt(hex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return 0x6b7280
	}
	return int(v)
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Color       int            `json:"color"`
	Fields      []discordField `json:"fields"`
	Timestamp   string         `json:"timestamp"`
	Footer      discordFooter  `json:"footer"`
}

type discordPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}
