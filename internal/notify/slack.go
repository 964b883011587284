package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// SlackSettings holds configuration for a Slack incoming-webhook channel.
type SlackSettings struct {
	WebhookURL string `json:"webhook_url"`
}

// Slack sends alerts to a Slack incoming webhook as a colored attachment
// carrying header/section/context blocks.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a Slack notifier for the given webhook URL.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name for logging.
func (s *Slack) Name() string { return "slack" }

// Send posts the alert to the Slack webhook.
func (s *Slack) Send(ctx context.Context, alert *store.Alert) error {
	payload := slackPayload{
		Attachments: []slackAttachment{{
			Color: severityColor(alert.Severity),
			Blocks: []slackBlock{
				{
					Type: "header",
					Text: &slackText{
						Type:  "plain_text",
						Text:  severityEmoji(alert.Severity) + " " + alert.Title,
						Emoji: true,
					},
				},
				{
					Type: "section",
					Text: &slackText{Type: "mrkdwn", Text: alert.Message},
				},
				{
					Type: "context",
					Elements: []slackText{{
						Type: "mrkdwn",
						Text: fmt.Sprintf("*Severity:* %s | *Host:* %s | *Container:* %s",
							alert.Severity, orNA(alert.HostName), orNA(alert.ContainerName)),
					}},
				},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned %s", resp.Status)
	}
	return nil
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Blocks []slackBlock `json:"blocks"`
}

type slackPayload struct {
	Attachments []slackAttachment `json:"attachments"`
}
