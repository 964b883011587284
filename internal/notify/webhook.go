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

// WebhookSettings holds configuration for a generic webhook channel.
type WebhookSettings struct {
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	IncludeContext *bool             `json:"include_context,omitempty"`
}

// webhookPayload is the JSON document posted by the webhook channel and
// published by the mqtt channel.
type webhookPayload struct {
	AlertID       string            `json:"alert_id"`
	RuleID        string            `json:"rule_id"`
	Severity      store.Severity    `json:"severity"`
	Status        store.AlertStatus `json:"status"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	HostID        string            `json:"host_id"`
	HostName      string            `json:"host_name"`
	ContainerID   string            `json:"container_id"`
	ContainerName string            `json:"container_name"`
	TriggeredAt   string            `json:"triggered_at"`
	ResolvedAt    *string           `json:"resolved_at"`
	Context       map[string]any    `json:"context,omitempty"`
}

func newWebhookPayload(alert *store.Alert, includeContext bool) webhookPayload {
	p := webhookPayload{
		AlertID:       alert.ID,
		RuleID:        alert.RuleID,
		Severity:      alert.Severity,
		Status:        alert.Status,
		Title:         alert.Title,
		Message:       alert.Message,
		HostID:        alert.HostID,
		HostName:      alert.HostName,
		ContainerID:   alert.ContainerID,
		ContainerName: alert.ContainerName,
		TriggeredAt:   alert.TriggeredAt.UTC().Format(time.RFC3339),
	}
	if alert.ResolvedAt != nil {
		resolved := alert.ResolvedAt.UTC().Format(time.RFC3339)
		p.ResolvedAt = &resolved
	}
	if includeContext && len(alert.Context) > 0 {
		p.Context = alert.Context
	}
	return p
}

// Webhook posts the alert as JSON to a configurable URL.
type Webhook struct {
	url            string
	headers        map[string]string
	includeContext bool
	client         *http.Client
}

// NewWebhook creates a generic webhook notifier. Custom headers
// (e.g. Authorization) are sent with every request.
func NewWebhook(url string, headers map[string]string, includeContext bool) *Webhook {
	return &Webhook{
		url:            url,
		headers:        headers,
		includeContext: includeContext,
		client:         &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name for logging.
func (w *Webhook) Name() string { return "webhook" }

// Send posts the alert payload to the configured URL.
func (w *Webhook) Send(ctx context.Context, alert *store.Alert) error {
	body, err := json.Marshal(newWebhookPayload(alert, w.includeContext))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
