package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// NtfySettings holds configuration for an ntfy channel. Both "server" and
// "server_url" are accepted; https://ntfy.sh is the default.
type NtfySettings struct {
	Server    string `json:"server,omitempty"`
	ServerURL string `json:"server_url,omitempty"`
	Topic     string `json:"topic"`
	Token     string `json:"token,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
}

// Ntfy sends alerts to an ntfy topic. Severity drives the message priority.
type Ntfy struct {
	server   string
	topic    string
	token    string
	username string
	password string
	client   *http.Client
}

// NewNtfy creates an ntfy notifier. Server should be the base URL
// (e.g. "https://ntfy.sh").
func NewNtfy(server, topic, token, username, password string) *Ntfy {
	return &Ntfy{
		server:   strings.TrimRight(server, "/"),
		topic:    topic,
		token:    token,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns the provider name for logging.
func (n *Ntfy) Name() string { return "ntfy" }

// Send posts the alert to the ntfy topic.
func (n *Ntfy) Send(ctx context.Context, alert *store.Alert) error {
	endpoint := n.server + "/" + n.topic
	message := fmt.Sprintf("%s\n\nHost: %s\nContainer: %s",
		alert.Message, orNA(alert.HostName), orNA(alert.ContainerName))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("create ntfy request: %w", err)
	}
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	} else if n.username != "" {
		req.SetBasicAuth(n.username, n.password)
	}
	req.Header.Set("X-Title", severityEmoji(alert.Severity)+" "+alert.Title)
	req.Header.Set("X-Priority", ntfyPriority(alert.Severity))
	tags := string(alert.Severity) + ",infra-mapper"
	if alert.HostName != "" {
		tags += "," + alert.HostName
	}
	req.Header.Set("X-Tags", tags)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy returned %s", resp.Status)
	}
	return nil
}

func ntfyPriority(s store.Severity) string {
	switch s {
	case store.SeverityWarning:
		return "high"
	case store.SeverityCritical:
		return "urgent"
	default:
		return "default"
	}
}
