package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// BuildNotifier constructs a Notifier from a channel's type and config map,
// validating the keys each provider requires.
func BuildNotifier(channel *store.AlertChannel) (Notifier, error) {
	switch channel.ChannelType {
	case store.ChannelSlack:
		var s SlackSettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode slack settings: %w", err)
		}
		if s.WebhookURL == "" {
			return nil, errors.New("slack: webhook_url missing in config")
		}
		return NewSlack(s.WebhookURL), nil

	case store.ChannelDiscord:
		var s DiscordSettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode discord settings: %w", err)
		}
		if s.WebhookURL == "" {
			return nil, errors.New("discord: webhook_url missing in config")
		}
		return NewDiscord(s.WebhookURL), nil

	case store.ChannelTelegram:
		var s TelegramSettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode telegram settings: %w", err)
		}
		if s.BotToken == "" || s.ChatID == "" {
			return nil, errors.New("telegram: bot_token and chat_id are required")
		}
		return NewTelegram(s.BotToken, s.ChatID), nil

	case store.ChannelEmail:
		var s EmailSettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode email settings: %w", err)
		}
		if s.Host == "" || s.From == "" || len(s.To) == 0 {
			return nil, errors.New("email: smtp_host, from and to are required")
		}
		return NewEmail(s), nil

	case store.ChannelNtfy:
		var s NtfySettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode ntfy settings: %w", err)
		}
		server := s.Server
		if server == "" {
			server = s.ServerURL
		}
		if server == "" {
			server = "https://ntfy.sh"
		}
		if s.Topic == "" {
			return nil, errors.New("ntfy: topic missing in config")
		}
		return NewNtfy(server, s.Topic, s.Token, s.Username, s.Password), nil

	case store.ChannelMQTT:
		var s MQTTSettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode mqtt settings: %w", err)
		}
		if s.Broker == "" || s.Topic == "" {
			return nil, errors.New("mqtt: broker and topic are required")
		}
		return NewMQTT(s), nil

	case store.ChannelWebhook:
		var s WebhookSettings
		if err := decodeConfig(channel.Config, &s); err != nil {
			return nil, fmt.Errorf("decode webhook settings: %w", err)
		}
		if s.URL == "" {
			return nil, errors.New("webhook: url missing in config")
		}
		if m := strings.ToUpper(s.Method); m != "" && m != http.MethodPost {
			return nil, fmt.Errorf("webhook: unsupported method %q", s.Method)
		}
		includeContext := s.IncludeContext == nil || *s.IncludeContext
		return NewWebhook(s.URL, s.Headers, includeContext), nil

	default:
		return nil, fmt.Errorf("unknown channel type %q", channel.ChannelType)
	}
}

// decodeConfig maps the stored config document onto a provider settings
// struct via a JSON round trip.
func decodeConfig(cfg map[string]any, out any) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
