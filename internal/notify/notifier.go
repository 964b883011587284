// Package notify delivers fired alerts to the configured notification
// channels.
package notify

import (
	"context"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// sendTimeout caps one delivery attempt, SMTP and MQTT included.
const sendTimeout = 30 * time.Second

// footerText identifies the sender in rich payloads.
const footerText = "Infra-Mapper Alerting"

// Notifier sends one alert to an external system.
type Notifier interface {
	Send(ctx context.Context, alert *store.Alert) error
	Name() string
}

// Store is the slice of the store the dispatcher needs to load channels and
// persist their delivery state.
type Store interface {
	ListAlertChannels(ctx context.Context, enabledOnly bool) ([]store.AlertChannel, error)
	SaveAlertChannel(ctx context.Context, c *store.AlertChannel) error
}

// Dispatcher fans alerts out to every enabled channel whose filters match.
// Delivery failures are recorded per channel and never propagate to the
// caller — a broken webhook must not stall alert evaluation.
type Dispatcher struct {
	store Store
	clock clock.Clock
	log   *logging.Logger
}

// NewDispatcher wires the channel fan-out.
func NewDispatcher(st Store, clk clock.Clock, log *logging.Logger) *Dispatcher {
	return &Dispatcher{store: st, clock: clk, log: log.Component("notify")}
}

// Dispatch sends the alert through all matching channels and returns one
// result per attempted delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *store.Alert, rule *store.AlertRule) []store.NotificationResult {
	results := []store.NotificationResult{}
	channels, err := d.store.ListAlertChannels(ctx, true)
	if err != nil {
		d.log.Error("list notification channels", "error", err)
		return results
	}

	for i := range channels {
		channel := &channels[i]
		if !channelAccepts(channel, alert, rule) {
			continue
		}

		err := d.deliver(ctx, channel, alert)
		now := d.clock.Now().UTC()
		result := store.NotificationResult{
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
			SentAt:      now,
			Success:     err == nil,
		}
		channel.LastUsedAt = &now
		if err != nil {
			result.Error = err.Error()
			channel.LastError = err.Error()
			metrics.NotificationsTotal.WithLabelValues(string(channel.ChannelType), "error").Inc()
			d.log.Error("notification failed", "channel", channel.Name, "error", err)
		} else {
			metrics.NotificationsTotal.WithLabelValues(string(channel.ChannelType), "ok").Inc()
			d.log.Info("notification sent", "channel", channel.Name, "alert", alert.Title)
		}
		if err := d.store.SaveAlertChannel(ctx, channel); err != nil {
			d.log.Error("save channel state", "channel", channel.Name, "error", err)
		}
		results = append(results, result)
	}
	return results
}

// Test sends a synthetic info alert through the channel so its configuration
// can be verified without waiting for a real incident.
func (d *Dispatcher) Test(ctx context.Context, channel *store.AlertChannel) error {
	alert := &store.Alert{
		ID:            "test-alert",
		RuleID:        "test-rule",
		Severity:      store.SeverityInfo,
		Status:        store.AlertActive,
		Title:         "Notification test",
		Message:       "This is a test message verifying the notification channel configuration.",
		HostName:      "test-host",
		ContainerName: "test-container",
		TriggeredAt:   d.clock.Now().UTC(),
	}
	return d.deliver(ctx, channel, alert)
}

func (d *Dispatcher) deliver(ctx context.Context, channel *store.AlertChannel, alert *store.Alert) error {
	notifier, err := BuildNotifier(channel)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return notifier.Send(ctx, alert)
}

// channelAccepts applies the channel's severity and rule-type filters.
// An empty filter matches everything.
func channelAccepts(channel *store.AlertChannel, alert *store.Alert, rule *store.AlertRule) bool {
	if len(channel.SeverityFilter) > 0 && !containsValue(channel.SeverityFilter, string(alert.Severity)) {
		return false
	}
	if rule != nil && len(channel.RuleTypeFilter) > 0 && !containsValue(channel.RuleTypeFilter, string(rule.RuleType)) {
		return false
	}
	return true
}

func containsValue(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
