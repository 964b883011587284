// Package alerts evaluates alerting rules against the stored fleet state and
// manages the alert lifecycle.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

const (
	defaultOfflineTimeoutMinutes = 5
	defaultCooldownMinutes       = 15
	defaultRetentionDays         = 30
)

// Store is the slice of the store the alert service needs.
type Store interface {
	ListAlertRules(ctx context.Context, enabledOnly bool) ([]store.AlertRule, error)
	GetAlertRule(ctx context.Context, id string) (*store.AlertRule, error)
	CreateAlertRule(ctx context.Context, r *store.AlertRule) error
	SaveAlertRule(ctx context.Context, r *store.AlertRule) error
	DeleteAlertRule(ctx context.Context, id string) error

	ListAlertChannels(ctx context.Context, enabledOnly bool) ([]store.AlertChannel, error)
	GetAlertChannel(ctx context.Context, id string) (*store.AlertChannel, error)
	CreateAlertChannel(ctx context.Context, c *store.AlertChannel) error
	SaveAlertChannel(ctx context.Context, c *store.AlertChannel) error
	DeleteAlertChannel(ctx context.Context, id string) error

	CreateAlert(ctx context.Context, a *store.Alert) error
	GetAlert(ctx context.Context, id string) (*store.Alert, error)
	SaveAlert(ctx context.Context, a *store.Alert) error
	DeleteAlert(ctx context.Context, id string) error
	ListAlerts(ctx context.Context, q store.AlertQuery) ([]store.Alert, int64, error)
	ActiveAlertsForRule(ctx context.Context, ruleID string) ([]store.Alert, error)
	HasRecentAlert(ctx context.Context, ruleID, hostID, containerID string, since time.Time) (bool, error)
	ActiveAlertFor(ctx context.Context, ruleID, hostID, containerID string) (*store.Alert, error)
	CountAlertsByStatus(ctx context.Context) (map[store.AlertStatus]int64, error)
	CountActiveAlertsBySeverity(ctx context.Context) (map[store.Severity]int64, error)
	DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ListHosts(ctx context.Context) ([]store.Host, error)
	ListContainers(ctx context.Context) ([]store.Container, error)
}

// Dispatcher fans one alert out to every matching notification channel and
// reports per-channel results.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *store.Alert, rule *store.AlertRule) []store.NotificationResult
	Test(ctx context.Context, channel *store.AlertChannel) error
}

// Service evaluates rules and owns alert/rule/channel lifecycles.
type Service struct {
	store      Store
	dispatcher Dispatcher
	bus        *events.Bus
	clock      clock.Clock
	log        *logging.Logger
}

// NewService wires the alert service. dispatcher may be nil, in which case
// alerts fire without notifications.
func NewService(st Store, dispatcher Dispatcher, bus *events.Bus, clk clock.Clock, log *logging.Logger) *Service {
	return &Service{
		store:      st,
		dispatcher: dispatcher,
		bus:        bus,
		clock:      clk,
		log:        log.Component("alerts"),
	}
}

// EvaluateAll runs every enabled rule and returns the newly created alerts.
// A failing rule is logged and skipped so one bad rule cannot stall the rest.
func (s *Service) EvaluateAll(ctx context.Context) ([]store.Alert, error) {
	rules, err := s.store.ListAlertRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	var created []store.Alert
	for i := range rules {
		rule := &rules[i]
		alerts, err := s.evaluateRule(ctx, rule)
		if err != nil {
			s.log.Error("rule evaluation failed", "rule", rule.Name, "error", err)
			continue
		}
		created = append(created, alerts...)
	}
	return created, nil
}

func (s *Service) evaluateRule(ctx context.Context, rule *store.AlertRule) ([]store.Alert, error) {
	switch rule.RuleType {
	case store.RuleHostOffline:
		return s.evaluateHostOffline(ctx, rule)
	case store.RuleContainerStopped:
		return s.evaluateContainerStopped(ctx, rule)
	case store.RuleContainerUnhealthy:
		return s.evaluateContainerUnhealthy(ctx, rule)
	default:
		return nil, nil
	}
}

func (s *Service) evaluateHostOffline(ctx context.Context, rule *store.AlertRule) ([]store.Alert, error) {
	timeoutMinutes := configInt(rule.Config, "timeout_minutes", defaultOfflineTimeoutMinutes)
	cutoff := s.clock.Now().UTC().Add(-time.Duration(timeoutMinutes) * time.Minute)

	hosts, err := s.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}

	offline := make([]store.Host, 0)
	for _, h := range hosts {
		if h.LastSeen.Before(cutoff) {
			offline = append(offline, h)
		}
	}

	var created []store.Alert
	offlineIDs := make(map[string]bool, len(offline))
	for i := range offline {
		host := &offline[i]
		offlineIDs[host.ID] = true

		if rule.HostFilter != "" && !matchesPattern(host.Hostname, rule.HostFilter) {
			continue
		}
		skip, err := s.shouldSkip(ctx, rule, host.ID, "")
		if err != nil {
			return created, err
		}
		if skip {
			continue
		}

		alert, err := s.fire(ctx, rule, fireParams{
			Title: fmt.Sprintf("Host offline: %s", host.Hostname),
			Message: fmt.Sprintf("Host %s has not reported for %d minutes. Last seen: %s",
				host.Hostname, timeoutMinutes, host.LastSeen.Format("2006-01-02 15:04:05")),
			HostID:   host.ID,
			HostName: host.Hostname,
		})
		if err != nil {
			return created, err
		}
		created = append(created, *alert)
	}

	if err := s.resolveRecovered(ctx, rule, offlineIDs, byHost); err != nil {
		return created, err
	}
	return created, nil
}

func (s *Service) evaluateContainerStopped(ctx context.Context, rule *store.AlertRule) ([]store.Alert, error) {
	containers, err := s.store.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	hostnames, err := s.hostnameIndex(ctx)
	if err != nil {
		return nil, err
	}

	excludes := configStrings(rule.Config, "exclude")

	var created []store.Alert
	stoppedIDs := make(map[string]bool)
	for i := range containers {
		c := &containers[i]
		switch c.Status {
		case report.StatusStopped, report.StatusExited, report.StatusDead:
		default:
			continue
		}
		stoppedIDs[c.ID] = true

		hostname, ok := hostnames[c.HostID]
		if !ok {
			continue
		}
		if rule.HostFilter != "" && !matchesPattern(hostname, rule.HostFilter) {
			continue
		}
		if rule.ContainerFilter != "" && !matchesPattern(c.Name, rule.ContainerFilter) {
			continue
		}
		if rule.ProjectFilter != "" && c.ComposeProject != "" &&
			!matchesPattern(c.ComposeProject, rule.ProjectFilter) {
			continue
		}
		if matchesAny(c.Name, excludes) {
			continue
		}

		skip, err := s.shouldSkip(ctx, rule, "", c.ID)
		if err != nil {
			return created, err
		}
		if skip {
			continue
		}

		alert, err := s.fire(ctx, rule, fireParams{
			Title: fmt.Sprintf("Container stopped: %s", c.Name),
			Message: fmt.Sprintf("Container %s on %s is stopped (status: %s)",
				c.Name, hostname, c.Status),
			HostID:        c.HostID,
			HostName:      hostname,
			ContainerID:   c.ID,
			ContainerName: c.Name,
			Context:       map[string]any{"compose_project": c.ComposeProject},
		})
		if err != nil {
			return created, err
		}
		created = append(created, *alert)
	}

	if err := s.resolveRecovered(ctx, rule, stoppedIDs, byContainer); err != nil {
		return created, err
	}
	return created, nil
}

func (s *Service) evaluateContainerUnhealthy(ctx context.Context, rule *store.AlertRule) ([]store.Alert, error) {
	containers, err := s.store.ListContainers(ctx)
	if err != nil {
		return nil, err
	}
	hostnames, err := s.hostnameIndex(ctx)
	if err != nil {
		return nil, err
	}

	var created []store.Alert
	unhealthyIDs := make(map[string]bool)
	for i := range containers {
		c := &containers[i]
		if c.Health != report.HealthUnhealthy {
			continue
		}
		unhealthyIDs[c.ID] = true

		hostname, ok := hostnames[c.HostID]
		if !ok {
			continue
		}
		if rule.HostFilter != "" && !matchesPattern(hostname, rule.HostFilter) {
			continue
		}
		if rule.ContainerFilter != "" && !matchesPattern(c.Name, rule.ContainerFilter) {
			continue
		}

		skip, err := s.shouldSkip(ctx, rule, "", c.ID)
		if err != nil {
			return created, err
		}
		if skip {
			continue
		}

		alert, err := s.fire(ctx, rule, fireParams{
			Title:         fmt.Sprintf("Container unhealthy: %s", c.Name),
			Message:       fmt.Sprintf("Container %s on %s is failing its health check", c.Name, hostname),
			HostID:        c.HostID,
			HostName:      hostname,
			ContainerID:   c.ID,
			ContainerName: c.Name,
		})
		if err != nil {
			return created, err
		}
		created = append(created, *alert)
	}

	if err := s.resolveRecovered(ctx, rule, unhealthyIDs, byContainer); err != nil {
		return created, err
	}
	return created, nil
}

func (s *Service) hostnameIndex(ctx context.Context) (map[string]string, error) {
	hosts, err := s.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]string, len(hosts))
	for _, h := range hosts {
		idx[h.ID] = h.Hostname
	}
	return idx, nil
}

// shouldSkip applies cooldown and active-alert dedupe for one resource.
func (s *Service) shouldSkip(ctx context.Context, rule *store.AlertRule, hostID, containerID string) (bool, error) {
	cooldown := rule.CooldownMinutes
	if cooldown <= 0 {
		cooldown = defaultCooldownMinutes
	}
	since := s.clock.Now().UTC().Add(-time.Duration(cooldown) * time.Minute)

	recent, err := s.store.HasRecentAlert(ctx, rule.ID, hostID, containerID, since)
	if err != nil {
		return false, err
	}
	if recent {
		return true, nil
	}

	active, err := s.store.ActiveAlertFor(ctx, rule.ID, hostID, containerID)
	if err != nil {
		return false, err
	}
	return active != nil, nil
}

type fireParams struct {
	Title         string
	Message       string
	HostID        string
	HostName      string
	ContainerID   string
	ContainerName string
	Context       map[string]any
}

// fire persists a new alert, sends notifications and publishes the event.
func (s *Service) fire(ctx context.Context, rule *store.AlertRule, p fireParams) (*store.Alert, error) {
	now := s.clock.Now().UTC()
	alert := &store.Alert{
		ID:                uuid.New().String(),
		RuleID:            rule.ID,
		Severity:          rule.Severity,
		Status:            store.AlertActive,
		Title:             p.Title,
		Message:           p.Message,
		HostID:            p.HostID,
		HostName:          p.HostName,
		ContainerID:       p.ContainerID,
		ContainerName:     p.ContainerName,
		Context:           p.Context,
		TriggeredAt:       now,
		NotificationsSent: []store.NotificationResult{},
	}
	if alert.Context == nil {
		alert.Context = map[string]any{}
	}

	if err := s.store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	metrics.AlertsFired.Inc()
	s.log.Warn("alert fired", "severity", string(alert.Severity), "title", alert.Title)

	if s.dispatcher != nil {
		alert.NotificationsSent = s.dispatcher.Dispatch(ctx, alert, rule)
		if err := s.store.SaveAlert(ctx, alert); err != nil {
			return nil, err
		}
	}

	s.bus.Publish(events.Event{
		Type: events.EventAlertFired,
		Data: map[string]any{
			"alert_id":  alert.ID,
			"severity":  alert.Severity,
			"title":     alert.Title,
			"host_id":   alert.HostID,
			"container": alert.ContainerName,
		},
		Timestamp: now,
	})
	return alert, nil
}

type resolveKey int

const (
	byHost resolveKey = iota
	byContainer
)

// resolveRecovered auto-resolves active alerts of the rule whose resource is
// no longer an offender. An empty offender set resolves everything.
func (s *Service) resolveRecovered(ctx context.Context, rule *store.AlertRule, offenders map[string]bool, key resolveKey) error {
	active, err := s.store.ActiveAlertsForRule(ctx, rule.ID)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	for i := range active {
		alert := &active[i]
		id := alert.HostID
		if key == byContainer {
			id = alert.ContainerID
		}
		if offenders[id] {
			continue
		}

		alert.Status = store.AlertResolved
		alert.ResolvedAt = &now
		if err := s.store.SaveAlert(ctx, alert); err != nil {
			return err
		}
		s.log.Info("alert auto-resolved", "title", alert.Title)
		s.bus.Publish(events.Event{
			Type: events.EventAlertResolved,
			Data: map[string]any{
				"alert_id": alert.ID,
				"title":    alert.Title,
			},
			Timestamp: now,
		})
	}
	return nil
}
