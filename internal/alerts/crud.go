package alerts

import (
	"context"

	"github.com/google/uuid"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// RulePatch is a partial rule update; nil fields are left unchanged.
type RulePatch struct {
	Name            *string         `json:"name"`
	Description     *string         `json:"description"`
	RuleType        *store.RuleType `json:"rule_type"`
	Severity        *store.Severity `json:"severity"`
	Enabled         *bool           `json:"enabled"`
	Config          map[string]any  `json:"config"`
	HostFilter      *string         `json:"host_filter"`
	ContainerFilter *string         `json:"container_filter"`
	ProjectFilter   *string         `json:"project_filter"`
	CooldownMinutes *int            `json:"cooldown_minutes"`
}

// ChannelPatch is a partial channel update; nil fields are left unchanged.
type ChannelPatch struct {
	Name           *string            `json:"name"`
	ChannelType    *store.ChannelType `json:"channel_type"`
	Enabled        *bool              `json:"enabled"`
	Config         map[string]any     `json:"config"`
	SeverityFilter []string           `json:"severity_filter"`
	RuleTypeFilter []string           `json:"rule_type_filter"`
}

// TestResult is the outcome of a channel test delivery.
type TestResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Summary aggregates alert counts for the dashboard.
type Summary struct {
	TotalActive      int64                       `json:"total_active"`
	ActiveBySeverity map[store.Severity]int64    `json:"active_by_severity"`
	ByStatus         map[store.AlertStatus]int64 `json:"by_status"`
}

// --- rules ---

// ListRules returns every configured rule.
func (s *Service) ListRules(ctx context.Context) ([]store.AlertRule, error) {
	return s.store.ListAlertRules(ctx, false)
}

// GetRule returns one rule, or nil, nil when unknown.
func (s *Service) GetRule(ctx context.Context, id string) (*store.AlertRule, error) {
	return s.store.GetAlertRule(ctx, id)
}

// CreateRule persists a new rule, filling in the ID and defaults.
func (s *Service) CreateRule(ctx context.Context, r *store.AlertRule) (*store.AlertRule, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Severity == "" {
		r.Severity = store.SeverityWarning
	}
	if r.CooldownMinutes <= 0 {
		r.CooldownMinutes = defaultCooldownMinutes
	}
	if r.Config == nil {
		r.Config = map[string]any{}
	}
	if err := s.store.CreateAlertRule(ctx, r); err != nil {
		return nil, err
	}
	s.log.Info("rule created", "name", r.Name, "type", string(r.RuleType))
	return r, nil
}

// UpdateRule applies a patch to one rule. Returns nil, nil when unknown.
func (s *Service) UpdateRule(ctx context.Context, id string, patch RulePatch) (*store.AlertRule, error) {
	rule, err := s.store.GetAlertRule(ctx, id)
	if err != nil || rule == nil {
		return nil, err
	}

	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.RuleType != nil {
		rule.RuleType = *patch.RuleType
	}
	if patch.Severity != nil {
		rule.Severity = *patch.Severity
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	if patch.Config != nil {
		rule.Config = patch.Config
	}
	if patch.HostFilter != nil {
		rule.HostFilter = *patch.HostFilter
	}
	if patch.ContainerFilter != nil {
		rule.ContainerFilter = *patch.ContainerFilter
	}
	if patch.ProjectFilter != nil {
		rule.ProjectFilter = *patch.ProjectFilter
	}
	if patch.CooldownMinutes != nil {
		rule.CooldownMinutes = *patch.CooldownMinutes
	}

	if err := s.store.SaveAlertRule(ctx, rule); err != nil {
		return nil, err
	}
	s.log.Info("rule updated", "name", rule.Name)
	return rule, nil
}

// DeleteRule removes a rule and its alerts. Returns false when unknown.
func (s *Service) DeleteRule(ctx context.Context, id string) (bool, error) {
	rule, err := s.store.GetAlertRule(ctx, id)
	if err != nil || rule == nil {
		return false, err
	}
	if err := s.store.DeleteAlertRule(ctx, id); err != nil {
		return false, err
	}
	s.log.Info("rule deleted", "name", rule.Name)
	return true, nil
}

// --- channels ---

// ListChannels returns every configured channel.
func (s *Service) ListChannels(ctx context.Context) ([]store.AlertChannel, error) {
	return s.store.ListAlertChannels(ctx, false)
}

// GetChannel returns one channel, or nil, nil when unknown.
func (s *Service) GetChannel(ctx context.Context, id string) (*store.AlertChannel, error) {
	return s.store.GetAlertChannel(ctx, id)
}

// CreateChannel persists a new channel, filling in the ID.
func (s *Service) CreateChannel(ctx context.Context, c *store.AlertChannel) (*store.AlertChannel, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Config == nil {
		c.Config = map[string]any{}
	}
	if c.SeverityFilter == nil {
		c.SeverityFilter = []string{}
	}
	if c.RuleTypeFilter == nil {
		c.RuleTypeFilter = []string{}
	}
	if err := s.store.CreateAlertChannel(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("channel created", "name", c.Name, "type", string(c.ChannelType))
	return c, nil
}

// UpdateChannel applies a patch to one channel. Returns nil, nil when unknown.
func (s *Service) UpdateChannel(ctx context.Context, id string, patch ChannelPatch) (*store.AlertChannel, error) {
	channel, err := s.store.GetAlertChannel(ctx, id)
	if err != nil || channel == nil {
		return nil, err
	}

	if patch.Name != nil {
		channel.Name = *patch.Name
	}
	if patch.ChannelType != nil {
		channel.ChannelType = *patch.ChannelType
	}
	if patch.Enabled != nil {
		channel.Enabled = *patch.Enabled
	}
	if patch.Config != nil {
		channel.Config = patch.Config
	}
	if patch.SeverityFilter != nil {
		channel.SeverityFilter = patch.SeverityFilter
	}
	if patch.RuleTypeFilter != nil {
		channel.RuleTypeFilter = patch.RuleTypeFilter
	}

	if err := s.store.SaveAlertChannel(ctx, channel); err != nil {
		return nil, err
	}
	s.log.Info("channel updated", "name", channel.Name)
	return channel, nil
}

// DeleteChannel removes a channel. Returns false when unknown.
func (s *Service) DeleteChannel(ctx context.Context, id string) (bool, error) {
	channel, err := s.store.GetAlertChannel(ctx, id)
	if err != nil || channel == nil {
		return false, err
	}
	if err := s.store.DeleteAlertChannel(ctx, id); err != nil {
		return false, err
	}
	s.log.Info("channel deleted", "name", channel.Name)
	return true, nil
}

// TestChannel pushes a synthetic alert through one channel and records the
// outcome on it. Returns nil, nil when the channel is unknown.
func (s *Service) TestChannel(ctx context.Context, id string) (*TestResult, error) {
	channel, err := s.store.GetAlertChannel(ctx, id)
	if err != nil || channel == nil {
		return nil, err
	}

	result := &TestResult{Success: true}
	if s.dispatcher == nil {
		result.Success = false
		result.Error = "notifications disabled"
	} else if err := s.dispatcher.Test(ctx, channel); err != nil {
		result.Success = false
		result.Error = err.Error()
	}

	now := s.clock.Now().UTC()
	if result.Success {
		channel.LastError = ""
		channel.LastUsedAt = &now
	} else {
		channel.LastError = result.Error
	}
	if err := s.store.SaveAlertChannel(ctx, channel); err != nil {
		return nil, err
	}
	return result, nil
}

// --- alerts ---

// List returns one page of alerts plus the total matching count.
func (s *Service) List(ctx context.Context, q store.AlertQuery) ([]store.Alert, int64, error) {
	return s.store.ListAlerts(ctx, q)
}

// Get returns one alert, or nil, nil when unknown.
func (s *Service) Get(ctx context.Context, id string) (*store.Alert, error) {
	return s.store.GetAlert(ctx, id)
}

// Acknowledge marks an alert acknowledged. Returns nil, nil when unknown.
func (s *Service) Acknowledge(ctx context.Context, id, by string) (*store.Alert, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil || alert == nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	alert.Status = store.AlertAcknowledged
	alert.AcknowledgedAt = &now
	alert.AcknowledgedBy = by
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.log.Info("alert acknowledged", "id", alert.ID)
	return alert, nil
}

// Resolve marks an alert resolved. Returns nil, nil when unknown.
func (s *Service) Resolve(ctx context.Context, id string) (*store.Alert, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil || alert == nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	alert.Status = store.AlertResolved
	alert.ResolvedAt = &now
	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return nil, err
	}
	s.log.Info("alert resolved", "id", alert.ID)
	return alert, nil
}

// Delete removes one alert. Returns false when unknown.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	alert, err := s.store.GetAlert(ctx, id)
	if err != nil || alert == nil {
		return false, err
	}
	if err := s.store.DeleteAlert(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteResolvedOlderThan prunes resolved alerts past the retention window.
func (s *Service) DeleteResolvedOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = defaultRetentionDays
	}
	cutoff := s.clock.Now().UTC().AddDate(0, 0, -days)
	n, err := s.store.DeleteResolvedAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("pruned resolved alerts", "count", n, "retention_days", days)
	}
	return n, nil
}

// GetSummary aggregates alert counts by severity and status.
func (s *Service) GetSummary(ctx context.Context) (*Summary, error) {
	bySeverity, err := s.store.CountActiveAlertsBySeverity(ctx)
	if err != nil {
		return nil, err
	}
	byStatus, err := s.store.CountAlertsByStatus(ctx)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		ActiveBySeverity: bySeverity,
		ByStatus:         byStatus,
	}
	for _, n := range bySeverity {
		sum.TotalActive += n
	}
	return sum, nil
}
