package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// AlertQuery narrows an alert listing. Zero values mean "no filter";
// Limit defaults to 100.
type AlertQuery struct {
	Status   AlertStatus
	Severity Severity
	HostID   string
	Limit    int
	Offset   int
}

// --- rules ---

// CreateAlertRule inserts a new rule.
func (s *Store) CreateAlertRule(ctx context.Context, r *AlertRule) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// GetAlertRule returns a rule by ID. Returns nil, nil when unknown.
func (s *Store) GetAlertRule(ctx context.Context, id string) (*AlertRule, error) {
	var r AlertRule
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAlertRules returns rules, optionally restricted to enabled ones.
func (s *Store) ListAlertRules(ctx context.Context, enabledOnly bool) ([]AlertRule, error) {
	db := s.db.WithContext(ctx).Order("name asc")
	if enabledOnly {
		db = db.Where("enabled = ?", true)
	}
	var rules []AlertRule
	err := db.Find(&rules).Error
	return rules, err
}

// SaveAlertRule fully updates an existing rule.
func (s *Store) SaveAlertRule(ctx context.Context, r *AlertRule) error {
	return s.db.WithContext(ctx).Save(r).Error
}

// DeleteAlertRule removes a rule; its alerts cascade.
func (s *Store) DeleteAlertRule(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&AlertRule{}, "id = ?", id).Error
}

// --- alerts ---

// CreateAlert inserts a new alert.
func (s *Store) CreateAlert(ctx context.Context, a *Alert) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// GetAlert returns an alert by ID. Returns nil, nil when unknown.
func (s *Store) GetAlert(ctx context.Context, id string) (*Alert, error) {
	var a Alert
	err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// SaveAlert fully updates an existing alert.
func (s *Store) SaveAlert(ctx context.Context, a *Alert) error {
	return s.db.WithContext(ctx).Save(a).Error
}

// DeleteAlert removes one alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Alert{}, "id = ?", id).Error
}

// ListAlerts returns one page of alerts, newest first, plus the total count
// matching the filters.
func (s *Store) ListAlerts(ctx context.Context, q AlertQuery) ([]Alert, int64, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}

	base := s.db.WithContext(ctx).Model(&Alert{})
	if q.Status != "" {
		base = base.Where("status = ?", q.Status)
	}
	if q.Severity != "" {
		base = base.Where("severity = ?", q.Severity)
	}
	if q.HostID != "" {
		base = base.Where("host_id = ?", q.HostID)
	}
	base = base.Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var alerts []Alert
	err := base.Order("triggered_at desc").Offset(q.Offset).Limit(q.Limit).Find(&alerts).Error
	return alerts, total, err
}

// ActiveAlertsForRule returns every active alert belonging to one rule.
func (s *Store) ActiveAlertsForRule(ctx context.Context, ruleID string) ([]Alert, error) {
	var alerts []Alert
	err := s.db.WithContext(ctx).
		Where("rule_id = ? AND status = ?", ruleID, AlertActive).
		Find(&alerts).Error
	return alerts, err
}

// HasRecentAlert reports whether the rule fired for the resource after
// `since`. Empty hostID / containerID leave that condition out.
func (s *Store) HasRecentAlert(ctx context.Context, ruleID, hostID, containerID string, since time.Time) (bool, error) {
	db := s.db.WithContext(ctx).Model(&Alert{}).
		Where("rule_id = ? AND triggered_at > ?", ruleID, since)
	if hostID != "" {
		db = db.Where("host_id = ?", hostID)
	}
	if containerID != "" {
		db = db.Where("container_id = ?", containerID)
	}
	var n int64
	err := db.Count(&n).Error
	return n > 0, err
}

// ActiveAlertFor returns an active alert of the rule for the resource, or
// nil, nil when none exists. Empty hostID / containerID leave that condition
// out.
func (s *Store) ActiveAlertFor(ctx context.Context, ruleID, hostID, containerID string) (*Alert, error) {
	db := s.db.WithContext(ctx).
		Where("rule_id = ? AND status = ?", ruleID, AlertActive)
	if hostID != "" {
		db = db.Where("host_id = ?", hostID)
	}
	if containerID != "" {
		db = db.Where("container_id = ?", containerID)
	}
	var a Alert
	err := db.First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CountAlertsByStatus groups alert counts by lifecycle status.
func (s *Store) CountAlertsByStatus(ctx context.Context) (map[AlertStatus]int64, error) {
	var rows []struct {
		Status AlertStatus
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[AlertStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// CountActiveAlertsBySeverity groups active alerts by severity.
func (s *Store) CountActiveAlertsBySeverity(ctx context.Context) (map[Severity]int64, error) {
	var rows []struct {
		Severity Severity
		N        int64
	}
	err := s.db.WithContext(ctx).Model(&Alert{}).
		Select("severity, count(*) as n").
		Where("status = ?", AlertActive).
		Group("severity").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[Severity]int64, len(rows))
	for _, r := range rows {
		out[r.Severity] = r.N
	}
	return out, nil
}

// DeleteResolvedAlertsBefore removes resolved alerts older than cutoff.
func (s *Store) DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Delete(&Alert{}, "status = ? AND resolved_at IS NOT NULL AND resolved_at < ?", AlertResolved, cutoff)
	return res.RowsAffected, res.Error
}

// --- channels ---

// CreateAlertChannel inserts a new notification channel.
func (s *Store) CreateAlertChannel(ctx context.Context, c *AlertChannel) error {
	return s.db.WithContext(ctx).Create(c).Error
}

// GetAlertChannel returns a channel by ID. Returns nil, nil when unknown.
func (s *Store) GetAlertChannel(ctx context.Context, id string) (*AlertChannel, error) {
	var c AlertChannel
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListAlertChannels returns channels, optionally restricted to enabled ones.
func (s *Store) ListAlertChannels(ctx context.Context, enabledOnly bool) ([]AlertChannel, error) {
	db := s.db.WithContext(ctx).Order("name asc")
	if enabledOnly {
		db = db.Where("enabled = ?", true)
	}
	var channels []AlertChannel
	err := db.Find(&channels).Error
	return channels, err
}

// SaveAlertChannel fully updates an existing channel.
func (s *Store) SaveAlertChannel(ctx context.Context, c *AlertChannel) error {
	return s.db.WithContext(ctx).Save(c).Error
}

// DeleteAlertChannel removes a channel.
func (s *Store) DeleteAlertChannel(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&AlertChannel{}, "id = ?", id).Error
}
