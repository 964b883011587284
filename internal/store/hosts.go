package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// GetHost returns a host by agent ID. Returns nil, nil when unknown.
func (s *Store) GetHost(ctx context.Context, id string) (*Host, error) {
	var h Host
	err := s.db.WithContext(ctx).First(&h, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// SaveHost inserts or fully updates one host row.
func (s *Store) SaveHost(ctx context.Context, h *Host) error {
	return s.db.WithContext(ctx).Save(h).Error
}

// ListHosts returns all hosts ordered by hostname.
func (s *Store) ListHosts(ctx context.Context) ([]Host, error) {
	var hosts []Host
	err := s.db.WithContext(ctx).Order("hostname asc").Find(&hosts).Error
	return hosts, err
}

// GraphHostQuery narrows the host set for graph materialization.
type GraphHostQuery struct {
	// OnlineSince, when set, keeps only hosts seen at or after it.
	OnlineSince *time.Time
	// HostnamePattern is a case-insensitive substring match.
	HostnamePattern string
	// TeamID wins over OrganizationID when both are set.
	OrganizationID string
	TeamID         string
}

// GraphHosts returns the hosts visible under a graph query.
func (s *Store) GraphHosts(ctx context.Context, q GraphHostQuery) ([]Host, error) {
	db := s.db.WithContext(ctx).Model(&Host{})
	switch {
	case q.TeamID != "":
		db = db.Joins("JOIN team_hosts ON team_hosts.host_id = hosts.id").
			Where("team_hosts.team_id = ? AND team_hosts.can_view = ?", q.TeamID, true)
	case q.OrganizationID != "":
		db = db.Joins("JOIN organization_hosts ON organization_hosts.host_id = hosts.id").
			Where("organization_hosts.organization_id = ?", q.OrganizationID)
	}
	if q.OnlineSince != nil {
		db = db.Where("last_seen >= ?", *q.OnlineSince)
	}
	if q.HostnamePattern != "" {
		db = db.Where("hostname ILIKE ?", "%"+q.HostnamePattern+"%")
	}

	var hosts []Host
	err := db.Find(&hosts).Error
	return hosts, err
}

// UpdateHostFields applies a partial column update to one host.
func (s *Store) UpdateHostFields(ctx context.Context, id string, fields map[string]any) error {
	return s.db.WithContext(ctx).Model(&Host{}).Where("id = ?", id).Updates(fields).Error
}

// CountHosts returns total and online host counts.
func (s *Store) CountHosts(ctx context.Context) (total, online int64, err error) {
	if err = s.db.WithContext(ctx).Model(&Host{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.WithContext(ctx).Model(&Host{}).Where("is_online = ?", true).Count(&online).Error
	return total, online, err
}

// DeleteHost removes a host; containers, networks, connections and metrics
// cascade through the schema constraints.
func (s *Store) DeleteHost(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&Host{}, "id = ?", id).Error
}
