package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LogQuery narrows a container log page. Zero values mean "no filter";
// Limit defaults to 500.
type LogQuery struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Search string
	Stream string
}

// LogStats summarizes the log table for the stats endpoint.
type LogStats struct {
	Total  int64      `json:"total"`
	Stdout int64      `json:"stdout"`
	Stderr int64      `json:"stderr"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// InsertLogs batch-inserts log lines.
func (s *Store) InsertLogs(ctx context.Context, logs []ContainerLog) error {
	if len(logs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(logs, 500).Error
}

// ContainerLogs returns one page of a container's logs, newest first, plus
// the total count matching the filters.
func (s *Store) ContainerLogs(ctx context.Context, containerID string, q LogQuery) ([]ContainerLog, int64, error) {
	if q.Limit <= 0 {
		q.Limit = 500
	}

	base := s.db.WithContext(ctx).Model(&ContainerLog{}).Where("container_id = ?", containerID)
	base = applyLogFilters(base, q).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []ContainerLog
	err := base.Order("timestamp desc").Offset(q.Offset).Limit(q.Limit).Find(&logs).Error
	return logs, total, err
}

// HostLogs returns the newest log lines across all of a host's containers.
func (s *Store) HostLogs(ctx context.Context, hostID string, limit int, since *time.Time) ([]ContainerLog, error) {
	if limit <= 0 {
		limit = 500
	}
	db := s.db.WithContext(ctx).Where("host_id = ?", hostID)
	if since != nil {
		db = db.Where("timestamp >= ?", *since)
	}
	var logs []ContainerLog
	err := db.Order("timestamp desc").Limit(limit).Find(&logs).Error
	return logs, err
}

func applyLogFilters(db *gorm.DB, q LogQuery) *gorm.DB {
	if q.Since != nil {
		db = db.Where("timestamp >= ?", *q.Since)
	}
	if q.Until != nil {
		db = db.Where("timestamp <= ?", *q.Until)
	}
	if q.Search != "" {
		db = db.Where("message ILIKE ?", "%"+q.Search+"%")
	}
	if q.Stream != "" {
		db = db.Where("stream = ?", q.Stream)
	}
	return db
}

// GetLogStats counts stored logs overall and per stream.
func (s *Store) GetLogStats(ctx context.Context) (*LogStats, error) {
	stats := &LogStats{}
	if err := s.db.WithContext(ctx).Model(&ContainerLog{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&ContainerLog{}).
		Where("stream = ?", "stdout").Count(&stats.Stdout).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&ContainerLog{}).
		Where("stream = ?", "stderr").Count(&stats.Stderr).Error; err != nil {
		return nil, err
	}

	var bounds struct {
		Oldest *time.Time
		Newest *time.Time
	}
	err := s.db.WithContext(ctx).Model(&ContainerLog{}).
		Select("min(timestamp) as oldest, max(timestamp) as newest").
		Scan(&bounds).Error
	if err != nil {
		return nil, err
	}
	stats.Oldest = bounds.Oldest
	stats.Newest = bounds.Newest
	return stats, nil
}

// DeleteLogsBefore removes log lines older than cutoff and reports how many
// went away.
func (s *Store) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&ContainerLog{}, "timestamp < ?", cutoff)
	return res.RowsAffected, res.Error
}
