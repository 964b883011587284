package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// InsertHostMetric stores one host sample.
func (s *Store) InsertHostMetric(ctx context.Context, m *HostMetric) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// InsertContainerMetrics batch-inserts container samples.
func (s *Store) InsertContainerMetrics(ctx context.Context, metrics []ContainerMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(metrics, 200).Error
}

// HostMetricRange returns a host's samples within [start, end], oldest first.
func (s *Store) HostMetricRange(ctx context.Context, hostID string, start, end time.Time) ([]HostMetric, error) {
	var metrics []HostMetric
	err := s.db.WithContext(ctx).
		Where("host_id = ? AND timestamp >= ? AND timestamp <= ?", hostID, start, end).
		Order("timestamp asc").
		Find(&metrics).Error
	return metrics, err
}

// ContainerMetricRange returns a container's samples within [start, end],
// oldest first. The ID is the surrogate "<host_id>:<short_id>".
func (s *Store) ContainerMetricRange(ctx context.Context, containerID string, start, end time.Time) ([]ContainerMetric, error) {
	var metrics []ContainerMetric
	err := s.db.WithContext(ctx).
		Where("container_id = ? AND timestamp >= ? AND timestamp <= ?", containerID, start, end).
		Order("timestamp asc").
		Find(&metrics).Error
	return metrics, err
}

// LatestHostMetric returns a host's most recent sample, or nil, nil when
// none exist.
func (s *Store) LatestHostMetric(ctx context.Context, hostID string) (*HostMetric, error) {
	var m HostMetric
	err := s.db.WithContext(ctx).
		Where("host_id = ?", hostID).
		Order("timestamp desc").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// LatestContainerMetric returns a container's most recent sample, or
// nil, nil when none exist.
func (s *Store) LatestContainerMetric(ctx context.Context, containerID string) (*ContainerMetric, error) {
	var m ContainerMetric
	err := s.db.WithContext(ctx).
		Where("container_id = ?", containerID).
		Order("timestamp desc").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteMetricsBefore removes host and container samples older than cutoff.
func (s *Store) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (hostDeleted, containerDeleted int64, err error) {
	res := s.db.WithContext(ctx).Delete(&HostMetric{}, "timestamp < ?", cutoff)
	if res.Error != nil {
		return 0, 0, res.Error
	}
	hostDeleted = res.RowsAffected

	res = s.db.WithContext(ctx).Delete(&ContainerMetric{}, "timestamp < ?", cutoff)
	if res.Error != nil {
		return hostDeleted, 0, res.Error
	}
	return hostDeleted, res.RowsAffected, nil
}
