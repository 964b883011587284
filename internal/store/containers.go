package store

import (
	"context"
	"errors"

	"github.com/infra-mapper/infra-mapper/internal/report"
	"gorm.io/gorm"
)

// GetContainer returns a container by surrogate ID. Returns nil, nil when
// unknown.
func (s *Store) GetContainer(ctx context.Context, id string) (*Container, error) {
	var c Container
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContainers returns every container across all hosts.
func (s *Store) ListContainers(ctx context.Context) ([]Container, error) {
	var containers []Container
	err := s.db.WithContext(ctx).Order("name asc").Find(&containers).Error
	return containers, err
}

// ListContainersByHost returns all containers reported by one host.
func (s *Store) ListContainersByHost(ctx context.Context, hostID string) ([]Container, error) {
	var containers []Container
	err := s.db.WithContext(ctx).Where("host_id = ?", hostID).Find(&containers).Error
	return containers, err
}

// GraphContainers returns one host's containers for graph materialization,
// optionally restricted to running ones and to a compose project pattern.
func (s *Store) GraphContainers(ctx context.Context, hostID string, runningOnly bool, projectPattern string) ([]Container, error) {
	db := s.db.WithContext(ctx).Where("host_id = ?", hostID)
	if runningOnly {
		db = db.Where("status = ?", report.StatusRunning)
	}
	if projectPattern != "" {
		db = db.Where("compose_project ILIKE ?", "%"+projectPattern+"%")
	}
	var containers []Container
	err := db.Find(&containers).Error
	return containers, err
}

// FindContainerByService resolves a compose (project, service) pair on one
// host. Returns nil, nil when absent.
func (s *Store) FindContainerByService(ctx context.Context, hostID, project, service string) (*Container, error) {
	var c Container
	err := s.db.WithContext(ctx).
		Where("host_id = ? AND compose_project = ? AND compose_service = ?", hostID, project, service).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateContainers batch-inserts new containers.
func (s *Store) CreateContainers(ctx context.Context, containers []Container) error {
	if len(containers) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(containers, 200).Error
}

// SaveContainer fully updates one existing container row.
func (s *Store) SaveContainer(ctx context.Context, c *Container) error {
	return s.db.WithContext(ctx).Save(c).Error
}

// DeleteContainersByID removes containers by surrogate ID.
func (s *Store) DeleteContainersByID(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&Container{}, "id IN ?", ids).Error
}

// CountContainers returns total and running container counts.
func (s *Store) CountContainers(ctx context.Context) (total, running int64, err error) {
	if err = s.db.WithContext(ctx).Model(&Container{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = s.db.WithContext(ctx).Model(&Container{}).
		Where("status = ?", report.StatusRunning).Count(&running).Error
	return total, running, err
}
