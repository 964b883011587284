package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// CreateLogSink inserts a new sink.
func (s *Store) CreateLogSink(ctx context.Context, sink *LogSink) error {
	return s.db.WithContext(ctx).Create(sink).Error
}

// GetLogSink returns a sink by ID. Returns nil, nil when unknown.
func (s *Store) GetLogSink(ctx context.Context, id string) (*LogSink, error) {
	var sink LogSink
	err := s.db.WithContext(ctx).First(&sink, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sink, nil
}

// ListLogSinks returns sinks, optionally restricted to enabled ones.
func (s *Store) ListLogSinks(ctx context.Context, enabledOnly bool) ([]LogSink, error) {
	db := s.db.WithContext(ctx).Order("name asc")
	if enabledOnly {
		db = db.Where("enabled = ?", true)
	}
	var sinks []LogSink
	err := db.Find(&sinks).Error
	return sinks, err
}

// SaveLogSink fully updates an existing sink.
func (s *Store) SaveLogSink(ctx context.Context, sink *LogSink) error {
	return s.db.WithContext(ctx).Save(sink).Error
}

// DeleteLogSink removes a sink.
func (s *Store) DeleteLogSink(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&LogSink{}, "id = ?", id).Error
}

// RecordSinkSuccess bumps a sink's delivery counter after a successful flush.
func (s *Store) RecordSinkSuccess(ctx context.Context, id string, sent int) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&LogSink{}).Where("id = ?", id).
		Updates(map[string]any{
			"logs_sent":    gorm.Expr("logs_sent + ?", sent),
			"last_success": now,
		}).Error
}

// RecordSinkError bumps a sink's error counter and remembers the message.
func (s *Store) RecordSinkError(ctx context.Context, id, message string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&LogSink{}).Where("id = ?", id).
		Updates(map[string]any{
			"errors_count":       gorm.Expr("errors_count + 1"),
			"last_error":         now,
			"last_error_message": message,
		}).Error
}
