// Package store persists the fleet model in Postgres through gorm. It owns
// the schema and exposes typed queries; services compose them and never
// touch SQL directly.
package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/infra-mapper/infra-mapper/internal/config"
	"github.com/infra-mapper/infra-mapper/internal/logging"
)

// Store wraps a gorm handle. All methods are safe for concurrent use.
type Store struct {
	db  *gorm.DB
	log *logging.Logger
}

func allModels() []any {
	return []any{
		&Host{},
		&Container{},
		&Network{},
		&Connection{},
		&ContainerLog{},
		&HostMetric{},
		&ContainerMetric{},
		&AlertRule{},
		&Alert{},
		&AlertChannel{},
		&LogSink{},
		&OrganizationHost{},
		&TeamHost{},
	}
}

// Open connects to Postgres and migrates the schema. gorm's own logging is
// silenced; query errors surface through the returned errors instead.
func Open(cfg *config.Server, log *logging.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, log: log.Component("store")}, nil
}

// Transaction runs fn inside a single database transaction. The Store passed
// to fn is only valid for the duration of the call.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, log: s.log})
	})
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
