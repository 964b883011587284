package config

import (
	"errors"
	"fmt"
	"time"
)

// Server holds all mapper-server configuration from environment variables.
type Server struct {
	ListenAddr string
	APIKey     string

	// Database
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Agent health sweep
	SweepInterval       time.Duration
	OfflineAfterMinutes int

	// Retention
	LogRetentionDays    int
	MetricRetentionDays int
	AlertRetentionDays  int

	// Logging
	LogLevel string
	LogJSON  bool
}

// LoadServer reads server configuration from environment variables with defaults.
func LoadServer() *Server {
	return &Server{
		ListenAddr:          envStr("MAPPER_LISTEN_ADDR", ":8000"),
		APIKey:              envStr("MAPPER_API_KEY", "change-me-in-production"),
		DBHost:              envStr("MAPPER_DB_HOST", "localhost"),
		DBPort:              envInt("MAPPER_DB_PORT", 5432),
		DBName:              envStr("MAPPER_DB_NAME", "infra_mapper"),
		DBUser:              envStr("MAPPER_DB_USER", "postgres"),
		DBPassword:          envStr("MAPPER_DB_PASSWORD", "postgres"),
		DBSSLMode:           envStr("MAPPER_DB_SSLMODE", "disable"),
		SweepInterval:       envDuration("MAPPER_SWEEP_INTERVAL", 30*time.Second),
		OfflineAfterMinutes: envInt("MAPPER_OFFLINE_AFTER_MINUTES", 5),
		LogRetentionDays:    envInt("MAPPER_LOG_RETENTION_DAYS", 7),
		MetricRetentionDays: envInt("MAPPER_METRIC_RETENTION_DAYS", 7),
		AlertRetentionDays:  envInt("MAPPER_ALERT_RETENTION_DAYS", 30),
		LogLevel:            envStr("MAPPER_LOG_LEVEL", "info"),
		LogJSON:             envBool("MAPPER_LOG_JSON", true),
	}
}

// DSN builds the Postgres connection string.
func (c *Server) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// Validate checks server configuration for invalid values.
func (c *Server) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("MAPPER_API_KEY must not be empty"))
	}
	if c.DBPort < 1 || c.DBPort > 65535 {
		errs = append(errs, fmt.Errorf("MAPPER_DB_PORT must be 1-65535, got %d", c.DBPort))
	}
	if c.DBName == "" {
		errs = append(errs, errors.New("MAPPER_DB_NAME must not be empty"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_SWEEP_INTERVAL must be > 0, got %s", c.SweepInterval))
	}
	if c.OfflineAfterMinutes <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_OFFLINE_AFTER_MINUTES must be > 0, got %d", c.OfflineAfterMinutes))
	}
	if c.LogRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_LOG_RETENTION_DAYS must be > 0, got %d", c.LogRetentionDays))
	}
	if c.MetricRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_METRIC_RETENTION_DAYS must be > 0, got %d", c.MetricRetentionDays))
	}
	if c.AlertRetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_ALERT_RETENTION_DAYS must be > 0, got %d", c.AlertRetentionDays))
	}
	return errors.Join(errs...)
}
