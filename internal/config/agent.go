package config

import (
	"errors"
	"fmt"
	"time"
)

// Agent holds all mapper-agent configuration from environment variables.
type Agent struct {
	// Backend connection
	BackendURL string
	APIKey     string

	// Identity overrides; auto-detected when empty.
	AgentID  string
	Hostname string

	// Collection
	ScanInterval       time.Duration
	DockerSocket       string
	ComposeSearchPaths []string
	TailscaleEnabled   bool

	// Packet capture
	TcpdumpEnabled    bool
	TcpdumpMode       string // "intermittent" or "active"
	TcpdumpDuration   time.Duration
	TcpdumpInterval   time.Duration
	TcpdumpMaxPackets int

	// Container log collection
	CollectLogs    bool
	LogLines       int
	LogSince       time.Duration
	CollectMetrics bool

	// Command server
	CommandServerEnabled bool
	CommandServerPort    int

	// Capture-state persistence
	StatePath string

	// Logging
	LogLevel string
	LogJSON  bool
}

// LoadAgent reads agent configuration from environment variables with defaults.
func LoadAgent() *Agent {
	return &Agent{
		BackendURL:           envStr("MAPPER_BACKEND_URL", "http://localhost:8000"),
		APIKey:               envStr("MAPPER_API_KEY", "change-me-in-production"),
		AgentID:              envStr("MAPPER_AGENT_ID", ""),
		Hostname:             envStr("MAPPER_HOSTNAME", ""),
		ScanInterval:         envDuration("MAPPER_SCAN_INTERVAL", 30*time.Second),
		DockerSocket:         envStr("MAPPER_DOCKER_SOCKET", "unix:///var/run/docker.sock"),
		ComposeSearchPaths:   envStrSlice("MAPPER_COMPOSE_SEARCH_PATHS", []string{"/root", "/home", "/opt", "/srv"}),
		TailscaleEnabled:     envBool("MAPPER_TAILSCALE_ENABLED", true),
		TcpdumpEnabled:       envBool("MAPPER_TCPDUMP_ENABLED", true),
		TcpdumpMode:          envStr("MAPPER_TCPDUMP_MODE", "intermittent"),
		TcpdumpDuration:      envDuration("MAPPER_TCPDUMP_DURATION", 30*time.Second),
		TcpdumpInterval:      envDuration("MAPPER_TCPDUMP_INTERVAL", 10*time.Minute),
		TcpdumpMaxPackets:    envInt("MAPPER_TCPDUMP_MAX_PACKETS", 500),
		CollectLogs:          envBool("MAPPER_COLLECT_LOGS", true),
		LogLines:             envInt("MAPPER_LOG_LINES", 100),
		LogSince:             envDuration("MAPPER_LOG_SINCE", 60*time.Second),
		CollectMetrics:       envBool("MAPPER_COLLECT_METRICS", true),
		CommandServerEnabled: envBool("MAPPER_COMMAND_SERVER_ENABLED", true),
		CommandServerPort:    envInt("MAPPER_COMMAND_SERVER_PORT", 8081),
		StatePath:            envStr("MAPPER_STATE_PATH", "/var/lib/mapper-agent/state.db"),
		LogLevel:             envStr("MAPPER_LOG_LEVEL", "info"),
		LogJSON:              envBool("MAPPER_LOG_JSON", false),
	}
}

// Validate checks agent configuration for invalid values.
func (c *Agent) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("MAPPER_BACKEND_URL must not be empty"))
	}
	if c.APIKey == "" {
		errs = append(errs, errors.New("MAPPER_API_KEY must not be empty"))
	}
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_SCAN_INTERVAL must be > 0, got %s", c.ScanInterval))
	}
	switch c.TcpdumpMode {
	case "intermittent", "active":
		// valid
	default:
		errs = append(errs, fmt.Errorf("MAPPER_TCPDUMP_MODE must be intermittent or active, got %q", c.TcpdumpMode))
	}
	if c.TcpdumpDuration <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_TCPDUMP_DURATION must be > 0, got %s", c.TcpdumpDuration))
	}
	if c.TcpdumpInterval <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_TCPDUMP_INTERVAL must be > 0, got %s", c.TcpdumpInterval))
	}
	if c.TcpdumpMaxPackets <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_TCPDUMP_MAX_PACKETS must be > 0, got %d", c.TcpdumpMaxPackets))
	}
	if c.LogLines <= 0 {
		errs = append(errs, fmt.Errorf("MAPPER_LOG_LINES must be > 0, got %d", c.LogLines))
	}
	if c.CommandServerEnabled && (c.CommandServerPort < 1 || c.CommandServerPort > 65535) {
		errs = append(errs, fmt.Errorf("MAPPER_COMMAND_SERVER_PORT must be 1-65535, got %d", c.CommandServerPort))
	}
	return errors.Join(errs...)
}
