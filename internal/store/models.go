package store

import (
	"time"

	"github.com/infra-mapper/infra-mapper/internal/report"
)

// AgentHealth classifies how reliably an agent is reporting.
type AgentHealth string

const (
	AgentHealthy   AgentHealth = "healthy"
	AgentDegraded  AgentHealth = "degraded"
	AgentUnhealthy AgentHealth = "unhealthy"
	AgentUnknown   AgentHealth = "unknown"
)

// ConnectionType classifies where a connection's endpoints live.
type ConnectionType string

const (
	ConnInternal  ConnectionType = "internal"
	ConnCrossHost ConnectionType = "cross-host"
	ConnExternal  ConnectionType = "external"
	ConnUnknown   ConnectionType = "unknown"
)

// Severity ranks alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertResolved     AlertStatus = "resolved"
	AlertAcknowledged AlertStatus = "acknowledged"
)

// RuleType names the condition an alert rule watches for.
type RuleType string

const (
	RuleHostOffline        RuleType = "host_offline"
	RuleContainerStopped   RuleType = "container_stopped"
	RuleContainerUnhealthy RuleType = "container_unhealthy"
)

// ChannelType names a notification transport.
type ChannelType string

const (
	ChannelSlack    ChannelType = "slack"
	ChannelDiscord  ChannelType = "discord"
	ChannelTelegram ChannelType = "telegram"
	ChannelEmail    ChannelType = "email"
	ChannelNtfy     ChannelType = "ntfy"
	ChannelMQTT     ChannelType = "mqtt"
	ChannelWebhook  ChannelType = "webhook"
)

// SinkType names a log forwarding backend.
type SinkType string

const (
	SinkGraylog       SinkType = "graylog"
	SinkOpenObserve   SinkType = "openobserve"
	SinkLoki          SinkType = "loki"
	SinkElasticsearch SinkType = "elasticsearch"
	SinkSplunk        SinkType = "splunk"
	SinkSyslog        SinkType = "syslog"
	SinkWebhook       SinkType = "webhook"
)

// Sink authentication modes.
const (
	SinkAuthNone   = "none"
	SinkAuthBasic  = "basic"
	SinkAuthToken  = "token"
	SinkAuthAPIKey = "api_key"
)

// Host is one reporting agent host, keyed by its stable agent ID.
type Host struct {
	ID                string   `gorm:"primaryKey" json:"id"`
	Hostname          string   `gorm:"not null" json:"hostname"`
	IPAddresses       []string `gorm:"serializer:json" json:"ip_addresses"`
	TailscaleIP       string   `json:"tailscale_ip,omitempty"`
	TailscaleHostname string   `json:"tailscale_hostname,omitempty"`
	DockerVersion     string   `json:"docker_version,omitempty"`
	OSInfo            string   `json:"os_info,omitempty"`

	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time `gorm:"not null;index:ix_hosts_last_seen" json:"last_seen"`
	IsOnline  bool      `gorm:"default:true" json:"is_online"`

	AgentVersion string      `json:"agent_version,omitempty"`
	AgentHealth  AgentHealth `gorm:"default:unknown;index:ix_hosts_agent_health" json:"agent_health"`

	// Reporting statistics maintained by the health tracker. Durations are
	// in milliseconds, the interval in seconds.
	ReportInterval      int        `json:"report_interval,omitempty"`
	LastReportDuration  int64      `json:"last_report_duration,omitempty"`
	AvgReportDuration   int64      `json:"avg_report_duration,omitempty"`
	ConsecutiveFailures int        `gorm:"default:0" json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`
	ReportsCount        int64      `gorm:"default:0" json:"reports_count"`
	ErrorsCount         int64      `gorm:"default:0" json:"errors_count"`
	UptimeSeconds       int64      `json:"uptime_seconds,omitempty"`

	// CommandPort is the agent's command server port, 0 when disabled.
	CommandPort int `json:"command_port,omitempty"`
}

// Container is one container observed on a host. The primary key is the
// surrogate "<host_id>:<short_id>" so the same container ID on two hosts
// never collides.
type Container struct {
	ID          string `gorm:"primaryKey" json:"id"`
	ContainerID string `gorm:"not null" json:"container_id"`
	HostID      string `gorm:"not null;index:ix_containers_host_status,priority:1" json:"host_id"`
	Name        string `gorm:"not null;index" json:"name"`
	Image       string `gorm:"not null" json:"image"`

	Status report.ContainerStatus `gorm:"default:unknown;index:ix_containers_host_status,priority:2" json:"status"`
	Health report.HealthStatus    `gorm:"default:none" json:"health"`

	Networks    []string             `gorm:"serializer:json" json:"networks"`
	IPAddresses map[string]string    `gorm:"serializer:json" json:"ip_addresses"`
	Ports       []report.PortMapping `gorm:"serializer:json" json:"ports"`

	ComposeProject       string   `gorm:"index:ix_containers_compose,priority:1" json:"compose_project,omitempty"`
	ComposeService       string   `gorm:"index:ix_containers_compose,priority:2" json:"compose_service,omitempty"`
	DeclaredDependencies []string `gorm:"serializer:json" json:"declared_dependencies"`

	Volumes     []report.VolumeMount `gorm:"serializer:json" json:"volumes"`
	Labels      map[string]string    `gorm:"serializer:json" json:"labels"`
	Environment map[string]string    `gorm:"serializer:json" json:"environment"`

	Created   *time.Time `gorm:"column:created_at" json:"created_at,omitempty"`
	Started   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FirstSeen time.Time  `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time  `gorm:"not null" json:"last_seen"`

	Host *Host `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
}

// Network is one Docker network on a host, keyed "<host_id>:<network_id>".
type Network struct {
	ID        string `gorm:"primaryKey" json:"id"`
	NetworkID string `gorm:"not null" json:"network_id"`
	HostID    string `gorm:"not null;index" json:"host_id"`
	Name      string `gorm:"not null" json:"name"`
	Driver    string `gorm:"default:bridge" json:"driver"`
	Scope     string `gorm:"default:local" json:"scope"`
	Subnet    string `json:"subnet,omitempty"`
	Gateway   string `json:"gateway,omitempty"`

	// Containers holds the short IDs attached to this network.
	Containers []string `gorm:"serializer:json" json:"containers"`

	LastSeen time.Time `gorm:"not null" json:"last_seen"`

	Host *Host `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
}

// Connection is one observed network flow. Container references use the
// surrogate container ID; unresolved endpoints keep empty container fields.
type Connection struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`

	SourceHostID      string `gorm:"not null;index:ix_connections_source,priority:1" json:"source_host_id"`
	SourceContainerID string `gorm:"index:ix_connections_source,priority:2" json:"source_container_id,omitempty"`
	SourceIP          string `gorm:"not null" json:"source_ip"`
	SourcePort        int    `gorm:"not null" json:"source_port"`

	TargetHostID      string `gorm:"index:ix_connections_target,priority:1" json:"target_host_id,omitempty"`
	TargetContainerID string `gorm:"index:ix_connections_target,priority:2" json:"target_container_id,omitempty"`
	TargetIP          string `gorm:"not null" json:"target_ip"`
	TargetPort        int    `gorm:"not null" json:"target_port"`

	Protocol       string         `gorm:"default:tcp" json:"protocol"`
	State          string         `gorm:"default:ESTABLISHED" json:"state"`
	ConnectionType ConnectionType `gorm:"default:unknown;index:ix_connections_type" json:"connection_type"`
	SourceMethod   string         `gorm:"default:proc_net" json:"source_method"`

	FirstSeen time.Time `gorm:"not null" json:"first_seen"`
	LastSeen  time.Time `gorm:"not null" json:"last_seen"`

	SourceHost *Host `gorm:"foreignKey:SourceHostID;constraint:OnDelete:CASCADE" json:"-"`
}

// ContainerLog is one log line, keyed to the surrogate container ID.
type ContainerLog struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContainerID string    `gorm:"not null;index:ix_container_logs_container_time,priority:1" json:"container_id"`
	HostID      string    `gorm:"not null;index:ix_container_logs_host_time,priority:1" json:"host_id"`
	Timestamp   time.Time `gorm:"not null;index;index:ix_container_logs_container_time,priority:2;index:ix_container_logs_host_time,priority:2" json:"timestamp"`
	Stream      string    `gorm:"default:stdout" json:"stream"`
	Message     string    `gorm:"not null" json:"message"`
}

// HostMetric is one time-series sample of host resources. Load averages are
// stored as integer hundredths; percentages as whole percents; memory and
// disk in MB; network counters in bytes.
type HostMetric struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID    string    `gorm:"not null;index:ix_host_metrics_host_time,priority:1" json:"host_id"`
	Timestamp time.Time `gorm:"not null;index:ix_host_metrics_time;index:ix_host_metrics_host_time,priority:2" json:"timestamp"`

	CPUPercent *int `json:"cpu_percent,omitempty"`
	CPUCount   *int `json:"cpu_count,omitempty"`
	Load1      *int `gorm:"column:load_1m" json:"load_1m,omitempty"`
	Load5      *int `gorm:"column:load_5m" json:"load_5m,omitempty"`
	Load15     *int `gorm:"column:load_15m" json:"load_15m,omitempty"`

	MemoryTotal   *int64 `json:"memory_total,omitempty"`
	MemoryUsed    *int64 `json:"memory_used,omitempty"`
	MemoryPercent *int   `json:"memory_percent,omitempty"`

	DiskTotal   *int64 `json:"disk_total,omitempty"`
	DiskUsed    *int64 `json:"disk_used,omitempty"`
	DiskPercent *int   `json:"disk_percent,omitempty"`

	NetworkRxBytes *int64 `json:"network_rx_bytes,omitempty"`
	NetworkTxBytes *int64 `json:"network_tx_bytes,omitempty"`

	Host *Host `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
}

// ContainerMetric is one time-series sample of container resources.
// CPUPercent is stored as integer hundredths of a percent.
type ContainerMetric struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContainerID string    `gorm:"not null;index:ix_container_metrics_container_time,priority:1" json:"container_id"`
	HostID      string    `gorm:"not null;index:ix_container_metrics_host_time,priority:1" json:"host_id"`
	Timestamp   time.Time `gorm:"not null;index:ix_container_metrics_time;index:ix_container_metrics_container_time,priority:2;index:ix_container_metrics_host_time,priority:2" json:"timestamp"`

	CPUPercent *int `json:"cpu_percent,omitempty"`

	MemoryUsed    *int64 `json:"memory_used,omitempty"`
	MemoryLimit   *int64 `json:"memory_limit,omitempty"`
	MemoryPercent *int   `json:"memory_percent,omitempty"`

	NetworkRxBytes *int64 `json:"network_rx_bytes,omitempty"`
	NetworkTxBytes *int64 `json:"network_tx_bytes,omitempty"`
	DiskReadBytes  *int64 `json:"disk_read_bytes,omitempty"`
	DiskWriteBytes *int64 `json:"disk_write_bytes,omitempty"`

	PIDs *int `gorm:"column:pids" json:"pids,omitempty"`

	Host *Host `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
}

// AlertRule configures one alerting condition.
type AlertRule struct {
	ID          string   `gorm:"primaryKey" json:"id"`
	Name        string   `gorm:"not null" json:"name"`
	Description string   `json:"description,omitempty"`
	RuleType    RuleType `gorm:"not null;index:ix_alert_rules_type" json:"rule_type"`
	Severity    Severity `gorm:"default:warning" json:"severity"`
	Enabled     bool     `gorm:"default:true;index:ix_alert_rules_enabled" json:"enabled"`

	// Config holds rule-type specific settings.
	Config map[string]any `gorm:"serializer:json" json:"config"`

	// Filters are patterns matched against host names, container names and
	// compose projects. Empty matches everything.
	HostFilter      string `json:"host_filter,omitempty"`
	ContainerFilter string `json:"container_filter,omitempty"`
	ProjectFilter   string `json:"project_filter,omitempty"`

	CooldownMinutes int `gorm:"default:15" json:"cooldown_minutes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AlertChannel is one configured notification destination.
type AlertChannel struct {
	ID          string      `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"not null" json:"name"`
	ChannelType ChannelType `gorm:"not null;index:ix_alert_channels_type" json:"channel_type"`
	Enabled     bool        `gorm:"default:true;index:ix_alert_channels_enabled" json:"enabled"`

	// Config holds transport-specific settings (webhook URL, SMTP host...).
	Config map[string]any `gorm:"serializer:json" json:"config"`

	// Empty filters mean "all severities" / "all rule types".
	SeverityFilter []string `gorm:"serializer:json" json:"severity_filter"`
	RuleTypeFilter []string `gorm:"serializer:json" json:"rule_type_filter"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

// NotificationResult records one delivery attempt for an alert.
type NotificationResult struct {
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	SentAt      time.Time `json:"sent_at"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Alert is one triggered alert instance.
type Alert struct {
	ID     string `gorm:"primaryKey" json:"id"`
	RuleID string `gorm:"not null;index:ix_alerts_rule" json:"rule_id"`

	Severity Severity    `gorm:"not null;index:ix_alerts_severity" json:"severity"`
	Status   AlertStatus `gorm:"default:active;index:ix_alerts_status" json:"status"`
	Title    string      `gorm:"not null" json:"title"`
	Message  string      `gorm:"not null" json:"message"`

	HostID        string `gorm:"index:ix_alerts_host" json:"host_id,omitempty"`
	HostName      string `json:"host_name,omitempty"`
	ContainerID   string `gorm:"index:ix_alerts_container" json:"container_id,omitempty"`
	ContainerName string `json:"container_name,omitempty"`

	Context map[string]any `gorm:"serializer:json" json:"context"`

	TriggeredAt    time.Time  `gorm:"not null;index:ix_alerts_triggered" json:"triggered_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`

	NotificationsSent []NotificationResult `gorm:"serializer:json" json:"notifications_sent"`

	Rule *AlertRule `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE" json:"-"`
}

// LogSink is one configured log forwarding destination.
type LogSink struct {
	ID      string   `gorm:"primaryKey" json:"id"`
	Name    string   `gorm:"not null" json:"name"`
	Type    SinkType `gorm:"not null" json:"type"`
	Enabled bool     `gorm:"default:true" json:"enabled"`

	URL  string `gorm:"not null" json:"url"`
	Port int    `json:"port,omitempty"`

	AuthType string `gorm:"default:none" json:"auth_type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Token    string `json:"token,omitempty"`

	// Config holds backend-specific settings (loki tenant, splunk index...).
	Config map[string]any `gorm:"serializer:json" json:"config"`

	// Empty filters forward everything.
	FilterHosts      []string `gorm:"serializer:json" json:"filter_hosts"`
	FilterContainers []string `gorm:"serializer:json" json:"filter_containers"`
	FilterStreams    []string `gorm:"serializer:json" json:"filter_streams"`

	TLSEnabled bool   `gorm:"default:false" json:"tls_enabled"`
	TLSVerify  bool   `gorm:"default:true" json:"tls_verify"`
	TLSCACert  string `json:"tls_ca_cert,omitempty"`

	BatchSize     int `gorm:"default:100" json:"batch_size"`
	FlushInterval int `gorm:"default:5" json:"flush_interval"`

	LastSuccess      *time.Time `json:"last_success,omitempty"`
	LastError        *time.Time `json:"last_error,omitempty"`
	LastErrorMessage string     `json:"last_error_message,omitempty"`
	LogsSent         int64      `gorm:"default:0" json:"logs_sent"`
	ErrorsCount      int64      `gorm:"default:0" json:"errors_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OrganizationHost scopes a host to one organization. The organization and
// user entities themselves live outside this service; only the visibility
// mapping needed by graph queries is stored here.
type OrganizationHost struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrganizationID string    `gorm:"not null;index:ix_org_hosts_org" json:"organization_id"`
	HostID         string    `gorm:"not null;uniqueIndex:ix_org_hosts_host" json:"host_id"`
	AssignedAt     time.Time `json:"assigned_at"`

	Host *Host `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
}

// TeamHost grants a team visibility of a host. CanManage additionally allows
// container actions through the relay.
type TeamHost struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TeamID     string    `gorm:"not null;index:ix_team_hosts_team" json:"team_id"`
	HostID     string    `gorm:"not null;index:ix_team_hosts_host" json:"host_id"`
	CanView    bool      `gorm:"default:true" json:"can_view"`
	CanManage  bool      `gorm:"default:false" json:"can_manage"`
	AssignedAt time.Time `json:"assigned_at"`

	Host *Host `gorm:"foreignKey:HostID;constraint:OnDelete:CASCADE" json:"-"`
}

// ContainerKey builds the surrogate container ID used across all tables.
func ContainerKey(hostID, shortID string) string {
	return hostID + ":" + shortID
}

// NetworkKey builds the surrogate network ID.
func NetworkKey(hostID, networkID string) string {
	return hostID + ":" + networkID
}
