// Package report defines the wire types exchanged between mapper agents and
// the mapper server: the periodic agent report and the command protocol the
// server relays to agent command servers.
package report

import "time"

// ContainerStatus is the normalized container lifecycle state.
type ContainerStatus string

const (
	StatusRunning    ContainerStatus = "running"
	StatusStopped    ContainerStatus = "stopped"
	StatusPaused     ContainerStatus = "paused"
	StatusRestarting ContainerStatus = "restarting"
	StatusExited     ContainerStatus = "exited"
	StatusDead       ContainerStatus = "dead"
	StatusCreated    ContainerStatus = "created"
	StatusUnknown    ContainerStatus = "unknown"
)

// NormalizeStatus maps a Docker engine state string onto the known set.
func NormalizeStatus(s string) ContainerStatus {
	switch ContainerStatus(s) {
	case StatusRunning, StatusStopped, StatusPaused, StatusRestarting,
		StatusExited, StatusDead, StatusCreated:
		return ContainerStatus(s)
	default:
		return StatusUnknown
	}
}

// HealthStatus is the container healthcheck state.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthStarting  HealthStatus = "starting"
	HealthNone      HealthStatus = "none"
)

// NormalizeHealth maps a Docker healthcheck string onto the known set.
func NormalizeHealth(s string) HealthStatus {
	switch HealthStatus(s) {
	case HealthHealthy, HealthUnhealthy, HealthStarting:
		return HealthStatus(s)
	default:
		return HealthNone
	}
}

// Connection evidence sources.
const (
	SourceProcNet = "proc_net"
	SourceTcpdump = "tcpdump"
)

// ShortContainerID truncates a full 64-hex container id to the 12-char short
// form used everywhere on the wire and in storage. Shorter ids pass through.
func ShortContainerID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// TailscaleInfo describes the host's overlay network membership.
type TailscaleInfo struct {
	Enabled  bool              `json:"enabled"`
	IP       string            `json:"ip,omitempty"`
	Hostname string            `json:"hostname,omitempty"`
	Tailnet  string            `json:"tailnet,omitempty"`
	Peers    map[string]string `json:"peers,omitempty"`
}

// HostInfo identifies the reporting host.
type HostInfo struct {
	AgentID       string         `json:"agent_id"`
	Hostname      string         `json:"hostname"`
	IPAddresses   []string       `json:"ip_addresses"`
	DockerVersion string         `json:"docker_version,omitempty"`
	OSInfo        string         `json:"os_info,omitempty"`
	Tailscale     *TailscaleInfo `json:"tailscale,omitempty"`
}

// PortMapping is one published container port.
type PortMapping struct {
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      int    `json:"host_port,omitempty"`
	ContainerPort int    `json:"container_port"`
	Protocol      string `json:"protocol"`
}

// VolumeMount is one container mount point.
type VolumeMount struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Mode        string `json:"mode,omitempty"`
	RW          bool   `json:"rw"`
}

// ContainerInfo is the full inventory record for one container.
type ContainerInfo struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Image                string            `json:"image"`
	Status               ContainerStatus   `json:"status"`
	Health               HealthStatus      `json:"health"`
	Created              *time.Time        `json:"created,omitempty"`
	StartedAt            *time.Time        `json:"started_at,omitempty"`
	Networks             []string          `json:"networks"`
	IPAddresses          map[string]string `json:"ip_addresses"`
	Ports                []PortMapping     `json:"ports"`
	Volumes              []VolumeMount     `json:"volumes"`
	Labels               map[string]string `json:"labels"`
	Environment          map[string]string `json:"environment"`
	ComposeProject       string            `json:"compose_project,omitempty"`
	ComposeService       string            `json:"compose_service,omitempty"`
	DeclaredDependencies []string          `json:"declared_dependencies"`
}

// NetworkInfo is one Docker network on the host.
type NetworkInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Driver     string   `json:"driver"`
	Scope      string   `json:"scope"`
	Subnet     string   `json:"subnet,omitempty"`
	Gateway    string   `json:"gateway,omitempty"`
	Containers []string `json:"containers"`
}

// Connection is one observed network flow endpoint pair.
type Connection struct {
	Protocol     string `json:"protocol"`
	LocalIP      string `json:"local_ip"`
	LocalPort    int    `json:"local_port"`
	RemoteIP     string `json:"remote_ip"`
	RemotePort   int    `json:"remote_port"`
	State        string `json:"state"`
	PID          int    `json:"pid,omitempty"`
	ProcessName  string `json:"process_name,omitempty"`
	ContainerID  string `json:"container_id,omitempty"`
	SourceMethod string `json:"source_method"`
}

// LogEntry is one collected container log line.
type LogEntry struct {
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	Timestamp     time.Time `json:"timestamp"`
	Stream        string    `json:"stream"`
	Message       string    `json:"message"`
}

// HostMetrics is a point-in-time host resource sample. Memory and disk
// figures are megabytes; nil means the probe failed or was disabled.
type HostMetrics struct {
	CPUPercent     *float64 `json:"cpu_percent"`
	CPUCount       *int     `json:"cpu_count"`
	Load1          *float64 `json:"load_1m"`
	Load5          *float64 `json:"load_5m"`
	Load15         *float64 `json:"load_15m"`
	MemoryTotal    *int64   `json:"memory_total"`
	MemoryUsed     *int64   `json:"memory_used"`
	MemoryPercent  *float64 `json:"memory_percent"`
	DiskTotal      *int64   `json:"disk_total"`
	DiskUsed       *int64   `json:"disk_used"`
	DiskPercent    *float64 `json:"disk_percent"`
	NetworkRxBytes *int64   `json:"network_rx_bytes"`
	NetworkTxBytes *int64   `json:"network_tx_bytes"`
}

// ContainerMetrics is a point-in-time container resource sample. Memory
// figures are megabytes.
type ContainerMetrics struct {
	ContainerID    string   `json:"container_id"`
	CPUPercent     *float64 `json:"cpu_percent"`
	MemoryUsed     *int64   `json:"memory_used"`
	MemoryLimit    *int64   `json:"memory_limit"`
	MemoryPercent  *float64 `json:"memory_percent"`
	NetworkRxBytes *int64   `json:"network_rx_bytes"`
	NetworkTxBytes *int64   `json:"network_tx_bytes"`
	DiskReadBytes  *int64   `json:"disk_read_bytes"`
	DiskWriteBytes *int64   `json:"disk_write_bytes"`
	PIDs           *int     `json:"pids"`
}

// AgentMeta carries agent self-diagnostics alongside a report.
type AgentMeta struct {
	Version          string `json:"version"`
	ReportInterval   int    `json:"report_interval"`
	ReportDurationMS int64  `json:"report_duration_ms"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Error            string `json:"error,omitempty"`
	CommandPort      int    `json:"command_port,omitempty"`
}

// AgentReport is the full payload an agent posts every scan interval.
type AgentReport struct {
	Host             HostInfo           `json:"host"`
	Containers       []ContainerInfo    `json:"containers"`
	Networks         []NetworkInfo      `json:"networks"`
	Connections      []Connection       `json:"connections"`
	ContainerLogs    []LogEntry         `json:"container_logs,omitempty"`
	HostMetrics      *HostMetrics       `json:"host_metrics,omitempty"`
	ContainerMetrics []ContainerMetrics `json:"container_metrics,omitempty"`
	Agent            *AgentMeta         `json:"agent,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}
