package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/alerts"
	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/graph"
	"github.com/infra-mapper/infra-mapper/internal/health"
	"github.com/infra-mapper/infra-mapper/internal/ingest"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/sinks"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// Dependencies defines what the API server needs from the rest of the
// application.
type Dependencies struct {
	Ingest     ReportProcessor
	Graph      GraphBuilder
	Health     AgentHealth
	Alerts     AlertManager
	Sinks      SinkManager
	Relay      CommandRelay
	Hosts      HostReader
	Containers ContainerReader
	Logs       LogStore
	Metrics    MetricStore
	Counts     Counters
	DB         Pinger
	Hub        RealtimeHub
	Clock      clock.Clock
	APIKey     string
	Version    string
	Log        *logging.Logger
}

// ReportProcessor ingests one agent report.
type ReportProcessor interface {
	ProcessReport(ctx context.Context, rep *report.AgentReport) (*ingest.Stats, error)
}

// GraphBuilder assembles the infrastructure graph and host summaries.
type GraphBuilder interface {
	Build(ctx context.Context, f graph.Filter) (*graph.Data, error)
	HostSummaries(ctx context.Context, organizationID, teamID string) ([]graph.HostSummary, error)
}

// AgentHealth exposes fleet agent-health reads and maintenance actions.
type AgentHealth interface {
	Summary(ctx context.Context) (*health.Summary, error)
	HostHealth(ctx context.Context, hostID string) (*health.Detail, error)
	Sweep(ctx context.Context) (*health.SweepStats, error)
	ResetStats(ctx context.Context, hostID string) (bool, error)
}

// AlertManager covers alert rules, channels and the alerts themselves.
type AlertManager interface {
	ListRules(ctx context.Context) ([]store.AlertRule, error)
	GetRule(ctx context.Context, id string) (*store.AlertRule, error)
	CreateRule(ctx context.Context, rule *store.AlertRule) (*store.AlertRule, error)
	UpdateRule(ctx context.Context, id string, patch alerts.RulePatch) (*store.AlertRule, error)
	DeleteRule(ctx context.Context, id string) (bool, error)

	ListChannels(ctx context.Context) ([]store.AlertChannel, error)
	GetChannel(ctx context.Context, id string) (*store.AlertChannel, error)
	CreateChannel(ctx context.Context, ch *store.AlertChannel) (*store.AlertChannel, error)
	UpdateChannel(ctx context.Context, id string, patch alerts.ChannelPatch) (*store.AlertChannel, error)
	DeleteChannel(ctx context.Context, id string) (bool, error)
	TestChannel(ctx context.Context, id string) (*alerts.TestResult, error)

	List(ctx context.Context, q store.AlertQuery) ([]store.Alert, int64, error)
	Get(ctx context.Context, id string) (*store.Alert, error)
	Acknowledge(ctx context.Context, id, by string) (*store.Alert, error)
	Resolve(ctx context.Context, id string) (*store.Alert, error)
	Delete(ctx context.Context, id string) (bool, error)
	DeleteResolvedOlderThan(ctx context.Context, days int) (int64, error)
	GetSummary(ctx context.Context) (*alerts.Summary, error)
	EvaluateAll(ctx context.Context) ([]store.Alert, error)
}

// SinkManager manages log sink configuration and delivery checks.
type SinkManager interface {
	List(ctx context.Context, enabledOnly bool) ([]store.LogSink, error)
	Get(ctx context.Context, id string) (*store.LogSink, error)
	Create(ctx context.Context, sink *store.LogSink) (*store.LogSink, error)
	Update(ctx context.Context, id string, patch sinks.SinkPatch) (*store.LogSink, error)
	Delete(ctx context.Context, id string) (bool, error)
	Toggle(ctx context.Context, id string) (*store.LogSink, error)
	ResetStats(ctx context.Context, id string) (*store.LogSink, error)
	Test(ctx context.Context, id string) (*sinks.TestResult, error)
}

// CommandRelay forwards a container action to the agent that runs it.
type CommandRelay interface {
	Do(ctx context.Context, containerID, action string, body map[string]any) (json.RawMessage, error)
}

// HostReader reads host rows.
type HostReader interface {
	ListHosts(ctx context.Context) ([]store.Host, error)
	GetHost(ctx context.Context, id string) (*store.Host, error)
}

// ContainerReader reads container rows.
type ContainerReader interface {
	ListContainers(ctx context.Context) ([]store.Container, error)
	ListContainersByHost(ctx context.Context, hostID string) ([]store.Container, error)
	GetContainer(ctx context.Context, id string) (*store.Container, error)
}

// LogStore reads and prunes stored container logs.
type LogStore interface {
	ContainerLogs(ctx context.Context, containerID string, q store.LogQuery) ([]store.ContainerLog, int64, error)
	HostLogs(ctx context.Context, hostID string, limit int, since *time.Time) ([]store.ContainerLog, error)
	GetLogStats(ctx context.Context) (*store.LogStats, error)
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MetricStore reads and prunes metric samples.
type MetricStore interface {
	HostMetricRange(ctx context.Context, hostID string, start, end time.Time) ([]store.HostMetric, error)
	ContainerMetricRange(ctx context.Context, containerID string, start, end time.Time) ([]store.ContainerMetric, error)
	LatestHostMetric(ctx context.Context, hostID string) (*store.HostMetric, error)
	LatestContainerMetric(ctx context.Context, containerID string) (*store.ContainerMetric, error)
	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (hostDeleted, containerDeleted int64, err error)
}

// Counters reports table sizes for the stats endpoint.
type Counters interface {
	CountHosts(ctx context.Context) (total, online int64, err error)
	CountContainers(ctx context.Context) (total, running int64, err error)
	CountConnections(ctx context.Context) (int64, error)
}

// Pinger checks database connectivity for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RealtimeHub serves websocket clients and reports how many are connected.
type RealtimeHub interface {
	http.Handler
	ClientCount() int
}
