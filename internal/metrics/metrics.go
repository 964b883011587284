package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Server-side instrumentation.
var (
	ReportsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapper_reports_total",
		Help: "Total number of agent reports accepted.",
	})
	ReportErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapper_report_errors_total",
		Help: "Total number of agent reports that failed ingestion.",
	})
	IngestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapper_ingest_duration_seconds",
		Help:    "Duration of report ingestion transactions.",
		Buckets: prometheus.DefBuckets,
	})
	AlertsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapper_alerts_fired_total",
		Help: "Total number of alerts fired by rule evaluation.",
	})
	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_notifications_total",
		Help: "Total number of alert notifications by channel type and result.",
	}, []string{"channel", "result"})
	SinkLogsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_sink_logs_forwarded_total",
		Help: "Total number of log lines forwarded per sink type.",
	}, []string{"sink"})
	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mapper_sink_errors_total",
		Help: "Total number of forwarding failures per sink type.",
	}, []string{"sink"})
	WSClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapper_ws_clients",
		Help: "Connected websocket clients.",
	})
	HostsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mapper_hosts_online",
		Help: "Hosts currently considered online.",
	})
)

// Agent-side instrumentation.
var (
	CollectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mapper_agent_collect_duration_seconds",
		Help:    "Duration of one full collection cycle.",
		Buckets: prometheus.DefBuckets,
	})
	ReportFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapper_agent_report_failures_total",
		Help: "Total number of report submissions that failed.",
	})
	CapturesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mapper_agent_captures_total",
		Help: "Total number of packet captures run.",
	})
)
