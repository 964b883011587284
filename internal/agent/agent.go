// Package agent runs the mapper agent's collection loop: every scan
// interval it assembles a full host report from the collectors and posts
// it to the mapper server. It also owns the agent's identity and its
// durable state database.
package agent

import (
	"context"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/collect"
	"github.com/infra-mapper/infra-mapper/internal/config"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// Version is reported to the server with every report.
const Version = "1.2.0"

// Reporter ships a finished report to the server. Implemented by Client.
type Reporter interface {
	SendReport(ctx context.Context, rep *report.AgentReport) error
}

// Collectors groups the evidence sources feeding each report. Capture,
// Logs, Metrics and Tailscale may be nil when disabled.
type Collectors struct {
	Inventory *collect.Inventory
	ProcNet   *collect.ProcNet
	Capture   *collect.Capture
	Logs      *collect.Logs
	Metrics   *collect.SysMetrics
	Tailscale *collect.Tailscale
}

// Agent drives the periodic collect-and-report cycle.
type Agent struct {
	cfg        *config.Agent
	id         string
	hostname   string
	collectors Collectors
	reporter   Reporter
	clock      clock.Clock
	log        *logging.Logger

	start     time.Time
	lastError string
}

// New creates an Agent. id and hostname are the resolved identity (see
// AgentID and Hostname).
func New(cfg *config.Agent, id, hostname string, c Collectors, r Reporter, clk clock.Clock, log *logging.Logger) *Agent {
	return &Agent{
		cfg:        cfg,
		id:         id,
		hostname:   hostname,
		collectors: c,
		reporter:   r,
		clock:      clk,
		log:        log.Component("agent"),
		start:      clk.Now(),
	}
}

// Run executes collection ticks until the context is cancelled. The first
// tick runs immediately.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("agent started",
		"agent_id", a.id, "hostname", a.hostname,
		"interval", a.cfg.ScanInterval, "backend", a.cfg.BackendURL)

	for {
		a.tick(ctx)

		select {
		case <-ctx.Done():
			a.log.Info("agent stopping")
			return ctx.Err()
		case <-a.clock.After(a.cfg.ScanInterval):
		}
	}
}

// tick runs one full collection cycle and posts the result. A delivery
// failure is stashed and reported to the server on the next tick.
func (a *Agent) tick(ctx context.Context) {
	started := a.clock.Now()
	rep := a.buildReport(ctx, started)
	metrics.CollectDuration.Observe(a.clock.Since(started).Seconds())

	if err := a.reporter.SendReport(ctx, rep); err != nil {
		a.log.Error("report delivery failed", "error", err)
		a.lastError = err.Error()
		metrics.ReportFailures.Inc()
		return
	}

	a.log.Info("report delivered",
		"containers", len(rep.Containers),
		"connections", len(rep.Connections),
		"logs", len(rep.ContainerLogs),
		"duration_ms", rep.Agent.ReportDurationMS)
}

// buildReport runs the collectors serially and assembles the wire payload.
// Individual collector failures degrade to partial evidence rather than
// failing the tick.
func (a *Agent) buildReport(ctx context.Context, started time.Time) *report.AgentReport {
	containers := a.collectors.Inventory.Containers(ctx)

	host := report.HostInfo{
		AgentID:       a.id,
		Hostname:      a.hostname,
		IPAddresses:   collect.LocalIPs(ctx),
		DockerVersion: a.collectors.Inventory.DockerVersion(ctx),
		OSInfo:        a.collectors.Inventory.OSInfo(ctx),
	}
	if a.collectors.Tailscale != nil {
		host.Tailscale = a.collectors.Tailscale.Collect(ctx)
	}

	procNet := a.collectors.ProcNet.Connections()
	var captured []report.Connection
	if a.collectors.Capture != nil {
		captured = a.collectors.Capture.Collect(ctx, containers)
	}

	rep := &report.AgentReport{
		Host:        host,
		Containers:  containers,
		Networks:    a.collectors.Inventory.Networks(ctx),
		Connections: collect.MergeConnections(procNet, captured),
		Timestamp:   a.clock.Now().UTC(),
	}
	if a.collectors.Logs != nil {
		rep.ContainerLogs = a.collectors.Logs.All(ctx, containers, a.cfg.LogLines, a.cfg.LogSince)
	}
	if a.collectors.Metrics != nil {
		rep.HostMetrics = a.collectors.Metrics.HostMetrics(ctx)
		rep.ContainerMetrics = a.collectors.Metrics.ContainerMetrics(ctx, containers)
	}

	meta := &report.AgentMeta{
		Version:          Version,
		ReportInterval:   int(a.cfg.ScanInterval / time.Second),
		ReportDurationMS: a.clock.Since(started).Milliseconds(),
		UptimeSeconds:    int64(a.clock.Since(a.start) / time.Second),
		Error:            a.lastError,
	}
	a.lastError = ""
	if a.cfg.CommandServerEnabled {
		meta.CommandPort = a.cfg.CommandServerPort
	}
	rep.Agent = meta

	return rep
}
