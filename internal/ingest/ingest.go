// Package ingest reconciles agent reports into the store. Each report is the
// complete current picture of one host, so processing is a diff against the
// persisted state rather than an append.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/sinks"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// Tx is the write surface available inside one ingest transaction.
type Tx interface {
	GetHost(ctx context.Context, id string) (*store.Host, error)
	SaveHost(ctx context.Context, h *store.Host) error
	ListContainersByHost(ctx context.Context, hostID string) ([]store.Container, error)
	CreateContainers(ctx context.Context, containers []store.Container) error
	SaveContainer(ctx context.Context, c *store.Container) error
	DeleteContainersByID(ctx context.Context, ids []string) error
	ReplaceHostNetworks(ctx context.Context, hostID string, networks []store.Network) error
	ReplaceHostConnections(ctx context.Context, hostID string, conns []store.Connection) error
	InsertLogs(ctx context.Context, logs []store.ContainerLog) error
	InsertHostMetric(ctx context.Context, m *store.HostMetric) error
	InsertContainerMetrics(ctx context.Context, batch []store.ContainerMetric) error
}

// Store runs ingest transactions.
type Store interface {
	Transaction(ctx context.Context, fn func(tx Tx) error) error
}

// HealthTracker folds report metadata into agent health state.
type HealthTracker interface {
	RecordReport(ctx context.Context, hostID string, meta report.AgentMeta) (*store.Host, error)
}

// AlertEvaluator runs all enabled alert rules.
type AlertEvaluator interface {
	EvaluateAll(ctx context.Context) ([]store.Alert, error)
}

// LogForwarder fans a log batch out to the configured sinks.
type LogForwarder interface {
	Forward(ctx context.Context, hostID, hostname string, batch []sinks.LogRecord) (int, error)
}

// Stats summarizes what one report changed. It is returned verbatim in the
// ingest response body.
type Stats struct {
	HostUpdated        bool `json:"host_updated"`
	ContainersAdded    int  `json:"containers_added"`
	ContainersUpdated  int  `json:"containers_updated"`
	ContainersRemoved  int  `json:"containers_removed"`
	NetworksUpdated    int  `json:"networks_updated"`
	ConnectionsUpdated int  `json:"connections_updated"`
	LogsStored         int  `json:"logs_stored"`
	MetricsStored      int  `json:"metrics_stored"`
	AlertsTriggered    int  `json:"alerts_triggered"`
}

// Service processes agent reports. The persistence steps run in a single
// transaction; health scoring, alert evaluation, sink forwarding, and
// websocket notification run best-effort after commit.
type Service struct {
	store     Store
	health    HealthTracker
	alerts    AlertEvaluator
	forwarder LogForwarder
	bus       *events.Bus
	clock     clock.Clock
	log       *logging.Logger
}

// New wires an ingest service. health, alerts, forwarder, and bus may be nil
// to disable the corresponding post-commit step.
func New(st Store, health HealthTracker, alerts AlertEvaluator, forwarder LogForwarder, bus *events.Bus, clk clock.Clock, log *logging.Logger) *Service {
	return &Service{
		store:     st,
		health:    health,
		alerts:    alerts,
		forwarder: forwarder,
		bus:       bus,
		clock:     clk,
		log:       log.Component("ingest"),
	}
}

// ProcessReport persists one agent report and triggers the post-ingest
// fan-out. The returned stats describe the committed changes; on error
// nothing was persisted.
func (s *Service) ProcessReport(ctx context.Context, rep *report.AgentReport) (*Stats, error) {
	hostID := rep.Host.AgentID
	if hostID == "" {
		return nil, errors.New("report missing agent id")
	}

	start := s.clock.Now()
	now := start.UTC()
	stats := &Stats{}

	err := s.store.Transaction(ctx, func(tx Tx) error {
		if err := upsertHost(ctx, tx, &rep.Host, now); err != nil {
			return fmt.Errorf("upsert host: %w", err)
		}
		stats.HostUpdated = true

		if err := s.reconcileContainers(ctx, tx, hostID, rep.Containers, now, stats); err != nil {
			return err
		}

		if err := tx.ReplaceHostNetworks(ctx, hostID, networkRows(hostID, rep.Networks, now)); err != nil {
			return fmt.Errorf("replace networks: %w", err)
		}
		stats.NetworksUpdated = len(rep.Networks)

		if err := tx.ReplaceHostConnections(ctx, hostID, connectionRows(hostID, rep.Connections, rep.Containers, now)); err != nil {
			return fmt.Errorf("replace connections: %w", err)
		}
		stats.ConnectionsUpdated = len(rep.Connections)

		logs := logRows(hostID, rep.ContainerLogs, now)
		if err := tx.InsertLogs(ctx, logs); err != nil {
			return fmt.Errorf("store logs: %w", err)
		}
		stats.LogsStored = len(logs)

		stored, err := storeMetrics(ctx, tx, hostID, rep, now)
		if err != nil {
			return fmt.Errorf("store metrics: %w", err)
		}
		stats.MetricsStored = stored
		return nil
	})
	if err != nil {
		metrics.ReportErrors.Inc()
		return nil, err
	}

	metrics.ReportsTotal.Inc()
	metrics.IngestDuration.Observe(s.clock.Since(start).Seconds())

	s.afterCommit(ctx, rep, stats)

	s.log.Info("report processed",
		"host", hostID,
		"containers_added", stats.ContainersAdded,
		"containers_updated", stats.ContainersUpdated,
		"containers_removed", stats.ContainersRemoved,
		"logs", stats.LogsStored,
		"metrics", stats.MetricsStored,
		"alerts", stats.AlertsTriggered)
	return stats, nil
}

// upsertHost creates or refreshes the host row from the report header.
func upsertHost(ctx context.Context, tx Tx, info *report.HostInfo, now time.Time) error {
	host, err := tx.GetHost(ctx, info.AgentID)
	if err != nil {
		return err
	}
	if host == nil {
		host = &store.Host{ID: info.AgentID, FirstSeen: now}
	}

	var overlayIP, overlayHostname string
	if info.Tailscale != nil && info.Tailscale.Enabled {
		overlayIP = info.Tailscale.IP
		overlayHostname = info.Tailscale.Hostname
	}

	host.Hostname = info.Hostname
	host.IPAddresses = info.IPAddresses
	host.TailscaleIP = overlayIP
	host.TailscaleHostname = overlayHostname
	host.DockerVersion = info.DockerVersion
	host.OSInfo = info.OSInfo
	host.LastSeen = now
	host.IsOnline = true

	return tx.SaveHost(ctx, host)
}

// reconcileContainers diffs the report's container set against the persisted
// one: insert new, overwrite known, delete gone. Tombstones are not kept.
func (s *Service) reconcileContainers(ctx context.Context, tx Tx, hostID string, infos []report.ContainerInfo, now time.Time, stats *Stats) error {
	existing, err := tx.ListContainersByHost(ctx, hostID)
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}
	byShortID := make(map[string]*store.Container, len(existing))
	for i := range existing {
		byShortID[existing[i].ContainerID] = &existing[i]
	}

	reported := make(map[string]bool, len(infos))
	var created []store.Container
	for i := range infos {
		info := &infos[i]
		shortID := report.ShortContainerID(info.ID)
		reported[shortID] = true

		if cur, ok := byShortID[shortID]; ok {
			applyContainerFields(cur, info, now)
			if err := tx.SaveContainer(ctx, cur); err != nil {
				return fmt.Errorf("update container %s: %w", cur.ID, err)
			}
			stats.ContainersUpdated++
			continue
		}

		c := store.Container{
			ID:          store.ContainerKey(hostID, shortID),
			ContainerID: shortID,
			HostID:      hostID,
			FirstSeen:   now,
		}
		applyContainerFields(&c, info, now)
		created = append(created, c)
		stats.ContainersAdded++
	}

	var stale []string
	for i := range existing {
		if !reported[existing[i].ContainerID] {
			stale = append(stale, existing[i].ID)
		}
	}
	if len(stale) > 0 {
		if err := tx.DeleteContainersByID(ctx, stale); err != nil {
			return fmt.Errorf("remove stale containers: %w", err)
		}
		stats.ContainersRemoved = len(stale)
	}
	if len(created) > 0 {
		if err := tx.CreateContainers(ctx, created); err != nil {
			return fmt.Errorf("create containers: %w", err)
		}
	}
	return nil
}

// afterCommit runs the best-effort post-ingest steps. Failures are logged
// and never surface to the agent.
func (s *Service) afterCommit(ctx context.Context, rep *report.AgentReport, stats *Stats) {
	hostID := rep.Host.AgentID

	if s.health != nil {
		var meta report.AgentMeta
		if rep.Agent != nil {
			meta = *rep.Agent
		}
		if _, err := s.health.RecordReport(ctx, hostID, meta); err != nil {
			s.log.Warn("agent health update failed", "host", hostID, "error", err)
		}
	}

	if s.alerts != nil {
		fired, err := s.alerts.EvaluateAll(ctx)
		if err != nil {
			s.log.Warn("alert evaluation failed", "error", err)
		} else {
			stats.AlertsTriggered = len(fired)
		}
	}

	if s.forwarder != nil && len(rep.ContainerLogs) > 0 {
		batch := make([]sinks.LogRecord, 0, len(rep.ContainerLogs))
		for _, entry := range rep.ContainerLogs {
			batch = append(batch, sinks.LogRecord{
				Timestamp:     entry.Timestamp,
				Message:       entry.Message,
				Stream:        entry.Stream,
				ContainerID:   report.ShortContainerID(entry.ContainerID),
				ContainerName: entry.ContainerName,
				Hostname:      rep.Host.Hostname,
			})
		}
		if _, err := s.forwarder.Forward(ctx, hostID, rep.Host.Hostname, batch); err != nil {
			s.log.Warn("log forwarding failed", "host", hostID, "error", err)
		}
	}

	if s.bus != nil {
		now := s.clock.Now().UTC()
		s.bus.Publish(events.Event{
			Type:      events.EventHostUpdate,
			Data:      map[string]any{"host_id": hostID, "hostname": rep.Host.Hostname},
			Timestamp: now,
		})
		s.bus.Publish(events.Event{
			Type:      events.EventGraphRefresh,
			Data:      map[string]any{},
			Timestamp: now,
		})
	}
}
