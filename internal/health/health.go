// Package health tracks how reliably agents report and sweeps the fleet for
// agents that went silent.
package health

import (
	"context"
	"sort"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// DefaultReportInterval is assumed when an agent never declared its interval.
const DefaultReportInterval = 30 // seconds

const (
	// Multiples of the report interval after which a silent agent is
	// considered degraded / gone.
	degradedFactor  = 2.0
	unhealthyFactor = 5.0

	// Consecutive failed reports before an agent is degraded.
	maxConsecutiveFailures = 3

	// A report taking more than this share of the interval is slow.
	slowReportFactor = 0.9

	recentErrorWindow = time.Hour
	slowestAgentsMax  = 5
)

// HostStore is the slice of the store the tracker needs.
type HostStore interface {
	GetHost(ctx context.Context, id string) (*store.Host, error)
	SaveHost(ctx context.Context, h *store.Host) error
	ListHosts(ctx context.Context) ([]store.Host, error)
	UpdateHostFields(ctx context.Context, id string, fields map[string]any) error
}

// Tracker maintains per-agent reporting statistics and derives health states.
type Tracker struct {
	hosts HostStore
	bus   *events.Bus
	clock clock.Clock
	log   *logging.Logger
}

// NewTracker wires a tracker over the host store.
func NewTracker(hosts HostStore, bus *events.Bus, clk clock.Clock, log *logging.Logger) *Tracker {
	return &Tracker{
		hosts: hosts,
		bus:   bus,
		clock: clk,
		log:   log.Component("health"),
	}
}

// RecordReport folds one report's metadata into the host's agent statistics
// and recomputes its health. Returns nil, nil when the host is unknown.
func (t *Tracker) RecordReport(ctx context.Context, hostID string, meta report.AgentMeta) (*store.Host, error) {
	host, err := t.hosts.GetHost(ctx, hostID)
	if err != nil || host == nil {
		return nil, err
	}

	now := t.clock.Now().UTC()

	if meta.Version != "" {
		host.AgentVersion = meta.Version
	}
	if meta.ReportInterval > 0 {
		host.ReportInterval = meta.ReportInterval
	}
	host.UptimeSeconds = meta.UptimeSeconds
	if meta.CommandPort > 0 {
		host.CommandPort = meta.CommandPort
	}

	if meta.ReportDurationMS > 0 {
		host.LastReportDuration = meta.ReportDurationMS
		if host.AvgReportDuration > 0 {
			host.AvgReportDuration = int64(float64(host.AvgReportDuration)*0.8 + float64(meta.ReportDurationMS)*0.2)
		} else {
			host.AvgReportDuration = meta.ReportDurationMS
		}
	}

	host.ReportsCount++

	if meta.Error != "" {
		host.ConsecutiveFailures++
		host.ErrorsCount++
		host.LastError = meta.Error
		host.LastErrorAt = &now
	} else {
		host.ConsecutiveFailures = 0
	}

	host.AgentHealth = healthFor(host, meta.ReportDurationMS)
	host.LastSeen = now
	host.IsOnline = true

	if err := t.hosts.SaveHost(ctx, host); err != nil {
		return nil, err
	}
	return host, nil
}

// healthFor applies the health criteria in order: repeated failures, then a
// slow report, then not enough reports to judge.
func healthFor(host *store.Host, reportDurationMS int64) store.AgentHealth {
	if host.ConsecutiveFailures >= maxConsecutiveFailures {
		return store.AgentDegraded
	}
	if reportDurationMS > 0 {
		intervalMS := float64(intervalOrDefault(host)) * 1000
		if float64(reportDurationMS) > intervalMS*slowReportFactor {
			return store.AgentDegraded
		}
	}
	if host.ReportsCount < 3 {
		return store.AgentUnknown
	}
	return store.AgentHealthy
}

func intervalOrDefault(host *store.Host) int {
	if host.ReportInterval > 0 {
		return host.ReportInterval
	}
	return DefaultReportInterval
}

// HealthChange records one host whose state moved during a sweep.
type HealthChange struct {
	HostID    string            `json:"host_id"`
	Hostname  string            `json:"hostname"`
	OldHealth store.AgentHealth `json:"old_health"`
	NewHealth store.AgentHealth `json:"new_health"`
	IsOnline  bool              `json:"is_online"`
}

// SweepStats summarizes one pass over the fleet.
type SweepStats struct {
	Total     int            `json:"total"`
	Healthy   int            `json:"healthy"`
	Degraded  int            `json:"degraded"`
	Unhealthy int            `json:"unhealthy"`
	Unknown   int            `json:"unknown"`
	Offline   int            `json:"offline"`
	Updated   []HealthChange `json:"updated_hosts"`
}

// Sweep walks all hosts and downgrades the ones that stopped reporting:
// silent for more than five intervals means unhealthy and offline, more than
// two means degraded. Emits agent_health_changed events for every change.
func (t *Tracker) Sweep(ctx context.Context) (*SweepStats, error) {
	hosts, err := t.hosts.ListHosts(ctx)
	if err != nil {
		return nil, err
	}

	now := t.clock.Now().UTC()
	stats := &SweepStats{Updated: []HealthChange{}}
	online := 0

	for i := range hosts {
		host := &hosts[i]
		stats.Total++
		interval := float64(intervalOrDefault(host))
		silentFor := now.Sub(host.LastSeen).Seconds()

		newHealth := host.AgentHealth
		if newHealth == "" {
			newHealth = store.AgentUnknown
		}
		newOnline := host.IsOnline

		switch {
		case silentFor > interval*unhealthyFactor:
			newHealth = store.AgentUnhealthy
			newOnline = false
			stats.Offline++
		case silentFor > interval*degradedFactor:
			newHealth = store.AgentDegraded
			stats.Degraded++
		default:
			switch host.AgentHealth {
			case store.AgentHealthy:
				stats.Healthy++
			case store.AgentDegraded:
				stats.Degraded++
			case store.AgentUnhealthy:
				stats.Unhealthy++
			default:
				stats.Unknown++
			}
		}

		if newHealth != host.AgentHealth || newOnline != host.IsOnline {
			change := HealthChange{
				HostID:    host.ID,
				Hostname:  host.Hostname,
				OldHealth: host.AgentHealth,
				NewHealth: newHealth,
				IsOnline:  newOnline,
			}
			err := t.hosts.UpdateHostFields(ctx, host.ID, map[string]any{
				"agent_health": newHealth,
				"is_online":    newOnline,
			})
			if err != nil {
				return nil, err
			}
			stats.Updated = append(stats.Updated, change)

			t.log.Info("agent health changed",
				"host", host.Hostname,
				"old", string(change.OldHealth),
				"new", string(change.NewHealth),
				"online", newOnline)
			t.bus.Publish(events.Event{
				Type: events.EventAgentHealthChanged,
				Data: map[string]any{
					"host_id":    change.HostID,
					"hostname":   change.Hostname,
					"old_health": change.OldHealth,
					"new_health": change.NewHealth,
					"is_online":  change.IsOnline,
				},
				Timestamp: now,
			})
		}

		if newOnline {
			online++
		}
	}

	metrics.HostsOnline.Set(float64(online))
	return stats, nil
}

// AgentInfo is the per-agent row in the health summary.
type AgentInfo struct {
	HostID              string            `json:"host_id"`
	Hostname            string            `json:"hostname"`
	AgentVersion        string            `json:"agent_version,omitempty"`
	AgentHealth         store.AgentHealth `json:"agent_health"`
	IsOnline            bool              `json:"is_online"`
	LastSeen            time.Time         `json:"last_seen"`
	SecondsSinceReport  int64             `json:"seconds_since_last_report"`
	ReportInterval      int               `json:"report_interval"`
	ReportsCount        int64             `json:"reports_count"`
	ErrorsCount         int64             `json:"errors_count"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastReportDuration  int64             `json:"last_report_duration_ms,omitempty"`
	AvgReportDuration   int64             `json:"avg_report_duration_ms,omitempty"`
	UptimeSeconds       int64             `json:"uptime_seconds,omitempty"`
	LastError           string            `json:"last_error,omitempty"`
	LastErrorAt         *time.Time        `json:"last_error_at,omitempty"`
}

// SummaryStats counts agents per state.
type SummaryStats struct {
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Unknown   int `json:"unknown"`
	Online    int `json:"online"`
	Offline   int `json:"offline"`
}

// Summary is the fleet-wide agent health overview.
type Summary struct {
	Total            int                               `json:"total"`
	ByStatus         map[store.AgentHealth][]AgentInfo `json:"by_status"`
	Stats            SummaryStats                      `json:"stats"`
	AgentsWithErrors []AgentInfo                       `json:"agents_with_errors"`
	SlowestAgents    []AgentInfo                       `json:"slowest_agents"`
}

// Summary builds the fleet overview: agents grouped by health, agents with
// errors in the last hour, and the five slowest by average report duration.
func (t *Tracker) Summary(ctx context.Context) (*Summary, error) {
	hosts, err := t.hosts.ListHosts(ctx)
	if err != nil {
		return nil, err
	}

	now := t.clock.Now().UTC()
	sum := &Summary{
		Total: len(hosts),
		ByStatus: map[store.AgentHealth][]AgentInfo{
			store.AgentHealthy:   {},
			store.AgentDegraded:  {},
			store.AgentUnhealthy: {},
			store.AgentUnknown:   {},
		},
		AgentsWithErrors: []AgentInfo{},
		SlowestAgents:    []AgentInfo{},
	}

	all := make([]AgentInfo, 0, len(hosts))
	for i := range hosts {
		host := &hosts[i]
		info := agentInfo(host, now)

		status := host.AgentHealth
		if status == "" {
			status = store.AgentUnknown
		}
		sum.ByStatus[status] = append(sum.ByStatus[status], info)
		switch status {
		case store.AgentHealthy:
			sum.Stats.Healthy++
		case store.AgentDegraded:
			sum.Stats.Degraded++
		case store.AgentUnhealthy:
			sum.Stats.Unhealthy++
		default:
			sum.Stats.Unknown++
		}
		if host.IsOnline {
			sum.Stats.Online++
		} else {
			sum.Stats.Offline++
		}

		if host.LastError != "" && host.LastErrorAt != nil &&
			now.Sub(*host.LastErrorAt) < recentErrorWindow {
			sum.AgentsWithErrors = append(sum.AgentsWithErrors, info)
		}

		all = append(all, info)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].AvgReportDuration > all[j].AvgReportDuration
	})
	for _, info := range all {
		if info.AvgReportDuration <= 0 || len(sum.SlowestAgents) == slowestAgentsMax {
			break
		}
		sum.SlowestAgents = append(sum.SlowestAgents, info)
	}

	return sum, nil
}

// Detail is the single-agent health view.
type Detail struct {
	AgentInfo
	FirstSeen         time.Time `json:"first_seen"`
	DockerVersion     string    `json:"docker_version,omitempty"`
	OSInfo            string    `json:"os_info,omitempty"`
	TailscaleIP       string    `json:"tailscale_ip,omitempty"`
	TailscaleHostname string    `json:"tailscale_hostname,omitempty"`
}

// HostHealth returns the health detail for one agent, or nil, nil when the
// host is unknown.
func (t *Tracker) HostHealth(ctx context.Context, hostID string) (*Detail, error) {
	host, err := t.hosts.GetHost(ctx, hostID)
	if err != nil || host == nil {
		return nil, err
	}
	return &Detail{
		AgentInfo:         agentInfo(host, t.clock.Now().UTC()),
		FirstSeen:         host.FirstSeen,
		DockerVersion:     host.DockerVersion,
		OSInfo:            host.OSInfo,
		TailscaleIP:       host.TailscaleIP,
		TailscaleHostname: host.TailscaleHostname,
	}, nil
}

// ResetStats zeroes one agent's reporting statistics and resets its health
// to unknown. Returns false when the host does not exist.
func (t *Tracker) ResetStats(ctx context.Context, hostID string) (bool, error) {
	host, err := t.hosts.GetHost(ctx, hostID)
	if err != nil {
		return false, err
	}
	if host == nil {
		return false, nil
	}

	host.ReportsCount = 0
	host.ErrorsCount = 0
	host.ConsecutiveFailures = 0
	host.AvgReportDuration = 0
	host.LastError = ""
	host.LastErrorAt = nil
	host.AgentHealth = store.AgentUnknown

	if err := t.hosts.SaveHost(ctx, host); err != nil {
		return false, err
	}
	return true, nil
}

func agentInfo(host *store.Host, now time.Time) AgentInfo {
	model := AgentInfo{
		HostID:              host.ID,
		Hostname:            host.Hostname,
		AgentVersion:        host.AgentVersion,
		AgentHealth:         host.AgentHealth,
		IsOnline:            host.IsOnline,
		LastSeen:            host.LastSeen,
		SecondsSinceReport:  int64(now.Sub(host.LastSeen).Seconds()),
		ReportInterval:      intervalOrDefault(host),
		ReportsCount:        host.ReportsCount,
		ErrorsCount:         host.ErrorsCount,
		ConsecutiveFailures: host.ConsecutiveFailures,
		LastReportDuration:  host.LastReportDuration,
		AvgReportDuration:   host.AvgReportDuration,
		UptimeSeconds:       host.UptimeSeconds,
		LastError:           host.LastError,
		LastErrorAt:         host.LastErrorAt,
	}
	if model.AgentHealth == "" {
		model.AgentHealth = store.AgentUnknown
	}
	return model
}
