package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// HostSummary is one row of the hosts overview.
type HostSummary struct {
	ID                string    `json:"id"`
	Hostname          string    `json:"hostname"`
	TailscaleIP       string    `json:"tailscale_ip,omitempty"`
	IsOnline          bool      `json:"is_online"`
	LastSeen          time.Time `json:"last_seen"`
	ContainersRunning int       `json:"containers_running"`
	ContainersTotal   int       `json:"containers_total"`
}

// HostSummaries returns the per-host container rollup, honoring the same
// tenant restrictions as Build.
func (s *Service) HostSummaries(ctx context.Context, organizationID, teamID string) ([]HostSummary, error) {
	hosts, err := s.store.GraphHosts(ctx, store.GraphHostQuery{
		OrganizationID: organizationID,
		TeamID:         teamID,
	})
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}

	summaries := make([]HostSummary, 0, len(hosts))
	for i := range hosts {
		h := &hosts[i]
		containers, err := s.store.ListContainersByHost(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("load containers of %s: %w", h.ID, err)
		}
		running := 0
		for _, c := range containers {
			if c.Status == report.StatusRunning {
				running++
			}
		}
		summaries = append(summaries, HostSummary{
			ID:                h.ID,
			Hostname:          h.Hostname,
			TailscaleIP:       h.TailscaleIP,
			IsOnline:          h.IsOnline,
			LastSeen:          h.LastSeen,
			ContainersRunning: running,
			ContainersTotal:   len(containers),
		})
	}
	return summaries, nil
}
