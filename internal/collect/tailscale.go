package collect

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// tailscaleStatus is the subset of `tailscale status --json` the agent reads.
type tailscaleStatus struct {
	MagicDNSSuffix string                   `json:"MagicDNSSuffix"`
	Self           tailscalePeer            `json:"Self"`
	Peer           map[string]tailscalePeer `json:"Peer"`
}

type tailscalePeer struct {
	HostName     string   `json:"HostName"`
	TailscaleIPs []string `json:"TailscaleIPs"`
}

// Tailscale reads the host's overlay membership from the tailscale CLI.
type Tailscale struct {
	log  *logging.Logger
	look func(file string) (string, error)
	run  func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewTailscale creates a Tailscale collector.
func NewTailscale(log *logging.Logger) *Tailscale {
	return &Tailscale{log: log.Component("tailscale"), look: exec.LookPath, run: runCommand}
}

// Collect returns the host's Tailscale identity and peer map. Hosts without
// the CLI, or where status fails, report Enabled=false.
func (t *Tailscale) Collect(ctx context.Context) *report.TailscaleInfo {
	if _, err := t.look("tailscale"); err != nil {
		return &report.TailscaleInfo{Enabled: false}
	}

	statusCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := t.run(statusCtx, "tailscale", "status", "--json")
	if err != nil {
		t.log.Warn("tailscale status failed", "error", err)
		return &report.TailscaleInfo{Enabled: false}
	}

	var status tailscaleStatus
	if err := json.Unmarshal(out, &status); err != nil {
		t.log.Warn("failed to parse tailscale status", "error", err)
		return &report.TailscaleInfo{Enabled: false}
	}

	info := &report.TailscaleInfo{
		Enabled:  true,
		Hostname: status.Self.HostName,
		Tailnet:  strings.TrimSuffix(status.MagicDNSSuffix, ".ts.net"),
		Peers:    make(map[string]string, len(status.Peer)),
	}
	if len(status.Self.TailscaleIPs) > 0 {
		info.IP = status.Self.TailscaleIPs[0]
	}
	for _, peer := range status.Peer {
		if peer.HostName != "" && len(peer.TailscaleIPs) > 0 {
			info.Peers[peer.HostName] = peer.TailscaleIPs[0]
		}
	}
	return info
}
