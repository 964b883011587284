package collect

import (
	"context"
	"math"
	"net"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	psnet "github.com/shirou/gopsutil/v4/net"

	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

const mib = 1024 * 1024

// SysMetrics samples host resource usage and container resource usage.
type SysMetrics struct {
	docker docker.API
	log    *logging.Logger
}

// NewSysMetrics creates a SysMetrics collector.
func NewSysMetrics(d docker.API, log *logging.Logger) *SysMetrics {
	return &SysMetrics{docker: d, log: log.Component("sysmetrics")}
}

// HostMetrics samples CPU, load, memory, root-filesystem disk, and
// aggregate network counters. Probes that fail leave their fields nil so
// the server can tell "unknown" from zero.
func (m *SysMetrics) HostMetrics(ctx context.Context) *report.HostMetrics {
	out := &report.HostMetrics{}

	if pcts, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(pcts) > 0 {
		out.CPUPercent = ptr(round2(pcts[0]))
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.CPUCount = ptr(n)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.Load1 = ptr(round2(avg.Load1))
		out.Load5 = ptr(round2(avg.Load5))
		out.Load15 = ptr(round2(avg.Load15))
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		out.MemoryTotal = ptr(int64(vm.Total / mib))
		out.MemoryUsed = ptr(int64(vm.Used / mib))
		out.MemoryPercent = ptr(round2(vm.UsedPercent))
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		out.DiskTotal = ptr(int64(du.Total / mib))
		out.DiskUsed = ptr(int64(du.Used / mib))
		out.DiskPercent = ptr(round2(du.UsedPercent))
	}
	if counters, err := psnet.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		out.NetworkRxBytes = ptr(int64(counters[0].BytesRecv))
		out.NetworkTxBytes = ptr(int64(counters[0].BytesSent))
	}

	return out
}

// ContainerMetrics samples every running container through the engine's
// one-shot stats endpoint.
func (m *SysMetrics) ContainerMetrics(ctx context.Context, containers []report.ContainerInfo) []report.ContainerMetrics {
	var out []report.ContainerMetrics
	for _, ci := range containers {
		if ci.Status != report.StatusRunning {
			continue
		}
		stats, err := m.docker.ContainerStats(ctx, ci.ID)
		if err != nil {
			m.log.Debug("container stats failed", "container", ci.Name, "error", err)
			continue
		}
		out = append(out, statsToMetrics(ci.ID, stats))
	}
	return out
}

// Container samples a single container. Used by the command server's
// stats action.
func (m *SysMetrics) Container(ctx context.Context, containerID string) (*report.ContainerMetrics, error) {
	stats, err := m.docker.ContainerStats(ctx, containerID)
	if err != nil {
		return nil, err
	}
	cm := statsToMetrics(report.ShortContainerID(containerID), stats)
	return &cm, nil
}

// statsToMetrics converts an engine stats sample into the wire form.
// CPU percent follows the engine's own formula: usage delta over system
// delta, scaled by online CPUs.
func statsToMetrics(containerID string, s container.StatsResponse) report.ContainerMetrics {
	cm := report.ContainerMetrics{ContainerID: containerID}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	cpuCount := float64(s.CPUStats.OnlineCPUs)
	if cpuCount == 0 {
		cpuCount = 1
	}
	cpuPercent := 0.0
	if systemDelta > 0 {
		cpuPercent = cpuDelta / systemDelta * cpuCount * 100
	}
	cm.CPUPercent = ptr(round2(cpuPercent))

	used := int64(s.MemoryStats.Usage)
	limit := int64(s.MemoryStats.Limit)
	cm.MemoryUsed = ptr(used / mib)
	cm.MemoryLimit = ptr(limit / mib)
	memPercent := 0.0
	if limit > 0 {
		memPercent = float64(used) / float64(limit) * 100
	}
	cm.MemoryPercent = ptr(round2(memPercent))

	var rx, tx int64
	for _, n := range s.Networks {
		rx += int64(n.RxBytes)
		tx += int64(n.TxBytes)
	}
	cm.NetworkRxBytes = ptr(rx)
	cm.NetworkTxBytes = ptr(tx)

	var read, write int64
	for _, e := range s.BlkioStats.IoServiceBytesRecursive {
		switch {
		case strings.EqualFold(e.Op, "read"):
			read += int64(e.Value)
		case strings.EqualFold(e.Op, "write"):
			write += int64(e.Value)
		}
	}
	cm.DiskReadBytes = ptr(read)
	cm.DiskWriteBytes = ptr(write)

	cm.PIDs = ptr(int(s.PidsStats.Current))

	return cm
}

// LocalIPs returns the host's non-loopback IPv4 addresses.
func LocalIPs(ctx context.Context) []string {
	ifaces, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil
	}

	var ips []string
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			ips = append(ips, ip.String())
		}
	}
	return ips
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func ptr[T any](v T) *T {
	return &v
}
