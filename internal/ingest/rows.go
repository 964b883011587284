package ingest

import (
	"context"
	"math"
	"net/netip"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// Log lines longer than this are cut before storage.
const maxLogMessageBytes = 10000

// privateRanges covers RFC 1918 plus the CGNAT block overlay networks use.
var privateRanges = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
}

func applyContainerFields(c *store.Container, info *report.ContainerInfo, now time.Time) {
	c.Name = info.Name
	c.Image = info.Image
	c.Status = report.NormalizeStatus(string(info.Status))
	c.Health = report.NormalizeHealth(string(info.Health))
	c.Networks = info.Networks
	c.IPAddresses = info.IPAddresses
	c.Ports = info.Ports
	c.Volumes = info.Volumes
	c.Labels = info.Labels
	c.Environment = info.Environment
	c.ComposeProject = info.ComposeProject
	c.ComposeService = info.ComposeService
	c.DeclaredDependencies = info.DeclaredDependencies
	c.Created = toUTC(info.Created)
	c.Started = toUTC(info.StartedAt)
	c.LastSeen = now
}

func networkRows(hostID string, infos []report.NetworkInfo, now time.Time) []store.Network {
	rows := make([]store.Network, 0, len(infos))
	for _, n := range infos {
		rows = append(rows, store.Network{
			ID:         store.NetworkKey(hostID, n.ID),
			NetworkID:  n.ID,
			HostID:     hostID,
			Name:       n.Name,
			Driver:     n.Driver,
			Scope:      n.Scope,
			Subnet:     n.Subnet,
			Gateway:    n.Gateway,
			Containers: n.Containers,
			LastSeen:   now,
		})
	}
	return rows
}

// connectionRows filters and attributes the report's flows. Listening
// sockets and loopback peers carry no topology information and are dropped;
// the rest get a source container (agent-attributed when present, else by
// local IP) and a locality classification.
func connectionRows(hostID string, conns []report.Connection, containers []report.ContainerInfo, now time.Time) []store.Connection {
	ipToContainer := make(map[string]string)
	for i := range containers {
		shortID := report.ShortContainerID(containers[i].ID)
		for _, ip := range containers[i].IPAddresses {
			if ip != "" {
				ipToContainer[ip] = shortID
			}
		}
	}

	rows := make([]store.Connection, 0, len(conns))
	for _, conn := range conns {
		if conn.State == "LISTEN" {
			continue
		}
		switch conn.RemoteIP {
		case "127.0.0.1", "::1", "0.0.0.0":
			continue
		}

		sourceContainer := report.ShortContainerID(conn.ContainerID)
		if sourceContainer == "" {
			sourceContainer = ipToContainer[conn.LocalIP]
		}

		method := conn.SourceMethod
		if method == "" {
			method = report.SourceProcNet
		}

		rows = append(rows, store.Connection{
			SourceHostID:      hostID,
			SourceContainerID: sourceContainer,
			SourceIP:          conn.LocalIP,
			SourcePort:        conn.LocalPort,
			TargetIP:          conn.RemoteIP,
			TargetPort:        conn.RemotePort,
			Protocol:          conn.Protocol,
			State:             conn.State,
			ConnectionType:    classifyConnection(conn.RemoteIP, ipToContainer),
			SourceMethod:      method,
			FirstSeen:         now,
			LastSeen:          now,
		})
	}
	return rows
}

// classifyConnection decides where the remote endpoint lives: one of this
// host's containers, a private/overlay address (likely another host), or the
// outside world.
func classifyConnection(remoteIP string, ipToContainer map[string]string) store.ConnectionType {
	if _, ok := ipToContainer[remoteIP]; ok {
		return store.ConnInternal
	}
	if isPrivateIP(remoteIP) {
		return store.ConnCrossHost
	}
	return store.ConnExternal
}

func isPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, p := range privateRanges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func logRows(hostID string, entries []report.LogEntry, now time.Time) []store.ContainerLog {
	rows := make([]store.ContainerLog, 0, len(entries))
	for _, e := range entries {
		ts := e.Timestamp.UTC()
		if e.Timestamp.IsZero() {
			ts = now
		}

		shortID := report.ShortContainerID(e.ContainerID)
		if shortID == "" {
			shortID = "unknown"
		}

		stream := e.Stream
		if stream == "" {
			stream = "stdout"
		}

		msg := e.Message
		if len(msg) > maxLogMessageBytes {
			msg = msg[:maxLogMessageBytes]
		}

		rows = append(rows, store.ContainerLog{
			ContainerID: store.ContainerKey(hostID, shortID),
			HostID:      hostID,
			Timestamp:   ts,
			Stream:      stream,
			Message:     msg,
		})
	}
	return rows
}

// storeMetrics inserts the report's samples: at most one host row plus one
// row per container. Returns how many rows were written.
func storeMetrics(ctx context.Context, tx Tx, hostID string, rep *report.AgentReport, now time.Time) (int, error) {
	count := 0

	if hm := rep.HostMetrics; hm != nil {
		row := &store.HostMetric{
			HostID:         hostID,
			Timestamp:      now,
			CPUPercent:     wholePercent(hm.CPUPercent),
			CPUCount:       hm.CPUCount,
			Load1:          hundredths(hm.Load1),
			Load5:          hundredths(hm.Load5),
			Load15:         hundredths(hm.Load15),
			MemoryTotal:    hm.MemoryTotal,
			MemoryUsed:     hm.MemoryUsed,
			MemoryPercent:  wholePercent(hm.MemoryPercent),
			DiskTotal:      hm.DiskTotal,
			DiskUsed:       hm.DiskUsed,
			DiskPercent:    wholePercent(hm.DiskPercent),
			NetworkRxBytes: hm.NetworkRxBytes,
			NetworkTxBytes: hm.NetworkTxBytes,
		}
		if err := tx.InsertHostMetric(ctx, row); err != nil {
			return 0, err
		}
		count++
	}

	if len(rep.ContainerMetrics) > 0 {
		rows := make([]store.ContainerMetric, 0, len(rep.ContainerMetrics))
		for _, cm := range rep.ContainerMetrics {
			if cm.ContainerID == "" {
				continue
			}
			rows = append(rows, store.ContainerMetric{
				ContainerID:    store.ContainerKey(hostID, report.ShortContainerID(cm.ContainerID)),
				HostID:         hostID,
				Timestamp:      now,
				CPUPercent:     hundredths(cm.CPUPercent),
				MemoryUsed:     cm.MemoryUsed,
				MemoryLimit:    cm.MemoryLimit,
				MemoryPercent:  wholePercent(cm.MemoryPercent),
				NetworkRxBytes: cm.NetworkRxBytes,
				NetworkTxBytes: cm.NetworkTxBytes,
				DiskReadBytes:  cm.DiskReadBytes,
				DiskWriteBytes: cm.DiskWriteBytes,
				PIDs:           cm.PIDs,
			})
		}
		if len(rows) > 0 {
			if err := tx.InsertContainerMetrics(ctx, rows); err != nil {
				return 0, err
			}
			count += len(rows)
		}
	}

	return count, nil
}

func toUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// hundredths stores a float as integer hundredths; nil stays nil.
func hundredths(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v * 100))
	return &n
}

// wholePercent rounds a percentage to a whole integer; nil stays nil.
func wholePercent(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}
