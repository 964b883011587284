package collect

import (
	"context"
	"errors"
	"testing"

	"github.com/moby/moby/api/types/container"

	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

func sampleStats() container.StatsResponse {
	return container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 200_000_000},
			SystemUsage: 2_000_000_000,
			OnlineCPUs:  4,
		},
		PreCPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 100_000_000},
			SystemUsage: 1_000_000_000,
		},
		MemoryStats: container.MemoryStats{Usage: 512 * mib, Limit: 1024 * mib},
		Networks: map[string]container.NetworkStats{
			"eth0": {RxBytes: 1000, TxBytes: 10},
			"eth1": {RxBytes: 2000, TxBytes: 20},
		},
		BlkioStats: container.BlkioStats{
			IoServiceBytesRecursive: []container.BlkioStatEntry{
				{Op: "Read", Value: 4096},
				{Op: "write", Value: 8192},
				{Op: "Total", Value: 12288},
			},
		},
		PidsStats: container.PidsStats{Current: 12},
	}
}

func TestStatsToMetrics(t *testing.T) {
	got := statsToMetrics("abc123def456", sampleStats())

	if got.ContainerID != "abc123def456" {
		t.Errorf("ContainerID = %q", got.ContainerID)
	}
	// 100ms of usage over 1s of system time, scaled by 4 online CPUs.
	if *got.CPUPercent != 40.0 {
		t.Errorf("CPUPercent = %v, want 40.0", *got.CPUPercent)
	}
	if *got.MemoryUsed != 512 || *got.MemoryLimit != 1024 {
		t.Errorf("memory = %d/%d MiB, want 512/1024", *got.MemoryUsed, *got.MemoryLimit)
	}
	if *got.MemoryPercent != 50.0 {
		t.Errorf("MemoryPercent = %v, want 50.0", *got.MemoryPercent)
	}
	if *got.NetworkRxBytes != 3000 || *got.NetworkTxBytes != 30 {
		t.Errorf("network = %d/%d, interfaces not summed", *got.NetworkRxBytes, *got.NetworkTxBytes)
	}
	if *got.DiskReadBytes != 4096 || *got.DiskWriteBytes != 8192 {
		t.Errorf("blkio = %d/%d, want 4096/8192", *got.DiskReadBytes, *got.DiskWriteBytes)
	}
	if *got.PIDs != 12 {
		t.Errorf("PIDs = %d, want 12", *got.PIDs)
	}
}

func TestStatsToMetricsCPUFallback(t *testing.T) {
	s := container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 123_456},
			SystemUsage: 1_000_000,
			// OnlineCPUs unset, as on cgroup v1 hosts.
		},
	}

	got := statsToMetrics("c1", s)

	if *got.CPUPercent != 12.35 {
		t.Errorf("CPUPercent = %v, want 12.35 (one-CPU fallback, rounded)", *got.CPUPercent)
	}
}

func TestStatsToMetricsZeroSample(t *testing.T) {
	got := statsToMetrics("c1", container.StatsResponse{})

	if *got.CPUPercent != 0 {
		t.Errorf("CPUPercent = %v, want 0 with no system delta", *got.CPUPercent)
	}
	if *got.MemoryPercent != 0 {
		t.Errorf("MemoryPercent = %v, want 0 with no limit", *got.MemoryPercent)
	}
	if *got.PIDs != 0 || *got.NetworkRxBytes != 0 || *got.DiskReadBytes != 0 {
		t.Error("zero sample must produce zero values, not nils")
	}
}

func TestContainerMetricsSkipsStoppedAndFailed(t *testing.T) {
	d := &mockDocker{
		stats: map[string]container.StatsResponse{
			"run1": sampleStats(),
		},
		statsErr: map[string]error{"run2": errors.New("container restarting")},
	}
	m := NewSysMetrics(d, logging.New(false, "error"))

	containers := []report.ContainerInfo{
		{ID: "run1", Status: report.StatusRunning},
		{ID: "dead", Status: report.StatusExited},
		{ID: "run2", Status: report.StatusRunning},
	}

	got := m.ContainerMetrics(context.Background(), containers)

	if len(got) != 1 {
		t.Fatalf("samples = %d, want 1", len(got))
	}
	if got[0].ContainerID != "run1" {
		t.Errorf("ContainerID = %q, want run1", got[0].ContainerID)
	}
}

func TestContainerSingleSample(t *testing.T) {
	full := "abc123def456788899aabbccddee"
	d := &mockDocker{stats: map[string]container.StatsResponse{full: sampleStats()}}
	m := NewSysMetrics(d, logging.New(false, "error"))

	got, err := m.Container(context.Background(), full)
	if err != nil {
		t.Fatalf("Container: %v", err)
	}
	if got.ContainerID != "abc123def456" {
		t.Errorf("ContainerID = %q, want short id", got.ContainerID)
	}

	d.statsErr = map[string]error{full: errors.New("gone")}
	if _, err := m.Container(context.Background(), full); err == nil {
		t.Error("Container returned no error for a failed stats read")
	}
}
