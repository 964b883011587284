package collect

import (
	"testing"

	"github.com/infra-mapper/infra-mapper/internal/report"
)

func TestMergeConnectionsProcNetWinsCollision(t *testing.T) {
	procNet := []report.Connection{{
		Protocol:     "tcp",
		LocalIP:      "172.18.0.5",
		LocalPort:    44321,
		RemoteIP:     "10.0.0.9",
		RemotePort:   5432,
		State:        "ESTABLISHED",
		ContainerID:  "abc123def456",
		SourceMethod: report.SourceProcNet,
	}}
	captured := []report.Connection{{
		Protocol:     "tcp",
		LocalIP:      "172.18.0.5",
		LocalPort:    44321,
		RemoteIP:     "10.0.0.9",
		RemotePort:   5432,
		State:        "ESTABLISHED",
		SourceMethod: report.SourceTcpdump,
	}}

	merged := MergeConnections(procNet, captured)

	if len(merged) != 1 {
		t.Fatalf("merged = %d connections, want 1", len(merged))
	}
	if merged[0].SourceMethod != report.SourceProcNet {
		t.Errorf("SourceMethod = %q, want %q", merged[0].SourceMethod, report.SourceProcNet)
	}
	if merged[0].ContainerID != "abc123def456" {
		t.Errorf("ContainerID = %q, container attribution lost in merge", merged[0].ContainerID)
	}
}

func TestMergeConnectionsKeepsDistinctFlows(t *testing.T) {
	procNet := []report.Connection{
		{Protocol: "tcp", LocalIP: "172.18.0.5", LocalPort: 44321, RemoteIP: "10.0.0.9", RemotePort: 5432, SourceMethod: report.SourceProcNet},
	}
	captured := []report.Connection{
		{Protocol: "udp", LocalIP: "172.18.0.5", LocalPort: 44321, RemoteIP: "10.0.0.9", RemotePort: 5432, SourceMethod: report.SourceTcpdump},
		{Protocol: "tcp", LocalIP: "172.18.0.6", LocalPort: 39000, RemoteIP: "10.0.0.9", RemotePort: 6379, SourceMethod: report.SourceTcpdump},
		// Duplicate within the capture itself.
		{Protocol: "tcp", LocalIP: "172.18.0.6", LocalPort: 39000, RemoteIP: "10.0.0.9", RemotePort: 6379, SourceMethod: report.SourceTcpdump},
	}

	merged := MergeConnections(procNet, captured)

	// Same endpoints but a different protocol is a different flow.
	if len(merged) != 3 {
		t.Fatalf("merged = %d connections, want 3", len(merged))
	}
	protos := map[string]int{}
	for _, c := range merged {
		protos[c.Protocol]++
	}
	if protos["tcp"] != 2 || protos["udp"] != 1 {
		t.Errorf("protocol spread = %v, want 2 tcp + 1 udp", protos)
	}
}

func TestMergeConnectionsEmptyInputs(t *testing.T) {
	if got := MergeConnections(nil, nil); len(got) != 0 {
		t.Errorf("merged = %d connections, want 0", len(got))
	}
}
