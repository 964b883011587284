package collect

import (
	"context"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// maxLogMessage caps a single collected log line on the wire.
const maxLogMessage = 5000

// Logs collects recent log lines from running containers.
type Logs struct {
	docker docker.API
	clock  clock.Clock
	log    *logging.Logger
}

// NewLogs creates a Logs collector.
func NewLogs(d docker.API, clk clock.Clock, log *logging.Logger) *Logs {
	return &Logs{docker: d, clock: clk, log: log.Component("logs")}
}

// All fetches recent logs from every running container.
func (l *Logs) All(ctx context.Context, containers []report.ContainerInfo, lines int, since time.Duration) []report.LogEntry {
	var all []report.LogEntry
	for _, ci := range containers {
		if ci.Status != report.StatusRunning {
			continue
		}
		all = append(all, l.Container(ctx, ci.ID, ci.Name, lines, since)...)
	}
	l.log.Debug("log collection complete", "entries", len(all), "containers", len(containers))
	return all
}

// Container fetches up to lines recent log lines for one container,
// keeping the stdout/stderr split.
func (l *Logs) Container(ctx context.Context, containerID, containerName string, lines int, since time.Duration) []report.LogEntry {
	sinceTime := l.clock.Now().Add(-since)
	stdout, stderr, err := l.docker.ContainerLogs(ctx, containerID, lines, sinceTime)
	if err != nil {
		l.log.Debug("log fetch failed", "container", containerName, "error", err)
		return nil
	}

	var entries []report.LogEntry
	entries = append(entries, l.parseStream(containerID, containerName, stdout, "stdout")...)
	entries = append(entries, l.parseStream(containerID, containerName, stderr, "stderr")...)
	return entries
}

func (l *Logs) parseStream(containerID, containerName, raw, stream string) []report.LogEntry {
	var entries []report.LogEntry
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, l.parseLine(containerID, containerName, line, stream))
	}
	return entries
}

// parseLine splits the engine's "2024-01-15T10:30:45.123456789Z message"
// format. Lines without a parseable timestamp get the current time.
func (l *Logs) parseLine(containerID, containerName, line, stream string) report.LogEntry {
	ts := l.clock.Now().UTC()
	message := line

	if raw, rest, ok := strings.Cut(line, " "); ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = t.UTC()
			message = rest
		}
	}

	if len(message) > maxLogMessage {
		message = message[:maxLogMessage] + "..."
	}

	return report.LogEntry{
		ContainerID:   containerID,
		ContainerName: containerName,
		Timestamp:     ts,
		Stream:        stream,
		Message:       message,
	}
}
