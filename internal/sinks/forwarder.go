// Package sinks forwards ingested container logs to external log backends
// (Graylog, OpenObserve, Loki, Elasticsearch, Splunk, syslog, webhooks).
package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

const sendTimeout = 30 * time.Second

// LogRecord is one log line together with its source coordinates, as handed
// to the forwarder by the ingest pipeline.
type LogRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	Stream        string    `json:"stream"`
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	Hostname      string    `json:"hostname"`
}

// Store is the persistence surface the forwarder needs.
type Store interface {
	CreateLogSink(ctx context.Context, sink *store.LogSink) error
	GetLogSink(ctx context.Context, id string) (*store.LogSink, error)
	ListLogSinks(ctx context.Context, enabledOnly bool) ([]store.LogSink, error)
	SaveLogSink(ctx context.Context, sink *store.LogSink) error
	DeleteLogSink(ctx context.Context, id string) error
	RecordSinkSuccess(ctx context.Context, id string, sent int) error
	RecordSinkError(ctx context.Context, id, message string) error
}

// Forwarder fans ingested log batches out to every enabled sink and manages
// the sink configurations themselves.
type Forwarder struct {
	store Store
	clock clock.Clock
	log   *logging.Logger
}

// NewForwarder wires a forwarder to its store.
func NewForwarder(st Store, clk clock.Clock, log *logging.Logger) *Forwarder {
	return &Forwarder{store: st, clock: clk, log: log.Component("sinks")}
}

// Forward delivers a batch of log lines from one host to every enabled sink
// whose filters match. Delivery failures are recorded on the sink and do not
// abort the remaining sinks; the returned count is the number of lines
// accepted across all sinks. The error is non-nil only when the sink list
// itself cannot be loaded.
func (f *Forwarder) Forward(ctx context.Context, hostID, hostname string, batch []LogRecord) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	sinks, err := f.store.ListLogSinks(ctx, true)
	if err != nil {
		return 0, fmt.Errorf("list sinks: %w", err)
	}
	if len(sinks) == 0 {
		return 0, nil
	}

	records := f.normalize(hostname, batch)

	forwarded := 0
	for i := range sinks {
		sink := &sinks[i]
		matched := filterRecords(sink, hostID, records)
		if len(matched) == 0 {
			continue
		}
		if err := f.send(ctx, sink, matched); err != nil {
			f.log.Error("log forwarding failed",
				"sink", sink.Name, "type", string(sink.Type), "error", err)
			metrics.SinkErrors.WithLabelValues(string(sink.Type)).Inc()
			if serr := f.store.RecordSinkError(ctx, sink.ID, err.Error()); serr != nil {
				f.log.Error("record sink failure", "sink", sink.Name, "error", serr)
			}
			continue
		}
		forwarded += len(matched)
		metrics.SinkLogsForwarded.WithLabelValues(string(sink.Type)).Add(float64(len(matched)))
		if serr := f.store.RecordSinkSuccess(ctx, sink.ID, len(matched)); serr != nil {
			f.log.Error("record sink success", "sink", sink.Name, "error", serr)
		}
	}
	return forwarded, nil
}

// TestResult is the outcome of a sink test delivery.
type TestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Test pushes a synthetic log line through one sink and records the outcome
// on its stats. Returns nil, nil when the sink is unknown.
func (f *Forwarder) Test(ctx context.Context, id string) (*TestResult, error) {
	sink, err := f.store.GetLogSink(ctx, id)
	if err != nil || sink == nil {
		return nil, err
	}

	now := f.clock.Now().UTC()
	rec := LogRecord{
		Timestamp:     now,
		Message:       fmt.Sprintf("Test message from Infra-Mapper at %s", now.Format(time.RFC3339)),
		Stream:        "stdout",
		ContainerID:   "test-container",
		ContainerName: "infra-mapper-test",
		Hostname:      "infra-mapper",
	}

	if err := f.send(ctx, sink, []LogRecord{rec}); err != nil {
		if serr := f.store.RecordSinkError(ctx, sink.ID, err.Error()); serr != nil {
			f.log.Error("record sink failure", "sink", sink.Name, "error", serr)
		}
		return &TestResult{Error: err.Error()}, nil
	}
	if serr := f.store.RecordSinkSuccess(ctx, sink.ID, 1); serr != nil {
		f.log.Error("record sink success", "sink", sink.Name, "error", serr)
	}
	return &TestResult{Success: true, Message: "Test log sent successfully"}, nil
}

// normalize copies the batch, filling missing timestamps, streams, and
// hostnames so the senders can rely on populated records.
func (f *Forwarder) normalize(hostname string, batch []LogRecord) []LogRecord {
	now := f.clock.Now().UTC()
	records := make([]LogRecord, len(batch))
	copy(records, batch)
	for i := range records {
		if records[i].Timestamp.IsZero() {
			records[i].Timestamp = now
		}
		if records[i].Stream == "" {
			records[i].Stream = "stdout"
		}
		if records[i].Hostname == "" {
			records[i].Hostname = hostname
		}
	}
	return records
}

// filterRecords applies a sink's host, container, and stream filters. An
// empty filter matches everything; a host filter miss drops the whole batch.
func filterRecords(sink *store.LogSink, hostID string, records []LogRecord) []LogRecord {
	if len(sink.FilterHosts) > 0 && !containsValue(sink.FilterHosts, hostID) {
		return nil
	}
	if len(sink.FilterContainers) == 0 && len(sink.FilterStreams) == 0 {
		return records
	}
	matched := make([]LogRecord, 0, len(records))
	for _, rec := range records {
		if len(sink.FilterContainers) > 0 && !containsValue(sink.FilterContainers, rec.ContainerID) {
			continue
		}
		if len(sink.FilterStreams) > 0 && !containsValue(sink.FilterStreams, rec.Stream) {
			continue
		}
		matched = append(matched, rec)
	}
	return matched
}

func containsValue(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
