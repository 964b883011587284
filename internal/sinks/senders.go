package sinks

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// send routes a batch to the shaper for the sink's backend.
func (f *Forwarder) send(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	switch sink.Type {
	case store.SinkGraylog:
		return f.sendGraylog(ctx, sink, records)
	case store.SinkOpenObserve:
		return f.sendOpenObserve(ctx, sink, records)
	case store.SinkLoki:
		return f.sendLoki(ctx, sink, records)
	case store.SinkElasticsearch:
		return f.sendElasticsearch(ctx, sink, records)
	case store.SinkSplunk:
		return f.sendSplunk(ctx, sink, records)
	case store.SinkSyslog:
		return f.sendSyslog(ctx, sink, records)
	case store.SinkWebhook:
		return f.sendWebhook(ctx, sink, records)
	default:
		return fmt.Errorf("unsupported sink type %q", sink.Type)
	}
}

type gelfMessage struct {
	Version       string  `json:"version"`
	Host          string  `json:"host"`
	ShortMessage  string  `json:"short_message"`
	FullMessage   string  `json:"full_message"`
	Timestamp     float64 `json:"timestamp"`
	Level         int     `json:"level"`
	Facility      string  `json:"facility"`
	ContainerID   string  `json:"_container_id"`
	ContainerName string  `json:"_container_name"`
	Stream        string  `json:"_stream"`
}

func (f *Forwarder) sendGraylog(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	facility := configString(sink.Config, "facility", "infra-mapper")
	version := configString(sink.Config, "version", "1.1")

	messages := make([]gelfMessage, 0, len(records))
	for _, rec := range records {
		messages = append(messages, gelfMessage{
			Version:       version,
			Host:          orUnknown(rec.Hostname),
			ShortMessage:  truncate(rec.Message, 250),
			FullMessage:   rec.Message,
			Timestamp:     epochSeconds(rec.Timestamp),
			Level:         syslogSeverity(rec.Stream),
			Facility:      facility,
			ContainerID:   rec.ContainerID,
			ContainerName: rec.ContainerName,
			Stream:        rec.Stream,
		})
	}

	url := fmt.Sprintf("%s:%d/gelf", baseURL(sink), portOr(sink, 12201))
	return f.httpSend(ctx, sink, url, messages, nil)
}

type openObserveRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Message       string    `json:"message"`
	Stream        string    `json:"stream"`
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	Hostname      string    `json:"hostname"`
	Level         string    `json:"level"`
}

func (f *Forwarder) sendOpenObserve(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	org := configString(sink.Config, "org", "default")
	stream := configString(sink.Config, "stream", "logs")

	rows := make([]openObserveRecord, 0, len(records))
	for _, rec := range records {
		level := "info"
		if rec.Stream == "stderr" {
			level = "error"
		}
		rows = append(rows, openObserveRecord{
			Timestamp:     rec.Timestamp,
			Message:       rec.Message,
			Stream:        rec.Stream,
			ContainerID:   rec.ContainerID,
			ContainerName: rec.ContainerName,
			Hostname:      rec.Hostname,
			Level:         level,
		})
	}

	url := fmt.Sprintf("%s/api/%s/%s/_json", baseURL(sink), org, stream)
	return f.httpSend(ctx, sink, url, rows, nil)
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

type lokiPayload struct {
	Streams []*lokiStream `json:"streams"`
}

func (f *Forwarder) sendLoki(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	base := configLabels(sink.Config, "labels")
	if len(base) == 0 {
		base = map[string]string{"app": "infra-mapper"}
	}

	// Group lines by label set, preserving first-seen order.
	var order []string
	groups := map[string]*lokiStream{}
	for _, rec := range records {
		labels := make(map[string]string, len(base)+3)
		for k, v := range base {
			labels[k] = v
		}
		labels["container"] = orUnknown(rec.ContainerName)
		labels["host"] = orUnknown(rec.Hostname)
		labels["stream"] = rec.Stream

		key := labelKey(labels)
		group, ok := groups[key]
		if !ok {
			group = &lokiStream{Stream: labels}
			groups[key] = group
			order = append(order, key)
		}
		ts := fmt.Sprintf("%d", rec.Timestamp.UnixNano())
		group.Values = append(group.Values, []string{ts, rec.Message})
	}

	payload := lokiPayload{}
	for _, key := range order {
		payload.Streams = append(payload.Streams, groups[key])
	}

	var extra map[string]string
	if tenant := configString(sink.Config, "tenant_id", ""); tenant != "" {
		extra = map[string]string{"X-Scope-OrgID": tenant}
	}

	url := baseURL(sink) + "/loki/api/v1/push"
	return f.httpSend(ctx, sink, url, payload, extra)
}

type esDoc struct {
	Timestamp     time.Time `json:"@timestamp"`
	Message       string    `json:"message"`
	Stream        string    `json:"stream"`
	ContainerID   string    `json:"container_id"`
	ContainerName string    `json:"container_name"`
	Hostname      string    `json:"hostname"`
}

func (f *Forwarder) sendElasticsearch(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	index := configString(sink.Config, "index", "infra-mapper-logs")

	var body bytes.Buffer
	for _, rec := range records {
		action, err := json.Marshal(map[string]any{"index": map[string]string{"_index": index}})
		if err != nil {
			return fmt.Errorf("encode elasticsearch action: %w", err)
		}
		doc, err := json.Marshal(esDoc{
			Timestamp:     rec.Timestamp,
			Message:       rec.Message,
			Stream:        rec.Stream,
			ContainerID:   rec.ContainerID,
			ContainerName: rec.ContainerName,
			Hostname:      rec.Hostname,
		})
		if err != nil {
			return fmt.Errorf("encode elasticsearch document: %w", err)
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	url := baseURL(sink) + "/_bulk"
	return f.httpSendRaw(ctx, sink, url, body.Bytes(), "application/x-ndjson", nil)
}

type splunkEvent struct {
	Time       float64         `json:"time"`
	Source     string          `json:"source"`
	SourceType string          `json:"sourcetype"`
	Index      string          `json:"index"`
	Event      splunkEventBody `json:"event"`
}

type splunkEventBody struct {
	Message       string `json:"message"`
	Stream        string `json:"stream"`
	ContainerID   string `json:"container_id"`
	ContainerName string `json:"container_name"`
	Hostname      string `json:"hostname"`
}

func (f *Forwarder) sendSplunk(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	source := configString(sink.Config, "source", "infra-mapper")
	sourceType := configString(sink.Config, "sourcetype", "docker:logs")
	index := configString(sink.Config, "index", "main")

	events := make([]splunkEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, splunkEvent{
			Time:       epochSeconds(rec.Timestamp),
			Source:     source,
			SourceType: sourceType,
			Index:      index,
			Event: splunkEventBody{
				Message:       rec.Message,
				Stream:        rec.Stream,
				ContainerID:   rec.ContainerID,
				ContainerName: rec.ContainerName,
				Hostname:      rec.Hostname,
			},
		})
	}

	token := sink.Token
	if token == "" {
		token = sink.APIKey
	}
	extra := map[string]string{"Authorization": "Splunk " + token}

	url := baseURL(sink) + "/services/collector/event"
	return f.httpSend(ctx, sink, url, events, extra)
}

func (f *Forwarder) sendWebhook(ctx context.Context, sink *store.LogSink, records []LogRecord) error {
	var payload any = records
	if !configBool(sink.Config, "wrap_in_array", true) {
		payload = map[string][]LogRecord{"logs": records}
	}
	return f.httpSend(ctx, sink, baseURL(sink), payload, nil)
}

// httpSend posts a JSON payload to a sink endpoint.
func (f *Forwarder) httpSend(ctx context.Context, sink *store.LogSink, url string, payload any, extra map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", sink.Type, err)
	}
	return f.httpSendRaw(ctx, sink, url, body, "application/json", extra)
}

// httpSendRaw posts a pre-encoded body, applying the sink's auth settings.
// Extra headers win over the computed Authorization header (Splunk HEC).
func (f *Forwarder) httpSendRaw(ctx context.Context, sink *store.LogSink, url string, body []byte, contentType string, extra map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", sink.Type, err)
	}
	req.Header.Set("Content-Type", contentType)

	switch sink.AuthType {
	case "basic":
		if sink.Username != "" {
			req.SetBasicAuth(sink.Username, sink.Password)
		}
	case "token":
		if sink.Token != "" {
			req.Header.Set("Authorization", "Bearer "+sink.Token)
		}
	case "api_key":
		if sink.APIKey != "" {
			req.Header.Set("Authorization", "ApiKey "+sink.APIKey)
		}
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient(sink).Do(req)
	if err != nil {
		return fmt.Errorf("send to %s: %w", sink.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned %s", sink.Name, resp.Status)
	}
	return nil
}

func (f *Forwarder) httpClient(sink *store.LogSink) *http.Client {
	client := &http.Client{Timeout: sendTimeout}
	if !sink.TLSVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return client
}

// --- helpers ---

// baseURL returns the sink URL without a trailing slash.
func baseURL(sink *store.LogSink) string {
	return strings.TrimRight(sink.URL, "/")
}

func portOr(sink *store.LogSink, fallback int) int {
	if sink.Port > 0 {
		return sink.Port
	}
	return fallback
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// syslogSeverity maps a docker stream to a syslog severity: err for stderr,
// info for everything else.
func syslogSeverity(stream string) int {
	if stream == "stderr" {
		return 3
	}
	return 6
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// labelKey builds a deterministic grouping key from a label set.
func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(';')
	}
	return b.String()
}

func configString(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func configBool(cfg map[string]any, key string, fallback bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return fallback
}

func configLabels(cfg map[string]any, key string) map[string]string {
	labels := map[string]string{}
	switch v := cfg[key].(type) {
	case map[string]string:
		for k, s := range v {
			labels[k] = s
		}
	case map[string]any:
		for k, raw := range v {
			if s, ok := raw.(string); ok {
				labels[k] = s
			}
		}
	}
	return labels
}
