package ingest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/sinks"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *mockClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

type fakeIngestStore struct {
	hosts            map[string]*store.Host
	containers       map[string]*store.Container
	networks         []store.Network
	connections      []store.Connection
	logs             []store.ContainerLog
	hostMetrics      []store.HostMetric
	containerMetrics []store.ContainerMetric

	failInsertLogs error
}

func newFakeIngestStore() *fakeIngestStore {
	return &fakeIngestStore{
		hosts:      map[string]*store.Host{},
		containers: map[string]*store.Container{},
	}
}

func (f *fakeIngestStore) clone() *fakeIngestStore {
	cp := newFakeIngestStore()
	for k, v := range f.hosts {
		h := *v
		cp.hosts[k] = &h
	}
	for k, v := range f.containers {
		c := *v
		cp.containers[k] = &c
	}
	cp.networks = append([]store.Network(nil), f.networks...)
	cp.connections = append([]store.Connection(nil), f.connections...)
	cp.logs = append([]store.ContainerLog(nil), f.logs...)
	cp.hostMetrics = append([]store.HostMetric(nil), f.hostMetrics...)
	cp.containerMetrics = append([]store.ContainerMetric(nil), f.containerMetrics...)
	cp.failInsertLogs = f.failInsertLogs
	return cp
}

func (f *fakeIngestStore) Transaction(_ context.Context, fn func(tx Tx) error) error {
	snapshot := f.clone()
	if err := fn(f); err != nil {
		*f = *snapshot
		return err
	}
	return nil
}

func (f *fakeIngestStore) GetHost(_ context.Context, id string) (*store.Host, error) {
	h, ok := f.hosts[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (f *fakeIngestStore) SaveHost(_ context.Context, h *store.Host) error {
	cp := *h
	f.hosts[h.ID] = &cp
	return nil
}

func (f *fakeIngestStore) ListContainersByHost(_ context.Context, hostID string) ([]store.Container, error) {
	var out []store.Container
	for _, c := range f.containers {
		if c.HostID == hostID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeIngestStore) CreateContainers(_ context.Context, containers []store.Container) error {
	for i := range containers {
		c := containers[i]
		f.containers[c.ID] = &c
	}
	return nil
}

func (f *fakeIngestStore) SaveContainer(_ context.Context, c *store.Container) error {
	cp := *c
	f.containers[c.ID] = &cp
	return nil
}

func (f *fakeIngestStore) DeleteContainersByID(_ context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.containers, id)
	}
	return nil
}

func (f *fakeIngestStore) ReplaceHostNetworks(_ context.Context, hostID string, networks []store.Network) error {
	var kept []store.Network
	for _, n := range f.networks {
		if n.HostID != hostID {
			kept = append(kept, n)
		}
	}
	f.networks = append(kept, networks...)
	return nil
}

func (f *fakeIngestStore) ReplaceHostConnections(_ context.Context, hostID string, conns []store.Connection) error {
	var kept []store.Connection
	for _, c := range f.connections {
		if c.SourceHostID != hostID {
			kept = append(kept, c)
		}
	}
	f.connections = append(kept, conns...)
	return nil
}

func (f *fakeIngestStore) InsertLogs(_ context.Context, logs []store.ContainerLog) error {
	if f.failInsertLogs != nil {
		return f.failInsertLogs
	}
	f.logs = append(f.logs, logs...)
	return nil
}

func (f *fakeIngestStore) InsertHostMetric(_ context.Context, m *store.HostMetric) error {
	f.hostMetrics = append(f.hostMetrics, *m)
	return nil
}

func (f *fakeIngestStore) InsertContainerMetrics(_ context.Context, batch []store.ContainerMetric) error {
	f.containerMetrics = append(f.containerMetrics, batch...)
	return nil
}

type fakeHealthTracker struct {
	hostIDs []string
	metas   []report.AgentMeta
}

func (f *fakeHealthTracker) RecordReport(_ context.Context, hostID string, meta report.AgentMeta) (*store.Host, error) {
	f.hostIDs = append(f.hostIDs, hostID)
	f.metas = append(f.metas, meta)
	return nil, nil
}

type fakeEvaluator struct {
	fired []store.Alert
	err   error
	calls int
}

func (f *fakeEvaluator) EvaluateAll(context.Context) ([]store.Alert, error) {
	f.calls++
	return f.fired, f.err
}

type fakeForwarder struct {
	hostIDs   []string
	hostnames []string
	batches   [][]sinks.LogRecord
}

func (f *fakeForwarder) Forward(_ context.Context, hostID, hostname string, batch []sinks.LogRecord) (int, error) {
	f.hostIDs = append(f.hostIDs, hostID)
	f.hostnames = append(f.hostnames, hostname)
	f.batches = append(f.batches, batch)
	return len(batch), nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testService(st Store, health HealthTracker, alerts AlertEvaluator, fw LogForwarder, bus *events.Bus) *Service {
	return New(st, health, alerts, fw, bus, &mockClock{now: testNow}, logging.New(false, "error"))
}

// fullWebID is a 64-hex engine id whose short form is aaaaaaaaaaaa.
var fullWebID = "aaaaaaaaaaaa" + strings.Repeat("0", 52)

func sampleReport() *report.AgentReport {
	started := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	return &report.AgentReport{
		Host: report.HostInfo{
			AgentID:       "h1",
			Hostname:      "alpha",
			IPAddresses:   []string{"192.168.1.10"},
			DockerVersion: "27.1.1",
			OSInfo:        "Ubuntu 24.04",
			Tailscale:     &report.TailscaleInfo{Enabled: true, IP: "100.64.0.9", Hostname: "alpha-ts"},
		},
		Containers: []report.ContainerInfo{
			{
				ID:             fullWebID,
				Name:           "web",
				Image:          "nginx:1.27",
				Status:         report.StatusRunning,
				Health:         report.HealthHealthy,
				StartedAt:      &started,
				Networks:       []string{"bridge"},
				IPAddresses:    map[string]string{"bridge": "172.17.0.2"},
				Ports:          []report.PortMapping{{HostIP: "0.0.0.0", HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}},
				ComposeProject: "shop",
				ComposeService: "web",
			},
			{
				ID:          "bbbbbbbbbbbb",
				Name:        "db",
				Image:       "postgres:16",
				Status:      report.StatusRunning,
				IPAddresses: map[string]string{"bridge": "172.17.0.3"},
			},
		},
		Networks: []report.NetworkInfo{
			{ID: "net000111222", Name: "bridge", Driver: "bridge", Scope: "local", Subnet: "172.17.0.0/16"},
		},
		Connections: []report.Connection{
			{
				Protocol:     "tcp",
				LocalIP:      "172.17.0.2",
				LocalPort:    53412,
				RemoteIP:     "172.17.0.3",
				RemotePort:   5432,
				State:        "ESTABLISHED",
				ContainerID:  fullWebID,
				SourceMethod: report.SourceProcNet,
			},
		},
		ContainerLogs: []report.LogEntry{
			{ContainerID: fullWebID, ContainerName: "web", Timestamp: testNow.Add(-time.Minute), Stream: "stdout", Message: "listening on :80"},
			{ContainerID: "bbbbbbbbbbbb", ContainerName: "db", Timestamp: testNow.Add(-30 * time.Second), Stream: "stderr", Message: "checkpoint starting"},
		},
		HostMetrics: &report.HostMetrics{
			CPUPercent:  floatPtr(43.6),
			CPUCount:    intPtr(8),
			Load1:       floatPtr(1.55),
			MemoryTotal: int64Ptr(32000),
			MemoryUsed:  int64Ptr(12000),
		},
		ContainerMetrics: []report.ContainerMetrics{
			{ContainerID: fullWebID, CPUPercent: floatPtr(12.34), MemoryUsed: int64Ptr(256)},
		},
		Agent: &report.AgentMeta{
			Version:          "1.4.0",
			ReportInterval:   30,
			ReportDurationMS: 1200,
			UptimeSeconds:    86400,
			CommandPort:      9998,
		},
		Timestamp: testNow,
	}
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
func int64Ptr(v int64) *int64     { return &v }

func TestProcessReportCreatesHostAndContainers(t *testing.T) {
	st := newFakeIngestStore()
	svc := testService(st, nil, nil, nil, nil)

	stats, err := svc.ProcessReport(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("ProcessReport: %v", err)
	}

	h := st.hosts["h1"]
	if h == nil {
		t.Fatal("host not created")
	}
	if h.Hostname != "alpha" || h.TailscaleIP != "100.64.0.9" || h.TailscaleHostname != "alpha-ts" {
		t.Errorf("host = %+v", h)
	}
	if !h.IsOnline || !h.LastSeen.Equal(testNow) || !h.FirstSeen.Equal(testNow) {
		t.Errorf("host liveness = online:%v last:%v first:%v", h.IsOnline, h.LastSeen, h.FirstSeen)
	}
	if h.DockerVersion != "27.1.1" || h.OSInfo != "Ubuntu 24.04" {
		t.Errorf("host versions = %q/%q", h.DockerVersion, h.OSInfo)
	}

	web := st.containers["h1:aaaaaaaaaaaa"]
	if web == nil {
		t.Fatalf("web container missing; have %v", containerIDs(st))
	}
	if web.ContainerID != "aaaaaaaaaaaa" || web.Image != "nginx:1.27" || web.ComposeProject != "shop" {
		t.Errorf("web = %+v", web)
	}
	if web.Status != report.StatusRunning || web.Health != report.HealthHealthy {
		t.Errorf("web state = %s/%s", web.Status, web.Health)
	}
	if !web.FirstSeen.Equal(testNow) || !web.LastSeen.Equal(testNow) {
		t.Errorf("web seen = %v/%v", web.FirstSeen, web.LastSeen)
	}
	if st.containers["h1:bbbbbbbbbbbb"] == nil {
		t.Error("db container missing")
	}

	if len(st.networks) != 1 || st.networks[0].ID != "h1:net000111222" {
		t.Errorf("networks = %+v", st.networks)
	}

	want := Stats{
		HostUpdated:        true,
		ContainersAdded:    2,
		NetworksUpdated:    1,
		ConnectionsUpdated: 1,
		LogsStored:         2,
		MetricsStored:      2,
	}
	if *stats != want {
		t.Errorf("stats = %+v, want %+v", *stats, want)
	}
}

func TestProcessReportDiffsContainers(t *testing.T) {
	st := newFakeIngestStore()
	st.hosts["h1"] = &store.Host{ID: "h1", Hostname: "alpha", FirstSeen: testNow.Add(-24 * time.Hour)}
	st.containers["h1:aaaaaaaaaaaa"] = &store.Container{
		ID:          "h1:aaaaaaaaaaaa",
		ContainerID: "aaaaaaaaaaaa",
		HostID:      "h1",
		Name:        "web",
		Image:       "nginx:1.26",
		Status:      report.StatusRunning,
		FirstSeen:   testNow.Add(-24 * time.Hour),
	}
	st.containers["h1:dddddddddddd"] = &store.Container{
		ID:          "h1:dddddddddddd",
		ContainerID: "dddddddddddd",
		HostID:      "h1",
		Name:        "legacy",
		Image:       "redis:6",
		FirstSeen:   testNow.Add(-24 * time.Hour),
	}

	svc := testService(st, nil, nil, nil, nil)
	stats, err := svc.ProcessReport(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("ProcessReport: %v", err)
	}

	if stats.ContainersAdded != 1 || stats.ContainersUpdated != 1 || stats.ContainersRemoved != 1 {
		t.Errorf("diff = +%d ~%d -%d, want +1 ~1 -1",
			stats.ContainersAdded, stats.ContainersUpdated, stats.ContainersRemoved)
	}

	web := st.containers["h1:aaaaaaaaaaaa"]
	if web.Image != "nginx:1.27" {
		t.Errorf("web image = %q, not overwritten", web.Image)
	}
	if !web.FirstSeen.Equal(testNow.Add(-24 * time.Hour)) {
		t.Errorf("web first seen = %v, must be preserved", web.FirstSeen)
	}
	if st.containers["h1:dddddddddddd"] != nil {
		t.Error("stale container not removed")
	}
	if host := st.hosts["h1"]; !host.FirstSeen.Equal(testNow.Add(-24 * time.Hour)) {
		t.Errorf("host first seen = %v, must be preserved", host.FirstSeen)
	}
}

func TestProcessReportIsIdempotent(t *testing.T) {
	st := newFakeIngestStore()
	svc := testService(st, nil, nil, nil, nil)

	if _, err := svc.ProcessReport(context.Background(), sampleReport()); err != nil {
		t.Fatalf("first ProcessReport: %v", err)
	}
	stats, err := svc.ProcessReport(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("second ProcessReport: %v", err)
	}

	if stats.ContainersAdded != 0 || stats.ContainersUpdated != 2 || stats.ContainersRemoved != 0 {
		t.Errorf("second pass diff = +%d ~%d -%d, want +0 ~2 -0",
			stats.ContainersAdded, stats.ContainersUpdated, stats.ContainersRemoved)
	}
	if len(st.containers) != 2 {
		t.Errorf("containers = %d, want 2", len(st.containers))
	}
	if len(st.connections) != 1 {
		t.Errorf("connections = %d, want replaced set of 1", len(st.connections))
	}
	if len(st.networks) != 1 {
		t.Errorf("networks = %d, want replaced set of 1", len(st.networks))
	}
}

func TestProcessReportFiltersAndClassifiesConnections(t *testing.T) {
	rep := sampleReport()
	rep.Connections = []report.Connection{
		// Dropped outright.
		{Protocol: "tcp", LocalIP: "0.0.0.0", LocalPort: 80, RemoteIP: "0.0.0.0", RemotePort: 0, State: "LISTEN"},
		{Protocol: "tcp", LocalIP: "172.17.0.2", LocalPort: 40001, RemoteIP: "127.0.0.1", RemotePort: 53, State: "ESTABLISHED"},
		{Protocol: "tcp", LocalIP: "172.17.0.2", LocalPort: 40002, RemoteIP: "::1", RemotePort: 53, State: "ESTABLISHED"},
		// Agent attribution wins; remote is a sibling container -> internal.
		{Protocol: "tcp", LocalIP: "172.17.0.2", LocalPort: 40003, RemoteIP: "172.17.0.3", RemotePort: 5432, State: "ESTABLISHED", ContainerID: fullWebID},
		// IP-map attribution; RFC1918 remote -> cross-host.
		{Protocol: "tcp", LocalIP: "172.17.0.3", LocalPort: 40004, RemoteIP: "192.168.1.20", RemotePort: 9000, State: "ESTABLISHED"},
		// CGNAT /10 covers more than the 100.64.x.x prefix.
		{Protocol: "tcp", LocalIP: "172.17.0.2", LocalPort: 40005, RemoteIP: "100.100.1.1", RemotePort: 443, State: "ESTABLISHED"},
		// Just past the /10 -> external; unattributable local IP.
		{Protocol: "udp", LocalIP: "192.168.1.10", LocalPort: 40006, RemoteIP: "100.128.0.1", RemotePort: 443, State: "ESTABLISHED", SourceMethod: report.SourceTcpdump},
		{Protocol: "tcp", LocalIP: "172.17.0.2", LocalPort: 40007, RemoteIP: "203.0.113.7", RemotePort: 443, State: "ESTABLISHED"},
	}

	st := newFakeIngestStore()
	svc := testService(st, nil, nil, nil, nil)
	stats, err := svc.ProcessReport(context.Background(), rep)
	if err != nil {
		t.Fatalf("ProcessReport: %v", err)
	}

	if stats.ConnectionsUpdated != 8 {
		t.Errorf("connections_updated = %d, want raw report count 8", stats.ConnectionsUpdated)
	}
	if len(st.connections) != 5 {
		t.Fatalf("stored connections = %d, want 5 after filters; got %+v", len(st.connections), st.connections)
	}

	byPort := map[int]store.Connection{}
	for _, c := range st.connections {
		byPort[c.SourcePort] = c
	}

	if c := byPort[40003]; c.ConnectionType != store.ConnInternal || c.SourceContainerID != "aaaaaaaaaaaa" {
		t.Errorf("sibling conn = %+v", c)
	}
	if c := byPort[40004]; c.ConnectionType != store.ConnCrossHost || c.SourceContainerID != "bbbbbbbbbbbb" {
		t.Errorf("lan conn = %+v", c)
	}
	if c := byPort[40005]; c.ConnectionType != store.ConnCrossHost {
		t.Errorf("cgnat conn type = %s, want cross-host", c.ConnectionType)
	}
	if c := byPort[40006]; c.ConnectionType != store.ConnExternal || c.SourceContainerID != "" || c.SourceMethod != report.SourceTcpdump {
		t.Errorf("past-cgnat conn = %+v", c)
	}
	if c := byPort[40007]; c.ConnectionType != store.ConnExternal || c.SourceMethod != report.SourceProcNet {
		t.Errorf("external conn = %+v (method must default to proc_net)", c)
	}
}

func TestProcessReportStoresLogs(t *testing.T) {
	rep := sampleReport()
	rep.ContainerLogs = []report.LogEntry{
		{ContainerID: fullWebID, Timestamp: testNow.Add(-time.Minute), Stream: "stderr", Message: "upstream timeout"},
		{Timestamp: time.Time{}, Message: strings.Repeat("x", maxLogMessageBytes+500)},
	}

	st := newFakeIngestStore()
	svc := testService(st, nil, nil, nil, nil)
	if _, err := svc.ProcessReport(context.Background(), rep); err != nil {
		t.Fatalf("ProcessReport: %v", err)
	}

	if len(st.logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(st.logs))
	}

	first := st.logs[0]
	if first.ContainerID != "h1:aaaaaaaaaaaa" || first.HostID != "h1" || first.Stream != "stderr" {
		t.Errorf("first log = %+v", first)
	}
	if !first.Timestamp.Equal(testNow.Add(-time.Minute)) {
		t.Errorf("first log timestamp = %v", first.Timestamp)
	}

	second := st.logs[1]
	if second.ContainerID != "h1:unknown" || second.Stream != "stdout" {
		t.Errorf("second log defaults = %+v", second)
	}
	if !second.Timestamp.Equal(testNow) {
		t.Errorf("zero timestamp should become now, got %v", second.Timestamp)
	}
	if len(second.Message) != maxLogMessageBytes {
		t.Errorf("message length = %d, want truncated to %d", len(second.Message), maxLogMessageBytes)
	}
}

func TestProcessReportStoresMetrics(t *testing.T) {
	rep := sampleReport()
	rep.ContainerMetrics = append(rep.ContainerMetrics, report.ContainerMetrics{CPUPercent: floatPtr(1)}) // no id, skipped

	st := newFakeIngestStore()
	svc := testService(st, nil, nil, nil, nil)
	stats, err := svc.ProcessReport(context.Background(), rep)
	if err != nil {
		t.Fatalf("ProcessReport: %v", err)
	}

	if stats.MetricsStored != 2 {
		t.Errorf("metrics_stored = %d, want host + one container", stats.MetricsStored)
	}
	if len(st.hostMetrics) != 1 {
		t.Fatalf("host metrics = %d", len(st.hostMetrics))
	}
	hm := st.hostMetrics[0]
	if hm.CPUPercent == nil || *hm.CPUPercent != 44 {
		t.Errorf("host cpu = %v, want rounded 44", hm.CPUPercent)
	}
	if hm.Load1 == nil || *hm.Load1 != 155 {
		t.Errorf("load1 = %v, want hundredths 155", hm.Load1)
	}
	if hm.Load5 != nil {
		t.Errorf("absent load5 must stay nil, got %v", *hm.Load5)
	}
	if !hm.Timestamp.Equal(testNow) {
		t.Errorf("host metric timestamp = %v", hm.Timestamp)
	}

	if len(st.containerMetrics) != 1 {
		t.Fatalf("container metrics = %d, want 1 (empty id skipped)", len(st.containerMetrics))
	}
	cm := st.containerMetrics[0]
	if cm.ContainerID != "h1:aaaaaaaaaaaa" {
		t.Errorf("container metric id = %q", cm.ContainerID)
	}
	if cm.CPUPercent == nil || *cm.CPUPercent != 1234 {
		t.Errorf("container cpu = %v, want hundredths 1234", cm.CPUPercent)
	}
}

func TestProcessReportRollsBackOnFailure(t *testing.T) {
	st := newFakeIngestStore()
	st.hosts["h1"] = &store.Host{ID: "h1", Hostname: "stale-name", LastSeen: testNow.Add(-time.Hour)}
	st.containers["h1:dddddddddddd"] = &store.Container{
		ID: "h1:dddddddddddd", ContainerID: "dddddddddddd", HostID: "h1", Name: "legacy",
	}
	st.failInsertLogs = errors.New("disk full")

	evaluator := &fakeEvaluator{}
	svc := testService(st, nil, evaluator, nil, nil)

	_, err := svc.ProcessReport(context.Background(), sampleReport())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "store logs") {
		t.Errorf("error = %v", err)
	}

	if st.hosts["h1"].Hostname != "stale-name" {
		t.Error("host update must roll back")
	}
	if st.containers["h1:dddddddddddd"] == nil {
		t.Error("container delete must roll back")
	}
	if len(st.networks) != 0 || len(st.connections) != 0 {
		t.Errorf("replaced sets must roll back: %d networks, %d connections", len(st.networks), len(st.connections))
	}
	if evaluator.calls != 0 {
		t.Error("alert evaluation must not run after a failed ingest")
	}
}

func TestProcessReportPostCommitFanout(t *testing.T) {
	st := newFakeIngestStore()
	health := &fakeHealthTracker{}
	evaluator := &fakeEvaluator{fired: []store.Alert{{ID: "a1"}, {ID: "a2"}}}
	forwarder := &fakeForwarder{}
	bus := events.New()

	ch, cancel := bus.Subscribe()
	defer cancel()

	svc := testService(st, health, evaluator, forwarder, bus)
	stats, err := svc.ProcessReport(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("ProcessReport: %v", err)
	}

	if stats.AlertsTriggered != 2 {
		t.Errorf("alerts_triggered = %d, want 2", stats.AlertsTriggered)
	}

	if len(health.hostIDs) != 1 || health.hostIDs[0] != "h1" {
		t.Fatalf("health calls = %v", health.hostIDs)
	}
	if meta := health.metas[0]; meta.Version != "1.4.0" || meta.ReportDurationMS != 1200 || meta.CommandPort != 9998 {
		t.Errorf("health meta = %+v", meta)
	}

	if len(forwarder.batches) != 1 {
		t.Fatalf("forward calls = %d", len(forwarder.batches))
	}
	if forwarder.hostIDs[0] != "h1" || forwarder.hostnames[0] != "alpha" {
		t.Errorf("forward target = %s/%s", forwarder.hostIDs[0], forwarder.hostnames[0])
	}
	batch := forwarder.batches[0]
	if len(batch) != 2 || batch[0].ContainerID != "aaaaaaaaaaaa" || batch[0].Hostname != "alpha" {
		t.Errorf("forwarded batch = %+v", batch)
	}

	evt := <-ch
	if evt.Type != events.EventHostUpdate {
		t.Fatalf("first event = %s", evt.Type)
	}
	if evt.Data["host_id"] != "h1" || evt.Data["hostname"] != "alpha" {
		t.Errorf("host_update data = %+v", evt.Data)
	}
	evt = <-ch
	if evt.Type != events.EventGraphRefresh {
		t.Fatalf("second event = %s", evt.Type)
	}
}

func TestProcessReportToleratesEvaluatorFailure(t *testing.T) {
	st := newFakeIngestStore()
	evaluator := &fakeEvaluator{err: errors.New("rules table locked")}

	svc := testService(st, nil, evaluator, nil, nil)
	stats, err := svc.ProcessReport(context.Background(), sampleReport())
	if err != nil {
		t.Fatalf("ProcessReport must not fail on evaluator errors: %v", err)
	}
	if stats.AlertsTriggered != 0 {
		t.Errorf("alerts_triggered = %d, want 0", stats.AlertsTriggered)
	}
}

func TestProcessReportRejectsMissingAgentID(t *testing.T) {
	rep := sampleReport()
	rep.Host.AgentID = ""

	svc := testService(newFakeIngestStore(), nil, nil, nil, nil)
	if _, err := svc.ProcessReport(context.Background(), rep); err == nil {
		t.Fatal("expected error for missing agent id")
	}
}

func containerIDs(st *fakeIngestStore) []string {
	ids := make([]string, 0, len(st.containers))
	for id := range st.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
