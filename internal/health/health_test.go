package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/events"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
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

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeHostStore struct {
	mu    sync.Mutex
	hosts map[string]*store.Host
}

func newFakeHostStore(hosts ...*store.Host) *fakeHostStore {
	f := &fakeHostStore{hosts: make(map[string]*store.Host)}
	for _, h := range hosts {
		cp := *h
		f.hosts[h.ID] = &cp
	}
	return f
}

func (f *fakeHostStore) GetHost(_ context.Context, id string) (*store.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hosts[id]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHostStore) SaveHost(_ context.Context, h *store.Host) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *h
	f.hosts[h.ID] = &cp
	return nil
}

func (f *fakeHostStore) ListHosts(_ context.Context) ([]store.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Host, 0, len(f.hosts))
	for _, h := range f.hosts {
		out = append(out, *h)
	}
	return out, nil
}

func (f *fakeHostStore) UpdateHostFields(_ context.Context, id string, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hosts[id]
	if !ok {
		return nil
	}
	if v, ok := fields["agent_health"]; ok {
		h.AgentHealth = v.(store.AgentHealth)
	}
	if v, ok := fields["is_online"]; ok {
		h.IsOnline = v.(bool)
	}
	return nil
}

func testTracker(hosts *fakeHostStore) (*Tracker, *events.Bus, *mockClock) {
	clk := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	bus := events.New()
	log := logging.New(false, "error")
	return NewTracker(hosts, bus, clk, log), bus, clk
}

func host(id string, lastSeen time.Time) *store.Host {
	return &store.Host{
		ID:             id,
		Hostname:       id,
		FirstSeen:      lastSeen,
		LastSeen:       lastSeen,
		IsOnline:       true,
		AgentHealth:    store.AgentHealthy,
		ReportInterval: 30,
		ReportsCount:   10,
	}
}

func TestRecordReportFirstReportsAreUnknown(t *testing.T) {
	hosts := newFakeHostStore(&store.Host{ID: "h1", Hostname: "h1"})
	tracker, _, _ := testTracker(hosts)

	meta := report.AgentMeta{Version: "1.2.0", ReportInterval: 30, ReportDurationMS: 120}

	var got *store.Host
	var err error
	for i := 0; i < 2; i++ {
		got, err = tracker.RecordReport(context.Background(), "h1", meta)
		if err != nil {
			t.Fatalf("RecordReport: %v", err)
		}
	}
	if got.AgentHealth != store.AgentUnknown {
		t.Errorf("health after 2 reports = %q, want unknown", got.AgentHealth)
	}

	got, err = tracker.RecordReport(context.Background(), "h1", meta)
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if got.AgentHealth != store.AgentHealthy {
		t.Errorf("health after 3 reports = %q, want healthy", got.AgentHealth)
	}
	if got.ReportsCount != 3 {
		t.Errorf("ReportsCount = %d, want 3", got.ReportsCount)
	}
	if got.AgentVersion != "1.2.0" {
		t.Errorf("AgentVersion = %q", got.AgentVersion)
	}
	if !got.IsOnline {
		t.Error("host should be online after a report")
	}
}

func TestRecordReportAveragesDuration(t *testing.T) {
	hosts := newFakeHostStore(&store.Host{ID: "h1", Hostname: "h1"})
	tracker, _, _ := testTracker(hosts)

	got, err := tracker.RecordReport(context.Background(), "h1", report.AgentMeta{ReportDurationMS: 1000})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if got.AvgReportDuration != 1000 {
		t.Errorf("first avg = %d, want 1000", got.AvgReportDuration)
	}

	got, err = tracker.RecordReport(context.Background(), "h1", report.AgentMeta{ReportDurationMS: 2000})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	// 0.8*1000 + 0.2*2000
	if got.AvgReportDuration != 1200 {
		t.Errorf("smoothed avg = %d, want 1200", got.AvgReportDuration)
	}
	if got.LastReportDuration != 2000 {
		t.Errorf("LastReportDuration = %d, want 2000", got.LastReportDuration)
	}
}

func TestRecordReportErrorTracking(t *testing.T) {
	hosts := newFakeHostStore(&store.Host{ID: "h1", Hostname: "h1", ReportsCount: 10})
	tracker, _, _ := testTracker(hosts)

	var got *store.Host
	var err error
	for i := 0; i < 2; i++ {
		got, err = tracker.RecordReport(context.Background(), "h1", report.AgentMeta{Error: "docker unreachable"})
		if err != nil {
			t.Fatalf("RecordReport: %v", err)
		}
	}
	if got.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", got.ConsecutiveFailures)
	}
	if got.AgentHealth == store.AgentDegraded {
		t.Error("two failures should not degrade yet")
	}

	got, err = tracker.RecordReport(context.Background(), "h1", report.AgentMeta{Error: "docker unreachable"})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if got.AgentHealth != store.AgentDegraded {
		t.Errorf("health after 3 consecutive failures = %q, want degraded", got.AgentHealth)
	}
	if got.ErrorsCount != 3 {
		t.Errorf("ErrorsCount = %d, want 3", got.ErrorsCount)
	}
	if got.LastError != "docker unreachable" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if got.LastErrorAt == nil {
		t.Error("LastErrorAt should be set")
	}

	got, err = tracker.RecordReport(context.Background(), "h1", report.AgentMeta{})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if got.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures after success = %d, want 0", got.ConsecutiveFailures)
	}
	if got.AgentHealth != store.AgentHealthy {
		t.Errorf("health after recovery = %q, want healthy", got.AgentHealth)
	}
}

func TestRecordReportSlowReportDegrades(t *testing.T) {
	hosts := newFakeHostStore(&store.Host{ID: "h1", Hostname: "h1", ReportsCount: 10, ReportInterval: 30})
	tracker, _, _ := testTracker(hosts)

	// 28s collection against a 30s interval crosses the 90% threshold.
	got, err := tracker.RecordReport(context.Background(), "h1", report.AgentMeta{ReportInterval: 30, ReportDurationMS: 28000})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if got.AgentHealth != store.AgentDegraded {
		t.Errorf("health = %q, want degraded for slow report", got.AgentHealth)
	}
}

func TestRecordReportUnknownHost(t *testing.T) {
	tracker, _, _ := testTracker(newFakeHostStore())
	got, err := tracker.RecordReport(context.Background(), "nope", report.AgentMeta{})
	if err != nil {
		t.Fatalf("RecordReport: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil host, got %+v", got)
	}
}

func TestSweepDowngradesSilentAgents(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	fresh := host("fresh", now.Add(-10*time.Second))
	quiet := host("quiet", now.Add(-70*time.Second))   // > 2x30s
	gone := host("gone", now.Add(-200*time.Second))    // > 5x30s
	hosts := newFakeHostStore(fresh, quiet, gone)
	tracker, bus, clk := testTracker(hosts)
	clk.now = now

	ch, cancel := bus.Subscribe()
	defer cancel()

	stats, err := tracker.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Healthy != 1 || stats.Degraded != 1 || stats.Offline != 1 {
		t.Errorf("stats = %+v, want 1 healthy / 1 degraded / 1 offline", stats)
	}
	if len(stats.Updated) != 2 {
		t.Fatalf("Updated = %d hosts, want 2", len(stats.Updated))
	}

	got, _ := hosts.GetHost(context.Background(), "gone")
	if got.AgentHealth != store.AgentUnhealthy || got.IsOnline {
		t.Errorf("gone host = %q online=%v, want unhealthy offline", got.AgentHealth, got.IsOnline)
	}
	got, _ = hosts.GetHost(context.Background(), "quiet")
	if got.AgentHealth != store.AgentDegraded {
		t.Errorf("quiet host = %q, want degraded", got.AgentHealth)
	}
	if !got.IsOnline {
		t.Error("degraded host should stay online")
	}

	var evts []events.Event
	for {
		select {
		case e := <-ch:
			evts = append(evts, e)
			continue
		default:
		}
		break
	}
	if len(evts) != 2 {
		t.Fatalf("got %d events, want 2", len(evts))
	}
	for _, e := range evts {
		if e.Type != events.EventAgentHealthChanged {
			t.Errorf("event type = %q", e.Type)
		}
	}
}

func TestSweepQuietFleetEmitsNothing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hosts := newFakeHostStore(host("a", now.Add(-5*time.Second)))
	tracker, bus, clk := testTracker(hosts)
	clk.now = now

	ch, cancel := bus.Subscribe()
	defer cancel()

	stats, err := tracker.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(stats.Updated) != 0 {
		t.Errorf("Updated = %v, want none", stats.Updated)
	}
	select {
	case e := <-ch:
		t.Errorf("unexpected event %+v", e)
	default:
	}
}

func TestSummaryRanksSlowestAndRecentErrors(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	oldErr := now.Add(-2 * time.Hour)
	newErr := now.Add(-10 * time.Minute)

	fast := host("fast", now)
	fast.AvgReportDuration = 100
	slow := host("slow", now)
	slow.AvgReportDuration = 900
	stale := host("stale", now)
	stale.AvgReportDuration = 0
	stale.LastError = "old failure"
	stale.LastErrorAt = &oldErr
	broken := host("broken", now)
	broken.AvgReportDuration = 500
	broken.LastError = "exec format error"
	broken.LastErrorAt = &newErr
	broken.AgentHealth = store.AgentDegraded

	tracker, _, clk := testTracker(newFakeHostStore(fast, slow, stale, broken))
	clk.now = now

	sum, err := tracker.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if sum.Total != 4 {
		t.Errorf("Total = %d, want 4", sum.Total)
	}
	if sum.Stats.Healthy != 3 || sum.Stats.Degraded != 1 {
		t.Errorf("stats = %+v", sum.Stats)
	}
	if len(sum.ByStatus[store.AgentDegraded]) != 1 {
		t.Errorf("degraded bucket = %d entries, want 1", len(sum.ByStatus[store.AgentDegraded]))
	}

	if len(sum.AgentsWithErrors) != 1 || sum.AgentsWithErrors[0].HostID != "broken" {
		t.Errorf("AgentsWithErrors = %+v, want only broken", sum.AgentsWithErrors)
	}

	if len(sum.SlowestAgents) != 3 {
		t.Fatalf("SlowestAgents = %d entries, want 3 (zero-duration host excluded)", len(sum.SlowestAgents))
	}
	if sum.SlowestAgents[0].HostID != "slow" || sum.SlowestAgents[1].HostID != "broken" {
		t.Errorf("slowest order = %s, %s", sum.SlowestAgents[0].HostID, sum.SlowestAgents[1].HostID)
	}
}

func TestResetStats(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := host("h1", now)
	h.ReportsCount = 42
	h.ErrorsCount = 7
	h.ConsecutiveFailures = 2
	h.AvgReportDuration = 800
	h.LastError = "boom"
	h.LastErrorAt = &now
	hosts := newFakeHostStore(h)
	tracker, _, _ := testTracker(hosts)

	ok, err := tracker.ResetStats(context.Background(), "h1")
	if err != nil {
		t.Fatalf("ResetStats: %v", err)
	}
	if !ok {
		t.Fatal("ResetStats returned false for existing host")
	}

	got, _ := hosts.GetHost(context.Background(), "h1")
	if got.ReportsCount != 0 || got.ErrorsCount != 0 || got.ConsecutiveFailures != 0 ||
		got.AvgReportDuration != 0 || got.LastError != "" || got.LastErrorAt != nil {
		t.Errorf("stats not reset: %+v", got)
	}
	if got.AgentHealth != store.AgentUnknown {
		t.Errorf("health = %q, want unknown", got.AgentHealth)
	}

	ok, err = tracker.ResetStats(context.Background(), "missing")
	if err != nil {
		t.Fatalf("ResetStats: %v", err)
	}
	if ok {
		t.Error("ResetStats returned true for missing host")
	}
}

func TestHostHealthDetail(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	h := host("h1", now.Add(-45*time.Second))
	h.DockerVersion = "26.0"
	h.TailscaleIP = "100.64.1.2"
	hosts := newFakeHostStore(h)
	tracker, _, clk := testTracker(hosts)
	clk.now = now

	detail, err := tracker.HostHealth(context.Background(), "h1")
	if err != nil {
		t.Fatalf("HostHealth: %v", err)
	}
	if detail == nil {
		t.Fatal("HostHealth returned nil for existing host")
	}
	if detail.SecondsSinceReport != 45 {
		t.Errorf("SecondsSinceReport = %d, want 45", detail.SecondsSinceReport)
	}
	if detail.DockerVersion != "26.0" || detail.TailscaleIP != "100.64.1.2" {
		t.Errorf("detail = %+v", detail)
	}

	missing, err := tracker.HostHealth(context.Background(), "nope")
	if err != nil {
		t.Fatalf("HostHealth: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for unknown host, got %+v", missing)
	}
}
