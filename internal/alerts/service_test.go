package alerts

import (
	"context"
	"errors"
	"strings"
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

type fakeStore struct {
	mu         sync.Mutex
	rules      map[string]*store.AlertRule
	channels   map[string]*store.AlertChannel
	alerts     map[string]*store.Alert
	hosts      []store.Host
	containers []store.Container
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rules:    make(map[string]*store.AlertRule),
		channels: make(map[string]*store.AlertChannel),
		alerts:   make(map[string]*store.Alert),
	}
}

func (f *fakeStore) ListAlertRules(_ context.Context, enabledOnly bool) ([]store.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AlertRule
	for _, r := range f.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) GetAlertRule(_ context.Context, id string) (*store.AlertRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeStore) CreateAlertRule(_ context.Context, r *store.AlertRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.rules[r.ID] = &cp
	return nil
}

func (f *fakeStore) SaveAlertRule(_ context.Context, r *store.AlertRule) error {
	return f.CreateAlertRule(context.Background(), r)
}

func (f *fakeStore) DeleteAlertRule(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rules, id)
	return nil
}

func (f *fakeStore) ListAlertChannels(_ context.Context, enabledOnly bool) ([]store.AlertChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AlertChannel
	for _, c := range f.channels {
		if enabledOnly && !c.Enabled {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) GetAlertChannel(_ context.Context, id string) (*store.AlertChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.channels[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) CreateAlertChannel(_ context.Context, c *store.AlertChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.channels[c.ID] = &cp
	return nil
}

func (f *fakeStore) SaveAlertChannel(_ context.Context, c *store.AlertChannel) error {
	return f.CreateAlertChannel(context.Background(), c)
}

func (f *fakeStore) DeleteAlertChannel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, id)
	return nil
}

func (f *fakeStore) CreateAlert(_ context.Context, a *store.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.alerts[a.ID] = &cp
	return nil
}

func (f *fakeStore) GetAlert(_ context.Context, id string) (*store.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) SaveAlert(_ context.Context, a *store.Alert) error {
	return f.CreateAlert(context.Background(), a)
}

func (f *fakeStore) DeleteAlert(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alerts, id)
	return nil
}

func (f *fakeStore) ListAlerts(_ context.Context, q store.AlertQuery) ([]store.Alert, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Alert
	for _, a := range f.alerts {
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		if q.Severity != "" && a.Severity != q.Severity {
			continue
		}
		out = append(out, *a)
	}
	return out, int64(len(out)), nil
}

func (f *fakeStore) ActiveAlertsForRule(_ context.Context, ruleID string) ([]store.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Alert
	for _, a := range f.alerts {
		if a.RuleID == ruleID && a.Status == store.AlertActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) HasRecentAlert(_ context.Context, ruleID, hostID, containerID string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.RuleID != ruleID || !a.TriggeredAt.After(since) {
			continue
		}
		if hostID != "" && a.HostID != hostID {
			continue
		}
		if containerID != "" && a.ContainerID != containerID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) ActiveAlertFor(_ context.Context, ruleID, hostID, containerID string) (*store.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.alerts {
		if a.RuleID != ruleID || a.Status != store.AlertActive {
			continue
		}
		if hostID != "" && a.HostID != hostID {
			continue
		}
		if containerID != "" && a.ContainerID != containerID {
			continue
		}
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) CountAlertsByStatus(_ context.Context) (map[store.AlertStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[store.AlertStatus]int64)
	for _, a := range f.alerts {
		out[a.Status]++
	}
	return out, nil
}

func (f *fakeStore) CountActiveAlertsBySeverity(_ context.Context) (map[store.Severity]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[store.Severity]int64)
	for _, a := range f.alerts {
		if a.Status == store.AlertActive {
			out[a.Severity]++
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteResolvedAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, a := range f.alerts {
		if a.Status == store.AlertResolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			delete(f.alerts, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ListHosts(_ context.Context) ([]store.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Host(nil), f.hosts...), nil
}

func (f *fakeStore) ListContainers(_ context.Context) ([]store.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Container(nil), f.containers...), nil
}

func (f *fakeStore) activeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.alerts {
		if a.Status == store.AlertActive {
			n++
		}
	}
	return n
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []*store.Alert
	testErr    error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, alert *store.Alert, _ *store.AlertRule) []store.NotificationResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, alert)
	return []store.NotificationResult{{ChannelID: "ch1", ChannelName: "ops", Success: true}}
}

func (d *fakeDispatcher) Test(_ context.Context, _ *store.AlertChannel) error {
	return d.testErr
}

func testService(st *fakeStore) (*Service, *fakeDispatcher, *events.Bus, *mockClock) {
	clk := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	bus := events.New()
	disp := &fakeDispatcher{}
	log := logging.New(false, "error")
	return NewService(st, disp, bus, clk, log), disp, bus, clk
}

func offlineRule(id string) *store.AlertRule {
	return &store.AlertRule{
		ID:              id,
		Name:            "hosts must report",
		RuleType:        store.RuleHostOffline,
		Severity:        store.SeverityCritical,
		Enabled:         true,
		Config:          map[string]any{},
		CooldownMinutes: 15,
	}
}

func stoppedRule(id string) *store.AlertRule {
	return &store.AlertRule{
		ID:              id,
		Name:            "containers must run",
		RuleType:        store.RuleContainerStopped,
		Severity:        store.SeverityWarning,
		Enabled:         true,
		Config:          map[string]any{},
		CooldownMinutes: 15,
	}
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		value, pattern string
		want           bool
	}{
		{"anything", "", true},
		{"web-1", "web", true},
		{"WEB-1", "web", true},
		{"db-1", "web", false},
		{"prod-db", "*-db", true},
		{"db-prod", "*-db", false},
		{"web-frontend", "web*", true},
		{"api-3", "^api-[0-9]+$", true},
		{"api-x", "^api-[0-9]+$", false},
		{"[unclosed", "[unclosed", true},
		{"other", "[unclosed", false},
	}
	for _, tc := range cases {
		if got := matchesPattern(tc.value, tc.pattern); got != tc.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tc.value, tc.pattern, got, tc.want)
		}
	}
}

func TestHostOfflineFiresAndAutoResolves(t *testing.T) {
	st := newFakeStore()
	svc, disp, bus, clk := testService(st)
	st.rules["r1"] = offlineRule("r1")

	now := clk.Now()
	st.hosts = []store.Host{
		{ID: "h1", Hostname: "edge-1", LastSeen: now.Add(-10 * time.Minute)},
		{ID: "h2", Hostname: "edge-2", LastSeen: now.Add(-30 * time.Second)},
	}

	ch, cancel := bus.Subscribe()
	defer cancel()

	created, err := svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d alerts, want 1", len(created))
	}
	alert := created[0]
	if alert.Title != "Host offline: edge-1" {
		t.Errorf("title = %q", alert.Title)
	}
	if alert.Severity != store.SeverityCritical || alert.Status != store.AlertActive {
		t.Errorf("severity/status = %s/%s", alert.Severity, alert.Status)
	}
	if alert.HostID != "h1" || alert.HostName != "edge-1" {
		t.Errorf("host fields = %s/%s", alert.HostID, alert.HostName)
	}
	if len(disp.dispatched) != 1 {
		t.Errorf("dispatched %d notifications, want 1", len(disp.dispatched))
	}

	stored, _ := st.GetAlert(context.Background(), alert.ID)
	if len(stored.NotificationsSent) != 1 || !stored.NotificationsSent[0].Success {
		t.Errorf("NotificationsSent = %+v", stored.NotificationsSent)
	}

	select {
	case e := <-ch:
		if e.Type != events.EventAlertFired {
			t.Errorf("first event = %q, want alert_fired", e.Type)
		}
	default:
		t.Error("no alert_fired event published")
	}

	// Host recovers: the active alert resolves on the next evaluation.
	st.mu.Lock()
	st.hosts[0].LastSeen = clk.Now()
	st.mu.Unlock()

	created, err = svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll after recovery: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("created %d alerts after recovery, want 0", len(created))
	}
	stored, _ = st.GetAlert(context.Background(), alert.ID)
	if stored.Status != store.AlertResolved || stored.ResolvedAt == nil {
		t.Errorf("alert not auto-resolved: %+v", stored)
	}

	select {
	case e := <-ch:
		if e.Type != events.EventAlertResolved {
			t.Errorf("second event = %q, want alert_resolved", e.Type)
		}
	default:
		t.Error("no alert_resolved event published")
	}
}

func TestHostOfflineCooldownBlocksRefire(t *testing.T) {
	st := newFakeStore()
	svc, _, _, clk := testService(st)
	st.rules["r1"] = offlineRule("r1")
	st.hosts = []store.Host{
		{ID: "h1", Hostname: "edge-1", LastSeen: clk.Now().Add(-10 * time.Minute)},
	}

	created, err := svc.EvaluateAll(context.Background())
	if err != nil || len(created) != 1 {
		t.Fatalf("first evaluation: %v, %d alerts", err, len(created))
	}

	// Still offline: the active alert dedupes.
	created, _ = svc.EvaluateAll(context.Background())
	if len(created) != 0 {
		t.Fatalf("second evaluation created %d alerts, want 0", len(created))
	}

	// Resolving manually does not allow a refire inside the cooldown window.
	if _, err := svc.Resolve(context.Background(), st.idOfOnlyAlert(t)); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	clk.Advance(5 * time.Minute)
	created, _ = svc.EvaluateAll(context.Background())
	if len(created) != 0 {
		t.Fatalf("evaluation inside cooldown created %d alerts, want 0", len(created))
	}

	// Past the cooldown it fires again.
	clk.Advance(15 * time.Minute)
	created, _ = svc.EvaluateAll(context.Background())
	if len(created) != 1 {
		t.Fatalf("evaluation past cooldown created %d alerts, want 1", len(created))
	}
}

func (f *fakeStore) idOfOnlyAlert(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.alerts) != 1 {
		t.Fatalf("store has %d alerts, want exactly 1", len(f.alerts))
	}
	for id := range f.alerts {
		return id
	}
	return ""
}

func TestContainerStoppedFiltersAndExcludes(t *testing.T) {
	st := newFakeStore()
	svc, _, _, _ := testService(st)
	rule := stoppedRule("r1")
	rule.Config = map[string]any{"exclude": []any{"tmp-*"}}
	st.rules["r1"] = rule

	st.hosts = []store.Host{{ID: "h1", Hostname: "edge-1", LastSeen: time.Now()}}
	st.containers = []store.Container{
		{ID: "h1:aaa", Name: "web-1", HostID: "h1", Status: report.StatusExited, ComposeProject: "shop"},
		{ID: "h1:bbb", Name: "db-1", HostID: "h1", Status: report.StatusRunning},
		{ID: "h1:ccc", Name: "tmp-job", HostID: "h1", Status: report.StatusExited},
	}

	created, err := svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d alerts, want 1 (web-1 only)", len(created))
	}
	alert := created[0]
	if alert.ContainerName != "web-1" || alert.ContainerID != "h1:aaa" {
		t.Errorf("alert container = %s (%s)", alert.ContainerName, alert.ContainerID)
	}
	if !strings.Contains(alert.Message, "(status: exited)") {
		t.Errorf("message = %q, want status suffix", alert.Message)
	}
	if alert.Context["compose_project"] != "shop" {
		t.Errorf("context = %+v", alert.Context)
	}

	// The container comes back: the alert resolves.
	st.mu.Lock()
	st.containers[0].Status = report.StatusRunning
	st.mu.Unlock()

	if _, err := svc.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if st.activeCount() != 0 {
		t.Errorf("%d active alerts after recovery, want 0", st.activeCount())
	}
}

func TestContainerStoppedProjectFilter(t *testing.T) {
	st := newFakeStore()
	svc, _, _, _ := testService(st)
	rule := stoppedRule("r1")
	rule.ProjectFilter = "shop"
	st.rules["r1"] = rule

	st.hosts = []store.Host{{ID: "h1", Hostname: "edge-1"}}
	st.containers = []store.Container{
		{ID: "h1:aaa", Name: "blog-web", HostID: "h1", Status: report.StatusExited, ComposeProject: "blog"},
		// No compose project: the project filter does not apply.
		{ID: "h1:bbb", Name: "adhoc", HostID: "h1", Status: report.StatusExited},
	}

	created, err := svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(created) != 1 || created[0].ContainerName != "adhoc" {
		t.Fatalf("created = %+v, want only adhoc", created)
	}
}

func TestContainerUnhealthyFires(t *testing.T) {
	st := newFakeStore()
	svc, _, _, _ := testService(st)
	st.rules["r1"] = &store.AlertRule{
		ID:       "r1",
		Name:     "health checks",
		RuleType: store.RuleContainerUnhealthy,
		Severity: store.SeverityWarning,
		Enabled:  true,
	}
	st.hosts = []store.Host{{ID: "h1", Hostname: "edge-1"}}
	st.containers = []store.Container{
		{ID: "h1:aaa", Name: "api", HostID: "h1", Status: report.StatusRunning, Health: report.HealthUnhealthy},
		{ID: "h1:bbb", Name: "web", HostID: "h1", Status: report.StatusRunning, Health: report.HealthHealthy},
	}

	created, err := svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(created) != 1 || created[0].Title != "Container unhealthy: api" {
		t.Fatalf("created = %+v", created)
	}

	st.mu.Lock()
	st.containers[0].Health = report.HealthHealthy
	st.mu.Unlock()

	if _, err := svc.EvaluateAll(context.Background()); err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if st.activeCount() != 0 {
		t.Errorf("%d active alerts after recovery, want 0", st.activeCount())
	}
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	st := newFakeStore()
	svc, _, _, clk := testService(st)
	rule := offlineRule("r1")
	rule.Enabled = false
	st.rules["r1"] = rule
	st.hosts = []store.Host{{ID: "h1", Hostname: "edge-1", LastSeen: clk.Now().Add(-time.Hour)}}

	created, err := svc.EvaluateAll(context.Background())
	if err != nil {
		t.Fatalf("EvaluateAll: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("created %d alerts from a disabled rule", len(created))
	}
}

func TestCreateRuleFillsDefaults(t *testing.T) {
	st := newFakeStore()
	svc, _, _, _ := testService(st)

	rule, err := svc.CreateRule(context.Background(), &store.AlertRule{
		Name:     "defaults",
		RuleType: store.RuleContainerStopped,
		Enabled:  true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.ID == "" {
		t.Error("ID not generated")
	}
	if rule.Severity != store.SeverityWarning {
		t.Errorf("Severity = %q, want warning", rule.Severity)
	}
	if rule.CooldownMinutes != 15 {
		t.Errorf("CooldownMinutes = %d, want 15", rule.CooldownMinutes)
	}
}

func TestUpdateRulePatchesOnlyGivenFields(t *testing.T) {
	st := newFakeStore()
	svc, _, _, _ := testService(st)
	st.rules["r1"] = stoppedRule("r1")

	enabled := false
	cooldown := 30
	updated, err := svc.UpdateRule(context.Background(), "r1", RulePatch{
		Enabled:         &enabled,
		CooldownMinutes: &cooldown,
	})
	if err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if updated.Enabled || updated.CooldownMinutes != 30 {
		t.Errorf("patch not applied: %+v", updated)
	}
	if updated.Name != "containers must run" {
		t.Errorf("untouched field changed: %q", updated.Name)
	}

	missing, err := svc.UpdateRule(context.Background(), "nope", RulePatch{})
	if err != nil || missing != nil {
		t.Errorf("UpdateRule(missing) = %+v, %v", missing, err)
	}
}

func TestChannelTestRecordsOutcome(t *testing.T) {
	st := newFakeStore()
	svc, disp, _, _ := testService(st)
	st.channels["ch1"] = &store.AlertChannel{ID: "ch1", Name: "ops", ChannelType: store.ChannelSlack, Enabled: true}

	disp.testErr = errors.New("webhook returned 404")
	res, err := svc.TestChannel(context.Background(), "ch1")
	if err != nil {
		t.Fatalf("TestChannel: %v", err)
	}
	if res.Success || res.Error != "webhook returned 404" {
		t.Errorf("result = %+v", res)
	}
	ch, _ := st.GetAlertChannel(context.Background(), "ch1")
	if ch.LastError != "webhook returned 404" {
		t.Errorf("LastError = %q", ch.LastError)
	}

	disp.testErr = nil
	res, err = svc.TestChannel(context.Background(), "ch1")
	if err != nil {
		t.Fatalf("TestChannel: %v", err)
	}
	if !res.Success {
		t.Errorf("result = %+v", res)
	}
	ch, _ = st.GetAlertChannel(context.Background(), "ch1")
	if ch.LastError != "" || ch.LastUsedAt == nil {
		t.Errorf("channel after success = %+v", ch)
	}

	missing, err := svc.TestChannel(context.Background(), "nope")
	if err != nil || missing != nil {
		t.Errorf("TestChannel(missing) = %+v, %v", missing, err)
	}
}

func TestAlertLifecycle(t *testing.T) {
	st := newFakeStore()
	svc, _, _, clk := testService(st)
	st.alerts["a1"] = &store.Alert{ID: "a1", RuleID: "r1", Status: store.AlertActive, Severity: store.SeverityWarning, TriggeredAt: clk.Now()}

	ack, err := svc.Acknowledge(context.Background(), "a1", "oncall")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if ack.Status != store.AlertAcknowledged || ack.AcknowledgedBy != "oncall" || ack.AcknowledgedAt == nil {
		t.Errorf("acknowledged alert = %+v", ack)
	}

	resolved, err := svc.Resolve(context.Background(), "a1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.Status != store.AlertResolved || resolved.ResolvedAt == nil {
		t.Errorf("resolved alert = %+v", resolved)
	}

	ok, err := svc.Delete(context.Background(), "a1")
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	ok, err = svc.Delete(context.Background(), "a1")
	if err != nil || ok {
		t.Errorf("Delete(missing) = %v, %v", ok, err)
	}
}

func TestDeleteResolvedOlderThan(t *testing.T) {
	st := newFakeStore()
	svc, _, _, clk := testService(st)
	old := clk.Now().Add(-40 * 24 * time.Hour)
	recent := clk.Now().Add(-1 * 24 * time.Hour)
	st.alerts["old"] = &store.Alert{ID: "old", Status: store.AlertResolved, ResolvedAt: &old}
	st.alerts["recent"] = &store.Alert{ID: "recent", Status: store.AlertResolved, ResolvedAt: &recent}
	st.alerts["active"] = &store.Alert{ID: "active", Status: store.AlertActive}

	n, err := svc.DeleteResolvedOlderThan(context.Background(), 30)
	if err != nil {
		t.Fatalf("DeleteResolvedOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d alerts, want 1", n)
	}
	if a, _ := st.GetAlert(context.Background(), "recent"); a == nil {
		t.Error("recent resolved alert should survive")
	}
	if a, _ := st.GetAlert(context.Background(), "active"); a == nil {
		t.Error("active alert should survive")
	}
}

func TestGetSummary(t *testing.T) {
	st := newFakeStore()
	svc, _, _, _ := testService(st)
	st.alerts["a1"] = &store.Alert{ID: "a1", Status: store.AlertActive, Severity: store.SeverityCritical}
	st.alerts["a2"] = &store.Alert{ID: "a2", Status: store.AlertActive, Severity: store.SeverityWarning}
	st.alerts["a3"] = &store.Alert{ID: "a3", Status: store.AlertResolved, Severity: store.SeverityWarning}

	sum, err := svc.GetSummary(context.Background())
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if sum.TotalActive != 2 {
		t.Errorf("TotalActive = %d, want 2", sum.TotalActive)
	}
	if sum.ActiveBySeverity[store.SeverityCritical] != 1 || sum.ActiveBySeverity[store.SeverityWarning] != 1 {
		t.Errorf("ActiveBySeverity = %+v", sum.ActiveBySeverity)
	}
	if sum.ByStatus[store.AlertResolved] != 1 {
		t.Errorf("ByStatus = %+v", sum.ByStatus)
	}
}
