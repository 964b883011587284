package web

import (
	"net/http"
	"testing"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

func TestHostMetricsDefaultWindow(t *testing.T) {
	env := newTestEnv()
	cpu := 44
	env.metrics.hostMetrics = []store.HostMetric{
		{ID: 1, HostID: "h1", Timestamp: testNow, CPUPercent: &cpu},
	}

	w := env.do(t, http.MethodGet, "/api/v1/metrics/hosts/h1", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if !env.metrics.gotEnd.Equal(testNow) {
		t.Errorf("end = %v, want %v", env.metrics.gotEnd, testNow)
	}
	if !env.metrics.gotStart.Equal(testNow.Add(-time.Hour)) {
		t.Errorf("start = %v, want one hour before now", env.metrics.gotStart)
	}

	var body struct {
		HostID  string `json:"host_id"`
		Period  string `json:"period"`
		Metrics []struct {
			CPUPercent *int `json:"cpu_percent"`
		} `json:"metrics"`
	}
	decodeJSON(t, w, &body)
	if body.HostID != "h1" {
		t.Errorf("host_id = %q", body.HostID)
	}
	if body.Period == "" {
		t.Error("period missing")
	}
	if len(body.Metrics) != 1 || body.Metrics[0].CPUPercent == nil || *body.Metrics[0].CPUPercent != 44 {
		t.Errorf("metrics = %+v", body.Metrics)
	}
}

func TestHostMetricsExplicitWindow(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet,
		"/api/v1/metrics/hosts/h1?start=2025-05-01T00:00:00Z&end=2025-05-02T00:00:00Z", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if env.metrics.gotStart != time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) {
		t.Errorf("start = %v", env.metrics.gotStart)
	}
	if env.metrics.gotEnd != time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC) {
		t.Errorf("end = %v", env.metrics.gotEnd)
	}
}

func TestHostMetricsHoursWindow(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/api/v1/metrics/hosts/h1?hours=24", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !env.metrics.gotStart.Equal(testNow.Add(-24 * time.Hour)) {
		t.Errorf("start = %v, want 24h before now", env.metrics.gotStart)
	}
}

func TestHostMetricsRejectsBadWindow(t *testing.T) {
	env := newTestEnv()

	for _, path := range []string{
		"/api/v1/metrics/hosts/h1?hours=0",
		"/api/v1/metrics/hosts/h1?hours=200",
		"/api/v1/metrics/hosts/h1?start=yesterday",
		"/api/v1/metrics/hosts/h1?end=not-a-time",
	} {
		w := env.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestLatestHostMetric(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/api/v1/metrics/hosts/h1/latest", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when no samples exist", w.Code)
	}

	mem := 61
	env.metrics.latestHost = &store.HostMetric{ID: 9, HostID: "h1", Timestamp: testNow, MemoryPercent: &mem}
	w = env.do(t, http.MethodGet, "/api/v1/metrics/hosts/h1/latest", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		HostID        string `json:"host_id"`
		MemoryPercent *int   `json:"memory_percent"`
	}
	decodeJSON(t, w, &body)
	if body.HostID != "h1" || body.MemoryPercent == nil || *body.MemoryPercent != 61 {
		t.Errorf("body = %+v", body)
	}
}

func TestContainerMetricSeries(t *testing.T) {
	env := newTestEnv()
	cpu := 1234
	env.metrics.containerMetrics = []store.ContainerMetric{
		{ID: 1, ContainerID: "h1:aaa", Timestamp: testNow, CPUPercent: &cpu},
	}

	w := env.do(t, http.MethodGet, "/api/v1/metrics/containers/h1:aaa", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		ContainerID string `json:"container_id"`
		Metrics     []struct {
			CPUPercent *int `json:"cpu_percent"`
		} `json:"metrics"`
	}
	decodeJSON(t, w, &body)
	if body.ContainerID != "h1:aaa" || len(body.Metrics) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if *body.Metrics[0].CPUPercent != 1234 {
		t.Errorf("cpu = %d, want hundredths of a percent", *body.Metrics[0].CPUPercent)
	}
}

func TestLatestContainerMetricNotFound(t *testing.T) {
	env := newTestEnv()

	w := env.do(t, http.MethodGet, "/api/v1/metrics/containers/h1:aaa/latest", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestMetricsCleanup(t *testing.T) {
	env := newTestEnv()
	env.metrics.hostDeleted = 10
	env.metrics.containerDeleted = 25

	w := env.do(t, http.MethodPost, "/api/v1/metrics/cleanup?retention_days=2", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !env.metrics.gotCutoff.Equal(testNow.AddDate(0, 0, -2)) {
		t.Errorf("cutoff = %v", env.metrics.gotCutoff)
	}
	var body struct {
		HostDeleted      int64 `json:"host_metrics_deleted"`
		ContainerDeleted int64 `json:"container_metrics_deleted"`
		RetentionDays    int   `json:"retention_days"`
	}
	decodeJSON(t, w, &body)
	if body.HostDeleted != 10 || body.ContainerDeleted != 25 || body.RetentionDays != 2 {
		t.Errorf("body = %+v", body)
	}
}
