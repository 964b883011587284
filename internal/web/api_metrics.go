package web

import (
	"fmt"
	"net/http"
	"time"
)

// metricWindow resolves the start/end of a series query: explicit RFC 3339
// bounds win, otherwise the last N hours ending now.
func (s *Server) metricWindow(r *http.Request) (start, end time.Time, err error) {
	hours, err := intQuery(r, "hours", 1)
	if err != nil {
		return start, end, err
	}
	if hours < 1 || hours > 168 {
		return start, end, fmt.Errorf("hours must be between 1 and 168")
	}

	end = s.deps.Clock.Now().UTC()
	if v := r.URL.Query().Get("end"); v != "" {
		end, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("invalid end %q", v)
		}
	}
	start = end.Add(-time.Duration(hours) * time.Hour)
	if v := r.URL.Query().Get("start"); v != "" {
		start, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return start, end, fmt.Errorf("invalid start %q", v)
		}
	}
	return start, end, nil
}

func period(start, end time.Time) string {
	return start.Format(time.RFC3339) + " - " + end.Format(time.RFC3339)
}

func (s *Server) handleHostMetrics(w http.ResponseWriter, r *http.Request) {
	hostID := r.PathValue("id")
	start, end, err := s.metricWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, err := s.deps.Metrics.HostMetricRange(r.Context(), hostID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"host_id": hostID,
		"period":  period(start, end),
		"metrics": metrics,
	})
}

func (s *Server) handleLatestHostMetric(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Metrics.LatestHostMetric(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleContainerMetrics(w http.ResponseWriter, r *http.Request) {
	containerID := r.PathValue("id")
	start, end, err := s.metricWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, err := s.deps.Metrics.ContainerMetricRange(r.Context(), containerID, start, end)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"container_id": containerID,
		"period":       period(start, end),
		"metrics":      metrics,
	})
}

func (s *Server) handleLatestContainerMetric(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Metrics.LatestContainerMetric(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "metrics not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMetricsCleanup(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "retention_days", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if days < 1 {
		writeError(w, http.StatusBadRequest, "retention_days must be at least 1")
		return
	}

	cutoff := s.deps.Clock.Now().UTC().AddDate(0, 0, -days)
	hostDeleted, containerDeleted, err := s.deps.Metrics.DeleteMetricsBefore(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Log.Info("metrics cleaned",
		"retention_days", days,
		"host_metrics", hostDeleted,
		"container_metrics", containerDeleted)
	writeJSON(w, http.StatusOK, map[string]any{
		"host_metrics_deleted":      hostDeleted,
		"container_metrics_deleted": containerDeleted,
		"retention_days":            days,
	})
}
