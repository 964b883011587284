package web

import (
	"math"
	"net/http"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	database := "connected"
	if err := s.deps.DB.Ping(r.Context()); err != nil {
		status = "degraded"
		database = "error: " + err.Error()
	}

	total, errs, perSecond, errorRate := s.requestStats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"database":       database,
		"uptime_seconds": round2(s.deps.Clock.Since(s.started).Seconds()),
		"version":        s.deps.Version,
		"requests": map[string]any{
			"total":              total,
			"errors":             errs,
			"per_second":         round2(perSecond),
			"error_rate_percent": round2(errorRate),
		},
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	hosts, _, err := s.deps.Counts.CountHosts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	containers, _, err := s.deps.Counts.CountContainers(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	connections, err := s.deps.Counts.CountConnections(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"hosts":             hosts,
		"containers":        containers,
		"connections":       connections,
		"websocket_clients": s.deps.Hub.ClientCount(),
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
