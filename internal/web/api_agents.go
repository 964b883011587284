package web

import (
	"net/http"

	"github.com/infra-mapper/infra-mapper/internal/health"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

func (s *Server) handleAgentList(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Health.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var agents []health.AgentInfo
	if status := r.URL.Query().Get("status"); status != "" {
		group, ok := summary.ByStatus[store.AgentHealth(status)]
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid status, must be one of: healthy, degraded, unhealthy, unknown")
			return
		}
		agents = group
	} else {
		agents = []health.AgentInfo{}
		for _, group := range summary.ByStatus {
			agents = append(agents, group...)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"total":  len(agents),
		"stats":  summary.Stats,
	})
}

func (s *Server) handleAgentSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Health.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.deps.Health.HostHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "host not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAgentCheck(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Health.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAgentReset(w http.ResponseWriter, r *http.Request) {
	hostID := r.PathValue("id")
	found, err := s.deps.Health.ResetStats(r.Context(), hostID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "host not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "host_id": hostID})
}
