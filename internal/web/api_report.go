package web

import (
	"encoding/json"
	"net/http"

	"github.com/infra-mapper/infra-mapper/internal/report"
)

// maxReportBytes caps the ingest payload. Reports carry log batches, so the
// ceiling is generous.
const maxReportBytes = 32 << 20

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var rep report.AgentReport
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err := dec.Decode(&rep); err != nil {
		writeError(w, http.StatusBadRequest, "invalid report payload: "+err.Error())
		return
	}
	if rep.Host.AgentID == "" {
		writeError(w, http.StatusBadRequest, "report missing agent id")
		return
	}

	stats, err := s.deps.Ingest.ProcessReport(r.Context(), &rep)
	if err != nil {
		s.deps.Log.Error("report ingest failed", "agent_id", rep.Host.AgentID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}
