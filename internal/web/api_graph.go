package web

import (
	"net/http"
	"strconv"

	"github.com/infra-mapper/infra-mapper/internal/graph"
)

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := graph.Filter{
		HostPattern:    q.Get("host_filter"),
		ProjectPattern: q.Get("project_filter"),
		OrganizationID: q.Get("organization_id"),
		TeamID:         q.Get("team_id"),
	}
	if v := q.Get("include_offline"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid include_offline value")
			return
		}
		f.IncludeOffline = include
	}

	data, err := s.deps.Graph.Build(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleHostSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	summaries, err := s.deps.Graph.HostSummaries(r.Context(), q.Get("organization_id"), q.Get("team_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}
