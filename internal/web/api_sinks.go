package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/infra-mapper/infra-mapper/internal/sinks"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// sanitizeSink strips credentials before a sink leaves the API.
func sanitizeSink(sink store.LogSink) store.LogSink {
	sink.Password = ""
	sink.APIKey = ""
	sink.Token = ""
	return sink
}

func (s *Server) handleListSinks(w http.ResponseWriter, r *http.Request) {
	enabledOnly := false
	if v := r.URL.Query().Get("enabled_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid enabled_only value")
			return
		}
		enabledOnly = b
	}

	rows, err := s.deps.Sinks.List(r.Context(), enabledOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]store.LogSink, 0, len(rows))
	for _, sink := range rows {
		out = append(out, sanitizeSink(sink))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSink(w http.ResponseWriter, r *http.Request) {
	sink := store.LogSink{Enabled: true, TLSVerify: true}
	if err := json.NewDecoder(r.Body).Decode(&sink); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sink: "+err.Error())
		return
	}
	if sink.Name == "" || sink.Type == "" || sink.URL == "" {
		writeError(w, http.StatusBadRequest, "sink name, type and url are required")
		return
	}

	created, err := s.deps.Sinks.Create(r.Context(), &sink)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sanitizeSink(*created))
}

func (s *Server) handleGetSink(w http.ResponseWriter, r *http.Request) {
	sink, err := s.deps.Sinks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sink == nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, sanitizeSink(*sink))
}

func (s *Server) handleUpdateSink(w http.ResponseWriter, r *http.Request) {
	var patch sinks.SinkPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sink patch: "+err.Error())
		return
	}

	sink, err := s.deps.Sinks.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sink == nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, sanitizeSink(*sink))
}

func (s *Server) handleDeleteSink(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	found, err := s.deps.Sinks.Delete(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleToggleSink(w http.ResponseWriter, r *http.Request) {
	sink, err := s.deps.Sinks.Toggle(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sink == nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, sanitizeSink(*sink))
}

func (s *Server) handleTestSink(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Sinks.Test(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleResetSinkStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sink, err := s.deps.Sinks.ResetStats(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sink == nil {
		writeError(w, http.StatusNotFound, "sink not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "id": id})
}
