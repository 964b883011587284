package web

import (
	"net/http"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/store"
)

// logEntry is one row of a container log listing.
type logEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"`
	Message   string    `json:"message"`
}

// hostLogEntry adds the owning container to a log row.
type hostLogEntry struct {
	ContainerID string    `json:"container_id"`
	Timestamp   time.Time `json:"timestamp"`
	Stream      string    `json:"stream"`
	Message     string    `json:"message"`
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	containerID := r.PathValue("id")

	limit, err := intQuery(r, "limit", 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := store.LogQuery{
		Limit:  limit,
		Offset: offset,
		Search: r.URL.Query().Get("search"),
		Stream: r.URL.Query().Get("stream"),
	}

	logs, total, err := s.deps.Logs.ContainerLogs(ctx, containerID, q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Name enrichment is best-effort: logs survive their container.
	containerName, hostName := "", ""
	if c, err := s.deps.Containers.GetContainer(ctx, containerID); err == nil && c != nil {
		containerName = c.Name
		if h, err := s.deps.Hosts.GetHost(ctx, c.HostID); err == nil && h != nil {
			hostName = h.Hostname
		}
	}

	entries := make([]logEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, logEntry{Timestamp: l.Timestamp, Stream: l.Stream, Message: l.Message})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"container_id":   containerID,
		"container_name": containerName,
		"host_name":      hostName,
		"logs":           entries,
		"total":          total,
	})
}

func (s *Server) handleHostLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := s.deps.Logs.HostLogs(r.Context(), r.PathValue("id"), limit, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	entries := make([]hostLogEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, hostLogEntry{
			ContainerID: l.ContainerID,
			Timestamp:   l.Timestamp,
			Stream:      l.Stream,
			Message:     l.Message,
		})
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Logs.GetLogStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLogsCleanup(w http.ResponseWriter, r *http.Request) {
	days, err := intQuery(r, "days", 7)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cutoff := s.deps.Clock.Now().UTC().AddDate(0, 0, -days)
	count, err := s.deps.Logs.DeleteLogsBefore(r.Context(), cutoff)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Log.Info("logs cleaned", "days", days, "deleted", count)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleaned", "count": count})
}
