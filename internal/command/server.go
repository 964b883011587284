// Package command implements the agent's command server: the authenticated
// HTTP surface the mapper server relays container actions through.
package command

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/collect"
	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// Exec output beyond this many chars is cut off.
const maxExecOutput = 50000

// Defaults applied when a request omits the field.
const (
	defaultStopTimeout = 10  // seconds
	defaultExecTimeout = 30  // seconds
	defaultLogLines    = 100 // lines per stream
	defaultLogSince    = 300 // seconds
)

// Server handles container commands relayed by the mapper server.
type Server struct {
	docker  docker.API
	metrics *collect.SysMetrics
	logs    *collect.Logs
	apiKey  string
	log     *logging.Logger

	mux    *http.ServeMux
	server *http.Server
}

// NewServer creates a command server with all routes registered. metrics
// and logs may be nil; the corresponding actions then answer with an error.
func NewServer(apiKey string, d docker.API, m *collect.SysMetrics, l *collect.Logs, log *logging.Logger) *Server {
	s := &Server{
		docker:  d,
		metrics: m,
		logs:    l,
		apiKey:  apiKey,
		log:     log.Component("command"),
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("GET /containers", s.authed(s.handleList))
	s.mux.Handle("POST /containers/start", s.authed(s.handleStart))
	s.mux.Handle("POST /containers/stop", s.authed(s.handleStop))
	s.mux.Handle("POST /containers/restart", s.authed(s.handleRestart))
	s.mux.Handle("POST /containers/exec", s.authed(s.handleExec))
	s.mux.Handle("POST /containers/stats", s.authed(s.handleStats))
	s.mux.Handle("POST /containers/logs", s.authed(s.handleLogs))
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the command server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute, // exec and log fetches can be slow
		IdleTimeout:  120 * time.Second,
	}
	s.log.Info("command server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the command server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authed wraps a handler with bearer-token authentication against the
// agent's API key.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.docker.ListAllContainers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := report.ContainerListResponse{Containers: []report.ContainerSummary{}}
	for _, c := range summaries {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		resp.Containers = append(resp.Containers, report.ContainerSummary{
			ID:     report.ShortContainerID(c.ID),
			Name:   name,
			Status: report.NormalizeStatus(string(c.State)),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAction(w, r)
	if !ok {
		return
	}
	if err := s.docker.StartContainer(r.Context(), req.ContainerID); err != nil {
		s.log.Warn("start failed", "container", req.ContainerID, "error", err)
		writeJSON(w, http.StatusBadRequest, report.ActionResponse{Error: err.Error()})
		return
	}
	s.log.Info("container started", "container", req.ContainerID)
	writeJSON(w, http.StatusOK, report.ActionResponse{Success: true, Message: "container started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAction(w, r)
	if !ok {
		return
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	if err := s.docker.StopContainer(r.Context(), req.ContainerID, timeout); err != nil {
		s.log.Warn("stop failed", "container", req.ContainerID, "error", err)
		writeJSON(w, http.StatusBadRequest, report.ActionResponse{Error: err.Error()})
		return
	}
	s.log.Info("container stopped", "container", req.ContainerID)
	writeJSON(w, http.StatusOK, report.ActionResponse{Success: true, Message: "container stopped"})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAction(w, r)
	if !ok {
		return
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultStopTimeout
	}
	if err := s.docker.RestartContainer(r.Context(), req.ContainerID, timeout); err != nil {
		s.log.Warn("restart failed", "container", req.ContainerID, "error", err)
		writeJSON(w, http.StatusBadRequest, report.ActionResponse{Error: err.Error()})
		return
	}
	s.log.Info("container restarted", "container", req.ContainerID)
	writeJSON(w, http.StatusOK, report.ActionResponse{Success: true, Message: "container restarted"})
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	var req report.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.ContainerID == "" || req.Command == "" {
		writeError(w, http.StatusBadRequest, "container_id and command required")
		return
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}

	cmd := []string{"/bin/sh", "-c", req.Command}
	exitCode, output, err := s.docker.ExecContainer(r.Context(), req.ContainerID, cmd, req.Workdir, timeout)
	if err != nil {
		s.log.Warn("exec failed", "container", req.ContainerID, "error", err)
		writeJSON(w, http.StatusBadRequest, report.ExecResponse{ExitCode: exitCode, Error: err.Error()})
		return
	}
	if len(output) > maxExecOutput {
		output = output[:maxExecOutput] + "\n... (output truncated)"
	}
	writeJSON(w, http.StatusOK, report.ExecResponse{Success: true, ExitCode: exitCode, Output: output})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAction(w, r)
	if !ok {
		return
	}
	if s.metrics == nil {
		writeJSON(w, http.StatusBadRequest, report.StatsResponse{Error: "metrics collection disabled"})
		return
	}
	stats, err := s.metrics.Container(r.Context(), req.ContainerID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, report.StatsResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report.StatsResponse{Success: true, Stats: stats})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readAction(w, r)
	if !ok {
		return
	}
	if s.logs == nil {
		writeJSON(w, http.StatusBadRequest, report.LogsResponse{Error: "log collection disabled"})
		return
	}
	lines := req.Lines
	if lines <= 0 {
		lines = defaultLogLines
	}
	since := req.SinceSeconds
	if since <= 0 {
		since = defaultLogSince
	}

	name := req.ContainerID
	if inspect, err := s.docker.InspectContainer(r.Context(), req.ContainerID); err == nil {
		name = strings.TrimPrefix(inspect.Name, "/")
	}

	entries := s.logs.Container(r.Context(), req.ContainerID, name, lines, time.Duration(since)*time.Second)
	if entries == nil {
		entries = []report.LogEntry{}
	}
	writeJSON(w, http.StatusOK, report.LogsResponse{Success: true, Logs: entries})
}

// readAction decodes the common action body and enforces container_id.
func (s *Server) readAction(w http.ResponseWriter, r *http.Request) (report.ActionRequest, bool) {
	var req report.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return req, false
	}
	if req.ContainerID == "" {
		writeError(w, http.StatusBadRequest, "container_id required")
		return req, false
	}
	return req, true
}

// writeJSON encodes v as JSON and writes it to the response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
