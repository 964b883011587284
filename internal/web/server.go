// Package web serves the central REST and websocket API: report ingestion,
// graph and host reads, alerts, log sinks, metrics, agent health and the
// container command relay.
package web

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the central API server.
type Server struct {
	deps   Dependencies
	mux    *http.ServeMux
	server *http.Server

	// Request counters feed the /health envelope.
	started time.Time
	reqMu   sync.Mutex
	reqAll  int64
	reqErrs int64
}

// NewServer creates a Server with all routes registered.
func NewServer(deps Dependencies) *Server {
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		started: deps.Clock.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.Handle("POST /api/v1/report", s.authed(s.handleReport))

	s.mux.HandleFunc("GET /api/v1/graph", s.handleGraph)
	s.mux.HandleFunc("GET /api/v1/hosts", s.handleHostSummaries)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.Handle("GET /ws", s.deps.Hub)

	// Containers and the command relay.
	s.mux.HandleFunc("GET /api/v1/containers", s.handleListContainers)
	s.mux.HandleFunc("GET /api/v1/containers/{id}/logs", s.handleContainerLogs)
	s.mux.HandleFunc("GET /api/v1/containers/{id}/stats", s.handleContainerStats)
	s.mux.HandleFunc("POST /api/v1/containers/{id}/{action}", s.handleContainerAction)

	// Stored logs.
	s.mux.HandleFunc("GET /api/v1/hosts/{id}/logs", s.handleHostLogs)
	s.mux.HandleFunc("GET /api/v1/logs/stats", s.handleLogStats)
	s.mux.HandleFunc("POST /api/v1/logs/cleanup", s.handleLogsCleanup)

	// Metric series.
	s.mux.HandleFunc("GET /api/v1/metrics/hosts/{id}", s.handleHostMetrics)
	s.mux.HandleFunc("GET /api/v1/metrics/hosts/{id}/latest", s.handleLatestHostMetric)
	s.mux.HandleFunc("GET /api/v1/metrics/containers/{id}", s.handleContainerMetrics)
	s.mux.HandleFunc("GET /api/v1/metrics/containers/{id}/latest", s.handleLatestContainerMetric)
	s.mux.HandleFunc("POST /api/v1/metrics/cleanup", s.handleMetricsCleanup)

	// Agent health.
	s.mux.HandleFunc("GET /api/v1/agents/health", s.handleAgentList)
	s.mux.HandleFunc("GET /api/v1/agents/health/summary", s.handleAgentSummary)
	s.mux.HandleFunc("GET /api/v1/agents/health/{id}", s.handleAgentDetail)
	s.mux.HandleFunc("POST /api/v1/agents/health/check", s.handleAgentCheck)
	s.mux.HandleFunc("POST /api/v1/agents/health/{id}/reset", s.handleAgentReset)

	// Alerts, rules and channels.
	s.mux.HandleFunc("GET /api/v1/alerts", s.handleListAlerts)
	s.mux.HandleFunc("GET /api/v1/alerts/count", s.handleAlertCount)
	s.mux.HandleFunc("GET /api/v1/alerts/summary", s.handleAlertSummary)
	s.mux.HandleFunc("POST /api/v1/alerts/evaluate", s.handleAlertEvaluate)
	s.mux.HandleFunc("DELETE /api/v1/alerts/cleanup", s.handleAlertCleanup)
	s.mux.HandleFunc("GET /api/v1/alerts/{id}", s.handleGetAlert)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/acknowledge", s.handleAcknowledgeAlert)
	s.mux.HandleFunc("POST /api/v1/alerts/{id}/resolve", s.handleResolveAlert)
	s.mux.HandleFunc("DELETE /api/v1/alerts/{id}", s.handleDeleteAlert)

	s.mux.HandleFunc("GET /api/v1/alerts/rules", s.handleListRules)
	s.mux.HandleFunc("POST /api/v1/alerts/rules", s.handleCreateRule)
	s.mux.HandleFunc("GET /api/v1/alerts/rules/{id}", s.handleGetRule)
	s.mux.HandleFunc("PUT /api/v1/alerts/rules/{id}", s.handleUpdateRule)
	s.mux.HandleFunc("DELETE /api/v1/alerts/rules/{id}", s.handleDeleteRule)

	s.mux.HandleFunc("GET /api/v1/alerts/channels", s.handleListChannels)
	s.mux.HandleFunc("POST /api/v1/alerts/channels", s.handleCreateChannel)
	s.mux.HandleFunc("GET /api/v1/alerts/channels/{id}", s.handleGetChannel)
	s.mux.HandleFunc("PUT /api/v1/alerts/channels/{id}", s.handleUpdateChannel)
	s.mux.HandleFunc("DELETE /api/v1/alerts/channels/{id}", s.handleDeleteChannel)
	s.mux.HandleFunc("POST /api/v1/alerts/channels/{id}/test", s.handleTestChannel)

	// Log sinks.
	s.mux.HandleFunc("GET /api/v1/log-sinks", s.handleListSinks)
	s.mux.HandleFunc("POST /api/v1/log-sinks", s.handleCreateSink)
	s.mux.HandleFunc("GET /api/v1/log-sinks/{id}", s.handleGetSink)
	s.mux.HandleFunc("PUT /api/v1/log-sinks/{id}", s.handleUpdateSink)
	s.mux.HandleFunc("DELETE /api/v1/log-sinks/{id}", s.handleDeleteSink)
	s.mux.HandleFunc("POST /api/v1/log-sinks/{id}/toggle", s.handleToggleSink)
	s.mux.HandleFunc("POST /api/v1/log-sinks/{id}/test", s.handleTestSink)
	s.mux.HandleFunc("POST /api/v1/log-sinks/{id}/reset-stats", s.handleResetSinkStats)
}

// ServeHTTP lets tests drive the server without a listener. Requests pass
// through the same counting middleware as the real listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.countRequests(s.mux).ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on the given address and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.countRequests(s.mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}
	s.deps.Log.Info("api server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authed wraps a handler with bearer-token authentication against the
// server's API key.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.APIKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		next(w, r)
	})
}

// countRequests tracks request totals and error rates for /health and logs
// each completed request.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.deps.Clock.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		status := rec.status
		if status == 0 {
			// Handlers that never call WriteHeader (including hijacked
			// websocket upgrades) count as success.
			status = http.StatusOK
		}
		s.reqMu.Lock()
		s.reqAll++
		if status >= 400 {
			s.reqErrs++
		}
		s.reqMu.Unlock()

		s.deps.Log.Debug("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", s.deps.Clock.Since(start).Milliseconds())
	})
}

// requestStats returns the counters accumulated since startup.
func (s *Server) requestStats() (total, errs int64, perSecond, errorRate float64) {
	s.reqMu.Lock()
	total, errs = s.reqAll, s.reqErrs
	s.reqMu.Unlock()

	uptime := s.deps.Clock.Since(s.started).Seconds()
	if uptime > 0 {
		perSecond = float64(total) / uptime
	}
	if total > 0 {
		errorRate = float64(errs) / float64(total) * 100
	}
	return total, errs, perSecond, errorRate
}

// statusRecorder captures the response status for the counting middleware.
// It forwards Hijack and Flush so websocket upgrades keep working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
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
