package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/infra-mapper/infra-mapper/internal/relay"
	"github.com/infra-mapper/infra-mapper/internal/report"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// containerRow is one entry of the container listing.
type containerRow struct {
	ID          string                 `json:"id"`
	ContainerID string                 `json:"container_id"`
	HostID      string                 `json:"host_id"`
	HostName    string                 `json:"host_name"`
	Name        string                 `json:"name"`
	Image       string                 `json:"image"`
	Status      report.ContainerStatus `json:"status"`
	Health      report.HealthStatus    `json:"health"`
}

func (s *Server) handleListContainers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		containers []store.Container
		err        error
	)
	if hostID := r.URL.Query().Get("host_id"); hostID != "" {
		containers, err = s.deps.Containers.ListContainersByHost(ctx, hostID)
	} else {
		containers, err = s.deps.Containers.ListContainers(ctx)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hosts, err := s.deps.Hosts.ListHosts(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	names := make(map[string]string, len(hosts))
	for _, h := range hosts {
		names[h.ID] = h.Hostname
	}

	rows := make([]containerRow, 0, len(containers))
	for _, c := range containers {
		rows = append(rows, containerRow{
			ID:          c.ID,
			ContainerID: c.ContainerID,
			HostID:      c.HostID,
			HostName:    names[c.HostID],
			Name:        c.Name,
			Image:       c.Image,
			Status:      c.Status,
			Health:      c.Health,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	writeJSON(w, http.StatusOK, rows)
}

// relayActions are the commands that may be forwarded to an agent.
var relayActions = map[string]bool{
	"start":   true,
	"stop":    true,
	"restart": true,
	"exec":    true,
	"logs":    true,
}

func (s *Server) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	action := r.PathValue("action")
	if !relayActions[action] {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action))
		return
	}

	body, err := actionBody(r, action)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.relayCommand(w, r, r.PathValue("id"), action, body)
}

func (s *Server) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	s.relayCommand(w, r, r.PathValue("id"), "stats", map[string]any{})
}

// actionBody builds the payload forwarded to the agent for one action.
func actionBody(r *http.Request, action string) (map[string]any, error) {
	switch action {
	case "start":
		return map[string]any{}, nil

	case "stop", "restart":
		timeout, err := intQuery(r, "timeout", 10)
		if err != nil {
			return nil, err
		}
		return map[string]any{"timeout": timeout}, nil

	case "exec":
		var req struct {
			Command string `json:"command"`
			Timeout int    `json:"timeout"`
			Workdir string `json:"workdir"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid exec request: %w", err)
		}
		if strings.TrimSpace(req.Command) == "" {
			return nil, errors.New("exec command is required")
		}
		if req.Timeout <= 0 {
			req.Timeout = 30
		}
		body := map[string]any{"command": req.Command, "timeout": req.Timeout}
		if req.Workdir != "" {
			body["workdir"] = req.Workdir
		}
		return body, nil

	case "logs":
		lines, err := intQuery(r, "lines", 100)
		if err != nil {
			return nil, err
		}
		since, err := intQuery(r, "since_seconds", 300)
		if err != nil {
			return nil, err
		}
		return map[string]any{"lines": lines, "since_seconds": since}, nil
	}
	return nil, fmt.Errorf("unknown action %q", action)
}

// relayCommand forwards the action and writes the agent's JSON reply through
// unchanged.
func (s *Server) relayCommand(w http.ResponseWriter, r *http.Request, containerID, action string, body map[string]any) {
	raw, err := s.deps.Relay.Do(r.Context(), containerID, action, body)
	if err != nil {
		var rerr *relay.Error
		if errors.As(err, &rerr) {
			writeError(w, rerr.Status, rerr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// intQuery parses an optional non-negative integer query parameter.
func intQuery(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}
