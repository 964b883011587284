// Package relay forwards container control requests from the API to the
// agent command server running on the container's host.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/store"
)

// agentTimeout bounds one forwarded request end to end. Exec is the slow
// case; everything else answers in well under a second.
const agentTimeout = 60 * time.Second

// maxAgentResponse caps how much of an agent reply is read. Exec output is
// already truncated agent-side, so this only guards against a broken peer.
const maxAgentResponse = 4 << 20

// Store is the lookup surface the relay needs.
type Store interface {
	GetContainer(ctx context.Context, id string) (*store.Container, error)
	GetHost(ctx context.Context, id string) (*store.Host, error)
}

// Error is a relay failure with the HTTP status the API should answer with.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

// Relay resolves a container to its agent and proxies one command.
type Relay struct {
	store  Store
	apiKey string
	client *http.Client
	log    *logging.Logger
}

// New creates a relay authenticating to agents with the server API key.
func New(st Store, apiKey string, log *logging.Logger) *Relay {
	return &Relay{
		store:  st,
		apiKey: apiKey,
		client: &http.Client{Timeout: agentTimeout},
		log:    log.Component("relay"),
	}
}

type target struct {
	baseURL  string
	dockerID string
	hostname string
}

// Do forwards one action for the container with the given surrogate id and
// returns the agent's JSON reply verbatim. body holds the action parameters;
// the relay fills in container_id with the short Docker id itself. Resolution
// and transport failures come back as *Error carrying the API status.
func (r *Relay) Do(ctx context.Context, containerID, action string, body map[string]any) (json.RawMessage, error) {
	tgt, err := r.resolve(ctx, containerID)
	if err != nil {
		return nil, err
	}

	if body == nil {
		body = map[string]any{}
	}
	body["container_id"] = tgt.dockerID

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode agent request: %w", err)
	}

	url := tgt.baseURL + "/containers/" + action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &Error{Status: http.StatusGatewayTimeout, Message: "agent request timed out"}
		}
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("cannot reach agent: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAgentResponse))
	if err != nil {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("read agent response: %v", err)}
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("agent on %s returned non-JSON response", tgt.hostname)
	}

	r.log.Info("command relayed",
		"container", tgt.dockerID, "host", tgt.hostname, "action", action, "status", resp.StatusCode)
	return raw, nil
}

// resolve maps a container surrogate id to its agent's command server URL
// and the short Docker id the agent addresses containers by.
func (r *Relay) resolve(ctx context.Context, containerID string) (*target, error) {
	c, err := r.store.GetContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("load container: %w", err)
	}
	if c == nil {
		return nil, &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("container %s not found", containerID)}
	}

	h, err := r.store.GetHost(ctx, c.HostID)
	if err != nil {
		return nil, fmt.Errorf("load host: %w", err)
	}
	if h == nil {
		return nil, &Error{Status: http.StatusNotFound, Message: fmt.Sprintf("host for container %s not found", containerID)}
	}
	if !h.IsOnline {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("host %s is offline", h.Hostname)}
	}
	if h.CommandPort == 0 {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("agent on %s does not have command server enabled", h.Hostname)}
	}

	ip := h.TailscaleIP
	if ip == "" && len(h.IPAddresses) > 0 {
		ip = h.IPAddresses[0]
	}
	if ip == "" {
		return nil, &Error{Status: http.StatusServiceUnavailable, Message: fmt.Sprintf("no IP address available for host %s", h.Hostname)}
	}

	return &target{
		baseURL:  fmt.Sprintf("http://%s", net.JoinHostPort(ip, fmt.Sprint(h.CommandPort))),
		dockerID: c.ContainerID,
		hostname: h.Hostname,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
