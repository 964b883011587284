package collect

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/infra-mapper/infra-mapper/internal/clock"
	"github.com/infra-mapper/infra-mapper/internal/docker"
	"github.com/infra-mapper/infra-mapper/internal/logging"
	"github.com/infra-mapper/infra-mapper/internal/metrics"
	"github.com/infra-mapper/infra-mapper/internal/report"
)

// PacingStore persists the intermittent-mode window clock across agent
// restarts. Implemented by agent.State.
type PacingStore interface {
	LastCapture() (time.Time, error)
	SetLastCapture(t time.Time) error
}

// CaptureMode selects how often tcpdump windows run.
type CaptureMode string

const (
	// CaptureIntermittent opens a short capture window every interval.
	CaptureIntermittent CaptureMode = "intermittent"
	// CaptureActive captures on every collection cycle.
	CaptureActive CaptureMode = "active"
)

// CaptureConfig tunes the tcpdump collector.
type CaptureConfig struct {
	Mode       CaptureMode
	Duration   int // seconds per capture window
	Interval   int // seconds between windows in intermittent mode
	MaxPackets int // packet cap per container per window
}

// tcpdump prints "src.port > dst.port:" pairs with -nn -q.
var capturePattern = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)\.(\d+)\s*>\s*(\d+\.\d+\.\d+\.\d+)\.(\d+):`)

// Capture observes live traffic by running tcpdump inside each running
// container's network namespace via nsenter. Unlike the /proc/net scan it
// sees short-lived flows, at the price of needing both tools on the host
// and CAP_NET_ADMIN.
type Capture struct {
	docker docker.API
	cfg    CaptureConfig
	state  PacingStore
	log    *logging.Logger
	clock  clock.Clock

	available bool
	run       func(ctx context.Context, name string, args ...string) ([]byte, error)

	mu      sync.Mutex
	lastRun time.Time
	cached  []report.Connection
}

// NewCapture creates a Capture collector. Availability of nsenter and
// tcpdump is probed once at construction. state may be nil, in which case
// intermittent pacing restarts from zero on every agent restart.
func NewCapture(d docker.API, cfg CaptureConfig, state PacingStore, log *logging.Logger, clk clock.Clock) *Capture {
	c := &Capture{
		docker: d,
		cfg:    cfg,
		state:  state,
		log:    log.Component("capture"),
		clock:  clk,
		run:    runCommand,
	}
	c.available = c.probeTools()
	if !c.available {
		c.log.Warn("tcpdump or nsenter not found, capture disabled")
	}
	if state != nil {
		if last, err := state.LastCapture(); err == nil && !last.IsZero() {
			c.lastRun = last
		}
	}
	return c
}

// Available reports whether the host has the tools needed for captures.
func (c *Capture) Available() bool {
	return c.available
}

func (c *Capture) probeTools() bool {
	for _, tool := range []string{"tcpdump", "nsenter"} {
		if _, err := exec.LookPath(tool); err != nil {
			return false
		}
	}
	return true
}

// captureTarget is one running container to capture.
type captureTarget struct {
	containerID string
	name        string
	pid         int
}

// Collect runs a capture window over all running containers and returns the
// observed flows tagged with SourceTcpdump. In intermittent mode, calls
// between windows return the previous window's result.
func (c *Capture) Collect(ctx context.Context, containers []report.ContainerInfo) []report.Connection {
	if !c.available || len(containers) == 0 {
		return nil
	}

	c.mu.Lock()
	if !c.shouldCapture() {
		cached := c.cached
		c.mu.Unlock()
		return cached
	}
	c.lastRun = c.clock.Now()
	c.mu.Unlock()

	if c.state != nil {
		if err := c.state.SetLastCapture(c.lastRun); err != nil {
			c.log.Warn("failed to persist capture window time", "error", err)
		}
	}
	metrics.CapturesTotal.Inc()

	targets := c.prepareTargets(ctx, containers)
	if len(targets) == 0 {
		return nil
	}

	c.log.Info("starting capture window",
		"mode", string(c.cfg.Mode), "containers", len(targets), "duration", c.cfg.Duration)

	results := make([][]report.Connection, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t captureTarget) {
			defer wg.Done()
			results[i] = c.captureContainer(ctx, t)
		}(i, t)
	}
	wg.Wait()

	var all []report.Connection
	for _, r := range results {
		all = append(all, r...)
	}

	c.log.Info("capture window complete", "connections", len(all), "containers", len(targets))

	c.mu.Lock()
	c.cached = all
	c.mu.Unlock()
	return all
}

// shouldCapture gates intermittent mode. Callers hold c.mu.
func (c *Capture) shouldCapture() bool {
	if c.cfg.Mode == CaptureActive {
		return true
	}
	return c.clock.Since(c.lastRun) >= time.Duration(c.cfg.Interval)*time.Second
}

// prepareTargets resolves the main process PID of each running container.
func (c *Capture) prepareTargets(ctx context.Context, containers []report.ContainerInfo) []captureTarget {
	var targets []captureTarget
	for _, ci := range containers {
		if ci.Status != report.StatusRunning {
			continue
		}
		inspect, err := c.docker.InspectContainer(ctx, ci.ID)
		if err != nil || inspect.State == nil || inspect.State.Pid <= 0 {
			continue
		}
		targets = append(targets, captureTarget{
			containerID: ci.ID,
			name:        ci.Name,
			pid:         inspect.State.Pid,
		})
	}
	return targets
}

func (c *Capture) captureContainer(ctx context.Context, t captureTarget) []report.Connection {
	args := []string{
		"-t", strconv.Itoa(t.pid),
		"-n",
		"tcpdump",
		"-i", "any",
		"-nn",
		"-q",
		"-l",
		"-c", strconv.Itoa(c.cfg.MaxPackets),
		"tcp or udp",
	}

	window := time.Duration(c.cfg.Duration+5) * time.Second
	captureCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()

	out, err := c.run(captureCtx, "nsenter", args...)
	if err != nil {
		c.log.Debug("capture failed", "container", t.name, "error", err)
		return nil
	}

	seen := make(map[report.Connection]bool)
	var conns []report.Connection
	for _, line := range strings.Split(string(out), "\n") {
		conn, ok := parseCaptureLine(line, t.containerID)
		if !ok || seen[conn] {
			continue
		}
		seen[conn] = true
		conns = append(conns, conn)
	}

	if len(conns) > 0 {
		c.log.Debug("captured connections", "container", t.name, "count", len(conns))
	}
	return conns
}

// parseCaptureLine extracts one flow from a tcpdump output line.
func parseCaptureLine(line, containerID string) (report.Connection, bool) {
	if line == "" || !strings.Contains(line, ">") {
		return report.Connection{}, false
	}
	if !strings.Contains(line, " IP ") && !strings.Contains(line, " IP6 ") {
		return report.Connection{}, false
	}

	protocol := "tcp"
	if strings.Contains(line, "UDP") || strings.Contains(line, "udp") {
		protocol = "udp"
	}

	m := capturePattern.FindStringSubmatch(line)
	if m == nil {
		return report.Connection{}, false
	}
	srcPort, err1 := strconv.Atoi(m[2])
	dstPort, err2 := strconv.Atoi(m[4])
	if err1 != nil || err2 != nil {
		return report.Connection{}, false
	}

	if hasLoopbackPrefix(m[1]) && hasLoopbackPrefix(m[3]) {
		return report.Connection{}, false
	}

	return report.Connection{
		Protocol:     protocol,
		LocalIP:      m[1],
		LocalPort:    srcPort,
		RemoteIP:     m[3],
		RemotePort:   dstPort,
		State:        "ESTABLISHED",
		ContainerID:  containerID,
		SourceMethod: report.SourceTcpdump,
	}, true
}

// runCommand executes a process and returns its stdout. Output gathered
// before a context deadline kill still counts as a successful partial
// capture.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	err := cmd.Run()
	if ctx.Err() != nil {
		return out.Bytes(), nil
	}
	if err != nil {
		return out.Bytes(), err
	}
	return out.Bytes(), nil
}
