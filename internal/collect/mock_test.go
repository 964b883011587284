package collect

import (
	"context"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"

	"github.com/infra-mapper/infra-mapper/internal/docker"
)

// mockDocker implements the slices of docker.API the collectors use.
// Unstubbed methods panic through the embedded interface.
type mockDocker struct {
	docker.API

	summaries []container.Summary
	listErr   error

	inspects   map[string]container.InspectResponse
	inspectErr map[string]error

	networks    []network.Summary
	networksErr error

	info    docker.Info
	infoErr error

	stats    map[string]container.StatsResponse
	statsErr map[string]error

	logsStdout string
	logsStderr string
	logsErr    error
	logsCalls  []string
	logsTail   int
	logsSince  time.Time
}

func (m *mockDocker) ListAllContainers(ctx context.Context) ([]container.Summary, error) {
	return m.summaries, m.listErr
}

func (m *mockDocker) InspectContainer(ctx context.Context, id string) (container.InspectResponse, error) {
	if err, ok := m.inspectErr[id]; ok {
		return container.InspectResponse{}, err
	}
	return m.inspects[id], nil
}

func (m *mockDocker) ListNetworks(ctx context.Context) ([]network.Summary, error) {
	return m.networks, m.networksErr
}

func (m *mockDocker) ServerInfo(ctx context.Context) (docker.Info, error) {
	return m.info, m.infoErr
}

func (m *mockDocker) ContainerStats(ctx context.Context, id string) (container.StatsResponse, error) {
	if err, ok := m.statsErr[id]; ok {
		return container.StatsResponse{}, err
	}
	return m.stats[id], nil
}

func (m *mockDocker) ContainerLogs(ctx context.Context, id string, tail int, since time.Time) (string, string, error) {
	m.logsCalls = append(m.logsCalls, id)
	m.logsTail = tail
	m.logsSince = since
	return m.logsStdout, m.logsStderr, m.logsErr
}

// mockClock implements clock.Clock with a settable current time.
type mockClock struct {
	now time.Time
}

func (c *mockClock) Now() time.Time { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }

// fakePacing records persisted capture window times.
type fakePacing struct {
	last    time.Time
	lastErr error
	saves   []time.Time
	saveErr error
}

func (f *fakePacing) LastCapture() (time.Time, error) { return f.last, f.lastErr }
func (f *fakePacing) SetLastCapture(t time.Time) error {
	f.saves = append(f.saves, t)
	return f.saveErr
}
