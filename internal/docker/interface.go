package docker

import (
	"context"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/network"
)

// API defines the subset of Docker operations the collectors and the
// agent command server use. Implemented by Client for production, and
// by mocks for testing.
type API interface {
	ListContainers(ctx context.Context) ([]container.Summary, error)
	ListAllContainers(ctx context.Context) ([]container.Summary, error)
	InspectContainer(ctx context.Context, id string) (container.InspectResponse, error)
	ListNetworks(ctx context.Context) ([]network.Summary, error)
	ServerInfo(ctx context.Context) (Info, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout int) error
	RestartContainer(ctx context.Context, id string, timeout int) error
	ExecContainer(ctx context.Context, id string, cmd []string, workdir string, timeout int) (int, string, error)
	ContainerLogs(ctx context.Context, id string, tail int, since time.Time) (string, string, error)
	ContainerStats(ctx context.Context, id string) (container.StatsResponse, error)
	Close() error
}

// Verify Client implements API at compile time.
var _ API = (*Client)(nil)
