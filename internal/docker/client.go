// Package docker wraps the moby client with the narrow surface the
// collectors and the agent command server need.
package docker

import (
	"context"
	"net/http"
	"strings"

	"github.com/docker/go-connections/sockets"
	"github.com/moby/moby/client"
)

// Client wraps the Docker API client.
type Client struct {
	api *client.Client
}

// NewClient creates a Docker client connected to the given socket path or
// TCP endpoint.
func NewClient(dockerSock string) (*Client, error) {
	var opts []client.Opt

	switch {
	case strings.HasPrefix(dockerSock, "tcp://"), strings.HasPrefix(dockerSock, "unix://"):
		opts = append(opts, client.WithHost(dockerSock))
	default:
		tr := &http.Transport{}
		if err := sockets.ConfigureTransport(tr, "unix", dockerSock); err != nil {
			return nil, err
		}
		opts = append(opts,
			client.WithHost("unix://"+dockerSock),
			client.WithHTTPClient(&http.Client{Transport: tr}),
		)
	}

	api, err := client.New(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{api: api}, nil
}

// Ping checks that the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.Ping(ctx, client.PingOptions{})
	return err
}

// Close releases the Docker client resources.
func (c *Client) Close() error {
	return c.api.Close()
}

// Info is the subset of daemon details the agent reports.
type Info struct {
	ServerVersion   string
	OperatingSystem string
	OSType          string
	KernelVersion   string
	NCPU            int
	MemTotal        int64
	Name            string
}

// ServerInfo returns daemon version and platform details.
func (c *Client) ServerInfo(ctx context.Context) (Info, error) {
	result, err := c.api.Info(ctx, client.InfoOptions{})
	if err != nil {
		return Info{}, err
	}
	in := result.Info
	return Info{
		ServerVersion:   in.ServerVersion,
		OperatingSystem: in.OperatingSystem,
		OSType:          in.OSType,
		KernelVersion:   in.KernelVersion,
		NCPU:            in.NCPU,
		MemTotal:        in.MemTotal,
		Name:            in.Name,
	}, nil
}
