package docker

import (
	"context"

	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"
)

// ListNetworks returns all Docker networks on the host.
func (c *Client) ListNetworks(ctx context.Context) ([]network.Summary, error) {
	result, err := c.api.NetworkList(ctx, client.NetworkListOptions{})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}
