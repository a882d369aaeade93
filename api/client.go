package api

import (
	"context"
	"errors"

	"github.com/calvinmclean/needlegantry/protocol"

	"github.com/calvinmclean/babyapi"
)

// Client runs cycles on a remote gantry
type Client struct {
	client *babyapi.Client[*Cycle]
}

func NewClient(addr string) *Client {
	return &Client{client: babyapi.NewClient[*Cycle](addr, "/cycles")}
}

// Work runs a cycle at coord and returns it once finished. A cycle that ran but failed is
// returned together with its error.
func (c *Client) Work(ctx context.Context, coord protocol.Coordinate) (*Cycle, error) {
	resp, err := c.client.Post(ctx, &Cycle{X: coord.X, Y: coord.Y})
	if err != nil {
		return nil, err
	}

	cycle := resp.Data
	if cycle.Status == CycleStatusFailed {
		return cycle, errors.New(cycle.Error)
	}
	return cycle, nil
}

// Get looks up a cycle that already ran
func (c *Client) Get(ctx context.Context, id string) (*Cycle, error) {
	resp, err := c.client.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
