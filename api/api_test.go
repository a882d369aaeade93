package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/calvinmclean/needlegantry/controller"
	"github.com/calvinmclean/needlegantry/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeGantry struct {
	coords []protocol.Coordinate
	err    error
}

func (g *fakeGantry) Work(_ context.Context, coord protocol.Coordinate) (controller.CycleResult, error) {
	g.coords = append(g.coords, coord)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	result := controller.CycleResult{
		Coordinate: coord,
		Depth:      42,
		Statuses:   []string{"homing y", "depth 42"},
		Started:    now,
		Finished:   now.Add(time.Minute),
	}
	return result, g.err
}

func newTestServer(t *testing.T, g Gantry) *Client {
	t.Helper()
	srv := httptest.NewServer(NewServer(g, zaptest.NewLogger(t).Sugar()).Handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL)
}

func TestWork(t *testing.T) {
	t.Run("Finished", func(t *testing.T) {
		g := &fakeGantry{}
		client := newTestServer(t, g)

		cycle, err := client.Work(context.Background(), protocol.Coordinate{X: 12, Y: 34})
		require.NoError(t, err)

		assert.NotEmpty(t, cycle.GetID())
		assert.Equal(t, CycleStatusFinished, cycle.Status)
		assert.Equal(t, 42, cycle.Depth)
		assert.Equal(t, []string{"homing y", "depth 42"}, cycle.Stages)
		assert.Equal(t, time.Minute, cycle.FinishedAt.Sub(cycle.StartedAt))
		assert.Equal(t, []protocol.Coordinate{{X: 12, Y: 34}}, g.coords)

		stored, err := client.Get(context.Background(), cycle.GetID())
		require.NoError(t, err)
		assert.Equal(t, cycle.Depth, stored.Depth)
		assert.Equal(t, CycleStatusFinished, stored.Status)
	})

	t.Run("Failed", func(t *testing.T) {
		g := &fakeGantry{err: errors.New("gantry error: surface not detected")}
		client := newTestServer(t, g)

		cycle, err := client.Work(context.Background(), protocol.Coordinate{X: 1, Y: 1})
		require.EqualError(t, err, "gantry error: surface not detected")
		require.NotNil(t, cycle)
		assert.Equal(t, CycleStatusFailed, cycle.Status)

		stored, err := client.Get(context.Background(), cycle.GetID())
		require.NoError(t, err)
		assert.Equal(t, CycleStatusFailed, stored.Status)
	})

	t.Run("NotConnected", func(t *testing.T) {
		client := newTestServer(t, &fakeGantry{err: controller.ErrNotConnected})

		_, err := client.Work(context.Background(), protocol.Coordinate{X: 1, Y: 1})
		assert.Error(t, err)
	})

	t.Run("InvalidCoordinate", func(t *testing.T) {
		g := &fakeGantry{}
		client := newTestServer(t, g)

		_, err := client.Work(context.Background(), protocol.Coordinate{X: 10000, Y: 1})
		assert.Error(t, err)

		_, err = client.Work(context.Background(), protocol.Coordinate{})
		assert.Error(t, err)

		assert.Empty(t, g.coords)
	})
}

func TestPutIsRejected(t *testing.T) {
	g := &fakeGantry{}
	srv := httptest.NewServer(NewServer(g, zap.NewNop().Sugar()).Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/cycles/cvbd6q2u3mb4c7e3bvq0", strings.NewReader(`{"id":"cvbd6q2u3mb4c7e3bvq0","x":1,"y":2}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, g.coords)
}

func TestWorkWithSimulator(t *testing.T) {
	c, err := controller.New(controller.Config{
		SerialPort:   controller.SerialPortSimulator,
		SurfaceDepth: 150,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	defer c.Close()

	client := newTestServer(t, c)

	cycle, err := client.Work(context.Background(), protocol.Coordinate{X: 20, Y: 30})
	require.NoError(t, err)
	assert.Equal(t, 150, cycle.Depth)
	assert.Contains(t, cycle.Stages, "injecting")
}
