// Package api exposes injection cycles over HTTP. Creating a Cycle runs it on the gantry
// and stores the outcome.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/calvinmclean/needlegantry/controller"
	"github.com/calvinmclean/needlegantry/protocol"

	"github.com/calvinmclean/babyapi"
	"go.uber.org/zap"
)

const (
	CycleStatusFinished = "finished"
	CycleStatusFailed   = "failed"

	shutdownTimeout = 5 * time.Second
)

// Gantry runs injection cycles
type Gantry interface {
	Work(context.Context, protocol.Coordinate) (controller.CycleResult, error)
}

// Cycle is one injection at X, Y. The remaining fields are filled in once it has run.
type Cycle struct {
	babyapi.DefaultResource

	X int `json:"x"`
	Y int `json:"y"`

	Status     string    `json:"status,omitempty"`
	Depth      int       `json:"depth,omitempty"`
	Stages     []string  `json:"stages,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

func (c *Cycle) Bind(r *http.Request) error {
	err := c.DefaultResource.Bind(r)
	if err != nil {
		return err
	}

	if c.X < 0 || c.Y < 0 || c.X > protocol.MaxCoordinate || c.Y > protocol.MaxCoordinate {
		return fmt.Errorf("coordinate (%d,%d) out of range 0-%d", c.X, c.Y, protocol.MaxCoordinate)
	}
	if c.X == 0 && c.Y == 0 {
		return errors.New("coordinate is required")
	}

	return nil
}

// Coordinate is where the cycle injects
func (c *Cycle) Coordinate() protocol.Coordinate {
	return protocol.Coordinate{X: c.X, Y: c.Y}
}

// Server serves the cycles API
type Server struct {
	api    *babyapi.API[*Cycle]
	gantry Gantry
	logger *zap.SugaredLogger
}

func NewServer(gantry Gantry, logger *zap.SugaredLogger) *Server {
	s := &Server{
		api:    babyapi.NewAPI("Cycles", "/cycles", func() *Cycle { return &Cycle{} }),
		gantry: gantry,
		logger: logger,
	}
	s.api.SetOnCreateOrUpdate(s.runCycle)
	return s
}

// Handler returns the HTTP handler for the API
func (s *Server) Handler() http.Handler {
	return s.api.Router()
}

// ListenAndServe serves on addr until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Infow("starting API server", "addr", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("error shutting down API server: %w", err)
	}
	return nil
}

// runCycle runs newly created cycles on the gantry. A failed cycle is still stored with its
// error so it can be looked up later.
func (s *Server) runCycle(_ http.ResponseWriter, r *http.Request, c *Cycle) *babyapi.ErrResponse {
	if r.Method != http.MethodPost {
		return babyapi.ErrInvalidRequest(errors.New("cycles cannot be modified"))
	}

	logger := s.logger.With("id", c.GetID(), "coordinate", c.Coordinate().String())
	logger.Info("running cycle")

	result, err := s.gantry.Work(r.Context(), c.Coordinate())
	c.Depth = result.Depth
	c.Stages = result.Statuses
	c.StartedAt = result.Started
	c.FinishedAt = result.Finished

	switch {
	case errors.Is(err, controller.ErrNotConnected):
		return babyapi.InternalServerError(err)
	case err != nil:
		logger.Errorw("cycle failed", "error", err)
		c.Status = CycleStatusFailed
		c.Error = err.Error()
	default:
		logger.Infow("cycle finished", "depth", result.Depth)
		c.Status = CycleStatusFinished
	}

	return nil
}
