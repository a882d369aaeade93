package ui

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/controller"
	"github.com/calvinmclean/needlegantry/protocol"
)

type gantry interface {
	SendCoordinate(context.Context, protocol.Coordinate) error
	GoToWork(context.Context) (controller.CycleResult, error)
	MoveYHome(context.Context) error
	Reset(context.Context) error
}

var (
	errBusy         = errors.New("a cycle is already running")
	errNoCoordinate = errors.New("send a coordinate first")
)

// controllerWrapper runs panel actions on the gantry and reports each outcome through
// onUpdate. Actions block and are expected to run off the UI goroutine. Only one action
// that moves the gantry runs at a time.
type controllerWrapper struct {
	gantry gantry
	timer  *timer

	mtx   sync.Mutex
	state state
	busy  bool

	onUpdate func(state, string)
}

// claim marks the wrapper busy if no other action is running and allowed accepts the
// current state. The check and the claim happen under one lock.
func (c *controllerWrapper) claim(allowed func(state) bool, notAllowed error) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.busy || !c.state.canStart() {
		return errBusy
	}
	if !allowed(c.state) {
		return notAllowed
	}
	c.busy = true
	return nil
}

func (c *controllerWrapper) release() {
	c.mtx.Lock()
	c.busy = false
	c.mtx.Unlock()
}

func (c *controllerWrapper) current() state {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

func (c *controllerWrapper) setState(s state, msg string) {
	c.mtx.Lock()
	c.state = s
	c.mtx.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(s, msg)
	}
}

func anyState(state) bool { return true }

func (c *controllerWrapper) SendCoordinate(ctx context.Context, coord protocol.Coordinate) error {
	if err := c.claim(anyState, nil); err != nil {
		return err
	}
	defer c.release()

	err := c.gantry.SendCoordinate(ctx, coord)
	if err != nil {
		c.setState(stateFailed, err.Error())
		return err
	}
	c.setState(stateCoordinateSent, "coordinate "+coord.String())
	return nil
}

func (c *controllerWrapper) Start(ctx context.Context) (controller.CycleResult, error) {
	err := c.claim(func(s state) bool { return s == stateCoordinateSent }, errNoCoordinate)
	if err != nil {
		return controller.CycleResult{}, err
	}
	defer c.release()

	c.setState(stateWorking, "starting cycle")
	c.timer.Start()
	result, err := c.gantry.GoToWork(ctx)
	c.timer.Stop()

	if err != nil {
		c.setState(stateFailed, err.Error())
		return result, err
	}
	c.setState(stateDone, fmt.Sprintf("finished at %s, depth %d steps", result.Coordinate, result.Depth))
	return result, nil
}

func (c *controllerWrapper) Home(ctx context.Context) error {
	if err := c.claim(anyState, nil); err != nil {
		return err
	}
	defer c.release()

	err := c.gantry.MoveYHome(ctx)
	if err != nil {
		c.setState(stateFailed, err.Error())
		return err
	}
	c.setState(c.current(), stageLabel(needlegantry.StatusHomed))
	return nil
}

// Reset is never refused so the operator can always stop the gantry
func (c *controllerWrapper) Reset(ctx context.Context) error {
	err := c.gantry.Reset(ctx)
	if err != nil {
		c.setState(stateFailed, err.Error())
		return err
	}
	c.setState(stateIdle, "reset")
	return nil
}
