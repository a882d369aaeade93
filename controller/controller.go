package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
	"github.com/calvinmclean/needlegantry/simulator"

	"github.com/benbjohnson/clock"
	"go.bug.st/serial"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const eventBufferSize = 64

var (
	ErrNotConnected = errors.New("gantry not connected")
	// ErrDevice wraps error statuses reported by the gantry
	ErrDevice = errors.New("gantry error")
	ErrClosed = errors.New("connection closed")
)

// CycleResult describes one completed injection cycle
type CycleResult struct {
	Coordinate protocol.Coordinate
	// Depth is the probed surface depth in Z steps
	Depth    int
	Statuses []string
	Started  time.Time
	Finished time.Time
}

// Controller talks to the gantry over its serial link. Only one command runs at a time.
type Controller struct {
	rw      io.ReadWriteCloser
	closers []io.Closer

	clock        clock.Clock
	timeout      time.Duration
	legacyLayout protocol.LegacyLayout
	logger       *zap.SugaredLogger

	cmdMx    sync.Mutex
	events   chan protocol.Frame
	activity chan struct{}
	done     chan struct{}
	readErr  error

	mx             sync.Mutex
	position       [3]int
	lastCoordinate protocol.Coordinate
	listeners      []func(protocol.Frame)
	correction     func(protocol.Coordinate) protocol.Coordinate
}

// NewFromEnv creates a Controller from the environment
func NewFromEnv(logger *zap.SugaredLogger) (*Controller, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(cfg, logger)
}

// New opens the link selected by cfg.SerialPort
func New(cfg Config, logger *zap.SugaredLogger) (*Controller, error) {
	if cfg.ResponseTimeout == 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}

	switch cfg.SerialPort {
	case SerialPortNone:
		return NewWithConn(nil, clock.New(), cfg.ResponseTimeout, logger), nil
	case SerialPortSimulator:
		sim, conn, err := simulator.New(simulator.Config{SurfaceDepth: cfg.SurfaceDepth}, logger.Named("simulator"))
		if err != nil {
			return nil, fmt.Errorf("error creating simulator: %w", err)
		}
		go func() {
			err := sim.Run(context.Background())
			if err != nil {
				logger.Errorw("simulator stopped", "error", err)
			}
		}()

		c := NewWithConn(conn, clock.New(), cfg.ResponseTimeout, logger)
		c.closers = append(c.closers, sim)
		return c, nil
	}

	baud, err := cfg.baudRate()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.SerialPort, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("error opening serial port %q: %w", cfg.SerialPort, err)
	}

	err = port.ResetInputBuffer()
	if err != nil {
		return nil, multierr.Combine(fmt.Errorf("error resetting input buffer: %w", err), port.Close())
	}

	logger.Infow("opened serial port", "port", cfg.SerialPort, "baud_rate", baud)

	return NewWithConn(port, clock.New(), cfg.ResponseTimeout, logger), nil
}

// NewWithConn uses an already open link. A nil rw creates a disconnected Controller.
func NewWithConn(rw io.ReadWriteCloser, clk clock.Clock, timeout time.Duration, logger *zap.SugaredLogger) *Controller {
	c := &Controller{
		rw:           rw,
		clock:        clk,
		timeout:      timeout,
		legacyLayout: protocol.LegacyLayout8,
		logger:       logger,
		events:       make(chan protocol.Frame, eventBufferSize),
		activity:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	if rw != nil {
		go c.readLoop()
	}

	return c
}

// Close closes the link and anything started with it
func (c *Controller) Close() error {
	var err error
	if c.rw != nil {
		err = multierr.Append(err, c.rw.Close())
	}
	for _, closer := range c.closers {
		err = multierr.Append(err, closer.Close())
	}
	return err
}

// Subscribe registers f to be called with every frame received, including position
// updates. f is called from the read loop and must not block.
func (c *Controller) Subscribe(f func(protocol.Frame)) {
	c.mx.Lock()
	c.listeners = append(c.listeners, f)
	c.mx.Unlock()
}

// SetCorrection sets the function that answers the gantry's error check. It receives the
// last coordinate sent and returns the measured one. Without it the last coordinate is
// confirmed unchanged.
func (c *Controller) SetCorrection(f func(protocol.Coordinate) protocol.Coordinate) {
	c.mx.Lock()
	c.correction = f
	c.mx.Unlock()
}

// Position returns the step counters for each axis, accumulated from position updates
// since the last reset
func (c *Controller) Position() [3]int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.position
}

// Echo sends text to the gantry and returns what it echoed back
func (c *Controller) Echo(ctx context.Context, text string) (string, error) {
	if strings.ContainsRune(text, needlegantry.TerminationChar) {
		return "", errors.New("echo text cannot contain a newline")
	}

	request := append([]byte{needlegantry.RequestEcho}, text...)
	request = append(request, needlegantry.TerminationChar)

	var reply string
	err := c.roundTrip(ctx, request, func(f protocol.Frame) (bool, error) {
		if f.Opcode != needlegantry.ResponseStatus {
			return false, nil
		}
		reply = f.Text
		return true, nil
	})
	return reply, err
}

// SendCoordinate sends the insertion location and waits for the acknowledgment
func (c *Controller) SendCoordinate(ctx context.Context, coord protocol.Coordinate) error {
	payload, err := protocol.EncodeCoordinate(coord)
	if err != nil {
		return err
	}

	request := append([]byte{needlegantry.RequestWaitCoordinate}, payload...)
	err = c.roundTrip(ctx, request, func(f protocol.Frame) (bool, error) {
		if f.Opcode != needlegantry.ResponseCoordinateAck {
			return false, nil
		}
		if f.Coordinate != coord {
			return false, fmt.Errorf("%w: acknowledged %s instead of %s", ErrDevice, f.Coordinate, coord)
		}
		return true, nil
	})
	if err != nil {
		return err
	}

	c.mx.Lock()
	c.lastCoordinate = coord
	c.mx.Unlock()

	c.logger.Infow("sent coordinate", "coordinate", coord.String())
	return nil
}

// GoToWork runs an injection cycle at the last coordinate sent and waits for it to finish
func (c *Controller) GoToWork(ctx context.Context) (CycleResult, error) {
	c.mx.Lock()
	result := CycleResult{Coordinate: c.lastCoordinate, Started: c.clock.Now()}
	c.mx.Unlock()

	c.logger.Infow("starting cycle", "coordinate", result.Coordinate.String())

	err := c.roundTrip(ctx, []byte{needlegantry.RequestGoToWork}, func(f protocol.Frame) (bool, error) {
		switch f.Opcode {
		case needlegantry.ResponseStatus:
			result.Statuses = append(result.Statuses, f.Text)
			if depth, ok := strings.CutPrefix(f.Text, needlegantry.StatusDepthPrefix); ok {
				d, err := strconv.Atoi(depth)
				if err != nil {
					return false, fmt.Errorf("invalid depth status %q: %w", f.Text, err)
				}
				result.Depth = d
			}
		case needlegantry.ResponseWaitCoordinate:
			return false, c.sendCorrection()
		case needlegantry.ResponseFinish:
			return true, nil
		}
		return false, nil
	})
	result.Finished = c.clock.Now()
	if err != nil {
		return result, err
	}

	c.logger.Infow("finished cycle", "coordinate", result.Coordinate.String(), "depth", result.Depth, "duration", result.Finished.Sub(result.Started))
	return result, nil
}

// Work sends coord and runs a cycle there
func (c *Controller) Work(ctx context.Context, coord protocol.Coordinate) (CycleResult, error) {
	err := c.SendCoordinate(ctx, coord)
	if err != nil {
		return CycleResult{Coordinate: coord}, err
	}
	return c.GoToWork(ctx)
}

// MoveYHome drives Y to its home reference
func (c *Controller) MoveYHome(ctx context.Context) error {
	return c.roundTrip(ctx, []byte{needlegantry.RequestMoveYHome}, waitForStatus(needlegantry.StatusHomed))
}

// MoveStepper moves one axis by mm millimetres
func (c *Controller) MoveStepper(ctx context.Context, axis needlegantry.Axis, dir needlegantry.Direction, mm int) error {
	if mm < 0 || mm > protocol.MaxCoordinate {
		return fmt.Errorf("distance %d out of range", mm)
	}

	request := fmt.Appendf(nil, "%c%c%c%04d", needlegantry.RequestMoveStepper, axis.Char(), dir.Char(), mm)
	return c.roundTrip(ctx, request, waitForStatus(needlegantry.StatusMoved))
}

// Reset asks the gantry to reinitialize and clears the position counters
func (c *Controller) Reset(ctx context.Context) error {
	err := c.roundTrip(ctx, []byte{needlegantry.RequestReset}, func(f protocol.Frame) (bool, error) {
		return f.Opcode == needlegantry.ResponseInitialized, nil
	})
	if err != nil {
		return err
	}

	c.mx.Lock()
	c.position = [3]int{}
	c.lastCoordinate = protocol.Coordinate{}
	c.mx.Unlock()

	return nil
}

// SendLegacyCorrection answers an error check with coord in the legacy framing
func (c *Controller) SendLegacyCorrection(coord protocol.Coordinate) error {
	if c.rw == nil {
		return ErrNotConnected
	}
	packet, err := protocol.EncodeLegacy(coord, c.legacyLayout)
	if err != nil {
		return err
	}
	_, err = c.rw.Write(packet)
	return err
}

func (c *Controller) sendCorrection() error {
	c.mx.Lock()
	coord := c.lastCoordinate
	if c.correction != nil {
		coord = c.correction(coord)
	}
	c.mx.Unlock()

	c.logger.Infow("answering error check", "coordinate", coord.String())
	return c.SendLegacyCorrection(coord)
}

func waitForStatus(text string) func(protocol.Frame) (bool, error) {
	return func(f protocol.Frame) (bool, error) {
		return f.Opcode == needlegantry.ResponseStatus && f.Text == text, nil
	}
}

// roundTrip writes request and passes every following frame to handle until it reports
// done. Error statuses end the command with ErrDevice. The timeout restarts on every
// frame received, so long motions do not time out while the gantry is reporting.
func (c *Controller) roundTrip(ctx context.Context, request []byte, handle func(protocol.Frame) (bool, error)) error {
	if c.rw == nil {
		return ErrNotConnected
	}

	c.cmdMx.Lock()
	defer c.cmdMx.Unlock()

	c.drain()

	c.logger.Debugw("sending request", "request", string(request))
	if _, err := c.rw.Write(request); err != nil {
		return fmt.Errorf("error writing request: %w", err)
	}

	timer := c.clock.Timer(c.timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return fmt.Errorf("%w: %w", ErrClosed, c.readErr)
		case <-c.activity:
			timer.Reset(c.timeout)
		case f := <-c.events:
			timer.Reset(c.timeout)
			if f.Opcode == needlegantry.ResponseStatus {
				if msg, ok := strings.CutPrefix(f.Text, needlegantry.StatusErrorPrefix); ok {
					return fmt.Errorf("%w: %s", ErrDevice, msg)
				}
			}
			done, err := handle(f)
			if err != nil || done {
				return err
			}
		case <-timer.C:
			return fmt.Errorf("%w: no response to %q after %s", protocol.ErrTimeout, request[0], c.timeout)
		}
	}
}

// drain drops frames left over from earlier commands or from start-up
func (c *Controller) drain() {
	for {
		select {
		case f := <-c.events:
			c.logger.Debugw("dropping stale frame", "frame", f.String())
		default:
			return
		}
	}
}

func (c *Controller) readLoop() {
	scanner := bufio.NewScanner(c.rw)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		f, err := protocol.ParseFrame(line)
		if err != nil {
			c.logger.Debugw("firmware output", "line", string(line))
			continue
		}
		c.handleFrame(f)
	}

	c.readErr = scanner.Err()
	if c.readErr == nil {
		c.readErr = io.EOF
	}
	close(c.done)
}

func (c *Controller) handleFrame(f protocol.Frame) {
	c.mx.Lock()
	if f.Opcode == needlegantry.ResponsePosition {
		if f.Direction == needlegantry.Forward {
			c.position[f.Axis]++
		} else {
			c.position[f.Axis]--
		}
	}
	listeners := slices.Clone(c.listeners)
	c.mx.Unlock()

	for _, listener := range listeners {
		listener(f)
	}

	if f.Opcode == needlegantry.ResponsePosition {
		select {
		case c.activity <- struct{}{}:
		default:
		}
		return
	}

	c.logger.Debugw("received frame", "frame", f.String())

	select {
	case c.events <- f:
	default:
		c.logger.Warnw("event buffer full, dropping frame", "frame", f.String())
	}
}
