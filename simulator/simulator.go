// Package simulator runs the gantry firmware in-process against simulated pins, a
// simulated capacitive sensor and a simulated needle servo. The host side talks to it
// over a net.Pipe exactly as it would over a serial port.
package simulator

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/firmware/commands"
	"github.com/calvinmclean/needlegantry/firmware/device"
	"github.com/calvinmclean/needlegantry/protocol"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config describes the simulated machine
type Config struct {
	Revision device.HardwareRevision
	// SurfaceDepth is how many Z steps forward the sensor first touches the surface.
	// Zero means there is no surface and probing runs until it times out.
	SurfaceDepth int
	// Calibration overrides the default calibration when set
	Calibration *device.CalibrationConfig
	Verbose     bool
}

// Simulator owns one simulated gantry
type Simulator struct {
	IO    *IO
	Servo *Servo

	device *device.Device
	stream *protocol.ConnStream
	conn   net.Conn

	logger *zap.SugaredLogger
}

// New creates a simulator and returns the host end of its link
func New(cfg Config, logger *zap.SugaredLogger) (*Simulator, io.ReadWriteCloser, error) {
	if cfg.Revision == "" {
		cfg.Revision = device.RevisionDualY
	}

	stepperCfg, err := device.DefaultStepperConfig(cfg.Revision)
	if err != nil {
		return nil, nil, err
	}
	// pulses are instant in simulation
	stepperCfg.SettleDelay = 0
	stepperCfg.ProbeSettleDelay = 0

	servoCfg := device.DefaultServoConfig()
	servoCfg.SweepDelay = 0

	calibrationCfg := device.DefaultCalibration()
	if cfg.Calibration != nil {
		calibrationCfg = *cfg.Calibration
	}

	firmwareSide, hostSide := net.Pipe()
	stream := protocol.NewConnStream(firmwareSide)

	simIO := NewIO(stepperCfg.Pins, cfg.SurfaceDepth)
	servo := &Servo{}

	d, err := device.New(stepperCfg, servoCfg, calibrationCfg, device.HAL{
		IO:        simIO,
		Servo:     servo,
		Clock:     clock.New(),
		Interlock: simIO,
		Link:      stream,
	})
	if err != nil {
		return nil, nil, multierr.Combine(err, firmwareSide.Close(), hostSide.Close())
	}
	if cfg.Verbose {
		d.Verbose()
	}

	return &Simulator{
		IO:     simIO,
		Servo:  servo,
		device: &d,
		stream: stream,
		conn:   firmwareSide,
		logger: logger,
	}, hostSide, nil
}

// Run announces the gantry and serves commands until ctx is done or the host closes the
// link. A reset request reinitializes the device and keeps serving.
func (s *Simulator) Run(ctx context.Context) error {
	s.device.Initialize()
	for {
		err := commands.Run(ctx, s.device)
		switch {
		case errors.Is(err, commands.ErrReset):
			s.logger.Info("reset requested")
			s.device.Reset()
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrClosedPipe), errors.Is(err, context.Canceled):
			return nil
		default:
			return err
		}
	}
}

// Session returns the device's cycle state. It must not be called while a command runs.
func (s *Simulator) Session() device.Session {
	return s.device.Session()
}

// Close shuts down the firmware end of the link
func (s *Simulator) Close() error {
	return multierr.Combine(s.conn.Close(), s.stream.Close())
}

// IO is a simulated pin bank. It tracks each axis's position in steps from the pulses on
// its step pin and the level of the shared direction pins.
type IO struct {
	mx     sync.Mutex
	pins   device.PinConfig
	levels map[device.Pin]bool

	position     [3]int
	surfaceDepth int
	enabled      bool
}

var (
	_ device.DigitalIO = &IO{}
	_ device.Interlock = &IO{}
)

func NewIO(pins device.PinConfig, surfaceDepth int) *IO {
	return &IO{
		pins:         pins,
		levels:       map[device.Pin]bool{},
		surfaceDepth: surfaceDepth,
		enabled:      true,
	}
}

func (s *IO) Read(p device.Pin) bool {
	s.mx.Lock()
	defer s.mx.Unlock()

	if p == s.pins.CapSense {
		return s.surfaceDepth > 0 && s.position[needlegantry.AxisZ] >= s.surfaceDepth
	}
	return s.levels[p]
}

func (s *IO) Write(p device.Pin, level bool) {
	s.mx.Lock()
	defer s.mx.Unlock()

	rising := level && !s.levels[p]
	s.levels[p] = level
	if !rising {
		return
	}

	for _, axis := range needlegantry.Axes {
		if s.pins.Axes[axis].Step != p {
			continue
		}
		if s.levels[s.pins.Axes[axis].Direction] == needlegantry.Forward.Level() {
			s.position[axis]++
		} else {
			s.position[axis]--
		}
	}
}

// Position returns the step count of axis relative to power-on
func (s *IO) Position(axis needlegantry.Axis) int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.position[axis]
}

// Enabled is the simulated interlock switch
func (s *IO) Enabled() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.enabled
}

// SetEnabled flips the simulated interlock switch
func (s *IO) SetEnabled(enabled bool) {
	s.mx.Lock()
	s.enabled = enabled
	s.mx.Unlock()
}

// SetSurfaceDepth moves the simulated surface
func (s *IO) SetSurfaceDepth(depth int) {
	s.mx.Lock()
	s.surfaceDepth = depth
	s.mx.Unlock()
}

// Servo is a simulated needle servo that records every position written
type Servo struct {
	mx       sync.Mutex
	position int
	sweeps   int
	deepest  int
}

var _ device.Servo = &Servo{}

func (s *Servo) ReadPosition() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.position
}

func (s *Servo) WritePosition(p int) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if p > s.deepest {
		s.deepest = p
	}
	if p == 0 && s.position != 0 {
		s.sweeps++
	}
	s.position = p
}

// Injections counts completed returns of the needle to its begin position
func (s *Servo) Injections() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.sweeps
}

// MaxPosition is the deepest position the needle reached
func (s *Servo) MaxPosition() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.deepest
}
