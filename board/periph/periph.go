// Package periph runs the gantry hardware on a Linux single-board computer using
// periph.io GPIO drivers.
package periph

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/firmware/device"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

// ServoFrequency is the standard hobby servo refresh rate
const ServoFrequency = 50 * physic.Hertz

// ServoPin is the hardware PWM capable pin driving the needle servo
const ServoPin = "GPIO18"

var ErrPinNotFound = errors.New("pin not found")

// Pins is the dual-Y wiring on a Raspberry Pi header, by BCM GPIO number. The enable
// switch on GPIO27 must drive the pin high while closed; the input is pulled down, so
// with nothing wired there every move stops before its first step.
var Pins = device.PinConfig{
	Axes: [3]device.AxisPins{
		needlegantry.AxisX: {Step: 5, Direction: 6, MirrorStep: device.NoPin, MirrorDirection: device.NoPin},
		needlegantry.AxisY: {Step: 13, Direction: 19, MirrorStep: 16, MirrorDirection: 20},
		needlegantry.AxisZ: {Step: 21, Direction: 26, MirrorStep: device.NoPin, MirrorDirection: device.NoPin},
	},
	CapSense: 17,
	Enable:   27,
}

// NewInterlock reads the enable switch wired to cfg.Enable. A config without an
// enable pin is never interlocked.
func NewInterlock(io device.DigitalIO, cfg device.PinConfig) device.Interlock {
	if cfg.Enable == device.NoPin {
		return device.AlwaysEnabled{}
	}
	return device.PinInterlock{IO: io, Pin: cfg.Enable}
}

// DigitalIO maps device pins onto periph GPIO pins
type DigitalIO struct {
	pins   map[device.Pin]gpio.PinIO
	logger *zap.SugaredLogger
}

var _ device.DigitalIO = &DigitalIO{}

// Lookup resolves every pin in cfg by its GPIO number using the periph registry.
// host.Init must be called first.
func Lookup(cfg device.PinConfig) (map[device.Pin]gpio.PinIO, error) {
	pins := map[device.Pin]gpio.PinIO{}

	add := func(p device.Pin) error {
		if p == device.NoPin {
			return nil
		}
		pin := gpioreg.ByName(strconv.Itoa(int(p)))
		if pin == nil {
			return fmt.Errorf("%w: GPIO%d", ErrPinNotFound, p)
		}
		pins[p] = pin
		return nil
	}

	for _, axis := range cfg.Axes {
		for _, p := range []device.Pin{axis.Step, axis.Direction, axis.MirrorStep, axis.MirrorDirection} {
			if err := add(p); err != nil {
				return nil, err
			}
		}
	}
	for _, p := range []device.Pin{cfg.CapSense, cfg.Enable} {
		if err := add(p); err != nil {
			return nil, err
		}
	}

	return pins, nil
}

// NewDigitalIO sets the sensor and enable pins of cfg as pulled-down inputs and every
// other pin as a low output
func NewDigitalIO(pins map[device.Pin]gpio.PinIO, cfg device.PinConfig, logger *zap.SugaredLogger) (*DigitalIO, error) {
	for p, pin := range pins {
		var err error
		if p == cfg.CapSense || p == cfg.Enable {
			err = pin.In(gpio.PullDown, gpio.NoEdge)
		} else {
			err = pin.Out(gpio.Low)
		}
		if err != nil {
			return nil, fmt.Errorf("error configuring pin %s: %w", pin.Name(), err)
		}
	}

	return &DigitalIO{pins: pins, logger: logger}, nil
}

func (d *DigitalIO) Read(p device.Pin) bool {
	pin, ok := d.pins[p]
	if !ok {
		d.logger.Errorw("read from unmapped pin", "pin", p)
		return false
	}
	return pin.Read() == gpio.High
}

func (d *DigitalIO) Write(p device.Pin, level bool) {
	pin, ok := d.pins[p]
	if !ok {
		d.logger.Errorw("write to unmapped pin", "pin", p)
		return
	}

	l := gpio.Low
	if level {
		l = gpio.High
	}
	if err := pin.Out(l); err != nil {
		d.logger.Errorw("error writing pin", "pin", pin.Name(), "error", err)
	}
}

// Servo drives a hobby servo with hardware PWM. Angles map linearly onto pulse widths
// between MinPulse and MaxPulse.
type Servo struct {
	pin      gpio.PinIO
	MinPulse time.Duration
	MaxPulse time.Duration

	position int
	logger   *zap.SugaredLogger
}

var _ device.Servo = &Servo{}

func NewServo(pin gpio.PinIO, logger *zap.SugaredLogger) *Servo {
	return &Servo{
		pin:      pin,
		MinPulse: time.Millisecond,
		MaxPulse: 2 * time.Millisecond,
		logger:   logger,
	}
}

// ReadPosition returns the last angle written
func (s *Servo) ReadPosition() int {
	return s.position
}

func (s *Servo) WritePosition(angle int) {
	if err := s.pin.PWM(s.Duty(angle), ServoFrequency); err != nil {
		s.logger.Errorw("error setting servo angle", "angle", angle, "error", err)
		return
	}
	s.position = angle
}

// Duty converts an angle in degrees to a duty cycle at ServoFrequency
func (s *Servo) Duty(angle int) gpio.Duty {
	angle = min(max(angle, 0), 180)
	pulse := s.MinPulse + time.Duration(angle)*(s.MaxPulse-s.MinPulse)/180
	return gpio.Duty(int64(gpio.DutyMax) * int64(pulse) / int64(ServoFrequency.Period()))
}
