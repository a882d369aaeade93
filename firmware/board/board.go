//go:build tinygo

package board

import (
	"errors"
	"machine"
	"strconv"

	"github.com/calvinmclean/needlegantry/firmware/device"

	"tinygo.org/x/drivers/servo"
)

// DigitalIO drives device pins through the machine package
type DigitalIO struct {
	pins map[device.Pin]machine.Pin
}

var _ device.DigitalIO = DigitalIO{}

// NewDigitalIO configures every pin in cfg. Step and direction pins become outputs and
// the sensor and enable pins become inputs.
func NewDigitalIO(pins map[device.Pin]machine.Pin, cfg device.PinConfig) (DigitalIO, error) {
	io := DigitalIO{pins: pins}

	configure := func(p device.Pin, mode machine.PinMode) error {
		if p == device.NoPin {
			return nil
		}
		mp, ok := pins[p]
		if !ok {
			return errors.New("pin is not mapped on this board: " + strconv.Itoa(int(p)))
		}
		mp.Configure(machine.PinConfig{Mode: mode})
		return nil
	}

	for _, axis := range cfg.Axes {
		for _, p := range []device.Pin{axis.Step, axis.Direction, axis.MirrorStep, axis.MirrorDirection} {
			if err := configure(p, machine.PinOutput); err != nil {
				return DigitalIO{}, err
			}
		}
	}
	for _, p := range []device.Pin{cfg.CapSense, cfg.Enable} {
		if err := configure(p, machine.PinInput); err != nil {
			return DigitalIO{}, err
		}
	}

	return io, nil
}

func (d DigitalIO) Read(p device.Pin) bool {
	return d.pins[p].Get()
}

func (d DigitalIO) Write(p device.Pin, level bool) {
	d.pins[p].Set(level)
}

// Servo remembers the last commanded position since the servo cannot report it
type Servo struct {
	servo    servo.Servo
	position int
}

var _ device.Servo = &Servo{}

func NewServo(pwm servo.PWM, pin machine.Pin) (*Servo, error) {
	s, err := servo.New(pwm, pin)
	if err != nil {
		return nil, errors.New("error creating servo: " + err.Error())
	}
	return &Servo{servo: s}, nil
}

func (s *Servo) ReadPosition() int {
	return s.position
}

func (s *Servo) WritePosition(pos int) {
	err := s.servo.SetAngle(pos)
	if err != nil {
		println("error setting servo angle:", err.Error())
		return
	}
	s.position = pos
}

// Serial is the host link over a UART
type Serial struct {
	UART *machine.UART
}

func (s Serial) Available() int {
	return s.UART.Buffered()
}

func (s Serial) ReadByte() (byte, error) {
	return s.UART.ReadByte()
}

func (s Serial) Write(b []byte) (int, error) {
	return s.UART.Write(b)
}

// Flush drops everything the UART has buffered
func (s Serial) Flush() error {
	for s.UART.Buffered() > 0 {
		if _, err := s.UART.ReadByte(); err != nil {
			return err
		}
	}
	return nil
}
