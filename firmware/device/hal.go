package device

import (
	"github.com/calvinmclean/needlegantry/protocol"
)

// Pin identifies a digital pin on the board
type Pin uint8

// NoPin marks an unused pin slot in a pin table
const NoPin Pin = 0xFF

// DigitalIO reads and writes digital pins
type DigitalIO interface {
	Read(Pin) bool
	Write(Pin, bool)
}

// Servo is the needle actuator. Positions are in the servo's output units (degrees).
type Servo interface {
	ReadPosition() int
	WritePosition(int)
}

// Clock is the timing primitive. github.com/benbjohnson/clock satisfies it.
type Clock = protocol.Clock

// Interlock reports whether motion is currently allowed
type Interlock interface {
	Enabled() bool
}

// AlwaysEnabled is used when the hardware has no enable switch
type AlwaysEnabled struct{}

func (AlwaysEnabled) Enabled() bool { return true }

// PinInterlock reads an enable switch wired to a digital input
type PinInterlock struct {
	IO        DigitalIO
	Pin       Pin
	ActiveLow bool
}

func (p PinInterlock) Enabled() bool {
	return p.IO.Read(p.Pin) != p.ActiveLow
}

// HAL bundles the hardware collaborators of a Device
type HAL struct {
	IO        DigitalIO
	Servo     Servo
	Clock     Clock
	Interlock Interlock
	Link      protocol.Stream
}
