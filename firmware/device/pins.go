package device

import (
	"time"

	"github.com/calvinmclean/needlegantry"
)

// PinDriver asserts the shared direction and pulses step pins. Direction is global: it
// is written to every axis at once and applies to whichever step pin is pulsed next.
type PinDriver struct {
	io    DigitalIO
	clock Clock
	pins  PinConfig

	direction needlegantry.Direction
}

// NewPinDriver drives the pins of one hardware revision
func NewPinDriver(io DigitalIO, clock Clock, pins PinConfig) *PinDriver {
	return &PinDriver{io: io, clock: clock, pins: pins}
}

// SetDirection writes the direction level to every direction pin
func (p *PinDriver) SetDirection(dir needlegantry.Direction) {
	level := dir.Level()
	for _, axis := range p.pins.Axes {
		p.io.Write(axis.Direction, level)
		if axis.MirrorDirection != NoPin {
			p.io.Write(axis.MirrorDirection, level)
		}
	}
	p.direction = dir
}

// Direction is the last direction asserted
func (p *PinDriver) Direction() needlegantry.Direction {
	return p.direction
}

// StepPinFor returns the step pin of axis
func (p *PinDriver) StepPinFor(axis needlegantry.Axis) Pin {
	return p.pins.Axes[axis].Step
}

// Pulse emits one complete step on axis: HIGH, settle, LOW, settle
func (p *PinDriver) Pulse(axis needlegantry.Axis, settle time.Duration) {
	pins := p.pins.Axes[axis]

	p.io.Write(pins.Step, true)
	if pins.MirrorStep != NoPin {
		p.io.Write(pins.MirrorStep, true)
	}
	p.clock.Sleep(settle)

	p.io.Write(pins.Step, false)
	if pins.MirrorStep != NoPin {
		p.io.Write(pins.MirrorStep, false)
	}
	p.clock.Sleep(settle)
}

// SensorTriggered reads the capacitive sensor
func (p *PinDriver) SensorTriggered() bool {
	return p.io.Read(p.pins.CapSense)
}
