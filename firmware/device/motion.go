package device

import (
	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
)

// MotionStatus tells whether a move ran to completion
type MotionStatus int

const (
	StatusCompleted MotionStatus = iota
	StatusDisabled
)

func (s MotionStatus) String() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusDisabled:
		return "Disabled"
	default:
		return "Unknown"
	}
}

// MotionRequest moves one axis by a number of steps
type MotionRequest struct {
	Axis      needlegantry.Axis
	Steps     int
	Direction needlegantry.Direction
}

// MotionResult reports what a move actually did
type MotionResult struct {
	Status MotionStatus
	// Steps is the number of complete pulses emitted
	Steps int
	// Depth is the confirmed probe depth when the move ran the depth finder
	Depth int
	// Probed is set when the move was replaced by a depth probe
	Probed bool
}

// MoveAxis moves axis by steps in dir
func (d *Device) MoveAxis(axis needlegantry.Axis, steps int, dir needlegantry.Direction) (MotionResult, error) {
	return d.Move(MotionRequest{Axis: axis, Steps: steps, Direction: dir})
}

// MoveMillimeters converts distance once and moves axis by the resulting step count
func (d *Device) MoveMillimeters(axis needlegantry.Axis, distance float64, dir needlegantry.Direction) (MotionResult, error) {
	return d.MoveAxis(axis, d.geometry.MillimetersToSteps(axis, distance), dir)
}

// Move executes a motion request. A forward Z move made before the surface has been
// found runs the depth finder instead of pulsing blindly. The interlock is checked
// before every pulse and a disabled interlock ends the move early.
func (d *Device) Move(req MotionRequest) (MotionResult, error) {
	if d.verbose {
		println(d.ts(), "Move", req.Axis.String(), req.Direction.String(), req.Steps)
	}

	if req.Axis == needlegantry.AxisZ && req.Direction == needlegantry.Forward && !d.session.FoundDepth {
		return d.probe()
	}

	d.pins.SetDirection(req.Direction)

	for i := 0; i < req.Steps; i++ {
		if !d.interlock.Enabled() {
			return MotionResult{Status: StatusDisabled, Steps: i}, nil
		}
		d.pins.Pulse(req.Axis, d.stepperCfg.SettleDelay)
		d.send(protocol.EncodePositionUpdate(req.Axis, req.Direction))
	}

	return MotionResult{Status: StatusCompleted, Steps: req.Steps}, nil
}
