package device

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
)

var (
	ErrDisabled        = errors.New("motion disabled by interlock")
	ErrNoCoordinateYet = errors.New("no coordinate received")
	ErrDepthNotFound   = errors.New("surface not detected")
)

// idlePoll is the sleep between checks for a new request
const idlePoll = time.Millisecond

// Device controls the needle gantry. It owns the motion hardware, the host link and the
// state of the current work cycle.
type Device struct {
	pins      *PinDriver
	geometry  Geometry
	servo     Servo
	clock     Clock
	interlock Interlock
	link      protocol.Stream

	stepperCfg     StepperConfig
	servoCfg       ServoConfig
	calibrationCfg CalibrationConfig

	session Session

	startTime time.Time
	verbose   bool
}

// New intializes the device with the provided configs
func New(stepperCfg StepperConfig, servoCfg ServoConfig, calibrationCfg CalibrationConfig, hal HAL) (Device, error) {
	if err := stepperCfg.validate(); err != nil {
		return Device{}, errors.New("invalid stepper config: " + err.Error())
	}
	if err := servoCfg.validate(); err != nil {
		return Device{}, errors.New("invalid servo config: " + err.Error())
	}
	if err := calibrationCfg.validate(); err != nil {
		return Device{}, errors.New("invalid calibration config: " + err.Error())
	}
	if hal.IO == nil || hal.Servo == nil || hal.Clock == nil || hal.Link == nil {
		return Device{}, errors.New("IO, Servo, Clock and Link are required")
	}

	interlock := hal.Interlock
	if interlock == nil {
		interlock = AlwaysEnabled{}
	}

	return Device{
		pins: NewPinDriver(hal.IO, hal.Clock, stepperCfg.Pins),
		geometry: Geometry{
			StepsPerRevolution: stepperCfg.StepsPerRevolution,
			Leads:              stepperCfg.Leads,
		},
		servo:          hal.Servo,
		clock:          hal.Clock,
		interlock:      interlock,
		link:           hal.Link,
		stepperCfg:     stepperCfg,
		servoCfg:       servoCfg,
		calibrationCfg: calibrationCfg,
		startTime:      hal.Clock.Now(),
	}, nil
}

// Initialize announces the gantry to the host and parks the needle
func (d *Device) Initialize() {
	d.servo.WritePosition(d.servoCfg.position(d.servoCfg.Begin))
	d.send(protocol.EncodeInitialized())
}

// Reset forgets the current cycle and announces the gantry again
func (d *Device) Reset() {
	if d.verbose {
		println(d.ts(), "Reset")
	}
	d.session.Reset()
	d.Initialize()
}

// Session returns a copy of the current cycle state
func (d *Device) Session() Session {
	return d.session
}

// Geometry returns the step conversion used by the device
func (d *Device) Geometry() Geometry {
	return d.geometry
}

// SetCoordinate stores a decoded insertion location and acknowledges it
func (d *Device) SetCoordinate(c protocol.Coordinate) {
	if d.verbose {
		println(d.ts(), "SetCoordinate", c.String())
	}
	d.session.SetCoordinate(c)
	d.send(protocol.EncodeCoordinateAck(c))
}

// Echo sends text back as a status message
func (d *Device) Echo(text string) {
	d.Status(text)
}

// Status sends a status message to the host
func (d *Device) Status(text string) {
	d.send(protocol.EncodeStatus(text))
}

// MoveYHome drives Y to its home reference
func (d *Device) MoveYHome() error {
	return d.moveSteps(needlegantry.AxisY, d.calibrationCfg.StepsToYHome, needlegantry.Forward)
}

// MoveStepper moves one axis by a distance in millimetres
func (d *Device) MoveStepper(axis needlegantry.Axis, dir needlegantry.Direction, mm int) error {
	result, err := d.MoveMillimeters(axis, float64(mm), dir)
	if err != nil {
		return err
	}
	if result.Status == StatusDisabled {
		return ErrDisabled
	}
	if result.Probed {
		d.Status(needlegantry.StatusDepthPrefix + strconv.Itoa(result.Depth))
	}
	return nil
}

// MoveToInsertionLocation moves X and Y to the target and lowers Z onto the surface
func (d *Device) MoveToInsertionLocation() error {
	if err := d.moveMillimeters(needlegantry.AxisX, d.session.Position.X, needlegantry.Forward); err != nil {
		return err
	}
	if err := d.moveMillimeters(needlegantry.AxisY, d.session.Position.Y, needlegantry.Forward); err != nil {
		return err
	}

	result, err := d.Move(MotionRequest{Axis: needlegantry.AxisZ, Steps: d.session.Position.Z, Direction: needlegantry.Forward})
	if err != nil {
		return err
	}
	if result.Status == StatusDisabled {
		return ErrDisabled
	}
	if result.Probed && !d.session.FoundDepth {
		// back off whatever Z travelled so the next attempt starts clear
		if err := d.moveSteps(needlegantry.AxisZ, result.Steps, needlegantry.Backward); err != nil {
			return err
		}
		return ErrDepthNotFound
	}

	d.Status(needlegantry.StatusDepthPrefix + strconv.Itoa(d.session.Position.Z))
	return nil
}

// PositionNeedle lifts by the needle's Z offset and brings the needle over the target
func (d *Device) PositionNeedle() error {
	if err := d.moveMillimeters(needlegantry.AxisZ, d.calibrationCfg.NeedleOffset[needlegantry.AxisZ], needlegantry.Backward); err != nil {
		return err
	}
	if err := d.moveMillimeters(needlegantry.AxisY, d.calibrationCfg.NeedleOffset[needlegantry.AxisY], needlegantry.Forward); err != nil {
		return err
	}
	return d.moveMillimeters(needlegantry.AxisX, d.calibrationCfg.NeedleOffset[needlegantry.AxisX], needlegantry.Forward)
}

// InjectNeedle sweeps the servo from the begin position through the inject distance
func (d *Device) InjectNeedle() {
	if d.verbose {
		println(d.ts(), "InjectNeedle")
	}
	end := d.servoCfg.Begin + d.servoCfg.InjectDistance
	for in := d.servoCfg.Begin; in <= end; in++ {
		d.servo.WritePosition(d.servoCfg.position(in))
		d.clock.Sleep(d.servoCfg.SweepDelay)
	}
}

// PullNeedle sweeps the servo back from wherever it is to the begin position
func (d *Device) PullNeedle() {
	if d.verbose {
		println(d.ts(), "PullNeedle")
	}
	target := d.servoCfg.position(d.servoCfg.Begin)
	for pos := d.servo.ReadPosition(); pos != target; {
		if pos > target {
			pos--
		} else {
			pos++
		}
		d.servo.WritePosition(pos)
		d.clock.Sleep(d.servoCfg.SweepDelay)
	}
}

// Retract raises Z off the surface and returns X and Y to the home reference using the
// remembered coordinate
func (d *Device) Retract() error {
	zSteps := d.session.Position.Z - d.geometry.MillimetersToSteps(needlegantry.AxisZ, float64(d.calibrationCfg.NeedleOffset[needlegantry.AxisZ]))
	if zSteps > 0 {
		if err := d.moveSteps(needlegantry.AxisZ, zSteps, needlegantry.Backward); err != nil {
			return err
		}
	}

	original := d.session.Original
	if err := d.moveMillimeters(needlegantry.AxisX, original.X+d.calibrationCfg.NeedleOffset[needlegantry.AxisX], needlegantry.Backward); err != nil {
		return err
	}
	return d.moveMillimeters(needlegantry.AxisY, original.Y+d.calibrationCfg.NeedleOffset[needlegantry.AxisY], needlegantry.Backward)
}

// ErrorCheck asks the host for a corrected coordinate in the legacy framing and moves
// X and Y by the difference when it exceeds the tolerance. Malformed packets are
// discarded and requested again until ReadTimeout expires.
func (d *Device) ErrorCheck() error {
	deadline := d.clock.Now().Add(d.calibrationCfg.ReadTimeout)

	var corrected protocol.Coordinate
	for {
		d.send(protocol.EncodeWaitCoordinate())

		remaining := deadline.Sub(d.clock.Now())
		if remaining <= 0 {
			return protocol.ErrTimeout
		}
		packet, err := protocol.ReadFull(d.link, d.clock, d.calibrationCfg.LegacyLayout.Length, remaining)
		if err != nil {
			return err
		}

		corrected, err = protocol.DecodeLegacy(packet, d.calibrationCfg.LegacyLayout)
		if err == nil {
			break
		}
		d.Status(needlegantry.StatusErrorPrefix + err.Error())
		if err := d.DiscardInput(); err != nil {
			return err
		}
	}

	if err := d.correct(needlegantry.AxisX, corrected.X-d.session.Position.X); err != nil {
		return err
	}
	if err := d.correct(needlegantry.AxisY, corrected.Y-d.session.Position.Y); err != nil {
		return err
	}

	d.session.SetCoordinate(corrected)
	return nil
}

func (d *Device) correct(axis needlegantry.Axis, delta int) error {
	dir := needlegantry.Forward
	if delta < 0 {
		dir = needlegantry.Backward
		delta = -delta
	}
	if delta <= d.calibrationCfg.ErrorCheckTolerance {
		return nil
	}
	return d.moveMillimeters(axis, delta, dir)
}

// GoToWork runs a complete injection cycle at the received coordinate
func (d *Device) GoToWork() error {
	if d.session.Target().IsZero() {
		return ErrNoCoordinateYet
	}

	stages := []struct {
		name string
		run  func() error
	}{
		{"homing y", d.MoveYHome},
		{"moving to insertion location", d.MoveToInsertionLocation},
		{"checking position", func() error {
			if !d.calibrationCfg.ErrorCheck {
				return nil
			}
			return d.ErrorCheck()
		}},
		{"positioning needle", d.PositionNeedle},
		{"injecting", func() error { d.InjectNeedle(); return nil }},
		{"pulling", func() error { d.PullNeedle(); return nil }},
		{"retracting", d.Retract},
	}

	for _, stage := range stages {
		d.Status(stage.name)
		if err := stage.run(); err != nil {
			if errors.Is(err, ErrDepthNotFound) {
				d.abortCycle()
			}
			return fmt.Errorf("%s: %w", stage.name, err)
		}
	}

	d.session.EndCycle()
	d.send(protocol.EncodeFinish())
	return nil
}

// abortCycle returns X and Y to the home reference after a failed probe
func (d *Device) abortCycle() {
	if err := d.moveMillimeters(needlegantry.AxisX, d.session.Position.X, needlegantry.Backward); err != nil {
		return
	}
	if err := d.moveMillimeters(needlegantry.AxisY, d.session.Position.Y, needlegantry.Backward); err != nil {
		return
	}
	d.session.EndCycle()
}

// NextByte waits for the next request byte until ctx is done
func (d *Device) NextByte(ctx context.Context) (byte, error) {
	for d.link.Available() == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if e, ok := d.link.(interface{ Err() error }); ok {
			if err := e.Err(); err != nil {
				return 0, err
			}
		}
		d.clock.Sleep(idlePoll)
	}
	return d.link.ReadByte()
}

// ReadPayload reads exactly n request bytes, bounded by ReadTimeout
func (d *Device) ReadPayload(n int) ([]byte, error) {
	return protocol.ReadFull(d.link, d.clock, n, d.calibrationCfg.ReadTimeout)
}

// ReadLine reads request bytes up to the termination character, bounded by ReadTimeout
func (d *Device) ReadLine(limit int) ([]byte, error) {
	return protocol.ReadUntil(d.link, d.clock, needlegantry.TerminationChar, limit, d.calibrationCfg.ReadTimeout)
}

// DiscardInput drops any buffered request bytes
func (d *Device) DiscardInput() error {
	return d.link.Flush()
}

// Verbose sets the Device to Verbose mode and increases logging
func (d *Device) Verbose() {
	d.verbose = true
	println(d.ts(), "Set Verbose Mode")
}

func (d *Device) moveMillimeters(axis needlegantry.Axis, mm int, dir needlegantry.Direction) error {
	return d.moveSteps(axis, d.geometry.MillimetersToSteps(axis, float64(mm)), dir)
}

// moveSteps is used by the sequences and reports an interrupted move as ErrDisabled
func (d *Device) moveSteps(axis needlegantry.Axis, steps int, dir needlegantry.Direction) error {
	result, err := d.MoveAxis(axis, steps, dir)
	if err != nil {
		return err
	}
	if result.Status == StatusDisabled {
		return ErrDisabled
	}
	return nil
}

func (d *Device) send(frame []byte) {
	if err := protocol.Send(d.link, frame); err != nil && d.verbose {
		println(d.ts(), "error writing frame:", err.Error())
	}
}

// ts returns the uptime timestamp for logging
func (d *Device) ts() string {
	return "[" + d.clock.Now().Sub(d.startTime).String() + "]"
}

// position maps needle travel onto the servo's output range
func (c ServoConfig) position(in int) int {
	return (in-c.InputMin)*(c.OutputMax-c.OutputMin)/(c.InputMax-c.InputMin) + c.OutputMin
}
