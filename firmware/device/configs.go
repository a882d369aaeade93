package device

import (
	"errors"
	"time"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
)

// AxisPins is the step/direction pair for one axis. Mirror pins drive a second motor on
// the same axis and are NoPin when unused.
type AxisPins struct {
	Step            Pin
	Direction       Pin
	MirrorStep      Pin
	MirrorDirection Pin
}

// PinConfig is the pin layout of one hardware revision
type PinConfig struct {
	Axes     [3]AxisPins
	CapSense Pin
	// Enable is the interlock switch input, NoPin when the board has none
	Enable Pin
}

// HardwareRevision names a gantry wiring layout
type HardwareRevision string

const (
	RevisionSingleY HardwareRevision = "single-y"
	RevisionDualY   HardwareRevision = "dual-y"
)

// Revisions is the pin table for every known board revision
var Revisions = map[HardwareRevision]PinConfig{
	RevisionSingleY: {
		Axes: [3]AxisPins{
			needlegantry.AxisX: {Step: 49, Direction: 48, MirrorStep: NoPin, MirrorDirection: NoPin},
			needlegantry.AxisY: {Step: 53, Direction: 51, MirrorStep: NoPin, MirrorDirection: NoPin},
			needlegantry.AxisZ: {Step: 32, Direction: 34, MirrorStep: NoPin, MirrorDirection: NoPin},
		},
		CapSense: 36,
		Enable:   NoPin,
	},
	RevisionDualY: {
		Axes: [3]AxisPins{
			needlegantry.AxisX: {Step: 49, Direction: 48, MirrorStep: NoPin, MirrorDirection: NoPin},
			needlegantry.AxisY: {Step: 53, Direction: 51, MirrorStep: 52, MirrorDirection: 50},
			needlegantry.AxisZ: {Step: 32, Direction: 34, MirrorStep: NoPin, MirrorDirection: NoPin},
		},
		CapSense: 36,
		Enable:   NoPin,
	},
}

// PinsFor looks up the pin layout for a revision
func PinsFor(rev HardwareRevision) (PinConfig, error) {
	pins, ok := Revisions[rev]
	if !ok {
		return PinConfig{}, errors.New("unknown hardware revision: " + string(rev))
	}
	return pins, nil
}

// StepperConfig has the drive train values shared by all axes
type StepperConfig struct {
	Pins               PinConfig
	StepsPerRevolution int
	// Leads is the millimetres advanced per revolution, indexed by Axis
	Leads [3]float64
	// SettleDelay is held after each edge of a normal step pulse
	SettleDelay time.Duration
	// ProbeSettleDelay is held after each edge of a depth probe pulse
	ProbeSettleDelay time.Duration
}

// ServoConfig maps needle travel onto servo output positions
type ServoConfig struct {
	Begin          int
	InjectDistance int
	InputMin       int
	InputMax       int
	OutputMin      int
	OutputMax      int
	SweepDelay     time.Duration
}

// CalibrationConfig has values that depend on the mechanics and the sensor
type CalibrationConfig struct {
	StepsToYHome int
	// NeedleOffset is the needle's distance from the capacitive sensor in mm, indexed by Axis
	NeedleOffset [3]int

	DebounceSamples   int
	DebounceThreshold int
	MaxProbeSteps     int
	ProbeTimeout      time.Duration

	// ReadTimeout bounds every wait for host bytes
	ReadTimeout time.Duration

	ErrorCheck          bool
	ErrorCheckTolerance int
	LegacyLayout        protocol.LegacyLayout
}

// DefaultStepperConfig returns the stock drive train
func DefaultStepperConfig(rev HardwareRevision) (StepperConfig, error) {
	pins, err := PinsFor(rev)
	if err != nil {
		return StepperConfig{}, err
	}
	return StepperConfig{
		Pins:               pins,
		StepsPerRevolution: 200,
		Leads:              [3]float64{needlegantry.AxisX: 2, needlegantry.AxisY: 8, needlegantry.AxisZ: 8},
		SettleDelay:        2 * time.Millisecond,
		ProbeSettleDelay:   4 * time.Millisecond,
	}, nil
}

// DefaultServoConfig returns the stock needle sweep
func DefaultServoConfig() ServoConfig {
	return ServoConfig{
		Begin:          0,
		InjectDistance: 100,
		InputMin:       0,
		InputMax:       100,
		OutputMin:      0,
		OutputMax:      180,
		SweepDelay:     15 * time.Millisecond,
	}
}

// DefaultCalibration returns the stock tuning values
func DefaultCalibration() CalibrationConfig {
	return CalibrationConfig{
		StepsToYHome:        1250,
		NeedleOffset:        [3]int{needlegantry.AxisX: 20, needlegantry.AxisY: 10, needlegantry.AxisZ: 10},
		DebounceSamples:     10,
		DebounceThreshold:   3,
		MaxProbeSteps:       4000,
		ProbeTimeout:        time.Minute,
		ReadTimeout:         10 * time.Second,
		ErrorCheck:          false,
		ErrorCheckTolerance: 3,
		LegacyLayout:        protocol.LegacyLayout8,
	}
}

func (c StepperConfig) validate() error {
	if c.StepsPerRevolution <= 0 {
		return errors.New("StepsPerRevolution must be positive")
	}
	for _, axis := range needlegantry.Axes {
		if c.Leads[axis] <= 0 {
			return errors.New("lead for axis " + axis.String() + " must be positive")
		}
		if c.Pins.Axes[axis].Step == NoPin || c.Pins.Axes[axis].Direction == NoPin {
			return errors.New("axis " + axis.String() + " needs a step and direction pin")
		}
	}
	return nil
}

func (c ServoConfig) validate() error {
	if c.InputMax == c.InputMin {
		return errors.New("servo input range is empty")
	}
	return nil
}

func (c CalibrationConfig) validate() error {
	if c.DebounceSamples <= 0 {
		return errors.New("DebounceSamples must be positive")
	}
	if c.DebounceThreshold >= c.DebounceSamples {
		return errors.New("DebounceThreshold must be below DebounceSamples")
	}
	if c.LegacyLayout.TerminatorOffset < 2 || c.LegacyLayout.Length != 2*c.LegacyLayout.TerminatorOffset {
		return errors.New("invalid legacy packet layout")
	}
	return nil
}
