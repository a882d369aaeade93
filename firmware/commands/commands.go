package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"
)

var (
	// ErrReset is returned when the host asks for a reset. The caller reinitializes the
	// device and starts the loop again.
	ErrReset = errors.New("reset requested")

	ErrUnrecognizedOpcode = errors.New("unrecognized opcode")
)

// maxEchoLength bounds the Echo payload read
const maxEchoLength = 64

// moveStepperInputSize is axis char, direction char and four millimetre digits
const moveStepperInputSize = 6

type Command struct {
	Flag      byte
	InputSize uint
	// Terminated commands read input up to the termination character instead of a
	// fixed InputSize
	Terminated  bool
	Run         func(Controller, []byte) error
	Description string
}

// Controller is used to control a device
type Controller interface {
	Echo(string)
	Status(string)
	SetCoordinate(protocol.Coordinate)
	MoveYHome() error
	MoveStepper(needlegantry.Axis, needlegantry.Direction, int) error
	GoToWork() error

	// I/O
	NextByte(context.Context) (byte, error)
	ReadPayload(int) ([]byte, error)
	ReadLine(int) ([]byte, error)
	DiscardInput() error
}

var (
	EchoCommand = &Command{
		Flag:       needlegantry.RequestEcho,
		Terminated: true,
		Run: func(c Controller, input []byte) error {
			c.Echo(string(input))
			return nil
		},
		Description: "Echo the input back as a status message. Input: text, newline terminated.",
	}
	MoveYHomeCommand = &Command{
		Flag:      needlegantry.RequestMoveYHome,
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			err := c.MoveYHome()
			if err != nil {
				return err
			}
			c.Status(needlegantry.StatusHomed)
			return nil
		},
		Description: "Move the Y axis to its home reference.",
	}
	MoveStepperCommand = &Command{
		Flag:      needlegantry.RequestMoveStepper,
		InputSize: moveStepperInputSize,
		Run: func(c Controller, input []byte) error {
			axis, ok := needlegantry.ParseAxis(input[0])
			if !ok {
				return errors.New("invalid axis: " + string(input[0]))
			}
			dir, ok := needlegantry.ParseDirection(input[1])
			if !ok {
				return errors.New("invalid direction: " + string(input[1]))
			}
			mm, err := decodeDistance(input[2:])
			if err != nil {
				return err
			}
			err = c.MoveStepper(axis, dir, mm)
			if err != nil {
				return err
			}
			c.Status(needlegantry.StatusMoved)
			return nil
		},
		Description: "Move one axis. Input: axis (X, Y, Z), direction (F, B), 4 digits of millimetres.",
	}
	GoToWorkCommand = &Command{
		Flag:      needlegantry.RequestGoToWork,
		InputSize: 0,
		Run: func(c Controller, _ []byte) error {
			return c.GoToWork()
		},
		Description: "Run a full injection cycle at the last coordinate.",
	}
	WaitCoordinateCommand = &Command{
		Flag:      needlegantry.RequestWaitCoordinate,
		InputSize: protocol.CoordinateSize,
		Run: func(c Controller, input []byte) error {
			coord, err := protocol.DecodeCoordinate(input)
			if err != nil {
				if discardErr := c.DiscardInput(); discardErr != nil {
					return errors.Join(err, discardErr)
				}
				return err
			}
			c.SetCoordinate(coord)
			return nil
		},
		Description: "Receive the insertion location. Input: 4 digits of x, 4 digits of y, 1 ignored byte.",
	}
	ResetCommand = &Command{
		Flag:      needlegantry.RequestReset,
		InputSize: 0,
		Run: func(Controller, []byte) error {
			return ErrReset
		},
		Description: "Reset the gantry.",
	}
)

var commands = []*Command{
	EchoCommand,
	MoveYHomeCommand,
	MoveStepperCommand,
	GoToWorkCommand,
	WaitCoordinateCommand,
	ResetCommand,
}

var cmdMap = buildCommandMap()

func buildCommandMap() map[byte]*Command {
	m := map[byte]*Command{}
	for _, cmd := range commands {
		m[cmd.Flag] = cmd
	}
	return m
}

// Lookup returns the command registered for opcode
func Lookup(opcode byte) (*Command, bool) {
	cmd, ok := cmdMap[opcode]
	return cmd, ok
}

// Dispatch reads the input for opcode and runs its command to completion. Every error
// except ErrReset is reported to the host as a status message before being returned.
func Dispatch(c Controller, opcode byte) error {
	err := dispatch(c, opcode)
	if err != nil && !errors.Is(err, ErrReset) {
		c.Status(needlegantry.StatusErrorPrefix + err.Error())
	}
	return err
}

func dispatch(c Controller, opcode byte) error {
	cmd, ok := Lookup(opcode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnrecognizedOpcode, opcode)
	}

	var (
		in  []byte
		err error
	)
	switch {
	case cmd.Terminated:
		in, err = c.ReadLine(maxEchoLength)
	case cmd.InputSize > 0:
		in, err = c.ReadPayload(int(cmd.InputSize))
	}
	if err != nil {
		err = fmt.Errorf("error reading input for %q: %w", opcode, err)
		// a partial payload left buffered would be read as the next opcode
		if discardErr := c.DiscardInput(); discardErr != nil {
			return errors.Join(err, discardErr)
		}
		return err
	}

	return cmd.Run(c, in)
}

// Run reads and dispatches commands one at a time until the host requests a reset or
// ctx is done. Command errors are reported to the host and do not stop the loop.
func Run(ctx context.Context, c Controller) error {
	for {
		opcode, err := c.NextByte(ctx)
		if err != nil {
			return err
		}

		switch opcode {
		case '\r', '\n':
			continue
		}

		err = Dispatch(c, opcode)
		if errors.Is(err, ErrReset) {
			return err
		}
	}
}

// decodeDistance reads unsigned ASCII digits
func decodeDistance(b []byte) (int, error) {
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: distance %q", protocol.ErrInvalidPacket, b)
		}
		v = v*10 + int(c-'0')
	}
	return v, nil
}
