package protocol

import (
	"bytes"
	"fmt"

	"github.com/calvinmclean/needlegantry"
)

// EncodeStatus frames a text status message
func EncodeStatus(text string) []byte {
	out := make([]byte, 0, len(text)+2)
	out = append(out, needlegantry.ResponseStatus)
	out = append(out, text...)
	return append(out, needlegantry.TerminationChar)
}

// EncodePositionUpdate frames a single step notification
func EncodePositionUpdate(axis needlegantry.Axis, dir needlegantry.Direction) []byte {
	return []byte{needlegantry.ResponsePosition, axis.Char(), dir.Char(), needlegantry.TerminationChar}
}

// EncodeInitialized frames the start-up announcement
func EncodeInitialized() []byte {
	return []byte{needlegantry.ResponseInitialized, needlegantry.TerminationChar}
}

// EncodeCoordinateAck acknowledges a decoded coordinate by echoing its eight digits
func EncodeCoordinateAck(c Coordinate) []byte {
	out := []byte{needlegantry.ResponseCoordinateAck}
	out = appendDigits(out, c.X, coordinateDigits)
	out = appendDigits(out, c.Y, coordinateDigits)
	return append(out, needlegantry.TerminationChar)
}

// EncodeWaitCoordinate asks the host for a legacy framed correction packet
func EncodeWaitCoordinate() []byte {
	return []byte{needlegantry.ResponseWaitCoordinate, needlegantry.TerminationChar}
}

// EncodeFinish marks the end of a work cycle
func EncodeFinish() []byte {
	return []byte{needlegantry.ResponseFinish, needlegantry.TerminationChar}
}

// Frame is a decoded response frame
type Frame struct {
	Opcode byte

	// Text is set for status frames
	Text string

	// Axis and Direction are set for position updates
	Axis      needlegantry.Axis
	Direction needlegantry.Direction

	// Coordinate is set for coordinate acknowledgements
	Coordinate Coordinate
}

func (f Frame) String() string {
	switch f.Opcode {
	case needlegantry.ResponseStatus:
		return "status: " + f.Text
	case needlegantry.ResponseInitialized:
		return "initialized"
	case needlegantry.ResponsePosition:
		return fmt.Sprintf("position: %s %s", f.Axis, f.Direction)
	case needlegantry.ResponseCoordinateAck:
		return "coordinate: " + f.Coordinate.String()
	case needlegantry.ResponseWaitCoordinate:
		return "waiting for coordinate"
	case needlegantry.ResponseFinish:
		return "finished"
	default:
		return fmt.Sprintf("unknown frame %q", f.Opcode)
	}
}

// ParseFrame decodes one response line. The trailing newline is optional.
func ParseFrame(line []byte) (Frame, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return Frame{}, fmt.Errorf("%w: empty frame", ErrInvalidPacket)
	}

	f := Frame{Opcode: line[0]}
	payload := line[1:]

	switch f.Opcode {
	case needlegantry.ResponseStatus:
		f.Text = string(payload)
	case needlegantry.ResponseInitialized, needlegantry.ResponseWaitCoordinate, needlegantry.ResponseFinish:
		if len(payload) != 0 {
			return Frame{}, fmt.Errorf("%w: unexpected payload %q for %q", ErrInvalidPacket, payload, f.Opcode)
		}
	case needlegantry.ResponsePosition:
		if len(payload) != 2 {
			return Frame{}, fmt.Errorf("%w: position payload %q", ErrInvalidPacket, payload)
		}
		axis, ok := needlegantry.ParseAxis(payload[0])
		if !ok {
			return Frame{}, fmt.Errorf("%w: unknown axis %q", ErrInvalidPacket, payload[0])
		}
		dir, ok := needlegantry.ParseDirection(payload[1])
		if !ok {
			return Frame{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidPacket, payload[1])
		}
		f.Axis, f.Direction = axis, dir
	case needlegantry.ResponseCoordinateAck:
		if len(payload) != 2*coordinateDigits {
			return Frame{}, fmt.Errorf("%w: coordinate payload %q", ErrInvalidPacket, payload)
		}
		c, err := DecodeCoordinate(append(payload[:len(payload):len(payload)], needlegantry.TerminationChar))
		if err != nil {
			return Frame{}, err
		}
		f.Coordinate = c
	default:
		return Frame{}, fmt.Errorf("%w: unknown opcode %q", ErrInvalidPacket, f.Opcode)
	}

	return f, nil
}
