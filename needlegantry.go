package needlegantry

// Request opcodes are the first byte of every request sent by the host
const (
	RequestEcho           byte = '0'
	RequestMoveYHome      byte = '2'
	RequestMoveStepper    byte = '3'
	RequestGoToWork       byte = '4'
	RequestWaitCoordinate byte = '5'
	RequestReset          byte = '9'
)

// Response opcodes prefix every frame sent back to the host
const (
	ResponseStatus         byte = '0'
	ResponseInitialized    byte = '1'
	ResponsePosition       byte = '2'
	ResponseCoordinateAck  byte = '7'
	ResponseWaitCoordinate byte = '8'
	ResponseFinish         byte = '9'
)

// TerminationChar ends every response frame and textual request payloads
const TerminationChar = '\n'

// Status texts that mark the end of a command or report a measurement
const (
	StatusHomed       = "homed"
	StatusMoved       = "moved"
	StatusDepthPrefix = "depth "
	StatusErrorPrefix = "error: "
)

// Axis is one of the three linear motion mechanisms of the gantry
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Axes lists every axis in pin-table order
var Axes = [3]Axis{AxisX, AxisY, AxisZ}

func (a Axis) String() string {
	return string(a.Char())
}

// Char is the single-character wire encoding of the axis
func (a Axis) Char() byte {
	switch a {
	case AxisX:
		return 'X'
	case AxisY:
		return 'Y'
	case AxisZ:
		return 'Z'
	default:
		return '?'
	}
}

// ParseAxis decodes the wire character for an axis
func ParseAxis(c byte) (Axis, bool) {
	switch c {
	case 'X', 'x':
		return AxisX, true
	case 'Y', 'y':
		return AxisY, true
	case 'Z', 'z':
		return AxisZ, true
	default:
		return 0, false
	}
}

// Direction is the logical direction asserted on every axis before a move
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "Forward"
	case Backward:
		return "Backward"
	default:
		return "Unknown"
	}
}

// Char is the single-character wire encoding of the direction
func (d Direction) Char() byte {
	if d == Backward {
		return 'B'
	}
	return 'F'
}

// Level is the pin level that selects this direction. It is the same for all axes.
func (d Direction) Level() bool {
	return d == Forward
}

// Opposite returns the other direction
func (d Direction) Opposite() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// ParseDirection decodes the wire character for a direction
func ParseDirection(c byte) (Direction, bool) {
	switch c {
	case 'F', 'f':
		return Forward, true
	case 'B', 'b':
		return Backward, true
	default:
		return 0, false
	}
}
