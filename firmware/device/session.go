package device

import (
	"github.com/calvinmclean/needlegantry/protocol"
)

// Position is the last commanded target. X and Y are millimetres from the decoded
// coordinate; Z is the probed depth in Z steps.
type Position struct {
	X int
	Y int
	Z int
}

// Session holds the state of the current work cycle
type Session struct {
	Position Position
	// Original is the coordinate remembered for the cycle reset and retract distances
	Original protocol.Coordinate
	// FoundDepth is set once a probe confidently detects the surface
	FoundDepth bool
}

// SetCoordinate records a decoded coordinate as both the target and the remembered origin
func (s *Session) SetCoordinate(c protocol.Coordinate) {
	s.Position.X = c.X
	s.Position.Y = c.Y
	s.Original = c
}

// Target returns the x/y target as a coordinate
func (s *Session) Target() protocol.Coordinate {
	return protocol.Coordinate{X: s.Position.X, Y: s.Position.Y}
}

// EndCycle restores the remembered coordinate and clears the probe so the next cycle
// probes again
func (s *Session) EndCycle() {
	s.Position = Position{X: s.Original.X, Y: s.Original.Y}
	s.FoundDepth = false
}

// Reset forgets everything, as after a power cycle
func (s *Session) Reset() {
	*s = Session{}
}
