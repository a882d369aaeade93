// Package protocol implements the byte framing spoken between the gantry firmware and
// its host: fixed-width ASCII coordinate packets on the way in and single-opcode
// response frames on the way out.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// CoordinateSize is the length of a Wait-For-Coordinate payload: four x digits,
	// four y digits and one trailing byte that is ignored
	CoordinateSize   = 9
	coordinateDigits = 4

	// MaxCoordinate is the largest value a four digit field can carry
	MaxCoordinate = 9999

	LegacySentinel   byte = '8'
	LegacyTerminator byte = '9'
)

var (
	ErrInvalidLength = errors.New("invalid packet length")
	ErrInvalidPacket = errors.New("invalid packet")
)

// Coordinate is an insertion location in whole millimetres
type Coordinate struct {
	X int
	Y int
}

// IsZero is true when no coordinate has been received
func (c Coordinate) IsZero() bool {
	return c.X == 0 && c.Y == 0
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%04d,%04d)", c.X, c.Y)
}

// DecodeCoordinate decodes a nine byte coordinate payload. Bytes 0-3 are x, bytes 4-7
// are y and byte 8 is discarded.
func DecodeCoordinate(b []byte) (Coordinate, error) {
	if len(b) != CoordinateSize {
		return Coordinate{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, CoordinateSize, len(b))
	}

	x, err := decodeDigits(b[0:coordinateDigits])
	if err != nil {
		return Coordinate{}, err
	}
	y, err := decodeDigits(b[coordinateDigits : 2*coordinateDigits])
	if err != nil {
		return Coordinate{}, err
	}

	return Coordinate{X: x, Y: y}, nil
}

// EncodeCoordinate builds the nine byte payload for c, terminated by a newline
func EncodeCoordinate(c Coordinate) ([]byte, error) {
	if err := validateRange(c, MaxCoordinate); err != nil {
		return nil, err
	}
	out := make([]byte, 0, CoordinateSize)
	out = appendDigits(out, c.X, coordinateDigits)
	out = appendDigits(out, c.Y, coordinateDigits)
	return append(out, '\n'), nil
}

// LegacyLayout describes one revision of the framed coordinate packet:
//
//	'8' x-digits... '9' y-digits...
type LegacyLayout struct {
	Length           int
	TerminatorOffset int
}

var (
	// LegacyLayout8 carries three digits per field
	LegacyLayout8 = LegacyLayout{Length: 8, TerminatorOffset: 4}
	// LegacyLayout10 carries four digits per field
	LegacyLayout10 = LegacyLayout{Length: 10, TerminatorOffset: 5}
)

// Digits is the number of digits in each field
func (l LegacyLayout) Digits() int {
	return l.TerminatorOffset - 1
}

func (l LegacyLayout) maxValue() int {
	m := 1
	for range l.Digits() {
		m *= 10
	}
	return m - 1
}

// DecodeLegacy decodes a framed packet. The sentinel and terminator are checked before
// any digit is read.
func DecodeLegacy(b []byte, layout LegacyLayout) (Coordinate, error) {
	if len(b) != layout.Length {
		return Coordinate{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, layout.Length, len(b))
	}
	if b[0] != LegacySentinel {
		return Coordinate{}, fmt.Errorf("%w: expected sentinel %q at 0, got %q", ErrInvalidPacket, LegacySentinel, b[0])
	}
	if b[layout.TerminatorOffset] != LegacyTerminator {
		return Coordinate{}, fmt.Errorf("%w: expected terminator %q at %d, got %q", ErrInvalidPacket, LegacyTerminator, layout.TerminatorOffset, b[layout.TerminatorOffset])
	}

	x, err := decodeDigits(b[1:layout.TerminatorOffset])
	if err != nil {
		return Coordinate{}, err
	}
	y, err := decodeDigits(b[layout.TerminatorOffset+1 : layout.TerminatorOffset+1+layout.Digits()])
	if err != nil {
		return Coordinate{}, err
	}

	return Coordinate{X: x, Y: y}, nil
}

// EncodeLegacy builds a framed packet for c
func EncodeLegacy(c Coordinate, layout LegacyLayout) ([]byte, error) {
	if err := validateRange(c, layout.maxValue()); err != nil {
		return nil, err
	}
	out := make([]byte, 0, layout.Length)
	out = append(out, LegacySentinel)
	out = appendDigits(out, c.X, layout.Digits())
	out = append(out, LegacyTerminator)
	out = appendDigits(out, c.Y, layout.Digits())
	return out, nil
}

// decodeDigits sums digit*place value, most significant digit first
func decodeDigits(b []byte) (int, error) {
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: non-digit %q", ErrInvalidPacket, c)
		}
		v = v*10 + int(c-'0')
	}
	return v, nil
}

func appendDigits(out []byte, v, n int) []byte {
	start := len(out)
	out = append(out, make([]byte, n)...)
	for i := n - 1; i >= 0; i-- {
		out[start+i] = byte('0' + v%10)
		v /= 10
	}
	return out
}

func validateRange(c Coordinate, limit int) error {
	if c.X < 0 || c.Y < 0 || c.X > limit || c.Y > limit {
		return fmt.Errorf("coordinate %v out of range 0-%d", c, limit)
	}
	return nil
}
