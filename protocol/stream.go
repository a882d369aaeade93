package protocol

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a bounded wait expires before the expected bytes arrive
var ErrTimeout = errors.New("timed out")

// pollInterval is how long a reader sleeps when no bytes are buffered
const pollInterval = time.Millisecond

// Stream is the byte link to the host
type Stream interface {
	// Available returns the number of bytes that can be read without blocking
	Available() int
	ReadByte() (byte, error)
	Write([]byte) (int, error)
	// Flush discards any buffered input
	Flush() error
}

// Clock is the timing primitive used for bounded waits
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

// ReadFull waits until n bytes are available and reads them. A timeout of zero waits
// forever.
func ReadFull(s Stream, clk Clock, n int, timeout time.Duration) ([]byte, error) {
	deadline := clk.Now().Add(timeout)
	for s.Available() < n {
		if e, ok := s.(interface{ Err() error }); ok {
			if err := e.Err(); err != nil && s.Available() < n {
				return nil, err
			}
		}
		if timeout > 0 && !clk.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: waiting for %d bytes, have %d", ErrTimeout, n, s.Available())
		}
		clk.Sleep(pollInterval)
	}

	out := make([]byte, n)
	for i := range out {
		b, err := s.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// ReadUntil reads bytes up to and excluding delim. At most limit bytes are kept.
func ReadUntil(s Stream, clk Clock, delim byte, limit int, timeout time.Duration) ([]byte, error) {
	var out []byte
	for {
		b, err := ReadFull(s, clk, 1, timeout)
		if err != nil {
			return out, err
		}
		if b[0] == delim {
			return out, nil
		}
		if len(out) < limit {
			out = append(out, b[0])
		}
	}
}

// Send writes a frame and reports short writes as errors
func Send(s Stream, frame []byte) error {
	n, err := s.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	return nil
}
