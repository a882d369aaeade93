package commands

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepClock struct {
	now time.Time
}

func (c *stepClock) Now() time.Time        { return c.now }
func (c *stepClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type move struct {
	Axis      needlegantry.Axis
	Direction needlegantry.Direction
	MM        int
}

type mockController struct {
	link  *protocol.BufferStream
	clock *stepClock

	statuses    []string
	echoes      []string
	coordinates []protocol.Coordinate
	moves       []move
	homes       int
	works       int
	workErr     error
}

func newMockController(input string) *mockController {
	return &mockController{
		link:  protocol.NewBufferStream([]byte(input)),
		clock: &stepClock{},
	}
}

func (m *mockController) Echo(s string)   { m.echoes = append(m.echoes, s) }
func (m *mockController) Status(s string) { m.statuses = append(m.statuses, s) }
func (m *mockController) SetCoordinate(c protocol.Coordinate) {
	m.coordinates = append(m.coordinates, c)
}
func (m *mockController) MoveYHome() error { m.homes++; return nil }
func (m *mockController) MoveStepper(a needlegantry.Axis, d needlegantry.Direction, mm int) error {
	m.moves = append(m.moves, move{a, d, mm})
	return nil
}
func (m *mockController) GoToWork() error { m.works++; return m.workErr }

func (m *mockController) NextByte(context.Context) (byte, error) {
	if m.link.Available() == 0 {
		return 0, io.EOF
	}
	return m.link.ReadByte()
}

func (m *mockController) ReadPayload(n int) ([]byte, error) {
	return protocol.ReadFull(m.link, m.clock, n, 50*time.Millisecond)
}

func (m *mockController) ReadLine(limit int) ([]byte, error) {
	return protocol.ReadUntil(m.link, m.clock, needlegantry.TerminationChar, limit, 50*time.Millisecond)
}

func (m *mockController) DiscardInput() error { return m.link.Flush() }

func TestRun(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected func(*testing.T, *mockController)
		err      error
	}{
		{
			"Echo",
			"0hello\n9",
			func(t *testing.T, m *mockController) {
				assert.Equal(t, []string{"hello"}, m.echoes)
			},
			ErrReset,
		},
		{
			"WaitCoordinate",
			"501230045\n9",
			func(t *testing.T, m *mockController) {
				assert.Equal(t, []protocol.Coordinate{{X: 123, Y: 45}}, m.coordinates)
			},
			ErrReset,
		},
		{
			"MoveStepper",
			"3XF00123ZB000429",
			func(t *testing.T, m *mockController) {
				assert.Equal(t, []move{
					{needlegantry.AxisX, needlegantry.Forward, 12},
					{needlegantry.AxisZ, needlegantry.Backward, 4},
				}, m.moves)
				assert.Equal(t, 1, m.homes)
			},
			ErrReset,
		},
		{
			"MoveStepperInvalidAxis",
			"3QF0012\n9",
			func(t *testing.T, m *mockController) {
				assert.Empty(t, m.moves)
				require.Len(t, m.statuses, 1)
				assert.Contains(t, m.statuses[0], "invalid axis")
			},
			ErrReset,
		},
		{
			"UnrecognizedOpcode",
			"7\r\n49",
			func(t *testing.T, m *mockController) {
				require.Len(t, m.statuses, 1)
				assert.Contains(t, m.statuses[0], ErrUnrecognizedOpcode.Error())
				assert.Equal(t, 1, m.works)
			},
			ErrReset,
		},
		{
			"ShortPayloadIsNotDispatched",
			"52000",
			func(t *testing.T, m *mockController) {
				assert.Equal(t, 0, m.homes)
				assert.Empty(t, m.coordinates)
				require.Len(t, m.statuses, 1)
				assert.Contains(t, m.statuses[0], protocol.ErrTimeout.Error())
			},
			io.EOF,
		},
		{
			"EndOfInput",
			"2",
			func(t *testing.T, m *mockController) {
				assert.Equal(t, 1, m.homes)
			},
			io.EOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockController(tt.input)

			err := Run(context.Background(), m)
			assert.ErrorIs(t, err, tt.err)
			tt.expected(t, m)
		})
	}
}

func TestDispatch(t *testing.T) {
	t.Run("ShortCoordinateDiscardsInput", func(t *testing.T) {
		m := newMockController("0123")

		err := Dispatch(m, needlegantry.RequestWaitCoordinate)
		assert.ErrorIs(t, err, protocol.ErrTimeout)
		assert.Empty(t, m.coordinates)
		require.Len(t, m.statuses, 1)
		assert.Equal(t, 0, m.link.Available())
	})

	t.Run("ShortMoveDiscardsInput", func(t *testing.T) {
		m := newMockController("XF0")

		err := Dispatch(m, needlegantry.RequestMoveStepper)
		assert.ErrorIs(t, err, protocol.ErrTimeout)
		assert.Empty(t, m.moves)
		assert.Equal(t, 0, m.link.Available())
	})

	t.Run("InvalidCoordinate", func(t *testing.T) {
		m := newMockController("01x300450more")

		err := Dispatch(m, needlegantry.RequestWaitCoordinate)
		assert.ErrorIs(t, err, protocol.ErrInvalidPacket)
		assert.Equal(t, 0, m.link.Available())
	})

	t.Run("GoToWorkErrorBecomesStatus", func(t *testing.T) {
		m := newMockController("")
		m.workErr = assert.AnError

		err := Dispatch(m, needlegantry.RequestGoToWork)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, []string{"error: " + assert.AnError.Error()}, m.statuses)
	})

	t.Run("ResetIsNotReported", func(t *testing.T) {
		m := newMockController("")

		err := Dispatch(m, needlegantry.RequestReset)
		assert.ErrorIs(t, err, ErrReset)
		assert.Empty(t, m.statuses)
	})
}

func TestLookup(t *testing.T) {
	for _, opcode := range []byte{
		needlegantry.RequestEcho,
		needlegantry.RequestMoveYHome,
		needlegantry.RequestMoveStepper,
		needlegantry.RequestGoToWork,
		needlegantry.RequestWaitCoordinate,
		needlegantry.RequestReset,
	} {
		_, ok := Lookup(opcode)
		assert.True(t, ok, "opcode %q", opcode)
	}

	for _, opcode := range []byte{'1', 'D', 'V', 'H'} {
		_, ok := Lookup(opcode)
		assert.False(t, ok, "opcode %q", opcode)
	}
}
