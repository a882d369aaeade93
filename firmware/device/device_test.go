package device

import (
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

type segment struct {
	Axis      needlegantry.Axis
	Direction needlegantry.Direction
	Steps     int
}

// fakeIO records step pulses and simulates the capacitive sensor touching the surface
// once Z has travelled sensorAt steps forward
type fakeIO struct {
	pins   PinConfig
	levels map[Pin]bool
	pulses map[Pin]int

	segments []segment
	zPos     int

	sensorAt int
	// debounce overrides sensor reads after the first triggered read
	debounce func(i int) bool
	samples  int
}

func newFakeIO(pins PinConfig) *fakeIO {
	return &fakeIO{pins: pins, levels: map[Pin]bool{}, pulses: map[Pin]int{}}
}

func (f *fakeIO) Read(p Pin) bool {
	if p != f.pins.CapSense {
		return f.levels[p]
	}
	touching := f.sensorAt > 0 && f.zPos >= f.sensorAt
	if !touching || f.debounce == nil {
		return touching
	}
	f.samples++
	if f.samples == 1 {
		return true
	}
	return f.debounce(f.samples - 2)
}

func (f *fakeIO) Write(p Pin, level bool) {
	rising := level && !f.levels[p]
	f.levels[p] = level
	if !rising {
		return
	}
	f.pulses[p]++

	for _, axis := range needlegantry.Axes {
		if f.pins.Axes[axis].Step != p {
			continue
		}
		dir := needlegantry.Backward
		if f.levels[f.pins.Axes[axis].Direction] {
			dir = needlegantry.Forward
		}
		if axis == needlegantry.AxisZ {
			if dir == needlegantry.Forward {
				f.zPos++
			} else {
				f.zPos--
			}
		}
		if n := len(f.segments); n > 0 && f.segments[n-1].Axis == axis && f.segments[n-1].Direction == dir {
			f.segments[n-1].Steps++
			return
		}
		f.segments = append(f.segments, segment{axis, dir, 1})
	}
}

func (f *fakeIO) stepPulses() int {
	total := 0
	for _, axis := range needlegantry.Axes {
		total += f.pulses[f.pins.Axes[axis].Step]
	}
	return total
}

type fakeServo struct {
	pos    int
	writes []int
}

func (s *fakeServo) ReadPosition() int { return s.pos }
func (s *fakeServo) WritePosition(p int) {
	s.pos = p
	s.writes = append(s.writes, p)
}

// disableAt turns the interlock off on the Nth check
type disableAt struct {
	n     int
	calls int
}

func (i *disableAt) Enabled() bool {
	i.calls++
	return i.calls < i.n
}

// replyStream answers every wait-coordinate frame with the next queued reply
type replyStream struct {
	*protocol.BufferStream
	replies [][]byte
}

func (r *replyStream) Write(p []byte) (int, error) {
	if len(p) > 0 && p[0] == needlegantry.ResponseWaitCoordinate && len(r.replies) > 0 {
		r.Feed(r.replies[0])
		r.replies = r.replies[1:]
	}
	return r.BufferStream.Write(p)
}

type testDevice struct {
	*Device
	io    *fakeIO
	servo *fakeServo
	link  *protocol.BufferStream
}

func newTestDevice(t *testing.T, rev HardwareRevision, calibrate func(*CalibrationConfig), hal HAL) testDevice {
	t.Helper()

	stepperCfg, err := DefaultStepperConfig(rev)
	require.NoError(t, err)
	calibrationCfg := DefaultCalibration()
	if calibrate != nil {
		calibrate(&calibrationCfg)
	}

	io := newFakeIO(stepperCfg.Pins)
	servo := &fakeServo{}
	hal.IO = io
	hal.Servo = servo
	hal.Clock = &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	var link *protocol.BufferStream
	switch l := hal.Link.(type) {
	case nil:
		link = protocol.NewBufferStream(nil)
		hal.Link = link
	case *replyStream:
		link = l.BufferStream
	}

	d, err := New(stepperCfg, DefaultServoConfig(), calibrationCfg, hal)
	require.NoError(t, err)

	return testDevice{Device: &d, io: io, servo: servo, link: link}
}

func TestGeometry(t *testing.T) {
	stepperCfg, err := DefaultStepperConfig(RevisionSingleY)
	require.NoError(t, err)
	g := Geometry{StepsPerRevolution: stepperCfg.StepsPerRevolution, Leads: stepperCfg.Leads}

	tests := []struct {
		axis     needlegantry.Axis
		mm       float64
		expected int
	}{
		{needlegantry.AxisX, 123, 12300},
		{needlegantry.AxisY, 45, 1125},
		{needlegantry.AxisZ, 10, 250},
		{needlegantry.AxisY, 0.03, 0},
		{needlegantry.AxisY, -4, 100},
	}

	for _, tt := range tests {
		t.Run(tt.axis.String(), func(t *testing.T) {
			assert.Equal(t, tt.expected, g.MillimetersToSteps(tt.axis, tt.mm))
		})
	}

	t.Run("MonotonicAndDeterministic", func(t *testing.T) {
		for _, axis := range needlegantry.Axes {
			prev := 0
			for mm := 0.0; mm <= 500; mm += 0.37 {
				steps := g.MillimetersToSteps(axis, mm)
				assert.GreaterOrEqual(t, steps, prev)
				assert.Equal(t, steps, g.MillimetersToSteps(axis, mm))
				prev = steps
			}
		}
	})

	t.Run("StepsToMillimeters", func(t *testing.T) {
		assert.InDelta(t, 45.0, g.StepsToMillimeters(needlegantry.AxisY, 1125), 0.0001)
	})
}

func TestNew(t *testing.T) {
	stepperCfg, err := DefaultStepperConfig(RevisionSingleY)
	require.NoError(t, err)

	t.Run("MissingHAL", func(t *testing.T) {
		_, err := New(stepperCfg, DefaultServoConfig(), DefaultCalibration(), HAL{})
		assert.Error(t, err)
	})

	t.Run("InvalidCalibration", func(t *testing.T) {
		cal := DefaultCalibration()
		cal.DebounceThreshold = cal.DebounceSamples
		_, err := New(stepperCfg, DefaultServoConfig(), cal, HAL{})
		assert.ErrorContains(t, err, "invalid calibration config")
	})

	t.Run("UnknownRevision", func(t *testing.T) {
		_, err := DefaultStepperConfig("triple-y")
		assert.Error(t, err)
	})
}

func TestMove(t *testing.T) {
	t.Run("Completed", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})

		result, err := d.MoveAxis(needlegantry.AxisX, 10, needlegantry.Backward)
		require.NoError(t, err)
		assert.Equal(t, MotionResult{Status: StatusCompleted, Steps: 10}, result)
		assert.Equal(t, []segment{{needlegantry.AxisX, needlegantry.Backward, 10}}, d.io.segments)

		frames, err := d.link.Frames()
		require.NoError(t, err)
		require.Len(t, frames, 10)
		assert.Equal(t, protocol.Frame{Opcode: needlegantry.ResponsePosition, Axis: needlegantry.AxisX, Direction: needlegantry.Backward}, frames[0])
	})

	t.Run("DisabledMidMove", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{Interlock: &disableAt{n: 3}})

		result, err := d.MoveAxis(needlegantry.AxisY, 10, needlegantry.Forward)
		require.NoError(t, err)
		assert.Equal(t, StatusDisabled, result.Status)
		assert.Equal(t, 2, result.Steps)
		assert.Equal(t, 2, d.io.pulses[d.io.pins.Axes[needlegantry.AxisY].Step])
		assert.False(t, d.io.levels[d.io.pins.Axes[needlegantry.AxisY].Step], "no partial pulse")
	})

	t.Run("DualYMirror", func(t *testing.T) {
		d := newTestDevice(t, RevisionDualY, nil, HAL{})

		_, err := d.MoveAxis(needlegantry.AxisY, 5, needlegantry.Forward)
		require.NoError(t, err)
		assert.Equal(t, 5, d.io.pulses[53])
		assert.Equal(t, 5, d.io.pulses[52])
		assert.True(t, d.io.levels[50])
		assert.True(t, d.io.levels[51])
	})

	t.Run("ZBackwardDoesNotProbe", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 1

		result, err := d.MoveAxis(needlegantry.AxisZ, 4, needlegantry.Backward)
		require.NoError(t, err)
		assert.False(t, result.Probed)
		assert.Equal(t, []segment{{needlegantry.AxisZ, needlegantry.Backward, 4}}, d.io.segments)
	})
}

func TestProbeDepth(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 7

		depth, err := d.ProbeDepth()
		require.NoError(t, err)
		assert.Equal(t, 7, depth)
		assert.True(t, d.Session().FoundDepth)
		assert.Equal(t, 7, d.Session().Position.Z)
	})

	t.Run("DebounceFails", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 7
		d.io.debounce = func(i int) bool { return i < 2 }

		depth, err := d.ProbeDepth()
		require.NoError(t, err)
		assert.Equal(t, 0, depth)
		assert.False(t, d.Session().FoundDepth)
	})

	t.Run("ForwardZMoveProbesOnce", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 7

		result, err := d.MoveAxis(needlegantry.AxisZ, 1000, needlegantry.Forward)
		require.NoError(t, err)
		assert.True(t, result.Probed)
		assert.Equal(t, 7, result.Depth)

		result, err = d.MoveAxis(needlegantry.AxisZ, 3, needlegantry.Forward)
		require.NoError(t, err)
		assert.False(t, result.Probed)
		assert.Equal(t, []segment{{needlegantry.AxisZ, needlegantry.Forward, 10}}, d.io.segments)
	})

	t.Run("Disabled", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{Interlock: &disableAt{n: 4}})
		d.io.sensorAt = 7

		depth, err := d.ProbeDepth()
		require.NoError(t, err)
		assert.Equal(t, 0, depth)
		assert.Equal(t, 3, d.io.zPos)
		assert.False(t, d.Session().FoundDepth)
	})

	t.Run("MaxProbeSteps", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, func(c *CalibrationConfig) { c.MaxProbeSteps = 20 }, HAL{})

		_, err := d.ProbeDepth()
		assert.ErrorIs(t, err, protocol.ErrTimeout)
		assert.Equal(t, 20, d.io.zPos)
	})

	t.Run("ProbeTimeout", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, func(c *CalibrationConfig) { c.ProbeTimeout = 80 * time.Millisecond }, HAL{})

		_, err := d.ProbeDepth()
		assert.ErrorIs(t, err, protocol.ErrTimeout)
		// each probe pulse holds ProbeSettleDelay twice
		assert.Equal(t, 10, d.io.zPos)
	})
}

func TestGoToWork(t *testing.T) {
	t.Run("NoCoordinateYet", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})

		err := d.GoToWork()
		assert.ErrorIs(t, err, ErrNoCoordinateYet)
		assert.Equal(t, 0, d.io.stepPulses())
		assert.Empty(t, d.servo.writes)
	})

	t.Run("FullCycle", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 300

		coord, err := protocol.DecodeCoordinate([]byte("01230045\n"))
		require.NoError(t, err)
		d.SetCoordinate(coord)

		require.NoError(t, d.GoToWork())

		F, B := needlegantry.Forward, needlegantry.Backward
		X, Y, Z := needlegantry.AxisX, needlegantry.AxisY, needlegantry.AxisZ
		assert.Equal(t, []segment{
			{Y, F, 1250},
			{X, F, 12300},
			{Y, F, 1125},
			{Z, F, 300},
			{Z, B, 250},
			{Y, F, 250},
			{X, F, 2000},
			{Z, B, 50},
			{X, B, 14300},
			{Y, B, 1375},
		}, d.io.segments)

		session := d.Session()
		assert.False(t, session.FoundDepth)
		assert.Equal(t, protocol.Coordinate{X: 123, Y: 45}, session.Original)
		assert.Equal(t, Position{X: 123, Y: 45}, session.Position)
		assert.Equal(t, 0, d.io.zPos)

		// inject sweeps 0 to 180 and pull returns to 0
		require.NotEmpty(t, d.servo.writes)
		assert.Contains(t, d.servo.writes, 180)
		assert.Equal(t, 0, d.servo.pos)

		frames, err := d.link.Frames()
		require.NoError(t, err)
		assert.Equal(t, needlegantry.ResponseCoordinateAck, frames[0].Opcode)
		assert.Equal(t, coord, frames[0].Coordinate)
		assert.Equal(t, needlegantry.ResponseFinish, frames[len(frames)-1].Opcode)
	})

	t.Run("DepthNotFound", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 40
		d.io.debounce = func(int) bool { return false }
		d.SetCoordinate(protocol.Coordinate{X: 1, Y: 2})

		err := d.GoToWork()
		assert.ErrorIs(t, err, ErrDepthNotFound)
		assert.Equal(t, 0, d.io.zPos)
		assert.False(t, d.Session().FoundDepth)
		assert.Equal(t, Position{X: 1, Y: 2}, d.Session().Position)
		assert.Empty(t, d.servo.writes)
	})

	t.Run("SurfaceTouchingAtStart", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{})
		d.io.sensorAt = 1
		d.io.zPos = 1
		d.SetCoordinate(protocol.Coordinate{X: 1, Y: 2})

		require.NoError(t, d.GoToWork())
		assert.Contains(t, d.servo.writes, 180)

		frames, err := d.link.Frames()
		require.NoError(t, err)
		var statuses []string
		for _, f := range frames {
			if f.Opcode == needlegantry.ResponseStatus {
				statuses = append(statuses, f.Text)
			}
		}
		assert.Contains(t, statuses, needlegantry.StatusDepthPrefix+"0")
		assert.Equal(t, needlegantry.ResponseFinish, frames[len(frames)-1].Opcode)
	})

	t.Run("Disabled", func(t *testing.T) {
		d := newTestDevice(t, RevisionSingleY, nil, HAL{Interlock: &disableAt{n: 100}})
		d.SetCoordinate(protocol.Coordinate{X: 1, Y: 2})

		err := d.GoToWork()
		assert.ErrorIs(t, err, ErrDisabled)
		assert.Equal(t, 99, d.io.stepPulses())
		assert.Equal(t, protocol.Coordinate{X: 1, Y: 2}, d.Session().Original)
	})
}

func TestErrorCheck(t *testing.T) {
	t.Run("CorrectsBeyondTolerance", func(t *testing.T) {
		link := &replyStream{
			BufferStream: protocol.NewBufferStream(nil),
			replies:      [][]byte{[]byte("81309044")},
		}
		d := newTestDevice(t, RevisionSingleY, nil, HAL{Link: link})
		d.SetCoordinate(protocol.Coordinate{X: 123, Y: 45})

		require.NoError(t, d.ErrorCheck())
		assert.Equal(t, []segment{{needlegantry.AxisX, needlegantry.Forward, 700}}, d.io.segments)
		assert.Equal(t, protocol.Coordinate{X: 130, Y: 44}, d.Session().Original)
	})

	t.Run("RetriesInvalidPacket", func(t *testing.T) {
		link := &replyStream{
			BufferStream: protocol.NewBufferStream(nil),
			replies:      [][]byte{[]byte("12345678"), []byte("81179040")},
		}
		d := newTestDevice(t, RevisionSingleY, nil, HAL{Link: link})
		d.SetCoordinate(protocol.Coordinate{X: 123, Y: 45})

		require.NoError(t, d.ErrorCheck())
		assert.Equal(t, []segment{
			{needlegantry.AxisX, needlegantry.Backward, 600},
			{needlegantry.AxisY, needlegantry.Backward, 125},
		}, d.io.segments)

		frames, err := link.Frames()
		require.NoError(t, err)
		waits := 0
		for _, f := range frames {
			if f.Opcode == needlegantry.ResponseWaitCoordinate {
				waits++
			}
		}
		assert.Equal(t, 2, waits)
	})

	t.Run("Timeout", func(t *testing.T) {
		link := &replyStream{BufferStream: protocol.NewBufferStream(nil)}
		d := newTestDevice(t, RevisionSingleY, nil, HAL{Link: link})
		d.SetCoordinate(protocol.Coordinate{X: 123, Y: 45})

		assert.ErrorIs(t, d.ErrorCheck(), protocol.ErrTimeout)
		assert.Empty(t, d.io.segments)
	})
}

func TestMoveStepper(t *testing.T) {
	d := newTestDevice(t, RevisionSingleY, nil, HAL{})
	d.io.sensorAt = 12

	require.NoError(t, d.MoveStepper(needlegantry.AxisX, needlegantry.Forward, 2))
	require.NoError(t, d.MoveStepper(needlegantry.AxisZ, needlegantry.Forward, 1))

	assert.Equal(t, []segment{
		{needlegantry.AxisX, needlegantry.Forward, 200},
		{needlegantry.AxisZ, needlegantry.Forward, 12},
	}, d.io.segments)

	frames, err := d.link.Frames()
	require.NoError(t, err)
	last := frames[len(frames)-1]
	assert.Equal(t, needlegantry.ResponseStatus, last.Opcode)
	assert.Equal(t, "depth 12", last.Text)
}

func TestReset(t *testing.T) {
	d := newTestDevice(t, RevisionSingleY, nil, HAL{})
	d.SetCoordinate(protocol.Coordinate{X: 5, Y: 6})

	d.Reset()
	assert.Equal(t, Session{}, d.Session())

	frames, err := d.link.Frames()
	require.NoError(t, err)
	assert.Equal(t, needlegantry.ResponseInitialized, frames[len(frames)-1].Opcode)
}

func TestPinInterlock(t *testing.T) {
	io := newFakeIO(PinConfig{CapSense: NoPin})
	lock := PinInterlock{IO: io, Pin: 7, ActiveLow: true}

	assert.True(t, lock.Enabled())
	io.levels[7] = true
	assert.False(t, lock.Enabled())
}
