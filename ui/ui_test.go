package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fyne.io/fyne/v2/test"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinmclean/needlegantry/controller"
	"github.com/calvinmclean/needlegantry/protocol"
)

type fakeGantry struct {
	clock     *clock.Mock
	coord     protocol.Coordinate
	workErr   error
	homed     int
	resets    int
	cycleTime time.Duration

	works atomic.Int32
	// when set, GoToWork signals working and waits for release
	working chan struct{}
	release chan struct{}
}

func (g *fakeGantry) SendCoordinate(_ context.Context, coord protocol.Coordinate) error {
	g.coord = coord
	return nil
}

func (g *fakeGantry) GoToWork(context.Context) (controller.CycleResult, error) {
	g.works.Add(1)
	if g.release != nil {
		g.working <- struct{}{}
		<-g.release
	}
	g.clock.Add(g.cycleTime)
	return controller.CycleResult{Coordinate: g.coord, Depth: 321}, g.workErr
}

func (g *fakeGantry) MoveYHome(context.Context) error {
	g.homed++
	return nil
}

func (g *fakeGantry) Reset(context.Context) error {
	g.resets++
	return nil
}

type update struct {
	state state
	msg   string
}

func newWrapper(g *fakeGantry) (*controllerWrapper, *[]update) {
	updates := &[]update{}
	return &controllerWrapper{
		gantry: g,
		timer:  newTimer(g.clock),
		onUpdate: func(s state, msg string) {
			*updates = append(*updates, update{s, msg})
		},
	}, updates
}

func TestControllerWrapper(t *testing.T) {
	ctx := context.Background()

	t.Run("Cycle", func(t *testing.T) {
		g := &fakeGantry{clock: clock.NewMock(), cycleTime: 95 * time.Second}
		w, updates := newWrapper(g)

		_, err := w.Start(ctx)
		require.ErrorIs(t, err, errNoCoordinate)

		require.NoError(t, w.SendCoordinate(ctx, protocol.Coordinate{X: 12, Y: 34}))
		result, err := w.Start(ctx)
		require.NoError(t, err)
		assert.Equal(t, 321, result.Depth)

		assert.Equal(t, []update{
			{stateCoordinateSent, "coordinate (0012,0034)"},
			{stateWorking, "starting cycle"},
			{stateDone, "finished at (0012,0034), depth 321 steps"},
		}, *updates)

		assert.Equal(t, 95*time.Second, w.timer.elapsed())
		assert.Equal(t, "01:35.0", formatElapsed(w.timer.elapsed()))
	})

	t.Run("Failed", func(t *testing.T) {
		g := &fakeGantry{clock: clock.NewMock(), workErr: errors.New("gantry error: surface not detected")}
		w, updates := newWrapper(g)

		require.NoError(t, w.SendCoordinate(ctx, protocol.Coordinate{X: 1, Y: 1}))
		_, err := w.Start(ctx)
		require.Error(t, err)

		last := (*updates)[len(*updates)-1]
		assert.Equal(t, stateFailed, last.state)
		assert.Equal(t, "gantry error: surface not detected", last.msg)

		// a failed cycle can be retried with a new coordinate
		require.NoError(t, w.SendCoordinate(ctx, protocol.Coordinate{X: 2, Y: 2}))
	})

	t.Run("BusyWhileWorking", func(t *testing.T) {
		g := &fakeGantry{clock: clock.NewMock()}
		w, _ := newWrapper(g)
		w.state = stateWorking

		assert.ErrorIs(t, w.SendCoordinate(ctx, protocol.Coordinate{X: 1, Y: 1}), errBusy)
		assert.ErrorIs(t, w.Home(ctx), errBusy)
		assert.Equal(t, 0, g.homed)
	})

	t.Run("OneCycleAtATime", func(t *testing.T) {
		g := &fakeGantry{
			clock:   clock.NewMock(),
			working: make(chan struct{}, 1),
			release: make(chan struct{}),
		}
		w, _ := newWrapper(g)
		require.NoError(t, w.SendCoordinate(ctx, protocol.Coordinate{X: 5, Y: 6}))

		const starts = 8
		errs := make(chan error, starts)
		for range starts {
			go func() {
				_, err := w.Start(ctx)
				errs <- err
			}()
		}

		<-g.working
		for range starts - 1 {
			assert.ErrorIs(t, <-errs, errBusy)
		}
		assert.ErrorIs(t, w.SendCoordinate(ctx, protocol.Coordinate{X: 1, Y: 1}), errBusy)
		assert.ErrorIs(t, w.Home(ctx), errBusy)

		close(g.release)
		assert.NoError(t, <-errs)
		assert.Equal(t, int32(1), g.works.Load())
		assert.Equal(t, 0, g.homed)
		assert.Equal(t, stateDone, w.current())
	})

	t.Run("HomeAndReset", func(t *testing.T) {
		g := &fakeGantry{clock: clock.NewMock()}
		w, updates := newWrapper(g)

		require.NoError(t, w.Home(ctx))
		require.NoError(t, w.Reset(ctx))

		assert.Equal(t, 1, g.homed)
		assert.Equal(t, 1, g.resets)
		assert.Equal(t, []update{
			{stateIdle, "Y homed"},
			{stateIdle, "reset"},
		}, *updates)
	})
}

func TestParseCoordinateEntry(t *testing.T) {
	coord, err := parseCoordinateEntry(" 120", "45 ")
	require.NoError(t, err)
	assert.Equal(t, protocol.Coordinate{X: 120, Y: 45}, coord)

	_, err = parseCoordinateEntry("abc", "1")
	assert.Error(t, err)

	_, err = parseCoordinateEntry("10000", "1")
	assert.Error(t, err)
}

func TestLogBuffer(t *testing.T) {
	b := &logBuffer{}

	fmt.Fprint(b, "first\nsec")
	assert.Equal(t, "first", b.String())

	fmt.Fprint(b, "ond\n")
	assert.Equal(t, "first\nsecond", b.String())

	for i := range maxLogLines {
		fmt.Fprintf(b, "line %d\n", i)
	}
	lines := strings.Split(b.String(), "\n")
	assert.Len(t, lines, maxLogLines)
	assert.Equal(t, "line 0", lines[0])
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00.0", formatElapsed(0))
	assert.Equal(t, "02:03.4", formatElapsed(2*time.Minute+3*time.Second+456*time.Millisecond))
}

func TestConfig(t *testing.T) {
	t.Run("Preferences", func(t *testing.T) {
		cw := NewConfigWindow(test.NewApp())

		var cfg controller.Config
		cw.loadConfigFromPreferences(&cfg)
		assert.Equal(t, "115200", cfg.BaudRate)
		assert.Equal(t, defaultSurfaceDepth, cfg.SurfaceDepth)

		cfg.SerialPort = controller.SerialPortSimulator
		cfg.APIAddr = ":8080"
		cfg.SurfaceDepth = 250
		cw.saveConfigToPreferences(&cfg)

		var loaded controller.Config
		cw.loadConfigFromPreferences(&loaded)
		assert.Equal(t, cfg, loaded)
	})

	t.Run("Validate", func(t *testing.T) {
		assert.False(t, validConfig(&controller.Config{}))
		assert.True(t, validConfig(&controller.Config{SerialPort: controller.SerialPortNone}))
		assert.True(t, validConfig(&controller.Config{SerialPort: "/dev/ttyACM0", BaudRate: "115200"}))
		assert.False(t, validConfig(&controller.Config{SerialPort: "/dev/ttyACM0", BaudRate: "fast"}))
	})
}

func TestStageLabel(t *testing.T) {
	assert.Equal(t, "Y homed", stageLabel("homed"))
	assert.Equal(t, "injecting", stageLabel("injecting"))
	assert.Equal(t, "Working", stateWorking.String())
}
