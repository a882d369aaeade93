package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/widget"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/calvinmclean/needlegantry"
	"github.com/calvinmclean/needlegantry/controller"
	"github.com/calvinmclean/needlegantry/protocol"
)

const maxLogLines = 200

// logBuffer keeps the most recent lines written to it
type logBuffer struct {
	mtx     sync.Mutex
	lines   []string
	partial string
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	text := b.partial + string(p)
	parts := strings.Split(text, "\n")
	b.partial = parts[len(parts)-1]

	b.lines = append(b.lines, parts[:len(parts)-1]...)
	if len(b.lines) > maxLogLines {
		b.lines = b.lines[len(b.lines)-maxLogLines:]
	}

	return len(p), nil
}

func (b *logBuffer) String() string {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return strings.Join(b.lines, "\n")
}

func parseCoordinateEntry(x, y string) (protocol.Coordinate, error) {
	xv, err := strconv.Atoi(strings.TrimSpace(x))
	if err != nil {
		return protocol.Coordinate{}, fmt.Errorf("invalid x: %q", x)
	}
	yv, err := strconv.Atoi(strings.TrimSpace(y))
	if err != nil {
		return protocol.Coordinate{}, fmt.Errorf("invalid y: %q", y)
	}
	if xv < 0 || yv < 0 || xv > protocol.MaxCoordinate || yv > protocol.MaxCoordinate {
		return protocol.Coordinate{}, fmt.Errorf("coordinate must be between 0 and %d", protocol.MaxCoordinate)
	}
	return protocol.Coordinate{X: xv, Y: yv}, nil
}

func formatPosition(p [3]int) string {
	return fmt.Sprintf("X %d  Y %d  Z %d", p[needlegantry.AxisX], p[needlegantry.AxisY], p[needlegantry.AxisZ])
}

// GantryUI is the operator panel. Anything written to it shows up in its log view.
type GantryUI struct {
	app  fyne.App
	logs *logBuffer
}

func NewGantryUI(app fyne.App) *GantryUI {
	return &GantryUI{
		app:  app,
		logs: &logBuffer{},
	}
}

func (ui *GantryUI) Write(p []byte) (int, error) {
	return ui.logs.Write(p)
}

// Show opens the panel for c. The window closes when ctx is done.
func (ui *GantryUI) Show(ctx context.Context, c *controller.Controller, logger *zap.SugaredLogger) {
	window := ui.app.NewWindow("Needle Gantry")

	cycleTimer := newTimer(clock.New())
	cycleTimer.Go(ctx.Done())

	statusLabel := widget.NewLabel(stateIdle.String())
	stageText := widget.NewLabel("")
	positionLabel := widget.NewLabel(formatPosition([3]int{}))

	wrapper := &controllerWrapper{
		gantry: c,
		timer:  cycleTimer,
		onUpdate: func(s state, msg string) {
			logger.Infow("panel update", "state", s.String(), "message", msg)
			fyne.Do(func() {
				statusLabel.SetText(s.String() + ": " + msg)
			})
		},
	}

	c.Subscribe(func(f protocol.Frame) {
		if f.Opcode != needlegantry.ResponseStatus {
			return
		}
		fyne.Do(func() {
			stageText.SetText(stageLabel(f.Text))
		})
	})

	xEntry := widget.NewEntry()
	xEntry.SetPlaceHolder("X mm")
	yEntry := widget.NewEntry()
	yEntry.SetPlaceHolder("Y mm")

	// run keeps slow gantry commands off the UI goroutine
	run := func(action func() error) {
		go func() {
			err := action()
			if err != nil {
				logger.Errorw("action failed", "error", err)
			}
		}()
	}

	startButton := widget.NewButton("Start Gantry", func() {
		coord, err := parseCoordinateEntry(xEntry.Text, yEntry.Text)
		if err != nil {
			statusLabel.SetText(err.Error())
			return
		}
		run(func() error {
			err := wrapper.SendCoordinate(ctx, coord)
			if err != nil {
				return err
			}
			_, err = wrapper.Start(ctx)
			return err
		})
	})
	homeButton := widget.NewButton("Home Y", func() {
		run(func() error { return wrapper.Home(ctx) })
	})
	resetButton := widget.NewButton("Reset", func() {
		run(func() error { return wrapper.Reset(ctx) })
	})

	logContent := widget.NewLabel("")
	logScroll := container.NewVScroll(logContent)
	logScroll.SetMinSize(fyne.NewSize(300, 100))
	logAccordion := widget.NewAccordion(
		widget.NewAccordionItem("Logs", logScroll),
	)

	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			position := formatPosition(c.Position())
			logs := ui.logs.String()
			fyne.Do(func() {
				positionLabel.SetText(position)
				if logContent.Text != logs {
					logContent.SetText(logs)
					logScroll.ScrollToBottom()
				}
			})
		}
	}()

	content := container.NewVBox(
		container.NewHBox(
			container.NewPadded(cycleTimer.text),
			layout.NewSpacer(),
			positionLabel,
		),
		container.NewGridWithColumns(2, xEntry, yEntry),
		startButton,
		container.NewGridWithColumns(2, homeButton, resetButton),
		statusLabel,
		stageText,
		logAccordion,
	)

	go func() {
		<-ctx.Done()
		fyne.Do(func() {
			window.Close()
		})
	}()

	window.SetContent(content)
	window.Resize(fyne.NewSize(360, 320))
	window.Show()
}
