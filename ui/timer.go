package ui

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/benbjohnson/clock"
)

// timer shows the time elapsed since the current cycle started. It can be restarted for
// every cycle.
type timer struct {
	clock     clock.Clock
	startTime time.Time
	stopTime  time.Time
	running   bool
	mtx       sync.Mutex
	text      *canvas.Text
}

func newTimer(clk clock.Clock) *timer {
	return &timer{
		clock: clk,
		text:  canvas.NewText(formatElapsed(0), nil),
	}
}

func (t *timer) Start() {
	t.mtx.Lock()
	t.startTime = t.clock.Now()
	t.running = true
	t.mtx.Unlock()
}

func (t *timer) Stop() {
	t.mtx.Lock()
	t.stopTime = t.clock.Now()
	t.running = false
	t.mtx.Unlock()
}

// elapsed is the time since Start, frozen once stopped
func (t *timer) elapsed() time.Duration {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	switch {
	case t.startTime.IsZero():
		return 0
	case t.running:
		return t.clock.Since(t.startTime)
	default:
		return t.stopTime.Sub(t.startTime)
	}
}

// Go refreshes the text until done is closed
func (t *timer) Go(done <-chan struct{}) {
	ticker := t.clock.Ticker(100 * time.Millisecond)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}

			elapsed := t.elapsed()
			fyne.Do(func() {
				t.text.Text = formatElapsed(elapsed)
				t.text.Refresh()
			})
		}
	}()
}

func formatElapsed(elapsed time.Duration) string {
	minutes := int(elapsed.Minutes())
	seconds := int(elapsed.Seconds()) % 60
	tenths := int(elapsed.Milliseconds()) % 1000 / 100
	return fmt.Sprintf("%02d:%02d.%d", minutes, seconds, tenths)
}
