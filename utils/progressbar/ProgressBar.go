// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"strings"
	"time"
)

// ProgressBar implements a concurrent progress bar. Increment may be
// called from any goroutine. The bar is drawn by a single background
// goroutine started by Display, which owns all progress accounting.
type ProgressBar struct {
	// width determines the number of characters wide that the progress
	// bar should be
	width float64

	// maxProgress determines the number of times Increment() should
	// be called before the progress bar reaches 100%
	maxProgress float64

	// incrementEvent carries one event per Increment() call to the
	// drawing goroutine
	incrementEvent chan struct{}

	closeEvent chan struct{}
	closed     bool

	updateEvery       time.Duration
	updateAtIncrement bool
}

// NewProgressBar returns a new progress bar that is width characters
// wide and reaches 100% capacity after max Increment() calls. The bar
// is redrawn every updateEvery and, if updateAtIncrement is true, at
// each Increment() call as well.
func NewProgressBar(width, max int, updateEvery time.Duration,
	updateAtIncrement bool) *ProgressBar {
	return &ProgressBar{
		width:             float64(width),
		maxProgress:       float64(max),
		incrementEvent:    make(chan struct{}),
		closeEvent:        make(chan struct{}),
		closed:            false,
		updateEvery:       updateEvery,
		updateAtIncrement: updateAtIncrement,
	}
}

// Increment increments the internal progress counter. Each time an
// iteration is performed, Increment should be called. Increment never
// blocks the caller, even after the progress bar is closed.
func (p *ProgressBar) Increment() {
	go func() {
		select {
		case p.incrementEvent <- struct{}{}:
		case <-p.closeEvent:
		}
	}()
}

// Close closes the progress bar so that it will no longer display to
// the screen. This function also cleans up any resources the progress
// bar is using.
func (p *ProgressBar) Close() {
	if p.closed {
		panic("close: close on closed progress bar")
	}
	p.closed = true
	close(p.closeEvent)
	fmt.Println() // Jump to next line after printed pbar
}

// Display displays the progress bar on the screen. It should only be
// called once.
func (p *ProgressBar) Display() {
	go func() {
		var currentProgress float64
		var bar strings.Builder

		start := time.Now()
		tick := time.NewTicker(p.updateEvery)

		for {
			redraw := false

			select {
			case <-p.incrementEvent:
				if currentProgress < p.maxProgress {
					currentProgress++
				}
				redraw = p.updateAtIncrement

			case <-tick.C:
				redraw = true

			case <-p.closeEvent:
				tick.Stop()
				return
			}

			if !redraw {
				continue
			}

			bar.Reset()
			bar.Write([]byte("|"))

			currentProg := currentProgress / p.maxProgress * p.width
			for i := 0.0; i < currentProg; i++ {
				bar.Write([]byte("█"))
			}
			for i := currentProg; i < p.width; i++ {
				bar.Write([]byte(" "))
			}
			bar.Write([]byte(fmt.Sprintf("| [%.2f%v | elapsed: %v]",
				currentProgress/p.maxProgress*100, "%",
				time.Since(start).Round(time.Second))))

			fmt.Printf("\n\033[1A\033[K%v", bar.String())
		}
	}()
}
