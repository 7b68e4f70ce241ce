// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// ProgressBar draws a terminal progress bar that fills as a task
// advances. Increment is called from the tracked loop; drawing happens
// on a separate goroutine on a fixed timer, redrawing in place.
type ProgressBar struct {
	mu      sync.Mutex
	width   int
	max     int
	current int
	start   time.Time

	updateEvery time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

// NewProgressBar returns a new progress bar that is width characters
// wide and reaches 100% capacity after max Increment() calls, redrawn
// every updateEvery.
func NewProgressBar(width, max int, updateEvery time.Duration) *ProgressBar {
	return &ProgressBar{
		width:       width,
		max:         max,
		start:       time.Now(),
		updateEvery: updateEvery,
		done:        make(chan struct{}),
	}
}

// Increment advances the internal progress counter by one completed
// unit, saturating at 100%.
func (p *ProgressBar) Increment() {
	p.mu.Lock()
	if p.current < p.max {
		p.current++
	}
	p.mu.Unlock()
}

// Display starts drawing the progress bar to the screen until Close is
// called. It should only be called once.
func (p *ProgressBar) Display() {
	p.start = time.Now()
	go func() {
		tick := time.NewTicker(p.updateEvery)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				fmt.Printf("\r\033[K%v", p.render())
			case <-p.done:
				return
			}
		}
	}()
}

// Close stops the drawing goroutine, draws the final state of the bar,
// and jumps to the next line.
func (p *ProgressBar) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		fmt.Printf("\r\033[K%v\n", p.render())
	})
}

// render formats the bar at the current progress.
func (p *ProgressBar) render() string {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()

	filled := current * p.width / p.max

	var bar strings.Builder
	bar.WriteString("|")
	bar.WriteString(strings.Repeat("█", filled))
	bar.WriteString(strings.Repeat(" ", p.width-filled))
	fmt.Fprintf(&bar, "| [%.2f%% | elapsed: %v]",
		float64(current)/float64(p.max)*100,
		time.Since(p.start).Round(time.Second))

	return bar.String()
}
