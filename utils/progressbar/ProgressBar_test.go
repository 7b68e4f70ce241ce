package progressbar

import (
	"strings"
	"testing"
	"time"
)

func TestRenderTracksProgress(t *testing.T) {
	const (
		width int = 10
		max   int = 4
	)
	bar := NewProgressBar(width, max, time.Second)

	if out := bar.render(); !strings.Contains(out, "0.00%") {
		t.Errorf("fresh bar renders %q, expected 0.00%%", out)
	}

	bar.Increment()
	bar.Increment()
	out := bar.render()
	if !strings.Contains(out, "50.00%") {
		t.Errorf("half-complete bar renders %q, expected 50.00%%", out)
	}
	if filled := strings.Count(out, "█"); filled != width/2 {
		t.Errorf("half-complete bar fills %v of %v characters", filled,
			width)
	}

	for i := 0; i < max; i++ {
		bar.Increment() // Saturates at 100%
	}
	out = bar.render()
	if !strings.Contains(out, "100.00%") {
		t.Errorf("complete bar renders %q, expected 100.00%%", out)
	}
	if filled := strings.Count(out, "█"); filled != width {
		t.Errorf("complete bar fills %v of %v characters", filled, width)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	bar := NewProgressBar(10, 1, time.Second)
	bar.Display()
	bar.Increment()

	bar.Close()
	bar.Close() // Must not panic or block
}
