package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	c := RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since should be non-negative")
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if got := c.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}
	c.Advance(1500 * time.Millisecond)
	if got := c.Since(start); got != 1500*time.Millisecond {
		t.Errorf("Since() = %v, want 1.5s", got)
	}
	later := start.Add(time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", got, later)
	}
}

func TestSteppingClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewSteppingClock(start, 2*time.Second)

	first := c.Now()
	second := c.Now()
	if d := second.Sub(first); d != 2*time.Second {
		t.Errorf("consecutive Now() differ by %v, want 2s", d)
	}
	// Since reads without stepping
	if d := c.Since(first); d != 4*time.Second {
		t.Errorf("Since() = %v, want 4s", d)
	}
	if d := c.Since(first); d != 4*time.Second {
		t.Errorf("second Since() = %v, want 4s", d)
	}
}
