package monitoring

import (
	"sync"
	"testing"
)

func TestSetLogger(t *testing.T) {
	prev := Logf
	defer func() { Logf = prev }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")
	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op that must not reach the previous logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestRecorder(t *testing.T) {
	prev := Logf
	defer func() { Logf = prev }()

	rec := &Recorder{}
	SetLogger(rec.Logf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			Logf("[search] channel %d", i)
		}(i)
	}
	wg.Wait()

	lines := rec.Lines()
	if len(lines) != 8 {
		t.Fatalf("got %d lines, want 8", len(lines))
	}
	lines[0] = "mutated"
	if rec.Lines()[0] == "mutated" {
		t.Error("Lines should return a copy")
	}
}
