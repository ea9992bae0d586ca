package sampler

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
)

type captureRecorder struct {
	mu      sync.Mutex
	samples []accumulator.Sample
}

func (c *captureRecorder) Record(s accumulator.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *captureRecorder) byType(t accumulator.SampleType) []accumulator.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []accumulator.Sample
	for _, s := range c.samples {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

func (c *captureRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples)
}

func TestScanGoroutines(t *testing.T) {
	rec := &captureRecorder{}
	s := New(Config{}, rec)

	s.scanGoroutines(time.Now().UnixNano())

	wall := rec.byType(accumulator.Wall)
	if len(wall) == 0 {
		t.Fatal("no wall samples from a live process")
	}
	for _, smp := range wall {
		if smp.Value != 1 {
			t.Errorf("wall sample value = %d, want 1", smp.Value)
		}
		if len(smp.Stack) == 0 {
			t.Error("wall sample has empty stack")
		}
		if isOwnStack(smp.Stack) {
			t.Errorf("sampler recorded its own stack: %v", smp.Stack[0].Function)
		}
	}
}

func TestScanHeapDeltas(t *testing.T) {
	rec := &captureRecorder{}
	s := New(Config{}, rec)

	// Prime the cumulative totals.
	s.scanHeap(time.Now().UnixNano())
	primed := rec.count()

	// With no allocation activity between scans, alloc deltas are zero,
	// so a second scan emits at most the live-heap samples again.
	s.scanHeap(time.Now().UnixNano())
	allocAfter := rec.byType(accumulator.AllocSpace)

	// Every alloc-space sample must carry a positive delta.
	for _, smp := range allocAfter {
		if smp.Value <= 0 {
			t.Errorf("alloc-space delta = %d, want > 0", smp.Value)
		}
	}
	for _, smp := range rec.byType(accumulator.HeapSpace) {
		if smp.Value <= 0 {
			t.Errorf("heap-space value = %d, want > 0", smp.Value)
		}
	}
	_ = primed
}

func TestResolveFrames(t *testing.T) {
	pcs := callerPCs()
	frames := resolveFrames(pcs)
	if len(frames) == 0 {
		t.Fatal("no frames resolved from live PCs")
	}
	found := false
	for _, f := range frames {
		if f.Function == "" {
			t.Error("frame with empty function name")
		}
		if f.Line <= 0 {
			t.Errorf("frame %s has line %d", f.Function, f.Line)
		}
		if containsFunc(f.Function, "callerPCs") {
			found = true
		}
	}
	if !found {
		t.Error("leaf function missing from resolved stack")
	}
}

func TestResolveFramesEmpty(t *testing.T) {
	if got := resolveFrames(nil); got != nil {
		t.Errorf("resolveFrames(nil) = %v, want nil", got)
	}
}

func TestStartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &captureRecorder{}
	s := New(Config{WallInterval: 5 * time.Millisecond, HeapInterval: -1}, rec)
	s.Start()

	deadline := time.After(5 * time.Second)
	for rec.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("no samples recorded before deadline")
		case <-time.After(time.Millisecond):
		}
	}
	s.Stop()
	s.Stop() // idempotent
}

func TestDisabledScansNeverFire(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	rec := &captureRecorder{}
	s := New(Config{WallInterval: -1, HeapInterval: -1}, rec)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if got := rec.count(); got != 0 {
		t.Errorf("samples = %d, want 0 with all scans disabled", got)
	}
}

func callerPCs() []uintptr {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(1, pcs)
	return pcs[:n]
}

func containsFunc(full, name string) bool {
	return len(full) >= len(name) && full[len(full)-len(name):] == name
}
