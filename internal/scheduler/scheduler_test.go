package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
	"github.com/joker-joker-yuan/profile-bridge/internal/compression"
	"github.com/joker-joker-yuan/profile-bridge/internal/payload"
)

// windowSource returns a fresh window with the configured samples on
// every swap.
type windowSource struct {
	mu      sync.Mutex
	samples []accumulator.Sample
	swaps   int
}

func (s *windowSource) Swap() *accumulator.Window {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swaps++
	w := &accumulator.Window{
		StartNanos: int64(s.swaps) * 1e9,
		EndNanos:   int64(s.swaps+1) * 1e9,
		Samples:    map[accumulator.SampleType][]accumulator.Sample{},
	}
	for _, smp := range s.samples {
		w.Samples[smp.Type] = append(w.Samples[smp.Type], smp)
	}
	return w
}

func (s *windowSource) swapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swaps
}

func cpuSample(fn string, value int64) accumulator.Sample {
	return accumulator.Sample{
		Type:      accumulator.CPU,
		Stack:     []accumulator.Frame{{Function: fn, File: fn + ".go", Line: 1}},
		Value:     value,
		TimeNanos: 1e9,
	}
}

// recordingShipper collects uploaded payloads and signals each delivery.
type recordingShipper struct {
	mu       sync.Mutex
	payloads []*payload.UploadPayload
	err      error
	delivery chan struct{}
}

func newRecordingShipper() *recordingShipper {
	return &recordingShipper{delivery: make(chan struct{}, 64)}
}

func (s *recordingShipper) Upload(_ context.Context, p *payload.UploadPayload) error {
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	err := s.err
	s.mu.Unlock()
	s.delivery <- struct{}{}
	return err
}

func (s *recordingShipper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func (s *recordingShipper) payloadAt(i int) *payload.UploadPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[i]
}

func awaitDeliveries(t *testing.T, s *recordingShipper, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-s.delivery:
		case <-deadline:
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func testConfig(interval time.Duration) Config {
	return Config{
		Interval:     interval,
		FlushTimeout: 500 * time.Millisecond,
		Metadata: payload.Metadata{
			ServiceName: "helloworld",
			AuthToken:   "token",
		},
		Compression: compression.Config{Type: compression.TypeGzip},
	}
}

func TestPeriodicExport(t *testing.T) {
	src := &windowSource{samples: []accumulator.Sample{cpuSample("main.work", 3)}}
	ship := newRecordingShipper()
	s := New(testConfig(10*time.Millisecond), src, ship)

	s.Start()
	awaitDeliveries(t, ship, 2)
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("state after Stop = %s, want stopped", s.State())
	}
	if got := ship.count(); got < 2 {
		t.Errorf("uploads = %d, want >= 2", got)
	}
	p := ship.payloadAt(0)
	if p.Name != "helloworld" || p.Format != payload.FormatPprof {
		t.Errorf("payload identity = name=%q format=%q", p.Name, p.Format)
	}
	if len(p.Body) == 0 {
		t.Error("payload body is empty")
	}
}

func TestStopFlushesFinalWindow(t *testing.T) {
	src := &windowSource{samples: []accumulator.Sample{cpuSample("main.work", 1)}}
	ship := newRecordingShipper()
	// Interval far beyond the test's lifetime; only the shutdown flush
	// can produce an upload.
	s := New(testConfig(time.Hour), src, ship)

	s.Start()
	s.Stop()

	if got := ship.count(); got != 1 {
		t.Errorf("uploads = %d, want exactly the shutdown flush", got)
	}
	if got := src.swapCount(); got != 1 {
		t.Errorf("swaps = %d, want 1", got)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestEmptyWindowSkipsUpload(t *testing.T) {
	src := &windowSource{} // every window is empty
	ship := newRecordingShipper()
	s := New(testConfig(5*time.Millisecond), src, ship)

	s.Start()
	// Let several ticks fire.
	for src.swapCount() < 3 {
		time.Sleep(time.Millisecond)
	}
	s.Stop()

	if got := ship.count(); got != 0 {
		t.Errorf("uploads = %d, want 0 for empty windows", got)
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestUploadErrorsAreAbsorbed(t *testing.T) {
	src := &windowSource{samples: []accumulator.Sample{cpuSample("main.work", 1)}}
	ship := newRecordingShipper()
	ship.err = errors.New("endpoint unreachable")
	s := New(testConfig(10*time.Millisecond), src, ship)

	s.Start()
	// Failing cycles keep the loop running.
	awaitDeliveries(t, ship, 3)
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestSingleFlight(t *testing.T) {
	src := &windowSource{samples: []accumulator.Sample{cpuSample("main.work", 1)}}
	release := make(chan struct{})
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	ship := shipperFunc(func(ctx context.Context, _ *payload.UploadPayload) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		select {
		case <-release:
		case <-ctx.Done():
		}
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	})

	s := New(testConfig(5*time.Millisecond), src, ship)
	s.Start()

	// Let several intervals elapse while the first upload is stuck.
	time.Sleep(50 * time.Millisecond)
	close(release)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	if maxInFlight != 1 {
		t.Errorf("concurrent uploads = %d, want 1", maxInFlight)
	}
}

func TestShutdownAbandonsStuckCycle(t *testing.T) {
	src := &windowSource{samples: []accumulator.Sample{cpuSample("main.work", 1)}}
	sawCancel := make(chan struct{})
	var cancelOnce sync.Once
	ship := shipperFunc(func(ctx context.Context, _ *payload.UploadPayload) error {
		<-ctx.Done() // never completes on its own
		cancelOnce.Do(func() { close(sawCancel) })
		return ctx.Err()
	})

	cfg := testConfig(5 * time.Millisecond)
	cfg.CycleTimeout = time.Hour // only shutdown can unstick the upload
	cfg.FlushTimeout = 50 * time.Millisecond
	s := New(cfg, src, ship)
	s.Start()

	// Wait for the first cycle to get stuck in Upload.
	for src.swapCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	started := time.Now()
	s.Stop()
	elapsed := time.Since(started)

	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
	if elapsed > 2*time.Second {
		t.Errorf("Stop blocked %v, want bounded by flush timeout", elapsed)
	}
	select {
	case <-sawCancel:
	case <-time.After(time.Second):
		t.Error("stuck upload never observed cancellation")
	}
}

// gatedSource blocks its first swap until released, returning an empty
// window from it; later swaps return the configured samples.
type gatedSource struct {
	entered chan struct{}
	release chan struct{}
	samples []accumulator.Sample
	once    sync.Once
}

func (s *gatedSource) Swap() *accumulator.Window {
	var first bool
	s.once.Do(func() {
		first = true
		close(s.entered)
		<-s.release
	})
	w := &accumulator.Window{
		StartNanos: 1e9,
		EndNanos:   2e9,
		Samples:    map[accumulator.SampleType][]accumulator.Sample{},
	}
	if first {
		return w
	}
	for _, smp := range s.samples {
		w.Samples[smp.Type] = append(w.Samples[smp.Type], smp)
	}
	return w
}

func TestStopRacingTickFlushesUnderFlushTimeout(t *testing.T) {
	src := &gatedSource{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		samples: []accumulator.Sample{cpuSample("main.work", 1)},
	}

	var mu sync.Mutex
	var remaining []time.Duration
	ship := shipperFunc(func(ctx context.Context, _ *payload.UploadPayload) error {
		deadline, ok := ctx.Deadline()
		mu.Lock()
		if ok {
			remaining = append(remaining, time.Until(deadline))
		}
		mu.Unlock()
		return nil
	})

	cfg := testConfig(time.Millisecond)
	cfg.CycleTimeout = time.Hour
	cfg.FlushTimeout = 2 * time.Second
	s := New(cfg, src, ship)
	s.Start()

	// First cycle is parked inside Swap while further ticks pile up.
	<-src.entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	// Let the stop signal and a pending tick both become ready before
	// the run loop picks its next case.
	time.Sleep(20 * time.Millisecond)
	close(src.release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(remaining) == 0 {
		t.Fatal("final window was never uploaded")
	}
	for _, r := range remaining {
		if r > 10*time.Second {
			t.Errorf("upload deadline %v away, want it bounded by the flush timeout", r)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	src := &windowSource{}
	s := New(testConfig(time.Hour), src, newRecordingShipper())
	s.Start()
	s.Stop()
	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := New(testConfig(time.Hour), &windowSource{}, newRecordingShipper())
	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("state = %s, want stopped", s.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateExporting, "exporting"},
		{StateStopped, "stopped"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// shipperFunc adapts a function to the Shipper interface.
type shipperFunc func(context.Context, *payload.UploadPayload) error

func (f shipperFunc) Upload(ctx context.Context, p *payload.UploadPayload) error {
	return f(ctx, p)
}
