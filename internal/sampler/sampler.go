// Package sampler captures profiles of the running process and feeds them
// to the sample accumulator: goroutine stacks on a fixed cadence for wall
// time, and heap profile deltas for allocation tracking. The bridge treats
// it as one producer among any number of external ones.
package sampler

import (
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
	"github.com/joker-joker-yuan/profile-bridge/internal/logging"
)

var samplerScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "profile_bridge_sampler_scans_total",
	Help: "Total runtime profile scans by profile kind",
}, []string{"profile"})

func init() {
	prometheus.MustRegister(samplerScansTotal)
}

// Sampler defaults.
const (
	DefaultWallInterval = time.Second
	DefaultHeapInterval = 10 * time.Second
)

// maxStackDepth bounds the recorded stack depth per sample.
const maxStackDepth = 32

// Recorder accepts profiling samples. Implemented by
// accumulator.Accumulator.
type Recorder interface {
	Record(s accumulator.Sample)
}

// Config holds the sampler configuration. Read-only after construction.
type Config struct {
	// WallInterval is the goroutine stack scan cadence. Zero selects the
	// default; a negative value disables wall sampling.
	WallInterval time.Duration
	// HeapInterval is the heap profile scan cadence. Zero selects the
	// default; a negative value disables heap sampling.
	HeapInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.WallInterval == 0 {
		c.WallInterval = DefaultWallInterval
	}
	if c.HeapInterval == 0 {
		c.HeapInterval = DefaultHeapInterval
	}
	return c
}

// Sampler periodically scans the runtime's goroutine and heap profiles.
// Heap values are deltas against the previous scan so each window carries
// only the allocation activity that happened inside it.
type Sampler struct {
	cfg Config
	rec Recorder

	// prevAlloc tracks cumulative allocation per stack across scans.
	prevAlloc map[string]allocTotals

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type allocTotals struct {
	bytes   int64
	objects int64
}

// New creates a Sampler feeding the given recorder.
func New(cfg Config, rec Recorder) *Sampler {
	return &Sampler{
		cfg:       cfg.withDefaults(),
		rec:       rec,
		prevAlloc: make(map[string]allocTotals),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the scan loop. Subsequent calls are no-ops.
func (s *Sampler) Start() {
	s.startOnce.Do(func() {
		logging.Info("runtime sampler started", logging.F(
			"wall_interval", s.cfg.WallInterval.String(),
			"heap_interval", s.cfg.HeapInterval.String(),
		))
		go s.run()
	})
}

// Stop halts the scan loop and waits for it to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
}

func (s *Sampler) run() {
	defer close(s.doneCh)

	wall := newOptionalTicker(s.cfg.WallInterval)
	defer wall.stop()
	heap := newOptionalTicker(s.cfg.HeapInterval)
	defer heap.stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-wall.c:
			s.scanGoroutines(time.Now().UnixNano())
		case <-heap.c:
			s.scanHeap(time.Now().UnixNano())
		}
	}
}

// optionalTicker is a ticker whose channel is nil when the interval is
// negative, so the select arm never fires.
type optionalTicker struct {
	t *time.Ticker
	c <-chan time.Time
}

func newOptionalTicker(interval time.Duration) optionalTicker {
	if interval < 0 {
		return optionalTicker{}
	}
	t := time.NewTicker(interval)
	return optionalTicker{t: t, c: t.C}
}

func (o optionalTicker) stop() {
	if o.t != nil {
		o.t.Stop()
	}
}

// scanGoroutines records one wall-time sample per live goroutine stack.
// The sampler's own goroutines are excluded.
func (s *Sampler) scanGoroutines(nowNanos int64) {
	n, _ := runtime.GoroutineProfile(nil)
	records := make([]runtime.StackRecord, n+8)
	n, ok := runtime.GoroutineProfile(records)
	if !ok {
		// Goroutine count grew between the two calls; catch it next scan.
		return
	}
	samplerScansTotal.WithLabelValues("goroutine").Inc()

	for i := 0; i < n; i++ {
		frames := resolveFrames(records[i].Stack())
		if len(frames) == 0 || isOwnStack(frames) {
			continue
		}
		s.rec.Record(accumulator.Sample{
			Type:      accumulator.Wall,
			Stack:     frames,
			Value:     1,
			TimeNanos: nowNanos,
		})
	}
}

// scanHeap records allocation deltas since the previous scan plus the
// current live heap attribution.
func (s *Sampler) scanHeap(nowNanos int64) {
	n, _ := runtime.MemProfile(nil, false)
	records := make([]runtime.MemProfileRecord, n+8)
	n, ok := runtime.MemProfile(records, false)
	if !ok {
		return
	}
	samplerScansTotal.WithLabelValues("heap").Inc()

	for i := 0; i < n; i++ {
		r := &records[i]
		frames := resolveFrames(r.Stack())
		if len(frames) == 0 {
			continue
		}
		key := stackKey(frames)
		prev := s.prevAlloc[key]
		s.prevAlloc[key] = allocTotals{bytes: r.AllocBytes, objects: r.AllocObjects}

		if delta := r.AllocBytes - prev.bytes; delta > 0 {
			s.rec.Record(accumulator.Sample{
				Type:      accumulator.AllocSpace,
				Stack:     frames,
				Value:     delta,
				TimeNanos: nowNanos,
			})
		}
		if delta := r.AllocObjects - prev.objects; delta > 0 {
			s.rec.Record(accumulator.Sample{
				Type:      accumulator.AllocObjects,
				Stack:     frames,
				Value:     delta,
				TimeNanos: nowNanos,
			})
		}
		if inUse := r.InUseBytes(); inUse > 0 {
			s.rec.Record(accumulator.Sample{
				Type:      accumulator.HeapSpace,
				Stack:     frames,
				Value:     inUse,
				TimeNanos: nowNanos,
			})
		}
	}
}

// resolveFrames symbolizes a PC slice into leaf-first frames.
func resolveFrames(pcs []uintptr) []accumulator.Frame {
	if len(pcs) == 0 {
		return nil
	}
	if len(pcs) > maxStackDepth {
		pcs = pcs[:maxStackDepth]
	}
	out := make([]accumulator.Frame, 0, len(pcs))
	iter := runtime.CallersFrames(pcs)
	for {
		frame, more := iter.Next()
		if frame.Function != "" {
			out = append(out, accumulator.Frame{
				Function: frame.Function,
				File:     frame.File,
				Line:     int64(frame.Line),
			})
		}
		if !more {
			break
		}
	}
	return out
}

// isOwnStack reports whether a stack belongs to the sampler itself.
func isOwnStack(frames []accumulator.Frame) bool {
	for _, f := range frames {
		if strings.Contains(f.Function, "/internal/sampler.") {
			return true
		}
	}
	return false
}

func stackKey(frames []accumulator.Frame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Function)
		b.WriteByte(0)
	}
	return b.String()
}
