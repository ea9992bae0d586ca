// Package scheduler drives periodic export cycles: swap the open window,
// build the pprof snapshot, encode the payload, upload it. At most one
// cycle runs at a time; every cycle error is absorbed and logged so the
// host process never sees an export failure.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
	"github.com/joker-joker-yuan/profile-bridge/internal/compression"
	"github.com/joker-joker-yuan/profile-bridge/internal/logging"
	"github.com/joker-joker-yuan/profile-bridge/internal/payload"
	"github.com/joker-joker-yuan/profile-bridge/internal/pprofenc"
)

var (
	exportCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_bridge_export_cycles_total",
		Help: "Total export cycles by outcome",
	}, []string{"outcome"})

	exportCycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "profile_bridge_export_cycle_duration_seconds",
		Help:    "Duration of export cycles",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})

	ticksSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profile_bridge_ticks_skipped_total",
		Help: "Total timer ticks skipped because a cycle was still in flight",
	})
)

func init() {
	prometheus.MustRegister(exportCyclesTotal)
	prometheus.MustRegister(exportCycleDuration)
	prometheus.MustRegister(ticksSkippedTotal)
}

// Scheduler defaults.
const (
	DefaultInterval     = 10 * time.Second
	DefaultFlushTimeout = 5 * time.Second
)

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateExporting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateExporting:
		return "exporting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source yields closed sample windows. Implemented by
// accumulator.Accumulator.
type Source interface {
	Swap() *accumulator.Window
}

// Shipper performs the network transfer of one payload. Implemented by
// uploader.Uploader.
type Shipper interface {
	Upload(ctx context.Context, p *payload.UploadPayload) error
}

// Config holds the scheduler configuration. Read-only after construction.
type Config struct {
	// Interval is the export cadence.
	Interval time.Duration
	// CycleTimeout bounds a single cycle end to end. Zero means the
	// interval is used.
	CycleTimeout time.Duration
	// FlushTimeout bounds the final flush at shutdown; an in-flight
	// cycle that outlives it is abandoned.
	FlushTimeout time.Duration
	// Metadata identifies the profiled service on every payload.
	Metadata payload.Metadata
	// Compression selects the payload body compression.
	Compression compression.Config
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = c.Interval
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = DefaultFlushTimeout
	}
	return c
}

// Scheduler owns the export timer. Start launches the loop; Stop performs
// a bounded final flush and is safe to call more than once.
type Scheduler struct {
	cfg     Config
	source  Source
	shipper Shipper

	// Injectable for tests.
	build  func(*accumulator.Window) (*pprofenc.BinaryProfile, error)
	encode func(*pprofenc.BinaryProfile, payload.Metadata, compression.Config) (*payload.UploadPayload, error)

	state   atomic.Int32
	started atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a Scheduler wired to the given window source and shipper.
func New(cfg Config, source Source, shipper Shipper) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		source:  source,
		shipper: shipper,
		build:   pprofenc.Build,
		encode:  payload.Encode,
		ctx:     ctx,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start launches the export loop. Subsequent calls are no-ops.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.started.Store(true)
		logging.Info("export scheduler started", logging.F(
			"interval", s.cfg.Interval.String(),
			"service_name", s.cfg.Metadata.ServiceName,
		))
		go s.run()
	})
}

// Stop signals shutdown and blocks until the final flush completes or the
// flush timeout elapses, whichever comes first. The scheduler always
// reaches the stopped state.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if !s.started.Load() {
			s.cancel()
			s.state.Store(int32(StateStopped))
			return
		}
		timer := time.NewTimer(s.cfg.FlushTimeout)
		defer timer.Stop()
		select {
		case <-s.doneCh:
		case <-timer.C:
			logging.Warn("abandoning in-flight export cycle at shutdown", logging.F(
				"flush_timeout", s.cfg.FlushTimeout.String(),
			))
			s.cancel()
		}
		s.state.Store(int32(StateStopped))
		logging.Info("export scheduler stopped")
	})
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	defer s.cancel()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			// Final flush so the last partial window is not lost.
			s.runCycle(s.cfg.FlushTimeout, "shutdown flush")
			return
		case <-ticker.C:
			// A tick that races the stop signal must not start a cycle
			// under the regular cycle timeout: Stop only waits for the
			// flush timeout.
			select {
			case <-s.stopCh:
				s.runCycle(s.cfg.FlushTimeout, "shutdown flush")
				return
			default:
			}
			s.runCycle(s.cfg.CycleTimeout, "tick")
			// A tick that fired while the cycle ran is dropped, not
			// queued: at most one cycle per interval.
			select {
			case <-ticker.C:
				ticksSkippedTotal.Inc()
				logging.Debug("export tick skipped, previous cycle overran interval")
			default:
			}
		}
	}
}

// runCycle executes one swap+build+encode+upload sequence. Errors never
// escape; a failed cycle means that window's profile is lost.
func (s *Scheduler) runCycle(timeout time.Duration, reason string) {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateExporting)) {
		return
	}
	defer s.state.CompareAndSwap(int32(StateExporting), int32(StateIdle))

	started := time.Now()
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	w := s.source.Swap()

	bp, err := s.build(w)
	if err != nil {
		if errors.Is(err, pprofenc.ErrEmptyWindow) {
			exportCyclesTotal.WithLabelValues("empty").Inc()
			logging.Debug("export cycle skipped, window is empty", logging.F("reason", reason))
			return
		}
		exportCyclesTotal.WithLabelValues("error").Inc()
		logging.Error("profile build failed, window lost", logging.F(
			"reason", reason,
			"error", err.Error(),
		))
		return
	}

	p, err := s.encode(bp, s.cfg.Metadata, s.cfg.Compression)
	if err != nil {
		exportCyclesTotal.WithLabelValues("error").Inc()
		logging.Error("payload encode failed, window lost", logging.F(
			"reason", reason,
			"error", err.Error(),
		))
		return
	}

	if err := s.shipper.Upload(ctx, p); err != nil {
		exportCyclesTotal.WithLabelValues("error").Inc()
		logging.Warn("profile upload failed, window lost", logging.F(
			"reason", reason,
			"from", bp.StartNanos,
			"until", bp.EndNanos,
			"error", err.Error(),
		))
		return
	}

	elapsed := time.Since(started)
	exportCyclesTotal.WithLabelValues("success").Inc()
	exportCycleDuration.Observe(elapsed.Seconds())
	logging.Debug("export cycle completed", logging.F(
		"reason", reason,
		"samples", w.Len(),
		"bytes", len(p.Body),
		"duration", elapsed.String(),
	))
}
