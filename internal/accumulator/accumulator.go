package accumulator

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	samplesRecordedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_bridge_samples_recorded_total",
		Help: "Total samples recorded into the open window",
	}, []string{"sample_type"})

	samplesDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "profile_bridge_samples_dropped_total",
		Help: "Total samples dropped because the per-type capacity bound was reached",
	}, []string{"sample_type"})

	openWindowSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "profile_bridge_open_window_samples",
		Help: "Number of samples in the currently open window",
	})
)

func init() {
	prometheus.MustRegister(samplesRecordedTotal)
	prometheus.MustRegister(samplesDroppedTotal)
	prometheus.MustRegister(openWindowSize)
}

// ring is a fixed-capacity sample buffer that overwrites its oldest
// entry when full.
type ring struct {
	buf  []Sample
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Sample, capacity)}
}

// push appends a sample, evicting the oldest when full.
// Returns true if an entry was evicted.
func (r *ring) push(s Sample) bool {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = s
		r.size++
		return false
	}
	r.buf[r.head] = s
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// drain returns all buffered samples in recording order and empties the ring.
func (r *ring) drain() []Sample {
	if r.size == 0 {
		return nil
	}
	out := make([]Sample, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.head = 0
	r.size = 0
	return out
}

// Option is a functional option for Accumulator.
type Option func(*Accumulator)

// WithNow overrides the clock used for window boundaries. For tests.
func WithNow(now func() int64) Option {
	return func(a *Accumulator) { a.now = now }
}

// Accumulator buffers samples for the currently open window. Record never
// blocks on anything but a short mutex and never fails: when a sample type
// reaches its capacity bound the oldest entry is evicted and counted.
type Accumulator struct {
	mu       sync.Mutex
	capacity int
	rings    map[SampleType]*ring
	dropped  map[SampleType]uint64
	count    int
	start    int64
	now      func() int64
}

// DefaultCapacityPerType bounds the open window's sample count per sample type.
const DefaultCapacityPerType = 8192

// New creates an Accumulator with the given per-sample-type capacity bound.
// The first window opens at the current time.
func New(capacityPerType int, opts ...Option) *Accumulator {
	if capacityPerType <= 0 {
		capacityPerType = DefaultCapacityPerType
	}
	a := &Accumulator{
		capacity: capacityPerType,
		rings:    make(map[SampleType]*ring),
		dropped:  make(map[SampleType]uint64),
		now:      func() int64 { return time.Now().UnixNano() },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.start = a.now()
	return a
}

// Record appends a sample to the currently open window. A sample recorded
// concurrently with Swap lands in exactly one of the two windows.
func (a *Accumulator) Record(s Sample) {
	a.mu.Lock()
	r := a.rings[s.Type]
	if r == nil {
		r = newRing(a.capacity)
		a.rings[s.Type] = r
	}
	evicted := r.push(s)
	if evicted {
		a.dropped[s.Type]++
	} else {
		a.count++
	}
	count := a.count
	a.mu.Unlock()

	samplesRecordedTotal.WithLabelValues(s.Type.String()).Inc()
	if evicted {
		samplesDroppedTotal.WithLabelValues(s.Type.String()).Inc()
	}
	openWindowSize.Set(float64(count))
}

// Swap atomically closes the open window and opens an empty successor whose
// start equals the closed window's end. The returned window is exclusively
// owned by the caller.
func (a *Accumulator) Swap() *Window {
	a.mu.Lock()
	end := a.now()
	w := &Window{
		StartNanos: a.start,
		EndNanos:   end,
		Samples:    make(map[SampleType][]Sample, len(a.rings)),
	}
	for t, r := range a.rings {
		if samples := r.drain(); samples != nil {
			w.Samples[t] = samples
		}
	}
	a.start = end
	a.count = 0
	a.mu.Unlock()

	openWindowSize.Set(0)
	return w
}

// Dropped returns the number of samples evicted for a sample type since
// construction.
func (a *Accumulator) Dropped(t SampleType) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped[t]
}
