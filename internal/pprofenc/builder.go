// Package pprofenc builds binary pprof profiles from closed sample windows.
package pprofenc

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
)

var (
	profilesBuiltTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profile_bridge_profiles_built_total",
		Help: "Total binary profiles built from closed windows",
	})

	unknownSamplesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "profile_bridge_unknown_samples_skipped_total",
		Help: "Total samples skipped during build because their sample type is unrecognized",
	})
)

func init() {
	prometheus.MustRegister(profilesBuiltTotal)
	prometheus.MustRegister(unknownSamplesSkippedTotal)
}

// ErrEmptyWindow is returned by Build when the window holds no samples of
// any recognized type. The caller skips the export cycle.
var ErrEmptyWindow = errors.New("window holds no recognized samples")

// EncodingError wraps a failure to construct or serialize profile data.
// It is fatal for the current cycle and never retried.
type EncodingError struct {
	Stage string
	Err   error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding failed at %s: %v", e.Stage, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// BinaryProfile is the immutable serialized form of a window. Data holds
// the uncompressed pprof protobuf; compression happens downstream.
type BinaryProfile struct {
	Data       []byte
	StartNanos int64
	EndNanos   int64
	Types      []accumulator.SampleType
	Groups     int
	Skipped    int
}

// sampleGroup aggregates all samples sharing one stack.
type sampleGroup struct {
	stack  []accumulator.Frame
	values []int64
	counts []int64
}

// Build aggregates the window's samples by identical stack trace and
// serializes the result as an uncompressed pprof protobuf. The output is
// deterministic: structurally equal windows produce byte-identical
// profiles regardless of internal ordering. Samples of unrecognized
// types are skipped and counted, never abort the build.
func Build(w *accumulator.Window) (*BinaryProfile, error) {
	types, skipped := presentTypes(w)
	if len(types) == 0 {
		if skipped > 0 {
			unknownSamplesSkippedTotal.Add(float64(skipped))
		}
		return nil, ErrEmptyWindow
	}

	column := make(map[accumulator.SampleType]int, len(types))
	for i, t := range types {
		column[t] = i
	}

	groups := make(map[string]*sampleGroup)
	for t, samples := range w.Samples {
		col, ok := column[t]
		if !ok {
			continue
		}
		for _, s := range samples {
			key := stackKey(s.Stack)
			g := groups[key]
			if g == nil {
				g = &sampleGroup{
					stack:  s.Stack,
					values: make([]int64, len(types)),
					counts: make([]int64, len(types)),
				}
				groups[key] = g
			}
			g.values[col] += s.Value
			g.counts[col]++
		}
	}

	// Sorted key order makes string/location table construction, and
	// therefore the serialized bytes, independent of map iteration.
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	p := &profile.Profile{
		TimeNanos:     w.StartNanos,
		DurationNanos: w.EndNanos - w.StartNanos,
	}
	for _, t := range types {
		p.SampleType = append(p.SampleType, &profile.ValueType{
			Type: t.String(),
			Unit: t.Unit(),
		})
	}
	p.DefaultSampleType = types[0].String()
	p.PeriodType = &profile.ValueType{Type: types[0].String(), Unit: types[0].Unit()}
	p.Period = 1

	tab := newLocationTable(p)
	for _, key := range keys {
		g := groups[key]
		p.Sample = append(p.Sample, &profile.Sample{
			Location: tab.locations(g.stack),
			Value:    append([]int64(nil), g.values...),
		})
	}

	var buf bytes.Buffer
	if err := p.WriteUncompressed(&buf); err != nil {
		return nil, &EncodingError{Stage: "pprof serialization", Err: err}
	}

	profilesBuiltTotal.Inc()
	if skipped > 0 {
		unknownSamplesSkippedTotal.Add(float64(skipped))
	}

	return &BinaryProfile{
		Data:       buf.Bytes(),
		StartNanos: w.StartNanos,
		EndNanos:   w.EndNanos,
		Types:      types,
		Groups:     len(groups),
		Skipped:    skipped,
	}, nil
}

// presentTypes returns the recognized sample types present in the window
// in canonical order, plus the count of samples carrying unknown types.
func presentTypes(w *accumulator.Window) ([]accumulator.SampleType, int) {
	var types []accumulator.SampleType
	skipped := 0
	for t, samples := range w.Samples {
		if len(samples) == 0 {
			continue
		}
		if !t.Known() {
			skipped += len(samples)
			continue
		}
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types, skipped
}

// stackKey builds a canonical string identity for a call stack.
func stackKey(stack []accumulator.Frame) string {
	var sb strings.Builder
	for _, f := range stack {
		sb.WriteString(f.Function)
		sb.WriteByte(0)
		sb.WriteString(f.File)
		sb.WriteByte(0)
		sb.WriteString(strconv.FormatInt(f.Line, 10))
		sb.WriteByte(0)
	}
	return sb.String()
}

// locationTable deduplicates functions and locations, assigning IDs in
// first-use order so the emitted tables are deterministic.
type locationTable struct {
	p         *profile.Profile
	functions map[string]*profile.Function
	locs      map[string]*profile.Location
}

func newLocationTable(p *profile.Profile) *locationTable {
	return &locationTable{
		p:         p,
		functions: make(map[string]*profile.Function),
		locs:      make(map[string]*profile.Location),
	}
}

func (t *locationTable) function(frame accumulator.Frame) *profile.Function {
	key := frame.Function + "\x00" + frame.File
	if fn, ok := t.functions[key]; ok {
		return fn
	}
	fn := &profile.Function{
		ID:       uint64(len(t.p.Function) + 1),
		Name:     frame.Function,
		Filename: frame.File,
	}
	t.functions[key] = fn
	t.p.Function = append(t.p.Function, fn)
	return fn
}

func (t *locationTable) location(frame accumulator.Frame) *profile.Location {
	key := frame.Function + "\x00" + frame.File + "\x00" + strconv.FormatInt(frame.Line, 10)
	if loc, ok := t.locs[key]; ok {
		return loc
	}
	loc := &profile.Location{
		ID: uint64(len(t.p.Location) + 1),
		Line: []profile.Line{{
			Function: t.function(frame),
			Line:     frame.Line,
		}},
	}
	t.locs[key] = loc
	t.p.Location = append(t.p.Location, loc)
	return loc
}

// locations maps a stack (leaf first) onto profile locations.
func (t *locationTable) locations(stack []accumulator.Frame) []*profile.Location {
	locs := make([]*profile.Location, len(stack))
	for i, frame := range stack {
		locs[i] = t.location(frame)
	}
	return locs
}
