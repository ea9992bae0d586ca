// Package accumulator collects raw profiling samples into time windows.
package accumulator

// SampleType identifies the dimension a sample value belongs to.
type SampleType int

const (
	// CPU is CPU time spent on a stack, in sample counts.
	CPU SampleType = iota
	// Wall is wall-clock time observed on a stack, in sample counts.
	Wall
	// AllocSpace is bytes allocated on a stack.
	AllocSpace
	// AllocObjects is objects allocated on a stack.
	AllocObjects
	// HeapSpace is bytes held live on the heap attributed to a stack.
	HeapSpace

	numSampleTypes
)

// String returns the wire name of the sample type as the ingest backend
// expects it in the profile's sample type table.
func (t SampleType) String() string {
	switch t {
	case CPU:
		return "cpu-time"
	case Wall:
		return "wall-time"
	case AllocSpace:
		return "alloc-space"
	case AllocObjects:
		return "alloc-objects"
	case HeapSpace:
		return "heap-space"
	default:
		return "unknown"
	}
}

// Unit returns the measurement unit for the sample type.
func (t SampleType) Unit() string {
	switch t {
	case CPU, Wall:
		return "samples"
	case AllocSpace, HeapSpace:
		return "bytes"
	case AllocObjects:
		return "objects"
	default:
		return ""
	}
}

// Known reports whether t is a recognized sample type.
func (t SampleType) Known() bool {
	return t >= 0 && t < numSampleTypes
}

// Types lists all recognized sample types in their canonical order.
func Types() []SampleType {
	types := make([]SampleType, numSampleTypes)
	for i := range types {
		types[i] = SampleType(i)
	}
	return types
}

// Frame is one entry of a sample's call stack, leaf first.
type Frame struct {
	Function string
	File     string
	Line     int64
}

// Sample is a single profiling observation. It is immutable once recorded;
// the Stack slice must not be mutated after being handed to Record.
type Sample struct {
	Type      SampleType
	Stack     []Frame
	Value     int64
	TimeNanos int64
}

// Window is a closed time interval of accumulated samples. It is produced
// by Swap and owned exclusively by its consumer afterwards.
type Window struct {
	StartNanos int64
	EndNanos   int64
	Samples    map[SampleType][]Sample
}

// Len returns the total number of samples in the window.
func (w *Window) Len() int {
	n := 0
	for _, samples := range w.Samples {
		n += len(samples)
	}
	return n
}

// Empty reports whether the window holds no samples.
func (w *Window) Empty() bool {
	return w.Len() == 0
}
