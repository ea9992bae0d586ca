// Package payload assembles compressed upload payloads from binary profiles.
package payload

import (
	"encoding/json"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
	"github.com/joker-joker-yuan/profile-bridge/internal/compression"
	"github.com/joker-joker-yuan/profile-bridge/internal/pprofenc"
)

// FormatPprof is the only profile format the bridge produces.
const FormatPprof = "pprof"

// Metadata is the static identity attached to every payload. Read-only
// after construction.
type Metadata struct {
	ServiceName string
	Environment string
	Host        string
	AuthToken   string
	// SpyName tells the backend which sampler produced the data.
	SpyName string
}

// UploadPayload is a fully assembled upload, consumed exactly once by the
// uploader. Immutable.
type UploadPayload struct {
	Body             []byte
	SampleTypeConfig []byte
	ContentEncoding  string
	Name             string
	// Labels carries identity tags beyond the service name. The uploader
	// folds them into the ingest name as pyroscope tags.
	Labels     map[string]string
	AuthToken  string
	SpyName    string
	StartNanos int64
	EndNanos   int64
	Format     string
}

// sampleTypeSpec describes one sample type to the ingest backend, matching
// the document pyroscope expects alongside pprof uploads.
type sampleTypeSpec struct {
	Units       string `json:"units"`
	Aggregation string `json:"aggregation"`
	DisplayName string `json:"display-name"`
	Sampled     bool   `json:"sampled"`
}

func sampleTypeConfig(types []accumulator.SampleType) ([]byte, error) {
	spec := make(map[string]sampleTypeSpec, len(types))
	for _, t := range types {
		s := sampleTypeSpec{
			Units:       t.Unit(),
			Aggregation: "sum",
			DisplayName: displayName(t),
			Sampled:     true,
		}
		// Heap snapshots are gauges, not cumulative counters.
		if t == accumulator.HeapSpace {
			s.Aggregation = "average"
			s.Sampled = false
		}
		spec[t.String()] = s
	}
	return json.Marshal(spec)
}

func displayName(t accumulator.SampleType) string {
	switch t {
	case accumulator.CPU:
		return "cpu_time"
	case accumulator.Wall:
		return "wall_time"
	case accumulator.AllocSpace:
		return "alloc_space"
	case accumulator.AllocObjects:
		return "alloc_objects"
	case accumulator.HeapSpace:
		return "heap_space"
	default:
		return t.String()
	}
}

// Encode compresses the binary profile and assembles the transport payload.
// Encoding the same profile with the same metadata twice yields
// byte-identical payloads. A compression failure is fatal for the cycle:
// re-encoding the same immutable profile would fail identically.
func Encode(bp *pprofenc.BinaryProfile, meta Metadata, cfg compression.Config) (*UploadPayload, error) {
	body, err := compression.Compress(bp.Data, cfg)
	if err != nil {
		return nil, &pprofenc.EncodingError{Stage: "payload compression", Err: err}
	}

	stc, err := sampleTypeConfig(bp.Types)
	if err != nil {
		return nil, &pprofenc.EncodingError{Stage: "sample type config", Err: err}
	}

	labels := map[string]string{
		"service_name": meta.ServiceName,
	}
	if meta.Environment != "" {
		labels["environment"] = meta.Environment
	}
	if meta.Host != "" {
		labels["host"] = meta.Host
	}

	spyName := meta.SpyName
	if spyName == "" {
		spyName = "profile-bridge"
	}

	return &UploadPayload{
		Body:             body,
		SampleTypeConfig: stc,
		ContentEncoding:  cfg.Type.ContentEncoding(),
		Name:             meta.ServiceName,
		Labels:           labels,
		AuthToken:        meta.AuthToken,
		SpyName:          spyName,
		StartNanos:       bp.StartNanos,
		EndNanos:         bp.EndNanos,
		Format:           FormatPprof,
	}, nil
}
