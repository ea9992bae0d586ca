package payload

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/joker-joker-yuan/profile-bridge/internal/accumulator"
	"github.com/joker-joker-yuan/profile-bridge/internal/compression"
	"github.com/joker-joker-yuan/profile-bridge/internal/pprofenc"
)

func testProfile() *pprofenc.BinaryProfile {
	return &pprofenc.BinaryProfile{
		Data:       bytes.Repeat([]byte("pprof-bytes"), 100),
		StartNanos: 100,
		EndNanos:   200,
		Types:      []accumulator.SampleType{accumulator.CPU, accumulator.HeapSpace},
		Groups:     3,
	}
}

func testMeta() Metadata {
	return Metadata{
		ServiceName: "helloworld",
		Environment: "staging",
		Host:        "node-1",
		AuthToken:   "secret",
	}
}

func TestEncodeAssemblesPayload(t *testing.T) {
	p, err := Encode(testProfile(), testMeta(), compression.Config{Type: compression.TypeGzip})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if p.Format != FormatPprof {
		t.Errorf("Format = %q", p.Format)
	}
	if p.ContentEncoding != "gzip" {
		t.Errorf("ContentEncoding = %q", p.ContentEncoding)
	}
	if p.Name != "helloworld" || p.AuthToken != "secret" {
		t.Errorf("identity: name=%q token=%q", p.Name, p.AuthToken)
	}
	if p.StartNanos != 100 || p.EndNanos != 200 {
		t.Errorf("time range = [%d, %d]", p.StartNanos, p.EndNanos)
	}
	if p.SpyName != "profile-bridge" {
		t.Errorf("default SpyName = %q", p.SpyName)
	}
	if p.Labels["environment"] != "staging" || p.Labels["host"] != "node-1" {
		t.Errorf("labels = %v", p.Labels)
	}

	body, err := compression.Decompress(p.Body, compression.TypeGzip)
	if err != nil {
		t.Fatalf("body does not decompress: %v", err)
	}
	if !bytes.Equal(body, testProfile().Data) {
		t.Error("decompressed body differs from profile data")
	}
}

func TestEncodeIdempotent(t *testing.T) {
	bp := testProfile()
	meta := testMeta()
	cfg := compression.Config{Type: compression.TypeGzip}

	a, err := Encode(bp, meta, cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	b, err := Encode(bp, meta, cfg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if !bytes.Equal(a.Body, b.Body) {
		t.Error("re-encoding produced different body bytes")
	}
	if !bytes.Equal(a.SampleTypeConfig, b.SampleTypeConfig) {
		t.Error("re-encoding produced different sample type config")
	}
}

func TestSampleTypeConfigDocument(t *testing.T) {
	p, err := Encode(testProfile(), testMeta(), compression.Config{Type: compression.TypeNone})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var doc map[string]sampleTypeSpec
	if err := json.Unmarshal(p.SampleTypeConfig, &doc); err != nil {
		t.Fatalf("sample type config is not valid JSON: %v", err)
	}

	cpu, ok := doc["cpu-time"]
	if !ok {
		t.Fatal("missing cpu-time entry")
	}
	if cpu.Units != "samples" || cpu.Aggregation != "sum" || !cpu.Sampled {
		t.Errorf("cpu-time spec = %+v", cpu)
	}

	heap, ok := doc["heap-space"]
	if !ok {
		t.Fatal("missing heap-space entry")
	}
	if heap.Units != "bytes" || heap.Aggregation != "average" || heap.Sampled {
		t.Errorf("heap-space spec = %+v", heap)
	}
}

func TestEncodeWithoutOptionalLabels(t *testing.T) {
	meta := Metadata{ServiceName: "svc"}
	p, err := Encode(testProfile(), meta, compression.Config{Type: compression.TypeNone})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(p.Labels) != 1 || p.Labels["service_name"] != "svc" {
		t.Errorf("labels = %v", p.Labels)
	}
	if p.ContentEncoding != "" {
		t.Errorf("ContentEncoding = %q for uncompressed payload", p.ContentEncoding)
	}
}
