package compression

import (
	"bytes"
	"testing"
)

func TestRoundTripAllTypes(t *testing.T) {
	data := bytes.Repeat([]byte("profile-bridge sample stack frame payload "), 64)

	for _, typ := range []Type{TypeNone, TypeGzip, TypeZstd, TypeSnappy, TypeLZ4} {
		t.Run(string(typ), func(t *testing.T) {
			compressed, err := Compress(data, Config{Type: typ})
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if typ != TypeNone && bytes.Equal(compressed, data) {
				t.Fatalf("compressed output identical to input")
			}

			out, err := Decompress(compressed, typ)
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(out, data) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d", len(out), len(data))
			}
		})
	}
}

func TestCompressDeterministic(t *testing.T) {
	// Re-encoding the same payload must yield identical bytes so that
	// retried uploads carry an identical body.
	data := bytes.Repeat([]byte{0x0a, 0x12, 0x33}, 500)
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeSnappy, TypeLZ4} {
		a, err := Compress(data, Config{Type: typ})
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		b, err := Compress(data, Config{Type: typ})
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if !bytes.Equal(a, b) {
			t.Errorf("%s: non-deterministic output", typ)
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"gzip", TypeGzip, false},
		{"GZIP", TypeGzip, false},
		{" zstd ", TypeZstd, false},
		{"snappy", TypeSnappy, false},
		{"lz4", TypeLZ4, false},
		{"brotli", TypeNone, true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContentEncoding(t *testing.T) {
	if got := TypeGzip.ContentEncoding(); got != "gzip" {
		t.Errorf("gzip encoding = %q", got)
	}
	if got := TypeNone.ContentEncoding(); got != "" {
		t.Errorf("none encoding = %q", got)
	}
}

func TestCompressLevels(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 4096)

	fast, err := Compress(data, Config{Type: TypeGzip, Level: LevelFastest})
	if err != nil {
		t.Fatalf("fastest: %v", err)
	}
	best, err := Compress(data, Config{Type: TypeGzip, Level: LevelBest})
	if err != nil {
		t.Fatalf("best: %v", err)
	}
	for _, compressed := range [][]byte{fast, best} {
		out, err := Decompress(compressed, TypeGzip)
		if err != nil {
			t.Fatalf("decompress: %v", err)
		}
		if !bytes.Equal(out, data) {
			t.Fatal("level round trip mismatch")
		}
	}
}

func TestDecompressCorruptInput(t *testing.T) {
	if _, err := Decompress([]byte("not gzip"), TypeGzip); err == nil {
		t.Error("expected error for corrupt gzip input")
	}
	if _, err := Decompress([]byte{0xff, 0xfe}, TypeZstd); err == nil {
		t.Error("expected error for corrupt zstd input")
	}
}
