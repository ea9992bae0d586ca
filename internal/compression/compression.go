// Package compression provides the payload compression used for profile uploads.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a compression algorithm.
type Type string

const (
	// TypeNone means no compression.
	TypeNone Type = "none"
	// TypeGzip uses gzip compression. This is what pyroscope-style
	// ingest endpoints expect for pprof bodies and is the default.
	TypeGzip Type = "gzip"
	// TypeZstd uses zstd compression.
	TypeZstd Type = "zstd"
	// TypeSnappy uses snappy compression.
	TypeSnappy Type = "snappy"
	// TypeLZ4 uses lz4 compression.
	TypeLZ4 Type = "lz4"
)

// Level represents the compression level.
type Level int

const (
	// LevelDefault uses the default compression level for the algorithm.
	LevelDefault Level = 0
	// LevelFastest uses the fastest compression (lowest ratio).
	LevelFastest Level = 1
	// LevelBest uses the best compression (highest ratio).
	LevelBest Level = 9
)

// Config holds compression configuration.
type Config struct {
	// Type is the compression algorithm to use.
	Type Type
	// Level is the compression level (algorithm-specific).
	Level Level
}

// ParseType parses a compression type string.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TypeNone, nil
	case "gzip":
		return TypeGzip, nil
	case "zstd":
		return TypeZstd, nil
	case "snappy":
		return TypeSnappy, nil
	case "lz4":
		return TypeLZ4, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the HTTP Content-Encoding header value for the compression type.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	case TypeSnappy:
		return "snappy"
	case TypeLZ4:
		return "lz4"
	default:
		return ""
	}
}

// Compress compresses data using the configured type and level.
// With TypeNone the input is returned unchanged.
func Compress(data []byte, cfg Config) ([]byte, error) {
	switch cfg.Type {
	case TypeNone, "":
		return data, nil
	case TypeSnappy:
		return snappy.Encode(nil, data), nil
	}

	var buf bytes.Buffer
	var err error
	switch cfg.Type {
	case TypeGzip:
		err = compressGzip(&buf, data, cfg.Level)
	case TypeZstd:
		err = compressZstd(&buf, data, cfg.Level)
	case TypeLZ4:
		err = compressLZ4(&buf, data, cfg.Level)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress for the given type.
func Decompress(data []byte, t Type) ([]byte, error) {
	switch t {
	case TypeNone, "":
		return data, nil
	case TypeGzip:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case TypeZstd:
		decoder, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		defer decoder.Close()
		return io.ReadAll(decoder)
	case TypeSnappy:
		return snappy.Decode(nil, data)
	case TypeLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
}

func compressGzip(w io.Writer, data []byte, level Level) error {
	gzLevel := gzip.DefaultCompression
	if level != LevelDefault {
		gzLevel = int(level)
	}
	gw, err := gzip.NewWriterLevel(w, gzLevel)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := gw.Write(data); err != nil {
		return fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}

func compressZstd(w io.Writer, data []byte, level Level) error {
	zstdLevel := zstd.SpeedDefault
	switch {
	case level == LevelFastest:
		zstdLevel = zstd.SpeedFastest
	case level >= LevelBest:
		zstdLevel = zstd.SpeedBestCompression
	}
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	if _, err := encoder.Write(data); err != nil {
		return fmt.Errorf("failed to write zstd data: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close zstd encoder: %w", err)
	}
	return nil
}

func compressLZ4(w io.Writer, data []byte, level Level) error {
	lw := lz4.NewWriter(w)
	if level != LevelDefault {
		if err := lw.Apply(lz4.CompressionLevelOption(lz4.CompressionLevel(level))); err != nil {
			return fmt.Errorf("failed to set lz4 level: %w", err)
		}
	}
	if _, err := lw.Write(data); err != nil {
		return fmt.Errorf("failed to write lz4 data: %w", err)
	}
	if err := lw.Close(); err != nil {
		return fmt.Errorf("failed to close lz4 writer: %w", err)
	}
	return nil
}
