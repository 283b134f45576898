// Package compress provides the byte-level codec used by the cache to
// shrink large values before they are stored. It wraps the deflate
// implementation from klauspost/compress and keeps running statistics
// on how much memory compression is saving.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// Algorithm selects the compression method.
type Algorithm string

const (
	// AlgorithmNone stores values as-is.
	AlgorithmNone Algorithm = "none"
	// AlgorithmDeflate compresses with raw deflate at a configurable level.
	AlgorithmDeflate Algorithm = "deflate"
)

// Common errors.
var (
	ErrCorrupt          = errors.New("compressed payload is corrupt")
	ErrUnknownAlgorithm = errors.New("unknown compression algorithm")
)

// Options configures the codec.
type Options struct {
	// Algorithm selects the compression method.
	Algorithm Algorithm

	// Level is the deflate level, 1 (fastest) to 9 (best ratio).
	Level int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Algorithm: AlgorithmDeflate,
		Level:     6,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	switch o.Algorithm {
	case AlgorithmNone:
		return nil
	case AlgorithmDeflate:
		if o.Level < 1 || o.Level > 9 {
			return fmt.Errorf("compression level must be between 1 and 9, got %d", o.Level)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q (supported: none, deflate)", ErrUnknownAlgorithm, o.Algorithm)
	}
}

// Stats tracks cumulative compression effectiveness.
type Stats struct {
	// Items is the number of values compressed.
	Items int64

	// UncompressedBytes is the total input size.
	UncompressedBytes int64

	// CompressedBytes is the total output size.
	CompressedBytes int64
}

// Ratio returns uncompressed/compressed size, 1.0 when nothing has
// been compressed yet.
func (s Stats) Ratio() float64 {
	if s.CompressedBytes == 0 {
		return 1.0
	}
	return float64(s.UncompressedBytes) / float64(s.CompressedBytes)
}

// SavingsPercent returns the share of memory saved by compression.
func (s Stats) SavingsPercent() float64 {
	if s.UncompressedBytes == 0 {
		return 0
	}
	return float64(s.UncompressedBytes-s.CompressedBytes) / float64(s.UncompressedBytes) * 100
}

// Codec compresses and decompresses cache values.
type Codec struct {
	mu    sync.Mutex
	opts  Options
	stats Stats
}

// NewCodec creates a codec with validated options.
func NewCodec(opts Options) (*Codec, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Codec{opts: opts}, nil
}

// Compress returns the compressed form of value. With AlgorithmNone
// the input is returned unchanged. Statistics are not updated here:
// callers keep or discard the result, and account kept forms via
// Record.
func (c *Codec) Compress(value []byte) ([]byte, error) {
	if c.opts.Algorithm == AlgorithmNone {
		return value, nil
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, c.opts.Level)
	if err != nil {
		return nil, fmt.Errorf("deflate writer: %w", err)
	}
	if _, err := w.Write(value); err != nil {
		return nil, fmt.Errorf("deflate write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("deflate close: %w", err)
	}

	return buf.Bytes(), nil
}

// Record accounts one value kept in compressed form. Discarded
// results (incompressible data, rejected writes) are never recorded,
// so the statistics describe what is actually resident.
func (c *Codec) Record(uncompressed, compressed int) {
	c.mu.Lock()
	c.stats.Items++
	c.stats.UncompressedBytes += int64(uncompressed)
	c.stats.CompressedBytes += int64(compressed)
	c.mu.Unlock()
}

// Decompress reverses Compress. Older deployments wrote gzip-wrapped
// payloads instead of raw deflate, so a raw-deflate failure falls back
// to gzip once before the payload is declared corrupt.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	if c.opts.Algorithm == AlgorithmNone {
		return data, nil
	}

	r := flate.NewReader(bytes.NewReader(data))
	out, err := io.ReadAll(r)
	_ = r.Close()
	if err == nil {
		return out, nil
	}

	gz, gzErr := gzip.NewReader(bytes.NewReader(data))
	if gzErr != nil {
		return nil, fmt.Errorf("%w: deflate: %v", ErrCorrupt, err)
	}
	out, gzErr = io.ReadAll(gz)
	_ = gz.Close()
	if gzErr != nil {
		return nil, fmt.Errorf("%w: gzip fallback: %v", ErrCorrupt, gzErr)
	}
	return out, nil
}

// Enabled reports whether the codec actually compresses.
func (c *Codec) Enabled() bool {
	return c.opts.Algorithm != AlgorithmNone
}

// Stats returns a snapshot of cumulative compression statistics.
func (c *Codec) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
