// Package compression provides the payload codecs used by surge sinks.
//
// # Overview
//
// The dispatch loop compresses records while it writes them into a buffer,
// so the primary API is streaming: a Codec hands out pooled encoders that
// wrap the buffer, and the loop checks the compressed size as it goes.
// Compress and Decompress are conveniences built on the same encoders.
//
// # Algorithm Selection
//
//   - Gzip: what bulk ingestion endpoints expect, the default
//   - Zstd: best ratio at reasonable speed
//   - S2/Snappy: fastest of the klauspost codecs
//   - LZ4: extremely fast, decent compression
//   - Deflate: raw deflate stream without gzip framing
//
// # Basic Usage
//
//	codec, err := compression.NewCodec(compression.Gzip, compression.Fastest)
//
//	w := codec.NewWriter(&buf)
//	w.Write(record)
//	w.Close() // flushes and returns the encoder to the pool
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents snappy compression (framed stream format)
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
	// Deflate represents deflate compression
	Deflate Algorithm = "deflate"
)

// Level represents compression level, controlling the trade-off between
// compression speed and compression ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

// ParseAlgorithm maps a configuration value to an Algorithm.
// The empty string means None.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case "":
		return None, nil
	case None, Gzip, Snappy, LZ4, Zstd, S2, Deflate:
		return a, nil
	default:
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
}

// encoder is implemented by every streaming compressor this package pools.
type encoder interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Codec creates encoders and decoders for one algorithm and level.
// A Codec is safe for concurrent use; each writer it returns is not.
type Codec struct {
	algorithm Algorithm
	level     Level
	pool      sync.Pool
}

// NewCodec creates a codec for the given algorithm and level.
func NewCodec(algorithm Algorithm, level Level) (*Codec, error) {
	c := &Codec{algorithm: algorithm, level: level}

	switch algorithm {
	case None:
		return c, nil
	case Gzip:
		gl := mapGzipLevel(level)
		c.pool.New = func() interface{} {
			w, _ := gzip.NewWriterLevel(nil, gl)
			return w
		}
	case Deflate:
		fl := mapDeflateLevel(level)
		c.pool.New = func() interface{} {
			w, _ := flate.NewWriter(nil, fl)
			return w
		}
	case Zstd:
		zl := mapZstdLevel(level)
		c.pool.New = func() interface{} {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zl))
			return enc
		}
	case S2:
		c.pool.New = func() interface{} {
			return s2.NewWriter(nil)
		}
	case Snappy:
		c.pool.New = func() interface{} {
			return snappy.NewBufferedWriter(nil)
		}
	case LZ4:
		c.pool.New = func() interface{} {
			return lz4.NewWriter(nil)
		}
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// Algorithm returns the compression algorithm used.
func (c *Codec) Algorithm() Algorithm {
	return c.algorithm
}

// Level returns the compression level configured.
func (c *Codec) Level() Level {
	return c.level
}

// Extension returns the conventional file suffix for the algorithm, e.g. ".gz".
func (c *Codec) Extension() string {
	switch c.algorithm {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case S2:
		return ".s2"
	case Snappy:
		return ".sz"
	case LZ4:
		return ".lz4"
	case Deflate:
		return ".deflate"
	default:
		return ""
	}
}

// ContentEncoding returns the HTTP Content-Encoding token, or "" when the
// payload is sent as is.
func (c *Codec) ContentEncoding() string {
	switch c.algorithm {
	case Gzip, Zstd, Deflate:
		return string(c.algorithm)
	case None:
		return ""
	default:
		return "x-" + string(c.algorithm)
	}
}

// NewWriter returns a writer that compresses into dst. Close must be called to
// flush the stream; it does not close dst.
func (c *Codec) NewWriter(dst io.Writer) io.WriteCloser {
	if c.algorithm == None {
		return nopWriteCloser{dst}
	}

	enc := c.pool.Get().(encoder)
	enc.Reset(dst)
	if err := configureStream(enc, mapLZ4Level(c.level)); err != nil {
		// the encoder is left in an error state and is not pooled again
		return errWriteCloser{err}
	}
	return &pooledWriter{codec: c, enc: enc}
}

// configureStream applies the options that lz4 resets with every stream.
func configureStream(enc encoder, level lz4.CompressionLevel) error {
	lw, ok := enc.(*lz4.Writer)
	if !ok {
		return nil
	}
	if err := lw.Apply(lz4.CompressionLevelOption(level)); err != nil {
		return fmt.Errorf("failed to configure lz4 stream: %w", err)
	}
	return nil
}

// NewReader returns a reader that decompresses src.
func (c *Codec) NewReader(src io.Reader) (io.ReadCloser, error) {
	switch c.algorithm {
	case None:
		return io.NopCloser(src), nil
	case Gzip:
		return gzip.NewReader(src)
	case Deflate:
		return flate.NewReader(src), nil
	case Zstd:
		dec, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(src)), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(src)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// Compress compresses data and returns the compressed bytes.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := c.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress decompresses data and returns the original bytes.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil { //nolint:gosec // G110: payloads are produced by this process
		return nil, err
	}
	return buf.Bytes(), nil
}

type pooledWriter struct {
	codec *Codec
	enc   encoder
}

func (w *pooledWriter) Write(p []byte) (int, error) {
	if w.enc == nil {
		return 0, io.ErrClosedPipe
	}
	return w.enc.Write(p)
}

// Close flushes the encoder and hands it back to the codec's pool.
func (w *pooledWriter) Close() error {
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	w.codec.pool.Put(w.enc)
	w.enc = nil
	return err
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type errWriteCloser struct {
	err error
}

func (w errWriteCloser) Write([]byte) (int, error) { return 0, w.err }

func (w errWriteCloser) Close() error { return w.err }

// Helper functions to map compression levels

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapDeflateLevel(level Level) int {
	switch level {
	case Fastest:
		return flate.BestSpeed
	case Best:
		return flate.BestCompression
	default:
		return flate.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
