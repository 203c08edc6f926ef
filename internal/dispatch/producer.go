package dispatch

import (
	"context"
	"io"

	"github.com/ajitpratap0/surge/pkg/compression"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/template"
)

// ctxCheckInterval is how many records are generated between context checks.
const ctxCheckInterval = 256

// Bound limits how much one buffer holds. The buffer is full once Records
// records were written or, when Bytes is set, once the sent volume reaches
// Bytes. At least one record is always written.
type Bound struct {
	Records int
	Bytes   int64
}

// Filled describes the content of a produced buffer.
type Filled struct {
	Records      int64
	Uncompressed int64
	Sent         int64
}

// Producer fills buffers with generated records, optionally through a
// compression codec.
type Producer struct {
	gen   *template.Generator
	codec *compression.Codec
	bound Bound
}

// NewProducer creates a producer. A nil codec writes records uncompressed.
func NewProducer(gen *template.Generator, codec *compression.Codec, bound Bound) *Producer {
	if bound.Records < 1 && bound.Bytes <= 0 {
		bound.Records = 1
	}
	return &Producer{gen: gen, codec: codec, bound: bound}
}

// Codec returns the compression codec, nil when payloads are uncompressed.
func (p *Producer) Codec() *compression.Codec {
	return p.codec
}

func (p *Producer) full(f Filled, sent int64) bool {
	if p.bound.Bytes > 0 {
		return sent >= p.bound.Bytes
	}
	return f.Records >= int64(p.bound.Records)
}

// Produce fills buf until the bound is reached. On error the buffer content
// is undefined and should be released.
func (p *Producer) Produce(ctx context.Context, buf *Buffer) (Filled, error) {
	var (
		f Filled
		w io.Writer = buf
		c io.WriteCloser
	)
	if p.codec != nil {
		c = p.codec.NewWriter(buf)
		w = c
	}

	for {
		if f.Records%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				closeQuietly(c)
				return f, err
			}
		}

		n, err := p.gen.Generate(w)
		if err != nil {
			closeQuietly(c)
			return f, err
		}
		f.Records++
		f.Uncompressed += int64(n)

		if p.full(f, int64(buf.Len())) {
			break
		}
	}

	if c != nil {
		if err := c.Close(); err != nil {
			return f, errors.Wrap(err, errors.ErrorTypeInternal, "flush compressed buffer")
		}
	}
	f.Sent = int64(buf.Len())
	return f, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
