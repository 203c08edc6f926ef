// Package sink implements the dispatch targets of surge: event buses for
// stream mode, blob stores and bulk endpoints for ingest mode, and databases
// for query mode.
//
// Every sink receives one Payload per dispatch. The payload bytes belong to
// a pooled buffer and are only valid until Dispatch returns.
package sink

import (
	"context"
	"strings"

	"github.com/ajitpratap0/surge/pkg/template"
)

// Sink is one dispatch target.
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string
	// Dispatch sends, ingests or runs the payload. It must not retain
	// p.Data after returning.
	Dispatch(ctx context.Context, p Payload) error
	// Close releases connections held by the sink
	Close() error
}

// Payload is the content of one filled buffer.
type Payload struct {
	// Data holds newline separated records, compressed when Encoding is set
	Data []byte
	// Records is the number of records in Data
	Records int64
	// Uncompressed is the size of Data before compression
	Uncompressed int64
	// Encoding is the HTTP content encoding of Data, empty when uncompressed
	Encoding string
	// Extension is the file extension matching Encoding, e.g. ".gz"
	Extension string
}

// Statement returns Data as a single query statement with the record
// separator trimmed.
func (p Payload) Statement() string {
	return strings.TrimSuffix(string(p.Data), template.RecordSeparator)
}

// Discard drops every payload. It is used by dry runs and benchmarks.
type Discard struct{}

// NewDiscard returns a sink that accepts and drops everything.
func NewDiscard() *Discard {
	return &Discard{}
}

// Name returns "discard"
func (*Discard) Name() string { return "discard" }

// Dispatch drops p
func (*Discard) Dispatch(ctx context.Context, _ Payload) error {
	return ctx.Err()
}

// Close is a no-op
func (*Discard) Close() error { return nil }
