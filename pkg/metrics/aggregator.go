package metrics

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// TimestampLayout formats the Timestamp field of #metric# lines.
const TimestampLayout = "2006-01-02 15:04:05.000"

// DefaultInterval is the flush period of an Aggregator.
const DefaultInterval = 10 * time.Second

// Sample describes one successful dispatch.
type Sample struct {
	// Timestamp is when the operation started
	Timestamp time.Time
	// Duration is the end to end latency of the operation
	Duration     time.Duration
	Uncompressed int64
	Sent         int64
	Records      int64
}

// Summary is the aggregate of the samples drained in one flush period.
type Summary struct {
	Timestamp    time.Time
	Uncompressed int64
	Sent         int64
	MaxLatency   time.Duration
	Records      int64
	Count        int
}

// String renders the summary as a #metric# line without the trailing newline.
func (s Summary) String() string {
	return fmt.Sprintf("#metric# Timestamp=%s, Uncompressed=%d, Compressed=%d, MaxLatency=%s, RowCount=%d, BlobCount=%d",
		s.Timestamp.UTC().Format(TimestampLayout), s.Uncompressed, s.Sent, s.MaxLatency, s.Records, s.Count)
}

// Summarize folds samples into a Summary. The timestamp is the earliest
// sample timestamp; samples may arrive in any order.
func Summarize(samples []Sample) Summary {
	var sum Summary
	for i, s := range samples {
		if i == 0 || s.Timestamp.Before(sum.Timestamp) {
			sum.Timestamp = s.Timestamp
		}
		if s.Duration > sum.MaxLatency {
			sum.MaxLatency = s.Duration
		}
		sum.Uncompressed += s.Uncompressed
		sum.Sent += s.Sent
		sum.Records += s.Records
	}
	sum.Count = len(samples)
	return sum
}

// Aggregator collects samples from any number of goroutines and periodically
// writes one summary line per non-empty period.
type Aggregator struct {
	mu      sync.Mutex
	samples []Sample

	outMu sync.Mutex
	out   io.Writer

	clock    clock.WithTicker
	interval time.Duration
	logger   *zap.Logger
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithInterval sets the flush period
func WithInterval(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithClock replaces the real clock, mainly for tests
func WithClock(c clock.WithTicker) AggregatorOption {
	return func(a *Aggregator) {
		a.clock = c
	}
}

// WithLogger sets the logger used for write failures
func WithLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// NewAggregator creates an aggregator that writes summary lines to out.
func NewAggregator(out io.Writer, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		out:      out,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "aggregator"))
	return a
}

// Add queues a sample for the current period. Safe for concurrent use.
func (a *Aggregator) Add(s Sample) {
	a.mu.Lock()
	a.samples = append(a.samples, s)
	a.mu.Unlock()
}

// drain atomically takes every queued sample.
func (a *Aggregator) drain() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := a.samples
	a.samples = nil
	return samples
}

// Flush drains the queue and writes a summary line. It reports false, and
// writes nothing, when no sample arrived since the previous flush.
func (a *Aggregator) Flush() (Summary, bool) {
	samples := a.drain()
	if len(samples) == 0 {
		return Summary{}, false
	}

	sum := Summarize(samples)
	a.outMu.Lock()
	_, err := fmt.Fprintln(a.out, sum.String())
	a.outMu.Unlock()
	if err != nil {
		a.logger.Warn("failed to write metric line", zap.Error(err))
	}
	return sum, true
}

// Run flushes every interval until ctx is cancelled, then flushes once more
// so samples from the final period are not lost.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.Flush()
			return
		case <-ticker.C():
			a.Flush()
		}
	}
}
