package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/ajitpratap0/surge/internal/sink"
	"github.com/ajitpratap0/surge/pkg/compression"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/logger"
	"github.com/ajitpratap0/surge/pkg/metrics"
	"github.com/ajitpratap0/surge/pkg/observability"
	"github.com/ajitpratap0/surge/pkg/template"
)

// Kind names what one dispatch is in the per-period line.
type Kind string

const (
	KindQuery   Kind = "Query"
	KindPayload Kind = "Payload"
	KindBlob    Kind = "Blob"
)

// RateUnit is what the target rate counts.
type RateUnit int

const (
	// RateRecords counts generated records
	RateRecords RateUnit = iota
	// RateMegabytes counts sent payload volume in MB
	RateMegabytes
)

const megabyte = 1024 * 1024

// Config controls one dispatch loop.
type Config struct {
	Kind        Kind
	Parallelism int
	Bound       Bound
	// Codec compresses payloads; nil sends them as generated
	Codec *compression.Codec

	// TargetRate is units per RatePeriod; zero disables pacing
	TargetRate float64
	RatePeriod time.Duration
	RateUnit   RateUnit

	// Limit stops the loop after that many dispatches; zero runs until cancelled
	Limit int64
	// DrainTimeout bounds the wait for in-flight operations at shutdown; zero waits for all
	DrainTimeout time.Duration
}

// Stats summarises a finished run.
type Stats struct {
	Dispatches int64
	Failures   int64
	Records    int64
	Duration   time.Duration
}

// Loop generates payloads and hands them to a sink with bounded
// parallelism and paced volume.
type Loop struct {
	config     Config
	producer   *Producer
	sink       sink.Sink
	aggregator *metrics.Aggregator
	tracer     *observability.Tracer
	clock      clock.Clock
	out        io.Writer
	logger     *zap.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithAggregator sends a sample of every successful dispatch to a.
func WithAggregator(a *metrics.Aggregator) Option {
	return func(l *Loop) { l.aggregator = a }
}

// WithTracer traces every dispatch.
func WithTracer(t *observability.Tracer) Option {
	return func(l *Loop) { l.tracer = t }
}

// WithClock replaces the real clock.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithOutput sets where per-period lines are written. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(l *Loop) { l.out = w }
}

// WithLogger sets the base logger. Without it the loop logs through the
// global logger. Either way the run fields of the Run context are added.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) { l.logger = log }
}

// NewLoop creates a loop dispatching records of gen to s.
func NewLoop(config Config, gen *template.Generator, s sink.Sink, opts ...Option) (*Loop, error) {
	if gen == nil || s == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "dispatch loop needs a generator and a sink")
	}
	if config.Parallelism < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "parallelism must be at least 1").
			WithDetail("parallelism", config.Parallelism)
	}
	if config.Kind == "" {
		config.Kind = KindPayload
	}

	l := &Loop{
		config:   config,
		producer: NewProducer(gen, config.Codec, config.Bound),
		sink:     s,
		tracer:   observability.NewTracer(nil),
		clock:    clock.RealClock{},
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// run holds the state of one Run call. Everything here belongs to the
// producer goroutine.
type run struct {
	*Loop
	pool    *BufferPool
	tracker *Tracker
	rate    *RateController
	log     *zap.Logger

	dispatches       int64
	records          int64
	periodDispatches int64
	periodFailedBase int64
}

// Run produces and dispatches until ctx is cancelled, the limit is reached,
// or a fatal error occurs. Dispatch failures are counted, never fatal.
// Cancellation is a normal end: in-flight operations are drained and Run
// returns nil.
func (l *Loop) Run(ctx context.Context) (Stats, error) {
	started := l.clock.Now()
	r := &run{
		Loop:    l,
		pool:    NewBufferPool(l.config.Parallelism, l.initialBufferCap()),
		tracker: NewTracker(),
		log:     l.runLogger(ctx),
	}
	target := l.config.TargetRate
	if l.config.RateUnit == RateMegabytes {
		target *= megabyte
	}
	r.rate = NewRateController(target, l.config.RatePeriod, l.clock, r.reportPeriod)

	r.log.Info("dispatch loop starting",
		zap.String("kind", string(l.config.Kind)),
		zap.Int("parallelism", l.config.Parallelism),
		zap.Float64("target_rate", l.config.TargetRate),
		zap.Duration("rate_period", r.rate.period))

	err := r.loop(ctx)

	drainCtx := context.Background()
	if l.config.DrainTimeout > 0 {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(drainCtx, l.config.DrainTimeout)
		defer cancel()
	}
	if derr := r.tracker.Drain(drainCtx); derr != nil {
		r.log.Warn("in-flight operations failed during shutdown", zap.Error(derr))
	}

	stats := r.stats(l.clock.Since(started))
	r.log.Info("dispatch loop stopped",
		zap.Int64("dispatches", stats.Dispatches),
		zap.Int64("failures", stats.Failures),
		zap.Int64("records", stats.Records),
		zap.Duration("duration", stats.Duration))
	return stats, err
}

// runLogger derives the logger of one run from the run fields of ctx. The
// sink name defaults to the sink's own.
func (l *Loop) runLogger(ctx context.Context) *zap.Logger {
	if _, ok := ctx.Value(logger.SinkKey).(string); !ok {
		ctx = context.WithValue(ctx, logger.SinkKey, l.sink.Name())
	}
	component := zap.String("component", "dispatch_loop")
	if l.logger != nil {
		return l.logger.With(append(logger.Fields(ctx), component)...)
	}
	return logger.WithContext(ctx).With(component)
}

func (l *Loop) initialBufferCap() int {
	if l.config.Bound.Bytes > 0 {
		return int(l.config.Bound.Bytes)
	}
	return 0
}

func (r *run) stats(d time.Duration) Stats {
	return Stats{
		Dispatches: r.dispatches,
		Failures:   r.tracker.Failed(),
		Records:    r.records,
		Duration:   d,
	}
}

func (r *run) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.config.Limit > 0 && r.dispatches >= r.config.Limit {
			return nil
		}
		r.tracker.Reap()

		if err := r.rate.Wait(ctx); err != nil {
			return nil
		}
		metrics.RateLag.WithLabelValues(r.sink.Name()).Set(r.rate.Lag(r.clock.Now()))

		buf, err := r.waitForCapacity(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		// latency includes generation
		started := r.clock.Now()
		filled, err := r.producer.Produce(ctx, buf)
		if err != nil {
			_ = r.pool.Release(buf)
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.ErrorTypeInternal, "produce payload")
		}

		r.submit(ctx, buf, filled, started)
		if r.config.RateUnit == RateMegabytes {
			r.rate.Add(float64(filled.Sent))
		} else {
			r.rate.Add(float64(filled.Records))
		}
	}
}

// waitForCapacity returns a free buffer, waiting on the oldest in-flight
// operation while none is free.
func (r *run) waitForCapacity(ctx context.Context) (*Buffer, error) {
	for {
		if buf, ok := r.pool.TryAcquire(); ok {
			return buf, nil
		}
		if r.tracker.Pending() == 0 {
			return nil, errors.Newf(errors.ErrorTypeCapacity,
				"no free buffer and no pending operation (pool size %d, outstanding %d)",
				r.pool.Size(), r.pool.Outstanding())
		}
		if err := r.tracker.AwaitOldest(ctx); err != nil {
			return nil, err
		}
	}
}

func (r *run) submit(ctx context.Context, buf *Buffer, filled Filled, started time.Time) {
	r.dispatches++
	r.periodDispatches++
	r.records += filled.Records

	name := r.sink.Name()
	payload := sink.Payload{
		Data:         buf.Bytes(),
		Records:      filled.Records,
		Uncompressed: filled.Uncompressed,
	}
	if codec := r.producer.Codec(); codec != nil {
		payload.Encoding = codec.ContentEncoding()
		payload.Extension = codec.Extension()
	}

	metrics.InFlight.WithLabelValues(name).Inc()
	r.tracker.Submit(func() error {
		defer metrics.InFlight.WithLabelValues(name).Dec()
		defer func() { _ = r.pool.Release(buf) }()

		// in-flight operations outlive the run context
		ctx, span := r.tracer.StartDispatch(context.WithoutCancel(ctx), name, filled.Records)
		span.SetAttribute("surge.bytes", filled.Sent)
		err := r.sink.Dispatch(ctx, payload)
		elapsed := r.clock.Since(started)
		span.End(err)
		metrics.ObserveDispatch(name, elapsed, err)

		if err != nil {
			r.log.Warn("dispatch failed", zap.Error(err), zap.Duration("elapsed", elapsed))
			return errors.Wrap(err, errors.ErrorTypeDispatch, "dispatch to "+name)
		}

		sample := metrics.Sample{
			Timestamp:    started,
			Duration:     elapsed,
			Uncompressed: filled.Uncompressed,
			Sent:         filled.Sent,
			Records:      filled.Records,
		}
		metrics.ObserveVolume(name, sample)
		if r.aggregator != nil {
			r.aggregator.Add(sample)
		}
		return nil
	})
}

// reportPeriod prints the per-period line when the rate period rolls over.
func (r *run) reportPeriod(p Period) {
	failed := r.tracker.Failed() - r.periodFailedBase
	fmt.Fprintf(r.out, "#metric# Timestamp=%s, %sCount=%d, ErrorCount=%d\n",
		p.Start.UTC().Format(metrics.TimestampLayout), r.config.Kind, r.periodDispatches, failed)
	r.log.Debug("rate period closed",
		zap.Time("start", p.Start),
		zap.Float64("produced", p.Produced),
		zap.Int64("dispatches", r.periodDispatches),
		zap.Int64("errors", failed))

	r.periodDispatches = 0
	r.periodFailedBase = r.tracker.Failed()
}
