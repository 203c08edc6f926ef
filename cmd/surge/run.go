package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/internal/catalog"
	"github.com/ajitpratap0/surge/internal/dispatch"
	"github.com/ajitpratap0/surge/internal/sink"
	"github.com/ajitpratap0/surge/pkg/compression"
	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
	"github.com/ajitpratap0/surge/pkg/logger"
	"github.com/ajitpratap0/surge/pkg/metrics"
	"github.com/ajitpratap0/surge/pkg/observability"
	"github.com/ajitpratap0/surge/pkg/template"
)

// drainTimeout bounds the wait for in-flight dispatches after an interrupt
const drainTimeout = 2 * time.Minute

func newModeCommand(mode config.Mode, short, long string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
	}
	addRunFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd.Flags())
		if err != nil {
			return err
		}
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		return run(cmd.Context(), mode, cfg, v.GetInt64("limit"))
	}
	return cmd
}

func newRenderCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   string(config.ModeRender),
		Short: "Print generated records without dispatching them",
		Long: `Compiles the template, resolving reference values through the catalog, and
prints --count records to stdout.

Example:
  surge render --template-text 'id=GenerateId(6) lvl=GenerateWeightedLabels(("info", 9), ("error", 1))' --count 5 --seed 7`,
		Args: cobra.NoArgs,
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().Int("count", 10, "Number of records to print")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		v, err := newViper(cmd.Flags())
		if err != nil {
			return err
		}
		cfg, err := loadConfig(v)
		if err != nil {
			return err
		}
		if err := cfg.Validate(config.ModeRender); err != nil {
			return err
		}
		if err := initLogger(cfg); err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		gen, err := compileTemplate(cmd.Context(), cfg, logger.Get())
		if err != nil {
			return err
		}
		return render(bufio.NewWriter(cmd.OutOrStdout()), gen, v.GetInt("count"))
	}
	return cmd
}

func render(w *bufio.Writer, gen *template.Generator, count int) error {
	for i := 0; i < count; i++ {
		if _, err := gen.Generate(w); err != nil {
			return err
		}
	}
	return w.Flush()
}

func initLogger(cfg *config.Config) error {
	err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogEncoding,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize logger")
	}
	return nil
}

// run executes one mode until the limit is reached or the process is
// interrupted.
func run(ctx context.Context, mode config.Mode, cfg *config.Config, limit int64) error {
	if err := cfg.Validate(mode); err != nil {
		return err
	}
	if err := initLogger(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx = context.WithValue(ctx, logger.RunIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, logger.ModeKey, string(mode))
	ctx = context.WithValue(ctx, logger.SinkKey, cfg.Sink.Type)
	log := logger.WithContext(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, log); err != nil {
				log.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig(version)
		tc.SamplingRate = cfg.Observability.TracingSampleRate
		shutdown, err := observability.InitTracing(tc)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Warn("failed to flush traces", zap.Error(err))
			}
		}()
	}

	gen, err := compileTemplate(ctx, cfg, log)
	if err != nil {
		return err
	}

	loopConfig, err := newLoopConfig(mode, cfg)
	if err != nil {
		return err
	}
	loopConfig.Limit = limit
	loopConfig.DrainTimeout = drainTimeout

	s, err := sink.New(ctx, cfg.Sink, cfg.Performance.Parallelism, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn("failed to close sink", zap.Error(err))
		}
	}()

	aggCtx, stopAggregator := context.WithCancel(context.Background())
	agg := metrics.NewAggregator(os.Stdout,
		metrics.WithInterval(cfg.Observability.MetricsInterval),
		metrics.WithLogger(log))
	aggDone := make(chan struct{})
	go func() {
		defer close(aggDone)
		agg.Run(aggCtx)
	}()

	loop, err := dispatch.NewLoop(loopConfig, gen, s,
		dispatch.WithAggregator(agg),
		dispatch.WithTracer(observability.NewTracer(nil)))
	if err != nil {
		stopAggregator()
		<-aggDone
		return err
	}

	printBanner(log, mode, cfg, loopConfig)

	stats, err := loop.Run(ctx)
	stopAggregator()
	<-aggDone

	log.Info("run finished",
		zap.Int64("dispatches", stats.Dispatches),
		zap.Int64("failures", stats.Failures),
		zap.Int64("records", stats.Records),
		zap.Duration("duration", stats.Duration))
	return err
}

// compileTemplate resolves the template text, inline or from the catalog,
// and compiles it with the catalog as reference loader.
func compileTemplate(ctx context.Context, cfg *config.Config, log *zap.Logger) (*template.Generator, error) {
	cat, err := catalog.Open(ctx, cfg.Catalog, log)
	if err != nil {
		return nil, err
	}
	if cat != nil {
		defer cat.Close()
	}

	text := cfg.Template.Text
	if text == "" {
		if cat == nil {
			return nil, errors.New(errors.ErrorTypeConfig, "a catalog is required to look up a template by name")
		}
		text, err = cat.FetchTemplate(ctx, cfg.Template.Name)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeLookup, "failed to fetch template").
				WithDetail("template", cfg.Template.Name)
		}
	}

	opts := []template.Option{template.WithSeed(cfg.Seed)}
	if cat != nil {
		opts = append(opts, template.WithReferenceLoader(cat))
	}
	gen, err := template.Compile(ctx, text, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCompile, "failed to compile template")
	}
	log.Debug("template compiled", zap.Int("placeholders", gen.Placeholders()))
	return gen, nil
}

// newLoopConfig maps the performance settings of mode onto a loop
// configuration.
func newLoopConfig(mode config.Mode, cfg *config.Config) (dispatch.Config, error) {
	perf := cfg.Performance
	lc := dispatch.Config{
		Parallelism: perf.Parallelism,
		TargetRate:  perf.TargetRate,
		RatePeriod:  perf.RatePeriod,
		RateUnit:    dispatch.RateRecords,
	}

	switch mode {
	case config.ModeIngest:
		lc.Kind = dispatch.KindBlob
		if bytes := perf.BlobSizeBytes(); bytes > 0 {
			lc.Bound = dispatch.Bound{Bytes: bytes}
		} else {
			lc.Bound = dispatch.Bound{Records: perf.BatchSize}
		}
		if perf.CompressionEnabled() {
			alg, err := compression.ParseAlgorithm(perf.CompressionAlgorithm)
			if err != nil {
				return lc, errors.Wrap(err, errors.ErrorTypeConfig, "invalid compression algorithm")
			}
			codec, err := compression.NewCodec(alg, compression.Fastest)
			if err != nil {
				return lc, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create codec")
			}
			lc.Codec = codec
		}
	case config.ModeStream:
		lc.Kind = dispatch.KindPayload
		lc.Bound = dispatch.Bound{Records: perf.RecordsPerPayload}
		lc.RateUnit = dispatch.RateMegabytes
	case config.ModeQuery:
		lc.Kind = dispatch.KindQuery
		lc.Bound = dispatch.Bound{Records: 1}
	default:
		return lc, errors.Newf(errors.ErrorTypeConfig, "mode %q does not dispatch", mode)
	}
	return lc, nil
}

func printBanner(log *zap.Logger, mode config.Mode, cfg *config.Config, lc dispatch.Config) {
	tmpl := cfg.Template.Name
	if cfg.Template.Text != "" {
		tmpl = "<inline>"
	}
	codec := "none"
	if lc.Codec != nil {
		codec = string(lc.Codec.Algorithm())
	}
	log.Info(fmt.Sprintf("Surge v%s", version),
		zap.String("mode", string(mode)),
		zap.String("template", tmpl),
		zap.String("sink", cfg.Sink.Type),
		zap.Float64("target_rate", lc.TargetRate),
		zap.Duration("rate_period", lc.RatePeriod),
		zap.Int("parallelism", lc.Parallelism),
		zap.Int("bound_records", lc.Bound.Records),
		zap.Int64("bound_bytes", lc.Bound.Bytes),
		zap.String("compression", codec),
		zap.Int64("limit", lc.Limit))
}
