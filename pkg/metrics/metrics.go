// Package metrics provides throughput and latency tracking for surge.
//
// # Overview
//
// Two reporting paths share the same samples:
//   - The Aggregator drains samples every flush period and prints one
//     #metric# line to stdout. This line is the primary interface of the tool
//     and is what downstream dashboards scrape from logs.
//   - Prometheus collectors, registered with promauto, count every dispatch
//     and can be exposed with Serve when a metrics address is configured.
//
// # Basic Usage
//
//	agg := metrics.NewAggregator(os.Stdout, metrics.WithInterval(10*time.Second))
//	go agg.Run(ctx)
//
//	// on every successful dispatch
//	agg.Add(metrics.Sample{Timestamp: start, Duration: elapsed, Uncompressed: n, Sent: m, Records: r})
//	metrics.ObserveDispatch("kafka", elapsed, nil)
//
// # Metric Types
//
// Counter: monotonically increasing totals (dispatches, records, bytes)
// Gauge: values that can go up or down (in-flight buffers, rate lag)
// Histogram: distribution of dispatch latencies
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// DispatchesTotal counts dispatch operations.
	// Labels: sink (sink name), status (success/failure)
	//
	// Example:
	//	metrics.DispatchesTotal.WithLabelValues("s3", "success").Inc()
	DispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surge_dispatches_total",
			Help: "Total number of dispatch operations",
		},
		[]string{"sink", "status"},
	)

	// RecordsTotal counts generated records that were dispatched successfully
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surge_records_total",
			Help: "Total number of records dispatched",
		},
		[]string{"sink"},
	)

	// BytesTotal counts payload volume.
	// Labels: sink, kind (uncompressed/sent)
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "surge_bytes_total",
			Help: "Total payload bytes dispatched",
		},
		[]string{"sink", "kind"},
	)

	// DispatchLatency tracks end to end dispatch latency in seconds. For
	// ingest it includes the time spent generating the blob.
	DispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "surge_dispatch_latency_seconds",
			Help: "Dispatch latency in seconds",
			Buckets: []float64{
				0.001, // local sinks
				0.01,  // event bus sends
				0.05,
				0.1, // queries
				0.5,
				1, // small blobs
				5,
				30, // large blobs
				120,
			},
		},
		[]string{"sink"},
	)

	// InFlight tracks buffers currently owned by a pending dispatch
	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "surge_in_flight_dispatches",
			Help: "Number of dispatches currently in flight",
		},
		[]string{"sink"},
	)

	// RateLag tracks how far production is behind the target in the
	// current period, in target units. Negative means ahead.
	RateLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "surge_rate_lag",
			Help: "Expected minus produced volume in the current rate period",
		},
		[]string{"sink"},
	)
)

// ObserveDispatch records the outcome of one dispatch operation.
func ObserveDispatch(sink string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	DispatchesTotal.WithLabelValues(sink, status).Inc()
	DispatchLatency.WithLabelValues(sink).Observe(elapsed.Seconds())
}

// ObserveVolume records the payload volume of a successful dispatch.
func ObserveVolume(sink string, s Sample) {
	RecordsTotal.WithLabelValues(sink).Add(float64(s.Records))
	BytesTotal.WithLabelValues(sink, "uncompressed").Add(float64(s.Uncompressed))
	BytesTotal.WithLabelValues(sink, "sent").Add(float64(s.Sent))
}

// Serve exposes the default registry on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving prometheus metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
