package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

// New creates the sink selected by cfg.Type. Parallelism sizes the
// connection pools of query sinks.
func New(ctx context.Context, cfg config.SinkConfig, parallelism int, logger *zap.Logger) (Sink, error) {
	switch cfg.Type {
	case config.SinkKafka:
		return opened(NewKafka(cfg.Kafka, logger))
	case config.SinkS3:
		return opened(NewS3(ctx, cfg.S3, logger))
	case config.SinkGCS:
		return opened(NewGCS(ctx, cfg.GCS, logger))
	case config.SinkHTTP:
		return NewHTTP(ctx, cfg.HTTP, logger), nil
	case config.SinkPostgres:
		return opened(NewPostgres(ctx, cfg.SQL, parallelism, logger))
	case config.SinkMySQL, config.SinkSnowflake:
		return opened(NewSQL(ctx, cfg.Type, cfg.SQL, parallelism, logger))
	case config.SinkBigQuery:
		return opened(NewBigQuery(ctx, cfg.BigQuery, logger))
	case config.SinkMongoDB:
		return opened(NewMongoDB(ctx, cfg.MongoDB, parallelism, logger))
	case config.SinkDiscard, "":
		return NewDiscard(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown sink type %q", cfg.Type)
	}
}

// opened keeps a failed constructor from returning a non-nil Sink holding a
// nil pointer.
func opened[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
