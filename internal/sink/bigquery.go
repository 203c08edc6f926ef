package sink

import (
	"context"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

type rowIterator interface {
	Next(dst interface{}) error
}

type bigQueryRunner func(ctx context.Context, stmt string) (rowIterator, error)

// BigQuery runs each payload as one query job.
type BigQuery struct {
	run    bigQueryRunner
	close  func() error
	logger *zap.Logger
}

// NewBigQuery creates a client using application default credentials.
func NewBigQuery(ctx context.Context, cfg config.BigQueryConfig, logger *zap.Logger) (*BigQuery, error) {
	client, err := bigquery.NewClient(ctx, cfg.Project)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
	}
	if cfg.Location != "" {
		client.Location = cfg.Location
	}

	run := func(ctx context.Context, stmt string) (rowIterator, error) {
		return client.Query(stmt).Read(ctx)
	}

	logger.Info("bigquery sink ready", zap.String("project", cfg.Project), zap.String("location", cfg.Location))
	b := newBigQuery(run, logger)
	b.close = client.Close
	return b, nil
}

func newBigQuery(run bigQueryRunner, logger *zap.Logger) *BigQuery {
	return &BigQuery{run: run, close: func() error { return nil }, logger: logger}
}

// Name returns "bigquery"
func (b *BigQuery) Name() string { return config.SinkBigQuery }

// Dispatch runs the payload query and reads every result row.
func (b *BigQuery) Dispatch(ctx context.Context, p Payload) error {
	stmt := p.Statement()
	it, err := b.run(ctx, stmt)
	if err != nil {
		return queryError(err, stmt)
	}

	var n int
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return queryError(err, stmt)
		}
		n++
	}
	b.logger.Debug("query completed", zap.Int("rows", n))
	return nil
}

// Close closes the client.
func (b *BigQuery) Close() error {
	return b.close()
}
