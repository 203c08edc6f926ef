package sink

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres runs each payload as one statement on a connection pool.
type Postgres struct {
	db     pgQuerier
	close  func()
	logger *zap.Logger
}

// NewPostgres opens a pool sized for parallelism concurrent statements.
func NewPostgres(ctx context.Context, cfg config.SQLConfig, parallelism int, logger *zap.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres DSN")
	}
	poolConfig.MaxConns = int32(max(parallelism, 1))
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "surge"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping postgres")
	}

	logger.Info("postgres sink ready", zap.Int32("max_conns", poolConfig.MaxConns))
	p := newPostgres(pool, logger)
	p.close = pool.Close
	return p, nil
}

func newPostgres(db pgQuerier, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, close: func() {}, logger: logger}
}

// Name returns "postgres"
func (p *Postgres) Name() string { return config.SinkPostgres }

// Dispatch runs the payload statement and reads every result row.
func (p *Postgres) Dispatch(ctx context.Context, payload Payload) error {
	stmt := payload.Statement()
	rows, err := p.db.Query(ctx, stmt)
	if err != nil {
		return queryError(err, stmt)
	}
	defer rows.Close()

	var n int
	for rows.Next() {
		n++
	}
	if err := rows.Err(); err != nil {
		return queryError(err, stmt)
	}
	p.logger.Debug("statement completed", zap.Int("rows", n), zap.String("tag", rows.CommandTag().String()))
	return nil
}

// Close closes the pool.
func (p *Postgres) Close() error {
	p.close()
	return nil
}

func queryError(err error, stmt string) error {
	return errors.Wrap(err, errors.ErrorTypeQuery, "statement failed").WithDetail("statement", stmt)
}
