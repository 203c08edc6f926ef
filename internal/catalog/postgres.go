package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

// querier is the part of *pgxpool.Pool the catalog uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres reads templates and reference tables from PostgreSQL.
type Postgres struct {
	db            querier
	close         func()
	templateQuery string
	groupColumn   string
	valueColumn   string
	logger        *zap.Logger
}

// NewPostgres connects to the catalog database and checks the connection.
func NewPostgres(ctx context.Context, cfg config.CatalogConfig, logger *zap.Logger) (*Postgres, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse catalog connection string")
	}
	poolConfig.MaxConns = 4
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "surge"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create catalog connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "catalog ping failed")
	}

	logger.Info("connected to catalog",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database))

	p := newPostgres(pool, cfg, logger)
	p.close = pool.Close
	return p, nil
}

func newPostgres(db querier, cfg config.CatalogConfig, logger *zap.Logger) *Postgres {
	return &Postgres{
		db:            db,
		close:         func() {},
		templateQuery: cfg.TemplateQuery,
		groupColumn:   cfg.GroupColumn,
		valueColumn:   cfg.ValueColumn,
		logger:        logger,
	}
}

// FetchTemplate runs the template query with name as its only argument.
func (p *Postgres) FetchTemplate(ctx context.Context, name string) (string, error) {
	var body string
	err := p.db.QueryRow(ctx, p.templateQuery, name).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", templateNotFound(name)
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeQuery, "fetch template "+name)
	}
	return body, nil
}

// referenceQuery selects the group and value columns of table for a set of
// groups passed as $1. Dotted table names are schema qualified.
func (p *Postgres) referenceQuery(table string) string {
	return fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = ANY($1)",
		pgx.Identifier{p.groupColumn}.Sanitize(),
		pgx.Identifier{p.valueColumn}.Sanitize(),
		pgx.Identifier(strings.Split(table, ".")).Sanitize(),
		pgx.Identifier{p.groupColumn}.Sanitize())
}

// LoadReferenceValues loads every listed group of table with one query.
func (p *Postgres) LoadReferenceValues(ctx context.Context, table string, groups []string) (map[string][]string, error) {
	start := time.Now()
	rows, err := p.db.Query(ctx, p.referenceQuery(table), groups)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query reference table "+table)
	}
	defer rows.Close()

	values := make(map[string][]string, len(groups))
	n := 0
	for rows.Next() {
		var group, value string
		if err := rows.Scan(&group, &value); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "scan reference row of "+table)
		}
		values[group] = append(values[group], value)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "read reference table "+table)
	}

	p.logger.Debug("reference values loaded",
		zap.String("table", table),
		zap.Strings("groups", groups),
		zap.Int("rows", n),
		zap.Duration("elapsed", time.Since(start)))
	return values, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	p.close()
	return nil
}
