package sink

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/ajitpratap0/surge/pkg/config"
	"github.com/ajitpratap0/surge/pkg/errors"
)

// database/sql driver names by sink type
var sqlDrivers = map[string]string{
	config.SinkMySQL:     "mysql",
	config.SinkSnowflake: "snowflake",
}

// SQL runs each payload as one statement through a database/sql driver.
type SQL struct {
	name   string
	db     *sql.DB
	logger *zap.Logger
}

// NewSQL opens a mysql or snowflake connection pool.
func NewSQL(ctx context.Context, sinkType string, cfg config.SQLConfig, parallelism int, logger *zap.Logger) (*SQL, error) {
	driver, ok := sqlDrivers[sinkType]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no SQL driver for sink %q", sinkType)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid DSN").WithDetail("driver", driver)
	}
	db.SetMaxOpenConns(max(parallelism, 1))
	db.SetMaxIdleConns(max(parallelism, 1))
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect").WithDetail("driver", driver)
	}

	logger.Info("sql sink ready", zap.String("driver", driver), zap.Int("max_open_conns", max(parallelism, 1)))
	return newSQL(sinkType, db, logger), nil
}

func newSQL(name string, db *sql.DB, logger *zap.Logger) *SQL {
	return &SQL{name: name, db: db, logger: logger}
}

// Name returns the sink type, "mysql" or "snowflake"
func (s *SQL) Name() string { return s.name }

// Dispatch runs the payload statement and reads every result row.
func (s *SQL) Dispatch(ctx context.Context, p Payload) error {
	stmt := p.Statement()
	rows, err := s.db.QueryContext(ctx, stmt)
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
	s.logger.Debug("statement completed", zap.Int("rows", n))
	return nil
}

// Close closes the pool.
func (s *SQL) Close() error {
	return s.db.Close()
}
