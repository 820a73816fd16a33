package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"memecoin-signal-lab/internal/observability"
	"memecoin-signal-lab/internal/storage"
)

// Pool is the pgx connection pool shared by the stores in this package.
type Pool struct {
	*pgxpool.Pool

	// Metrics is optional; when set every store query is timed.
	Metrics *observability.Metrics
}

const (
	applicationName = "signal-lab"
	maxConnIdleTime = 5 * time.Minute
)

// NewPool connects to dsn and verifies the connection. Pool limits given
// in the DSN (pool_max_conns etc.) take precedence over the defaults here.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	if cfg.MaxConnIdleTime > maxConnIdleTime {
		cfg.MaxConnIdleTime = maxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres %s: %w", cfg.ConnConfig.Host, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes every connection in the pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// observe records query latency and wraps failures of the store itself.
// Input errors (ErrInvalidInput, ErrNotFound) pass through unwrapped.
func (p *Pool) observe(op string, start time.Time, err error) error {
	p.Metrics.RecordDBQuery("postgres", op, time.Since(start), err)
	if err == nil || !storage.IsFatal(err) {
		return err
	}
	return &storage.Error{Op: op, Err: err}
}

// foreign_key_violation
const pgErrForeignKeyViolation = "23503"

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrForeignKeyViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
