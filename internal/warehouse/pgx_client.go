package warehouse

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sqlorch/internal/errs"
)

// PgxClient is the production Client, pooling connections via pgxpool and
// retrying transient errors per RetryPolicy.
type PgxClient struct {
	pool   *pgxpool.Pool
	policy RetryPolicy
	log    *zap.Logger
}

// NewPgxClient builds a pool from dsn. poolSize bounds the number of
// concurrent connections (a fixed-size pool per the boundary contract);
// lazyInit defers the initial connection attempt to first use instead of
// dialing eagerly.
func NewPgxClient(ctx context.Context, dsn string, poolSize int, lazyInit bool, policy RetryPolicy, log *zap.Logger) (*PgxClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.New(errs.KindConfiguration, "parse warehouse DSN", err)
	}
	if poolSize > 0 {
		cfg.MaxConns = int32(poolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.New(errs.KindConnection, "create warehouse pool", err)
	}

	c := &PgxClient{pool: pool, policy: policy, log: log}
	if !lazyInit {
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errs.New(errs.KindConnection, "eager pool init ping", err)
		}
	}
	return c, nil
}

// Execute acquires a single connection, sets sessionVars on it, then runs
// sql on that same connection so SET LOCAL-style session state applies.
func (c *PgxClient) Execute(ctx context.Context, sql string, sessionVars map[string]string, fetch bool) ([]Row, error) {
	var rows []Row
	err := Retry(ctx, c.policy, isTransientErr, func() error {
		conn, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		if !c.connHealthy(ctx, conn) {
			conn.Conn().Close(ctx)
			return errs.New(errs.KindTransientConnection, "acquired connection failed health check", nil)
		}

		if err := setSessionVars(ctx, conn.Conn(), sessionVars); err != nil {
			return err
		}

		if !fetch {
			_, err := conn.Exec(ctx, sql)
			return err
		}

		result, err := conn.Query(ctx, sql)
		if err != nil {
			return err
		}
		defer result.Close()

		rows, err = scanRows(result)
		return err
	})
	return rows, err
}

// ExecuteTx runs every statement in sqls on a single connection and
// transaction, rolling back on the first failure.
func (c *PgxClient) ExecuteTx(ctx context.Context, sqls []string, sessionVars map[string]string) error {
	return Retry(ctx, c.policy, isTransientErr, func() error {
		conn, err := c.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		if err := setSessionVars(ctx, conn.Conn(), sessionVars); err != nil {
			return err
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}

		for _, stmt := range sqls {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

// HealthCheck runs a cheap SELECT 1 against the pool.
func (c *PgxClient) HealthCheck(ctx context.Context) bool {
	var out int
	err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&out)
	return err == nil && out == 1
}

// Close releases the pool.
func (c *PgxClient) Close() {
	c.pool.Close()
}

// connHealthy runs the cheap SELECT 1 liveness probe that distinguishes
// idle/in-use from unhealthy in the pool-state model; an unhealthy
// connection is discarded by the caller and replaced on next Acquire.
func (c *PgxClient) connHealthy(ctx context.Context, conn *pgxpool.Conn) bool {
	var out int
	err := conn.QueryRow(ctx, "SELECT 1").Scan(&out)
	if err != nil {
		c.log.Warn("discarding unhealthy pooled connection", zap.Error(err))
		return false
	}
	return out == 1
}

func setSessionVars(ctx context.Context, conn *pgx.Conn, vars map[string]string) error {
	for k, v := range vars {
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET %s = %s", k, quoteSessionValue(v))); err != nil {
			return err
		}
	}
	return nil
}

func quoteSessionValue(v string) string {
	escaped := ""
	for _, r := range v {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}

func scanRows(result pgx.Rows) ([]Row, error) {
	fields := result.FieldDescriptions()
	var out []Row
	for result.Next() {
		values, err := result.Values()
		if err != nil {
			return nil, err
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, result.Err()
}

// isTransientErr classifies a pgx error by SQLSTATE against the fixed
// retryable set.
func isTransientErr(err error) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		return IsTransient(pgErr.Code)
	}
	// Connection-level failures (refused, reset, DNS) never reach a
	// PgError and are still transient: the pool couldn't even open a
	// connection.
	return true
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pe, ok := err.(*pgconn.PgError); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
