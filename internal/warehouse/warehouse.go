// Package warehouse defines the WarehouseClient boundary interface and a
// pgx/v5-backed concrete implementation: the only place SQL actually
// crosses the wire to the analytical warehouse.
package warehouse

import (
	"context"
	"math"
	"time"

	"sqlorch/internal/errs"
)

// Row is a column-name→value record, as returned by a fetching Execute
// call. It is a map, so column order is not preserved.
type Row map[string]any

// Client is the boundary every materialization strategy calls through.
// Implementations own connection pooling, session-variable scoping, and
// transient-error retry; callers never see a raw driver type.
type Client interface {
	// Execute runs sql on a single pooled connection with sessionVars set
	// first. When fetch is true the result rows are returned; otherwise
	// rows is nil.
	Execute(ctx context.Context, sql string, sessionVars map[string]string, fetch bool) (rows []Row, err error)
	// ExecuteTx runs every statement in sqls, in order, on the same
	// connection and transaction: the first failure rolls back the whole
	// batch.
	ExecuteTx(ctx context.Context, sqls []string, sessionVars map[string]string) error
	// HealthCheck reports whether the warehouse currently answers a
	// cheap liveness query.
	HealthCheck(ctx context.Context) bool
	// Close releases the underlying pool.
	Close()
}

// RetryPolicy configures the exponential backoff applied around a
// transient failure, shared by every Client implementation.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
}

// DefaultRetryPolicy matches the spec's base=1s, factor=2 backoff.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, BaseDelay: time.Second, Factor: 2}
}

// Delay returns the backoff delay before retry attempt n (1-indexed).
func (r RetryPolicy) Delay(attempt int) time.Duration {
	return time.Duration(float64(r.BaseDelay) * math.Pow(r.Factor, float64(attempt-1)))
}

// classifiedTransient is the fixed set of warehouse error codes treated
// as retryable. pgx/lib/pq surface these as SQLSTATE class 08
// (connection exception) plus a couple of resource-exhaustion codes that
// are typically transient under load.
var classifiedTransient = map[string]struct{}{
	"08000": {}, // connection_exception
	"08003": {}, // connection_does_not_exist
	"08006": {}, // connection_failure
	"08001": {}, // sqlclient_unable_to_establish_sqlconnection
	"08004": {}, // sqlserver_rejected_establishment_of_sqlconnection
	"53300": {}, // too_many_connections
	"57P03": {}, // cannot_connect_now
}

// IsTransient reports whether sqlstate is in the fixed retryable set.
func IsTransient(sqlstate string) bool {
	_, ok := classifiedTransient[sqlstate]
	return ok
}

// Retry runs op up to policy.MaxRetries+1 times, classifying each
// failure via classify. A non-transient failure (classify returns false)
// surfaces immediately. Exhausting retries on a transient failure
// returns a terminal errs.Error of KindTransientConnection.
func Retry(ctx context.Context, policy RetryPolicy, classify func(error) bool, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if !classify(err) {
			return errs.New(errs.KindExecution, "warehouse execute", err)
		}
		if attempt == policy.MaxRetries+1 {
			break
		}
		select {
		case <-ctx.Done():
			return errs.New(errs.KindTransientConnection, "warehouse execute canceled during retry", ctx.Err())
		case <-time.After(policy.Delay(attempt)):
		}
	}
	return errs.New(errs.KindTransientConnection, "warehouse execute exhausted retries", lastErr)
}
