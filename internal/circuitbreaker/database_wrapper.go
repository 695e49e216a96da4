package circuitbreaker

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// DatabaseWrapper wraps a *sql.DB's liveness check with circuit breaker
// protection, so a degraded audit database trips the breaker instead of
// every write stalling on a dead connection pool.
type DatabaseWrapper struct {
	db     *sql.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sql.DB, logger *zap.Logger) *DatabaseWrapper {
	config := GetDatabaseConfig().ToConfig()
	cb := NewCircuitBreaker("postgresql", config, logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("postgresql", "audit-store", cb)

	return &DatabaseWrapper{
		db:     db,
		cb:     cb,
		logger: logger,
	}
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	var err error

	cbErr := dw.cb.Execute(ctx, func() error {
		err = dw.db.PingContext(ctx)
		return err
	})

	state := dw.cb.State()
	success := cbErr == nil && err == nil
	GlobalMetricsCollector.RecordRequest("postgresql", "audit-store", state, success)

	if cbErr != nil {
		return cbErr
	}
	return err
}

// GetDB returns the underlying database connection for operations not
// covered by the wrapper.
func (dw *DatabaseWrapper) GetDB() *sql.DB {
	return dw.db
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}
