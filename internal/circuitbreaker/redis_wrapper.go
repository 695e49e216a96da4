package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a go-redis/v9 client's Get/Set with circuit breaker
// protection, so a degraded staleness cache trips the breaker instead of
// every policy lookup stalling on a dead Redis connection.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper with circuit breaker
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	config := GetRedisConfig().ToConfig()
	cb := NewCircuitBreaker("redis", config, logger)

	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "staleness-cache", cb)

	return &RedisWrapper{
		client: client,
		cb:     cb,
		logger: logger,
	}
}

// Get wraps Redis Get with circuit breaker
func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})

	state := rw.cb.State()
	success := err == nil && (result == nil || result.Err() == nil || result.Err() == redis.Nil)
	GlobalMetricsCollector.RecordRequest("redis", "staleness-cache", state, success)

	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// Set wraps Redis Set with circuit breaker
func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd

	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})

	state := rw.cb.State()
	success := err == nil && (result == nil || result.Err() == nil)
	GlobalMetricsCollector.RecordRequest("redis", "staleness-cache", state, success)

	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}

	return result
}

// Close wraps Redis Close
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// GetClient returns the underlying Redis client for operations not
// covered by the wrapper.
func (rw *RedisWrapper) GetClient() *redis.Client {
	return rw.client
}

// IsCircuitBreakerOpen returns true if the circuit breaker is open
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
