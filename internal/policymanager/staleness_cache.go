package policymanager

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/circuitbreaker"
	"github.com/edgefabric/telemetry-policy/internal/metrics"
)

// StalenessCache mirrors each device's bound policy lastModified outside
// process memory, keyed "<modelUrn>/<deviceId>". Manager only writes to
// it (each time GetPolicy installs a binding) and never reads it back, so
// it does not spare a remote lookup; a nil cache disables the mirror.
type StalenessCache interface {
	Get(ctx context.Context, deviceKey string) (lastModified int64, ok bool, err error)
	Set(ctx context.Context, deviceKey string, lastModified int64) error
}

// RedisStalenessCache is the go-redis/v9-backed StalenessCache, routed
// through the adapted circuit breaker so a degraded Redis trips open
// instead of stalling policy resolution for every device.
type RedisStalenessCache struct {
	wrapper *circuitbreaker.RedisWrapper
	prefix  string
	ttl     time.Duration
}

// NewRedisStalenessCache builds a cache against an existing *redis.Client.
// ttl of zero means entries never expire.
func NewRedisStalenessCache(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStalenessCache {
	return &RedisStalenessCache{
		wrapper: circuitbreaker.NewRedisWrapper(client, zap.NewNop()),
		prefix:  keyPrefix,
		ttl:     ttl,
	}
}

func (c *RedisStalenessCache) key(deviceKey string) string {
	return c.prefix + deviceKey
}

// Get implements StalenessCache.
func (c *RedisStalenessCache) Get(ctx context.Context, deviceKey string) (int64, bool, error) {
	v, err := c.wrapper.Get(ctx, c.key(deviceKey)).Result()
	if err == redis.Nil {
		metrics.StalenessCacheOpsTotal.WithLabelValues("get", "miss").Inc()
		return 0, false, nil
	}
	if err != nil {
		metrics.StalenessCacheOpsTotal.WithLabelValues("get", "error").Inc()
		return 0, false, err
	}
	lastModified, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		metrics.StalenessCacheOpsTotal.WithLabelValues("get", "error").Inc()
		return 0, false, err
	}
	metrics.StalenessCacheOpsTotal.WithLabelValues("get", "hit").Inc()
	return lastModified, true, nil
}

// Set implements StalenessCache.
func (c *RedisStalenessCache) Set(ctx context.Context, deviceKey string, lastModified int64) error {
	err := c.wrapper.Set(ctx, c.key(deviceKey), strconv.FormatInt(lastModified, 10), c.ttl).Err()
	if err != nil {
		metrics.StalenessCacheOpsTotal.WithLabelValues("set", "error").Inc()
		return err
	}
	metrics.StalenessCacheOpsTotal.WithLabelValues("set", "hit").Inc()
	return nil
}
