package policymanager

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedRemoteClient wraps a RemoteClient with a token-bucket cap on
// outbound calls to the device-policy service, the same concern the
// orchestrator's per-provider rate control covers for its own upstream
// calls — reimplemented here with golang.org/x/time/rate against a single
// endpoint rather than a table of per-provider/tier limits, since a
// device agent talks to exactly one device-policy service.
type RateLimitedRemoteClient struct {
	inner   RemoteClient
	limiter *rate.Limiter
}

// NewRateLimitedRemoteClient caps inner to rps requests per second with a
// burst of burst. A non-positive rps disables limiting (an unbounded
// limiter is returned).
func NewRateLimitedRemoteClient(inner RemoteClient, rps float64, burst int) *RateLimitedRemoteClient {
	if rps <= 0 {
		return &RateLimitedRemoteClient{inner: inner, limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &RateLimitedRemoteClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (c *RateLimitedRemoteClient) FetchPolicy(ctx context.Context, modelURN, policyID string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.FetchPolicy(ctx, modelURN, policyID)
}

func (c *RateLimitedRemoteClient) FetchPolicyForDevice(ctx context.Context, modelURN, deviceID string) (string, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", nil, err
	}
	return c.inner.FetchPolicyForDevice(ctx, modelURN, deviceID)
}

func (c *RateLimitedRemoteClient) FetchAssignedDevices(ctx context.Context, modelURN, policyID, callerID string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.FetchAssignedDevices(ctx, modelURN, policyID, callerID)
}
