package policymanager

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/circuitbreaker"
)

// HTTPRemoteClient implements RemoteClient against the three §6 endpoints,
// routing every call through the adapted circuit breaker so a degraded
// policy server trips open instead of stalling every device's pipeline.
type HTTPRemoteClient struct {
	baseURL string
	wrapper *circuitbreaker.HTTPWrapper
	logger  *zap.Logger
}

// NewHTTPRemoteClient builds a RemoteClient against baseURL (e.g.
// "https://fleet.example.com/api/v1"). client may be nil to accept the
// wrapper's default timeout.
func NewHTTPRemoteClient(baseURL string, client *http.Client, logger *zap.Logger) *HTTPRemoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPRemoteClient{
		baseURL: baseURL,
		wrapper: circuitbreaker.NewHTTPWrapper(client, "policy-manager", "device-policy-service", logger),
		logger:  logger,
	}
}

// FetchPolicy implements RemoteClient.
func (c *HTTPRemoteClient) FetchPolicy(ctx context.Context, modelURN, policyID string) ([]byte, error) {
	u := fmt.Sprintf("%s/deviceModels/%s/devicePolicies/%s", c.baseURL, url.PathEscape(modelURN), url.PathEscape(policyID))
	return c.getBody(ctx, u)
}

// FetchPolicyForDevice implements RemoteClient.
func (c *HTTPRemoteClient) FetchPolicyForDevice(ctx context.Context, modelURN, deviceID string) (string, []byte, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf(`{"devices.id":%q}`, deviceID))
	q.Set("fields", "id,description,lastModified,enabled,pipelines")
	u := fmt.Sprintf("%s/deviceModels/%s/devicePolicies?%s", c.baseURL, url.PathEscape(modelURN), q.Encode())

	body, err := c.getBody(ctx, u)
	if err != nil {
		return "", nil, err
	}
	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		return "", nil, fmt.Errorf("decode device-policy list: %w", err)
	}
	if len(docs) == 0 {
		return "", nil, fmt.Errorf("no policy assigned to device %q", deviceID)
	}
	var header struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(docs[0], &header); err != nil {
		return "", nil, fmt.Errorf("decode policy header: %w", err)
	}
	return header.ID, docs[0], nil
}

// FetchAssignedDevices implements RemoteClient. A gateway's ICD set is
// queried by directlyConnectedOwner; any device the server does not
// recognize as a gateway naturally returns an empty set, and the caller
// falls back to treating callerID itself as the sole affected device.
func (c *HTTPRemoteClient) FetchAssignedDevices(ctx context.Context, modelURN, policyID, callerID string) ([]string, error) {
	q := url.Values{}
	q.Set("q", fmt.Sprintf(`{"directlyConnectedOwner":%q}`, callerID))
	q.Set("fields", "id")
	u := fmt.Sprintf("%s/deviceModels/%s/devicePolicies/%s/devices?%s", c.baseURL, url.PathEscape(modelURN), url.PathEscape(policyID), q.Encode())

	body, err := c.getBody(ctx, u)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode device list: %w", err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids, nil
}

func (c *HTTPRemoteClient) getBody(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.wrapper.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", u, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("request %s: status %d", u, resp.StatusCode)
	}
	return body, nil
}
