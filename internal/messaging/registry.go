package messaging

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/functions"
	"github.com/edgefabric/telemetry-policy/internal/model"
	"github.com/edgefabric/telemetry-policy/internal/pipeline"
	"github.com/edgefabric/telemetry-policy/internal/policydoc"
	"github.com/edgefabric/telemetry-policy/internal/policymanager"
)

// ModelProvider resolves a device-model document by URN. The document
// loader itself is an external collaborator (§1 Non-goals); this package
// depends only on the resolved, already-parsed *model.DeviceModel.
type ModelProvider interface {
	Model(urn string) (*model.DeviceModel, error)
}

type analogKey struct {
	ModelURN string
	DeviceID string
}

// AnalogRegistry owns one pipeline.DeviceAnalog per (modelURN, deviceID),
// created lazily on first use (§5: "may perform a synchronous fetch on
// first-use of a model for a device") and kept in sync with the Policy
// Manager by implementing policymanager.ChangeListener.
type AnalogRegistry struct {
	mu      sync.Mutex
	analogs map[analogKey]*pipeline.DeviceAnalog

	Manager     *policymanager.Manager
	Models      ModelProvider
	Registry    *functions.Registry
	NetworkCost func() functions.NetworkCost
	Logger      *zap.Logger
}

// NewAnalogRegistry builds a registry and subscribes it to mgr's change
// notifications.
func NewAnalogRegistry(mgr *policymanager.Manager, models ModelProvider, registry *functions.Registry, logger *zap.Logger) *AnalogRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &AnalogRegistry{
		analogs:  make(map[analogKey]*pipeline.DeviceAnalog),
		Manager:  mgr,
		Models:   models,
		Registry: registry,
		Logger:   logger,
	}
	mgr.AddChangeListener(r)
	return r
}

// Analog returns the DeviceAnalog for (modelURN, deviceID), building it
// (and resolving any already-assigned policy) on first use.
func (r *AnalogRegistry) Analog(modelURN, deviceID string) *pipeline.DeviceAnalog {
	key := analogKey{ModelURN: modelURN, DeviceID: deviceID}

	r.mu.Lock()
	if a, ok := r.analogs[key]; ok {
		r.mu.Unlock()
		return a
	}
	r.mu.Unlock()

	dm, err := r.Models.Model(modelURN)
	if err != nil {
		r.Logger.Warn("messaging: failed to resolve device model", zap.String("model_urn", modelURN), zap.Error(err))
		dm = nil
	}
	a := pipeline.NewDeviceAnalog(deviceID, dm, r.Registry)
	if r.NetworkCost != nil {
		a.NetworkCost = r.NetworkCost
	}
	if policy, ok := r.Manager.GetPolicy(context.Background(), modelURN, deviceID); ok {
		a.SetPolicy(policy)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.analogs[key]; ok {
		a.Close()
		return existing
	}
	r.analogs[key] = a
	return a
}

// PolicyAssigned implements policymanager.ChangeListener: it installs the
// new policy on every already-materialized analog for the affected
// devices. Devices without a materialized analog yet pick it up lazily
// the first time Analog is called for them.
func (r *AnalogRegistry) PolicyAssigned(policy *policydoc.DevicePolicy, devices []string) {
	for _, deviceID := range devices {
		key := analogKey{ModelURN: policy.DeviceModelURN, DeviceID: deviceID}
		r.mu.Lock()
		a, ok := r.analogs[key]
		r.mu.Unlock()
		if ok {
			a.SetPolicy(policy)
		}
	}
}

// PolicyUnassigned implements policymanager.ChangeListener. It clears the
// policy (draining any pending windowed aggregate, §8 scenario 5) on
// every analog for an affected device still bound to policyID — matching
// by current policy id since the callback doesn't carry a modelURN.
func (r *AnalogRegistry) PolicyUnassigned(policyID string, devices []string) {
	affected := make(map[string]struct{}, len(devices))
	for _, d := range devices {
		affected[d] = struct{}{}
	}

	r.mu.Lock()
	var candidates []*pipeline.DeviceAnalog
	for key, a := range r.analogs {
		if _, ok := affected[key.DeviceID]; ok {
			candidates = append(candidates, a)
		}
	}
	r.mu.Unlock()

	for _, a := range candidates {
		if a.PolicyID() == policyID {
			a.SetPolicy(nil)
		}
	}
}

// Close stops every managed DeviceAnalog's background scheduler.
func (r *AnalogRegistry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.analogs {
		a.Close()
	}
}
