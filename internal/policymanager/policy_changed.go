package policymanager

import (
	"context"

	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/metrics"
	"github.com/edgefabric/telemetry-policy/internal/policydoc"
)

type pendingAssign struct {
	policy  *policydoc.DevicePolicy
	devices []string
}

type pendingUnassign struct {
	policyID string
	devices  []string
}

// PolicyChanged applies a batch of server-declared changes under a single
// write-lock hold (§4.4). device is the caller that received the push — a
// gateway id for a gateway subscription, or the device's own id otherwise.
// Listener notifications fire after the lock is released.
func (m *Manager) PolicyChanged(ctx context.Context, device string, items []PolicyChangeItem) {
	var assigns []pendingAssign
	var unassigns []pendingUnassign

	m.mu.Lock()
	for _, item := range items {
		switch item.Op {
		case "changed":
			m.applyChangedLocked(ctx, item)
			metrics.PolicyChangeEventsTotal.WithLabelValues("changed").Inc()
		case "assigned":
			if a, ok := m.applyAssignedLocked(ctx, device, item); ok {
				assigns = append(assigns, a)
			}
			metrics.PolicyChangeEventsTotal.WithLabelValues("assigned").Inc()
		case "unassigned":
			if u, ok := m.applyUnassignedLocked(ctx, device, item); ok {
				unassigns = append(unassigns, u)
			}
			metrics.PolicyChangeEventsTotal.WithLabelValues("unassigned").Inc()
		default:
			m.logger.Warn("policyChanged: unrecognized op, ignoring", zap.String("op", item.Op), zap.String("policy_id", item.PolicyID))
			metrics.PolicyChangeEventsTotal.WithLabelValues("unknown").Inc()
		}
	}
	m.mu.Unlock()

	for _, a := range assigns {
		m.notifyAssigned(a.policy, a.devices)
	}
	for _, u := range unassigns {
		m.notifyUnassigned(u.policyID, u.devices)
	}
}

// applyChangedLocked refreshes a policy body already known to the graph
// when the server's lastModified is newer than the cached copy, and
// propagates the new object to every device currently bound to it.
func (m *Manager) applyChangedLocked(ctx context.Context, item PolicyChangeItem) {
	cached, known := m.policies[item.PolicyID]
	if known && item.LastModified <= cached.LastModified {
		return
	}
	body, err := m.remote.FetchPolicy(ctx, item.ModelURN, item.PolicyID)
	if err != nil {
		m.logger.Warn("policyChanged(changed): fetch failed", zap.String("policy_id", item.PolicyID), zap.Error(err))
		return
	}
	policy, err := policydoc.Parse(body, item.ModelURN, m.registry, m.formulaParser)
	if err != nil {
		m.logger.Warn("policyChanged(changed): parse failed", zap.String("policy_id", item.PolicyID), zap.Error(err))
		return
	}
	m.policies[policy.ID] = policy
	for deviceID := range m.byPolicy[policy.ID] {
		m.byDevice[deviceKey{ModelURN: item.ModelURN, DeviceID: deviceID}] = &boundPolicy{policy: policy}
	}
	m.store.SavePolicyRaw(policy.ID, body)
}

// applyAssignedLocked fetches the policy body and binds it to the affected
// device set. On a fetch failure the whole model's local bindings are
// voided (§4.4: "cannot verify, so stop trusting any cached binding for
// that model until the next getPolicy re-bootstraps it").
func (m *Manager) applyAssignedLocked(ctx context.Context, device string, item PolicyChangeItem) (pendingAssign, bool) {
	body, err := m.remote.FetchPolicy(ctx, item.ModelURN, item.PolicyID)
	if err != nil {
		m.logger.Warn("policyChanged(assigned): fetch failed, voiding local bindings for model", zap.String("model_urn", item.ModelURN), zap.Error(err))
		m.voidModelBindingsLocked(item.ModelURN)
		return pendingAssign{}, false
	}
	policy, err := policydoc.Parse(body, item.ModelURN, m.registry, m.formulaParser)
	if err != nil {
		m.logger.Warn("policyChanged(assigned): parse failed", zap.String("policy_id", item.PolicyID), zap.Error(err))
		return pendingAssign{}, false
	}

	affected, err := m.remote.FetchAssignedDevices(ctx, item.ModelURN, item.PolicyID, device)
	if err != nil || len(affected) == 0 {
		affected = []string{device}
	}
	for _, deviceID := range affected {
		m.installLocked(item.ModelURN, deviceID, policy)
	}
	m.store.SavePolicyRaw(policy.ID, body)
	m.persistAssociationsLocked()
	return pendingAssign{policy: policy, devices: affected}, true
}

// applyUnassignedLocked drops the client-side binding for every device the
// server no longer lists against item.PolicyID, with one self-healing
// exception (§4.4): if a device's cached policy is newer than the server's
// declared lastModified, the client wins and the unassign is rejected for
// that device. clientDevices is sourced from byPolicy, which installLocked
// keeps free of stale entries (it clears a device's old policy index slot
// whenever the device is rebound), so every entry here is guaranteed to
// still carry item.PolicyID in byDevice too.
func (m *Manager) applyUnassignedLocked(ctx context.Context, device string, item PolicyChangeItem) (pendingUnassign, bool) {
	clientDevices := m.byPolicy[item.PolicyID]
	if len(clientDevices) == 0 {
		return pendingUnassign{}, false
	}

	serverDevices, err := m.remote.FetchAssignedDevices(ctx, item.ModelURN, item.PolicyID, device)
	if err != nil {
		serverDevices = nil
	}
	stillServerSide := make(map[string]struct{}, len(serverDevices))
	for _, d := range serverDevices {
		stillServerSide[d] = struct{}{}
	}

	var dropped []string
	for deviceID := range clientDevices {
		if _, stillBound := stillServerSide[deviceID]; stillBound {
			continue
		}
		key := deviceKey{ModelURN: item.ModelURN, DeviceID: deviceID}
		if bp, ok := m.byDevice[key]; ok && bp.policy != nil && bp.policy.LastModified > item.LastModified {
			metrics.PolicyUnassignRejectedTotal.Inc()
			continue
		}
		m.removeBindingLocked(item.ModelURN, deviceID, item.PolicyID)
		dropped = append(dropped, deviceID)
	}
	if len(dropped) == 0 {
		return pendingUnassign{}, false
	}
	m.persistAssociationsLocked()
	return pendingUnassign{policyID: item.PolicyID, devices: dropped}, true
}
