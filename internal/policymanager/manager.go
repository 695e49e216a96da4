// Package policymanager implements the Policy Manager (§4.4): the
// association graph between devices, device models and policies, with
// self-healing staleness handling and local persistence.
package policymanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/functions"
	"github.com/edgefabric/telemetry-policy/internal/metrics"
	"github.com/edgefabric/telemetry-policy/internal/policydoc"
)

// RemoteClient is the external collaborator for the three §6 endpoints.
// The production implementation (see remote.go) wraps net/http in the
// adapted circuit breaker; tests supply a stub.
type RemoteClient interface {
	// FetchPolicy fetches a policy document body by (modelUrn, policyId).
	FetchPolicy(ctx context.Context, modelURN, policyID string) ([]byte, error)
	// FetchPolicyForDevice resolves the policy currently assigned to a
	// device and returns its raw body alongside its id.
	FetchPolicyForDevice(ctx context.Context, modelURN, deviceID string) (policyID string, body []byte, err error)
	// FetchAssignedDevices returns the server-declared device set for a
	// policy. For a gateway caller this is its ICD set; for a directly
	// connected device this degenerates to []string{callerID}.
	FetchAssignedDevices(ctx context.Context, modelURN, policyID, callerID string) ([]string, error)
}

// ChangeListener receives policy (un)assignment notifications once the
// mapping graph is consistent. Per §4.4 these fire outside the mapping
// lock; panics/errors from a listener must never abort the change batch.
type ChangeListener interface {
	PolicyAssigned(policy *policydoc.DevicePolicy, devices []string)
	PolicyUnassigned(policyID string, devices []string)
}

// PolicyChangeItem is one entry of an inbound policyChanged batch (§4.4,
// §6: "JSON array of {deviceModelUrn, id, lastModified, op}").
type PolicyChangeItem struct {
	ModelURN     string
	PolicyID     string
	LastModified int64
	Op           string // "changed" | "assigned" | "unassigned"
}

type deviceKey struct {
	ModelURN string
	DeviceID string
}

// boundPolicy is a byDevice entry. A nil policy with none=true records a
// confirmed "this device has no policy" result so repeated getPolicy
// calls short-circuit without a remote round trip.
type boundPolicy struct {
	policy *policydoc.DevicePolicy
	none   bool
}

// Manager is the Policy Manager. Zero value is not usable; build with New.
type Manager struct {
	mu sync.RWMutex // mappingLock, write-preferring via Go's RWMutex semantics

	byDevice map[deviceKey]*boundPolicy
	byPolicy map[string]map[string]struct{} // policyId -> deviceIds
	byModel  map[string]map[string]struct{} // modelUrn -> policyIds
	policies map[string]*policydoc.DevicePolicy

	remote        RemoteClient
	registry      *functions.Registry
	formulaParser policydoc.FormulaParser
	store         *Store
	cache         StalenessCache
	logger        *zap.Logger

	listenersMu sync.Mutex
	listeners   []ChangeListener
}

// Config bundles Manager's external collaborators.
type Config struct {
	Remote        RemoteClient
	Registry      *functions.Registry
	FormulaParser policydoc.FormulaParser
	Store         *Store          // nil disables persistence
	Cache         StalenessCache  // nil disables the staleness cache mirror
	Logger        *zap.Logger
}

// New builds a Manager and, if a Store is configured, bootstraps the
// mapping graph from it (§4.4: "the store is authoritative on startup").
func New(cfg Config) (*Manager, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		byDevice:      make(map[deviceKey]*boundPolicy),
		byPolicy:      make(map[string]map[string]struct{}),
		byModel:       make(map[string]map[string]struct{}),
		policies:      make(map[string]*policydoc.DevicePolicy),
		remote:        cfg.Remote,
		registry:      cfg.Registry,
		formulaParser: cfg.FormulaParser,
		store:         cfg.Store,
		cache:         cfg.Cache,
		logger:        logger,
	}
	if m.store != nil {
		if err := m.bootstrap(); err != nil {
			return nil, fmt.Errorf("bootstrap policy store: %w", err)
		}
	}
	return m, nil
}

func (m *Manager) bootstrap() error {
	raw, err := m.store.LoadRawPolicies()
	if err != nil {
		return err
	}
	assoc, err := m.store.LoadAssociations()
	if err != nil {
		return err
	}
	modelOf := make(map[string]string, len(assoc.ByModel))
	for modelURN, policyIDs := range assoc.ByModel {
		for _, pid := range policyIDs {
			modelOf[pid] = modelURN
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, body := range raw {
		modelURN, ok := modelOf[id]
		if !ok {
			m.logger.Warn("policy store: orphaned policy file with no recorded model", zap.String("policy_id", id))
			continue
		}
		policy, err := policydoc.Parse(body, modelURN, m.registry, m.formulaParser)
		if err != nil {
			m.logger.Warn("policy store: failed to parse persisted policy", zap.String("policy_id", id), zap.Error(err))
			continue
		}
		m.policies[id] = policy
		for _, deviceID := range assoc.ByPolicy[id] {
			m.installLocked(modelURN, deviceID, policy)
		}
	}
	return nil
}

// AddChangeListener registers a listener for future assign/unassign
// notifications.
func (m *Manager) AddChangeListener(l ChangeListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveChangeListener unregisters a previously added listener.
func (m *Manager) RemoveChangeListener(l ChangeListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) notifyAssigned(policy *policydoc.DevicePolicy, devices []string) {
	m.listenersMu.Lock()
	ls := append([]ChangeListener(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, l := range ls {
		m.safeNotify(func() { l.PolicyAssigned(policy, devices) })
	}
}

func (m *Manager) notifyUnassigned(policyID string, devices []string) {
	m.listenersMu.Lock()
	ls := append([]ChangeListener(nil), m.listeners...)
	m.listenersMu.Unlock()
	for _, l := range ls {
		m.safeNotify(func() { l.PolicyUnassigned(policyID, devices) })
	}
}

// safeNotify catches a panicking listener so it can never abort a change
// batch (§4.4: "listener exceptions are caught and logged").
func (m *Manager) safeNotify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("policy change listener panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// GetPolicy resolves the policy bound to (modelURN, deviceID), performing
// a remote lookup and installing the result on first use. The fast path
// takes a read lock; a miss upgrades to the write lock for the duration
// of the remote call, matching §4.4's documented (coarse) locking.
func (m *Manager) GetPolicy(ctx context.Context, modelURN, deviceID string) (*policydoc.DevicePolicy, bool) {
	key := deviceKey{ModelURN: modelURN, DeviceID: deviceID}

	m.mu.RLock()
	if bp, ok := m.byDevice[key]; ok {
		m.mu.RUnlock()
		metrics.PolicyFetchesTotal.WithLabelValues("hit").Inc()
		if bp.none {
			return nil, false
		}
		return bp.policy, true
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if bp, ok := m.byDevice[key]; ok {
		m.mu.Unlock()
		metrics.PolicyFetchesTotal.WithLabelValues("hit").Inc()
		if bp.none {
			return nil, false
		}
		return bp.policy, true
	}

	start := time.Now()
	policyID, body, err := m.remote.FetchPolicyForDevice(ctx, modelURN, deviceID)
	metrics.PolicyFetchDuration.WithLabelValues("fetchPolicyForDevice").Observe(time.Since(start).Seconds())
	if err != nil {
		m.logger.Warn("getPolicy: remote lookup failed", zap.String("model_urn", modelURN), zap.String("device_id", deviceID), zap.Error(err))
		m.byDevice[key] = &boundPolicy{none: true}
		m.mu.Unlock()
		metrics.PolicyFetchesTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	policy, err := policydoc.Parse(body, modelURN, m.registry, m.formulaParser)
	if err != nil {
		m.logger.Warn("getPolicy: failed to parse policy document", zap.String("policy_id", policyID), zap.Error(err))
		m.byDevice[key] = &boundPolicy{none: true}
		m.mu.Unlock()
		metrics.PolicyFetchesTotal.WithLabelValues("error").Inc()
		return nil, false
	}
	m.installLocked(modelURN, deviceID, policy)
	m.store.SavePolicyRaw(policy.ID, body)
	m.persistAssociationsLocked()
	m.mirrorStalenessLocked(modelURN, deviceID, policy.LastModified)
	metrics.DeviceBindingsActive.Set(float64(len(m.byDevice)))
	m.mu.Unlock()
	metrics.PolicyFetchesTotal.WithLabelValues("miss").Inc()

	m.notifyAssigned(policy, []string{deviceID})
	return policy, true
}

func (m *Manager) installLocked(modelURN, deviceID string, policy *policydoc.DevicePolicy) {
	key := deviceKey{ModelURN: modelURN, DeviceID: deviceID}
	if prev, ok := m.byDevice[key]; ok && prev.policy != nil && prev.policy.ID != policy.ID {
		if devs, ok := m.byPolicy[prev.policy.ID]; ok {
			delete(devs, deviceID)
			if len(devs) == 0 {
				delete(m.byPolicy, prev.policy.ID)
			}
		}
	}
	m.byDevice[key] = &boundPolicy{policy: policy}
	if m.byPolicy[policy.ID] == nil {
		m.byPolicy[policy.ID] = make(map[string]struct{})
	}
	m.byPolicy[policy.ID][deviceID] = struct{}{}
	if m.byModel[modelURN] == nil {
		m.byModel[modelURN] = make(map[string]struct{})
	}
	m.byModel[modelURN][policy.ID] = struct{}{}
	m.policies[policy.ID] = policy
	metrics.DeviceBindingsActive.Set(float64(len(m.byDevice)))
}

func (m *Manager) removeBindingLocked(modelURN, deviceID, policyID string) {
	key := deviceKey{ModelURN: modelURN, DeviceID: deviceID}
	delete(m.byDevice, key)
	if devs, ok := m.byPolicy[policyID]; ok {
		delete(devs, deviceID)
		if len(devs) == 0 {
			delete(m.byPolicy, policyID)
		}
	}
	metrics.DeviceBindingsActive.Set(float64(len(m.byDevice)))
}

// voidModelBindingsLocked drops every local binding for modelURN: the
// "cannot verify -> re-bootstrap lazily" rule triggered by a network
// error during an "assigned" change (§4.4 Failure handling).
func (m *Manager) voidModelBindingsLocked(modelURN string) {
	for key := range m.byDevice {
		if key.ModelURN == modelURN {
			delete(m.byDevice, key)
		}
	}
	for policyID := range m.byModel[modelURN] {
		delete(m.byPolicy, policyID)
	}
	delete(m.byModel, modelURN)
	metrics.DeviceBindingsActive.Set(float64(len(m.byDevice)))
}

func (m *Manager) persistAssociationsLocked() {
	if m.store == nil {
		return
	}
	m.store.SaveAssociations(m.byPolicy, m.byModel)
}

func (m *Manager) mirrorStalenessLocked(modelURN, deviceID string, lastModified int64) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Set(context.Background(), modelURN+"/"+deviceID, lastModified); err != nil {
		m.logger.Warn("staleness cache mirror failed", zap.Error(err))
	}
}
