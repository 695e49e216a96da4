// Package pipeline implements the Pipeline Runtime (§4.5): one
// DeviceAnalog per (deviceId, modelUrn), owning its per-attribute
// pipeline state, window-expiry table, computed-metric trigger map, and
// scheduled-slide driver.
package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/functions"
	"github.com/edgefabric/telemetry-policy/internal/model"
	"github.com/edgefabric/telemetry-policy/internal/policydoc"
)

// pipelineSlot is the per-attribute scratch: one functions.State and one
// window-expiry entry per pipeline step.
type pipelineSlot struct {
	states []*functions.State
	expiry []int64
}

// computedTrigger associates a computedMetric attribute with the set of
// attribute names its formula reads — its trigger set per §4.5.
type computedTrigger struct {
	attr string
	refs []string
}

// DeviceAnalog is the runtime state for one device bound to one policy.
// All pipeline-touching methods serialize through updateLock, matching
// §5: "one updateLock per DeviceAnalog serializes offer, scheduled-slide
// firing, and updateFields."
type DeviceAnalog struct {
	EndpointID  string
	Model       *model.DeviceModel
	Registry    *functions.Registry
	Now         func() time.Time
	NetworkCost func() functions.NetworkCost
	EmitAlert   func(functions.Alert)
	InvokeAction func(functions.ActionInvocation)
	Batch       functions.BatchPersistence
	Logger      *zap.Logger

	mu              sync.Mutex
	policy          *policydoc.DevicePolicy
	slots           map[string]*pipelineSlot
	current         map[string]float64
	inProcess       map[string]float64
	computedMetrics []computedTrigger
	sched           *scheduler

	pendingAlerts   []functions.Alert
	pendingActions  []functions.ActionInvocation
	scheduledEmits  []ScheduledEmit
}

// ScheduledEmit is a value produced by the scheduled-slide driver rather
// than by a direct offer (§4.3 "messages produced by expired policies").
// The Messaging Adapter drains and prepends these ahead of any message it
// is currently assembling.
type ScheduledEmit struct {
	Attribute string
	Value     any
}

// NewDeviceAnalog constructs a DeviceAnalog and starts its scheduled-slide
// worker. No policy is installed: until SetPolicy is called, offered
// values pass through unchanged.
func NewDeviceAnalog(endpointID string, m *model.DeviceModel, registry *functions.Registry) *DeviceAnalog {
	a := &DeviceAnalog{
		EndpointID: endpointID,
		Model:      m,
		Registry:   registry,
		Now:        time.Now,
		slots:      make(map[string]*pipelineSlot),
		current:    make(map[string]float64),
		inProcess:  make(map[string]float64),
	}
	a.sched = newScheduler(a.clockNow, a.fireScheduled)
	return a
}

// Close stops the background scheduler. Safe to call once per analog.
func (a *DeviceAnalog) Close() {
	a.sched.Stop()
}

// PolicyID returns the id of the currently installed policy, or "" if
// none is assigned.
func (a *DeviceAnalog) PolicyID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.policy == nil {
		return ""
	}
	return a.policy.ID
}

func (a *DeviceAnalog) clockNow() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// SetPolicy installs a new (or updated) DevicePolicy. Per §3, policy
// updates are whole-document replacements: all prior pipeline state and
// scheduler registrations for this analog are dropped and rebuilt.
func (a *DeviceAnalog) SetPolicy(policy *policydoc.DevicePolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.policy != nil {
		for attr, pl := range a.policy.Pipelines {
			for i, fn := range pl {
				op, ok := a.Registry.Lookup(fn.ID)
				if !ok {
					continue
				}
				if _, _, isWindowed := op.Window(fn.Parameters); isWindowed {
					a.sched.Cancel(attr, i)
				}
			}
		}
	}

	a.policy = policy
	a.slots = make(map[string]*pipelineSlot)
	a.computedMetrics = nil
	if policy == nil {
		return
	}

	for attr, full := range policy.Pipelines {
		pl := full
		if attr == policydoc.AllAttributesSentinel && len(full) > 1 {
			a.logError("all-attributes pipeline has more than one operator; extras ignored", attr, full[1].ID, nil)
			pl = full[:1]
		}
		for i, fn := range pl {
			op, ok := a.Registry.Lookup(fn.ID)
			if !ok {
				a.logError("policy references unregistered operator", attr, fn.ID, nil)
				continue
			}
			if windowMs, slideMs, isWindowed := op.Window(fn.Parameters); isWindowed {
				a.sched.Register(attr, i, windowMs, slideMs)
			}
			if fn.ID == "computedMetric" && fn.Parameters != nil {
				refs := formula.References(fn.Parameters.Formula)
				a.computedMetrics = append(a.computedMetrics, computedTrigger{attr: attr, refs: refs})
			}
		}
	}
}

// pipelineFor returns the pipeline to run for attr, truncating the
// distinguished all-attributes pipeline to its first step only (§4.5:
// "only the first operator is honored; more are logged as ignored").
func (a *DeviceAnalog) pipelineFor(attr string) (policydoc.Pipeline, bool) {
	pl, ok := a.policy.Pipelines[attr]
	if !ok {
		return nil, false
	}
	if attr == policydoc.AllAttributesSentinel && len(pl) > 1 {
		return pl[:1], true
	}
	return pl, true
}

// AllAttributesOperatorID returns the id of the (only honored) first step
// of the all-attributes pipeline, if configured.
func (a *DeviceAnalog) AllAttributesOperatorID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.policy == nil {
		return "", false
	}
	pl, ok := a.pipelineFor(policydoc.AllAttributesSentinel)
	if !ok || len(pl) == 0 {
		return "", false
	}
	return pl[0].ID, true
}

// ApplyAllAttributes runs value through the all-attributes pipeline's
// first step (§4.5's "all-attributes pipeline"). If no all-attributes
// pipeline is configured, value passes through unchanged.
func (a *DeviceAnalog) ApplyAllAttributes(value any) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.policy == nil {
		return value, true
	}
	pl, ok := a.pipelineFor(policydoc.AllAttributesSentinel)
	if !ok || len(pl) == 0 {
		return value, true
	}
	slot := a.slotFor(policydoc.AllAttributesSentinel, len(pl))
	return a.runPipeline(policydoc.AllAttributesSentinel, pl, slot, 0, value)
}

// FlushAllAttributesBatch forces a Get on the all-attributes pipeline's
// (only honored) operator without offering it a new value, returning
// whatever it has buffered. Used by the Messaging Adapter's severity
// override (§8 scenario 4) so a high-severity alert doesn't strand
// messages the all-attributes batcher is still holding.
func (a *DeviceAnalog) FlushAllAttributesBatch() (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.policy == nil {
		return nil, false
	}
	pl, ok := a.pipelineFor(policydoc.AllAttributesSentinel)
	if !ok || len(pl) == 0 {
		return nil, false
	}
	slot := a.slotFor(policydoc.AllAttributesSentinel, len(pl))
	fn := pl[0]
	op, ok := a.Registry.Lookup(fn.ID)
	if !ok {
		return nil, false
	}
	ctx := a.buildContext(policydoc.AllAttributesSentinel)
	v, ready, err := op.Get(ctx, policydoc.AllAttributesSentinel, fn.Parameters, slot.states[0])
	if err != nil || !ready {
		return nil, false
	}
	return v, true
}

// Offer evaluates a single attribute's pipeline. It is a convenience
// wrapper over OfferBatch for callers that only have one value at hand;
// prefer OfferBatch when several attributes update together so computed
// metrics can trigger within the same round (§4.5).
func (a *DeviceAnalog) Offer(attr string, value any) (any, bool) {
	out := a.OfferBatch(map[string]any{attr: value})
	v, ok := out[attr]
	return v, ok
}

// OfferBatch evaluates every (attr, value) pair's pipeline, then fires any
// computedMetric whose trigger set is a subset of the attributes that
// were actually committed this round. The returned map holds every
// attribute that produced a value, keyed by attribute name.
func (a *DeviceAnalog) OfferBatch(items map[string]any) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]any, len(items))
	updated := make(map[string]struct{}, len(items))
	for attr, v := range items {
		// A device with no assigned policy passes every reading through
		// unchanged (§8: "device with no policy offers readings, passed
		// through").
		if a.policy == nil {
			out[attr] = v
			updated[attr] = struct{}{}
			continue
		}
		result, ok := a.offerLocked(attr, v)
		if ok {
			out[attr] = result
			updated[attr] = struct{}{}
		}
	}

	if a.policy == nil {
		return out
	}

	for _, cm := range a.computedMetrics {
		if !subsetOf(cm.refs, updated) {
			continue
		}
		pl, ok := a.policy.Pipelines[cm.attr]
		if !ok {
			continue
		}
		slot := a.slotFor(cm.attr, len(pl))
		v, ok := a.runPipeline(cm.attr, pl, slot, 0, nil)
		if !ok {
			continue
		}
		a.commit(cm.attr, v)
		out[cm.attr] = v
		updated[cm.attr] = struct{}{}
	}

	return out
}

func subsetOf(refs []string, updated map[string]struct{}) bool {
	if len(refs) == 0 {
		return false
	}
	for _, r := range refs {
		if _, ok := updated[r]; !ok {
			return false
		}
	}
	return true
}

// offerLocked implements §4.5's offer(attr, value) algorithm. Caller
// holds mu. An attribute with no configured pipeline passes the raw value
// through unchanged (the messaging adapter relies on this).
func (a *DeviceAnalog) offerLocked(attr string, value any) (any, bool) {
	pl, ok := a.policy.Pipelines[attr]
	if !ok {
		return value, true
	}
	slot := a.slotFor(attr, len(pl))
	if f, ok := asFloatGeneric(value); ok {
		a.inProcess[attr] = f
	}
	v, ok := a.runPipeline(attr, pl, slot, 0, value)
	if ok {
		a.commit(attr, v)
	}
	return v, ok
}

// runPipeline runs pipeline steps [startIndex, len) starting from value,
// applying §4.5 step 2-4's window-expiry and ready logic at each step.
func (a *DeviceAnalog) runPipeline(attr string, pl policydoc.Pipeline, slot *pipelineSlot, startIndex int, value any) (any, bool) {
	ctx := a.buildContext(attr)
	now := a.clockNow().UnixMilli()
	cur := value

	for i := startIndex; i < len(pl); i++ {
		fn := pl[i]
		op, ok := a.Registry.Lookup(fn.ID)
		if !ok {
			a.logError("unregistered operator mid-pipeline", attr, fn.ID, nil)
			return nil, false
		}

		windowExpired := false
		if windowMs, slideMs, isWindowed := op.Window(fn.Parameters); isWindowed {
			exp := slot.expiry[i]
			if exp == 0 {
				exp = now + windowMs
			}
			windowExpired = exp <= now
			if windowExpired {
				exp += slideMs
			}
			slot.expiry[i] = exp
		}

		ready, err := op.Apply(ctx, attr, fn.Parameters, slot.states[i], cur)
		if err != nil {
			a.logError("operator apply failed", attr, fn.ID, err)
			return nil, false
		}

		if ready || windowExpired {
			v, ok, err := op.Get(ctx, attr, fn.Parameters, slot.states[i])
			if err != nil {
				a.logError("operator get failed", attr, fn.ID, err)
				return nil, false
			}
			if !ok {
				return nil, false
			}
			cur = a.coerce(attr, v)
			if f, ok := asFloatGeneric(cur); ok {
				a.inProcess[attr] = f
			}
			continue
		}
		return nil, false
	}
	return cur, true
}

// fireScheduled is the scheduler's fire callback (§4.5 "scheduled-slide
// driver"): it forces a Get at the registered index regardless of
// readiness, then continues the remaining pipeline normally.
func (a *DeviceAnalog) fireScheduled(attr string, index int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.policy == nil {
		return
	}
	pl, ok := a.pipelineFor(attr)
	if !ok || index >= len(pl) {
		return
	}
	slot := a.slotFor(attr, len(pl))
	ctx := a.buildContext(attr)

	fn := pl[index]
	op, ok := a.Registry.Lookup(fn.ID)
	if !ok {
		return
	}
	v, ok, err := op.Get(ctx, attr, fn.Parameters, slot.states[index])
	if err != nil || !ok {
		if err != nil {
			a.logError("scheduled get failed", attr, fn.ID, err)
		}
		return
	}
	cur := a.coerce(attr, v)
	if f, ok := asFloatGeneric(cur); ok {
		a.inProcess[attr] = f
	}

	final, ok := a.runPipeline(attr, pl, slot, index+1, cur)
	if ok {
		a.commit(attr, final)
		a.scheduledEmits = append(a.scheduledEmits, ScheduledEmit{Attribute: attr, Value: final})
	}
}

func (a *DeviceAnalog) slotFor(attr string, n int) *pipelineSlot {
	s, ok := a.slots[attr]
	if !ok || len(s.states) != n {
		s = &pipelineSlot{states: make([]*functions.State, n), expiry: make([]int64, n)}
		for i := range s.states {
			s.states[i] = &functions.State{}
		}
		a.slots[attr] = s
	}
	return s
}

func (a *DeviceAnalog) commit(attr string, v any) {
	if f, ok := asFloatGeneric(v); ok {
		a.current[attr] = f
	}
}

func (a *DeviceAnalog) coerce(attr string, v any) any {
	if a.Model == nil {
		return v
	}
	c, err := a.Model.CoerceAttribute(attr, v)
	if err != nil {
		return v
	}
	return c
}

func (a *DeviceAnalog) buildContext(attr string) *functions.Context {
	return &functions.Context{
		EndpointID:  a.EndpointID,
		Model:       a.Model,
		Now:         a.Now,
		NetworkCost: a.NetworkCost,
		Current: func(name string) (float64, bool) {
			// The attribute under evaluation resolves to its in-process
			// value, so a condition on it sees the reading being offered.
			if name == attr {
				if v, ok := a.inProcess[name]; ok {
					return v, true
				}
			}
			v, ok := a.current[name]
			return v, ok
		},
		InProcess: func(name string) (float64, bool) {
			v, ok := a.inProcess[name]
			return v, ok
		},
		SetInProcess: func(name string, v float64) { a.inProcess[name] = v },
		EmitAlert:    a.recordAlert,
		InvokeAction: a.recordAction,
		Batch:        a.Batch,
	}
}

// recordAlert buffers an alert raised mid-pipeline and forwards it to any
// externally supplied EmitAlert hook (e.g. direct logging or metrics).
// Called with mu already held.
func (a *DeviceAnalog) recordAlert(al functions.Alert) {
	a.pendingAlerts = append(a.pendingAlerts, al)
	if a.EmitAlert != nil {
		a.EmitAlert(al)
	}
}

// recordAction buffers an action invocation raised mid-pipeline and
// forwards it to any externally supplied InvokeAction hook. Called with mu
// already held.
func (a *DeviceAnalog) recordAction(inv functions.ActionInvocation) {
	a.pendingActions = append(a.pendingActions, inv)
	if a.InvokeAction != nil {
		a.InvokeAction(inv)
	}
}

// DrainPendingAlerts returns and clears every alert buffered since the
// last drain.
func (a *DeviceAnalog) DrainPendingAlerts() []functions.Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pendingAlerts
	a.pendingAlerts = nil
	return out
}

// DrainPendingActions returns and clears every action invocation buffered
// since the last drain.
func (a *DeviceAnalog) DrainPendingActions() []functions.ActionInvocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pendingActions
	a.pendingActions = nil
	return out
}

// DrainScheduledEmits returns and clears every value the scheduled-slide
// driver produced since the last drain.
func (a *DeviceAnalog) DrainScheduledEmits() []ScheduledEmit {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.scheduledEmits
	a.scheduledEmits = nil
	return out
}

func (a *DeviceAnalog) logError(msg, attr, opID string, err error) {
	if a.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("endpoint_id", a.EndpointID), zap.String("attribute", attr), zap.String("operator", opID)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	a.Logger.Warn(msg, fields...)
}

func asFloatGeneric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
