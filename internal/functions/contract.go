// Package functions implements the device function library: the catalog
// of stream operators a Pipeline runs over a single attribute (or, for
// the distinguished "*" pipeline, over a whole message). Every operator
// obeys the same two-method contract described in §4.2 of the spec:
//
//	Apply(ctx, attr, params, state, value) -> (ready bool, err error)
//	Get(ctx, attr, params, state) -> (value any, ok bool, err error)
//
// "ready" means the next operator in the pipeline may run now; Get
// retrieves (and may mutate/clear) whatever the operator produced. State
// is a tagged-union struct (see State below) instead of the untyped
// scratch map the original implementation used, so each operator owns a
// concretely-typed slot with no string-keyed casts.
package functions

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgefabric/telemetry-policy/internal/model"
)

// NetworkCost mirrors §6's case-insensitive, parenthetical-suffix-stripped
// environment input, ordered ETHERNET < CELLULAR < SATELLITE.
type NetworkCost int

const (
	CostEthernet NetworkCost = iota
	CostCellular
	CostSatellite
)

func (c NetworkCost) String() string {
	switch c {
	case CostEthernet:
		return "ETHERNET"
	case CostCellular:
		return "CELLULAR"
	case CostSatellite:
		return "SATELLITE"
	default:
		return "UNKNOWN"
	}
}

// Severity is an alert severity level, §4.2.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityNormal
	SeveritySignificant
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityNormal:
		return "NORMAL"
	case SeveritySignificant:
		return "SIGNIFICANT"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "NORMAL"
	}
}

// ParseSeverity parses a severity name case-insensitively, defaulting to
// SeverityNormal for anything unrecognized.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return SeverityLow
	case "SIGNIFICANT":
		return SeveritySignificant
	case "CRITICAL":
		return SeverityCritical
	default:
		return SeverityNormal
	}
}

// PrivacyLevel selects the hashing scheme for privacyPolicy, §4.2.
type PrivacyLevel int

const (
	PrivacyNone PrivacyLevel = iota
	PrivacyOneWay
	PrivacyTwoWay
	PrivacyRandom // unsupported; operator passes through unchanged and logs
)

// Alert is the side-effect payload built by alertCondition/detectDuplicates.
type Alert struct {
	FormatURN string
	Fields    map[string]float64
	Severity  Severity
	Attribute string
}

// ActionInvocation is the side-effect payload built by actionCondition.
type ActionInvocation struct {
	Name      string
	Args      []any
	Attribute string
}

// BatchPersistence is the optional collaborator backing batchBySize,
// batchByTime and batchByCost with durable, per-endpoint queues instead
// of an in-memory slice. When absent the batch operators keep their
// queue entirely inside their State.
type BatchPersistence interface {
	Append(endpointID, key string, value any) error
	Drain(endpointID, key string) ([]any, error)
}

// Context is the per-call execution context threaded through every
// operator invocation. It is built fresh (cheaply) by the Pipeline
// Runtime for each offer/scheduled-fire; nothing in it is process-global.
type Context struct {
	EndpointID   string
	Model        *model.DeviceModel
	Now          func() time.Time
	NetworkCost  func() NetworkCost
	Current      func(attr string) (float64, bool)
	InProcess    func(attr string) (float64, bool)
	SetInProcess func(attr string, v float64)
	EmitAlert    func(Alert)
	InvokeAction func(ActionInvocation)
	Batch        BatchPersistence
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Context) cost() NetworkCost {
	if c.NetworkCost != nil {
		return c.NetworkCost()
	}
	return CostEthernet
}

// Operator is the two-method contract every device function implements.
type Operator interface {
	// ID is the registered policy-function id, e.g. "filterCondition".
	ID() string
	// Apply ingests value and reports whether Get may run now.
	Apply(ctx *Context, attr string, params *Params, state *State, value any) (ready bool, err error)
	// Get retrieves (and may clear) the operator's produced value.
	Get(ctx *Context, attr string, params *Params, state *State) (value any, ok bool, err error)
	// Window reports the (window, slide) this operator schedules, if any.
	// Non-windowed operators return (0, 0, false).
	Window(params *Params) (windowMs, slideMs int64, ok bool)
}

// ErrMissingState is a programming-invariant error per §7: a non-fatal
// condition the caller should self-heal by reinitializing the pipeline
// slot's state on the next call.
type ErrMissingState struct{ Operator string }

func (e *ErrMissingState) Error() string {
	return fmt.Sprintf("operator %q invoked with nil state", e.Operator)
}
