package functions

import (
	"math"

	"github.com/edgefabric/telemetry-policy/internal/formula"
)

// ComputedMetric implements the "computedMetric" operator: it ignores the
// offered value entirely and instead evaluates its own formula, typically
// one referencing other attributes via $(name). It is ready whenever the
// result is finite.
type ComputedMetric struct{}

func (ComputedMetric) ID() string                         { return "computedMetric" }
func (ComputedMetric) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (ComputedMetric) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Computed == nil {
		state.Computed = &ComputedState{}
	}
	result := formula.Eval(params.Formula, valueProviderFor(ctx))
	state.Computed.LastValue = result
	return !math.IsNaN(result) && !math.IsInf(result, 0), nil
}

func (ComputedMetric) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Computed == nil {
		return nil, false, &ErrMissingState{Operator: "computedMetric"}
	}
	return state.Computed.LastValue, true, nil
}
