package functions

import "github.com/edgefabric/telemetry-policy/internal/formula"

// FilterCondition implements the "filterCondition" operator: a reading
// passes iff its condition formula evaluates false (the §4.1 tolerance
// rule applies to what "true"/"false" mean here).
type FilterCondition struct{}

func (FilterCondition) ID() string { return "filterCondition" }

func (FilterCondition) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (FilterCondition) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Filter == nil {
		state.Filter = &FilterState{}
	}
	state.Filter.LastValue = value
	result := formula.Eval(params.Condition, valueProviderFor(ctx))
	condTrue := formula.ConditionTrue(result)
	return !condTrue, nil
}

func (FilterCondition) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Filter == nil {
		return nil, false, &ErrMissingState{Operator: "filterCondition"}
	}
	return state.Filter.LastValue, true, nil
}

// valueProviderFor adapts a functions.Context to formula.ValueProvider.
func valueProviderFor(ctx *Context) formula.ValueProvider {
	return ctxValueProvider{ctx}
}

type ctxValueProvider struct{ ctx *Context }

func (c ctxValueProvider) Current(attr string) (float64, bool) {
	if c.ctx.Current == nil {
		return 0, false
	}
	return c.ctx.Current(attr)
}

func (c ctxValueProvider) InProcess(attr string) (float64, bool) {
	if c.ctx.InProcess == nil {
		return 0, false
	}
	return c.ctx.InProcess(attr)
}
