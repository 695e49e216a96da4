package functions

import "github.com/edgefabric/telemetry-policy/internal/formula"

// AlertCondition implements the "alertCondition" operator: on a true
// condition it builds and emits an alert as a side effect; whether the
// surrounding value continues down the pipeline is governed by the
// optional `filter` parameter (default true).
type AlertCondition struct{}

func (AlertCondition) ID() string                         { return "alertCondition" }
func (AlertCondition) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (AlertCondition) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Alert == nil {
		state.Alert = &AlertState{}
	}
	state.Alert.LastValue = value

	vp := valueProviderFor(ctx)
	condTrue := formula.ConditionTrue(formula.Eval(params.Condition, vp))
	if condTrue && ctx.EmitAlert != nil {
		ctx.EmitAlert(buildAlert(attr, params, vp))
	}
	return !condTrue || !params.Filter, nil
}

func (AlertCondition) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Alert == nil {
		return nil, false, &ErrMissingState{Operator: "alertCondition"}
	}
	return state.Alert.LastValue, true, nil
}

func buildAlert(attr string, params *Params, vp formula.ValueProvider) Alert {
	sev := params.Severity
	fields := make(map[string]float64, len(params.AlertFields))
	for name, expr := range params.AlertFields {
		fields[name] = formula.Eval(expr, vp)
	}
	return Alert{
		FormatURN: params.AlertURN,
		Fields:    fields,
		Severity:  sev,
		Attribute: attr,
	}
}
