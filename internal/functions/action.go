package functions

import (
	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/model"
)

func coerceArg(t model.AttributeType, v float64) (any, error) {
	return model.Coerce(t, v)
}

// ActionCondition implements the "actionCondition" operator: on a true
// condition it invokes a named model action with arguments evaluated from
// formulas and coerced to the action's declared type.
type ActionCondition struct{}

func (ActionCondition) ID() string                         { return "actionCondition" }
func (ActionCondition) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (ActionCondition) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Action == nil {
		state.Action = &ActionState{}
	}
	state.Action.LastValue = value

	vp := valueProviderFor(ctx)
	condTrue := formula.ConditionTrue(formula.Eval(params.Condition, vp))
	if condTrue && ctx.InvokeAction != nil {
		ctx.InvokeAction(buildActionInvocation(ctx, attr, params, vp))
	}
	return !condTrue || !params.Filter, nil
}

func (ActionCondition) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Action == nil {
		return nil, false, &ErrMissingState{Operator: "actionCondition"}
	}
	return state.Action.LastValue, true, nil
}

func buildActionInvocation(ctx *Context, attr string, params *Params, vp formula.ValueProvider) ActionInvocation {
	args := make([]any, 0, len(params.ActionArgs))
	if ctx.Model != nil {
		if a, ok := ctx.Model.ActionByName(params.ActionName); ok && a.ArgumentType != nil {
			for _, expr := range params.ActionArgs {
				raw := formula.Eval(expr, vp)
				coerced, err := coerceArg(*a.ArgumentType, raw)
				if err == nil {
					args = append(args, coerced)
				} else {
					args = append(args, raw)
				}
			}
			return ActionInvocation{Name: params.ActionName, Args: args, Attribute: attr}
		}
	}
	for _, expr := range params.ActionArgs {
		args = append(args, formula.Eval(expr, vp))
	}
	return ActionInvocation{Name: params.ActionName, Args: args, Attribute: attr}
}
