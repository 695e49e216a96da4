package functions

// EliminateDuplicates filters repeated values within a window; the next
// distinct value, or the first repeat after the window elapses, passes.
type EliminateDuplicates struct{}

func (EliminateDuplicates) ID() string { return "eliminateDuplicates" }

func (EliminateDuplicates) Window(params *Params) (int64, int64, bool) {
	if params.WindowMs <= 0 {
		return 0, 0, false
	}
	return params.WindowMs, params.EffectiveSlide(), true
}

func (EliminateDuplicates) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Duplicate == nil {
		state.Duplicate = &DuplicateState{}
	}
	withinWindow, _ := duplicateApply(state.Duplicate, value, ctx.now().UnixMilli(), params.WindowMs)
	return !withinWindow, nil
}

func (EliminateDuplicates) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Duplicate == nil {
		return nil, false, &ErrMissingState{Operator: "eliminateDuplicates"}
	}
	return state.Duplicate.LastValue, true, nil
}

// DetectDuplicates never filters; it raises at most one alert per window
// when a duplicate is observed.
type DetectDuplicates struct{}

func (DetectDuplicates) ID() string { return "detectDuplicates" }

func (DetectDuplicates) Window(params *Params) (int64, int64, bool) {
	if params.WindowMs <= 0 {
		return 0, 0, false
	}
	return params.WindowMs, params.EffectiveSlide(), true
}

func (DetectDuplicates) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Duplicate == nil {
		state.Duplicate = &DuplicateState{}
	}
	ds := state.Duplicate
	withinWindow, _ := duplicateApply(ds, value, ctx.now().UnixMilli(), params.WindowMs)
	if withinWindow && !ds.AlertFired {
		ds.AlertFired = true
		if ctx.EmitAlert != nil {
			ctx.EmitAlert(Alert{Attribute: attr, Severity: SeverityNormal, FormatURN: "duplicate"})
		}
	}
	return true, nil
}

func (DetectDuplicates) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Duplicate == nil {
		return nil, false, &ErrMissingState{Operator: "detectDuplicates"}
	}
	return state.Duplicate.LastValue, true, nil
}

// duplicateApply applies the shared bookkeeping both duplicate operators
// rely on (§4.2 "Duplicate operators"): on an unequal value, the window
// resets; on an equal value, withinWindow reports whether we're still
// inside the window that began at the last distinct value.
func duplicateApply(ds *DuplicateState, value any, now, windowMs int64) (withinWindow bool, equal bool) {
	equal = ds.HasLast && value == ds.LastValue
	if !equal {
		ds.LastValue = value
		ds.HasLast = true
		ds.WindowEnd = now + windowMs
		ds.AlertFired = false
		return false, false
	}
	return now <= ds.WindowEnd, true
}
