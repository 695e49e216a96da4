package functions

// BatchBySize accumulates values and emits a batch once count reaches
// BatchSize.
type BatchBySize struct{}

func (BatchBySize) ID() string                         { return "batchBySize" }
func (BatchBySize) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (BatchBySize) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Batch == nil {
		state.Batch = &BatchState{}
	}
	state.Batch.Queue = append(state.Batch.Queue, value)
	if ctx.Batch != nil {
		_ = ctx.Batch.Append(ctx.EndpointID, attr, value)
	}
	size := params.BatchSize
	if size <= 0 {
		size = 1
	}
	return len(state.Batch.Queue) >= size, nil
}

func (BatchBySize) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	return drainBatch(ctx, attr, state)
}

// BatchByTime accumulates values; emission is driven entirely by the
// scheduled-slide driver (§4.5), never by Apply.
type BatchByTime struct{}

func (BatchByTime) ID() string { return "batchByTime" }

func (BatchByTime) Window(params *Params) (int64, int64, bool) {
	if params.WindowMs <= 0 {
		return 0, 0, false
	}
	return params.WindowMs, params.EffectiveSlide(), true
}

func (BatchByTime) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Batch == nil {
		state.Batch = &BatchState{}
	}
	state.Batch.Queue = append(state.Batch.Queue, value)
	if ctx.Batch != nil {
		_ = ctx.Batch.Append(ctx.EndpointID, attr, value)
	}
	return false, nil
}

func (BatchByTime) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	return drainBatch(ctx, attr, state)
}

// BatchByCost buffers until the current network cost drops at or below
// the configured threshold, then flushes everything FIFO.
type BatchByCost struct{}

func (BatchByCost) ID() string                         { return "batchByCost" }
func (BatchByCost) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (BatchByCost) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Batch == nil {
		state.Batch = &BatchState{}
	}
	state.Batch.Queue = append(state.Batch.Queue, value)
	if ctx.Batch != nil {
		_ = ctx.Batch.Append(ctx.EndpointID, attr, value)
	}
	return params.CostThreshold >= ctx.cost(), nil
}

func (BatchByCost) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	return drainBatch(ctx, attr, state)
}

func drainBatch(ctx *Context, attr string, state *State) (any, bool, error) {
	if state.Batch == nil {
		return nil, false, &ErrMissingState{Operator: "batch"}
	}
	var out []any
	if ctx.Batch != nil {
		drained, err := ctx.Batch.Drain(ctx.EndpointID, attr)
		if err == nil {
			out = drained
		}
	}
	if out == nil {
		out = state.Batch.Queue
	}
	state.Batch.Queue = nil
	if len(out) == 0 {
		return nil, false, nil
	}
	return out, true, nil
}
