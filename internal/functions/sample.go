package functions

import "math/rand"

// sampleRandomOneInN is the hard-coded divisor for sampleQuality{rate:-1}.
// §9 open questions flags this constant as possibly meant to be tunable;
// we preserve the observed behavior exactly: it is not configurable.
const sampleRandomOneInN = 30

// SampleQuality implements the "sampleQuality" operator.
type SampleQuality struct{}

func (SampleQuality) ID() string                         { return "sampleQuality" }
func (SampleQuality) Window(*Params) (int64, int64, bool) { return 0, 0, false }

func (SampleQuality) Apply(ctx *Context, attr string, params *Params, state *State, value any) (bool, error) {
	if state.Sample == nil {
		state.Sample = &SampleState{}
	}
	s := state.Sample
	s.Calls++
	s.LastValue = value

	switch {
	case params.Rate == 0:
		return true, nil
	case params.Rate == -1:
		return rand.Intn(sampleRandomOneInN) == 0, nil
	case params.Rate > 0:
		return s.Calls%uint64(params.Rate) == 0, nil
	default:
		return true, nil
	}
}

func (SampleQuality) Get(ctx *Context, attr string, params *Params, state *State) (any, bool, error) {
	if state.Sample == nil {
		return nil, false, &ErrMissingState{Operator: "sampleQuality"}
	}
	return state.Sample.LastValue, true, nil
}
