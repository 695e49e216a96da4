package functions

import (
	"testing"

	"github.com/edgefabric/telemetry-policy/internal/formula"
)

func TestFilterConditionToleranceBoundary(t *testing.T) {
	op := FilterCondition{}
	state := &State{}
	fc := newFakeContext()

	// condition: $(temp) > 50 -> 1.0/0.0, which is already at the boundary.
	params := &Params{Condition: formula.BinOp{Op: '>', Left: formula.CurrentRef("temp"), Right: formula.Const(50)}}

	fc.current["temp"] = 60
	ready, err := op.Apply(fc.ctx(), "temp", params, state, 60.0)
	if err != nil || ready {
		t.Fatalf("condition true should filter the value out: ready=%v err=%v", ready, err)
	}

	fc.current["temp"] = 10
	ready, err = op.Apply(fc.ctx(), "temp", params, state, 10.0)
	if err != nil || !ready {
		t.Fatalf("condition false should let the value pass: ready=%v err=%v", ready, err)
	}
}

func TestFilterConditionUndefinedReferenceDoesNotFilter(t *testing.T) {
	op := FilterCondition{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{Condition: formula.BinOp{Op: '>', Left: formula.CurrentRef("missing"), Right: formula.Const(0)}}

	ready, err := op.Apply(fc.ctx(), "x", params, state, 1.0)
	if err != nil || !ready {
		t.Fatalf("NaN condition must never be treated as true: ready=%v err=%v", ready, err)
	}
}

func TestSampleQualityRateZeroAlwaysPasses(t *testing.T) {
	op := SampleQuality{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{Rate: 0}
	for i := 0; i < 5; i++ {
		ready, err := op.Apply(fc.ctx(), "x", params, state, float64(i))
		if err != nil || !ready {
			t.Fatalf("rate=0 must always pass, iteration %d: ready=%v err=%v", i, ready, err)
		}
	}
}

func TestSampleQualityRateNPassesEveryNth(t *testing.T) {
	op := SampleQuality{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{Rate: 3}
	var passed int
	for i := 0; i < 9; i++ {
		ready, err := op.Apply(fc.ctx(), "x", params, state, float64(i))
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if ready {
			passed++
		}
	}
	if passed != 3 {
		t.Fatalf("expected exactly 3 passes out of 9 calls at rate=3, got %d", passed)
	}
}
