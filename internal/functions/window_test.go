package functions

import "testing"

// TestSlidingMean reproduces §8 scenario 1: mean{window=10000, slide=5000}
// offered four readings, then read at the scheduled fire times.
func TestSlidingMean(t *testing.T) {
	op := Mean()
	params := &Params{WindowMs: 10000, SlideMs: 5000}
	state := &State{}
	fc := newFakeContext()

	readings := []struct {
		at int64
		v  float64
	}{
		{0, 10}, {2500, 20}, {5000, 30}, {7500, 40},
	}
	for _, r := range readings {
		fc.t = r.at
		if _, err := op.Apply(fc.ctx(), "temp", params, state, r.v); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}

	fc.t = 10000
	v, ok, err := op.Get(fc.ctx(), "temp", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a value at t=10000, got ok=%v err=%v", ok, err)
	}
	if got := v.(float64); got != 25.0 {
		t.Fatalf("expected mean 25.0 at t=10000, got %v", got)
	}

	// No further readings arrive; the scheduler fires again at t=15000
	// purely off the carried buckets, per the spec's worked example.
	fc.t = 15000
	v2, ok2, err2 := op.Get(fc.ctx(), "temp", params, state)
	if err2 != nil || !ok2 {
		t.Fatalf("expected a value at t=15000, got ok=%v err=%v", ok2, err2)
	}
	if got := v2.(float64); got != 35.0 {
		t.Fatalf("expected mean 35.0 at t=15000, got %v", got)
	}
}

func TestWindowEmptyReturnsNone(t *testing.T) {
	op := Mean()
	params := &Params{WindowMs: 1000, SlideMs: 1000}
	state := &State{}
	fc := newFakeContext()
	fc.t = 1000
	_, ok, err := op.Get(fc.ctx(), "temp", params, state)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatal("expected no value from an empty window")
	}
}

func TestMaxUsesNegativeInfinitySentinel(t *testing.T) {
	op := Max()
	params := &Params{WindowMs: 1000, SlideMs: 1000}
	state := &State{}
	fc := newFakeContext()
	fc.t = 0
	op.Apply(fc.ctx(), "x", params, state, -500.0)
	fc.t = 1000
	v, ok, err := op.Get(fc.ctx(), "x", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a value, ok=%v err=%v", ok, err)
	}
	if v.(float64) != -500.0 {
		t.Fatalf("expected -500, got %v (sentinel bug would have returned something else)", v)
	}
}

func TestMinMaxBucketCountAsymmetry(t *testing.T) {
	// min/stddev size off min(window,slide); mean/max size off
	// max(window,slide). Pin the observed asymmetry explicitly.
	meanOp := Mean()
	minOp := Min()
	params := &Params{WindowMs: 10000, SlideMs: 2000}
	meanState := meanOp.newState(params)
	minState := minOp.newState(params)
	if len(meanState.buckets) == len(minState.buckets) {
		t.Fatalf("expected differing bucket counts, got mean=%d min=%d", len(meanState.buckets), len(minState.buckets))
	}
}

func TestStandardDeviation(t *testing.T) {
	op := StandardDeviation()
	params := &Params{WindowMs: 1000, SlideMs: 1000}
	state := &State{}
	fc := newFakeContext()
	fc.t = 0
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		op.Apply(fc.ctx(), "x", params, state, v)
	}
	fc.t = 1000
	v, ok, err := op.Get(fc.ctx(), "x", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a value, ok=%v err=%v", ok, err)
	}
	if got := v.(float64); got < 1.99 || got > 2.01 {
		t.Fatalf("expected population stddev ~2.0, got %v", got)
	}
}
