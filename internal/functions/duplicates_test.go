package functions

import "testing"

// TestEliminateDuplicates reproduces the §8 invariant: within a window of
// repeated equal values exactly one passes, and the next distinct value is
// always emitted regardless of window state.
func TestEliminateDuplicates(t *testing.T) {
	op := EliminateDuplicates{}
	params := &Params{WindowMs: 1000}
	state := &State{}
	fc := newFakeContext()

	fc.t = 0
	ready, err := op.Apply(fc.ctx(), "x", params, state, 5.0)
	if err != nil || !ready {
		t.Fatalf("first value should always pass: ready=%v err=%v", ready, err)
	}

	fc.t = 200
	ready, err = op.Apply(fc.ctx(), "x", params, state, 5.0)
	if err != nil || ready {
		t.Fatalf("repeat within window should be filtered: ready=%v err=%v", ready, err)
	}

	fc.t = 400
	ready, err = op.Apply(fc.ctx(), "x", params, state, 5.0)
	if err != nil || ready {
		t.Fatalf("second repeat within window should still be filtered: ready=%v err=%v", ready, err)
	}

	fc.t = 500
	ready, err = op.Apply(fc.ctx(), "x", params, state, 9.0)
	if err != nil || !ready {
		t.Fatalf("distinct value must always pass: ready=%v err=%v", ready, err)
	}
}

func TestEliminateDuplicatesRepeatAfterWindowElapses(t *testing.T) {
	op := EliminateDuplicates{}
	params := &Params{WindowMs: 1000}
	state := &State{}
	fc := newFakeContext()

	fc.t = 0
	op.Apply(fc.ctx(), "x", params, state, 5.0)

	fc.t = 2000 // window has elapsed
	ready, err := op.Apply(fc.ctx(), "x", params, state, 5.0)
	if err != nil || !ready {
		t.Fatalf("repeat after window elapsed should pass: ready=%v err=%v", ready, err)
	}
}

func TestDetectDuplicatesNeverFiltersAndAlertsOnce(t *testing.T) {
	op := DetectDuplicates{}
	params := &Params{WindowMs: 1000}
	state := &State{}
	fc := newFakeContext()

	fc.t = 0
	op.Apply(fc.ctx(), "x", params, state, 5.0)
	fc.t = 100
	ready, _ := op.Apply(fc.ctx(), "x", params, state, 5.0)
	if !ready {
		t.Fatal("detectDuplicates must never filter")
	}
	fc.t = 200
	op.Apply(fc.ctx(), "x", params, state, 5.0)

	if len(fc.alerts) != 1 {
		t.Fatalf("expected exactly one alert per window, got %d", len(fc.alerts))
	}
	if fc.alerts[0].Attribute != "x" || fc.alerts[0].Severity != SeverityNormal {
		t.Fatalf("unexpected alert payload: %+v", fc.alerts[0])
	}
}
