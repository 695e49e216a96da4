package functions

import (
	"testing"

	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/model"
)

func TestAlertConditionEmitsOnBoundary(t *testing.T) {
	op := AlertCondition{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{
		Condition: formula.BinOp{Op: '>', Left: formula.CurrentRef("temp"), Right: formula.Const(90)},
		AlertURN:  "urn:overheat",
		AlertFields: map[string]formula.Expr{
			"reading": formula.CurrentRef("temp"),
		},
		Severity: SeverityCritical,
		Filter:   true,
	}

	fc.current["temp"] = 95
	ready, err := op.Apply(fc.ctx(), "temp", params, state, 95.0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ready {
		t.Fatal("filter=true with a fired alert should not pass the value on")
	}
	if len(fc.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(fc.alerts))
	}
	a := fc.alerts[0]
	if a.FormatURN != "urn:overheat" || a.Severity != SeverityCritical || a.Fields["reading"] != 95 {
		t.Fatalf("unexpected alert payload: %+v", a)
	}
}

func TestAlertConditionFalseNeverEmits(t *testing.T) {
	op := AlertCondition{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{
		Condition: formula.BinOp{Op: '>', Left: formula.CurrentRef("temp"), Right: formula.Const(90)},
		AlertURN:  "urn:overheat",
		Filter:    true,
	}
	fc.current["temp"] = 10
	ready, err := op.Apply(fc.ctx(), "temp", params, state, 10.0)
	if err != nil || !ready {
		t.Fatalf("condition false should pass the value through: ready=%v err=%v", ready, err)
	}
	if len(fc.alerts) != 0 {
		t.Fatalf("expected no alerts, got %d", len(fc.alerts))
	}
}

func TestActionConditionCoercesArgsToDeclaredType(t *testing.T) {
	argType := model.Boolean
	dm := model.NewDeviceModel("urn:valve", nil, []model.Action{
		{Name: "setOpen", ArgumentType: &argType},
	}, nil)

	op := ActionCondition{}
	state := &State{}
	fc := newFakeContext()
	ctx := fc.ctx()
	ctx.Model = dm

	params := &Params{
		Condition:  formula.BinOp{Op: '>', Left: formula.CurrentRef("pressure"), Right: formula.Const(100)},
		ActionName: "setOpen",
		ActionArgs: []formula.Expr{formula.Const(1)},
	}
	fc.current["pressure"] = 150
	_, err := op.Apply(ctx, "pressure", params, state, 150.0)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(fc.actions) != 1 {
		t.Fatalf("expected one action invocation, got %d", len(fc.actions))
	}
	inv := fc.actions[0]
	if inv.Name != "setOpen" || len(inv.Args) != 1 || inv.Args[0] != true {
		t.Fatalf("expected coerced bool arg true, got %+v", inv)
	}
}

func TestComputedMetricReadyOnFiniteResult(t *testing.T) {
	op := ComputedMetric{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{
		Formula: formula.BinOp{Op: '+', Left: formula.CurrentRef("a"), Right: formula.CurrentRef("b")},
	}
	fc.current["a"] = 2
	fc.current["b"] = 3
	ready, err := op.Apply(fc.ctx(), "computed", params, state, nil)
	if err != nil || !ready {
		t.Fatalf("finite result should be ready: ready=%v err=%v", ready, err)
	}
	v, ok, err := op.Get(fc.ctx(), "computed", params, state)
	if err != nil || !ok || v.(float64) != 5 {
		t.Fatalf("expected 5, got %v ok=%v err=%v", v, ok, err)
	}
}

func TestComputedMetricNotReadyOnUndefinedReference(t *testing.T) {
	op := ComputedMetric{}
	state := &State{}
	fc := newFakeContext()
	params := &Params{Formula: formula.CurrentRef("missing")}
	ready, err := op.Apply(fc.ctx(), "computed", params, state, nil)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ready {
		t.Fatal("NaN result from an undefined reference must not be ready")
	}
}
