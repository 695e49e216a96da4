package pipeline

import (
	"testing"
	"time"

	"github.com/edgefabric/telemetry-policy/internal/formula"
	"github.com/edgefabric/telemetry-policy/internal/functions"
	"github.com/edgefabric/telemetry-policy/internal/policydoc"
)

func newTestAnalog() *DeviceAnalog {
	a := NewDeviceAnalog("dev-1", nil, functions.NewRegistry())
	return a
}

func TestOfferPassesThroughWithoutPolicy(t *testing.T) {
	a := newTestAnalog()
	defer a.Close()
	a.SetPolicy(&policydoc.DevicePolicy{Pipelines: map[string]policydoc.Pipeline{}})

	v, ok := a.Offer("unconfigured", 42.0)
	if !ok || v != 42.0 {
		t.Fatalf("expected pass-through for an unconfigured attribute, got %v ok=%v", v, ok)
	}
}

func TestOfferFilterConditionBlocksAndPasses(t *testing.T) {
	a := newTestAnalog()
	defer a.Close()
	a.SetPolicy(&policydoc.DevicePolicy{Pipelines: map[string]policydoc.Pipeline{
		"temp": {
			{ID: "filterCondition", Parameters: &functions.Params{
				Condition: formula.BinOp{Op: '>', Left: formula.CurrentRef("temp"), Right: formula.Const(90)},
			}},
		},
	}})

	v, ok := a.Offer("temp", 95.0)
	if ok {
		t.Fatalf("expected the reading to be filtered out, got %v", v)
	}

	v, ok = a.Offer("temp", 10.0)
	if !ok || v != 10.0 {
		t.Fatalf("expected the reading to pass through, got %v ok=%v", v, ok)
	}
}

func TestOfferBatchTriggersComputedMetricOnFullTriggerSet(t *testing.T) {
	a := newTestAnalog()
	defer a.Close()
	a.SetPolicy(&policydoc.DevicePolicy{Pipelines: map[string]policydoc.Pipeline{
		"a": {{ID: "filterCondition", Parameters: &functions.Params{Condition: formula.Const(0)}}},
		"b": {{ID: "filterCondition", Parameters: &functions.Params{Condition: formula.Const(0)}}},
		"avg": {{ID: "computedMetric", Parameters: &functions.Params{
			Formula: formula.BinOp{Op: '/', Left: formula.BinOp{Op: '+', Left: formula.CurrentRef("a"), Right: formula.CurrentRef("b")}, Right: formula.Const(2)},
		}}},
	}})

	out := a.OfferBatch(map[string]any{"a": 10.0, "b": 20.0})
	avg, ok := out["avg"]
	if !ok {
		t.Fatalf("expected computedMetric 'avg' to fire when both a and b update in the same round, got %+v", out)
	}
	if avg.(float64) != 15.0 {
		t.Fatalf("expected avg=15.0, got %v", avg)
	}
}

func TestOfferBatchDoesNotTriggerComputedMetricOnPartialUpdate(t *testing.T) {
	a := newTestAnalog()
	defer a.Close()
	a.SetPolicy(&policydoc.DevicePolicy{Pipelines: map[string]policydoc.Pipeline{
		"a": {{ID: "filterCondition", Parameters: &functions.Params{Condition: formula.Const(0)}}},
		"avg": {{ID: "computedMetric", Parameters: &functions.Params{
			Formula: formula.BinOp{Op: '/', Left: formula.BinOp{Op: '+', Left: formula.CurrentRef("a"), Right: formula.CurrentRef("b")}, Right: formula.Const(2)},
		}}},
	}})

	out := a.OfferBatch(map[string]any{"a": 10.0})
	if _, ok := out["avg"]; ok {
		t.Fatalf("computedMetric should not fire when only part of its trigger set updated, got %+v", out)
	}
}

func TestWindowedOperatorExpiresWithinOfferPath(t *testing.T) {
	now := int64(0)
	clock := func() time.Time { return time.UnixMilli(now) }

	a := NewDeviceAnalog("dev-1", nil, functions.NewRegistry())
	a.Now = clock
	defer a.Close()

	a.SetPolicy(&policydoc.DevicePolicy{Pipelines: map[string]policydoc.Pipeline{
		"temp": {{ID: "mean", Parameters: &functions.Params{WindowMs: 1000, SlideMs: 1000}}},
	}})

	a.Offer("temp", 10.0)
	now = 500
	a.Offer("temp", 20.0)

	now = 1000
	v, ok := a.Offer("temp", 30.0)
	if !ok {
		t.Fatal("expected the window to have expired and produced a mean")
	}
	// The t=1000 reading lands in the *next* window's bucket (boundary
	// semantics); the closing window only ever saw (10, 20).
	if got := v.(float64); got != 15.0 {
		t.Fatalf("expected mean of the closing window (10,20) = 15.0, got %v", got)
	}
}

// TestWindowedOperatorFirstExpirySeedsFromWindowNotSlide reproduces §8
// scenario 1 (mean{window=10000, slide=5000}) through the offer path: the
// first expiry must be seeded from the window length, not the slide, or
// the closing window fires one slide period early (at t=5000) with only a
// fraction of its readings.
func TestWindowedOperatorFirstExpirySeedsFromWindowNotSlide(t *testing.T) {
	now := int64(0)
	clock := func() time.Time { return time.UnixMilli(now) }

	a := NewDeviceAnalog("dev-1", nil, functions.NewRegistry())
	a.Now = clock
	defer a.Close()

	a.SetPolicy(&policydoc.DevicePolicy{Pipelines: map[string]policydoc.Pipeline{
		"temp": {{ID: "mean", Parameters: &functions.Params{WindowMs: 10000, SlideMs: 5000}}},
	}})

	readings := []struct {
		at int64
		v  float64
	}{
		{0, 10}, {2500, 20}, {5000, 30}, {7500, 40},
	}
	for _, r := range readings {
		now = r.at
		if _, ok := a.Offer("temp", r.v); ok {
			t.Fatalf("expected no value before t=10000, got a reading at t=%d", r.at)
		}
	}

	now = 10000
	v, ok := a.Offer("temp", 999.0)
	if !ok {
		t.Fatal("expected the window to have closed at t=10000")
	}
	if got := v.(float64); got != 25.0 {
		t.Fatalf("expected mean 25.0 at t=10000 (§8 scenario 1), got %v", got)
	}
}
