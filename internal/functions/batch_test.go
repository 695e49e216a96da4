package functions

import "testing"

// TestBatchBySizeNoLoss reproduces the §8 invariant: exactly one batch of
// size n is emitted per n inputs, and no input is lost or reordered.
func TestBatchBySizeNoLoss(t *testing.T) {
	op := BatchBySize{}
	params := &Params{BatchSize: 3}
	state := &State{}
	fc := newFakeContext()

	for i, v := range []float64{1, 2} {
		ready, err := op.Apply(fc.ctx(), "x", params, state, v)
		if err != nil || ready {
			t.Fatalf("reading %d should not complete a batch: ready=%v err=%v", i, ready, err)
		}
	}
	ready, err := op.Apply(fc.ctx(), "x", params, state, 3.0)
	if err != nil || !ready {
		t.Fatalf("third reading should complete the batch: ready=%v err=%v", ready, err)
	}

	got, ok, err := op.Get(fc.ctx(), "x", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a batch, ok=%v err=%v", ok, err)
	}
	batch := got.([]any)
	if len(batch) != 3 || batch[0] != 1.0 || batch[1] != 2.0 || batch[2] != 3.0 {
		t.Fatalf("expected FIFO batch [1,2,3], got %v", batch)
	}

	// The queue must be empty after draining: the next two readings start
	// a fresh batch rather than completing a phantom one.
	ready, _ = op.Apply(fc.ctx(), "x", params, state, 4.0)
	if ready {
		t.Fatal("batch should have reset after drain")
	}
}

func TestBatchBySizeDefaultsToOne(t *testing.T) {
	op := BatchBySize{}
	params := &Params{}
	state := &State{}
	fc := newFakeContext()
	ready, err := op.Apply(fc.ctx(), "x", params, state, 1.0)
	if err != nil || !ready {
		t.Fatalf("batchSize default of 1 should complete immediately: ready=%v err=%v", ready, err)
	}
}

// TestBatchByCostNoEmissionAboveThreshold reproduces the §8 invariant: no
// reading is emitted while env_cost exceeds the threshold, and everything
// buffered flushes in FIFO order once cost drops back to or below it.
func TestBatchByCostNoEmissionAboveThreshold(t *testing.T) {
	op := BatchByCost{}
	params := &Params{CostThreshold: CostEthernet}
	state := &State{}
	fc := newFakeContext()
	fc.cost = CostCellular

	for _, v := range []float64{10, 20, 30} {
		ready, err := op.Apply(fc.ctx(), "x", params, state, v)
		if err != nil || ready {
			t.Fatalf("reading above cost threshold must not flush: ready=%v err=%v", ready, err)
		}
	}

	fc.cost = CostEthernet
	ready, err := op.Apply(fc.ctx(), "x", params, state, 40.0)
	if err != nil || !ready {
		t.Fatalf("cost at or below threshold should flush: ready=%v err=%v", ready, err)
	}

	got, ok, err := op.Get(fc.ctx(), "x", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a batch, ok=%v err=%v", ok, err)
	}
	batch := got.([]any)
	if len(batch) != 4 {
		t.Fatalf("expected all 4 buffered readings flushed, got %d", len(batch))
	}
	for i, want := range []float64{10, 20, 30, 40} {
		if batch[i] != want {
			t.Fatalf("expected FIFO order, got %v at index %d want %v", batch[i], i, want)
		}
	}
}

func TestBatchByTimeNeverReadyFromApply(t *testing.T) {
	op := BatchByTime{}
	params := &Params{WindowMs: 1000}
	state := &State{}
	fc := newFakeContext()
	for _, v := range []float64{1, 2, 3, 4, 5} {
		ready, err := op.Apply(fc.ctx(), "x", params, state, v)
		if err != nil || ready {
			t.Fatalf("batchByTime must never self-complete from Apply: ready=%v err=%v", ready, err)
		}
	}
	got, ok, err := op.Get(fc.ctx(), "x", params, state)
	if err != nil || !ok {
		t.Fatalf("expected a batch on scheduler-driven Get, ok=%v err=%v", ok, err)
	}
	if len(got.([]any)) != 5 {
		t.Fatalf("expected all 5 buffered readings, got %d", len(got.([]any)))
	}
}

func TestDrainEmptyBatchReturnsNotOk(t *testing.T) {
	op := BatchBySize{}
	params := &Params{BatchSize: 2}
	state := &State{Batch: &BatchState{}}
	fc := newFakeContext()
	_, ok, err := op.Get(fc.ctx(), "x", params, state)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ok {
		t.Fatal("expected no batch when queue is empty")
	}
}
