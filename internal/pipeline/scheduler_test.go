package pipeline

import (
	"sync"
	"testing"
	"time"
)

func TestSchedulerFiresAfterSlide(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	s := newScheduler(time.Now, func(attr string, index int) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer s.Stop()

	s.Register("temp", 0, 20, 20)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := fired
		mu.Unlock()
		if n >= 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected at least two scheduled fires within 300ms of a 20ms slide")
}

func TestSchedulerCancelStopsFiring(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	s := newScheduler(time.Now, func(attr string, index int) {
		mu.Lock()
		fired++
		mu.Unlock()
	})
	defer s.Stop()

	s.Register("temp", 0, 15, 15)
	time.Sleep(40 * time.Millisecond)
	s.Cancel("temp", 0)

	mu.Lock()
	countAtCancel := fired
	mu.Unlock()

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	countAfter := fired
	mu.Unlock()

	if countAfter > countAtCancel+1 {
		t.Fatalf("expected firing to stop after cancel: at cancel=%d, after=%d", countAtCancel, countAfter)
	}
}

func TestSchedulerEmptyQueueDoesNotBusyLoop(t *testing.T) {
	s := newScheduler(time.Now, func(attr string, index int) {
		t.Fatal("fire should never be called with nothing registered")
	})
	time.Sleep(30 * time.Millisecond)
	s.Stop()
}
