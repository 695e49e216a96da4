package pipeline

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// schedulerGridMs is the resolution §4.5 mandates: "times are rounded to a
// 10ms grid so that policies that should fire together actually fire in
// the same wake-up."
const schedulerGridMs = 10

// scheduleEntry is one registered (attr, pipelineIndex) windowed operator
// due to fire at nextFire. removed entries are discarded lazily the next
// time they reach the front of the heap, rather than removed eagerly —
// this avoids racing a heap.Remove by stale index against a concurrent
// pop in the worker goroutine.
type scheduleEntry struct {
	attr     string
	index    int
	nextFire int64
	slideMs  int64
	removed  bool
	heapPos  int
}

type entryHeap []*scheduleEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].nextFire < h[j].nextFire }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapPos = i
	h[j].heapPos = j
}
func (h *entryHeap) Push(x any) {
	e := x.(*scheduleEntry)
	e.heapPos = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduler is the single background worker per DeviceAnalog that §4.5
// describes: it owns the set of (window, slide) entries sorted by next
// expiry and sleeps until the earliest. Go has no native monitor/wait
// primitive with a timeout, so the countdown is implemented with a timer
// racing a buffered wake channel instead of sync.Cond — functionally the
// same "wake on queue change or expiry" contract.
type scheduler struct {
	mu      sync.Mutex
	items   entryHeap
	byKey   map[string]*scheduleEntry
	wake    chan struct{}
	stopped bool
	clock   func() time.Time
	fire    func(attr string, index int)

	wg sync.WaitGroup
}

func newScheduler(clock func() time.Time, fire func(attr string, index int)) *scheduler {
	s := &scheduler{
		byKey: make(map[string]*scheduleEntry),
		wake:  make(chan struct{}, 1),
		clock: clock,
		fire:  fire,
	}
	heap.Init(&s.items)
	s.wg.Add(1)
	go s.run()
	return s
}

func entryKey(attr string, index int) string { return fmt.Sprintf("%s#%d", attr, index) }

func roundUpTo10ms(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return ((ms + schedulerGridMs - 1) / schedulerGridMs) * schedulerGridMs
}

// Register adds (or replaces) the windowed operator at (attr, index),
// due to fire windowMs from now — §3's "reset to now+window on first
// use." Once fired, fireDue re-registers it advanced by slideMs instead;
// slideMs is recorded here only so that later advance has it on hand.
func (s *scheduler) Register(attr string, index int, windowMs, slideMs int64) {
	s.mu.Lock()
	k := entryKey(attr, index)
	nextFire := s.clock().UnixMilli() + roundUpTo10ms(windowMs)
	if e, ok := s.byKey[k]; ok {
		e.removed = false
		e.slideMs = slideMs
		e.nextFire = nextFire
		heap.Fix(&s.items, e.heapPos)
	} else {
		e := &scheduleEntry{attr: attr, index: index, nextFire: nextFire, slideMs: slideMs}
		s.byKey[k] = e
		heap.Push(&s.items, e)
	}
	s.mu.Unlock()
	s.signal()
}

// Cancel removes the (attr, index) registration. Per §4.5, "removing the
// last registration stops the worker" — here that means the worker simply
// goes back to blocking on an empty queue rather than exiting.
func (s *scheduler) Cancel(attr string, index int) {
	s.mu.Lock()
	k := entryKey(attr, index)
	if e, ok := s.byKey[k]; ok {
		e.removed = true
		delete(s.byKey, k)
	}
	s.mu.Unlock()
	s.signal()
}

// Stop terminates the worker goroutine permanently. Used on device-analog
// teardown only; Cancel is for routine pipeline changes.
func (s *scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.signal()
	s.wg.Wait()
}

func (s *scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *scheduler) run() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		if len(s.items) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		now := s.clock().UnixMilli()
		wait := s.items[0].nextFire - now
		s.mu.Unlock()

		if wait <= 0 {
			s.fireDue()
			continue
		}
		timer := time.NewTimer(time.Duration(wait) * time.Millisecond)
		select {
		case <-timer.C:
		case <-s.wake:
			timer.Stop()
		}
	}
}

// fireDue pops and fires every entry whose nextFire has elapsed, then
// re-registers it (advanced by slideMs) unless it was cancelled either
// before or during the fire callback.
func (s *scheduler) fireDue() {
	now := s.clock().UnixMilli()

	s.mu.Lock()
	var due []*scheduleEntry
	for len(s.items) > 0 && s.items[0].nextFire <= now {
		e := heap.Pop(&s.items).(*scheduleEntry)
		if e.removed {
			continue
		}
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(e.attr, e.index)
		s.mu.Lock()
		if !e.removed {
			e.nextFire = now + roundUpTo10ms(e.slideMs)
			heap.Push(&s.items, e)
		}
		s.mu.Unlock()
	}
}
