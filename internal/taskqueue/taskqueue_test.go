package taskqueue

import (
	"sync"
	"testing"
)

func TestSubmitRejectsAtCapacity(t *testing.T) {
	q := New(1)
	if !q.Submit(Item{Conn: "a", Op: OpRead}) {
		t.Fatalf("first submit should succeed")
	}
	if q.Submit(Item{Conn: "b", Op: OpRead}) {
		t.Fatalf("second submit at capacity should be rejected")
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", q.Len())
	}
}

func TestTakeReturnsFIFOOrder(t *testing.T) {
	q := New(4)
	q.Submit(Item{Conn: "first", Op: OpRead})
	q.Submit(Item{Conn: "second", Op: OpWrite})

	stop := make(chan struct{})
	it, ok := q.Take(stop)
	if !ok || it.Conn != "first" {
		t.Fatalf("expected 'first', got %+v ok=%v", it, ok)
	}
	it, ok = q.Take(stop)
	if !ok || it.Conn != "second" {
		t.Fatalf("expected 'second', got %+v ok=%v", it, ok)
	}
}

func TestQueueBackpressureScenario(t *testing.T) {
	// THREAD_N=1-equivalent: capacity 1, three simultaneous submissions.
	q := New(1)
	results := make([]bool, 3)
	var wg sync.WaitGroup
	items := []Item{{Conn: "A"}, {Conn: "B"}, {Conn: "C"}}

	// drain nothing yet; submit all three back to back as the dispatcher
	// would across three ready descriptors within one iteration.
	for i, it := range items {
		wg.Add(1)
		go func(i int, it Item) {
			defer wg.Done()
			results[i] = q.Submit(it)
		}(i, it)
	}
	wg.Wait()

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 successful submission at capacity 1, got %d", succeeded)
	}
	if q.SemCount() > q.Len() {
		t.Fatalf("semaphore count must never exceed queue size: sem=%d len=%d", q.SemCount(), q.Len())
	}
}

func TestTakeUnblocksOnStop(t *testing.T) {
	q := New(1)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, ok := q.Take(stop)
		if ok {
			t.Error("expected Take to fail after stop closed")
		}
		close(done)
	}()
	close(stop)
	<-done
}
