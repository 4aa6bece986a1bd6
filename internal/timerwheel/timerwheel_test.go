package timerwheel

import (
	"testing"
	"time"
)

func TestAddKeepsSortedOrder(t *testing.T) {
	w := New()
	base := time.Now()
	w.Add("c", base.Add(3*time.Second), nil)
	w.Add("a", base.Add(1*time.Second), nil)
	w.Add("b", base.Add(2*time.Second), nil)

	if !w.Sorted() {
		t.Fatalf("wheel not sorted after inserts")
	}
	if w.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", w.Len())
	}
}

func TestAddThenDelLeavesWheelUnchanged(t *testing.T) {
	w := New()
	base := time.Now()
	w.Add("keep", base.Add(1*time.Second), nil)
	e := w.Add("transient", base.Add(2*time.Second), nil)
	if w.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", w.Len())
	}
	w.Del(e)
	if w.Len() != 1 {
		t.Fatalf("expected 1 entry after Del, got %d", w.Len())
	}
	if !w.Sorted() {
		t.Fatalf("wheel not sorted after Del")
	}
}

func TestAdjustRelinksForwardAndStaysSorted(t *testing.T) {
	w := New()
	base := time.Now()
	early := w.Add("early", base.Add(1*time.Second), nil)
	w.Add("mid", base.Add(2*time.Second), nil)
	w.Add("late", base.Add(3*time.Second), nil)

	w.Adjust(early, base.Add(5*time.Second))
	if !w.Sorted() {
		t.Fatalf("wheel not sorted after Adjust")
	}
	if !early.Expire.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("sanity: expire not updated, got %v", early.Expire)
	}
}

func TestAdjustMonotonicNonDecreasing(t *testing.T) {
	w := New()
	base := time.Now()
	e := w.Add("x", base.Add(1*time.Second), nil)
	w.Adjust(e, base.Add(2*time.Second))
	prev := e.Expire
	w.Adjust(e, base.Add(2*time.Second))
	if e.Expire.Before(prev) {
		t.Fatalf("expire must be monotonic non-decreasing")
	}
}

func TestTickFiresOnlyExpiredEntries(t *testing.T) {
	w := New()
	base := time.Now()
	var fired []string
	cb := func(owner interface{}) { fired = append(fired, owner.(string)) }

	w.Add("due", base, cb)
	w.Add("future", base.Add(10*time.Second), cb)

	w.Tick(base)
	if len(fired) != 1 || fired[0] != "due" {
		t.Fatalf("expected only 'due' to fire, got %v", fired)
	}
	if w.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", w.Len())
	}
}

func TestTickExpireEqualsNowCountsAsExpired(t *testing.T) {
	w := New()
	now := time.Now()
	fired := false
	w.Add("edge", now, func(interface{}) { fired = true })
	w.Tick(now)
	if !fired {
		t.Fatalf("entry with expire == now must fire")
	}
}

func TestAdjustThenTickAtOriginalDeadlineDoesNotFire(t *testing.T) {
	w := New()
	t0 := time.Now()
	fired := false
	e := w.Add("conn", t0.Add(3*time.Second), func(interface{}) { fired = true })

	// a byte arrives at t0+2, relinking the deadline to t0+5
	w.Adjust(e, t0.Add(5*time.Second))

	// tick at the original t0+3 deadline must not fire the callback
	w.Tick(t0.Add(3 * time.Second))
	if fired {
		t.Fatalf("adjusted entry fired at its old deadline")
	}

	w.Tick(t0.Add(5 * time.Second))
	if !fired {
		t.Fatalf("adjusted entry did not fire at its new deadline")
	}
}
