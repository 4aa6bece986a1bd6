// Package timerwheel implements the per-connection idle-timeout list: an
// ordered doubly-linked list of deadlines, kept sorted by ascending expiry,
// mirroring the original server's util_timer list (add_timer/adjust_timer
// relinking/del_timer/tick) rather than a heap.
package timerwheel

import (
	"container/list"
	"time"
)

// CloseFunc is the close-callback: it closes the descriptor, unregisters
// it from the poller, decrements the live count, and clears the
// connection-table slot. It is invoked by Tick for every expired entry.
type CloseFunc func(owner interface{})

// Entry is one timer entry. Owner is opaque to the wheel (the dispatcher
// passes the ClientData pointer); Expire is the absolute deadline.
type Entry struct {
	Owner  interface{}
	Expire time.Time
	cb     CloseFunc
	elem   *list.Element
}

// Wheel is the ordered deadline list. Not safe for concurrent use; the
// all mutation is reserved to the single dispatcher goroutine.
type Wheel struct {
	l *list.List
}

// New creates an empty wheel.
func New() *Wheel {
	return &Wheel{l: list.New()}
}

// Add inserts a new entry at the position that keeps the list sorted by
// ascending Expire, and returns it so the caller can Adjust/Del it later.
func (w *Wheel) Add(owner interface{}, expire time.Time, cb CloseFunc) *Entry {
	e := &Entry{Owner: owner, Expire: expire, cb: cb}
	for mark := w.l.Back(); mark != nil; mark = mark.Prev() {
		if mark.Value.(*Entry).Expire.Compare(expire) <= 0 {
			e.elem = w.l.InsertAfter(e, mark)
			return e
		}
	}
	e.elem = w.l.PushFront(e)
	return e
}

// Adjust extends e's deadline to newExpire and relinks it forward to
// preserve sort order. It is only ever called to extend a
// deadline (never to pull it earlier).
func (w *Wheel) Adjust(e *Entry, newExpire time.Time) {
	e.Expire = newExpire
	// relink forward from current position; since newExpire only grows,
	// we never need to walk backward.
	mark := e.elem
	next := mark.Next()
	for next != nil && next.Value.(*Entry).Expire.Compare(newExpire) < 0 {
		mark = next
		next = mark.Next()
	}
	if mark != e.elem {
		w.l.MoveAfter(e.elem, mark)
	}
}

// Del unlinks and releases e. Idempotent: calling Del twice is a no-op the
// second time.
func (w *Wheel) Del(e *Entry) {
	if e == nil || e.elem == nil {
		return
	}
	w.l.Remove(e.elem)
	e.elem = nil
}

// Tick traverses from the head, firing the close-callback for every entry
// whose Expire is <= now (expire == now counts as expired
// policy), removing each as it goes, and stops at the first entry that is
// still live.
func (w *Wheel) Tick(now time.Time) {
	for front := w.l.Front(); front != nil; {
		e := front.Value.(*Entry)
		if e.Expire.After(now) {
			return
		}
		next := front.Next()
		w.l.Remove(front)
		e.elem = nil
		if e.cb != nil {
			e.cb(e.Owner)
		}
		front = next
	}
}

// Len reports the number of live entries, used by tests to check that
// entries were added or removed.
func (w *Wheel) Len() int {
	return w.l.Len()
}

// Sorted reports whether the list is currently in ascending-Expire order,
// used by tests asserting the wheel never reorders entries out of sequence.
func (w *Wheel) Sorted() bool {
	prev := w.l.Front()
	if prev == nil {
		return true
	}
	for cur := prev.Next(); cur != nil; prev, cur = cur, cur.Next() {
		if prev.Value.(*Entry).Expire.After(cur.Value.(*Entry).Expire) {
			return false
		}
	}
	return true
}
