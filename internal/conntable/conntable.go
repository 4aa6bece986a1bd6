// Package conntable implements the dense, arena-with-index mapping from
// descriptor number to a Connection record plus its companion ClientData,
// the way the original server indexes users[MAX_FD] / users_timer[MAX_FD]
// by raw file descriptor instead of allocating per connection.
package conntable

import (
	"net"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/drk-ng/eventd/internal/timerwheel"
)

// TriggerMode mirrors poller.Mode without importing it, keeping this
// package free of an epoll dependency so it can be unit tested on any OS.
type TriggerMode int

const (
	LT TriggerMode = iota
	ET
)

// State is the per-connection state machine position.
type State int

const (
	StateIdle State = iota
	StateBusy
	StateClosing
	StateClosed
)

// Connection represents one client for the lifetime accept..close.
type Connection struct {
	FD         int
	Peer       net.Addr
	Trigger    TriggerMode
	ReadBuf    []byte
	WriteBuf   []byte
	WriteOff   int
	ParserState interface{}
	Handler    interface{} // the protocol-handler collaborator (opaque here)
	State      State

	// improv and timerFlag are the two concurrency-critical flags shared
	// between the dispatcher goroutine and worker goroutines.
	// Accessed with atomics: release-store by the worker, acquire-load by
	// the dispatcher, which is the sole writer of the table and poller.
	improv    int32
	timerFlag int32
}

// SetImprov is called by a worker when it finishes a task.
func (c *Connection) SetImprov() { atomic.StoreInt32(&c.improv, 1) }

// Improv is polled by the dispatcher while waiting for a worker in
// discipline R.
func (c *Connection) Improv() bool { return atomic.LoadInt32(&c.improv) == 1 }

// ClearImprov resets the flag before the next task is submitted.
func (c *Connection) ClearImprov() { atomic.StoreInt32(&c.improv, 0) }

// SetTimerFlag is called by a worker when the task ended in an I/O error.
func (c *Connection) SetTimerFlag() { atomic.StoreInt32(&c.timerFlag, 1) }

// TimerFlag reports whether the last task ended in an I/O error.
func (c *Connection) TimerFlag() bool { return atomic.LoadInt32(&c.timerFlag) == 1 }

// ClearTimerFlag resets the flag before the next task is submitted.
func (c *Connection) ClearTimerFlag() { atomic.StoreInt32(&c.timerFlag, 0) }

// ClientData is the companion record per descriptor: identity plus a
// non-owning back-pointer to the connection's current timer entry.
type ClientData struct {
	ID    uuid.UUID
	FD    int
	Peer  net.Addr
	Timer *timerwheel.Entry
}

// Table is the dense slot array indexed by descriptor, sized MaxFD.
type Table struct {
	maxFD      int
	slots      []*slot
	userCount  int
}

type slot struct {
	conn *Connection
	cd   *ClientData
}

// New creates an empty table sized for descriptors in [0, maxFD).
func New(maxFD int) *Table {
	return &Table{maxFD: maxFD, slots: make([]*slot, maxFD)}
}

// MaxFD returns the configured capacity.
func (t *Table) MaxFD() int { return t.maxFD }

// Full reports whether the table has reached MaxFD live connections;
// rejections must be issued before accept admits a new one (invariant 2).
func (t *Table) Full() bool { return t.userCount >= t.maxFD }

// UserCount returns the number of live descriptors.
func (t *Table) UserCount() int { return t.userCount }

// Init resets and registers a new connection in the slot for fd. fd must
// be within [0, maxFD) and unused; callers are expected to have already
// checked Full().
func (t *Table) Init(fd int, peer net.Addr, trig TriggerMode, handler interface{}) (*Connection, *ClientData, error) {
	if fd < 0 || fd >= t.maxFD {
		return nil, nil, &OutOfRangeError{FD: fd, MaxFD: t.maxFD}
	}
	conn := &Connection{FD: fd, Peer: peer, Trigger: trig, Handler: handler, State: StateIdle}
	cd := &ClientData{ID: uuid.New(), FD: fd, Peer: peer}
	t.slots[fd] = &slot{conn: conn, cd: cd}
	t.userCount++
	return conn, cd, nil
}

// Get returns the connection/client-data pair for fd, or ok=false if the
// slot is empty.
func (t *Table) Get(fd int) (*Connection, *ClientData, bool) {
	if fd < 0 || fd >= t.maxFD || t.slots[fd] == nil {
		return nil, nil, false
	}
	s := t.slots[fd]
	return s.conn, s.cd, true
}

// Close clears the slot for fd and decrements the live count. It is a
// no-op if fd has no live connection, so callers never need to guard a
// double-close with an extra branch.
func (t *Table) Close(fd int) {
	if fd < 0 || fd >= t.maxFD || t.slots[fd] == nil {
		return
	}
	t.slots[fd] = nil
	t.userCount--
}

// OutOfRangeError is returned when a descriptor falls outside [0, MaxFD).
type OutOfRangeError struct {
	FD    int
	MaxFD int
}

func (e *OutOfRangeError) Error() string {
	return "conntable: fd out of range"
}
