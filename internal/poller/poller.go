//go:build linux
// +build linux

// Package poller wraps the Linux epoll readiness primitive used by the
// dispatcher. It reports batches of (descriptor, event-mask) pairs and
// supports level-triggered, edge-triggered and one-shot registration.
package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Mode selects the readiness-notification discipline for a descriptor.
type Mode int

const (
	// LT reports readiness every time the condition holds.
	LT Mode = iota
	// ET reports readiness once per transition; callers must drain.
	ET
)

// Event is a bitmask of reported readiness conditions.
type Event uint32

const (
	Readable   Event = 1 << iota // EPOLLIN
	Writable                     // EPOLLOUT
	PeerClosed                   // EPOLLRDHUP
	Hangup                       // EPOLLHUP
	ErrorEvent                   // EPOLLERR
)

// RegistrationError is returned by Register when fd is already registered.
type RegistrationError struct {
	FD int
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("poller: fd %d already registered", e.FD)
}

// Readiness is one reported (descriptor, event-mask) pair.
type Readiness struct {
	FD     int
	Events Event
}

// Poller owns one epoll instance. All methods except Wait are expected to
// be called only from the dispatcher goroutine; Wait blocks in the kernel
// and is the dispatcher's only suspension point outside the discipline-R
// busy wait.
type Poller struct {
	epfd             int
	registered       map[int]struct{}
	closed           bool
	pendingReadiness []unix.EpollEvent
}

// New creates an epoll instance.
func New() (*Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("poller: epoll_create1: %w", err)
	}
	return &Poller{
		epfd:             epfd,
		registered:       make(map[int]struct{}),
		pendingReadiness: make([]unix.EpollEvent, 128),
	}, nil
}

func toEpollEvents(mode Mode, oneShot bool) uint32 {
	var ev uint32 = unix.EPOLLIN | unix.EPOLLRDHUP
	if mode == ET {
		ev |= unix.EPOLLET
	}
	if oneShot {
		ev |= unix.EPOLLONESHOT
	}
	return ev
}

// Register adds fd to the epoll set. Fails with *RegistrationError if fd
// is already registered.
func (p *Poller) Register(fd int, mode Mode, oneShot bool) error {
	if _, ok := p.registered[fd]; ok {
		return &RegistrationError{FD: fd}
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(mode, oneShot)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl add fd %d: %w", fd, err)
	}
	p.registered[fd] = struct{}{}
	return nil
}

// Modify changes the event mask / one-shot flag for an already-registered
// descriptor. Used to re-arm one-shot registrations for writable interest
// or after a discipline-R task completes.
func (p *Poller) Modify(fd int, writable bool, mode Mode, oneShot bool) error {
	ev := unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(mode, oneShot)}
	if writable {
		ev.Events |= unix.EPOLLOUT
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("poller: epoll_ctl mod fd %d: %w", fd, err)
	}
	return nil
}

// Unregister removes fd from the epoll set.
func (p *Poller) Unregister(fd int) error {
	delete(p.registered, fd)
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("poller: epoll_ctl del fd %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one event is ready or a signal interrupts the
// call, and appends the reported readiness pairs to buf. It returns the
// resulting slice. timeoutMS < 0 blocks indefinitely. On EINTR it returns
// buf unchanged and a nil error, matching epoll_wait's "returns 0 on signal
// interruption without error".
func (p *Poller) Wait(buf []Readiness, timeoutMS int) ([]Readiness, error) {
	n, err := unix.EpollWait(p.epfd, p.pendingReadiness, timeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf, nil
		}
		return buf, fmt.Errorf("poller: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		raw := p.pendingReadiness[i]
		var ev Event
		if raw.Events&unix.EPOLLIN != 0 {
			ev |= Readable
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev |= Writable
		}
		if raw.Events&unix.EPOLLRDHUP != 0 {
			ev |= PeerClosed
		}
		if raw.Events&unix.EPOLLHUP != 0 {
			ev |= Hangup
		}
		if raw.Events&unix.EPOLLERR != 0 {
			ev |= ErrorEvent
		}
		buf = append(buf, Readiness{FD: int(raw.Fd), Events: ev})
	}
	return buf, nil
}

// Close releases the epoll file descriptor.
func (p *Poller) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return unix.Close(p.epfd)
}
