//go:build linux
// +build linux

// Package protocol defines the out-of-scope protocol-handler collaborator:
// the core dispatcher never interprets connection bytes, it only schedules
// I/O and hands the connection to this interface. A single concrete
// line-oriented handler is provided so the dispatcher has something real to
// exercise end to end in tests; it operates directly on the raw descriptor
// rather than wrapping it in a net.Conn. It is deliberately not an HTTP
// implementation; a full HTTP stack is out of scope here.
package protocol

import (
	"bytes"
	"fmt"
	"net"
	"syscall"

	"github.com/drk-ng/eventd/internal/dbpool"
)

// TriggerMode mirrors conntable.TriggerMode to avoid a dependency cycle.
type TriggerMode int

// Handler is the per-connection protocol collaborator. Init is called once
// at accept with the raw descriptor; ReadOnce/Write perform the I/O steps
// used by discipline P and inside discipline-R workers; Process performs
// one unit of parsing/response and may call Write itself as part of its
// response flow.
type Handler interface {
	Init(fd int, peer net.Addr, trig TriggerMode)
	ReadOnce() (ok bool)
	Write() (ok bool)
	Process(db *dbpool.Handle)
	// WantWrite reports whether the handler has buffered output still
	// waiting to be flushed, so the dispatcher knows to arm EPOLLOUT.
	WantWrite() bool
}

// Factory constructs a fresh Handler for each accepted connection, the way
// the original server re-initializes a pooled http_conn slot rather than
// allocating one.
type Factory func() Handler

// LineEcho is a minimal demonstration handler: it reads newline-delimited
// commands and echoes an acknowledgement, touching the DB handle only to
// prove the scoped-acquire wiring from the worker pool reaches the
// handler. Real deployments supply their own Handler (HTTP, a binary
// protocol, etc.) — this type exists purely to drive dispatcher tests.
type LineEcho struct {
	fd      int
	peer    net.Addr
	trig    TriggerMode
	pending []byte
	reply   []byte
	replyOff int
}

// NewLineEcho constructs an unattached handler; Init binds it to a
// connection the way the original's http_conn::init rebinds a pooled
// object to a freshly accepted descriptor.
func NewLineEcho() *LineEcho { return &LineEcho{} }

func (h *LineEcho) Init(fd int, peer net.Addr, trig TriggerMode) {
	h.fd = fd
	h.peer = peer
	h.trig = trig
	h.pending = nil
	h.reply = nil
	h.replyOff = 0
}

// ReadOnce performs the inline read (discipline P) or is invoked inside a
// worker (discipline R). It returns false on EOF or a real error,
// signalling the dispatcher to close the connection. A level-triggered
// connection gets one read per call; an edge-triggered (nonblocking)
// connection is drained until EAGAIN, which is reported as success.
func (h *LineEcho) ReadOnce() bool {
	buf := make([]byte, 4096)
	for {
		n, err := syscall.Read(h.fd, buf)
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return true
		}
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		if n == 0 {
			return false // peer closed
		}
		h.pending = append(h.pending, buf[:n]...)
		if h.trig == TriggerMode(0) {
			return true
		}
	}
}

// Process parses the buffered line(s) and prepares a reply. It may be run
// standalone (proactor compute step) after a successful ReadOnce.
func (h *LineEcho) Process(db *dbpool.Handle) {
	if len(h.pending) == 0 {
		return
	}
	line := bytes.TrimRight(h.pending, "\r\n")
	h.pending = nil
	if db != nil {
		h.reply = []byte(fmt.Sprintf("ack(db-scoped): %s\n", line))
	} else {
		h.reply = []byte(fmt.Sprintf("ack: %s\n", line))
	}
	h.replyOff = 0
}

// WantWrite reports whether a reply is buffered and not yet fully flushed.
func (h *LineEcho) WantWrite() bool {
	return h.replyOff < len(h.reply)
}

// Write flushes the prepared reply to the descriptor, returning false on a
// real write error (EAGAIN is treated as "still pending, try later").
func (h *LineEcho) Write() bool {
	for h.replyOff < len(h.reply) {
		n, err := syscall.Write(h.fd, h.reply[h.replyOff:])
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return true
		}
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		h.replyOff += n
	}
	return true
}
