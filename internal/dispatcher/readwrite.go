//go:build linux
// +build linux

package dispatcher

import (
	"time"

	"github.com/drk-ng/eventd/internal/conntable"
	"github.com/drk-ng/eventd/internal/poller"
	"github.com/drk-ng/eventd/internal/protocol"
	"github.com/drk-ng/eventd/internal/taskqueue"
)

// handleConnEvent dispatches one readiness batch entry for an already
// admitted connection. A hangup/error/peer-close condition always wins
// over read/write readiness reported in the same batch entry.
func (d *Dispatcher) handleConnEvent(r poller.Readiness) {
	conn, cd, ok := d.table.Get(r.FD)
	if !ok {
		return
	}

	if r.Events&(poller.PeerClosed|poller.Hangup|poller.ErrorEvent) != 0 {
		d.closeConn(cd, "peer-closed")
		return
	}
	if r.Events&poller.Readable != 0 {
		d.onReadable(conn, cd)
	}
	// re-fetch: onReadable may have closed the connection already.
	if r.Events&poller.Writable != 0 {
		if _, _, stillOpen := d.table.Get(r.FD); stillOpen {
			d.onWritable(conn, cd)
		}
	}
}

// onReadable implements the read-ready branch for both
// disciplines. Discipline P performs the read inline, submits a
// compute-only task and re-arms immediately without waiting on the
// worker; discipline R submits the read itself to a worker and busy-waits
// on improv before re-arming.
func (d *Dispatcher) onReadable(conn *conntable.Connection, cd *conntable.ClientData) {
	if cd.Timer != nil {
		d.wheel.Adjust(cd.Timer, time.Now().Add(3*d.timeslot))
	}

	if d.reactor {
		conn.ClearImprov()
		conn.ClearTimerFlag()
		conn.State = conntable.StateBusy
		if !d.submitTask(conn, taskqueue.OpRead) {
			d.metrics.RejectedSubmits.Inc()
			conn.State = conntable.StateIdle
			d.rearmConn(conn, false)
			return
		}
		d.busyWaitImprov(conn, cd)
		return
	}

	handler := conn.Handler.(protocol.Handler)
	if !handler.ReadOnce() {
		d.closeConn(cd, "io-error")
		return
	}
	if !d.submitTask(conn, taskqueue.OpCompute) {
		d.metrics.RejectedSubmits.Inc()
	}
	// The compute task runs asynchronously; whether it produces output is
	// not known yet, so re-arm read-only for now. If WantWrite ends up
	// true once it finishes, the write-notify pipe upgrades this to
	// include EPOLLOUT without the worker touching the poller.
	d.rearmConn(conn, false)
}

// onWritable implements the write-ready branch symmetrically: discipline
// P writes inline (flushing the reply the compute task buffered, and
// re-arming for write again if part of it is still pending); discipline R
// submits the write to a worker and busy-waits the same way onReadable does.
func (d *Dispatcher) onWritable(conn *conntable.Connection, cd *conntable.ClientData) {
	if d.reactor {
		if cd.Timer != nil {
			d.wheel.Adjust(cd.Timer, time.Now().Add(3*d.timeslot))
		}
		conn.ClearImprov()
		conn.ClearTimerFlag()
		conn.State = conntable.StateBusy
		if !d.submitTask(conn, taskqueue.OpWrite) {
			d.metrics.RejectedSubmits.Inc()
			conn.State = conntable.StateIdle
			d.rearmConn(conn, false)
			return
		}
		d.busyWaitImprov(conn, cd)
		return
	}

	handler := conn.Handler.(protocol.Handler)
	if !handler.Write() {
		d.closeConn(cd, "io-error")
		return
	}
	if cd.Timer != nil {
		d.wheel.Adjust(cd.Timer, time.Now().Add(3*d.timeslot))
	}
	d.rearmConn(conn, handler.WantWrite())
}
