//go:build linux
// +build linux

package dispatcher

import (
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/drk-ng/eventd/internal/conntable"
)

// closeConn is the single close-callback: it unregisters the descriptor
// from the poller, closes it, clears its connection-table slot and timer
// entry, and updates metrics. Every close path in the dispatcher — I/O
// error, peer hangup, a discipline-R timer_flag, or timer-wheel expiry —
// funnels through this one function so none of them can forget a step.
func (d *Dispatcher) closeConn(cd *conntable.ClientData, reason string) {
	fd := cd.FD
	if conn, _, ok := d.table.Get(fd); ok {
		conn.State = conntable.StateClosing
	}
	_ = d.poll.Unregister(fd)
	unix.Close(fd)
	d.table.Close(fd)
	if cd.Timer != nil {
		d.wheel.Del(cd.Timer)
		cd.Timer = nil
	}
	d.metrics.LiveConnections.Set(float64(d.table.UserCount()))
	d.metrics.ConnectionsClosed.WithLabelValues(reason).Inc()
	d.log.Info("dispatcher: closed connection", zap.Int("fd", fd), zap.String("reason", reason))
}

// timerCloseCallback adapts the timer wheel's CloseFunc to closeConn. The
// owner is always a *ClientData; a nil or mistyped owner is ignored
// rather than dereferenced.
func (d *Dispatcher) timerCloseCallback(owner interface{}) {
	cd, ok := owner.(*conntable.ClientData)
	if !ok || cd == nil {
		return
	}
	d.closeConn(cd, "timeout")
}
