//go:build linux
// +build linux

package dispatcher

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/drk-ng/eventd/internal/conntable"
	"github.com/drk-ng/eventd/internal/poller"
	"github.com/drk-ng/eventd/internal/protocol"
)

// handleAccept runs the accept loop appropriate for the listener's
// trigger mode: level-triggered accepts (at most) once per readiness
// notification, edge-triggered drains until EAGAIN, matching the original
// eventListen's LISTENFDET branch.
func (d *Dispatcher) handleAccept() {
	if d.trig.ListenET() {
		d.acceptET()
	} else {
		d.acceptLT()
	}
}

func (d *Dispatcher) acceptLT() {
	fd, addr, ok, err := acceptOne(d.listenFD, d.trig.ConnET())
	if err != nil {
		d.log.Error("dispatcher: accept error", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	d.admit(fd, addr)
}

func (d *Dispatcher) acceptET() {
	for {
		fd, addr, ok, err := acceptOne(d.listenFD, d.trig.ConnET())
		if err != nil {
			d.log.Error("dispatcher: accept error", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		d.admit(fd, addr)
	}
}

// admit binds a freshly accepted descriptor to a table slot, a protocol
// handler and an idle timer, and registers it one-shot with the poller.
// The connection table's Full() check must happen before accept admits
// the descriptor (invariant 2): rejection here still closes the fd the
// kernel already handed back.
func (d *Dispatcher) admit(fd int, addr *unix.SockaddrInet4) {
	if d.table.Full() {
		d.rejectAndClose(fd)
		return
	}

	peer := sockaddrToNetAddr(addr)
	handler := d.handlerFactory()

	connTrig := conntable.LT
	protoTrig := protocol.TriggerMode(0)
	mode := poller.LT
	if d.trig.ConnET() {
		connTrig = conntable.ET
		protoTrig = protocol.TriggerMode(1)
		mode = poller.ET
	}

	_, cd, err := d.table.Init(fd, peer, connTrig, handler)
	if err != nil {
		d.log.Error("dispatcher: init slot failed", zap.Error(err))
		unix.Close(fd)
		return
	}
	handler.Init(fd, peer, protoTrig)

	if err := d.poll.Register(fd, mode, true); err != nil {
		d.log.Error("dispatcher: register fd failed", zap.Int("fd", fd), zap.Error(err))
		unix.Close(fd)
		d.table.Close(fd)
		return
	}

	cd.Timer = d.wheel.Add(cd, time.Now().Add(3*d.timeslot), d.timerCloseCallback)
	d.metrics.LiveConnections.Set(float64(d.table.UserCount()))
}

// rejectAndClose writes the "Internal server busy" reply and closes the
// descriptor without ever entering it into the connection table,
// reproducing the original's table-full accept rejection.
func (d *Dispatcher) rejectAndClose(fd int) {
	_, _ = unix.Write(fd, []byte(busyMessage))
	unix.Close(fd)
	d.metrics.RejectedAccepts.Inc()
	d.log.Warn(busyMessage, zap.Int("fd", fd))
}
