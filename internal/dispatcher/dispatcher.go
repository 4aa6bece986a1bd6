//go:build linux
// +build linux

// Package dispatcher implements the single-threaded reactor/proactor event
// loop at the center of the server: it owns the listening socket, the
// readiness poller, the signal bridge, the timer wheel and the connection
// table, and hands I/O or compute steps to the worker pool according to
// the configured discipline (proactor/P or reactor/R). A single goroutine
// owns the poller, timers and per-fd state so the hot path needs no locks;
// accept/read/write/signal handling are split into their own files.
package dispatcher

import (
	"fmt"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/drk-ng/eventd/internal/config"
	"github.com/drk-ng/eventd/internal/conntable"
	"github.com/drk-ng/eventd/internal/dbpool"
	"github.com/drk-ng/eventd/internal/metrics"
	"github.com/drk-ng/eventd/internal/poller"
	"github.com/drk-ng/eventd/internal/protocol"
	"github.com/drk-ng/eventd/internal/signalbridge"
	"github.com/drk-ng/eventd/internal/taskqueue"
	"github.com/drk-ng/eventd/internal/timerwheel"
	"github.com/drk-ng/eventd/internal/workerpool"
)

const busyMessage = "Internal server busy"

// Options configures a new Dispatcher.
type Options struct {
	Config         config.Config
	HandlerFactory protocol.Factory
	DB             *dbpool.Pool // nil disables scoped DB handles
	Metrics        *metrics.Registry
	Log            *zap.Logger
}

// Dispatcher owns every collaborator and runs the
// single event-loop goroutine tying them together.
type Dispatcher struct {
	cfg            config.Config
	trig           config.TriggerMode
	reactor        bool
	timeslot       time.Duration

	poll     *poller.Poller
	bridge   *signalbridge.Bridge
	bridgeFD int
	notify   *writeNotifier
	notifyFD int
	wheel    *timerwheel.Wheel
	queue    *taskqueue.Queue
	workers  *workerpool.Pool
	table    *conntable.Table

	listenFD       int
	handlerFactory protocol.Factory

	db      *dbpool.Pool // nil when no database is configured
	metrics *metrics.Registry
	log     *zap.Logger

	alarmTimer    *time.Timer
	stopRequested bool
}

// New constructs every collaborator and wires them together, but does not
// start accepting connections; call Run for that. Construction failures
// are reported so the caller can abort startup.
func New(opts Options) (*Dispatcher, error) {
	if opts.HandlerFactory == nil {
		return nil, fmt.Errorf("dispatcher: HandlerFactory is required")
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("dispatcher: Metrics registry is required")
	}

	pl, err := poller.New()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	bridge, err := signalbridge.Install()
	if err != nil {
		pl.Close()
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	notify, err := newWriteNotifier()
	if err != nil {
		bridge.Uninstall()
		pl.Close()
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	trig := config.TriggerMode(opts.Config.TrigMode)

	listenMode := poller.LT
	if trig.ListenET() {
		listenMode = poller.ET
	}
	listenFD, err := listenTCP(opts.Config.Port, opts.Config.OptLinger)
	if err != nil {
		notify.close()
		bridge.Uninstall()
		pl.Close()
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	if err := pl.Register(listenFD, listenMode, false); err != nil {
		unix.Close(listenFD)
		notify.close()
		bridge.Uninstall()
		pl.Close()
		return nil, fmt.Errorf("dispatcher: register listener: %w", err)
	}
	if err := pl.Register(bridge.ReadFD(), poller.LT, false); err != nil {
		unix.Close(listenFD)
		notify.close()
		bridge.Uninstall()
		pl.Close()
		return nil, fmt.Errorf("dispatcher: register signal bridge: %w", err)
	}
	if err := pl.Register(notify.readFD(), poller.LT, false); err != nil {
		unix.Close(listenFD)
		notify.close()
		bridge.Uninstall()
		pl.Close()
		return nil, fmt.Errorf("dispatcher: register write-notify pipe: %w", err)
	}

	d := &Dispatcher{
		cfg:            opts.Config,
		trig:           trig,
		reactor:        opts.Config.ActorModel == 1,
		timeslot:       time.Duration(opts.Config.TimeslotSeconds) * time.Second,
		poll:           pl,
		bridge:         bridge,
		bridgeFD:       bridge.ReadFD(),
		notify:         notify,
		notifyFD:       notify.readFD(),
		wheel:          timerwheel.New(),
		queue:          taskqueue.New(opts.Config.MaxRequests),
		table:          conntable.New(opts.Config.MaxFD),
		listenFD:       listenFD,
		handlerFactory: opts.HandlerFactory,
		db:             opts.DB,
		metrics:        opts.Metrics,
		log:            opts.Log,
	}

	d.workers = workerpool.New(d.queue, opts.DB, d.log, d.toTask)
	d.workers.Start(opts.Config.ThreadN)

	return d, nil
}

// toTask maps a raw queue item back to the closures a worker executes,
// reading the concrete connection/handler types the taskqueue and
// workerpool packages are deliberately ignorant of.
func (d *Dispatcher) toTask(item taskqueue.Item) workerpool.Task {
	conn := item.Conn.(*conntable.Connection)
	handler := conn.Handler.(protocol.Handler)

	task := workerpool.Task{
		OnImprov:  conn.SetImprov,
		OnIOError: conn.SetTimerFlag,
	}
	switch item.Op {
	case taskqueue.OpRead:
		task.IOStep = handler.ReadOnce
	case taskqueue.OpWrite:
		task.IOStep = handler.Write
	case taskqueue.OpCompute:
		// inline I/O already happened on the dispatcher (discipline P).
	}
	task.Process = func(db *dbpool.Handle) {
		handler.Process(db)
		d.metrics.TasksProcessed.Inc()
		// Discipline P submits OpCompute and moves on without waiting, so
		// this is the only way the dispatcher learns a reply is ready to
		// send; discipline R's busyWaitImprov checks WantWrite itself once
		// it wakes, so it doesn't need the notifier.
		if item.Op == taskqueue.OpCompute && handler.WantWrite() {
			d.notify.request(conn.FD)
		}
	}
	return task
}

// Run blocks, servicing readiness events until a termination signal is
// observed, then shuts down and returns. The poller is waited on with no
// timeout: timer sweeps are driven by SIGALRM arriving through the signal
// bridge rather than by a poll timeout, so the loop only wakes on actual
// work.
func (d *Dispatcher) Run() error {
	d.armAlarm()
	buf := make([]poller.Readiness, 0, 128)
	for {
		var err error
		buf, err = d.poll.Wait(buf[:0], -1)
		if err != nil {
			return fmt.Errorf("dispatcher: wait: %w", err)
		}

		tick := false
		for _, r := range buf {
			switch r.FD {
			case d.listenFD:
				d.handleAccept()
			case d.bridgeFD:
				sawTick, sawStop, derr := d.bridge.Drain()
				if derr != nil {
					d.log.Error("dispatcher: signal bridge drain failed", zap.Error(derr))
					continue
				}
				if sawTick {
					tick = true
				}
				if sawStop {
					d.stopRequested = true
				}
			case d.notifyFD:
				for _, fd := range d.notify.drain() {
					d.handleWriteRequest(fd)
				}
			default:
				d.handleConnEvent(r)
			}
		}

		if tick {
			d.wheel.Tick(time.Now())
			d.metrics.TimerSweeps.Inc()
			d.metrics.QueueDepth.Set(float64(d.queue.Len()))
			if d.db != nil {
				d.metrics.DBHandlesInUse.Set(float64(d.db.InUse()))
			}
			d.armAlarm()
		}
		if d.stopRequested {
			break
		}
	}
	return d.shutdown()
}

// armAlarm (re)schedules a one-shot self-delivered SIGALRM TIMESLOT
// seconds out, the Go-idiomatic substitute for the original's alarm(2)
// re-arm at the top of dealwithsignal.
func (d *Dispatcher) armAlarm() {
	if d.alarmTimer != nil {
		d.alarmTimer.Stop()
	}
	d.alarmTimer = time.AfterFunc(d.timeslot, func() {
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGALRM)
	})
}

func (d *Dispatcher) shutdown() error {
	d.log.Info("dispatcher: shutting down")
	if d.alarmTimer != nil {
		d.alarmTimer.Stop()
	}
	d.workers.Stop()
	_ = d.poll.Unregister(d.listenFD)
	unix.Close(d.listenFD)
	if err := d.bridge.Uninstall(); err != nil {
		d.log.Error("dispatcher: signal bridge uninstall failed", zap.Error(err))
	}
	if err := d.notify.close(); err != nil {
		d.log.Error("dispatcher: write-notify pipe close failed", zap.Error(err))
	}
	return d.poll.Close()
}

// SetLinger updates the listening socket's SO_LINGER option in place, the
// safe knob config.Watcher reloads on a file change: it affects sockets
// accepted from this point on without requiring a restart.
func (d *Dispatcher) SetLinger(optLinger int) error {
	if err := unix.SetsockoptLinger(d.listenFD, unix.SOL_SOCKET, unix.SO_LINGER, lingerOpt(optLinger)); err != nil {
		return fmt.Errorf("dispatcher: setsockopt SO_LINGER: %w", err)
	}
	return nil
}

// handleWriteRequest re-arms a connection for write readiness after a
// discipline-P compute task left its handler with buffered output. The fd
// may already be gone (closed, timed out) by the time this runs; that is
// not an error.
func (d *Dispatcher) handleWriteRequest(fd int) {
	conn, _, ok := d.table.Get(fd)
	if !ok {
		return
	}
	d.rearmConn(conn, true)
}

// busyWaitImprov is the discipline-R busy wait: the
// dispatcher spins on the connection's improv flag until the worker that
// just took its task publishes a result, then inspects timer_flag to
// decide between re-arming and closing. runtime.Gosched between spins
// yields to other goroutines (the worker among them) instead of pegging
// a core for the whole wait.
func (d *Dispatcher) busyWaitImprov(conn *conntable.Connection, cd *conntable.ClientData) {
	for !conn.Improv() {
		runtime.Gosched()
	}
	conn.ClearImprov()
	if conn.TimerFlag() {
		conn.ClearTimerFlag()
		d.closeConn(cd, "io-error")
		return
	}
	conn.State = conntable.StateIdle
	wantWrite := false
	if handler, ok := conn.Handler.(protocol.Handler); ok {
		wantWrite = handler.WantWrite()
	}
	d.rearmConn(conn, wantWrite)
}

// submitTask enqueues (conn, op) and refreshes the queue-depth gauge.
func (d *Dispatcher) submitTask(conn *conntable.Connection, op taskqueue.Op) bool {
	ok := d.queue.Submit(taskqueue.Item{Conn: conn, Op: op})
	d.metrics.QueueDepth.Set(float64(d.queue.Len()))
	return ok
}

// rearmConn re-arms conn's one-shot registration after every task outcome
// that leaves the connection open — success or a dropped submission — so a
// rejected submission can never wedge a connection until its idle timeout
// fires; a closed connection is unregistered instead. wantWrite additionally arms EPOLLOUT for a connection that has a
// reply buffered and not yet fully flushed.
func (d *Dispatcher) rearmConn(conn *conntable.Connection, wantWrite bool) {
	mode := poller.LT
	if conn.Trigger == conntable.ET {
		mode = poller.ET
	}
	if err := d.poll.Modify(conn.FD, wantWrite, mode, true); err != nil {
		d.log.Error("dispatcher: rearm failed", zap.Int("fd", conn.FD), zap.Error(err))
	}
}
