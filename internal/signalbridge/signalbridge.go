// Package signalbridge converts asynchronous process signals into bytes on
// a self-pipe whose read end is registered with the dispatcher's poller, so
// signal delivery is serialized with ordinary I/O readiness events.
//
// Go's runtime already delivers signals to a channel in an
// async-signal-safe way (os/signal.Notify), so the handler-side of the
// classic self-pipe trick is unnecessary; what actually matters here
// — signals surfacing through the same readiness mechanism as I/O, rather
// than a second goroutine racing the dispatcher — is reproduced by a
// forwarding goroutine that writes one byte per received signal into the
// pipe's write end.
package signalbridge

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const (
	tickByte      byte = 1
	terminateByte byte = 2
)

// Bridge owns the self-pipe and the forwarding goroutine.
type Bridge struct {
	r, w    *os.File
	sigCh   chan os.Signal
	done    chan struct{}
}

// Install creates the self-pipe, sets the write end non-blocking and
// starts forwarding SIGALRM-class and SIGTERM/SIGINT-class signals into it.
// SIGPIPE is ignored for the lifetime of the process, matching the
// original server's addsig(SIGPIPE, SIG_IGN).
func Install() (*Bridge, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("signalbridge: pipe: %w", err)
	}
	if err := setNonblocking(w); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("signalbridge: set write end nonblocking: %w", err)
	}

	signal.Ignore(syscall.SIGPIPE)

	b := &Bridge{
		r:     r,
		w:     w,
		sigCh: make(chan os.Signal, 16),
		done:  make(chan struct{}),
	}
	signal.Notify(b.sigCh, syscall.SIGALRM, syscall.SIGTERM, syscall.SIGINT)
	go b.forward()
	return b, nil
}

func (b *Bridge) forward() {
	for {
		select {
		case sig := <-b.sigCh:
			var payload byte
			switch sig {
			case syscall.SIGALRM:
				payload = tickByte
			case syscall.SIGTERM, syscall.SIGINT:
				payload = terminateByte
			default:
				continue
			}
			// best-effort, non-blocking write; a full pipe means a tick
			// or shutdown is already pending and will be observed.
			_, _ = b.w.Write([]byte{payload})
		case <-b.done:
			return
		}
	}
}

// ReadFD returns the descriptor the dispatcher should register with the
// poller, READABLE/LT.
func (b *Bridge) ReadFD() int {
	return int(b.r.Fd())
}

// Drain reads up to 1024 pending bytes and reports whether a timer tick or
// a termination request was observed among them.
func (b *Bridge) Drain() (timeout bool, stop bool, err error) {
	buf := make([]byte, 1024)
	n, rerr := b.r.Read(buf)
	if rerr != nil {
		return false, false, fmt.Errorf("signalbridge: read: %w", rerr)
	}
	for i := 0; i < n; i++ {
		switch buf[i] {
		case tickByte:
			timeout = true
		case terminateByte:
			stop = true
		}
	}
	return timeout, stop, nil
}

// Uninstall stops signal forwarding and closes the pipe.
func (b *Bridge) Uninstall() error {
	signal.Stop(b.sigCh)
	close(b.done)
	err1 := b.r.Close()
	err2 := b.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
