//go:build linux
// +build linux

package dispatcher

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// writeNotifier lets a worker tell the dispatcher that a connection now has
// buffered output to send, without the worker ever touching the poller
// itself — discipline P submits its compute step and moves on without
// waiting, so the only way the dispatcher learns a reply is ready is an
// out-of-band wakeup. A worker pushes the ready fd onto the channel and
// taps the pipe's write end to wake poll.Wait; the dispatcher goroutine
// drains both and is the only party that ever calls poll.Modify, mirroring
// the self-pipe shape signalbridge already uses for signals.
type writeNotifier struct {
	r, w    *os.File
	pending chan int
}

func newWriteNotifier() (*writeNotifier, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("dispatcher: write-notify pipe: %w", err)
	}
	if err := unix.SetNonblock(int(w.Fd()), true); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("dispatcher: write-notify nonblock: %w", err)
	}
	return &writeNotifier{r: r, w: w, pending: make(chan int, 256)}, nil
}

func (n *writeNotifier) readFD() int { return int(n.r.Fd()) }

// request is called from a worker goroutine once a compute task leaves its
// handler with WantWrite()==true. It only touches the channel and the pipe,
// never the poller.
func (n *writeNotifier) request(fd int) {
	select {
	case n.pending <- fd:
	default:
		// pending is sized well above the worker pool, so this only drops
		// under pathological backlog; the connection's own timeout still
		// applies if its reply never gets flushed.
	}
	_, _ = n.w.Write([]byte{1})
}

// drain discards the wakeup bytes and returns every fd queued since the
// last call.
func (n *writeNotifier) drain() []int {
	buf := make([]byte, 1024)
	_, _ = n.r.Read(buf)
	var fds []int
	for {
		select {
		case fd := <-n.pending:
			fds = append(fds, fd)
		default:
			return fds
		}
	}
}

func (n *writeNotifier) close() error {
	err1 := n.r.Close()
	err2 := n.w.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
