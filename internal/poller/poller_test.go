//go:build linux
// +build linux

package poller

import (
	"net"
	"testing"
	"time"
)

func socketPair(t testing.TB) (int, int, func()) {
	t.Helper()
	fds, err := makeSocketpair()
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1], func() {
		closeFD(fds[0])
		closeFD(fds[1])
	}
}

func TestRegisterReportsReadable(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	a, b, cleanup := socketPair(t)
	defer cleanup()

	if err := p.Register(a, LT, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := writeFD(b, []byte("x")); err != nil {
		t.Fatalf("write: %v", err)
	}

	buf := make([]Readiness, 0, 4)
	buf, err = p.Wait(buf, 1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(buf) != 1 || buf[0].FD != a || buf[0].Events&Readable == 0 {
		t.Fatalf("unexpected readiness: %+v", buf)
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	a, _, cleanup := socketPair(t)
	defer cleanup()

	if err := p.Register(a, LT, false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Register(a, LT, false); err == nil {
		t.Fatalf("expected RegistrationError on duplicate register")
	} else if _, ok := err.(*RegistrationError); !ok {
		t.Fatalf("expected *RegistrationError, got %T", err)
	}
}

func TestUnregisterRestoresPriorState(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	a, _, cleanup := socketPair(t)
	defer cleanup()

	if err := p.Register(a, LT, false); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := p.Unregister(a); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
	// Registering again after unregister must succeed, proving the
	// poller's internal bookkeeping was actually cleared.
	if err := p.Register(a, LT, false); err != nil {
		t.Fatalf("Register after Unregister: %v", err)
	}
}

func TestWaitTimeoutNoEvents(t *testing.T) {
	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	a, _, cleanup := socketPair(t)
	defer cleanup()
	if err := p.Register(a, LT, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	buf, err := p.Wait(nil, 100)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(buf) != 0 {
		t.Fatalf("expected no events, got %+v", buf)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("Wait returned too early: %v", elapsed)
	}
}

// ensure a net.Listener-backed fd reports readiness when a client dials
func TestListenerFD(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	tl, ok := ln.(*net.TCPListener)
	if !ok {
		t.Fatalf("expected *net.TCPListener")
	}
	rawConn, err := tl.SyscallConn()
	if err != nil {
		t.Fatalf("SyscallConn: %v", err)
	}

	var fd int
	rawConn.Control(func(u uintptr) { fd = int(u) })

	p, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	if err := p.Register(fd, LT, false); err != nil {
		t.Fatalf("Register: %v", err)
	}

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()

	buf, err := p.Wait(nil, 2000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(buf) != 1 || buf[0].FD != fd {
		t.Fatalf("expected listener readiness, got %+v", buf)
	}
}
