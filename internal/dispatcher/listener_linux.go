//go:build linux
// +build linux

package dispatcher

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// lingerOpt builds the SO_LINGER value for optLinger (0 => {onoff:0,linger:1},
// 1 => {onoff:1,linger:1}).
func lingerOpt(optLinger int) *unix.Linger {
	linger := &unix.Linger{Linger: 1}
	if optLinger == 1 {
		linger.Onoff = 1
	} else {
		linger.Onoff = 0
	}
	return linger
}

// listenTCP reproduces WebServer::eventListen()'s raw socket setup:
// SO_LINGER per optLinger (see lingerOpt), SO_REUSEADDR always, bind,
// listen with backlog 5, then sets the listener non-blocking.
func listenTCP(port int, optLinger int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("dispatcher: socket: %w", err)
	}

	if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, lingerOpt(optLinger)); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: setsockopt SO_LINGER: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: setsockopt SO_REUSEADDR: %w", err)
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: bind :%d: %w", port, err)
	}

	const backlog = 5
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: listen: %w", err)
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("dispatcher: set listener nonblocking: %w", err)
	}

	return fd, nil
}

// acceptOne performs a single accept4 call, returning the new fd, the
// peer address, and ok=false on EAGAIN (no pending connection) or a
// transient error (both of which the caller treats identically to the
// original's "accept error" branch, which simply stops the accept loop).
// nonblocking mirrors conn_ET from the trigger-mode matrix: edge-triggered
// connections get a nonblocking descriptor so their handler's read/write
// loop can observe EAGAIN; level-triggered connections stay blocking, the
// way the original leaves accepted sockets in their default blocking mode.
func acceptOne(listenFD int, nonblocking bool) (fd int, addr *unix.SockaddrInet4, ok bool, err error) {
	var flags int
	if nonblocking {
		flags = unix.SOCK_NONBLOCK
	}
	nfd, sa, aerr := unix.Accept4(listenFD, flags)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK || aerr == unix.ECONNABORTED {
			return -1, nil, false, nil
		}
		return -1, nil, false, aerr
	}
	in4, _ := sa.(*unix.SockaddrInet4)
	return nfd, in4, true, nil
}

// sockaddrToNetAddr adapts a raw accept4 result into a net.Addr for the
// protocol handler's Init, without pulling in a full net.Conn wrapper.
func sockaddrToNetAddr(sa *unix.SockaddrInet4) net.Addr {
	if sa == nil {
		return nil
	}
	ip := net.IPv4(sa.Addr[0], sa.Addr[1], sa.Addr[2], sa.Addr[3])
	return &net.TCPAddr{IP: ip, Port: sa.Port}
}
