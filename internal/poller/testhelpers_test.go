//go:build linux
// +build linux

package poller

import "golang.org/x/sys/unix"

func makeSocketpair() ([2]int, error) {
	return unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
}

func writeFD(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}

func closeFD(fd int) {
	_ = unix.Close(fd)
}
