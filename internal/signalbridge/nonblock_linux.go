//go:build linux
// +build linux

package signalbridge

import (
	"os"

	"golang.org/x/sys/unix"
)

func setNonblocking(f *os.File) error {
	return unix.SetNonblock(int(f.Fd()), true)
}
