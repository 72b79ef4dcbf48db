package rsynctest

import (
	"os"

	"golang.org/x/sys/unix"
)

func mknod(path string, mode os.FileMode, major, minor uint32) error {
	sysMode := uint32(mode.Perm())
	switch {
	case mode&os.ModeCharDevice != 0:
		sysMode |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		sysMode |= unix.S_IFBLK
	}
	return unix.Mknod(path, sysMode, int(unix.Mkdev(major, minor)))
}
