//go:build linux || darwin

package receiver

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/deltasync/rsync/internal/flist"
)

// generateDevice implements spec.md §4.10 step 3's device/special
// branch (SPEC_FULL.md §C.4): block/char devices, sockets and FIFOs
// are recreated with a mknod-equivalent syscall rather than
// transferred as file content.
func (rt *Transfer) generateDevice(f *flist.File, local string) error {
	if rt.Opts.DryRun {
		return nil
	}
	st, err := os.Lstat(local)
	if err == nil && deviceMatches(st, f) {
		return rt.setPerms(f, local)
	}
	if err == nil {
		if rerr := os.Remove(local); rerr != nil {
			return rerr
		}
	}
	mode := uint32(f.Mode & 0o7777)
	mode |= deviceTypeBits(f.Mode)
	if err := unix.Mknod(local, mode, int(f.Rdev)); err != nil {
		return err
	}
	return rt.setPerms(f, local)
}

func deviceTypeBits(mode uint32) uint32 {
	return mode & sTIFMT
}

func deviceMatches(st os.FileInfo, f *flist.File) bool {
	stt, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return uint64(stt.Mode&sTIFMT) == uint64(f.Mode&sTIFMT) && uint64(stt.Rdev) == uint64(f.Rdev)
}

const sTIFMT = 0o170000
