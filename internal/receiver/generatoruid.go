//go:build linux || darwin

package receiver

import (
	"os"
	"os/user"
	"strconv"
	"syscall"

	"github.com/deltasync/rsync/internal/flist"
)

var amRoot = os.Getuid() == 0

var inGroup = func() map[uint32]bool {
	m := make(map[uint32]bool)
	u, err := user.Current()
	if err != nil {
		return m
	}
	gids, err := u.GroupIds()
	if err != nil {
		return m
	}
	for _, gidString := range gids {
		gid64, err := strconv.ParseInt(gidString, 0, 64)
		if err != nil {
			return m
		}
		m[uint32(gid64)] = true
	}
	return m
}()

// setOwnership applies uid/gid preservation after a file is written in
// place (spec.md §4.9, SPEC_FULL.md §A.4): uid changes require root,
// gid changes require root or membership in the target group, matching
// rsync/uidlist.c's privilege checks.
func (rt *Transfer) setOwnership(f *flist.File, local string) error {
	if !rt.Opts.PreserveUID && !rt.Opts.PreserveGID {
		return nil
	}
	st, err := os.Lstat(local)
	if err != nil {
		return err
	}
	stt, ok := st.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}

	changeUID := rt.Opts.PreserveUID && amRoot && stt.Uid != uint32(f.UID)
	changeGID := rt.Opts.PreserveGID &&
		(amRoot || inGroup[uint32(f.GID)]) &&
		stt.Gid != uint32(f.GID)
	if !changeUID && !changeGID {
		return nil
	}

	uid := stt.Uid
	if changeUID {
		uid = uint32(f.UID)
	}
	gid := stt.Gid
	if changeGID {
		gid = uint32(f.GID)
	}
	return os.Lchown(local, int(uid), int(gid))
}
