//go:build !linux || nonamespacing

package maincmd

import "github.com/deltasync/rsync/internal/rsyncos"

// dropPrivileges is a no-op on platforms without the setuid/setgid
// syscalls this module uses for privilege dropping, and when built
// with the nonamespacing tag for environments that manage privileges
// externally.
func dropPrivileges(osenv *rsyncos.Env) error {
	return nil
}
