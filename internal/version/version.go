// Package version holds the version string reported by --version and
// the daemon/client help banners.
package version

// version is overridden at build time via -ldflags
// "-X github.com/deltasync/rsync/internal/version.version=...".
var version = "dev"

// Read returns the banner line printed by --version and the help text.
func Read() string {
	return "deltasync-rsync " + version + " (protocol version compatible with tridge rsync/openrsync)"
}
