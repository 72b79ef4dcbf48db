// Package log provides the small Logger interface this module's
// packages accept, plus a default implementation writing timestamped
// lines to an io.Writer. Most packages depend on the Logger interface
// directly rather than this package, so tests can substitute a
// t.Logf-backed logger; this package exists for the process entry
// points that need a concrete default.
package log

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Logger is the logging interface shared across this module's
// packages (generator/receiver, sender, the daemon and client entry
// points).
type Logger interface {
	Printf(format string, args ...any)
}

// writerLogger writes timestamped lines to an underlying io.Writer,
// guarding concurrent writes from the generator/receiver/sender
// goroutines with a mutex.
type writerLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// New returns a Logger that writes to w.
func New(w io.Writer) Logger {
	return &writerLogger{w: w}
}

func (l *writerLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s %s\n", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

var global Logger = New(io.Discard)

// SetLogger installs logger as the package-level default used by call
// sites that haven't been threaded a Logger of their own yet.
func SetLogger(logger Logger) {
	if logger != nil {
		global = logger
	}
}

// Printf logs via the package-level default logger.
func Printf(format string, args ...any) {
	global.Printf(format, args...)
}
