// Package testlogger adapts testing.T's logging to the io.Writer
// interface the server/client constructors expect for stderr, so test
// output lands in `go test -v` rather than on the real stderr.
package testlogger

import (
	"io"
	"strings"
	"testing"
)

type writer struct {
	t *testing.T
}

func (w *writer) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// New returns an io.Writer that forwards each write to t.Log.
func New(t *testing.T) io.Writer {
	return &writer{t: t}
}
