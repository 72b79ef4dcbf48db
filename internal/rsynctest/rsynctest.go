// Package rsynctest provides test helpers for spinning up an
// in-process rsync daemon and generating fixture files that exercise
// the delta-transfer algorithm (large files with a distinct head,
// body and tail region), plus device-file fixtures for --devices
// tests.
package rsynctest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/deltasync/rsync/internal/rsyncdconfig"
	"github.com/deltasync/rsync/internal/testlogger"
	"github.com/deltasync/rsync/rsyncd"
)

// AnyRsync returns the path to a system rsync(1) binary, skipping the
// calling test if none is installed.
func AnyRsync(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("rsync")
	if err != nil {
		t.Skipf("skipping: rsync(1) not found in $PATH: %v", err)
	}
	return path
}

type config struct {
	modules   []rsyncd.Module
	listeners []rsyncdconfig.Listener
}

// Option configures the server returned by New.
type Option func(*config)

// InteropModule adds a module named "interop" serving path, the
// convention used throughout the interoperability tests.
func InteropModule(path string) Option {
	return func(c *config) {
		c.modules = append(c.modules, rsyncd.Module{
			Name: "interop",
			Path: path,
		})
	}
}

// Listeners overrides the listener configuration the server is
// started with. Only the Rsyncd (plain TCP) listener kind is
// supported; New always listens on "localhost:0" regardless, so this
// option only matters for tests asserting on listener configuration
// itself.
func Listeners(ls []rsyncdconfig.Listener) Option {
	return func(c *config) { c.listeners = ls }
}

// Server is a running in-process rsync daemon reachable at
// rsync://localhost:Port/.
type Server struct {
	Port string

	ln net.Listener
}

// New starts an rsync daemon listening on localhost on a random port
// and arranges for it to be shut down when the test completes.
func New(t *testing.T, opts ...Option) *Server {
	t.Helper()

	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := rsyncd.NewServer(cfg.modules, rsyncd.WithStderr(testlogger.New(t)))
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			// Expected once the listener is closed at test cleanup.
		}
	}()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	return &Server{Port: port, ln: ln}
}

// WriteLargeDataFile creates a source/large-data-file fixture of a few
// megabytes: headPattern repeated for the first block, bodyPattern
// repeated for the bulk of the file, and endPattern repeated for the
// last block. Regenerating the file with a different bodyPattern
// changes only its middle, which is what makes it useful for
// exercising the delta algorithm's block matching.
func WriteLargeDataFile(t *testing.T, sourceDir string, headPattern, bodyPattern, endPattern []byte) {
	t.Helper()

	const (
		blockSize = 700 * 1024
		numBlocks = 5
	)

	if err := os.MkdirAll(sourceDir, 0755); err != nil {
		t.Fatal(err)
	}

	f, err := os.Create(filepath.Join(sourceDir, "large-data-file"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	writeBlock := func(pattern []byte) {
		buf := bytes.Repeat(pattern, blockSize/len(pattern)+1)[:blockSize]
		if _, err := f.Write(buf); err != nil {
			t.Fatal(err)
		}
	}

	writeBlock(headPattern)
	for i := 0; i < numBlocks-2; i++ {
		writeBlock(bodyPattern)
	}
	writeBlock(endPattern)
}

// DataFileMatches verifies that the file at path was written by
// WriteLargeDataFile with the given patterns.
func DataFileMatches(path string, headPattern, bodyPattern, endPattern []byte) error {
	const blockSize = 700 * 1024

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	check := func(offset int64, pattern []byte) error {
		want := bytes.Repeat(pattern, blockSize/len(pattern)+1)[:blockSize]
		got := make([]byte, blockSize)
		if _, err := f.ReadAt(got, offset); err != nil && err != io.EOF {
			return err
		}
		if !bytes.Equal(got, want) {
			return fmt.Errorf("data file mismatch at offset %d: pattern %v not found", offset, pattern)
		}
		return nil
	}

	if err := check(0, headPattern); err != nil {
		return err
	}
	st, err := f.Stat()
	if err != nil {
		return err
	}
	if err := check(st.Size()-blockSize, endPattern); err != nil {
		return err
	}
	return check(2*blockSize, bodyPattern)
}

// CreateDummyDeviceFiles creates a handful of character and block
// device nodes (harmless major/minor numbers) under dir, to exercise
// --devices handling. It requires root and is only called by tests
// that already checked os.Getuid() == 0.
func CreateDummyDeviceFiles(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for _, dev := range dummyDevices {
		if err := mknod(filepath.Join(dir, dev.name), dev.mode, dev.major, dev.minor); err != nil {
			t.Fatal(err)
		}
	}
}

// VerifyDummyDeviceFiles verifies that dstDir contains the same
// device nodes CreateDummyDeviceFiles created in srcDir.
func VerifyDummyDeviceFiles(t *testing.T, srcDir, dstDir string) {
	t.Helper()
	for _, dev := range dummyDevices {
		srcSt, err := os.Stat(filepath.Join(srcDir, dev.name))
		if err != nil {
			t.Fatal(err)
		}
		dstSt, err := os.Stat(filepath.Join(dstDir, dev.name))
		if err != nil {
			t.Fatal(err)
		}
		if srcSt.Mode()&os.ModeType != dstSt.Mode()&os.ModeType {
			t.Errorf("%s: device type mismatch: %v != %v", dev.name, srcSt.Mode(), dstSt.Mode())
		}
	}
}

type dummyDevice struct {
	name        string
	mode        os.FileMode
	major,minor uint32
}

var dummyDevices = []dummyDevice{
	{name: "null", mode: os.ModeDevice | os.ModeCharDevice | 0666, major: 1, minor: 3},
	{name: "zero", mode: os.ModeDevice | os.ModeCharDevice | 0666, major: 1, minor: 5},
	{name: "loop0", mode: os.ModeDevice | 0660, major: 7, minor: 0},
}
