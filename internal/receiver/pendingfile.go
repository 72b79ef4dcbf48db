package receiver

import (
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// pendingFile is a file under reconstruction: writes go to a temp file
// in the destination directory, replaced atomically into place once
// the whole-file digest verifies (spec.md §4.12 step 7). Grounded on
// the teacher's use of github.com/google/renameio/v2 for exactly this
// purpose in internal/receiver/generatorsymlink.go and do.go.
type pendingFile struct {
	t    *renameio.PendingFile
	path string
}

func newPendingFile(path string) (*pendingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	t, err := renameio.NewPendingFile(path,
		renameio.WithExistingPermissions(),
		renameio.WithPermissions(0o644))
	if err != nil {
		return nil, err
	}
	return &pendingFile{t: t, path: path}, nil
}

func (p *pendingFile) Write(b []byte) (int, error) { return p.t.Write(b) }

func (p *pendingFile) Chmod(mode os.FileMode) error { return p.t.Chmod(mode) }

// CloseAtomicallyReplace renames the temp file into place.
func (p *pendingFile) CloseAtomicallyReplace() error {
	return p.t.CloseAtomicallyReplace()
}

// Cleanup discards the temp file if CloseAtomicallyReplace was never
// called (e.g. because digest verification failed).
func (p *pendingFile) Cleanup() {
	p.t.Cleanup()
}

func symlinkAtomically(oldname, newname string) error {
	return renameio.Symlink(oldname, newname)
}
