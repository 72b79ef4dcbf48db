package receiver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/deltasync/rsync/internal/flist"
	"github.com/deltasync/rsync/internal/sig"
)

// hardlinkKey groups file-list entries that refer to the same inode on
// the sending side (SPEC_FULL.md §C.3).
type hardlinkKey struct {
	dev   int64
	inode int64
}

// GenerateFiles is the generator role's main loop (rsync/generator.c,
// spec.md §4.10): walk the file list, resolve each entry's destination
// state, and either apply it directly (directories, symlinks, device
// nodes) or hand regular files to the sender side by writing an index
// and a signature table. Runs concurrently with RecvFiles over the
// same Conn, joined by an errgroup in Do (spec.md §5).
func (rt *Transfer) GenerateFiles(fileList []*flist.File) error {
	rt.hardlinks = make(map[hardlinkKey]*flist.File)

	for idx, f := range fileList {
		if f.NulledDuplicate {
			continue
		}
		if err := rt.generateFile1(f, idx); err != nil {
			return err
		}
	}
	if err := rt.Conn.WriteInt32(-1); err != nil {
		return err
	}

	// Phase 2: indices the receiver re-requests after a failed digest
	// verification (spec.md §4.10 step 5, §4.12 step 6).
	for {
		idx, err := rt.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			break
		}
		if int(idx) < 0 || int(idx) >= len(fileList) {
			return fmt.Errorf("generator: redo index %d out of range", idx)
		}
		if err := rt.generateFile1(fileList[idx], int(idx)); err != nil {
			return err
		}
	}

	return rt.Conn.WriteInt32(-1)
}

func (rt *Transfer) generateFile1(f *flist.File, idx int) error {
	local := rt.localPath(f)

	switch {
	case f.IsDir():
		return rt.generateDir(f, local)
	case rt.Opts.PreserveLinks && f.IsSymlink():
		return rt.generateSymlink(f, local)
	case rt.Opts.PreserveDevices && f.IsDevice():
		return rt.generateDevice(f, local)
	default:
		return rt.generateRegular(f, local, idx)
	}
}

func (rt *Transfer) generateDir(f *flist.File, local string) error {
	if rt.Opts.DryRun {
		return nil
	}
	if err := os.MkdirAll(local, os.FileMode(f.Mode&0o7777)|0o700); err != nil {
		return err
	}
	return rt.setPerms(f, local)
}

func (rt *Transfer) generateSymlink(f *flist.File, local string) error {
	if rt.Opts.DryRun {
		return nil
	}
	if existing, err := os.Readlink(local); err == nil && existing == f.Link {
		return nil
	}
	os.Remove(local)
	return symlinkAtomically(f.Link, local)
}

// generateRegular implements spec.md §4.10 step 3's regular-file
// branch: skip checks, hardlink grouping, compare/copy/link-dest
// fallbacks, fuzzy basis selection, and finally sending the index plus
// a signature table (possibly empty) to the sender.
func (rt *Transfer) generateRegular(f *flist.File, local string, idx int) error {
	if rt.Opts.PreserveHardlinks && f.Dev != 0 && f.Inode != 0 {
		key := hardlinkKey{f.Dev, f.Inode}
		if first, ok := rt.hardlinks[key]; ok {
			return rt.linkToFirst(first, f, local)
		}
		rt.hardlinks[key] = f
	}

	info, statErr := os.Lstat(local)
	dstExists := statErr == nil

	if rt.Opts.IgnoreExisting && dstExists {
		return nil
	}
	if rt.Opts.UpdateOnly && dstExists && info.ModTime().Unix() > f.Mtime {
		return nil
	}
	if dstExists && rt.sameAlready(f, info) {
		return rt.setPerms(f, local)
	}

	basisPath, basisExists := rt.chooseBasis(f, local, dstExists)
	if basisExists && rt.Opts.CopyDest != "" && basisPath != local {
		if err := copyFile(basisPath, local); err != nil {
			return err
		}
		return rt.setPerms(f, local)
	}
	if basisExists && rt.Opts.LinkDest != "" && basisPath != local {
		os.Remove(local)
		if err := os.Link(basisPath, local); err == nil {
			return rt.setPerms(f, local)
		}
		// fall through to a normal transfer using basisPath as basis
	}

	if err := rt.Conn.WriteInt32(int32(idx)); err != nil {
		return err
	}

	var table *sig.Table
	if rt.Opts.WholeFile || !basisExists {
		table = &sig.Table{}
	} else {
		var err error
		table, err = rt.buildBasisSignatures(f, basisPath)
		if err != nil {
			return err
		}
	}
	return sig.WriteTable(rt.Conn, table)
}

// sameAlready reports whether the destination already matches the
// file-list entry closely enough to skip transfer (spec.md §4.10 step
// 3c): equal size, and either equal mtime or (in always-checksum mode)
// an equal whole-file digest.
func (rt *Transfer) sameAlready(f *flist.File, info os.FileInfo) bool {
	if info.Size() != f.Length {
		return false
	}
	if !rt.Opts.AlwaysChecksum {
		return info.ModTime().Unix() == f.Mtime
	}
	return len(f.Sum) > 0 && fileDigestEquals(rt.localPath(f), f.Sum, rt.Seed)
}

// chooseBasis picks the file to build signatures against: the
// destination itself if present, else (in order) a compare/copy/link
// -dest sibling, else a fuzzy basis, else no basis at all (whole-file
// literal transfer).
func (rt *Transfer) chooseBasis(f *flist.File, local string, dstExists bool) (path string, exists bool) {
	if dstExists {
		return local, true
	}
	for _, dir := range []string{rt.Opts.CompareDest, rt.Opts.CopyDest, rt.Opts.LinkDest} {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, f.Path())
		if _, err := os.Lstat(candidate); err == nil {
			return candidate, true
		}
	}
	if rt.Opts.Fuzzy {
		if candidate, ok := rt.findFuzzy(f, local); ok {
			return candidate, true
		}
	}
	return "", false
}

// findFuzzy looks for a same-directory sibling whose name and size are
// close to f's, to use as a signature basis instead of an empty
// signature table (SPEC_FULL.md §C.6, grounded on rsync.c's
// find_fuzzy). Only the destination directory is searched.
func (rt *Transfer) findFuzzy(f *flist.File, local string) (string, bool) {
	dir := filepath.Dir(local)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	base := filepath.Base(local)
	var best string
	var bestScore int = -1
	for _, e := range entries {
		if e.IsDir() || e.Name() == base {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		score := commonPrefixLen(e.Name(), base)
		if score == 0 {
			continue
		}
		sizeDelta := info.Size() - f.Length
		if sizeDelta < 0 {
			sizeDelta = -sizeDelta
		}
		if sizeDelta > f.Length/2+1 {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = filepath.Join(dir, e.Name())
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

func (rt *Transfer) buildBasisSignatures(f *flist.File, basisPath string) (*sig.Table, error) {
	bf, err := os.Open(basisPath)
	if err != nil {
		return nil, err
	}
	defer bf.Close()

	info, err := bf.Stat()
	if err != nil {
		return nil, err
	}
	basisLen := info.Size()
	if rt.Opts.Append {
		// --append[-verify]: treat the existing short file as a prefix
		// basis and only build signatures over its current length
		// (SPEC_FULL.md §C.5).
		if basisLen > f.Length {
			basisLen = f.Length
		}
	}

	blockLen := sig.AdaptBlockSize(basisLen, rt.Opts.BlockSize)
	checksumLen := int32(2)
	if rt.Opts.Protocol >= 21 || rt.Opts.AlwaysChecksum {
		checksumLen = 16
	}
	return sig.Build(basisLen, blockLen, checksumLen, rt.Seed, bf.ReadAt)
}

func (rt *Transfer) linkToFirst(first, f *flist.File, local string) error {
	if rt.Opts.DryRun {
		return nil
	}
	os.Remove(local)
	return os.Link(rt.localPath(first), local)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := newPendingFile(dst)
	if err != nil {
		return err
	}
	defer out.Cleanup()
	buf := make([]byte, 64*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr != nil {
			break
		}
	}
	if err := out.Chmod(info.Mode()); err != nil {
		return err
	}
	return out.CloseAtomicallyReplace()
}

// deleteFiles implements the receiver-side deletion pass, run by Do before the transfer
// (SPEC_FULL.md §C.1, grounded on rsync/delete.c and the teacher's
// internal/receiver/do.go:deleteFiles): anything found under a
// top-level destination directory that isn't named in the file list is
// removed, unless any I/O error has already been recorded for this
// transfer.
func (rt *Transfer) deleteFiles(fileList []*flist.File) error {
	if rt.IOErrors.HasErrors() {
		rt.Logger.Printf("IO error encountered, skipping file deletion")
		return nil
	}

	names := make(map[string]bool, len(fileList))
	for _, f := range fileList {
		if !f.NulledDuplicate {
			names[f.Path()] = true
		}
	}

	for _, f := range fileList {
		if f.NulledDuplicate || !f.IsDir() || f.Path() != "." {
			continue
		}
		root := filepath.Clean(rt.Dest)
		strip := root + "/"
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			name := strings.TrimPrefix(path, strip)
			if name == root {
				name = "."
			}
			if names[name] {
				return nil
			}
			if rt.Opts.Verbose {
				rt.Logger.Printf("deleting %s", name)
			}
			if rt.Opts.DryRun {
				return nil
			}
			if info.IsDir() {
				return os.RemoveAll(path)
			}
			return os.Remove(path)
		})
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
	}
	return nil
}
