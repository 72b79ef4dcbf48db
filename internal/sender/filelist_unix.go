//go:build linux || darwin

// Package sender's file-list construction: walking the source tree the
// way rsync/flist.c:send_file_list does, including the trailing-slash
// convention that decides whether a directory's name itself becomes a
// file-list entry.
package sender

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/deltasync/rsync/internal/flist"
)

// BuildFileList walks each of paths (resolved against st.Root) and
// returns the resulting sorted, deduplicated file list (spec.md §3.1,
// §3.2). A path ending in "/" contributes its contents without the
// directory's own name as a path component; otherwise the final path
// component becomes the top-level entry, recursively including its
// descendants.
func (st *Transfer) BuildFileList(paths []string) ([]*flist.File, error) {
	list := &flist.List{}
	for _, p := range paths {
		trailingSlash := strings.HasSuffix(p, "/")
		full := p
		if st.Root != "" {
			full = filepath.Join(st.Root, p)
		}
		if _, err := os.Lstat(full); err != nil {
			st.IOErrors.Record(err)
			st.Logger.Printf("sender: skipping %s: %v", full, err)
			continue
		}
		prefix := ""
		if !trailingSlash {
			prefix = filepath.Base(filepath.Clean(p))
		}
		if err := st.addTree(list, full, prefix); err != nil {
			return nil, err
		}
	}
	list.SortAndDedup()
	return list.Files, nil
}

func (st *Transfer) addTree(list *flist.List, full, relPrefix string) error {
	return filepath.Walk(full, func(walkPath string, info os.FileInfo, err error) error {
		if err != nil {
			st.Logger.Printf("sender: %s: %v", walkPath, err)
			return nil
		}
		rel, rerr := filepath.Rel(full, walkPath)
		if rerr != nil {
			return rerr
		}
		var entryPath string
		switch {
		case rel == ".":
			entryPath = relPrefix
		case relPrefix == "":
			entryPath = rel
		default:
			entryPath = relPrefix + "/" + rel
		}
		if entryPath == "" && info.IsDir() {
			// Trailing-slash source directory itself: contents only, no
			// entry for "".
			return nil
		}
		f, ferr := entryFromInfo(entryPath, walkPath, info)
		if ferr != nil {
			return ferr
		}
		list.Files = append(list.Files, f)
		return nil
	})
}

func entryFromInfo(entryPath, fullPath string, info os.FileInfo) (*flist.File, error) {
	dirname, basename := "", entryPath
	if idx := strings.LastIndexByte(entryPath, '/'); idx >= 0 {
		dirname, basename = entryPath[:idx], entryPath[idx+1:]
	}
	f := &flist.File{
		Dirname:  dirname,
		Basename: basename,
		Mode:     uint32(info.Mode().Perm()),
		Length:   info.Size(),
		Mtime:    info.ModTime().Unix(),
	}
	f.Mode |= modeTypeBits(info)

	if stt, ok := info.Sys().(*syscall.Stat_t); ok {
		f.UID = int32(stt.Uid)
		f.GID = int32(stt.Gid)
		f.Dev = int64(stt.Dev)
		f.Inode = int64(stt.Ino)
		f.Rdev = uint32(stt.Rdev)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(fullPath)
		if err != nil {
			return nil, err
		}
		f.Link = target
	}

	return f, nil
}

const (
	sIFDIR  = 0o040000
	sIFLNK  = 0o120000
	sIFBLK  = 0o060000
	sIFCHR  = 0o020000
	sIFSOCK = 0o140000
	sIFIFO  = 0o010000
)

func modeTypeBits(info os.FileInfo) uint32 {
	switch {
	case info.IsDir():
		return sIFDIR
	case info.Mode()&os.ModeSymlink != 0:
		return sIFLNK
	case info.Mode()&os.ModeDevice != 0 && info.Mode()&os.ModeCharDevice != 0:
		return sIFCHR
	case info.Mode()&os.ModeDevice != 0:
		return sIFBLK
	case info.Mode()&os.ModeSocket != 0:
		return sIFSOCK
	case info.Mode()&os.ModeNamedPipe != 0:
		return sIFIFO
	default:
		return 0 // regular file
	}
}
