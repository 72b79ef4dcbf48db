// Package flist implements the file-list entry type and its
// incremental wire encoding (spec.md §3.1, §3.2, §4.9). Grounded on
// rsync/flist.c's send_file_entry/receive_file_entry.
package flist

import (
	"path"
	"sort"
	"strings"
)

// File is one entry of a file list: a path plus the metadata the
// protocol needs to recreate it (spec.md §3.1).
type File struct {
	Dirname  string
	Basename string
	Mode     uint32
	Length   int64
	Mtime    int64
	UID      int32
	GID      int32
	Rdev     uint32
	Dev      int64
	Inode    int64
	Link     string // symlink target, only if Mode is a symlink
	Sum      []byte // whole-file digest, only in always-checksum mode

	// NulledDuplicate marks an entry whose basename was cleared because
	// an earlier entry in the sorted list shares its full path (spec.md
	// §3.1 invariants, §9 "index-based file references": the struct is
	// never removed, only marked).
	NulledDuplicate bool
}

// Path returns the entry's full path (Dirname+"/"+Basename, or just
// Basename if Dirname is empty).
func (f *File) Path() string {
	if f.Dirname == "" {
		return f.Basename
	}
	return f.Dirname + "/" + f.Basename
}

const (
	sTIFMT  = 0o170000
	sIFDIR  = 0o040000
	sIFLNK  = 0o120000
	sIFBLK  = 0o060000
	sIFCHR  = 0o020000
	sIFSOCK = 0o140000
	sIFIFO  = 0o010000
)

// IsDir reports whether the entry is a directory.
func (f *File) IsDir() bool { return f.Mode&sTIFMT == sIFDIR }

// IsSymlink reports whether the entry is a symbolic link.
func (f *File) IsSymlink() bool { return f.Mode&sTIFMT == sIFLNK }

// IsDevice reports whether the entry is a block/char device, socket,
// or FIFO (SPEC_FULL.md §C.4).
func (f *File) IsDevice() bool {
	switch f.Mode & sTIFMT {
	case sIFBLK, sIFCHR, sIFSOCK, sIFIFO:
		return true
	default:
		return false
	}
}

// List is an ordered sequence of File entries, sorted by full path;
// the index of an entry in List is the transfer handle every
// downstream protocol message uses to refer to it (spec.md §3.2).
type List struct {
	Files []*File
}

// SortAndDedup sorts the list by full path using unsigned-byte
// comparison and nulls the basename of any entry whose full path
// duplicates an earlier one, without removing the entry itself (spec.md
// §3.1, §9).
func (l *List) SortAndDedup() {
	sort.SliceStable(l.Files, func(i, j int) bool {
		return l.Files[i].Path() < l.Files[j].Path()
	})
	var last string
	haveLast := false
	for _, f := range l.Files {
		if f.NulledDuplicate {
			continue
		}
		p := f.Path()
		if haveLast && p == last {
			f.NulledDuplicate = true
			f.Basename = ""
			continue
		}
		last = p
		haveLast = true
	}
}

// commonPrefixLen returns the length of the longest common prefix of a
// and b, capped at 255 (spec.md §4.9 step 1).
func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n > 255 {
		n = 255
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// CleanPath sanitizes a path the way the sender must before it enters
// a file list: no "./" or ".." components, no doubled slashes, no
// trailing slash (spec.md §3.1 invariants).
func CleanPath(p string) string {
	cleaned := path.Clean(strings.TrimSuffix(p, "/"))
	if cleaned == "." {
		return ""
	}
	return strings.TrimPrefix(cleaned, "/")
}
