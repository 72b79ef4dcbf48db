// Package mapfile implements a growable read-window over a file,
// standing in for mmap so that a peer truncating the file mid-transfer
// produces a short read instead of a SIGBUS (spec.md §4.8).
package mapfile

import "io"

const (
	chunkSize  = 32 * 1024
	maxMapSize = 256 * 1024
)

// Window is a sliding buffer over a ReaderAt of known size.
type Window struct {
	r    io.ReaderAt
	size int64

	start int64
	buf   []byte
}

// New creates a Window over r, which holds size bytes.
func New(r io.ReaderAt, size int64) *Window {
	return &Window{r: r, size: size}
}

// Ptr returns a slice of up to length bytes starting at offset,
// re-reading into the window as needed (spec.md §4.8 steps 1-6). A
// request extending past EOF is clamped to the file's actual size; a
// short underlying read leaves the remainder of the window zeroed,
// since a freshly allocated buffer already reads as zero.
func (w *Window) Ptr(offset int64, length int) ([]byte, error) {
	if offset >= w.size {
		return nil, nil
	}
	if offset+int64(length) > w.size {
		length = int(w.size - offset)
	}
	if length == 0 {
		return nil, nil
	}

	if w.inWindow(offset, length) {
		rel := offset - w.start
		return w.buf[rel : rel+int64(length)], nil
	}

	start := offset - 2*chunkSize
	if start < 0 {
		start = 0
	}
	start -= start % chunkSize
	winSize := int64(maxMapSize)
	if need := offset + int64(length) - start; need > winSize {
		winSize = need
	}
	if start+winSize > w.size {
		winSize = w.size - start
	}

	buf := make([]byte, winSize)

	// Reuse whatever part of the new window already overlaps the old
	// one instead of re-reading it: shift the overlapping bytes into
	// place, then only read the gaps the old window didn't cover.
	oldStart, oldEnd := w.start, w.start+int64(len(w.buf))
	newEnd := start + winSize
	overlapStart := maxInt64(start, oldStart)
	overlapEnd := minInt64(newEnd, oldEnd)

	if w.buf != nil && overlapStart < overlapEnd {
		copy(buf[overlapStart-start:overlapEnd-start], w.buf[overlapStart-oldStart:overlapEnd-oldStart])
		if overlapStart > start {
			if _, err := w.r.ReadAt(buf[:overlapStart-start], start); err != nil && err != io.EOF {
				return nil, err
			}
		}
		if overlapEnd < newEnd {
			if _, err := w.r.ReadAt(buf[overlapEnd-start:], overlapEnd); err != nil && err != io.EOF {
				return nil, err
			}
		}
	} else if _, err := w.r.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, err
	}

	w.start = start
	w.buf = buf
	rel := offset - w.start
	return w.buf[rel : rel+int64(length)], nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (w *Window) inWindow(offset int64, length int) bool {
	if w.buf == nil {
		return false
	}
	end := w.start + int64(len(w.buf))
	return offset >= w.start && offset+int64(length) <= end
}
