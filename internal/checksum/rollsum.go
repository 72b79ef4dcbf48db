// Package checksum implements the two checksums the matcher relies on
// to find reused blocks: the O(1)-updatable weak rolling sum and the
// strong digest that confirms a weak-sum candidate (spec.md §4.3,
// §4.4). Grounded on rsync/checksum.c's get_checksum1/get_checksum2.
package checksum

import (
	"encoding/binary"

	"github.com/mmcloughlin/md4"
)

// Weak holds the rolling-checksum accumulators (s1, s2) plus the
// window length k they were computed over (spec.md §3.6).
type Weak struct {
	s1, s2 uint32
	k      int
}

// NewWeak computes the initial rolling checksum over buf (spec.md
// §4.3). buf's length becomes the window length k used by Slide.
func NewWeak(buf []byte) Weak {
	var s1, s2 uint32
	k := len(buf)
	for i, b := range buf {
		s1 += uint32(b)
		s2 += uint32(k-i) * uint32(b)
	}
	return Weak{s1: s1 & 0xFFFF, s2: s2 & 0xFFFF, k: k}
}

// Sum returns the 32-bit rolling checksum value, (s1 & 0xFFFF) |
// (s2 << 16).
func (w Weak) Sum() uint32 {
	return (w.s1 & 0xFFFF) | (w.s2 << 16)
}

// Tag returns the 16-bit hash used to index the signature tag table
// (spec.md §4.3, §4.5).
func (w Weak) Tag() uint16 {
	return uint16((w.s1 + w.s2) & 0xFFFF)
}

// Slide advances the window by one byte: out leaves the window at its
// low end, in enters at the high end. The window length k is
// unchanged.
func (w Weak) Slide(out, in byte) Weak {
	s1 := (w.s1 - uint32(out) + uint32(in)) & 0xFFFF
	s2 := (w.s2 - uint32(w.k)*uint32(out) + s1) & 0xFFFF
	return Weak{s1: s1, s2: s2, k: w.k}
}

// Strong computes the seeded strong digest over buf, truncated to
// length n bytes (n is 2 for protocols below the full-strong-sum
// threshold, 16 otherwise; spec.md §4.4). The seed is mixed in by
// hashing it as a little-endian uint32 immediately before buf, matching
// the original implementation's checksum-seed placement.
func Strong(buf []byte, seed uint32, n int) []byte {
	h := md4.New()
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], seed)
	h.Write(seedBuf[:])
	h.Write(buf)
	sum := h.Sum(nil)
	if n > len(sum) {
		n = len(sum)
	}
	return sum[:n]
}

// NewStrongHash returns an md4.New()-equivalent hash pre-seeded with
// seed, suitable for streaming a whole file through incrementally
// (used for the whole-file digest, spec.md §4.5 step 5 and
// §4.11/§4.12).
func NewStrongHash(seed uint32) md4Hash {
	h := md4.New()
	var seedBuf [4]byte
	binary.LittleEndian.PutUint32(seedBuf[:], seed)
	h.Write(seedBuf[:])
	return md4Hash{h}
}

type md4Hash struct {
	h interface {
		Write(p []byte) (int, error)
		Sum(b []byte) []byte
	}
}

func (m md4Hash) Write(p []byte) (int, error) { return m.h.Write(p) }
func (m md4Hash) Sum() []byte                 { return m.h.Sum(nil) }
