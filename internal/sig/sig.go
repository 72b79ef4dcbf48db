// Package sig builds and reads the per-file block signature table: the
// generator's half of the block-matching algorithm (spec.md §3.3,
// §4.5 "Construction").
package sig

import (
	"sort"

	"github.com/deltasync/rsync/internal/checksum"
)

// Block is one entry of a file's signature table.
type Block struct {
	Weak   uint32
	Strong []byte
	Offset int64
	Length int32
	Index  int32
}

// Table is a file's full signature: block size in effect, and the
// per-block weak/strong pairs.
type Table struct {
	BlockLength    int32
	ChecksumLength int32 // strong checksum length used when this table was built
	Blocks         []Block
}

// AdaptBlockSize picks the nominal block length for a file of the
// given length, following rsync.c's sum_sizes_sqroot heuristic: block
// size grows with the square root of the file size so that small files
// get fine-grained signatures and huge files don't produce an
// excessive signature table.
func AdaptBlockSize(fileLen int64, configured int32) int32 {
	if configured > 0 {
		return configured
	}
	const blockSize = 700
	if fileLen <= 0 {
		return blockSize
	}
	// sqrt(2 * fileLen * blockSize) rounded up to a multiple of 8, same shape
	// as the original's sumSizesSqroot.
	n := isqrt(uint64(fileLen) * uint64(blockSize) * 2)
	n = (n + 7) &^ 7
	if n < blockSize {
		n = blockSize
	}
	const maxBlockSize = 1 << 17
	if n > maxBlockSize {
		n = maxBlockSize
	}
	return int32(n)
}

func isqrt(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	x := n
	y := (x + 1) / 2
	for y < x {
		x = y
		y = (x + n/x) / 2
	}
	return x
}

// Build computes the signature table for a file of the given length,
// reading its content via read. checksumLen is 2 for protocols below
// the full-strong-sum threshold, 16 otherwise (spec.md §4.4).
func Build(fileLen int64, blockLength int32, checksumLen int32, seed uint32, read func(off int64, buf []byte) (int, error)) (*Table, error) {
	if blockLength <= 0 {
		blockLength = 700
	}
	t := &Table{BlockLength: blockLength, ChecksumLength: checksumLen}
	if fileLen == 0 {
		return t, nil
	}
	buf := make([]byte, blockLength)
	var offset int64
	var idx int32
	for offset < fileLen {
		n := int64(blockLength)
		if offset+n > fileLen {
			n = fileLen - offset
		}
		read, err := read(offset, buf[:n])
		if err != nil {
			return nil, err
		}
		chunk := buf[:read]
		w := checksum.NewWeak(chunk)
		strong := checksum.Strong(chunk, seed, int(checksumLen))
		t.Blocks = append(t.Blocks, Block{
			Weak:   w.Sum(),
			Strong: append([]byte(nil), strong...),
			Offset: offset,
			Length: int32(read),
			Index:  idx,
		})
		idx++
		offset += int64(read)
	}
	return t, nil
}

// Target is one entry of the sender-side lookup structure: the 16-bit
// tag derived from a block's weak sum, and the index into Blocks of
// the block it refers to.
type Target struct {
	Tag16 uint16
	Block int32
}

// Search is the sender-side structure built from a received Table: a
// tag-sorted target array plus a dense tag -> first-target-index table
// for O(1) candidate lookup (spec.md §4.5 "Construction").
type Search struct {
	Table    *Table
	Targets  []Target
	TagTable [65536]int32 // NULL_TAG (-1) when no target has this tag
}

const NullTag int32 = -1

// NewSearch builds the sender-side search structure from a received
// signature table.
func NewSearch(t *Table) *Search {
	s := &Search{Table: t}
	s.Targets = make([]Target, len(t.Blocks))
	for i, b := range t.Blocks {
		s.Targets[i] = Target{Tag16: tag16(b.Weak), Block: b.Index}
	}
	sort.Slice(s.Targets, func(i, j int) bool {
		return s.Targets[i].Tag16 < s.Targets[j].Tag16
	})
	for i := range s.TagTable {
		s.TagTable[i] = NullTag
	}
	// Iterate high to low so the earliest (lowest index) target for a
	// given tag wins, matching the construction order in spec.md §4.5.
	for i := len(s.Targets) - 1; i >= 0; i-- {
		s.TagTable[s.Targets[i].Tag16] = int32(i)
	}
	return s
}

// tag16 derives the table-lookup tag from a weak sum the same way
// checksum.Weak.Tag does, for targets reconstructed from the wire
// rather than computed locally.
func tag16(weak uint32) uint16 {
	s1 := weak & 0xFFFF
	s2 := weak >> 16
	return uint16((s1 + s2) & 0xFFFF)
}
