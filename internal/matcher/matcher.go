// Package matcher implements the sender-side block search: scanning a
// source file against a received signature table and emitting a
// stream of literal and match tokens (spec.md §4.5).
package matcher

import (
	"github.com/deltasync/rsync/internal/checksum"
	"github.com/deltasync/rsync/internal/sig"
)

// Token is one emitted unit: either a literal run (Data non-nil) or a
// block match (Match >= 0), never both. LiteralOnly marks a synthetic
// periodic flush (spec.md §4.5 step 3d): a literal run with no match
// token following it, even though the scan continues past it.
type Token struct {
	Data        []byte
	Match       int32 // index of matched block, or -1 if this token carries no match
	LiteralOnly bool
}

// Stats accumulates match-search counters for the end-of-transfer
// report (spec.md §8.2 Scenario A/B, SPEC_FULL.md §C.7).
type Stats struct {
	LiteralBytes int64
	MatchedBytes int64
	Matches      int64
	FalseAlarms  int64
}

// Emit receives tokens as the search produces them. Returning an error
// aborts the search.
type Emit func(Token) error

// chunkSize bounds how long an unmatched stretch may grow before a
// synthetic literal flush is forced (spec.md §4.5 step 3d).
const chunkSize = 32 * 1024

// Search scans src against the sender-side structure s, calling emit
// for every literal and match token in order, and finally the trailing
// literal and terminator. seed is the connection's checksum seed, used
// to confirm weak-sum candidates with the strong digest at the
// checksum length the table was built with.
func Search(src []byte, s *sig.Search, seed uint32, emit Emit) (Stats, error) {
	var stats Stats
	l := int64(len(src))
	blockLen := int64(s.Table.BlockLength)
	checksumLen := int(s.Table.ChecksumLength)
	if checksumLen <= 0 {
		checksumLen = 16
	}
	lastBlockLen := blockLen
	if n := len(s.Table.Blocks); n > 0 {
		lastBlockLen = int64(s.Table.Blocks[n-1].Length)
	}

	if l == 0 || len(s.Table.Blocks) == 0 {
		if l > 0 {
			if err := emit(Token{Data: src, Match: -1}); err != nil {
				return stats, err
			}
			stats.LiteralBytes += l
		}
		if err := emit(Token{Match: -1}); err != nil { // terminator
			return stats, err
		}
		return stats, nil
	}

	k := blockLen
	if l < k {
		k = l
	}
	offset := int64(0)
	lastMatch := int64(0)
	lastI := int32(-1)
	w := checksum.NewWeak(src[offset : offset+k])

	flush := func(end int64, literalOnly bool) error {
		if end <= lastMatch {
			return nil
		}
		data := src[lastMatch:end]
		stats.LiteralBytes += int64(len(data))
		return emit(Token{Data: data, Match: -1, LiteralOnly: literalOnly})
	}

	limit := l + 1 - lastBlockLen
	for offset < limit {
		tag := w.Tag()
		j := s.TagTable[tag]
		committed := false
		if j != sig.NullTag {
			chosen := int32(-1)
			for idx := int(j); idx < len(s.Targets) && s.Targets[idx].Tag16 == tag; idx++ {
				blockIdx := s.Targets[idx].Block
				block := s.Table.Blocks[blockIdx]
				if block.Weak != w.Sum() {
					continue
				}
				end := offset + int64(block.Length)
				if end > l {
					continue
				}
				strong := checksum.Strong(src[offset:end], seed, checksumLen)
				if !bytesEqual(strong, block.Strong) {
					stats.FalseAlarms++
					continue
				}
				if chosen == -1 {
					chosen = blockIdx
				}
				// Adjacency preference: a block that continues the
				// previous match wins outright over any other
				// tag-matching candidate (spec.md §4.5 step 3b).
				if blockIdx == lastI+1 {
					chosen = blockIdx
					break
				}
			}
			if chosen != -1 {
				block := s.Table.Blocks[chosen]
				if err := flush(offset, false); err != nil {
					return stats, err
				}
				if err := emit(Token{Match: chosen}); err != nil {
					return stats, err
				}
				stats.Matches++
				stats.MatchedBytes += int64(block.Length)
				offset += int64(block.Length)
				lastMatch = offset
				lastI = chosen
				committed = true
				if offset < limit {
					nk := blockLen
					if l-offset < nk {
						nk = l - offset
					}
					if nk > 0 {
						w = checksum.NewWeak(src[offset : offset+nk])
						k = nk
					}
				}
			}
		}
		if !committed {
			if offset-lastMatch > int64(chunkSize)+blockLen && offset+blockLen <= l {
				if err := flush(offset, true); err != nil {
					return stats, err
				}
				lastMatch = offset
			}
			if offset+k < l {
				w = w.Slide(src[offset], src[offset+k])
			} else if offset+1 < l {
				nk := k - 1
				if nk < 1 {
					nk = 1
				}
				w = checksum.NewWeak(src[offset+1 : min64(offset+1+nk, l)])
				k = nk
			}
			offset++
		}
	}

	if err := flush(l, false); err != nil {
		return stats, err
	}
	if err := emit(Token{Match: -1}); err != nil {
		return stats, err
	}
	return stats, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
