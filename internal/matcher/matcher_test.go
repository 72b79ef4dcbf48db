package matcher

import (
	"bytes"
	"testing"

	"github.com/deltasync/rsync/internal/sig"
)

func buildSignature(t *testing.T, data []byte, blockLen int32) *sig.Table {
	t.Helper()
	table, err := sig.Build(int64(len(data)), blockLen, 16, 0, func(off int64, buf []byte) (int, error) {
		return copy(buf, data[off:]), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

// TestIdenticalFileProducesOnlyMatches mirrors spec.md §8.2 Scenario A:
// identical source and destination should round-trip as pure matches,
// no literal bytes.
func TestIdenticalFileProducesOnlyMatches(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 1000)
	table := buildSignature(t, data, 100)
	search := sig.NewSearch(table)

	var tokens []Token
	stats, err := Search(data, search, 0, func(tok Token) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if stats.LiteralBytes != 0 {
		t.Errorf("LiteralBytes = %d, want 0", stats.LiteralBytes)
	}
	if stats.MatchedBytes != int64(len(data)) {
		t.Errorf("MatchedBytes = %d, want %d", stats.MatchedBytes, len(data))
	}
	last := tokens[len(tokens)-1]
	if last.Match != -1 || last.Data != nil {
		t.Errorf("final token is not a bare terminator: %+v", last)
	}
}

// TestSingleBytePrependShiftsMatches mirrors spec.md §8.2 Scenario B:
// prepending one byte should cost exactly one literal byte, with the
// rest recovered via shifted matches.
func TestSingleBytePrependShiftsMatches(t *testing.T) {
	original := make([]byte, 10000)
	for i := range original {
		original[i] = byte(i)
	}
	table := buildSignature(t, original, 700)
	search := sig.NewSearch(table)

	src := append([]byte{'X'}, original...)
	stats, err := Search(src, search, 0, func(Token) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if stats.LiteralBytes != 1 {
		t.Errorf("LiteralBytes = %d, want 1", stats.LiteralBytes)
	}
	if stats.MatchedBytes != int64(len(original)) {
		t.Errorf("MatchedBytes = %d, want %d", stats.MatchedBytes, len(original))
	}
}

// TestEmptySignatureProducesSingleLiteral mirrors spec.md §8.2 Scenario
// C: a brand new file (count=0 signature table) is transferred as one
// literal token.
func TestEmptySignatureProducesSingleLiteral(t *testing.T) {
	table := buildSignature(t, nil, 700)
	search := sig.NewSearch(table)

	src := []byte("hello\n")
	var tokens []Token
	_, err := Search(src, search, 0, func(tok Token) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2 (literal + terminator)", len(tokens))
	}
	if !bytes.Equal(tokens[0].Data, src) {
		t.Errorf("literal token = %q, want %q", tokens[0].Data, src)
	}
	if tokens[1].Match != -1 || tokens[1].Data != nil {
		t.Errorf("second token is not a bare terminator: %+v", tokens[1])
	}
}

// TestAdjacencyPreference checks that when two blocks share a tag but
// only one continues the previous match, the matcher prefers the
// adjacent block (spec.md §4.5 step 3b).
func TestAdjacencyPreference(t *testing.T) {
	data := bytes.Repeat([]byte("abcdefgh"), 50) // 400 bytes, repetitive
	table := buildSignature(t, data, 8)
	search := sig.NewSearch(table)

	var matches []int32
	_, err := Search(data, search, 0, func(tok Token) error {
		if tok.Data == nil && tok.Match >= 0 {
			matches = append(matches, tok.Match)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(matches); i++ {
		if matches[i] != matches[i-1]+1 {
			t.Fatalf("match sequence not contiguous at %d: %v", i, matches)
		}
	}
}
