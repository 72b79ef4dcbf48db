package checksum

import (
	"math/rand"
	"testing"
)

// TestSlideEquivalence checks the invariant from spec.md §8.1: sliding
// the window by one byte produces the same checksum as recomputing it
// from scratch over the new window.
func TestSlideEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	buf := make([]byte, 4096)
	rng.Read(buf)

	const k = 700
	for i := 0; i+k+1 < len(buf); i++ {
		w := NewWeak(buf[i : i+k])
		slid := w.Slide(buf[i], buf[i+k])
		want := NewWeak(buf[i+1 : i+1+k])
		if slid.Sum() != want.Sum() {
			t.Fatalf("at i=%d: slide() = %#x, want %#x", i, slid.Sum(), want.Sum())
		}
		if slid.Tag() != want.Tag() {
			t.Fatalf("at i=%d: slide().Tag() = %#x, want %#x", i, slid.Tag(), want.Tag())
		}
	}
}

func TestStrongDeterministicAndSeedSensitive(t *testing.T) {
	buf := []byte("the quick brown fox jumps over the lazy dog")
	a := Strong(buf, 0, 16)
	b := Strong(buf, 0, 16)
	if string(a) != string(b) {
		t.Fatalf("Strong is not deterministic")
	}
	c := Strong(buf, 0xdeadbeef, 16)
	if string(a) == string(c) {
		t.Fatalf("Strong did not change with a different seed")
	}
	short := Strong(buf, 0, 2)
	if len(short) != 2 {
		t.Fatalf("Strong(n=2) returned %d bytes", len(short))
	}
	if string(short) != string(a[:2]) {
		t.Fatalf("truncated strong sum is not a prefix of the full digest")
	}
}
