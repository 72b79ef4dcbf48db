package mapfile

import (
	"bytes"
	"math/rand"
	"testing"
)

type readerAt struct{ data []byte }

func (r readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, nil
	}
	n := copy(p, r.data[off:])
	return n, nil
}

func TestPtrMatchesDirectSlice(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	data := make([]byte, 1<<20)
	rng.Read(data)

	w := New(readerAt{data}, int64(len(data)))
	for _, tc := range []struct{ off, n int }{
		{0, 100},
		{1000, 5000},
		{len(data) - 10, 100}, // clamps at EOF
		{200000, 32768},
		{200000, 32768}, // re-request within the same window
		{0, 100},        // forces a re-read back to the start
	} {
		got, err := w.Ptr(int64(tc.off), tc.n)
		if err != nil {
			t.Fatal(err)
		}
		end := tc.off + tc.n
		if end > len(data) {
			end = len(data)
		}
		want := data[tc.off:end]
		if !bytes.Equal(got, want) {
			t.Errorf("Ptr(%d, %d): mismatch (got %d bytes, want %d)", tc.off, tc.n, len(got), len(want))
		}
	}
}

func TestPtrPastEOF(t *testing.T) {
	w := New(readerAt{[]byte("hello")}, 5)
	got, err := w.Ptr(5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("Ptr past EOF = %v, want nil", got)
	}
}
