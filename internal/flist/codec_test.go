package flist

import (
	"bytes"
	"testing"

	"github.com/deltasync/rsync/internal/rsyncwire"
)

// TestIncrementalEncodingScenarioD mirrors spec.md §8.2 Scenario D:
// dir/a, dir/b, dir/bc (which share the "dir/" prefix) are encoded and
// must decode back to the same paths.
func TestIncrementalEncodingScenarioD(t *testing.T) {
	var buf bytes.Buffer
	conn := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	enc := &Encoder{Conn: conn}

	files := []*File{
		{Dirname: "dir", Basename: "a", Mode: 0o100644},
		{Dirname: "dir", Basename: "b", Mode: 0o100644},
		{Dirname: "dir", Basename: "bc", Mode: 0o100644},
	}
	for _, f := range files {
		if err := enc.WriteFile(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.WriteTerminator(); err != nil {
		t.Fatal(err)
	}

	dec := &Decoder{Conn: conn}
	var got []*File
	for {
		f, err := dec.ReadFile()
		if err != nil {
			t.Fatal(err)
		}
		if f == nil {
			break
		}
		got = append(got, f)
	}
	if len(got) != len(files) {
		t.Fatalf("got %d entries, want %d", len(got), len(files))
	}
	for i, f := range got {
		want := files[i]
		if f.Path() != want.Path() {
			t.Errorf("entry %d: path = %q, want %q", i, f.Path(), want.Path())
		}
	}
}

func TestIncrementalEncodingFlagsNeverZeroExceptTerminator(t *testing.T) {
	var buf bytes.Buffer
	conn := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	enc := &Encoder{Conn: conn}

	// A single regular file entry has no previous entry, so no "same as
	// previous" flag is set; it must still get a non-zero flags byte so
	// it isn't mistaken for the terminator.
	f := &File{Dirname: "", Basename: "only", Mode: 0o100644}
	if err := enc.WriteFile(f); err != nil {
		t.Fatal(err)
	}
	if buf.Bytes()[0] == 0 {
		t.Fatalf("first entry's flags byte is 0, collides with terminator")
	}
}

func TestRoundTripWithOwnershipAndSymlink(t *testing.T) {
	var buf bytes.Buffer
	conn := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	enc := &Encoder{Conn: conn, PreserveUID: true, PreserveGID: true, PreserveLinks: true}

	files := []*File{
		{Dirname: "a", Basename: "reg", Mode: 0o100644, UID: 1000, GID: 1000, Length: 42, Mtime: 1700000000},
		{Dirname: "a", Basename: "link", Mode: 0o120000, UID: 1000, GID: 1000, Link: "reg"},
	}
	for _, f := range files {
		if err := enc.WriteFile(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.WriteTerminator(); err != nil {
		t.Fatal(err)
	}

	dec := &Decoder{Conn: conn, PreserveUID: true, PreserveGID: true, PreserveLinks: true}
	f1, err := dec.ReadFile()
	if err != nil {
		t.Fatal(err)
	}
	if f1.UID != 1000 || f1.GID != 1000 || f1.Length != 42 || f1.Mtime != 1700000000 {
		t.Errorf("f1 mismatch: %+v", f1)
	}
	f2, err := dec.ReadFile()
	if err != nil {
		t.Fatal(err)
	}
	if !f2.IsSymlink() || f2.Link != "reg" {
		t.Errorf("f2 mismatch: %+v", f2)
	}
	end, err := dec.ReadFile()
	if err != nil {
		t.Fatal(err)
	}
	if end != nil {
		t.Errorf("expected terminator, got %+v", end)
	}
}
