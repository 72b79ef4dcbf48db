package token

import (
	"bytes"
	"io"
	"testing"

	"github.com/deltasync/rsync/internal/matcher"
	"github.com/deltasync/rsync/internal/rsyncwire"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	conn := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	w := &Writer{Conn: conn}

	tokens := []matcher.Token{
		{Data: []byte("hello"), Match: -1},
		{Match: 3},
		{Match: 4},
		{Data: []byte("world"), Match: -1},
		{Match: -1}, // terminator
	}
	for _, tok := range tokens {
		if err := w.WriteToken(tok); err != nil {
			t.Fatal(err)
		}
	}

	r := &Reader{Conn: conn}
	var got []matcher.Token
	for {
		tok, err := r.ReadToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, tok)
	}
	want := tokens[:len(tokens)-1]
	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i].Data, want[i].Data) || got[i].Match != want[i].Match {
			t.Errorf("token %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}
