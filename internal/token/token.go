// Package token implements the wire encoding of the sender's token
// stream: literal runs and block-match references interleaved and
// terminated by a zero word (spec.md §4.6, §4.7). Grounded on
// rsync/token.c's send_token/recv_token.
package token

import (
	"fmt"
	"io"

	"github.com/deltasync/rsync/internal/matcher"
	"github.com/deltasync/rsync/internal/rsyncwire"
)

// Writer serializes matcher.Token values onto a Conn using the
// uncompressed framing of spec.md §4.6: a literal is a positive u32
// length followed by that many bytes; a match is a negative u32 whose
// value decodes to -(index+1); the terminator is a bare zero. A
// synthetic literal-only token (matcher.Token.LiteralOnly) writes only
// its length+bytes (possibly a zero-length literal) with no match word
// following, matching the "-2 sentinel" semantics described in the
// spec without needing a literal sentinel value on this wire framing.
type Writer struct {
	Conn *rsyncwire.Conn
}

// WriteToken writes one token.
func (w *Writer) WriteToken(tok matcher.Token) error {
	if len(tok.Data) > 0 {
		if err := w.Conn.WriteInt32(int32(len(tok.Data))); err != nil {
			return err
		}
		if err := w.Conn.WriteBuf(tok.Data); err != nil {
			return err
		}
	}
	if tok.LiteralOnly {
		return nil
	}
	if tok.Match < 0 {
		return w.Conn.WriteInt32(0) // terminator
	}
	return w.Conn.WriteInt32(-(tok.Match + 1))
}

// Reader deserializes a token stream read from Conn. ReadToken returns
// io.EOF once the terminator has been consumed.
type Reader struct {
	Conn *rsyncwire.Conn
}

// ReadToken reads one literal or match token. A returned Token with
// Data set and Match == -1 (without LiteralOnly) means "more tokens
// follow"; callers distinguish the true terminator by the returned
// io.EOF.
func (r *Reader) ReadToken() (matcher.Token, error) {
	length, err := r.Conn.ReadInt32()
	if err != nil {
		return matcher.Token{}, err
	}
	if length == 0 {
		return matcher.Token{}, io.EOF
	}
	if length > 0 {
		data, err := r.Conn.ReadBuf(int(length))
		if err != nil {
			return matcher.Token{}, err
		}
		return matcher.Token{Data: data, Match: -1}, nil
	}
	if length < 0 {
		idx := -(length + 1)
		return matcher.Token{Match: idx}, nil
	}
	return matcher.Token{}, fmt.Errorf("token: unexpected token value %d", length)
}
