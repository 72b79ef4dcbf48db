package rsyncwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/deltasync/rsync"
)

// MuxTag identifies the kind of payload a multiplexed frame carries
// (spec.md §4.2, §6.1); an alias for the root package's type so this
// package and its callers share one vocabulary for tags.
type MuxTag = rsync.MuxTag

const (
	MsgData  = rsync.MsgData
	MsgError = rsync.MsgError
	MsgInfo  = rsync.MsgInfo
	MsgLog   = rsync.MsgLog
)

// muxBase is the tag offset added to a frame's length word, mirroring
// rsync/io.c's MPLEX_BASE. Tag 0 (plain data) therefore appears on the
// wire as (7<<24)|length.
const muxBase = 7

// MultiplexWriter wraps an underlying io.Writer and frames every write
// as a 4-byte tagged length header followed by the payload
// (rsync/io.c:mplex_write, spec.md §4.2, §6.1). Writes of tag MsgData
// carry the application byte stream; other tags carry out-of-band
// diagnostics.
//
// Once a write to the underlying writer fails, multiplexing is
// disabled for the remainder of the connection's life and subsequent
// writes go through unframed: there is no peer left to speak the
// framing to, and retrying the framing on a broken pipe only produces
// more of the same error.
type MultiplexWriter struct {
	Writer io.Writer

	disabled bool
}

// WriteMsg writes one multiplexed frame with the given tag.
func (m *MultiplexWriter) WriteMsg(tag MuxTag, p []byte) error {
	if m.disabled {
		_, err := m.Writer.Write(p)
		return err
	}
	if len(p) > 0xFFFFFF {
		return fmt.Errorf("rsyncwire: multiplexed frame too large: %d bytes", len(p))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(p))|uint32(muxBase+tag)<<24)
	if _, err := m.Writer.Write(hdr[:]); err != nil {
		m.disabled = true
		return err
	}
	if len(p) == 0 {
		return nil
	}
	if _, err := m.Writer.Write(p); err != nil {
		m.disabled = true
		return err
	}
	return nil
}

// Write implements io.Writer by sending p as a single MsgData frame.
// Conn.Writer is typically a *MultiplexWriter so that application
// writes (file data, file list bytes, tokens) are automatically framed
// as tag MsgData.
func (m *MultiplexWriter) Write(p []byte) (int, error) {
	if err := m.WriteMsg(MsgData, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// MultiplexReader wraps an underlying io.Reader that produces
// multiplexed frames and presents only the MsgData payload bytes to
// its own Read callers; frames tagged MsgError/MsgInfo/MsgLog are
// routed to Logger instead of being handed to the caller
// (rsync/io.c:read_unbuffered, spec.md §4.2).
type MultiplexReader struct {
	Reader io.Reader
	Logger interface {
		Printf(format string, args ...any)
	}

	remaining int
	tag       MuxTag
}

func (m *MultiplexReader) fill() error {
	for m.remaining == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(m.Reader, hdr[:]); err != nil {
			return err
		}
		word := binary.LittleEndian.Uint32(hdr[:])
		length := int(word & 0xFFFFFF)
		tag := MuxTag(word>>24) - muxBase
		if tag == MsgData {
			m.remaining = length
			m.tag = tag
			if length == 0 {
				continue
			}
			return nil
		}
		payload := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(m.Reader, payload); err != nil {
				return err
			}
		}
		if m.Logger != nil {
			m.Logger.Printf("%s", payload)
		}
	}
	return nil
}

// Read implements io.Reader, transparently skipping and logging
// out-of-band frames until application data is available.
func (m *MultiplexReader) Read(p []byte) (int, error) {
	if m.remaining == 0 {
		if err := m.fill(); err != nil {
			return 0, err
		}
	}
	n := len(p)
	if n > m.remaining {
		n = m.remaining
	}
	read, err := io.ReadFull(m.Reader, p[:n])
	m.remaining -= read
	return read, err
}
