// Package rsyncwire implements the byte-stream primitives of the
// delta-transfer protocol: little-endian integer framing, buffered
// writes with explicit flush points, and the multiplexed out-of-band
// diagnostic channel layered on top of the application stream.
//
// rsync/io.c is the reference this package is grounded on: read_int,
// write_int, read_longint, write_longint, read_buf, read_line and the
// io_timeout/multiplexing machinery all have a direct counterpart here.
package rsyncwire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Conn bundles the read and write halves of one peer connection. Reader
// must ultimately be backed by a *MultiplexReader when communicating with
// a peer that multiplexes (i.e. whenever we are the connection's client
// side), and Writer must be backed by a *MultiplexWriter whenever we are
// the server-sending side (spec.md §4.2).
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

// ReadByte reads a single byte (rsync/io.c:read_byte).
func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteByte writes a single byte (rsync/io.c:write_byte).
func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

// ReadInt32 reads a little-endian 4-byte signed integer
// (rsync/io.c:read_int).
func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteInt32 writes a little-endian 4-byte signed integer
// (rsync/io.c:write_int).
func (c *Conn) WriteInt32(v int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadInt64 reads a variable-width signed integer: a plain 4-byte int if
// it fits a non-negative 32-bit range, else a sentinel 0xFFFFFFFF
// followed by 8 bytes little-endian (rsync/io.c:read_longint, spec.md
// §4.1).
func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

// WriteInt64 writes using the same variable-width encoding as ReadInt64
// (rsync/io.c:write_longint).
func (c *Conn) WriteInt64(v int64) error {
	if v >= 0 && v <= 0x7FFFFFFF {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	_, err := c.Writer.Write(buf[:])
	return err
}

// ReadBuf reads exactly n raw bytes (rsync/io.c:read_buf).
func (c *Conn) ReadBuf(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBuf writes raw bytes verbatim (rsync/io.c:write_buf).
func (c *Conn) WriteBuf(p []byte) error {
	_, err := c.Writer.Write(p)
	return err
}

// WriteString writes a string's bytes verbatim.
func (c *Conn) WriteString(s string) error {
	_, err := io.WriteString(c.Writer, s)
	return err
}

// Printf formats a message and writes it, truncating at 1 KiB
// (rsync/io.c:io_printf).
func (c *Conn) Printf(format string, args ...any) error {
	s := fmt.Sprintf(format, args...)
	const maxLen = 1024
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return c.WriteString(s)
}

// ReadLine reads bytes up to and including '\n'; any '\r' immediately
// preceding it is dropped. Returns an error on EOF before a newline is
// seen (rsync/io.c:read_line, spec.md §4.1).
func ReadLine(r *bufio.Reader, max int) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = line[:len(line)-1] // drop '\n'
	line = trimTrailingCR(line)
	if max > 0 && len(line) > max {
		line = line[:max]
	}
	return line, nil
}

func trimTrailingCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// ReadSumHead reads the per-file block-signature header (§3.3, §4.10).
func (c *Conn) ReadSumHead() (count, blockLen, checksumLen, remainder int32, err error) {
	if count, err = c.ReadInt32(); err != nil {
		return
	}
	if blockLen, err = c.ReadInt32(); err != nil {
		return
	}
	if checksumLen, err = c.ReadInt32(); err != nil {
		return
	}
	remainder, err = c.ReadInt32()
	return
}

// WriteSumHead writes the per-file block-signature header.
func (c *Conn) WriteSumHead(count, blockLen, checksumLen, remainder int32) error {
	for _, v := range []int32{count, blockLen, checksumLen, remainder} {
		if err := c.WriteInt32(v); err != nil {
			return err
		}
	}
	return nil
}
