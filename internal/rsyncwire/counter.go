package rsyncwire

import "io"

// CountingReader wraps an io.Reader and tallies bytes read, feeding the
// "total bytes read" transfer statistic (spec.md §4.11, §8.2).
type CountingReader struct {
	R         io.Reader
	BytesRead int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.BytesRead += int64(n)
	return n, err
}

// CountingWriter wraps an io.Writer and tallies bytes written, feeding
// the "total bytes written" transfer statistic.
type CountingWriter struct {
	W            io.Writer
	BytesWritten int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.BytesWritten += int64(n)
	return n, err
}

// CounterPair wraps a reader and writer pair with byte counters and
// returns the counting reader/writer together with the underlying
// totals, mirroring the teacher's rsyncwire.CounterPair helper used by
// both the client and daemon entry points to produce the final
// TransferStats.
func CounterPair(r io.Reader, w io.Writer) (*CountingReader, *CountingWriter) {
	return &CountingReader{R: r}, &CountingWriter{W: w}
}
