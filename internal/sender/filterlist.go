package sender

import "github.com/deltasync/rsync/internal/rsyncwire"

// FilterList holds the exclusion/inclusion rules the generator side
// sends ahead of the file list (spec.md's --delete exclusion list;
// openrsync and this implementation always send an empty one, but the
// wire format must still be drained so framing stays in sync).
type FilterList struct {
	Filters []string
}

// RecvFilterList reads a length-prefixed string list terminated by a
// zero-length entry, as sent by the generator side before the file
// list.
func RecvFilterList(c *rsyncwire.Conn) (*FilterList, error) {
	var fl FilterList
	for {
		n, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		buf, err := c.ReadBuf(int(n))
		if err != nil {
			return nil, err
		}
		fl.Filters = append(fl.Filters, string(buf))
	}
	return &fl, nil
}

// SendFilterList writes fl in the same format RecvFilterList expects.
func SendFilterList(c *rsyncwire.Conn, fl *FilterList) error {
	for _, f := range fl.Filters {
		if err := c.WriteInt32(int32(len(f))); err != nil {
			return err
		}
		if err := c.WriteBuf([]byte(f)); err != nil {
			return err
		}
	}
	return c.WriteInt32(0)
}
