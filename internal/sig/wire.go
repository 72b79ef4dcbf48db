package sig

import "github.com/deltasync/rsync/internal/rsyncwire"

// WriteTable sends a signature table as a SumHead followed by one
// weak+strong pair per block (spec.md §3.3, §4.10 step 3d). An empty
// table (no blocks) is still a valid SumHead with count=0, which tells
// the sender to transfer the file as one literal run.
func WriteTable(c *rsyncwire.Conn, t *Table) error {
	remainder := lastBlockRemainder(t)
	if err := c.WriteSumHead(int32(len(t.Blocks)), t.BlockLength, t.ChecksumLength, remainder); err != nil {
		return err
	}
	for _, b := range t.Blocks {
		if err := c.WriteInt32(int32(b.Weak)); err != nil {
			return err
		}
		if err := c.WriteBuf(b.Strong); err != nil {
			return err
		}
	}
	return nil
}

// ReadTable reads a signature table written by WriteTable.
func ReadTable(c *rsyncwire.Conn) (*Table, error) {
	count, blockLen, checksumLen, remainder, err := c.ReadSumHead()
	if err != nil {
		return nil, err
	}
	t := &Table{BlockLength: blockLen, ChecksumLength: checksumLen}
	var offset int64
	for i := int32(0); i < count; i++ {
		weak, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		strong, err := c.ReadBuf(int(checksumLen))
		if err != nil {
			return nil, err
		}
		length := blockLen
		if i == count-1 && remainder != 0 {
			length = remainder
		}
		t.Blocks = append(t.Blocks, Block{
			Weak:   uint32(weak),
			Strong: strong,
			Offset: offset,
			Length: length,
			Index:  i,
		})
		offset += int64(length)
	}
	return t, nil
}

// lastBlockRemainder returns the length of the final block if it
// differs from the nominal block length, 0 otherwise (spec.md §3.3:
// remainder==0 means every block, including the last, is BlockLength
// bytes).
func lastBlockRemainder(t *Table) int32 {
	if len(t.Blocks) == 0 {
		return 0
	}
	last := t.Blocks[len(t.Blocks)-1]
	if last.Length != t.BlockLength {
		return last.Length
	}
	return 0
}
