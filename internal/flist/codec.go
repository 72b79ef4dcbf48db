package flist

import (
	"fmt"

	"github.com/deltasync/rsync"
	"github.com/deltasync/rsync/internal/rsyncwire"
)

// encodeState is the sender-side "last entry" state the incremental
// encoding diffs against (spec.md §4.9).
type encodeState struct {
	name  string
	mode  uint32
	rdev  uint32
	uid   int32
	gid   int32
	mtime int64
	have  bool
}

// Encoder writes a List's entries in the incremental wire format.
type Encoder struct {
	Conn           *rsyncwire.Conn
	PreserveUID    bool
	PreserveGID    bool
	PreserveLinks  bool
	PreserveDevices bool
	PreserveHardlinks bool
	Protocol       int
	ChecksumLen    int // 0 if always-checksum mode is off

	state encodeState
}

// WriteFile writes one entry, updating the diff state for the next
// call.
func (e *Encoder) WriteFile(f *File) error {
	name := f.Path()
	prev := e.state

	l1 := 0
	if prev.have {
		l1 = commonPrefixLen(prev.name, name)
	}
	l2 := len(name) - l1

	var flags uint32
	sameMode := prev.have && prev.mode == f.Mode
	sameRdev := prev.have && prev.rdev == f.Rdev
	sameUID := prev.have && prev.uid == f.UID
	sameGID := prev.have && prev.gid == f.GID
	sameTime := prev.have && prev.mtime == f.Mtime
	sameName := l1 > 0
	longName := l2 > 255

	if sameMode {
		flags |= rsync.FlagSameMode
	}
	if sameRdev {
		flags |= rsync.FlagSameRdev
	}
	if sameUID {
		flags |= rsync.FlagSameUID
	}
	if sameGID {
		flags |= rsync.FlagSameGID
	}
	if sameTime {
		flags |= rsync.FlagSameTime
	}
	if sameName {
		flags |= rsync.FlagSameName
	}
	if longName {
		flags |= rsync.FlagLongName
	}

	if flags == 0 && !f.IsDir() {
		flags |= rsync.FlagDelete
	}
	if flags == 0 {
		flags |= rsync.FlagLongName
	}

	if flags > 0xFF {
		return fmt.Errorf("flist: flags overflow a byte: %#x", flags)
	}
	if err := e.Conn.WriteByte(byte(flags)); err != nil {
		return err
	}

	if sameName {
		if err := e.Conn.WriteByte(byte(l1)); err != nil {
			return err
		}
	}
	if flags&rsync.FlagLongName != 0 {
		if err := e.Conn.WriteInt32(int32(l2)); err != nil {
			return err
		}
	} else {
		if err := e.Conn.WriteByte(byte(l2)); err != nil {
			return err
		}
	}
	if err := e.Conn.WriteBuf([]byte(name[l1:])); err != nil {
		return err
	}

	if err := e.Conn.WriteInt64(f.Length); err != nil {
		return err
	}
	if flags&rsync.FlagSameTime == 0 {
		if err := e.Conn.WriteInt32(int32(f.Mtime)); err != nil {
			return err
		}
	}
	if flags&rsync.FlagSameMode == 0 {
		if err := e.Conn.WriteInt32(int32(f.Mode)); err != nil {
			return err
		}
	}
	if e.PreserveUID && flags&rsync.FlagSameUID == 0 {
		if err := e.Conn.WriteInt32(f.UID); err != nil {
			return err
		}
	}
	if e.PreserveGID && flags&rsync.FlagSameGID == 0 {
		if err := e.Conn.WriteInt32(f.GID); err != nil {
			return err
		}
	}
	if e.PreserveDevices && f.IsDevice() && flags&rsync.FlagSameRdev == 0 {
		if err := e.Conn.WriteInt32(int32(f.Rdev)); err != nil {
			return err
		}
	}
	if e.PreserveLinks && f.IsSymlink() {
		if err := e.Conn.WriteInt32(int32(len(f.Link))); err != nil {
			return err
		}
		if err := e.Conn.WriteBuf([]byte(f.Link)); err != nil {
			return err
		}
	}
	if e.PreserveHardlinks && f.Mode&sTIFMT == 0 {
		if e.Protocol >= rsync.MinProtocol64BitInode {
			if err := e.Conn.WriteInt64(f.Dev); err != nil {
				return err
			}
			if err := e.Conn.WriteInt64(f.Inode); err != nil {
				return err
			}
		} else {
			if err := e.Conn.WriteInt32(int32(f.Dev)); err != nil {
				return err
			}
			if err := e.Conn.WriteInt32(int32(f.Inode)); err != nil {
				return err
			}
		}
	}
	if e.ChecksumLen > 0 {
		if err := e.Conn.WriteBuf(f.Sum[:e.ChecksumLen]); err != nil {
			return err
		}
	}

	e.state = encodeState{
		name: name, mode: f.Mode, rdev: f.Rdev,
		uid: f.UID, gid: f.GID, mtime: f.Mtime, have: true,
	}
	return nil
}

// WriteTerminator writes the zero-flags byte that ends the file list.
func (e *Encoder) WriteTerminator() error {
	return e.Conn.WriteByte(0)
}

// Decoder reads a List's entries in the incremental wire format.
type Decoder struct {
	Conn              *rsyncwire.Conn
	PreserveUID       bool
	PreserveGID       bool
	PreserveLinks     bool
	PreserveDevices   bool
	PreserveHardlinks bool
	Protocol          int
	ChecksumLen       int

	state encodeState
}

// ReadFile reads one entry. A flags byte of 0 signals the list
// terminator; ReadFile returns (nil, nil) in that case.
func (d *Decoder) ReadFile() (*File, error) {
	flagByte, err := d.Conn.ReadByte()
	if err != nil {
		return nil, err
	}
	if flagByte == 0 {
		return nil, nil
	}
	flags := uint32(flagByte)

	var l1 int
	if flags&rsync.FlagSameName != 0 {
		b, err := d.Conn.ReadByte()
		if err != nil {
			return nil, err
		}
		l1 = int(b)
	}
	var l2 int
	if flags&rsync.FlagLongName != 0 {
		n, err := d.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		l2 = int(n)
	} else {
		b, err := d.Conn.ReadByte()
		if err != nil {
			return nil, err
		}
		l2 = int(b)
	}
	suffix, err := d.Conn.ReadBuf(l2)
	if err != nil {
		return nil, err
	}
	var name string
	if l1 > 0 {
		name = d.state.name[:l1] + string(suffix)
	} else {
		name = string(suffix)
	}

	f := &File{}
	f.Dirname, f.Basename = splitPath(name)

	if f.Length, err = d.Conn.ReadInt64(); err != nil {
		return nil, err
	}
	if flags&rsync.FlagSameTime != 0 {
		f.Mtime = d.state.mtime
	} else {
		v, err := d.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		f.Mtime = int64(v)
	}
	if flags&rsync.FlagSameMode != 0 {
		f.Mode = d.state.mode
	} else {
		v, err := d.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		f.Mode = uint32(v)
	}
	if d.PreserveUID {
		if flags&rsync.FlagSameUID != 0 {
			f.UID = d.state.uid
		} else if f.UID, err = d.Conn.ReadInt32(); err != nil {
			return nil, err
		}
	}
	if d.PreserveGID {
		if flags&rsync.FlagSameGID != 0 {
			f.GID = d.state.gid
		} else if f.GID, err = d.Conn.ReadInt32(); err != nil {
			return nil, err
		}
	}
	if d.PreserveDevices && f.IsDevice() {
		if flags&rsync.FlagSameRdev != 0 {
			f.Rdev = d.state.rdev
		} else {
			v, err := d.Conn.ReadInt32()
			if err != nil {
				return nil, err
			}
			f.Rdev = uint32(v)
		}
	}
	if d.PreserveLinks && f.IsSymlink() {
		n, err := d.Conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		link, err := d.Conn.ReadBuf(int(n))
		if err != nil {
			return nil, err
		}
		f.Link = string(link)
	}
	if d.PreserveHardlinks && f.Mode&sTIFMT == 0 {
		if d.Protocol >= rsync.MinProtocol64BitInode {
			if f.Dev, err = d.Conn.ReadInt64(); err != nil {
				return nil, err
			}
			if f.Inode, err = d.Conn.ReadInt64(); err != nil {
				return nil, err
			}
		} else {
			dev, err := d.Conn.ReadInt32()
			if err != nil {
				return nil, err
			}
			inode, err := d.Conn.ReadInt32()
			if err != nil {
				return nil, err
			}
			f.Dev, f.Inode = int64(dev), int64(inode)
		}
	}
	if d.ChecksumLen > 0 {
		sum, err := d.Conn.ReadBuf(d.ChecksumLen)
		if err != nil {
			return nil, err
		}
		f.Sum = sum
	}

	d.state = encodeState{
		name: name, mode: f.Mode, rdev: f.Rdev,
		uid: f.UID, gid: f.GID, mtime: f.Mtime, have: true,
	}
	return f, nil
}

func splitPath(full string) (dirname, basename string) {
	idx := -1
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '/' {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", full
	}
	return full[:idx], full[idx+1:]
}
