// Package sender implements the sender role of a transfer (spec.md
// §4.11): for each index the generator requests, map the source file,
// receive its signature table, and emit the resulting token stream
// back to the receiver. Grounded on spec.md directly — the retrieved
// teacher pack doesn't carry a sender.go, so this package follows the
// same Conn/Logger/Opts shape internal/receiver establishes for the
// other two roles.
package sender

import (
	"fmt"
	"os"

	"github.com/deltasync/rsync"
	"github.com/deltasync/rsync/internal/checksum"
	"github.com/deltasync/rsync/internal/flist"
	"github.com/deltasync/rsync/internal/mapfile"
	"github.com/deltasync/rsync/internal/matcher"
	"github.com/deltasync/rsync/internal/rsyncerr"
	"github.com/deltasync/rsync/internal/rsyncstats"
	"github.com/deltasync/rsync/internal/rsyncwire"
	"github.com/deltasync/rsync/internal/sig"
	"github.com/deltasync/rsync/internal/token"
)

// Logger is the minimal logging interface this package depends on.
type Logger interface {
	Printf(format string, args ...any)
}

// Opts carries the subset of the flag surface that affects sender
// behavior.
type Opts struct {
	Verbose       bool
	CompressLevel int
	Protocol      int

	PreserveUID       bool
	PreserveGID       bool
	PreserveLinks     bool
	PreserveDevices   bool
	PreserveHardlinks bool
	AlwaysChecksum    bool
}

// Transfer holds the state for one connection's sender role.
type Transfer struct {
	Logger Logger
	Opts   *Opts
	Root   string // source tree root file paths are resolved against
	Conn   *rsyncwire.Conn
	Seed   uint32

	Stats    *rsyncstats.TransferStats
	IOErrors *rsyncerr.IOErrorTracker
}

// NewTransfer constructs a Transfer ready to drive the sender side of
// one connection.
func NewTransfer(logger Logger, opts *Opts, root string, conn *rsyncwire.Conn, seed uint32) *Transfer {
	return &Transfer{
		Logger:   logger,
		Opts:     opts,
		Root:     root,
		Conn:     conn,
		Seed:     seed,
		Stats:    &rsyncstats.TransferStats{},
		IOErrors: &rsyncerr.IOErrorTracker{},
	}
}

// Do builds the file list rooted at paths, sends it to the generator
// side, then drives the sender role's main loop (rsync/sender.c's
// send_file_list followed by send_files, spec.md §4.11) until the
// generator signals it is done requesting files.
func (st *Transfer) Do(paths []string) (*rsyncstats.TransferStats, error) {
	fileList, err := st.BuildFileList(paths)
	if err != nil {
		return nil, err
	}
	if st.Opts.Verbose {
		st.Logger.Printf("sender: sending %d file list entries", len(fileList))
	}
	if err := st.SendFileList(fileList); err != nil {
		return nil, err
	}
	if err := st.DoFileList(fileList); err != nil {
		return nil, err
	}
	if st.IOErrors.HasErrors() {
		return st.Stats, rsyncerr.Wrap(rsyncerr.Partial, fmt.Errorf("completed with %d I/O error(s)", len(st.IOErrors.Errors())))
	}
	return st.Stats, nil
}

// SendFileList writes fileList to the wire using the same incremental
// codec the generator/receiver side decodes with.
func (st *Transfer) SendFileList(fileList []*flist.File) error {
	enc := &flist.Encoder{
		Conn:              st.Conn,
		PreserveUID:       st.Opts.PreserveUID,
		PreserveGID:       st.Opts.PreserveGID,
		PreserveLinks:     st.Opts.PreserveLinks,
		PreserveDevices:   st.Opts.PreserveDevices,
		PreserveHardlinks: st.Opts.PreserveHardlinks,
		Protocol:          st.Opts.Protocol,
		ChecksumLen:       checksumLenIf(st.Opts.AlwaysChecksum, st.Opts.Protocol),
	}
	for _, f := range fileList {
		if err := enc.WriteFile(f); err != nil {
			return err
		}
	}
	if err := enc.WriteTerminator(); err != nil {
		return err
	}
	if st.Opts.Protocol >= 15 {
		// uid/gid name tables: empty, since this implementation maps by
		// numeric id only (matches internal/receiver's skipIDNameTable).
		if err := st.Conn.WriteInt32(0); err != nil {
			return err
		}
		if err := st.Conn.WriteInt32(0); err != nil {
			return err
		}
	}
	if st.Opts.Protocol >= rsync.MinProtocolIOErrorEnd {
		if err := st.Conn.WriteInt32(int32(st.IOErrors.Bit())); err != nil {
			return err
		}
	}
	return nil
}

// DoFileList is the sender role's main loop (rsync/sender.c:send_files,
// spec.md §4.11) given an already-agreed file list; used directly by
// tests and callers that already have the list both sides share.
func (st *Transfer) DoFileList(fileList []*flist.File) error {
	phase := 0
	checksumLen := int32(rsync.ShortStrongSumLength) // promoted to full length on the phase-1 redo pass

	for {
		idx, err := st.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			if phase == 0 && st.Opts.Protocol >= rsync.MinProtocolPhase2Sentinel {
				checksumLen = rsync.StrongSumLength
				phase = 1
				if err := st.Conn.WriteInt32(-1); err != nil {
					return err
				}
				continue
			}
			break
		}
		if int(idx) < 0 || int(idx) >= len(fileList) {
			return fmt.Errorf("sender: file index %d out of range", idx)
		}
		if err := st.sendFile1(fileList[idx], idx, checksumLen); err != nil {
			return err
		}
	}

	return st.writeStatsReport()
}

func (st *Transfer) sendFile1(f *flist.File, idx int32, checksumLen int32) error {
	path := f.Path()
	if st.Root != "" {
		path = st.Root + "/" + path
	}

	file, err := os.Open(path)
	if err != nil {
		st.IOErrors.Record(err)
		st.Logger.Printf("sender: opening %s failed, skipping: %v", path, err)
		// The generator still expects a signature table to be read
		// even for a file we can't open; the receiver will see a
		// checksum mismatch and this file ends up on the redo list.
	}

	table, terr := sig.ReadTable(st.Conn)
	if terr != nil {
		if file != nil {
			file.Close()
		}
		return terr
	}
	if file == nil {
		return st.sendError(idx)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	if err := st.Conn.WriteInt32(idx); err != nil {
		return err
	}

	blockLen := table.BlockLength
	if blockLen <= 0 {
		blockLen = rsync.DefaultBlockLength
	}
	remainder := int32(0)
	if len(table.Blocks) > 0 {
		last := table.Blocks[len(table.Blocks)-1]
		if last.Length != blockLen {
			remainder = last.Length
		}
	}
	if err := st.Conn.WriteSumHead(int32(len(table.Blocks)), blockLen, checksumLen, remainder); err != nil {
		return err
	}

	window := mapfile.New(file, info.Size())
	search := sig.NewSearch(table)

	var writer interface {
		WriteToken(matcher.Token) error
	}
	if st.Opts.CompressLevel > 0 {
		writer = token.NewCompressedWriter(st.Conn)
	} else {
		writer = &token.Writer{Conn: st.Conn}
	}

	src, err := window.Ptr(0, int(info.Size()))
	if err != nil {
		return err
	}
	statsOut, err := matcher.Search(src, search, st.Seed, func(tok matcher.Token) error {
		return writer.WriteToken(tok)
	})
	if err != nil {
		return err
	}

	sum := checksum.Strong(src, st.Seed, rsync.StrongSumLength)
	if err := st.Conn.WriteBuf(sum); err != nil {
		return err
	}

	st.Stats.Add(statsOut.LiteralBytes, statsOut.MatchedBytes, statsOut.Matches, statsOut.FalseAlarms)
	st.Stats.TotalSize += info.Size()
	return nil
}

// sendError handles a source file that failed to open: the receiver
// still needs a complete token stream, so an empty one (an immediate
// terminator) plus a zero digest is sent, relying on the digest
// mismatch to queue a phase-1 redo rather than corrupting the
// destination silently.
func (st *Transfer) sendError(idx int32) error {
	if err := st.Conn.WriteInt32(idx); err != nil {
		return err
	}
	if err := st.Conn.WriteSumHead(0, rsync.DefaultBlockLength, rsync.StrongSumLength, 0); err != nil {
		return err
	}
	tw := &token.Writer{Conn: st.Conn}
	if err := tw.WriteToken(matcher.Token{Match: -1}); err != nil {
		return err
	}
	return st.Conn.WriteBuf(make([]byte, rsync.StrongSumLength))
}

func checksumLenIf(always bool, protocol int) int {
	if !always {
		return 0
	}
	if protocol >= 21 {
		return 16
	}
	return 2
}

func (st *Transfer) writeStatsReport() error {
	if err := st.Conn.WriteInt64(st.Stats.TotalRead); err != nil {
		return err
	}
	if err := st.Conn.WriteInt64(st.Stats.TotalWritten); err != nil {
		return err
	}
	if err := st.Conn.WriteInt64(st.Stats.TotalSize); err != nil {
		return err
	}
	if st.Opts.Verbose {
		st.Logger.Printf("sent stats: literal=%d matched=%d matches=%d false-alarms=%d",
			st.Stats.LiteralData, st.Stats.MatchedData, st.Stats.Matches, st.Stats.FalseAlarms)
	}
	return nil
}
