package receiver

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/deltasync/rsync"
	"github.com/deltasync/rsync/internal/checksum"
	"github.com/deltasync/rsync/internal/flist"
	"github.com/deltasync/rsync/internal/matcher"
	"github.com/deltasync/rsync/internal/rsyncerr"
	"github.com/deltasync/rsync/internal/token"
)

// RecvFiles is the receiver role's main loop (rsync/receiver.c:recv_files,
// spec.md §4.12): it reads a stream of file-list indices, reconstructs
// each file's content from the sender's token stream, and tracks phase
// transitions (the -1 sentinel) so failed verifications can be
// retried at full strong-checksum length on a second pass.
func (rt *Transfer) RecvFiles(fileList []*flist.File) error {
	phase := 0
	for {
		idx, err := rt.Conn.ReadInt32()
		if err != nil {
			return err
		}
		if idx == -1 {
			if phase == 0 {
				phase++
				if rt.Opts.Verbose {
					rt.Logger.Printf("recvFiles: entering phase %d, %d file(s) to redo", phase, len(rt.RedoList))
				}
				if len(rt.RedoList) == 0 {
					break
				}
				continue
			}
			break
		}
		if int(idx) < 0 || int(idx) >= len(fileList) {
			return fmt.Errorf("receiver: file index %d out of range", idx)
		}
		f := fileList[idx]
		if rt.Opts.Verbose {
			rt.Logger.Printf("receiving file idx=%d: %s", idx, f.Path())
		}
		if err := rt.recvFile1(f, int(idx), phase); err != nil {
			return err
		}
	}
	if rt.Opts.Verbose {
		rt.Logger.Printf("recvFiles finished")
	}
	return nil
}

func (rt *Transfer) recvFile1(f *flist.File, idx int, phase int) error {
	if f.IsDir() {
		return os.MkdirAll(rt.localPath(f), 0o755)
	}
	if rt.Opts.PreserveLinks && f.IsSymlink() {
		return symlinkAtomically(f.Link, rt.localPath(f))
	}
	if rt.Opts.DryRun {
		return nil
	}

	local := rt.localPath(f)
	localFile, err := os.Open(local)
	if err != nil && !os.IsNotExist(err) {
		rt.IOErrors.Record(err)
		rt.Logger.Printf("opening local basis file failed, continuing: %v", err)
	}
	if localFile != nil {
		defer localFile.Close()
	}

	ok, err := rt.receiveData(f, local, localFile)
	if err != nil {
		return err
	}
	if !ok && phase == 0 {
		rt.RedoList = append(rt.RedoList, int32(idx))
	}
	return nil
}

func (rt *Transfer) localPath(f *flist.File) string {
	if rt.Dest == "" {
		return f.Path()
	}
	return rt.Dest + "/" + f.Path()
}

// receiveData implements rsync/receiver.c:receive_data: read the
// per-file SumHead, stream the token response into a temp file while
// also feeding a seeded strong hash, then compare against the
// whole-file digest the sender appends. Returns ok=false (without
// error) when the digest fails to match, signalling a phase-1 redo.
func (rt *Transfer) receiveData(f *flist.File, local string, localFile *os.File) (ok bool, err error) {
	count, blockLen, checksumLen, remainder, err := rt.Conn.ReadSumHead()
	if err != nil {
		return false, err
	}

	out, err := newPendingFile(local)
	if err != nil {
		return false, err
	}
	defer out.Cleanup()

	h := checksum.NewStrongHash(rt.Seed)

	var tr *token.Reader
	var cr *token.CompressedReader
	compressed := rt.Opts.CompressLevel > 0
	if compressed {
		cr = token.NewCompressedReader(rt.Conn)
	} else {
		tr = &token.Reader{Conn: rt.Conn}
	}

	var literalBytes, matchedBytes int64
	for {
		var tok matcher.Token
		var rerr error
		if compressed {
			tok, rerr = cr.ReadToken()
		} else {
			tok, rerr = tr.ReadToken()
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return false, rerr
		}
		if tok.Data != nil {
			if _, err := out.Write(tok.Data); err != nil {
				return false, err
			}
			if _, err := h.Write(tok.Data); err != nil {
				return false, err
			}
			literalBytes += int64(len(tok.Data))
			continue
		}
		if tok.Match < 0 {
			continue
		}
		if localFile == nil {
			return false, fmt.Errorf("receiver: BUG: match token %d with no local basis file for %s", tok.Match, local)
		}
		length := blockLen
		if tok.Match == count-1 && remainder != 0 {
			length = remainder
		}
		buf := make([]byte, length)
		if _, err := localFile.ReadAt(buf, int64(tok.Match)*int64(blockLen)); err != nil {
			return false, err
		}
		if _, err := out.Write(buf); err != nil {
			return false, err
		}
		if _, err := h.Write(buf); err != nil {
			return false, err
		}
		matchedBytes += int64(length)
	}

	localSum := h.Sum()
	remoteSum, err := rt.Conn.ReadBuf(len(localSum))
	if err != nil {
		return false, err
	}
	if !bytes.Equal(localSum, remoteSum) {
		if checksumLen >= rsync.StrongSumLength {
			// Already at full strength: rsync/receiver.c's
			// csum_length == SUM_LENGTH branch treats this as fatal
			// data corruption rather than something a redo pass can
			// fix.
			ioErr := fmt.Errorf("%s: checksum mismatch at full digest length", f.Path())
			rt.IOErrors.Record(ioErr)
			return false, rsyncerr.Wrap(rsyncerr.Partial, ioErr)
		}
		rt.Logger.Printf("checksum mismatch for %s, will redo at full strength", f.Path())
		return false, nil
	}

	if err := out.CloseAtomicallyReplace(); err != nil {
		return false, err
	}
	if err := rt.setPerms(f, local); err != nil {
		return false, err
	}

	rt.Stats.Add(literalBytes, matchedBytes, 0, 0)
	rt.Stats.TotalSize += f.Length
	return true, nil
}

// fileDigestEquals reports whether the whole-file digest of the file
// at path, seeded the same way as the wire digest, equals want
// (spec.md §4.10 step 3c's always-checksum same-already test).
func fileDigestEquals(path string, want []byte, seed uint32) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	h := checksum.NewStrongHash(seed)
	if _, err := io.Copy(h, f); err != nil {
		return false
	}
	got := h.Sum()
	if len(got) != len(want) {
		return false
	}
	return bytes.Equal(got, want)
}

func (rt *Transfer) setPerms(f *flist.File, local string) error {
	if rt.Opts.PreserveTimes {
		mtime := time.Unix(f.Mtime, 0)
		if err := os.Chtimes(local, mtime, mtime); err != nil {
			return err
		}
	}
	if err := rt.setOwnership(f, local); err != nil {
		return err
	}
	if !rt.Opts.PreservePerms {
		return nil
	}
	return os.Chmod(local, os.FileMode(f.Mode&0o7777))
}
