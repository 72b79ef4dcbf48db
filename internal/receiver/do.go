package receiver

import (
	"context"
	"fmt"

	"github.com/deltasync/rsync/internal/flist"
	"github.com/deltasync/rsync/internal/rsyncerr"
	"github.com/deltasync/rsync/internal/rsyncstats"
	"golang.org/x/sync/errgroup"
)

// Do drives one complete transfer: the `--delete` pass (if requested,
// run before any file is transferred), then the generator and receiver roles running
// concurrently over the shared connection, then the end-of-transfer
// statistics exchange (rsync/main.c:do_recv, spec.md §5).
func (rt *Transfer) Do(fileList []*flist.File, noReport bool) (*rsyncstats.TransferStats, error) {
	if rt.Opts.Delete {
		if err := rt.deleteFiles(fileList); err != nil {
			return nil, err
		}
	}

	ctx := context.Background()
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return rt.GenerateFiles(fileList)
	})
	eg.Go(func() error {
		// Don't block forever on the receiver if the generator side
		// already failed and the context was cancelled.
		errChan := make(chan error, 1)
		go func() {
			errChan <- rt.RecvFiles(fileList)
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errChan:
			return err
		}
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	if !noReport {
		if err := rt.report(); err != nil {
			return nil, err
		}
	}

	if err := rt.Conn.WriteInt32(-1); err != nil {
		return nil, err
	}
	if rt.IOErrors.HasErrors() {
		return rt.Stats, rsyncerr.Wrap(rsyncerr.Partial, fmt.Errorf("completed with %d I/O error(s)", len(rt.IOErrors.Errors())))
	}
	return rt.Stats, nil
}

// report implements rsync/main.c:report: the sender side writes three
// totals (bytes read, bytes written, total file size) at the end of a
// transfer; this side reads them and folds them into the same
// TransferStats the matcher's local counters already populate.
func (rt *Transfer) report() error {
	read, err := rt.Conn.ReadInt64()
	if err != nil {
		return err
	}
	written, err := rt.Conn.ReadInt64()
	if err != nil {
		return err
	}
	size, err := rt.Conn.ReadInt64()
	if err != nil {
		return err
	}
	rt.Stats.TotalRead = read
	rt.Stats.TotalWritten = written
	rt.Stats.TotalSize = size
	if rt.Opts.Verbose {
		rt.Logger.Printf("server sent stats: read=%d, written=%d, size=%d", read, written, size)
	}
	return nil
}
