// Package rsyncclient drives the client side of an rsync transfer over
// an already-established io.ReadWriter (a pipe to a remote --server
// process, however it was started), without any of the SSH/daemon
// connection-setup logic internal/maincmd wraps around it.
package rsyncclient

import (
	"context"
	"fmt"
	"io"

	"github.com/deltasync/rsync"
	"github.com/deltasync/rsync/internal/log"
	"github.com/deltasync/rsync/internal/receiver"
	"github.com/deltasync/rsync/internal/rsyncopts"
	"github.com/deltasync/rsync/internal/rsyncos"
	"github.com/deltasync/rsync/internal/rsyncwire"
	"github.com/deltasync/rsync/internal/sender"
)

// Client drives one transfer's worth of protocol exchange once
// connected to a remote --server process.
type Client struct {
	opts   *rsyncopts.Options
	sender bool
}

// Option customizes a Client returned by New.
type Option func(*Client)

// WithSender configures the client to act as the sender role (the
// remote --server process is then expected to run as the receiver).
// Without this option the client acts as the receiver, the common
// case for "pull" transfers.
func WithSender() Option {
	return func(c *Client) {
		c.sender = true
	}
}

// New parses args (the same flag surface rsync(1) accepts) and returns
// a Client ready to Run a transfer.
func New(args []string, opts ...Option) (*Client, error) {
	pc, err := rsyncopts.ParseArguments(&rsyncos.Env{}, args)
	if err != nil {
		return nil, err
	}
	c := &Client{opts: pc.Options}
	for _, opt := range opts {
		opt(c)
	}
	if c.sender {
		c.opts.SetSender()
	}
	return c, nil
}

// Run negotiates the protocol version and checksum seed with the
// remote --server process reachable via rw, then drives either the
// sender or the receiver role (per WithSender) to completion against
// paths.
func (c *Client) Run(ctx context.Context, rw io.ReadWriter, paths []string) error {
	_ = ctx // cancellation not yet wired into the blocking read/write calls below

	crd := &rsyncwire.CountingReader{R: rw}
	cwr := &rsyncwire.CountingWriter{W: rw}
	conn := &rsyncwire.Conn{
		Reader: crd,
		Writer: cwr,
	}

	if err := conn.WriteInt32(rsync.ProtocolVersion); err != nil {
		return err
	}
	if _, err := conn.ReadInt32(); err != nil {
		return fmt.Errorf("reading remote protocol version: %v", err)
	}

	seed, err := conn.ReadInt32()
	if err != nil {
		return fmt.Errorf("reading checksum seed: %v", err)
	}

	mrd := &rsyncwire.MultiplexReader{Reader: rw}
	conn.Reader = mrd

	logger := log.New(io.Discard)

	if c.opts.Sender() {
		if len(paths) != 1 {
			return fmt.Errorf("exactly one source path supported, got %q", paths)
		}
		st := sender.NewTransfer(logger, &sender.Opts{
			Verbose:       c.opts.Verbose(),
			CompressLevel: c.opts.CompressLevel(),
			Protocol:      c.opts.Protocol(),

			PreserveUID:       c.opts.PreserveUid(),
			PreserveGID:       c.opts.PreserveGid(),
			PreserveLinks:     c.opts.PreserveLinks(),
			PreserveDevices:   c.opts.PreserveDevices() || c.opts.PreserveSpecials(),
			PreserveHardlinks: c.opts.PreserveHardLinks(),
			AlwaysChecksum:    c.opts.AlwaysChecksum(),
		}, "", conn, uint32(seed))
		_, err := st.Do(paths)
		return err
	}

	if len(paths) != 1 {
		return fmt.Errorf("exactly one destination path supported, got %q", paths)
	}
	rt := receiver.NewTransfer(logger, &receiver.Opts{
		Verbose: c.opts.Verbose(),
		DryRun:  c.opts.DryRun(),

		PreservePerms:     c.opts.PreservePerms(),
		PreserveTimes:     c.opts.PreserveMTimes(),
		PreserveUID:       c.opts.PreserveUid(),
		PreserveGID:       c.opts.PreserveGid(),
		PreserveLinks:     c.opts.PreserveLinks(),
		PreserveDevices:   c.opts.PreserveDevices() || c.opts.PreserveSpecials(),
		PreserveHardlinks: c.opts.PreserveHardLinks(),

		WholeFile:      c.opts.WholeFile(),
		AlwaysChecksum: c.opts.AlwaysChecksum(),
		IgnoreExisting: c.opts.IgnoreExisting(),
		UpdateOnly:     c.opts.UpdateOnly(),
		Delete:         c.opts.DeleteMode(),

		BlockSize: c.opts.BlockSize(),
		BwLimit:   c.opts.BwLimitBytesPerSec(),

		CompareDest: c.opts.CompareDest(),
		CopyDest:    c.opts.CopyDest(),
		LinkDest:    c.opts.LinkDest(),
		Fuzzy:       c.opts.Fuzzy(),
		Append:      c.opts.Append(),

		TempDir: c.opts.TempDir(),
		Partial: c.opts.Partial(),

		CompressLevel: c.opts.CompressLevel(),
		Protocol:      c.opts.Protocol(),
	}, paths[0], conn, uint32(seed))

	const exclusionListEnd = 0
	if err := conn.WriteInt32(exclusionListEnd); err != nil {
		return err
	}

	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return err
	}
	_, err = rt.Do(fileList, false)
	return err
}
