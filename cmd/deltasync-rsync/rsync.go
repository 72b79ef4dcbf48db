// Tool deltasync-rsync is an rsync-protocol-compatible client, server
// and standalone daemon implementation.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/deltasync/rsync/internal/maincmd"
	"github.com/deltasync/rsync/internal/rsyncerr"
	"github.com/deltasync/rsync/internal/rsyncos"
)

func main() {
	osenv := &rsyncos.Env{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	_, err := maincmd.Main(context.Background(), osenv, os.Args, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(rsyncerr.ExitCode(err))
}
