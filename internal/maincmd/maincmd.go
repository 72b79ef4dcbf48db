// Package maincmd implements a subset of the '$ rsync' CLI surface, namely that it can:
//   - serve as a server daemon over TCP
//   - serve the --server calling convention over stdin/stdout (invoked by a remote shell)
//   - act as "client" CLI for connecting to a remote --server process
package maincmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"

	"github.com/deltasync/rsync/internal/restrict"
	"github.com/deltasync/rsync/internal/rsyncdconfig"
	"github.com/deltasync/rsync/internal/rsyncopts"
	"github.com/deltasync/rsync/internal/rsyncos"
	"github.com/deltasync/rsync/internal/rsyncstats"
	"github.com/deltasync/rsync/internal/version"
	"github.com/deltasync/rsync/rsyncd"

	// For profiling and debugging
	_ "net/http/pprof"
)

func printVersion(osenv *rsyncos.Env) {
	osenv.Logf("%s, pid %d", version.Read(), os.Getpid())
}

type readWriter struct {
	r io.Reader
	w io.Writer
}

func (r *readWriter) Read(p []byte) (n int, err error)  { return r.r.Read(p) }
func (r *readWriter) Write(p []byte) (n int, err error) { return r.w.Write(p) }

// pipeAddr satisfies net.Addr for connections that don't have one (a
// remote-shell session's stdin/stdout pair), so the ACL/logging code
// that expects a net.Addr has something to print.
type pipeAddr string

func (p pipeAddr) Network() string { return "pipe" }
func (p pipeAddr) String() string  { return string(p) }

// Main is the entry point shared by every calling convention: local
// client, remote-shell --server, and --daemon (standalone TCP
// listener, or invoked once per connection by a remote shell).
func Main(ctx context.Context, osenv *rsyncos.Env, args []string, cfg *rsyncdconfig.Config) (*rsyncstats.TransferStats, error) {
	pc, err := rsyncopts.ParseArguments(osenv, args[1:])
	if err != nil {
		if pe, ok := err.(*rsyncopts.PoptError); ok &&
			pe.Errno == rsyncopts.POPT_ERROR_BADOPT &&
			strings.HasPrefix(pe.Option, "--ext.") {
			return nil, fmt.Errorf("%v (you need to specify --daemon before flags starting with --ext are available)", pe)
		}
		return nil, err
	}
	opts := pc.Options
	remaining := pc.RemainingArgs

	// calling convention: daemon mode over remote shell stdin/stdout
	// Example: --server --daemon .
	if opts.Daemon() && opts.Server() {
		if cfg == nil {
			cfg, _, err = rsyncdconfig.FromDefaultFiles()
			if err != nil {
				return nil, err
			}
		}
		srv, err := rsyncd.NewServer(cfg.Modules, rsyncd.WithStderr(osenv.Stderr))
		if err != nil {
			return nil, err
		}
		conn := &readWriter{r: osenv.Stdin, w: osenv.Stdout}
		return nil, srv.HandleDaemonConn(ctx, *osenv, conn, pipeAddr("<remote-shell-daemon>"))
	}

	// calling convention: command mode (over remote shell or locally)
	// Example: --server --sender -vvvvlogDtpre.iLsfxCIvu . .
	if opts.Server() {
		srv, err := rsyncd.NewServer(nil, rsyncd.WithStderr(osenv.Stderr))
		if err != nil {
			return nil, err
		}

		if len(remaining) < 2 {
			return nil, fmt.Errorf("invalid args: at least one directory required")
		}
		if got, want := remaining[0], "."; got != want {
			return nil, fmt.Errorf("protocol error: got %q, expected %q", got, want)
		}
		paths := remaining[1:]
		if opts.Verbose() {
			osenv.Logf("paths: %q", paths)
		}
		var roDirs, rwDirs []string
		if opts.Sender() {
			roDirs = append(roDirs, paths...)
		} else {
			for _, path := range paths {
				if err := os.MkdirAll(path, 0755); err != nil {
					return nil, err
				}
			}
			rwDirs = append(rwDirs, paths...)
		}
		if osenv.Restrict() {
			if err := restrict.MaybeFileSystem(roDirs, rwDirs); err != nil {
				return nil, err
			}
		}
		conn := srv.NewConnection(osenv.Stdin, osenv.Stdout)
		return nil, srv.HandleConn(nil, conn, paths, opts, false)
	}

	if !opts.Daemon() {
		if !osenv.DontRestrict {
			osenv.DontRestrict = opts.ExtraClient.DontRestrict == 1
		}
		return clientMain(ctx, args, *osenv)
	}

	// daemon_main(): start a standalone TCP daemon.
	var cfgfn string
	var cfgErr error
	if cfg == nil {
		if opts.ExtraDaemon.Config != "" {
			cfgfn = opts.ExtraDaemon.Config
			cfg, cfgErr = rsyncdconfig.FromFile(cfgfn)
		} else {
			cfg, cfgfn, cfgErr = rsyncdconfig.FromDefaultFiles()
		}
		if cfgErr != nil {
			if os.IsNotExist(cfgErr) {
				osenv.Logf("config file not found, relying on flags")
				cfg = &rsyncdconfig.Config{
					Listeners: []rsyncdconfig.Listener{
						{Rsyncd: opts.ExtraDaemon.Listen},
					},
					Modules: []rsyncd.Module{},
				}
			} else {
				return nil, cfgErr
			}
		} else {
			osenv.Logf("config file %s loaded", cfgfn)
		}
	}

	if os.IsNotExist(cfgErr) {
		if opts.ExtraDaemon.Listen == "" {
			return nil, fmt.Errorf("-ext.listen not specified, and config file not found: %v", cfgErr)
		}
		if opts.ExtraDaemon.ModuleMap == "" {
			opts.ExtraDaemon.ModuleMap = "nonex=/nonexistant/path"
		}
	} else if len(cfg.Listeners) == 0 || cfg.Listeners[0].Rsyncd == "" {
		return nil, fmt.Errorf("no rsyncd listener configured, add a [[listener]] to %s", cfgfn)
	}

	if len(cfg.Listeners) != 1 || cfg.Listeners[0].Rsyncd == "" {
		return nil, fmt.Errorf("not precisely 1 rsyncd listener specified")
	}
	listenAddr := cfg.Listeners[0].Rsyncd

	if moduleMap := opts.ExtraDaemon.ModuleMap; moduleMap != "" {
		parts := strings.Split(moduleMap, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed -ext.modulemap parameter %q, expected <modulename>=<path>", moduleMap)
		}
		cfg.Modules = append(cfg.Modules, rsyncd.Module{
			Name: parts[0],
			Path: parts[1],
		})
	}

	printVersion(osenv)
	osenv.Logf("%d rsync modules configured in total", len(cfg.Modules))
	for _, mod := range cfg.Modules {
		if !cfg.DontNamespace && !mod.Writable {
			osenv.Logf("rsync module %q with path %s configured (read-only)", mod.Name, mod.Path)
		} else {
			osenv.Logf("rsync module %q with path %s configured", mod.Name, mod.Path)
		}
	}

	if monitoringListen := opts.ExtraDaemon.MonitoringListen; monitoringListen != "" {
		go func() {
			osenv.Logf("HTTP server for monitoring listening on http://%s/debug/pprof", monitoringListen)
			if err := http.ListenAndServe(monitoringListen, nil); err != nil {
				osenv.Logf("-ext.monitoring_listen: %v", err)
			}
		}()
	}

	srv, err := rsyncd.NewServer(cfg.Modules, rsyncd.WithStderr(osenv.Stderr))
	if err != nil {
		return nil, err
	}
	var ln net.Listener
	ln, err = net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	if err := dropPrivileges(osenv); err != nil {
		return nil, err
	}

	osenv.Logf("rsync daemon listening on rsync://%s", ln.Addr())
	return nil, srv.Serve(ctx, ln)
}
