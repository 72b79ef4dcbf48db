package maincmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/deltasync/rsync"
	"github.com/deltasync/rsync/internal/log"
	"github.com/deltasync/rsync/internal/receiver"
	"github.com/deltasync/rsync/internal/rsyncopts"
	"github.com/deltasync/rsync/internal/rsyncos"
	"github.com/deltasync/rsync/internal/rsyncstats"
	"github.com/deltasync/rsync/internal/rsyncwire"
	"github.com/deltasync/rsync/internal/sender"
	"github.com/google/shlex"
)

// errNoHostspec signals that an argument has no remote-host syntax
// (no ':' or 'rsync://' prefix), i.e. it names a local path.
var errNoHostspec = errors.New("no hostspec")

const rsyncURLPrefix = "rsync://"

// rsync/main.c:start_client's host[/path] parsing. Returns errNoHostspec
// if s is a plain local path. port is non-zero for daemon connections
// (rsync:// or host::module syntax), zero for remote-shell (host:path).
func checkForHostspec(s string) (host, path string, port int, err error) {
	if len(s) >= len(rsyncURLPrefix) && strings.EqualFold(s[:len(rsyncURLPrefix)], rsyncURLPrefix) {
		rest := s[len(rsyncURLPrefix):]
		host = rest
		if idx := strings.IndexByte(rest, '/'); idx > -1 {
			host = rest[:idx]
			path = rest[idx+1:]
		}
		port = 873
		if idx := strings.IndexByte(host, ':'); idx > -1 {
			if p, perr := strconv.Atoi(host[idx+1:]); perr == nil {
				port = p
			}
			host = host[:idx]
		}
		return host, path, port, nil
	}

	idx := strings.IndexByte(s, ':')
	if idx == -1 {
		return "", "", 0, errNoHostspec
	}
	if idx+1 < len(s) && s[idx+1] == ':' {
		// host::module[/path]: daemon via direct socket connection.
		return s[:idx], s[idx+2:], 873, nil
	}
	// host:path: remote shell connection.
	return s[:idx], s[idx+1:], 0, nil
}

// rsync/options.c:server_options reconstructs the flag set to pass to
// the remote --server invocation, based on the options this process
// parsed from argv.
func serverOptions(opts *rsyncopts.Options) []string {
	args := []string{"--server"}
	if opts.Sender() {
		args = append(args, "--sender")
	}
	if opts.Verbose() {
		args = append(args, "-v")
	}
	if opts.PreserveLinks() {
		args = append(args, "-l")
	}
	if opts.PreservePerms() {
		args = append(args, "-p")
	}
	if opts.PreserveMTimes() {
		args = append(args, "-t")
	}
	if opts.PreserveUid() {
		args = append(args, "-o")
	}
	if opts.PreserveGid() {
		args = append(args, "-g")
	}
	if opts.PreserveDevices() || opts.PreserveSpecials() {
		args = append(args, "-D")
	}
	if opts.PreserveHardLinks() {
		args = append(args, "-H")
	}
	if opts.DryRun() {
		args = append(args, "-n")
	}
	if opts.Delete() {
		args = append(args, "--delete")
	}
	if opts.WholeFile() {
		args = append(args, "-W")
	}
	if opts.AlwaysChecksum() {
		args = append(args, "-c")
	}
	if opts.IgnoreExisting() {
		args = append(args, "--ignore-existing")
	}
	if opts.UpdateOnly() {
		args = append(args, "-u")
	}
	if opts.CompressLevel() > 0 {
		args = append(args, "-z")
	}
	if bs := opts.BlockSize(); bs > 0 {
		args = append(args, fmt.Sprintf("--block-size=%d", bs))
	}
	if d := opts.CompareDest(); d != "" {
		args = append(args, "--compare-dest="+d)
	}
	if d := opts.CopyDest(); d != "" {
		args = append(args, "--copy-dest="+d)
	}
	if d := opts.LinkDest(); d != "" {
		args = append(args, "--link-dest="+d)
	}
	if opts.Fuzzy() {
		args = append(args, "-y")
	}
	if opts.Append() {
		args = append(args, "--append")
	}
	if d := opts.TempDir(); d != "" {
		args = append(args, "--temp-dir="+d)
	}
	if opts.Partial() {
		args = append(args, "--partial")
	}
	if p := opts.Protocol(); p > 0 {
		args = append(args, fmt.Sprintf("--protocol=%d", p))
	}
	return args
}

// rsync/main.c:start_client
func rsyncMain(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, sources []string, dest string) (*rsyncstats.TransferStats, error) {
	if opts.Verbose() {
		log.Printf("dest: %q, sources: %q", dest, sources)
		log.Printf("opts: %+v", opts)
	}
	// Guaranteed to be non-empty by caller of rsyncMain().
	src := sources[0]

	if opts.Verbose() {
		log.Printf("processing src=%s", src)
	}
	daemonConnection := 0 // no daemon
	host, path, port, err := checkForHostspec(src)
	if opts.Verbose() {
		log.Printf("host=%q, path=%q, port=%d, err=%v", host, path, port, err)
	}
	if err != nil {
		// source is local, check dest arg
		opts.SetSender()
		// TODO: remote_argv == "."?
		host, path, port, err = checkForHostspec(dest)
		if opts.Verbose() {
			log.Printf("host=%q, path=%q, port=%d, err=%v", host, path, port, err)
		}
		if path == "" {
			if opts.Verbose() {
				log.Printf("source and dest are both local!")
			}
			host = ""
			port = 0
			path = dest
			opts.SetLocalServer()
		} else {
			// dest is remote
			if port != 0 {
				if opts.ShellCommand() != "" {
					daemonConnection = 1 // daemon via remote shell
				} else {
					daemonConnection = -1 // daemon via socket
				}
			}
		}
	} else {
		// source is remote
		if port != 0 {
			if opts.ShellCommand() != "" {
				daemonConnection = 1 // daemon via remote shell
			} else {
				daemonConnection = -1 // daemon via socket
			}
		}
	}

	// TODO: if opts.AmSender(), verify extra source args have no hostspec
	other := dest
	if opts.Sender() {
		other = src
	}

	module := path
	if idx := strings.IndexByte(module, '/'); idx > -1 {
		module = module[:idx]
	}
	if opts.Verbose() {
		log.Printf("module=%q, path=%q, other=%q", module, path, other)
	}

	if daemonConnection < 0 {
		stats, err := socketClient(ctx, osenv, opts, host, path, port, other)
		if err != nil {
			return nil, err
		}
		return stats, nil
	}

	machine := host
	user := ""
	if idx := strings.IndexByte(machine, '@'); idx > -1 {
		user = machine[:idx]
		machine = machine[idx+1:]
	}
	rc, wc, err := doCmd(osenv, opts, machine, user, path, daemonConnection)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	defer wc.Close()
	conn := &readWriter{
		r: rc,
		w: wc,
	}
	negotiate := true
	var runConn io.ReadWriter = conn
	if daemonConnection != 0 {
		br, done, err := startInbandExchange(osenv, opts, conn, module, path)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
		runConn = &readWriter{r: br, w: conn}
		negotiate = false // already done
	}
	stats, err := clientRun(osenv, opts, runConn, []string{other}, negotiate)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// rsync/clientserver.c:start_socket_client
func socketClient(ctx context.Context, osenv rsyncos.Std, opts *rsyncopts.Options, host, path string, port int, other string) (*rsyncstats.TransferStats, error) {
	if strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("the remote path must start with a module name, not a /")
	}
	user := ""
	if idx := strings.IndexByte(host, '@'); idx > -1 {
		user = host[:idx]
		host = host[idx+1:]
	}
	if port == 0 {
		port = 873
	}
	if opts.Verbose() {
		log.Printf("opening tcp connection to %s port %d", host, port)
	}
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	defer nc.Close()

	br, done, err := startInbandExchange(osenv, opts, nc, user, path)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, nil
	}
	conn := &readWriter{r: br, w: nc}
	return clientRun(osenv, opts, conn, []string{other}, false /* negotiate: already done in-band */)
}

func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// rsync/clientserver.c:start_inband_exchange negotiates the module and
// the rsync daemon protocol's own @RSYNCD handshake over conn, before
// handing off to the regular multiplexed rsync protocol. done is true
// when the server ended the exchange with @RSYNCD: EXIT (e.g. because
// no module was requested and a module listing was printed instead).
func startInbandExchange(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, user, path string) (br *bufio.Reader, done bool, err error) {
	if strings.HasPrefix(path, "/") {
		return nil, false, fmt.Errorf("the remote path must start with a module name")
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = os.Getenv("LOGNAME")
	}
	_ = user // authentication is not yet implemented; see AUTHREQD handling below

	sargs := serverOptions(opts)
	sargs = append(sargs, ".")
	if path != "" {
		sargs = append(sargs, path)
	}

	br = bufio.NewReader(conn)
	if _, err := fmt.Fprintf(conn, "@RSYNCD: %d\n", rsync.ProtocolVersion); err != nil {
		return nil, false, err
	}

	line, err := readLine(br)
	if err != nil {
		return nil, false, fmt.Errorf("rsync: did not see server greeting: %v", err)
	}
	var remoteVersion int
	if _, serr := fmt.Sscanf(line, "@RSYNCD: %d", &remoteVersion); serr != nil {
		return nil, false, fmt.Errorf("rsync: server sent %q rather than a greeting", line)
	}

	module := path
	if idx := strings.IndexByte(module, '/'); idx > -1 {
		module = module[:idx]
	}
	if _, err := fmt.Fprintf(conn, "%s\n", module); err != nil {
		return nil, false, err
	}

	for {
		line, err := readLine(br)
		if err != nil {
			return nil, false, fmt.Errorf("rsync: didn't get server startup line: %v", err)
		}
		if strings.HasPrefix(line, "@RSYNCD: AUTHREQD ") {
			return nil, false, fmt.Errorf("rsync daemon requires authentication, which is not supported")
		}
		if line == "@RSYNCD: OK" {
			break
		}
		if line == "@RSYNCD: EXIT" {
			return nil, true, nil
		}
		if strings.HasPrefix(line, "@ERROR") {
			return nil, false, fmt.Errorf("%s", line)
		}
		if opts.Verbose() {
			log.Printf("%s", line)
		}
	}

	for _, a := range sargs {
		if _, err := fmt.Fprintf(conn, "%s\n", a); err != nil {
			return nil, false, err
		}
	}
	if _, err := fmt.Fprintf(conn, "\n"); err != nil {
		return nil, false, err
	}

	return br, false, nil
}

// rsync/main.c:do_cmd
func doCmd(osenv rsyncos.Std, opts *rsyncopts.Options, machine, user, path string, daemonConnection int) (io.ReadCloser, io.WriteCloser, error) {
	if opts.Verbose() {
		log.Printf("doCmd(machine=%q, user=%q, path=%q, daemonConnection=%d)",
			machine, user, path, daemonConnection)
	}
	var args []string
	if !opts.LocalServer() {
		cmd := opts.ShellCommand()
		if cmd == "" {
			cmd = "ssh"
			if e := os.Getenv("RSYNC_RSH"); e != "" {
				cmd = e
			}
		}

		// We use shlex.Split(), whereas rsync implements its own shell-style-like
		// parsing. The nuances likely don’t matter to any users, and if so, users
		// might prefer shell-style parsing.
		var err error
		args, err = shlex.Split(cmd)
		if err != nil {
			return nil, nil, err
		}

		if user != "" && daemonConnection == 0 /* && !dashlset */ {
			args = append(args, "-l", user)
		}

		args = append(args, machine)

		args = append(args, "rsync") // TODO: flag
	} else {
		// NOTE: tridge rsync will fork and run child_main(), but we create a
		// new process because that is much simpler/cleaner in Go.
		args = append(args, os.Args[0])
	}

	if daemonConnection > 0 {
		args = append(args, "--server", "--daemon")
	} else {
		args = append(args, serverOptions(opts)...)
	}
	args = append(args, ".")

	if daemonConnection == 0 {
		args = append(args, path)
	}

	if opts.Verbose() {
		log.Printf("args: %q", args)
	}

	ssh := exec.Command(args[0], args[1:]...)
	wc, err := ssh.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	rc, err := ssh.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	ssh.Stderr = osenv.Stderr
	if err := ssh.Start(); err != nil {
		return nil, nil, err
	}

	go func() {
		// TODO: correctly terminate the main process when the underlying SSH
		// process exits.
		if err := ssh.Wait(); err != nil {
			log.Printf("remote shell exited: %v", err)
		}
	}()

	return rc, wc, nil
}

// rsync/main.c:client_run
func clientRun(osenv rsyncos.Std, opts *rsyncopts.Options, conn io.ReadWriter, paths []string, negotiate bool) (*rsyncstats.TransferStats, error) {
	crd := &rsyncwire.CountingReader{R: conn}
	cwr := &rsyncwire.CountingWriter{W: conn}
	c := &rsyncwire.Conn{
		Reader: crd,
		Writer: cwr,
	}

	if negotiate {
		if err := c.WriteInt32(rsync.ProtocolVersion); err != nil {
			return nil, err
		}
		remoteProtocol, err := c.ReadInt32()
		if err != nil {
			return nil, err
		}
		if opts.Verbose() {
			log.Printf("remote protocol: %d", remoteProtocol)
		}
	}

	seed, err := c.ReadInt32()
	if err != nil {
		return nil, fmt.Errorf("reading seed: %v", err)
	}

	mrd := &rsyncwire.MultiplexReader{
		Reader: conn,
	}
	// TODO: rearchitect such that our buffer can be smaller than the largest
	// rsync message size
	rd := bufio.NewReaderSize(mrd, 256*1024)
	c.Reader = rd

	if opts.Sender() {
		st := sender.NewTransfer(log.New(osenv.Stderr), &sender.Opts{
			Verbose:       opts.Verbose(),
			CompressLevel: opts.CompressLevel(),
			Protocol:      opts.Protocol(),

			PreserveUID:       opts.PreserveUid(),
			PreserveGID:       opts.PreserveGid(),
			PreserveLinks:     opts.PreserveLinks(),
			PreserveDevices:   opts.PreserveDevices() || opts.PreserveSpecials(),
			PreserveHardlinks: opts.PreserveHardLinks(),
			AlwaysChecksum:    opts.AlwaysChecksum(),
		}, "", c, uint32(seed))
		if opts.Verbose() {
			log.Printf("sender(paths=%q)", paths)
		}

		stats, err := st.Do(paths)
		if err != nil {
			return nil, err
		}
		return stats, nil
	}

	if len(paths) != 1 {
		return nil, fmt.Errorf("BUG: expected exactly one path, got %q", paths)
	}

	rt := receiver.NewTransfer(log.New(osenv.Stderr), &receiver.Opts{
		Verbose: opts.Verbose(),
		DryRun:  opts.DryRun(),
		Sender:  opts.Sender(),

		PreservePerms:     opts.PreservePerms(),
		PreserveTimes:     opts.PreserveMTimes(),
		PreserveUID:       opts.PreserveUid(),
		PreserveGID:       opts.PreserveGid(),
		PreserveLinks:     opts.PreserveLinks(),
		PreserveDevices:   opts.PreserveDevices() || opts.PreserveSpecials(),
		PreserveHardlinks: opts.PreserveHardLinks(),

		WholeFile:      opts.WholeFile(),
		AlwaysChecksum: opts.AlwaysChecksum(),
		IgnoreExisting: opts.IgnoreExisting(),
		UpdateOnly:     opts.UpdateOnly(),
		Delete:         opts.DeleteMode(),

		BlockSize: opts.BlockSize(),
		BwLimit:   opts.BwLimitBytesPerSec(),

		CompareDest: opts.CompareDest(),
		CopyDest:    opts.CopyDest(),
		LinkDest:    opts.LinkDest(),
		Fuzzy:       opts.Fuzzy(),
		Append:      opts.Append(),

		TempDir: opts.TempDir(),
		Partial: opts.Partial(),

		CompressLevel: opts.CompressLevel(),
		Protocol:      opts.Protocol(),
	}, paths[0], c, uint32(seed))
	if opts.Verbose() {
		log.Printf("receiving to dest=%s", rt.Dest)
	}

	// TODO: this is different for client/server
	// client always sends exclusion list, server always receives

	// TODO: implement support for exclusion, send exclusion list here
	const exclusionListEnd = 0
	if err := c.WriteInt32(exclusionListEnd); err != nil {
		return nil, err
	}

	if opts.Verbose() { // TODO: should be DebugGTE(RECV, 1)
		log.Printf("exclusion list sent")
	}

	// receive file list
	if opts.Verbose() { // TODO: should be debug (FLOG)
		log.Printf("receiving file list")
	}
	fileList, err := rt.ReceiveFileList()
	if err != nil {
		return nil, err
	}
	if opts.Verbose() { // TODO: should be debugGTE(FLIST, 2)
		log.Printf("received %d names", len(fileList))
	}

	return rt.Do(fileList, false)
}

func clientMain(ctx context.Context, args []string, osenv rsyncos.Std) (*rsyncstats.TransferStats, error) {
	pc, err := rsyncopts.ParseArguments(&osenv, args[1:])
	if err != nil {
		return nil, err
	}
	opts := pc.Options
	remaining := pc.RemainingArgs
	if len(remaining) == 0 {
		// help goes to stderr when no arguments were specified
		fmt.Fprintln(osenv.Stderr, opts.Help())
		return nil, fmt.Errorf("rsync error: syntax or usage error")
	}
	if len(remaining) == 1 {
		// Usages with just one SRC arg and no DEST arg are passed on with
		// an empty DEST; there is no list-only mode, so the source files
		// are transferred rather than listed.
		dest := ""
		sources := remaining
		return rsyncMain(ctx, osenv, opts, sources, dest)
	}
	dest := remaining[len(remaining)-1]
	sources := remaining[:len(remaining)-1]
	return rsyncMain(ctx, osenv, opts, sources, dest)
}
