package rsync

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"git.sr.ht/~spc/go-log"
	"github.com/blang/semver"
	"github.com/creack/pty"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/project-flotta/flotta-sync-worker/internal/supervisor"
)

// wide enough for rsync to never wrap the progress line
var terminalSize = &pty.Winsize{Cols: 200, Rows: 50}

// Launcher starts rsync on a pseudo terminal, so it reports progress the same
// way it does for an interactive user.
type Launcher struct {
	opts   Options
	runner CommandRunner
}

func NewLauncher(opts Options, runner CommandRunner) *Launcher {
	if runner == nil {
		runner = NewCommandRunner()
	}
	return &Launcher{opts: opts, runner: runner}
}

func (l *Launcher) Options() Options {
	return l.opts
}

// Command returns the command line that Start would run.
func (l *Launcher) Command(ctx context.Context) ([]string, error) {
	var version *semver.Version
	detected, err := DetectVersion(ctx, l.runner, l.opts.binary())
	if err != nil {
		log.Warnf("cannot detect rsync version, not using --outbuf: %v", err)
	} else {
		log.Debugf("rsync version %s", detected)
		version = &detected
	}
	args, err := l.opts.Args(version)
	if err != nil {
		return nil, err
	}
	return append([]string{l.opts.binary()}, args...), nil
}

func (l *Launcher) Start(ctx context.Context) (supervisor.Process, error) {
	command, err := l.Command(ctx)
	if err != nil {
		return nil, err
	}
	dest, _ := l.opts.LocalDestination()
	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, &supervisor.ProcessError{Kind: supervisor.SpawnFailed, Err: pkgerrors.Wrap(err, "cannot create destination")}
	}
	log.Infof("running %q", command)
	process, err := startProcess(exec.Command(command[0], command[1:]...)) //#nosec
	if err != nil {
		return nil, err
	}
	return process, nil
}

func startProcess(cmd *exec.Cmd) (*ptyProcess, error) {
	// C locale keeps the decimal point in rates a dot
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	tty, err := pty.StartWithAttrs(cmd, terminalSize, sysProcAttr())
	if err != nil {
		return nil, &supervisor.ProcessError{
			Kind: supervisor.SpawnFailed,
			Err:  pkgerrors.Wrapf(err, "cannot start %s", cmd.Path),
		}
	}
	return &ptyProcess{cmd: cmd, tty: tty}, nil
}

// ptyProcess is a child running in its own session on a pseudo terminal.
// Signals go to the whole process group so ssh is stopped along with rsync.
type ptyProcess struct {
	cmd *exec.Cmd
	tty *os.File
}

func (p *ptyProcess) Output() io.Reader {
	return &ptyReader{tty: p.tty}
}

func (p *ptyProcess) Terminate() error {
	return p.signal(unix.SIGTERM)
}

func (p *ptyProcess) Kill() error {
	return p.signal(unix.SIGKILL)
}

func (p *ptyProcess) signal(sig unix.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (p *ptyProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return -1, err
	}
	return exitCode(p.cmd.ProcessState), nil
}

func (p *ptyProcess) Close() error {
	return p.tty.Close()
}

func exitCode(state *os.ProcessState) int {
	if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return state.ExitCode()
}

// ptyReader reports the end of output as io.EOF. Linux returns EIO from the
// master side once the last holder of the terminal is gone.
type ptyReader struct {
	tty *os.File
}

func (r *ptyReader) Read(b []byte) (int, error) {
	n, err := r.tty.Read(b)
	if err != nil && (errors.Is(err, unix.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}
