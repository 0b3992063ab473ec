// Package process launches and supervises the NvimServer backend.
//
// The default ShellLauncher starts the user's login shell and has it exec
// the backend, so the backend inherits the environment the user's shell
// profile sets up (PATH and friends) rather than the bare environment a GUI
// application is started with.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// LaunchSpec describes the backend command.
type LaunchSpec struct {
	Executable string
	Args       []string
	// Env holds KEY=VALUE pairs added to the inherited environment.
	Env []string
	Dir string
}

// Launcher starts backend processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Process, error)
}

// Process is a running backend.
type Process interface {
	Pid() int
	// Done is closed when the process has exited.
	Done() <-chan struct{}
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Interrupt sends SIGINT.
	Interrupt() error
	// Terminate sends SIGTERM.
	Terminate() error
	// Kill sends SIGKILL.
	Kill() error
}

// ErrNotRunning is returned when signalling a process that has exited.
var ErrNotRunning = errors.New("process not running")

// osProcess wraps a started exec.Cmd. A dedicated goroutine waits for exit.
type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func startCmd(cmd *exec.Cmd) (*osProcess, error) {
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Done() <-chan struct{} {
	return p.done
}

func (p *osProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *osProcess) signal(sig os.Signal) error {
	select {
	case <-p.done:
		return ErrNotRunning
	default:
	}
	if err := p.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrNotRunning
		}
		return err
	}
	return nil
}

func (p *osProcess) Interrupt() error { return p.signal(os.Interrupt) }
func (p *osProcess) Terminate() error { return p.signal(syscall.SIGTERM) }
func (p *osProcess) Kill() error      { return p.signal(os.Kill) }

// environ returns the inherited environment plus spec.Env, with PWD
// matching spec.Dir.
func environ(spec LaunchSpec) []string {
	env := append(os.Environ(), spec.Env...)
	if spec.Dir != "" {
		env = append(env, "PWD="+spec.Dir)
	}
	return env
}

// DirectLauncher execs the backend without a shell.
type DirectLauncher struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Launch implements Launcher.
func (l *DirectLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	cmd := exec.Command(spec.Executable, spec.Args...)
	cmd.Env = environ(spec)
	cmd.Dir = spec.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	p, err := startCmd(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", spec.Executable, err)
	}
	slog.Debug("process: started backend", "pid", p.Pid(), "executable", spec.Executable)
	return p, nil
}

var _ Launcher = (*DirectLauncher)(nil)
var _ Launcher = (*ShellLauncher)(nil)
