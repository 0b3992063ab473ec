package bridge

import (
	"context"
	"time"

	"github.com/Paranoid-AF/nvimbridge/process"
)

// Quit shuts the session down cooperatively: the transport is closed and
// the backend is expected to exit on its own. It returns when shutdown is
// complete or ctx ends; in the latter case shutdown keeps going.
func (b *Bridge) Quit(ctx context.Context) error {
	b.beginQuit(false)
	return b.waitQuit(ctx)
}

// ForceQuit shuts the session down and signals the backend: SIGINT and
// SIGTERM first, SIGKILL if it is still running after the grace period.
// Calling it while a cooperative Quit is pending escalates that shutdown.
func (b *Bridge) ForceQuit(ctx context.Context) error {
	b.beginQuit(true)
	return b.waitQuit(ctx)
}

func (b *Bridge) waitQuit(ctx context.Context) error {
	select {
	case <-b.quitDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginQuit latches quitting. The first caller starts teardown; a later
// forced call escalates a cooperative one.
func (b *Bridge) beginQuit(force bool) {
	b.mu.Lock()
	first := !b.quitting
	escalate := force && !first && !b.forceRequested
	if force {
		b.forceRequested = true
	}
	if first {
		b.quitting = true
		if b.state != StateFailed {
			b.setState(StateQuitting)
		}
	}
	running := b.running
	b.mu.Unlock()

	switch {
	case first:
		b.log.Info("quitting", "force", force)
		close(b.quitCh)
		go b.teardown(running, force)
	case escalate:
		b.log.Info("escalating quit")
		close(b.forceCh)
	}
}

func (b *Bridge) teardown(running, force bool) {
	if running {
		<-b.launched
	}

	b.mu.Lock()
	l, c, proc := b.listener, b.connector, b.proc
	b.mu.Unlock()

	if l != nil {
		l.Close()
	}
	if c != nil {
		c.Close()
	}

	if proc != nil {
		if force {
			b.stopProcess(proc)
		} else {
			select {
			case <-proc.Done():
			case <-b.forceCh:
				b.stopProcess(proc)
			}
		}
		if err := proc.Wait(); err != nil {
			b.log.Debug("backend exited", "error", err)
		} else {
			b.log.Debug("backend exited")
		}
	}

	b.mu.Lock()
	b.quitComplete = true
	if b.state != StateFailed {
		b.setState(StateQuit)
	}
	b.mu.Unlock()

	b.stream.Close()
	close(b.quitDone)
	b.log.Info("session ended")
}

// stopProcess signals proc at most once per session and waits for it to
// exit, killing it after the grace period.
func (b *Bridge) stopProcess(proc process.Process) {
	b.mu.Lock()
	if b.signaled {
		b.mu.Unlock()
		return
	}
	b.signaled = true
	b.mu.Unlock()

	b.metrics.ForcedQuits.Inc()
	b.signal(proc, "interrupt", proc.Interrupt)
	b.signal(proc, "terminate", proc.Terminate)

	timer := time.NewTimer(b.forceGrace)
	defer timer.Stop()
	select {
	case <-proc.Done():
	case <-timer.C:
		b.log.Warn("backend ignored termination, killing", "pid", proc.Pid())
		b.signal(proc, "kill", proc.Kill)
		<-proc.Done()
	}
}

func (b *Bridge) signal(proc process.Process, name string, send func() error) {
	if err := send(); err != nil {
		b.log.Debug("signal backend", "signal", name, "pid", proc.Pid(), "error", err)
		return
	}
	b.metrics.BackendSignals.WithLabelValues(name).Inc()
}
