// Package bridge runs one front-end session against a headless NvimServer
// backend: it launches the backend, completes the ready handshake, turns
// inbound messages into events and sends front-end requests back.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
	"github.com/Paranoid-AF/nvimbridge/metrics"
	"github.com/Paranoid-AF/nvimbridge/process"
	"github.com/Paranoid-AF/nvimbridge/transport"
)

// State is the lifecycle position of a session.
type State int

const (
	StateLaunching State = iota
	StateAwaitingHandshake
	StateReady
	StateQuitting
	StateQuit
	StateFailed
)

var stateNames = [...]string{
	"launching", "awaiting_handshake", "ready", "quitting", "quit", "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	defaultWidth  = 80
	defaultHeight = 24
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id nvimbridge.SessionID) Option {
	return func(b *Bridge) { b.id = id }
}

// WithInitialSize sets the grid size sent in the handshake reply.
func WithInitialSize(width, height int) Option {
	return func(b *Bridge) {
		b.width = width
		b.height = height
	}
}

// WithLauncher replaces the login-shell launcher.
func WithLauncher(l process.Launcher) Option {
	return func(b *Bridge) { b.launcher = l }
}

// WithExecutable skips backend lookup and launches path.
func WithExecutable(path string) Option {
	return func(b *Bridge) { b.executable = path }
}

// WithWorkingDir sets the backend's working directory.
func WithWorkingDir(dir string) Option {
	return func(b *Bridge) { b.workingDir = dir }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

// Bridge is one session. Create it with New, start it with Run and end it
// with Quit or ForceQuit.
type Bridge struct {
	id         nvimbridge.SessionID
	inbound    string
	outbound   string
	listenAddr string
	executable string
	workingDir string
	args       []string
	headless   bool
	width      int
	height     int

	readyTimeout time.Duration
	forceGrace   time.Duration
	sendTimeout  time.Duration
	idleTTL      time.Duration

	launcher process.Launcher
	log      *slog.Logger
	metrics  *metrics.Registry
	stream   *Stream

	mu              sync.Mutex
	state           State
	running         bool
	serverReadySeen bool
	ready           bool
	initError       bool
	quitting        bool
	quitComplete    bool
	forceRequested  bool
	signaled        bool
	failErr         error
	listener        *transport.Listener
	connector       *transport.Connector
	proc            process.Process
	launchedAt      time.Time

	readyCh  chan struct{}
	launched chan struct{}
	failed   chan struct{}
	forceCh  chan struct{}
	quitCh   chan struct{}
	quitDone chan struct{}
	failOnce sync.Once
}

// New prepares a session from cfg. A nil cfg uses the defaults. The backend
// executable is resolved here; failing to find it is fatal.
func New(cfg *nvimbridge.Config, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		cfg = nvimbridge.DefaultConfig()
	}

	b := &Bridge{
		workingDir:   cfg.Backend.WorkingDir,
		args:         cfg.Backend.Args,
		headless:     nvimbridge.HeadlessEnabled(cfg),
		width:        defaultWidth,
		height:       defaultHeight,
		readyTimeout: nvimbridge.ReadyTimeout(cfg),
		forceGrace:   nvimbridge.ForceQuitGrace(cfg),
		sendTimeout:  nvimbridge.SendTimeout(cfg),
		idleTTL:      nvimbridge.IdleConnTTL(cfg),
		metrics:      metrics.Get(),
		stream:       NewStream(),
		readyCh:      make(chan struct{}),
		launched:     make(chan struct{}),
		failed:       make(chan struct{}),
		forceCh:      make(chan struct{}),
		quitCh:       make(chan struct{}),
		quitDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	if b.id == "" {
		b.id = nvimbridge.NewSessionID()
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	b.log = b.log.With("session", string(b.id))

	if b.executable == "" {
		exe, err := process.ResolveExecutable(nvimbridge.ResolveBackendExecutable(cfg))
		if err != nil {
			return nil, err
		}
		b.executable = exe
	}
	if b.launcher == nil {
		b.launcher = &process.ShellLauncher{
			Shell:          nvimbridge.ResolveShell(cfg),
			InteractiveZsh: cfg.Shell.InteractiveZsh,
		}
	}

	runtimeDir := nvimbridge.ResolveRuntimeDir(cfg)
	if err := os.MkdirAll(runtimeDir, 0o700); err != nil {
		return nil, fmt.Errorf("create runtime dir: %w", err)
	}
	prefix := nvimbridge.AddressPrefix(runtimeDir)
	b.inbound = nvimbridge.InboundAddress(prefix, b.id)
	b.outbound = nvimbridge.OutboundAddress(prefix, b.id)
	b.listenAddr = nvimbridge.ListenAddress(runtimeDir, b.id)

	b.metrics.SetState("", b.state.String())
	return b, nil
}

// ID returns the session id.
func (b *Bridge) ID() nvimbridge.SessionID { return b.id }

// InboundAddress is where the bridge listens for backend messages.
func (b *Bridge) InboundAddress() string { return b.inbound }

// OutboundAddress is where the backend listens for front-end messages.
func (b *Bridge) OutboundAddress() string { return b.outbound }

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Subscribe returns a subscription to the session's events. Subscribe
// before Run to see Ready.
func (b *Bridge) Subscribe(bufSize int) *Subscription {
	return b.stream.Subscribe(bufSize)
}

// QuitDone is closed once the session has shut down completely.
func (b *Bridge) QuitDone() <-chan struct{} {
	return b.quitDone
}

// setState must be called with b.mu held.
func (b *Bridge) setState(to State) {
	if b.state == to {
		return
	}
	b.log.Debug("state change", "from", b.state.String(), "to", to.String())
	b.metrics.SetState(b.state.String(), to.String())
	b.state = to
}

// backendArgs builds the backend command line: the two addresses, the
// headless flag and the user's extra arguments.
func (b *Bridge) backendArgs() []string {
	args := []string{b.inbound, b.outbound}
	if b.headless {
		args = append(args, "--headless")
	}
	return append(args, b.args...)
}

// Run binds the inbound endpoint, launches the backend and blocks until the
// handshake completes, the ready deadline passes or ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return ErrAlreadyRunning
	}
	if b.quitting {
		b.mu.Unlock()
		return ErrQuitting
	}
	b.running = true
	b.mu.Unlock()

	err := b.launch(ctx)
	close(b.launched)
	if err != nil {
		b.metrics.LaunchFailures.Inc()
		b.fail(err)
		b.beginQuit(true)
		return err
	}

	timer := time.NewTimer(time.Until(b.launchedAt.Add(b.readyTimeout)))
	defer timer.Stop()

	select {
	case <-b.readyCh:
		return nil
	case <-b.failed:
		b.beginQuit(true)
		return b.failErr
	case <-b.quitCh:
		return ErrQuitting
	case <-timer.C:
		err = fmt.Errorf("%w after %s", ErrLaunchTimeout, b.readyTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("waiting for backend: %w", ctx.Err())
	}

	// The gate may have opened while the deadline fired.
	b.mu.Lock()
	if b.ready {
		b.mu.Unlock()
		return nil
	}
	b.setState(StateFailed)
	b.mu.Unlock()

	b.log.Warn("backend not ready", "error", err)
	b.metrics.LaunchFailures.Inc()
	b.fail(err)
	b.beginQuit(true)
	return err
}

// launch binds the inbound listener and starts the backend.
func (b *Bridge) launch(ctx context.Context) error {
	connector := transport.NewConnector(b.idleTTL)
	l, err := transport.Listen(b.inbound, b.handleMessage)
	if err != nil {
		connector.Close()
		return &TransportError{Op: "listen", Err: err}
	}

	b.mu.Lock()
	b.listener = l
	b.connector = connector
	b.mu.Unlock()

	go func() {
		if err := l.Serve(); err != nil {
			b.log.Error("inbound listener failed", "error", err)
			b.fail(&TransportError{Op: "accept", Err: err})
		}
	}()

	spec := process.LaunchSpec{
		Executable: b.executable,
		Args:       b.backendArgs(),
		Env:        []string{nvimbridge.ListenAddressEnv + "=" + b.listenAddr},
		Dir:        b.workingDir,
	}
	b.log.Info("launching backend", "executable", b.executable, "inbound", b.inbound)

	launchedAt := time.Now()
	proc, err := b.launcher.Launch(ctx, spec)
	if err != nil {
		return fmt.Errorf("launch backend: %w", err)
	}

	b.mu.Lock()
	b.proc = proc
	b.launchedAt = launchedAt
	if b.state == StateLaunching {
		b.setState(StateAwaitingHandshake)
	}
	b.mu.Unlock()

	b.log.Debug("backend started", "pid", proc.Pid())
	go b.watch(proc)
	return nil
}

// watch fails the session if the backend exits before a quit was requested.
func (b *Bridge) watch(proc process.Process) {
	select {
	case <-proc.Done():
	case <-b.quitCh:
		return
	}
	if b.isQuitting() {
		return
	}

	err := proc.Wait()
	if err == nil {
		err = ErrBackendExited
	}
	b.log.Error("backend exited unexpectedly", "pid", proc.Pid(), "error", err)
	b.fail(&TransportError{Op: "backend exit", Err: err})
	b.beginQuit(true)
}

// fail records the first fatal error and terminates the event stream with it.
func (b *Bridge) fail(err error) {
	b.failOnce.Do(func() {
		b.mu.Lock()
		b.failErr = err
		if !b.quitting {
			b.setState(StateFailed)
		}
		b.mu.Unlock()

		close(b.failed)
		b.stream.CloseWithError(err)
	})
}
