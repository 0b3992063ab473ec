package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
	"github.com/Paranoid-AF/nvimbridge/codec"
	"github.com/Paranoid-AF/nvimbridge/enginetest"
	"github.com/Paranoid-AF/nvimbridge/process"
	"github.com/Paranoid-AF/nvimbridge/transport"
)

const fakeBackend = "/opt/nvimbridge/NvimServer"

var dirCounter atomic.Int64

// testRuntimeDir returns a short runtime dir under /tmp; t.TempDir() paths
// can exceed the Unix socket path limit on macOS.
func testRuntimeDir(t *testing.T) string {
	t.Helper()
	dir := fmt.Sprintf("/tmp/nvb-br-%d-%d", os.Getpid(), dirCounter.Add(1))
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestBridge(t *testing.T, l process.Launcher, mutate func(*nvimbridge.Config), opts ...Option) *Bridge {
	t.Helper()
	cfg := nvimbridge.DefaultConfig()
	cfg.Session.RuntimeDir = testRuntimeDir(t)
	cfg.Session.ReadyTimeout = nvimbridge.Duration{Duration: 2 * time.Second}
	cfg.Session.ForceQuitGrace = nvimbridge.Duration{Duration: 200 * time.Millisecond}
	if mutate != nil {
		mutate(cfg)
	}

	opts = append([]Option{WithLauncher(l), WithExecutable(fakeBackend)}, opts...)
	b, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		b.ForceQuit(ctx)
	})
	return b
}

func runReady(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, b.Run(ctx))
}

func nextEvent(t *testing.T, sub *Subscription) nvimbridge.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "stream closed early: %v", sub.Err())
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub *Subscription, wait time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected event %s: %#v", ev.Name(), ev)
		}
	case <-time.After(wait):
	}
}

// drain reads until the stream closes and returns what it saw.
func drain(t *testing.T, sub *Subscription) []nvimbridge.Event {
	t.Helper()
	var events []nvimbridge.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timeout waiting for stream to close")
			return nil
		}
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestHandshake(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil, WithSessionID("abc"), WithInitialSize(100, 40))
	sub := b.Subscribe(16)
	assert.Equal(t, StateLaunching, b.State())

	start := time.Now()
	runReady(t, b)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateReady, b.State())

	assert.Equal(t, nvimbridge.Ready{}, nextEvent(t, sub))
	assertNoEvent(t, sub, 100*time.Millisecond)

	e := l.Last()
	require.NotNil(t, e)
	dir := filepath.Dir(b.InboundAddress())
	assert.Equal(t, filepath.Join(dir, "nvimbridge.abc"), e.Inbound)
	assert.Equal(t, filepath.Join(dir, "nvimbridge.engine.abc"), e.Outbound)
	assert.Equal(t, []string{e.Inbound, e.Outbound, "--headless"}, e.Args)
	assert.Contains(t, e.Env, "NVIM_LISTEN_ADDRESS="+filepath.Join(dir, "nvimbridge_abc.sock"))

	w, h, ok := e.AgentReady()
	require.True(t, ok)
	assert.Equal(t, 100, w)
	assert.Equal(t, 40, h)
}

func TestHandshakeInitError(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{InitError: true}}
	b := newTestBridge(t, l, nil)
	sub := b.Subscribe(16)

	runReady(t, b)
	assert.Equal(t, nvimbridge.Ready{}, nextEvent(t, sub))
	assert.Equal(t, nvimbridge.InitError{}, nextEvent(t, sub))
	assertNoEvent(t, sub, 100*time.Millisecond)
}

func TestBackendArgsFromConfig(t *testing.T) {
	headless := false
	workDir := t.TempDir()
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, func(cfg *nvimbridge.Config) {
		cfg.Backend.Headless = &headless
		cfg.Backend.Args = []string{"-u", "NONE"}
	}, WithWorkingDir(workDir))

	runReady(t, b)
	e := l.Last()
	assert.Equal(t, []string{e.Inbound, e.Outbound, "-u", "NONE"}, e.Args)
	assert.Equal(t, workDir, e.Dir)
	assert.Equal(t, fakeBackend, l.Specs()[0].Executable)
}

func TestNewMissingExecutable(t *testing.T) {
	cfg := nvimbridge.DefaultConfig()
	cfg.Session.RuntimeDir = testRuntimeDir(t)
	cfg.Backend.Executable = filepath.Join(t.TempDir(), "NvimServer")

	_, err := New(cfg, WithLauncher(&enginetest.Launcher{}))
	assert.ErrorIs(t, err, process.ErrBackendNotFound)
}

func TestRunTwice(t *testing.T) {
	b := newTestBridge(t, &enginetest.Launcher{}, nil)
	runReady(t, b)
	assert.ErrorIs(t, b.Run(context.Background()), ErrAlreadyRunning)
}

func TestOutboundBeforeReady(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{NoReady: true}}
	b := newTestBridge(t, l, nil)

	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrNotReady)

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		e := l.Last()
		return e != nil && e.Handshaken()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateAwaitingHandshake, b.State())

	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrNotReady)
	assert.ErrorIs(t, b.Resize(context.Background(), 10, 10), ErrNotReady)
	assert.ErrorIs(t, b.Debug(context.Background()), ErrNotReady)

	// Run is still waiting for nvimReady.
	select {
	case err := <-runErr:
		t.Fatalf("Run returned early: %v", err)
	default:
	}

	require.NoError(t, b.ForceQuit(context.Background()))
	assert.ErrorIs(t, <-runErr, ErrQuitting)
	assert.Empty(t, l.Last().Received())
}

func TestReadyTimeout(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{NoHandshake: true}}
	b := newTestBridge(t, l, func(cfg *nvimbridge.Config) {
		cfg.Session.ReadyTimeout = nvimbridge.Duration{Duration: 200 * time.Millisecond}
	})
	sub := b.Subscribe(16)

	start := time.Now()
	err := b.Run(context.Background())
	assert.ErrorIs(t, err, ErrLaunchTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, StateFailed, b.State())

	assert.Empty(t, drain(t, sub))
	assert.ErrorIs(t, sub.Err(), ErrLaunchTimeout)

	waitClosed(t, b.QuitDone())
	assert.Equal(t, StateFailed, b.State())
	assert.Equal(t, []string{"interrupt"}, l.Last().Signals())
	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrQuitting)
}

func TestReadyTimeoutIgnoresLateReady(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{NoReady: true}}
	b := newTestBridge(t, l, func(cfg *nvimbridge.Config) {
		cfg.Session.ReadyTimeout = nvimbridge.Duration{Duration: 100 * time.Millisecond}
	})
	sub := b.Subscribe(16)

	assert.ErrorIs(t, b.Run(context.Background()), ErrLaunchTimeout)
	b.handleNvimReady(codec.EncodeBool(false))

	assert.Empty(t, drain(t, sub))
	b.mu.Lock()
	assert.False(t, b.ready)
	b.mu.Unlock()
	select {
	case <-b.readyCh:
		t.Fatal("ready gate opened after the deadline")
	default:
	}
}

func TestNvimReadyBeforeServerReadyIgnored(t *testing.T) {
	b := newTestBridge(t, &enginetest.Launcher{}, nil)
	b.mu.Lock()
	b.state = StateAwaitingHandshake
	b.mu.Unlock()

	b.handleMessage(transport.Message{Opcode: uint32(codec.NvimReady), Payload: codec.EncodeBool(false)})

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.False(t, b.ready)
}

func TestRunContextCanceled(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{NoHandshake: true}}
	b := newTestBridge(t, l, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := b.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrLaunchTimeout)
	waitClosed(t, b.QuitDone())
}

func TestLaunchFailure(t *testing.T) {
	launchErr := errors.New("exec format error")
	b := newTestBridge(t, &enginetest.Launcher{Err: launchErr}, nil)
	sub := b.Subscribe(16)

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, launchErr)
	assert.Equal(t, StateFailed, b.State())
	assert.Empty(t, drain(t, sub))
	assert.ErrorIs(t, sub.Err(), launchErr)
	waitClosed(t, b.QuitDone())

	_, statErr := os.Stat(b.InboundAddress())
	assert.True(t, os.IsNotExist(statErr), "inbound socket should be removed")
}

func TestListenFailure(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)

	require.NoError(t, os.MkdirAll(filepath.Dir(b.InboundAddress()), 0o700))
	other, err := transport.Listen(b.InboundAddress(), func(transport.Message) {})
	require.NoError(t, err)
	go other.Serve()
	defer other.Close()

	err = b.Run(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "listen", terr.Op)
	assert.ErrorIs(t, err, transport.ErrAddrInUse)
	assert.Empty(t, l.Specs(), "backend must not launch without an inbound endpoint")
}

func TestInboundEventsInOrder(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)
	sub := b.Subscribe(32)
	runReady(t, b)
	require.Equal(t, nvimbridge.Ready{}, nextEvent(t, sub))

	e := l.Last()
	frames := [][]byte{{1, 2, 3}, {}, {4}}
	send := []struct {
		op      uint32
		payload []byte
	}{
		{uint32(codec.Resize), codec.EncodeInts(80, 24)},
		{uint32(codec.ModeChange), codec.EncodeInts(int(nvimbridge.ModeInsert))},
		{uint32(codec.Resize), codec.EncodeInts(1, 2, 3)}, // dropped
		{uint32(codec.SetTitle), []byte("main.go")},
		{999, []byte{1}},
		{uint32(codec.Flush), codec.EncodeFrames(frames)},
		{uint32(codec.AutoCommandEvent), codec.EncodeInts(int(nvimbridge.AutoCmdBufEnter), 7)},
		{uint32(codec.Bell), nil},
	}
	for _, m := range send {
		require.NoError(t, e.SendRaw(m.op, m.payload))
	}

	want := []nvimbridge.Event{
		nvimbridge.Resize{Width: 80, Height: 24},
		nvimbridge.ModeChange{Mode: nvimbridge.ModeInsert},
		nvimbridge.SetTitle{Title: "main.go"},
		nvimbridge.Unknown{Opcode: 999},
		nvimbridge.Flush{Frames: frames},
		nvimbridge.AutoCommand{Kind: nvimbridge.AutoCmdBufEnter, Buffer: 7},
		nvimbridge.Bell{},
	}
	for _, w := range want {
		assert.Equal(t, w, nextEvent(t, sub))
	}
	assertNoEvent(t, sub, 100*time.Millisecond)
}

func TestOutboundOperations(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)
	runReady(t, b)
	e := l.Last()
	ctx := context.Background()

	tests := []struct {
		name    string
		call    func() error
		op      codec.OutboundOpcode
		payload []byte
	}{
		{"input", func() error { return b.Input(ctx, "héllo") }, codec.Input, []byte("héllo")},
		{"marked", func() error { return b.InputMarked(ctx, "か") }, codec.InputMarked, []byte("か")},
		{"delete", func() error { return b.DeleteCharacters(ctx, 3) }, codec.Delete, codec.EncodeInts(3)},
		{"resize", func() error { return b.Resize(ctx, 120, 50) }, codec.ResizeGrid, codec.EncodeInts(120, 50)},
		{"focus", func() error { return b.FocusGained(ctx, true) }, codec.FocusGained, codec.EncodeBool(true)},
		{"scroll", func() error { return b.Scroll(ctx, 1, -2, 3, 4) }, codec.ScrollWheel, codec.EncodeInts(1, -2, 3, 4)},
		{"debug", func() error { return b.Debug(ctx) }, codec.DebugOut, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.call())
			m, ok := e.Next(time.Second)
			require.True(t, ok)
			assert.Equal(t, uint32(tt.op), m.Opcode)
			assert.Equal(t, tt.payload, m.Payload)
		})
	}
}

func TestQuit(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)
	sub := b.Subscribe(16)
	runReady(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, b.Quit(ctx))

	assert.Equal(t, StateQuit, b.State())
	waitClosed(t, b.QuitDone())
	assert.Equal(t, []nvimbridge.Event{nvimbridge.Ready{}}, drain(t, sub))
	assert.NoError(t, sub.Err())

	e := l.Last()
	assert.Empty(t, e.Signals(), "cooperative quit must not signal")
	assert.NoError(t, e.Wait())

	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrQuitting)
	assert.ErrorIs(t, b.FocusGained(context.Background(), false), ErrQuitting)
	assert.Empty(t, e.Received())
}

func TestQuitConcurrentCallers(t *testing.T) {
	b := newTestBridge(t, &enginetest.Launcher{}, nil)
	runReady(t, b)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(force bool) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if force {
				errs <- b.ForceQuit(ctx)
			} else {
				errs <- b.Quit(ctx)
			}
		}(i%2 == 1)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	waitClosed(t, b.QuitDone())
}

func TestQuitBeforeRun(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)

	require.NoError(t, b.Quit(context.Background()))
	assert.Equal(t, StateQuit, b.State())
	assert.ErrorIs(t, b.Run(context.Background()), ErrQuitting)
	assert.Empty(t, l.Specs())
}

func TestForceQuitEscalatesPendingQuit(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{IgnoreDisconnect: true}}
	b := newTestBridge(t, l, nil)
	runReady(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Quit(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateQuitting, b.State())
	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrQuitting)

	require.NoError(t, b.ForceQuit(context.Background()))
	assert.Equal(t, StateQuit, b.State())
	assert.Equal(t, []string{"interrupt"}, l.Last().Signals())

	require.NoError(t, b.ForceQuit(context.Background()))
	assert.Equal(t, []string{"interrupt"}, l.Last().Signals(), "signals must not repeat")
}

func TestForceQuitKillsAfterGrace(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{
		IgnoreTerminate:  true,
		IgnoreDisconnect: true,
	}}
	b := newTestBridge(t, l, nil)
	runReady(t, b)

	start := time.Now()
	require.NoError(t, b.ForceQuit(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, []string{"interrupt", "terminate", "kill"}, l.Last().Signals())
}

func TestBackendExitEndsStream(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)
	sub := b.Subscribe(16)
	runReady(t, b)
	require.Equal(t, nvimbridge.Ready{}, nextEvent(t, sub))

	crash := errors.New("crashed")
	l.Last().Exit(crash)

	assert.Empty(t, drain(t, sub))
	var terr *TransportError
	require.ErrorAs(t, sub.Err(), &terr)
	assert.Equal(t, "backend exit", terr.Op)
	assert.ErrorIs(t, sub.Err(), crash)
	assert.Equal(t, StateFailed, b.State())

	waitClosed(t, b.QuitDone())
	assert.Equal(t, StateFailed, b.State())
	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrQuitting)
}

func TestBackendCleanExitEndsStream(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, nil)
	sub := b.Subscribe(16)
	runReady(t, b)

	l.Last().Exit(nil)

	drain(t, sub)
	assert.ErrorIs(t, sub.Err(), ErrBackendExited)
	waitClosed(t, b.QuitDone())
}

func TestSendFailureFailsSession(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{IgnoreDisconnect: true}}
	b := newTestBridge(t, l, nil)
	sub := b.Subscribe(16)
	runReady(t, b)
	require.Equal(t, nvimbridge.Ready{}, nextEvent(t, sub))

	b.mu.Lock()
	c := b.connector
	b.mu.Unlock()
	c.Close()

	err := b.Input(context.Background(), "x")
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "input", terr.Op)
	assert.ErrorIs(t, err, transport.ErrClosed)

	assert.Empty(t, drain(t, sub))
	assert.ErrorAs(t, sub.Err(), &terr)
	assert.Equal(t, StateFailed, b.State())
	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrSessionFailed)
}

func TestIdleSessionKeepsBackend(t *testing.T) {
	l := &enginetest.Launcher{}
	b := newTestBridge(t, l, func(cfg *nvimbridge.Config) {
		cfg.Session.IdleConnTTL = nvimbridge.Duration{Duration: 100 * time.Millisecond}
	})
	runReady(t, b)

	time.Sleep(500 * time.Millisecond)
	e := l.Last()
	select {
	case <-e.Done():
		t.Fatal("backend exited while the session was idle")
	default:
	}
	assert.Equal(t, StateReady, b.State())

	require.NoError(t, b.Input(context.Background(), "x"))
	m, ok := e.Next(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("x"), m.Payload)
}

func TestQuitDuringHandshakeRejectsWithQuitting(t *testing.T) {
	l := &enginetest.Launcher{Options: enginetest.Options{NoReady: true, IgnoreDisconnect: true}}
	b := newTestBridge(t, l, nil)

	runErr := make(chan error, 1)
	go func() { runErr <- b.Run(context.Background()) }()
	require.Eventually(t, func() bool {
		e := l.Last()
		return e != nil && e.Handshaken()
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Quit(ctx), context.DeadlineExceeded)
	assert.Equal(t, StateQuitting, b.State())
	assert.ErrorIs(t, <-runErr, ErrQuitting)
	assert.ErrorIs(t, b.Input(context.Background(), "x"), ErrQuitting)
	assert.ErrorIs(t, b.Scroll(context.Background(), 0, 1, 0, 0), ErrQuitting)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting_handshake", StateAwaitingHandshake.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "state(42)", State(42).String())
}

func TestTransportErrorFormat(t *testing.T) {
	err := &TransportError{Op: "resize", Err: transport.ErrClosed}
	assert.Equal(t, "transport failure during resize: endpoint closed", err.Error())
	assert.ErrorIs(t, err, transport.ErrClosed)
}
