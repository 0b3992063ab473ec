// Package enginetest provides an in-process fake NvimServer backend for
// tests, in the spirit of net/http/httptest. An Engine speaks the real
// transport and handshake and stands in for the backend process.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paranoid-AF/nvimbridge/codec"
	"github.com/Paranoid-AF/nvimbridge/process"
	"github.com/Paranoid-AF/nvimbridge/transport"
)

const sendTimeout = 5 * time.Second

var nextPid atomic.Int64

func init() {
	nextPid.Store(40000)
}

// Options script the engine's behaviour.
type Options struct {
	// InitError is reported in nvimReady.
	InitError bool
	// NoHandshake keeps the engine silent: serverReady is never sent.
	NoHandshake bool
	// NoReady sends serverReady but never nvimReady.
	NoReady bool
	// ReadyDelay is waited between agentReady and nvimReady.
	ReadyDelay time.Duration
	// IgnoreTerminate makes SIGINT and SIGTERM no-ops; only SIGKILL stops it.
	IgnoreTerminate bool
	// IgnoreDisconnect keeps the engine running after the front-end hangs up.
	IgnoreDisconnect bool
}

// Engine is a fake backend. It implements process.Process.
type Engine struct {
	opts Options
	pid  int

	// Inbound is the front-end's endpoint; Outbound is the engine's own.
	Inbound  string
	Outbound string
	Args     []string
	Env      []string
	Dir      string

	ln        net.Listener
	connector *transport.Connector

	mu         sync.Mutex
	conns      map[net.Conn]struct{}
	received   []transport.Message
	signals    []string
	agentReady []int

	messages   chan transport.Message
	handshaken chan struct{}
	handOnce   sync.Once
	done       chan struct{}
	exitOnce   sync.Once
	exitErr    error
}

// Start brings up an engine for spec. spec.Args must start with the
// front-end's inbound address and the engine's outbound address.
func Start(spec process.LaunchSpec, opts Options) (*Engine, error) {
	if len(spec.Args) < 2 {
		return nil, fmt.Errorf("enginetest: need 2 address arguments, got %d", len(spec.Args))
	}

	e := &Engine{
		opts:       opts,
		pid:        int(nextPid.Add(1)),
		Inbound:    spec.Args[0],
		Outbound:   spec.Args[1],
		Args:       spec.Args,
		Env:        spec.Env,
		Dir:        spec.Dir,
		connector:  transport.NewConnector(0),
		conns:      make(map[net.Conn]struct{}),
		messages:   make(chan transport.Message, 256),
		handshaken: make(chan struct{}),
		done:       make(chan struct{}),
	}

	if err := os.Remove(e.Outbound); err != nil && !os.IsNotExist(err) {
		e.connector.Close()
		return nil, err
	}
	ln, err := net.Listen("unix", e.Outbound)
	if err != nil {
		e.connector.Close()
		return nil, err
	}
	e.ln = ln

	go e.accept()
	go e.handshake()
	return e, nil
}

func (e *Engine) accept() {
	for {
		conn, err := e.ln.Accept()
		if err != nil {
			return
		}
		e.mu.Lock()
		e.conns[conn] = struct{}{}
		e.mu.Unlock()
		go e.serve(conn)
	}
}

func (e *Engine) serve(conn net.Conn) {
	defer func() {
		e.mu.Lock()
		delete(e.conns, conn)
		e.mu.Unlock()
		conn.Close()
	}()

	for {
		m, err := transport.ReadFrame(conn)
		if err != nil {
			// The front-end hung up.
			if !e.opts.IgnoreDisconnect && e.Handshaken() {
				e.exit(nil)
			}
			return
		}
		e.record(m)
		if _, err := conn.Write([]byte{0x06}); err != nil {
			return
		}
	}
}

func (e *Engine) record(m transport.Message) {
	if codec.OutboundOpcode(m.Opcode) == codec.AgentReady {
		size, err := codec.DecodeInts(m.Payload, 2)
		e.mu.Lock()
		if err == nil {
			e.agentReady = size
		}
		e.mu.Unlock()
		e.handOnce.Do(func() { close(e.handshaken) })
		return
	}

	e.mu.Lock()
	e.received = append(e.received, m)
	e.mu.Unlock()
	select {
	case e.messages <- m:
	default:
	}
}

func (e *Engine) handshake() {
	if e.opts.NoHandshake {
		return
	}
	if err := e.Send(codec.ServerReady, nil); err != nil {
		e.exit(fmt.Errorf("send serverReady: %w", err))
		return
	}

	select {
	case <-e.handshaken:
	case <-e.done:
		return
	}
	if e.opts.NoReady {
		return
	}
	if e.opts.ReadyDelay > 0 {
		select {
		case <-time.After(e.opts.ReadyDelay):
		case <-e.done:
			return
		}
	}
	if err := e.Send(codec.NvimReady, codec.EncodeBool(e.opts.InitError)); err != nil {
		e.exit(fmt.Errorf("send nvimReady: %w", err))
	}
}

// Send delivers one message to the front-end and waits for its ack.
func (e *Engine) Send(op codec.InboundOpcode, payload []byte) error {
	return e.SendRaw(uint32(op), payload)
}

// SendRaw is Send for arbitrary opcodes.
func (e *Engine) SendRaw(op uint32, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	return e.connector.Send(ctx, e.Inbound, op, payload)
}

// Handshaken reports whether agentReady has arrived.
func (e *Engine) Handshaken() bool {
	select {
	case <-e.handshaken:
		return true
	default:
		return false
	}
}

// AgentReady returns the width and height from the handshake reply.
func (e *Engine) AgentReady() (width, height int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.agentReady) != 2 {
		return 0, 0, false
	}
	return e.agentReady[0], e.agentReady[1], true
}

// Next returns the next message from the front-end, other than agentReady.
func (e *Engine) Next(timeout time.Duration) (transport.Message, bool) {
	select {
	case m := <-e.messages:
		return m, true
	case <-time.After(timeout):
		return transport.Message{}, false
	}
}

// Received returns every message received so far, other than agentReady.
func (e *Engine) Received() []transport.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]transport.Message, len(e.received))
	copy(out, e.received)
	return out
}

// Signals returns the signals delivered so far, in order.
func (e *Engine) Signals() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.signals))
	copy(out, e.signals)
	return out
}

// Exit stops the engine as if the process exited with err.
func (e *Engine) Exit(err error) {
	e.exit(err)
}

func (e *Engine) exit(err error) {
	e.exitOnce.Do(func() {
		e.exitErr = err
		e.ln.Close()
		e.mu.Lock()
		for conn := range e.conns {
			conn.Close()
		}
		e.mu.Unlock()
		e.connector.Close()
		os.Remove(e.Outbound)
		close(e.done)
	})
}

func (e *Engine) exited() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Engine) signal(name string, fatal bool) error {
	if e.exited() {
		return process.ErrNotRunning
	}
	e.mu.Lock()
	e.signals = append(e.signals, name)
	e.mu.Unlock()
	if fatal {
		e.exit(errors.New("signal: " + name))
	}
	return nil
}

func (e *Engine) Pid() int { return e.pid }

func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) Wait() error {
	<-e.done
	return e.exitErr
}

func (e *Engine) Interrupt() error { return e.signal("interrupt", !e.opts.IgnoreTerminate) }
func (e *Engine) Terminate() error { return e.signal("terminate", !e.opts.IgnoreTerminate) }
func (e *Engine) Kill() error      { return e.signal("kill", true) }

var _ process.Process = (*Engine)(nil)
