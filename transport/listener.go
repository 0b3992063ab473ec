package transport

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"
)

// Handler receives each inbound message. Messages from one connection are
// handled one at a time, in the order they were sent; the sender is
// acknowledged after Handler returns.
type Handler func(Message)

// Listener accepts connections on a Unix domain socket and dispatches
// their frames to a Handler.
type Listener struct {
	listener net.Listener
	sockPath string
	handler  Handler

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
}

// Listen binds a Unix domain socket at sockPath.
func Listen(sockPath string, handler Handler) (*Listener, error) {
	if inUse(sockPath) {
		return nil, &Error{Op: "listen", Addr: sockPath, Err: ErrAddrInUse}
	}

	// Remove stale socket file if it exists
	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, &Error{Op: "listen", Addr: sockPath, Err: err}
	}

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, &Error{Op: "listen", Addr: sockPath, Err: err}
	}

	return &Listener{
		listener: listener,
		sockPath: sockPath,
		handler:  handler,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// inUse reports whether something accepts connections at sockPath.
func inUse(sockPath string) bool {
	conn, err := net.DialTimeout("unix", sockPath, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Addr returns the socket path.
func (l *Listener) Addr() string {
	return l.sockPath
}

// Serve accepts connections until Close is called. It returns nil after
// Close and the accept error otherwise.
func (l *Listener) Serve() error {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &Error{Op: "serve", Addr: l.sockPath, Err: err}
		}

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			conn.Close()
			return nil
		}
		l.conns[conn] = struct{}{}
		l.wg.Add(1)
		l.mu.Unlock()

		go l.handleConn(conn)
	}
}

// Close stops accepting, closes live connections and removes the socket
// file. It is safe to call more than once.
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.mu.Lock()
		l.closed = true
		for conn := range l.conns {
			conn.Close()
		}
		l.mu.Unlock()

		err = l.listener.Close()
		os.Remove(l.sockPath)
	})
	return err
}

// Wait blocks until every connection handler has returned.
func (l *Listener) Wait() {
	l.wg.Wait()
}

func (l *Listener) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		l.wg.Done()
	}()

	r := bufio.NewReader(conn)
	for {
		m, err := ReadFrame(r)
		if err != nil {
			if !isClosedConn(err) {
				slog.Debug("transport: read frame", "addr", l.sockPath, "error", err)
			}
			return
		}

		l.handler(m)

		if _, err := conn.Write([]byte{ackByte}); err != nil {
			if !isClosedConn(err) {
				slog.Debug("transport: write ack", "addr", l.sockPath, "error", err)
			}
			return
		}
	}
}
