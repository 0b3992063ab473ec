package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultIdleTTL = 5 * time.Minute

// peer is a cached outbound connection. mu serialises frames and their acks;
// close may run concurrently with a send and fails it.
type peer struct {
	mu     sync.Mutex
	conn   net.Conn
	closed atomic.Bool
}

func (p *peer) close() {
	if p.closed.CompareAndSwap(false, true) {
		p.conn.Close()
	}
}

// Connector sends messages to listeners, keeping one connection per address.
// Connections unused for the idle TTL are closed, except to pinned addresses.
type Connector struct {
	cache *ttlcache.Cache[string, *peer]
	dial  func(ctx context.Context, addr string) (net.Conn, error)

	mu     sync.Mutex // guards dialling, pinned and closed
	pinned map[string]bool
	closed bool
	once   sync.Once
}

// NewConnector creates a Connector. A non-positive idleTTL selects five minutes.
func NewConnector(idleTTL time.Duration) *Connector {
	if idleTTL <= 0 {
		idleTTL = defaultIdleTTL
	}
	c := ttlcache.New[string, *peer](
		ttlcache.WithTTL[string, *peer](idleTTL),
	)
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *peer]) {
		slog.Debug("transport: closing connection", "addr", item.Key(), "reason", reason)
		item.Value().close()
	})
	go c.Start()

	var d net.Dialer
	return &Connector{
		cache:  c,
		pinned: make(map[string]bool),
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "unix", addr)
		},
	}
}

// Connect dials addr unless a live connection is cached already.
func (c *Connector) Connect(ctx context.Context, addr string) error {
	_, err := c.peer(ctx, addr)
	return err
}

// Pin is Connect for a long-lived peer: the connection to addr never expires
// for idleness, including connections redialled after a send failure.
func (c *Connector) Pin(ctx context.Context, addr string) error {
	c.mu.Lock()
	c.pinned[addr] = true
	if item := c.cache.Get(addr, ttlcache.WithDisableTouchOnHit[string, *peer]()); item != nil {
		c.cache.Set(addr, item.Value(), ttlcache.NoTTL)
	}
	c.mu.Unlock()
	return c.Connect(ctx, addr)
}

func (c *Connector) peer(ctx context.Context, addr string) (*peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, &Error{Op: "connect", Addr: addr, Err: ErrClosed}
	}
	if item := c.cache.Get(addr); item != nil {
		return item.Value(), nil
	}

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, &Error{Op: "connect", Addr: addr, Err: err}
	}
	p := &peer{conn: conn}
	ttl := ttlcache.DefaultTTL
	if c.pinned[addr] {
		ttl = ttlcache.NoTTL
	}
	c.cache.Set(addr, p, ttl)
	return p, nil
}

// Send writes one message to addr and blocks until the receiver acknowledges
// it. A deadline on ctx bounds both the write and the wait for the ack.
func (c *Connector) Send(ctx context.Context, addr string, opcode uint32, payload []byte) error {
	p, err := c.peer(ctx, addr)
	if err != nil {
		return err
	}

	if err := p.send(ctx, Message{Opcode: opcode, Payload: payload}); err != nil {
		// The stream may be mid-frame; never reuse it.
		c.drop(addr, p)
		return &Error{Op: "send", Addr: addr, Err: err}
	}
	return nil
}

func (p *peer) send(ctx context.Context, m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		p.conn.SetDeadline(deadline)
		defer p.conn.SetDeadline(time.Time{})
	}

	if err := WriteFrame(p.conn, m); err != nil {
		return err
	}

	var ack [1]byte
	if _, err := io.ReadFull(p.conn, ack[:]); err != nil {
		return err
	}
	if ack[0] != ackByte {
		return ErrBadAck
	}
	return nil
}

// drop evicts p if it is still the cached connection for addr.
func (c *Connector) drop(addr string, p *peer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.cache.Get(addr, ttlcache.WithDisableTouchOnHit[string, *peer]()); item != nil && item.Value() == p {
		c.cache.Delete(addr)
	}
	p.close()
}

// Disconnect closes the cached connection to addr, if any.
func (c *Connector) Disconnect(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Delete(addr)
}

// Close closes every cached connection and stops the expiry loop. It is
// safe to call more than once.
func (c *Connector) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.cache.DeleteAll()
		c.mu.Unlock()
		c.cache.Stop()
	})
}

// isClosedConn reports errors that just mean the peer or we hung up.
func isClosedConn(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
