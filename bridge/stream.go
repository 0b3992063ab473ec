package bridge

import (
	"sync"
	"sync/atomic"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
)

const defaultSubscriptionBuffer = 256

// Stream is the broadcast channel of session events. It has one writer, the
// bridge, and any number of subscribers. Publishing never drops: it waits
// for every subscriber to take the event, so subscribers must keep reading
// or unsubscribe.
type Stream struct {
	mu     sync.RWMutex
	subs   []*Subscription
	closed bool
	err    error

	closing  chan struct{}
	inflight sync.WaitGroup
	once     sync.Once

	published atomic.Uint64
}

// Subscription receives the events of one Stream.
type Subscription struct {
	ch     chan nvimbridge.Event
	done   chan struct{}
	once   sync.Once
	stream *Stream
}

// NewStream creates an open stream.
func NewStream() *Stream {
	return &Stream{closing: make(chan struct{})}
}

// Subscribe returns a subscription with the given channel buffer. A
// subscription taken after the stream closed starts out closed.
func (s *Stream) Subscribe(bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = defaultSubscriptionBuffer
	}
	sub := &Subscription{
		ch:     make(chan nvimbridge.Event, bufSize),
		done:   make(chan struct{}),
		stream: s,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(sub.ch)
		return sub
	}
	subs := make([]*Subscription, len(s.subs), len(s.subs)+1)
	copy(subs, s.subs)
	s.subs = append(subs, sub)
	return sub
}

// Publish delivers e to every current subscriber, in subscription order.
// It returns early if the stream closes. Publishing on a closed stream is a
// no-op.
func (s *Stream) Publish(e nvimbridge.Event) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return
	}
	s.inflight.Add(1)
	subs := s.subs
	s.mu.RUnlock()
	defer s.inflight.Done()

	s.published.Add(1)
	for _, sub := range subs {
		select {
		case sub.ch <- e:
		case <-sub.done:
		case <-s.closing:
			return
		}
	}
}

// Close ends the stream without error.
func (s *Stream) Close() {
	s.CloseWithError(nil)
}

// CloseWithError ends the stream; subscribers see their channel closed and
// Err returns err. Only the first close counts.
func (s *Stream) CloseWithError(err error) {
	s.once.Do(func() {
		close(s.closing)

		s.mu.Lock()
		s.closed = true
		s.err = err
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()

		// No Publish can start now; wait for those already sending.
		s.inflight.Wait()
		for _, sub := range subs {
			close(sub.ch)
		}
	})
}

// Err returns the error the stream was closed with.
func (s *Stream) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Closed reports whether the stream has been closed.
func (s *Stream) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Published returns how many events have been published.
func (s *Stream) Published() uint64 {
	return s.published.Load()
}

// C returns the event channel. It is closed when the stream ends.
func (sub *Subscription) C() <-chan nvimbridge.Event {
	return sub.ch
}

// Err returns the stream's terminal error once C is closed; nil means the
// session ended normally.
func (sub *Subscription) Err() error {
	return sub.stream.Err()
}

// Unsubscribe stops delivery to this subscription. The channel is NOT
// closed by this method.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		close(sub.done)

		s := sub.stream
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := make([]*Subscription, 0, len(s.subs))
		for _, other := range s.subs {
			if other != sub {
				subs = append(subs, other)
			}
		}
		s.subs = subs
	})
}
