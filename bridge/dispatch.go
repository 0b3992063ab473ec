package bridge

import (
	"context"
	"time"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
	"github.com/Paranoid-AF/nvimbridge/codec"
	"github.com/Paranoid-AF/nvimbridge/transport"
)

// handleMessage is the inbound listener's handler. Messages arrive one at a
// time per connection, so events are published in arrival order.
func (b *Bridge) handleMessage(m transport.Message) {
	op := codec.InboundOpcode(m.Opcode)
	label := "unknown"
	if op.Valid() {
		label = op.String()
	}
	b.metrics.MessagesReceived.WithLabelValues(label).Inc()

	switch op {
	case codec.ServerReady:
		b.handleServerReady(m.Payload)
		return
	case codec.NvimReady:
		b.handleNvimReady(m.Payload)
		return
	}

	ev, err := codec.Decode(op, m.Payload)
	if err != nil {
		b.log.Debug("dropping message", "opcode", label, "size", len(m.Payload), "error", err)
		b.metrics.MessagesDropped.WithLabelValues(label).Inc()
		return
	}
	b.publish(ev)
}

func (b *Bridge) publish(ev nvimbridge.Event) {
	b.metrics.EventsPublished.WithLabelValues(ev.Name()).Inc()
	b.stream.Publish(ev)
}

// handleServerReady answers the backend's first handshake message with the
// initial grid size.
func (b *Bridge) handleServerReady(payload []byte) {
	if err := codec.DecodeServerReady(payload); err != nil {
		b.log.Debug("dropping serverReady", "error", err)
		b.metrics.MessagesDropped.WithLabelValues(codec.ServerReady.String()).Inc()
		return
	}

	b.mu.Lock()
	if b.quitting {
		b.mu.Unlock()
		return
	}
	b.serverReadySeen = true
	b.mu.Unlock()

	b.log.Debug("backend server ready, replying", "width", b.width, "height", b.height)
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()

	err := b.connector.Pin(ctx, b.outbound)
	if err == nil {
		err = b.sendHandshakeReply(ctx)
	}
	if err != nil && !b.isQuitting() {
		b.log.Error("handshake reply failed", "error", err)
		b.fail(&TransportError{Op: "handshake", Err: err})
	}
}

// handleNvimReady opens the ready gate. It is ignored unless the session is
// still waiting for the handshake, which also covers a message arriving
// after the ready deadline.
func (b *Bridge) handleNvimReady(payload []byte) {
	initError, err := codec.DecodeNvimReady(payload)
	if err != nil {
		b.log.Debug("dropping nvimReady", "error", err)
		b.metrics.MessagesDropped.WithLabelValues(codec.NvimReady.String()).Inc()
		return
	}

	b.mu.Lock()
	switch {
	case !b.serverReadySeen:
		b.mu.Unlock()
		b.log.Warn("nvimReady before serverReady, ignoring")
		return
	case b.ready || b.state != StateAwaitingHandshake:
		b.mu.Unlock()
		b.log.Debug("ignoring nvimReady", "state", b.State())
		return
	}
	b.ready = true
	b.initError = initError
	b.setState(StateReady)
	launchedAt := b.launchedAt
	b.mu.Unlock()

	b.metrics.HandshakeTime.Observe(time.Since(launchedAt).Seconds())
	b.log.Info("backend ready", "init_error", initError)

	// Published before this message is acknowledged, so nothing the backend
	// sends afterwards can overtake it.
	b.publish(nvimbridge.Ready{})
	if initError {
		b.publish(nvimbridge.InitError{})
	}
	close(b.readyCh)
}
