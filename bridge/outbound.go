package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Paranoid-AF/nvimbridge/codec"
)

// Input sends text typed by the user.
func (b *Bridge) Input(ctx context.Context, text string) error {
	return b.send(ctx, codec.Input, codec.EncodeInput(text))
}

// InputMarked sends text an input method is still composing.
func (b *Bridge) InputMarked(ctx context.Context, text string) error {
	return b.send(ctx, codec.InputMarked, codec.EncodeInputMarked(text))
}

// DeleteCharacters deletes n characters before the cursor.
func (b *Bridge) DeleteCharacters(ctx context.Context, n int) error {
	return b.send(ctx, codec.Delete, codec.EncodeDelete(n))
}

// Resize requests a new grid size.
func (b *Bridge) Resize(ctx context.Context, width, height int) error {
	return b.send(ctx, codec.ResizeGrid, codec.EncodeResize(width, height))
}

// FocusGained reports the front-end window gaining or losing focus.
func (b *Bridge) FocusGained(ctx context.Context, gained bool) error {
	return b.send(ctx, codec.FocusGained, codec.EncodeFocusGained(gained))
}

// Scroll sends a scroll wheel event at row, column.
func (b *Bridge) Scroll(ctx context.Context, horizontal, vertical, row, column int) error {
	return b.send(ctx, codec.ScrollWheel, codec.EncodeScroll(horizontal, vertical, row, column))
}

// Debug asks the backend to dump its debug state.
func (b *Bridge) Debug(ctx context.Context) error {
	return b.send(ctx, codec.DebugOut, nil)
}

// send delivers a front-end request. Nothing is sent before the backend is
// ready or once the session is quitting.
func (b *Bridge) send(ctx context.Context, op codec.OutboundOpcode, payload []byte) error {
	b.mu.Lock()
	var err error
	switch {
	case b.quitting:
		err = ErrQuitting
	case !b.ready:
		err = ErrNotReady
	case b.failErr != nil:
		err = fmt.Errorf("%w: %w", ErrSessionFailed, b.failErr)
	}
	b.mu.Unlock()

	if err != nil {
		b.metrics.SendErrors.WithLabelValues(op.String(), rejectReason(err)).Inc()
		return err
	}
	return b.deliver(ctx, op, payload)
}

// sendHandshakeReply sends agentReady, the one message allowed before ready.
func (b *Bridge) sendHandshakeReply(ctx context.Context) error {
	if b.isQuitting() {
		b.metrics.SendErrors.WithLabelValues(codec.AgentReady.String(), "quitting").Inc()
		return ErrQuitting
	}
	return b.deliver(ctx, codec.AgentReady, codec.EncodeAgentReady(b.width, b.height))
}

func (b *Bridge) deliver(ctx context.Context, op codec.OutboundOpcode, payload []byte) error {
	parent := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	err := b.connector.Send(ctx, b.outbound, uint32(op), payload)
	if err == nil {
		b.metrics.MessagesSent.WithLabelValues(op.String()).Inc()
		b.metrics.SendLatency.WithLabelValues(op.String()).Observe(time.Since(start).Seconds())
		return nil
	}

	b.metrics.SendErrors.WithLabelValues(op.String(), "transport").Inc()
	terr := &TransportError{Op: op.String(), Err: err}
	// Caller cancellation and sends racing shutdown leave the session intact.
	if parent.Err() == nil && !b.isQuitting() {
		b.log.Error("send failed", "opcode", op.String(), "error", err)
		b.fail(terr)
	}
	return terr
}

func (b *Bridge) isQuitting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.quitting
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrQuitting):
		return "quitting"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	default:
		return "failed"
	}
}
