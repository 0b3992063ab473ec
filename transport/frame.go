// Package transport carries opcode-tagged messages between the bridge and
// the backend over Unix domain sockets.
//
// Each endpoint is one direction: a Listener receives, a Connector sends.
// Every frame is acknowledged with a single byte once the receiving handler
// has returned, so Send doubles as a delivery confirmation.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the fixed frame header: [Opcode:4][Len:4], little-endian.
const HeaderSize = 8

// MaxPayload bounds a single frame payload.
const MaxPayload = 64 << 20

// ackByte is written by the receiver after each handled frame.
const ackByte = 0x06

var (
	// ErrAddrInUse is returned by Listen when another listener answers at the address.
	ErrAddrInUse = errors.New("address in use")
	// ErrClosed is returned when using a closed endpoint.
	ErrClosed = errors.New("endpoint closed")
	// ErrPayloadTooLarge is returned for payloads above MaxPayload.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
	// ErrBadAck is returned when the peer answers with something other than an ack.
	ErrBadAck = errors.New("unexpected acknowledgement")
)

// Error describes a failed transport operation.
type Error struct {
	Op   string // listen, connect, send, serve
	Addr string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is one protocol message.
type Message struct {
	Opcode  uint32
	Payload []byte
}

// WriteFrame writes m with its header.
func WriteFrame(w io.Writer, m Message) error {
	if len(m.Payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], m.Opcode)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(m.Payload)))
	copy(buf[HeaderSize:], m.Payload)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame. An empty payload is returned as nil.
func ReadFrame(r io.Reader) (Message, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, err
	}

	m := Message{Opcode: binary.LittleEndian.Uint32(header[0:4])}
	n := binary.LittleEndian.Uint32(header[4:8])
	if n > MaxPayload {
		return Message{}, ErrPayloadTooLarge
	}
	if n > 0 {
		m.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return Message{}, err
		}
	}
	return m, nil
}
