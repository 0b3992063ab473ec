package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WordSize is the width in bytes of every integer and boolean on the wire.
const WordSize = 8

var (
	// ErrPayloadSize is returned when a payload does not have the size its opcode requires.
	ErrPayloadSize = errors.New("payload size mismatch")
	// ErrMalformedFrames is returned for a flush payload that is not a valid frame sequence.
	ErrMalformedFrames = errors.New("malformed frame sequence")
)

// EncodeInts writes each value as one word.
func EncodeInts(values ...int) []byte {
	buf := make([]byte, len(values)*WordSize)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*WordSize:], uint64(int64(v)))
	}
	return buf
}

// DecodeInts reads exactly n words from payload.
func DecodeInts(payload []byte, n int) ([]int, error) {
	if len(payload) != n*WordSize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrPayloadSize, n*WordSize, len(payload))
	}
	values := make([]int, n)
	for i := range values {
		values[i] = int(int64(binary.LittleEndian.Uint64(payload[i*WordSize:])))
	}
	return values, nil
}

// EncodeBool writes b as one word.
func EncodeBool(b bool) []byte {
	if b {
		return EncodeInts(1)
	}
	return EncodeInts(0)
}

// DecodeBool reads one word; any non-zero value is true.
func DecodeBool(payload []byte) (bool, error) {
	v, err := DecodeInts(payload, 1)
	if err != nil {
		return false, err
	}
	return v[0] != 0, nil
}

// EncodeFrames writes a frame sequence: a count word, then for each frame a
// length word followed by the frame bytes.
func EncodeFrames(frames [][]byte) []byte {
	size := WordSize
	for _, f := range frames {
		size += WordSize + len(f)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(frames)))
	for _, f := range frames {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

// DecodeFrames reads a frame sequence written by EncodeFrames. The payload
// must be consumed exactly.
func DecodeFrames(payload []byte) ([][]byte, error) {
	if len(payload) < WordSize {
		return nil, fmt.Errorf("%w: missing count", ErrMalformedFrames)
	}
	count := binary.LittleEndian.Uint64(payload)
	rest := payload[WordSize:]

	// Every frame needs at least its length word.
	if count > uint64(len(rest)/WordSize) {
		return nil, fmt.Errorf("%w: count %d exceeds payload", ErrMalformedFrames, count)
	}

	frames := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		if len(rest) < WordSize {
			return nil, fmt.Errorf("%w: frame %d: missing length", ErrMalformedFrames, i)
		}
		n := binary.LittleEndian.Uint64(rest)
		rest = rest[WordSize:]
		if n > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: frame %d: length %d overruns payload", ErrMalformedFrames, i, n)
		}
		frame := make([]byte, n)
		copy(frame, rest[:n])
		frames = append(frames, frame)
		rest = rest[n:]
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrames, len(rest))
	}
	return frames, nil
}
