package codec

import (
	"fmt"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
)

type decodeFunc func(payload []byte) (nvimbridge.Event, error)

// fixed returns a decoder for an opcode with exactly n int words.
func fixed(n int, build func(v []int) nvimbridge.Event) decodeFunc {
	return func(payload []byte) (nvimbridge.Event, error) {
		v, err := DecodeInts(payload, n)
		if err != nil {
			return nil, err
		}
		return build(v), nil
	}
}

// empty returns a decoder for an opcode without payload.
func empty(ev nvimbridge.Event) decodeFunc {
	return fixed(0, func([]int) nvimbridge.Event { return ev })
}

func boolean(build func(b bool) nvimbridge.Event) decodeFunc {
	return func(payload []byte) (nvimbridge.Event, error) {
		b, err := DecodeBool(payload)
		if err != nil {
			return nil, err
		}
		return build(b), nil
	}
}

func text(build func(s string) nvimbridge.Event) decodeFunc {
	return func(payload []byte) (nvimbridge.Event, error) {
		return build(string(payload)), nil
	}
}

var decoders = map[InboundOpcode]decodeFunc{
	Resize: fixed(2, func(v []int) nvimbridge.Event {
		return nvimbridge.Resize{Width: v[0], Height: v[1]}
	}),
	Clear:     empty(nvimbridge.Clear{}),
	SetMenu:   empty(nvimbridge.SetMenu{}),
	BusyStart: empty(nvimbridge.BusyStart{}),
	BusyStop:  empty(nvimbridge.BusyStop{}),
	MouseOn:   empty(nvimbridge.MouseOn{}),
	MouseOff:  empty(nvimbridge.MouseOff{}),
	ModeChange: fixed(1, func(v []int) nvimbridge.Event {
		return nvimbridge.ModeChange{Mode: nvimbridge.ModeShape(v[0])}
	}),
	SetScrollRegion: fixed(4, func(v []int) nvimbridge.Event {
		return nvimbridge.SetScrollRegion{Top: v[0], Bottom: v[1], Left: v[2], Right: v[3]}
	}),
	Scroll: fixed(1, func(v []int) nvimbridge.Event {
		return nvimbridge.Scroll{Delta: v[0]}
	}),
	Unmark: fixed(2, func(v []int) nvimbridge.Event {
		return nvimbridge.Unmark{Row: v[0], Column: v[1]}
	}),
	Bell:       empty(nvimbridge.Bell{}),
	VisualBell: empty(nvimbridge.VisualBell{}),
	Flush: func(payload []byte) (nvimbridge.Event, error) {
		frames, err := DecodeFrames(payload)
		if err != nil {
			return nil, err
		}
		return nvimbridge.Flush{Frames: frames}, nil
	},
	SetForeground: fixed(1, func(v []int) nvimbridge.Event {
		return nvimbridge.SetForeground{Color: v[0]}
	}),
	SetBackground: fixed(1, func(v []int) nvimbridge.Event {
		return nvimbridge.SetBackground{Color: v[0]}
	}),
	SetSpecial: fixed(1, func(v []int) nvimbridge.Event {
		return nvimbridge.SetSpecial{Color: v[0]}
	}),
	SetTitle: text(func(s string) nvimbridge.Event { return nvimbridge.SetTitle{Title: s} }),
	SetIcon:  text(func(s string) nvimbridge.Event { return nvimbridge.SetIcon{Icon: s} }),
	Stop:     empty(nvimbridge.Stop{}),
	DirtyStatusChanged: boolean(func(b bool) nvimbridge.Event {
		return nvimbridge.DirtyStatusChanged{Dirty: b}
	}),
	CwdChanged: text(func(s string) nvimbridge.Event { return nvimbridge.CwdChanged{Path: s} }),
	ColorSchemeChanged: fixed(5, func(v []int) nvimbridge.Event {
		var ev nvimbridge.ColorSchemeChanged
		copy(ev.Values[:], v)
		return ev
	}),
	AutoCommandEvent: decodeAutoCommand,
	Debug1:           empty(nvimbridge.DebugSignal{}),
}

// decodeAutoCommand accepts both payload shapes the backend sends: the event
// kind alone, or the kind followed by a buffer handle.
func decodeAutoCommand(payload []byte) (nvimbridge.Event, error) {
	switch len(payload) {
	case 2 * WordSize:
		v, _ := DecodeInts(payload, 2)
		return nvimbridge.AutoCommand{Kind: nvimbridge.AutoCommandKind(v[0]), Buffer: v[1]}, nil
	case WordSize:
		v, _ := DecodeInts(payload, 1)
		return nvimbridge.AutoCommand{Kind: nvimbridge.AutoCommandKind(v[0]), Buffer: nvimbridge.NoBuffer}, nil
	default:
		return nil, fmt.Errorf("%w: want %d or %d bytes, got %d", ErrPayloadSize, WordSize, 2*WordSize, len(payload))
	}
}

// Decode turns an inbound payload into its event. Unknown opcodes decode to
// nvimbridge.Unknown. The handshake opcodes have no event of their own and
// return an error; use DecodeServerReady and DecodeNvimReady for them.
func Decode(op InboundOpcode, payload []byte) (nvimbridge.Event, error) {
	if !op.Valid() {
		return nvimbridge.Unknown{Opcode: uint32(op)}, nil
	}
	dec, ok := decoders[op]
	if !ok {
		return nil, fmt.Errorf("%s is a handshake message", op)
	}
	ev, err := dec(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", op, err)
	}
	return ev, nil
}

// DecodeServerReady validates the empty serverReady payload.
func DecodeServerReady(payload []byte) error {
	_, err := DecodeInts(payload, 0)
	return err
}

// DecodeNvimReady returns the init-error flag carried by nvimReady.
func DecodeNvimReady(payload []byte) (initError bool, err error) {
	return DecodeBool(payload)
}
