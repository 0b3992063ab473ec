// Package codec encodes and decodes NvimServer protocol payloads.
//
// Every message is tagged with an opcode; the opcode fixes the payload
// layout, so payloads carry no length prefix or type information of their
// own. Integers occupy one 8-byte little-endian word. Booleans occupy one
// word holding 0 or 1. Strings are the raw UTF-8 payload.
package codec

import "fmt"

// InboundOpcode tags a backend → front-end message.
type InboundOpcode uint32

const (
	// ServerReady has no payload. It asks the front-end to connect to the
	// backend and reply with AgentReady.
	ServerReady InboundOpcode = iota
	// NvimReady carries 1 bool: whether nvim reported a startup error.
	NvimReady
	// Resize carries 2 ints: width, height.
	Resize
	Clear
	SetMenu
	BusyStart
	BusyStop
	MouseOn
	MouseOff
	// ModeChange carries 1 int: the mode shape.
	ModeChange
	// SetScrollRegion carries 4 ints: top, bottom, left, right.
	SetScrollRegion
	// Scroll carries 1 int: the row delta.
	Scroll
	// Unmark carries 2 ints: row, column.
	Unmark
	Bell
	VisualBell
	// Flush carries a frame sequence, see DecodeFrames.
	Flush
	SetForeground
	SetBackground
	SetSpecial
	// SetTitle carries UTF-8 text.
	SetTitle
	// SetIcon carries UTF-8 text.
	SetIcon
	Stop
	// DirtyStatusChanged carries 1 bool.
	DirtyStatusChanged
	// CwdChanged carries a UTF-8 path.
	CwdChanged
	// ColorSchemeChanged carries 5 ints.
	ColorSchemeChanged
	// AutoCommandEvent carries 1 or 2 ints: event kind and optional buffer handle.
	AutoCommandEvent
	Debug1

	inboundCount
)

var inboundNames = [...]string{
	"serverReady", "nvimReady", "resize", "clear", "setMenu",
	"busyStart", "busyStop", "mouseOn", "mouseOff", "modeChange",
	"setScrollRegion", "scroll", "unmark", "bell", "visualBell", "flush",
	"setForeground", "setBackground", "setSpecial", "setTitle", "setIcon",
	"stop", "dirtyStatusChanged", "cwdChanged", "colorSchemeChanged",
	"autoCommandEvent", "debug1",
}

// Valid reports whether op is a known inbound opcode.
func (op InboundOpcode) Valid() bool {
	return op < inboundCount
}

func (op InboundOpcode) String() string {
	if op.Valid() {
		return inboundNames[op]
	}
	return fmt.Sprintf("inbound(%d)", uint32(op))
}

// OutboundOpcode tags a front-end → backend message.
type OutboundOpcode uint32

const (
	// AgentReady carries 2 ints: initial width, height.
	AgentReady OutboundOpcode = iota
	// Input carries UTF-8 text typed by the user.
	Input
	// InputMarked carries UTF-8 text still being composed by an input method.
	InputMarked
	// Delete carries 1 int: how many characters to delete.
	Delete
	// ResizeGrid carries 2 ints: width, height.
	ResizeGrid
	// FocusGained carries 1 bool.
	FocusGained
	// ScrollWheel carries 4 ints: horizontal, vertical, row, column.
	ScrollWheel
	// DebugOut has no payload.
	DebugOut

	outboundCount
)

var outboundNames = [...]string{
	"agentReady", "input", "inputMarked", "delete", "resize",
	"focusGained", "scroll", "debug1",
}

// Valid reports whether op is a known outbound opcode.
func (op OutboundOpcode) Valid() bool {
	return op < outboundCount
}

func (op OutboundOpcode) String() string {
	if op.Valid() {
		return outboundNames[op]
	}
	return fmt.Sprintf("outbound(%d)", uint32(op))
}
