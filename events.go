package nvimbridge

import "fmt"

// Event is a decoded message from the backend. The set of implementations is
// closed; switch on the concrete type.
type Event interface {
	// Name returns the protocol name of the event.
	Name() string
	event()
}

// ModeShape is the cursor mode reported by ModeChange.
type ModeShape int

const (
	ModeNormal ModeShape = iota
	ModeVisual
	ModeInsert
	ModeReplace
	ModeCmdlineNormal
	ModeCmdlineInsert
	ModeCmdlineReplace
	ModeOperatorPending
	ModeVisualExclusive
	ModeOnCmdline
	ModeOnStatusLine
	ModeDraggingStatusLine
	ModeOnVerticalSepLine
	ModeDraggingVerticalSepLine
	ModeMore
	ModeMoreLastLine
	ModeShowingMatchingParen
	ModeTermFocus
)

var modeNames = [...]string{
	"normal", "visual", "insert", "replace",
	"cmdline_normal", "cmdline_insert", "cmdline_replace",
	"operator", "visual_select", "cmdline_hover",
	"statusline_hover", "statusline_drag", "vsep_hover", "vsep_drag",
	"more", "more_lastline", "showmatch", "terminal",
}

func (m ModeShape) String() string {
	if m >= 0 && int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// AutoCommandKind identifies the Vim autocommand behind an AutoCommand event.
type AutoCommandKind int

const (
	AutoCmdBufDelete AutoCommandKind = iota
	AutoCmdBufEnter
	AutoCmdBufHidden
	AutoCmdBufLeave
	AutoCmdBufModifiedSet
	AutoCmdBufNewFile
	AutoCmdBufReadPost
	AutoCmdBufWinEnter
	AutoCmdBufWinLeave
	AutoCmdBufWritePost
	AutoCmdColorScheme
	AutoCmdCursorMoved
	AutoCmdDirChanged
	AutoCmdTabEnter
	AutoCmdTextChanged
	AutoCmdVimEnter
)

var autoCmdNames = [...]string{
	"BufDelete", "BufEnter", "BufHidden", "BufLeave", "BufModifiedSet",
	"BufNewFile", "BufReadPost", "BufWinEnter", "BufWinLeave", "BufWritePost",
	"ColorScheme", "CursorMoved", "DirChanged", "TabEnter", "TextChanged",
	"VimEnter",
}

func (k AutoCommandKind) String() string {
	if k >= 0 && int(k) < len(autoCmdNames) {
		return autoCmdNames[k]
	}
	return fmt.Sprintf("autocmd(%d)", int(k))
}

// NoBuffer is the buffer handle of an AutoCommand that carried none.
const NoBuffer = -1

type (
	// Ready is published once when the backend completed the handshake.
	Ready struct{}
	// InitError follows Ready when the backend reported a startup error.
	InitError struct{}

	Resize struct{ Width, Height int }
	Clear  struct{}
	// SetMenu asks the front-end to refresh its menus.
	SetMenu   struct{}
	BusyStart struct{}
	BusyStop  struct{}
	MouseOn   struct{}
	MouseOff  struct{}

	ModeChange struct{ Mode ModeShape }

	SetScrollRegion struct{ Top, Bottom, Left, Right int }
	Scroll          struct{ Delta int }
	// Unmark clears the marked-text position at the given cell.
	Unmark struct{ Row, Column int }

	Bell       struct{}
	VisualBell struct{}

	// Flush carries opaque render frames, one per buffered draw batch.
	Flush struct{ Frames [][]byte }

	SetForeground struct{ Color int }
	SetBackground struct{ Color int }
	SetSpecial    struct{ Color int }
	SetTitle      struct{ Title string }
	SetIcon       struct{ Icon string }

	// Stop reports that the backend is shutting down on its own.
	Stop struct{}

	DirtyStatusChanged struct{ Dirty bool }
	CwdChanged         struct{ Path string }
	// ColorSchemeChanged carries normal fg/bg, visual fg/bg and directory fg.
	ColorSchemeChanged struct{ Values [5]int }

	// AutoCommand reports an autocommand; Buffer is NoBuffer when absent.
	AutoCommand struct {
		Kind   AutoCommandKind
		Buffer int
	}

	DebugSignal struct{}

	// Unknown is published for opcodes this bridge does not know.
	Unknown struct{ Opcode uint32 }
)

func (Ready) Name() string              { return "ready" }
func (InitError) Name() string          { return "initVimError" }
func (Resize) Name() string             { return "resize" }
func (Clear) Name() string              { return "clear" }
func (SetMenu) Name() string            { return "setMenu" }
func (BusyStart) Name() string          { return "busyStart" }
func (BusyStop) Name() string           { return "busyStop" }
func (MouseOn) Name() string            { return "mouseOn" }
func (MouseOff) Name() string           { return "mouseOff" }
func (ModeChange) Name() string         { return "modeChange" }
func (SetScrollRegion) Name() string    { return "setScrollRegion" }
func (Scroll) Name() string             { return "scroll" }
func (Unmark) Name() string             { return "unmark" }
func (Bell) Name() string               { return "bell" }
func (VisualBell) Name() string         { return "visualBell" }
func (Flush) Name() string              { return "flush" }
func (SetForeground) Name() string      { return "setForeground" }
func (SetBackground) Name() string      { return "setBackground" }
func (SetSpecial) Name() string         { return "setSpecial" }
func (SetTitle) Name() string           { return "setTitle" }
func (SetIcon) Name() string            { return "setIcon" }
func (Stop) Name() string               { return "stop" }
func (DirtyStatusChanged) Name() string { return "dirtyStatusChanged" }
func (CwdChanged) Name() string         { return "cwdChanged" }
func (ColorSchemeChanged) Name() string { return "colorSchemeChanged" }
func (AutoCommand) Name() string        { return "autoCommandEvent" }
func (DebugSignal) Name() string        { return "debug1" }
func (Unknown) Name() string            { return "unknown" }

func (Ready) event()              {}
func (InitError) event()          {}
func (Resize) event()             {}
func (Clear) event()              {}
func (SetMenu) event()            {}
func (BusyStart) event()          {}
func (BusyStop) event()           {}
func (MouseOn) event()            {}
func (MouseOff) event()           {}
func (ModeChange) event()         {}
func (SetScrollRegion) event()    {}
func (Scroll) event()             {}
func (Unmark) event()             {}
func (Bell) event()               {}
func (VisualBell) event()         {}
func (Flush) event()              {}
func (SetForeground) event()      {}
func (SetBackground) event()      {}
func (SetSpecial) event()         {}
func (SetTitle) event()           {}
func (SetIcon) event()            {}
func (Stop) event()               {}
func (DirtyStatusChanged) event() {}
func (CwdChanged) event()         {}
func (ColorSchemeChanged) event() {}
func (AutoCommand) event()        {}
func (DebugSignal) event()        {}
func (Unknown) event()            {}
