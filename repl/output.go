package main

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/term"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
)

// termWriter wraps a file and converts \n to \r\n when the file is a terminal
// (needed because raw mode disables the kernel's NL→CRNL translation).
// When the file is redirected, \n passes through unchanged.
func termWriter(f *os.File) io.Writer {
	if term.IsTerminal(int(f.Fd())) {
		return &crlfWriter{w: f}
	}
	return f
}

type crlfWriter struct {
	w io.Writer
}

func (c *crlfWriter) Write(p []byte) (int, error) {
	replaced := bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))
	_, err := c.w.Write(replaced)
	return len(p), err // report original length to caller
}

type eventEntry struct {
	Time   time.Time      `toml:"time"`
	Name   string         `toml:"name"`
	Fields map[string]any `toml:"fields,omitempty"`
}

type eventLog struct {
	Event []eventEntry `toml:"event"`
}

// writeEvent writes one [[event]] table.
func writeEvent(w io.Writer, at time.Time, ev nvimbridge.Event) error {
	entry := eventEntry{
		Time:   at.Truncate(time.Millisecond),
		Name:   ev.Name(),
		Fields: eventFields(ev),
	}
	if err := toml.NewEncoder(w).Encode(eventLog{Event: []eventEntry{entry}}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// eventFields flattens an event's payload for display. Events without a
// payload return nil.
func eventFields(ev nvimbridge.Event) map[string]any {
	switch ev := ev.(type) {
	case nvimbridge.Resize:
		return map[string]any{"width": ev.Width, "height": ev.Height}
	case nvimbridge.ModeChange:
		return map[string]any{"mode": ev.Mode.String()}
	case nvimbridge.SetScrollRegion:
		return map[string]any{"top": ev.Top, "bottom": ev.Bottom, "left": ev.Left, "right": ev.Right}
	case nvimbridge.Scroll:
		return map[string]any{"delta": ev.Delta}
	case nvimbridge.Unmark:
		return map[string]any{"row": ev.Row, "column": ev.Column}
	case nvimbridge.Flush:
		sizes := make([]int, len(ev.Frames))
		for i, f := range ev.Frames {
			sizes[i] = len(f)
		}
		return map[string]any{"frames": len(ev.Frames), "frame_sizes": sizes}
	case nvimbridge.SetForeground:
		return map[string]any{"color": ev.Color}
	case nvimbridge.SetBackground:
		return map[string]any{"color": ev.Color}
	case nvimbridge.SetSpecial:
		return map[string]any{"color": ev.Color}
	case nvimbridge.SetTitle:
		return map[string]any{"title": ev.Title}
	case nvimbridge.SetIcon:
		return map[string]any{"icon": ev.Icon}
	case nvimbridge.DirtyStatusChanged:
		return map[string]any{"dirty": ev.Dirty}
	case nvimbridge.CwdChanged:
		return map[string]any{"path": ev.Path}
	case nvimbridge.ColorSchemeChanged:
		return map[string]any{"values": ev.Values[:]}
	case nvimbridge.AutoCommand:
		fields := map[string]any{"kind": ev.Kind.String()}
		if ev.Buffer != nvimbridge.NoBuffer {
			fields["buffer"] = ev.Buffer
		}
		return fields
	case nvimbridge.Unknown:
		return map[string]any{"opcode": ev.Opcode}
	}
	return nil
}
