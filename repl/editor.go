package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/term"
)

// ErrInterrupt is returned when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

const (
	fallbackWidth  = 80
	fallbackHeight = 24
	maxHistory     = 200
)

// Editor is a minimal raw-mode line editor with history.
// It reads from /dev/tty so it works even when stdout is redirected.
type Editor struct {
	tty      *os.File
	oldState *term.State
	in       io.Reader
	out      io.Writer

	buf     []byte
	pos     int // cursor byte offset into buf
	history []string
	histPos int
	pending []byte // line being edited while browsing history
}

// NewEditor opens /dev/tty and switches to raw mode.
func NewEditor() (*Editor, error) {
	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/tty: %w", err)
	}

	old, err := term.MakeRaw(int(tty.Fd()))
	if err != nil {
		tty.Close()
		return nil, fmt.Errorf("raw mode: %w", err)
	}

	return &Editor{tty: tty, oldState: old, in: tty, out: tty}, nil
}

func newEditor(in io.Reader, out io.Writer) *Editor {
	return &Editor{in: in, out: out}
}

// Close restores terminal state and closes the tty fd.
func (e *Editor) Close() {
	if e.tty == nil {
		return
	}
	term.Restore(int(e.tty.Fd()), e.oldState)
	e.tty.Close()
}

// Tty returns the writer for prompts and status lines.
func (e *Editor) Tty() io.Writer {
	return e.out
}

// Size returns the terminal's width and height in cells.
func (e *Editor) Size() (width, height int) {
	if e.tty == nil {
		return fallbackWidth, fallbackHeight
	}
	w, h, err := term.GetSize(int(e.tty.Fd()))
	if err != nil || w <= 0 || h <= 0 {
		return fallbackWidth, fallbackHeight
	}
	return w, h
}

func (e *Editor) readByte() (byte, error) {
	var b [1]byte
	for {
		n, err := e.in.Read(b[:])
		if n == 1 {
			return b[0], nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// ReadLine displays the prompt and reads one line.
// Returns io.EOF when the user presses Ctrl-D on empty input.
func (e *Editor) ReadLine(prompt string) (string, error) {
	e.buf = e.buf[:0]
	e.pos = 0
	e.histPos = len(e.history)
	e.pending = nil
	e.redraw(prompt)

	for {
		b, err := e.readByte()
		if err != nil {
			return "", err
		}

		switch b {
		case 3: // Ctrl-C
			fmt.Fprint(e.out, "\r\n")
			return "", ErrInterrupt

		case 4: // Ctrl-D
			if len(e.buf) == 0 {
				fmt.Fprint(e.out, "\r\n")
				return "", io.EOF
			}

		case 13, 10: // Enter
			fmt.Fprint(e.out, "\r\n")
			line := string(e.buf)
			e.remember(line)
			return line, nil

		case 127, 8: // Backspace / Ctrl-H
			if e.pos > 0 {
				size := prevRuneLen(e.buf, e.pos)
				e.buf = append(e.buf[:e.pos-size], e.buf[e.pos:]...)
				e.pos -= size
			}

		case 1: // Ctrl-A
			e.pos = 0

		case 5: // Ctrl-E
			e.pos = len(e.buf)

		case 21: // Ctrl-U
			e.buf = e.buf[:0]
			e.pos = 0

		case 27:
			if err := e.escape(); err != nil {
				return "", err
			}

		default:
			if b >= 32 {
				if err := e.insert(b); err != nil {
					return "", err
				}
			}
		}

		e.redraw(prompt)
	}
}

// escape handles a CSI sequence after ESC.
func (e *Editor) escape() error {
	b, err := e.readByte()
	if err != nil || b != '[' {
		return err
	}
	b, err = e.readByte()
	if err != nil {
		return err
	}

	switch b {
	case 'A':
		e.browse(-1)
	case 'B':
		e.browse(1)
	case 'D':
		if e.pos > 0 {
			e.pos -= prevRuneLen(e.buf, e.pos)
		}
	case 'C':
		if e.pos < len(e.buf) {
			_, size := utf8.DecodeRune(e.buf[e.pos:])
			e.pos += size
		}
	case 'H':
		e.pos = 0
	case 'F':
		e.pos = len(e.buf)
	case '3', '1', '4': // \x1b[3~ delete, \x1b[1~ home, \x1b[4~ end
		if _, err := e.readByte(); err != nil {
			return err
		}
		switch b {
		case '3':
			if e.pos < len(e.buf) {
				_, size := utf8.DecodeRune(e.buf[e.pos:])
				e.buf = append(e.buf[:e.pos], e.buf[e.pos+size:]...)
			}
		case '1':
			e.pos = 0
		case '4':
			e.pos = len(e.buf)
		}
	}
	return nil
}

// insert reads the rest of the UTF-8 sequence starting with lead and
// inserts it at the cursor.
func (e *Editor) insert(lead byte) error {
	ch := []byte{lead}
	for i := 1; i < utf8RuneLen(lead); i++ {
		b, err := e.readByte()
		if err != nil {
			return err
		}
		ch = append(ch, b)
	}
	tail := append([]byte(nil), e.buf[e.pos:]...)
	e.buf = append(append(e.buf[:e.pos], ch...), tail...)
	e.pos += len(ch)
	return nil
}

// browse moves through history; dir is -1 for older, 1 for newer.
func (e *Editor) browse(dir int) {
	next := e.histPos + dir
	if next < 0 || next > len(e.history) {
		return
	}
	if e.histPos == len(e.history) {
		e.pending = append([]byte(nil), e.buf...)
	}
	e.histPos = next
	if next == len(e.history) {
		e.buf = append(e.buf[:0], e.pending...)
	} else {
		e.buf = append(e.buf[:0], e.history[next]...)
	}
	e.pos = len(e.buf)
}

func (e *Editor) remember(line string) {
	if line == "" {
		return
	}
	if n := len(e.history); n > 0 && e.history[n-1] == line {
		return
	}
	e.history = append(e.history, line)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
}

// redraw clears the current line and redraws prompt + buffer with cursor.
func (e *Editor) redraw(prompt string) {
	fmt.Fprintf(e.out, "\r\x1b[K%s%s", prompt, e.buf)
	if tail := utf8.RuneCount(e.buf[e.pos:]); tail > 0 {
		fmt.Fprintf(e.out, "\x1b[%dD", tail)
	}
}

// prevRuneLen returns the byte size of the rune ending at pos.
func prevRuneLen(buf []byte, pos int) int {
	if pos <= 0 {
		return 0
	}
	i := pos - 1
	for i > 0 && !utf8.RuneStart(buf[i]) {
		i--
	}
	return pos - i
}

// utf8RuneLen returns the expected byte length of a UTF-8 sequence
// from its leading byte.
func utf8RuneLen(lead byte) int {
	switch {
	case lead < 0xC0:
		return 1
	case lead < 0xE0:
		return 2
	case lead < 0xF0:
		return 3
	default:
		return 4
	}
}
