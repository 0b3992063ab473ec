package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// session is the part of *bridge.Bridge the REPL drives.
type session interface {
	Input(ctx context.Context, text string) error
	InputMarked(ctx context.Context, text string) error
	DeleteCharacters(ctx context.Context, n int) error
	Resize(ctx context.Context, width, height int) error
	FocusGained(ctx context.Context, gained bool) error
	Scroll(ctx context.Context, horizontal, vertical, row, column int) error
	Debug(ctx context.Context) error
}

// action is one parsed REPL line.
type action struct {
	run   func(ctx context.Context, s session) error
	quit  bool
	force bool
	help  bool
}

const helpText = `commands:
  <text>                   send text as input
  :input <text>            send text verbatim (may start with ':')
  :marked <text>           send marked (composing) text
  :enter                   send a carriage return
  :esc                     send escape
  :delete [n]              delete n characters (default 1)
  :resize <w> <h>          resize the grid
  :scroll <h> <v> <r> <c>  scroll wheel at row, column
  :focus on|off            focus gained / lost
  :debug                   send the debug signal
  :quit, :q                quit
  :forcequit, :q!          quit, signalling the backend
  :help                    this text
`

func parseLine(line string) (action, error) {
	if !strings.HasPrefix(line, ":") {
		return send(func(ctx context.Context, s session) error { return s.Input(ctx, line) }), nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	args := strings.Fields(rest)

	switch name {
	case "q", "quit":
		return action{quit: true}, nil
	case "q!", "forcequit":
		return action{quit: true, force: true}, nil
	case "help", "h":
		return action{help: true}, nil

	case "input":
		return send(func(ctx context.Context, s session) error { return s.Input(ctx, rest) }), nil
	case "marked":
		return send(func(ctx context.Context, s session) error { return s.InputMarked(ctx, rest) }), nil
	case "enter":
		return send(func(ctx context.Context, s session) error { return s.Input(ctx, "\r") }), nil
	case "esc":
		return send(func(ctx context.Context, s session) error { return s.Input(ctx, "\x1b") }), nil
	case "debug":
		return send(func(ctx context.Context, s session) error { return s.Debug(ctx) }), nil

	case "delete":
		n := 1
		if len(args) > 0 {
			v, err := ints(name, args, 1)
			if err != nil {
				return action{}, err
			}
			n = v[0]
		}
		return send(func(ctx context.Context, s session) error { return s.DeleteCharacters(ctx, n) }), nil

	case "resize":
		v, err := ints(name, args, 2)
		if err != nil {
			return action{}, err
		}
		if v[0] <= 0 || v[1] <= 0 {
			return action{}, fmt.Errorf("resize: size must be positive")
		}
		return send(func(ctx context.Context, s session) error { return s.Resize(ctx, v[0], v[1]) }), nil

	case "scroll":
		v, err := ints(name, args, 4)
		if err != nil {
			return action{}, err
		}
		return send(func(ctx context.Context, s session) error { return s.Scroll(ctx, v[0], v[1], v[2], v[3]) }), nil

	case "focus":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return action{}, fmt.Errorf("focus: want on or off")
		}
		gained := args[0] == "on"
		return send(func(ctx context.Context, s session) error { return s.FocusGained(ctx, gained) }), nil
	}

	return action{}, fmt.Errorf("unknown command :%s (try :help)", name)
}

func send(run func(ctx context.Context, s session) error) action {
	return action{run: run}
}

// ints parses exactly n integer arguments.
func ints(cmd string, args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, fmt.Errorf("%s: want %d arguments, got %d", cmd, n, len(args))
	}
	out := make([]int, n)
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", cmd, a)
		}
		out[i] = v
	}
	return out, nil
}
