// Command nvimbridge-repl drives a live NvimServer session from the terminal.
// Lines typed at the prompt are sent to the backend as input; lines starting
// with ':' are commands. Backend events are written to stdout as TOML.
//
// Usage:
//
//	./nvimbridge-repl                 # interactive, TOML on screen
//	./nvimbridge-repl > events.toml   # prompt on screen, TOML to file
//	./nvimbridge-repl -metrics :9464  # also serve Prometheus metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	nvimbridge "github.com/Paranoid-AF/nvimbridge"
	"github.com/Paranoid-AF/nvimbridge/bridge"
)

// Version is set at build time via -ldflags.
var Version = "dev"

const prompt = "> "

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "debug logging")
	configPath := flag.String("config", "", "config file (default "+nvimbridge.ConfigPath()+")")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address")
	flag.Parse()

	if *showVersion {
		fmt.Println("nvimbridge-repl", Version)
		os.Exit(0)
	}

	if err := run(*configPath, *metricsAddr, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, metricsAddr string, verbose bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	editor, err := NewEditor()
	if err != nil {
		return err
	}
	defer editor.Close()
	tty := editor.Tty()

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(termWriter(os.Stderr), &slog.HandlerOptions{Level: level})))

	for _, w := range nvimbridge.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	width, height := editor.Size()
	b, err := bridge.New(cfg, bridge.WithInitialSize(width, height))
	if err != nil {
		return err
	}

	out := termWriter(os.Stdout)
	sub := b.Subscribe(0)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range sub.C() {
			if err := writeEvent(out, time.Now(), ev); err != nil {
				slog.Warn("write event", "error", err)
			}
		}
	}()

	fmt.Fprint(tty, "\033[2J\033[H") // clear screen
	fmt.Fprintf(tty, "nvimbridge repl, session %s (%dx%d)\r\n", b.ID(), width, height)

	ctx := context.Background()
	if err := start(ctx, b); err != nil {
		return err
	}
	fmt.Fprint(tty, "backend ready, :help for commands\r\n\r\n")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		shutdown(b, true)
		editor.Close()
		os.Exit(0)
	}()

	force := loop(ctx, editor, b)
	shutdown(b, force)
	<-printed

	if err := sub.Err(); err != nil {
		return fmt.Errorf("session ended: %w", err)
	}
	return nil
}

// loop reads commands until the user quits. It reports whether the quit
// should be forced.
func loop(ctx context.Context, editor *Editor, b *bridge.Bridge) bool {
	tty := editor.Tty()
	for {
		line, err := editor.ReadLine(prompt)
		if err == io.EOF || err == ErrInterrupt {
			return false
		}
		if err != nil {
			fmt.Fprintf(tty, "read error: %v\r\n", err)
			return false
		}
		if line == "" {
			continue
		}

		act, err := parseLine(line)
		if err != nil {
			fmt.Fprintf(tty, "error: %v\r\n", err)
			continue
		}
		switch {
		case act.quit:
			return act.force
		case act.help:
			fmt.Fprint(tty, strings.ReplaceAll(helpText, "\n", "\r\n"))
			continue
		}

		if err := act.run(ctx, b); err != nil {
			fmt.Fprintf(tty, "error: %v\r\n", err)
			if errors.Is(err, bridge.ErrSessionFailed) || errors.Is(err, bridge.ErrQuitting) {
				return false
			}
		}
	}
}

// start runs the session. On failure it waits for the backend to be reaped
// so the process never exits ahead of the teardown.
func start(ctx context.Context, b *bridge.Bridge) error {
	if err := b.Run(ctx); err != nil {
		shutdown(b, true)
		return fmt.Errorf("start backend: %w", err)
	}
	return nil
}

// shutdown quits the session, escalating to a forced quit if the backend
// does not exit in time.
func shutdown(b *bridge.Bridge, force bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if !force {
		if err := b.Quit(ctx); err == nil {
			return
		}
		slog.Warn("backend did not exit, forcing")
	}

	ctx, cancel = context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := b.ForceQuit(ctx); err != nil {
		slog.Error("force quit", "error", err)
	}
}

func loadConfig(path string) (*nvimbridge.Config, error) {
	if path == "" {
		return nvimbridge.LoadConfig()
	}
	return nvimbridge.LoadConfigFile(path)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server", "error", err)
	}
}
