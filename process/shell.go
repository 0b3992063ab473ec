package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// BackendName is the executable looked up when none is configured.
const BackendName = "NvimServer"

// DefaultShell is used when neither the config nor $SHELL names one.
const DefaultShell = "/bin/bash"

// ErrBackendNotFound is returned when no backend executable can be resolved.
var ErrBackendNotFound = errors.New("backend executable not found")

// noLoginFlag lists shells that reject -l alongside other arguments.
var noLoginFlag = map[string]bool{
	"tcsh": true,
	"csh":  true,
}

// ShellLauncher starts the backend through the user's login shell: the shell
// is started with -l, reads one `exec` line from stdin and replaces itself
// with the backend.
type ShellLauncher struct {
	// Shell is the shell path; empty selects $SHELL, then DefaultShell.
	Shell string
	// InteractiveZsh adds -i when the shell is zsh, so .zshrc is read too.
	InteractiveZsh bool

	Stdout io.Writer
	Stderr io.Writer
}

// Launch implements Launcher.
func (l *ShellLauncher) Launch(_ context.Context, spec LaunchSpec) (Process, error) {
	shell := l.shellPath()
	line, err := ExecLine(shell, spec.Executable, spec.Args)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(shell, ShellArgs(shell, l.InteractiveZsh)...)
	cmd.Env = environ(spec)
	cmd.Dir = spec.Dir
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	p, err := startCmd(cmd)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", shell, err)
	}

	_, werr := io.WriteString(stdin, line)
	cerr := stdin.Close()
	if werr != nil || cerr != nil {
		p.Kill()
		p.Wait()
		return nil, fmt.Errorf("write exec line to %s: %w", shell, errors.Join(werr, cerr))
	}

	slog.Debug("process: started backend via login shell", "pid", p.Pid(), "shell", shell, "executable", spec.Executable)
	return p, nil
}

func (l *ShellLauncher) shellPath() string {
	if l.Shell != "" {
		return l.Shell
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return DefaultShell
}

// ShellArgs returns the arguments the login shell is started with.
func ShellArgs(shell string, interactiveZsh bool) []string {
	name := filepath.Base(shell)
	var args []string
	if !noLoginFlag[name] {
		args = append(args, "-l")
	}
	if interactiveZsh && name == "zsh" {
		args = append(args, "-i")
	}
	return args
}

// quoteVariant picks the quoting rules the shell understands.
func quoteVariant(shell string) syntax.LangVariant {
	switch filepath.Base(shell) {
	case "bash", "zsh":
		return syntax.LangBash
	case "mksh":
		return syntax.LangMirBSDKorn
	default:
		return syntax.LangPOSIX
	}
}

// ExecLine builds the newline-terminated command that makes shell replace
// itself with executable. It fails when an argument cannot be represented
// in the shell's quoting, e.g. a NUL byte.
func ExecLine(shell, executable string, args []string) (string, error) {
	lang := quoteVariant(shell)
	words := make([]string, 0, len(args)+2)
	words = append(words, "exec")
	for _, w := range append([]string{executable}, args...) {
		q, err := syntax.Quote(w, lang)
		if err != nil {
			return "", fmt.Errorf("quote launch command: %w", err)
		}
		words = append(words, q)
	}
	return strings.Join(words, " ") + "\n", nil
}

// ResolveExecutable finds the backend executable: the configured path if
// set, else BackendName next to the running binary, else BackendName on
// $PATH.
func ResolveExecutable(configured string) (string, error) {
	if configured != "" {
		if err := checkExecutable(configured); err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBackendNotFound, configured, err)
		}
		return filepath.Abs(configured)
	}

	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), BackendName)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(BackendName)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendNotFound, err)
	}
	return filepath.Abs(path)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return errors.New("is a directory")
	}
	if info.Mode().Perm()&0o111 == 0 {
		return errors.New("not executable")
	}
	return nil
}
