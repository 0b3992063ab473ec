package nvimbridge

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	defaults "github.com/Paranoid-AF/nvimbridge/default"
)

// Config represents the user's nvimbridge configuration.
type Config struct {
	Version int           `toml:"version"`
	Backend BackendConfig `toml:"backend"`
	Shell   ShellConfig   `toml:"shell"`
	Session SessionConfig `toml:"session"`
}

// BackendConfig describes how the NvimServer backend is started.
type BackendConfig struct {
	Executable string   `toml:"executable"`
	Args       []string `toml:"args"`
	Headless   *bool    `toml:"headless"`
	WorkingDir string   `toml:"working_dir"`
}

// ShellConfig selects the login shell the backend is launched through.
type ShellConfig struct {
	Path           string `toml:"path"`
	InteractiveZsh bool   `toml:"interactive_zsh"`
}

// SessionConfig holds per-session timing and addressing settings.
type SessionConfig struct {
	RuntimeDir     string   `toml:"runtime_dir"`
	ReadyTimeout   Duration `toml:"ready_timeout"`
	ForceQuitGrace Duration `toml:"force_quit_grace"`
	SendTimeout    Duration `toml:"send_timeout"`
	IdleConnTTL    Duration `toml:"idle_conn_ttl"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ConfigDir returns the config directory path.
// Resolution order: $NVIMBRIDGE_CONFIG_DIR > $XDG_CONFIG_HOME/nvimbridge > ~/.config/nvimbridge
func ConfigDir() string {
	if dir := os.Getenv("NVIMBRIDGE_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "nvimbridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "nvimbridge-config")
	}
	return filepath.Join(home, ".config", "nvimbridge")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if _, err := toml.Decode(string(defaults.DefaultConfigTOML), &cfg); err != nil {
		panic("nvimbridge: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from ConfigPath or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path, filling missing fields from the defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Backend.Headless == nil {
		cfg.Backend.Headless = defaults.Backend.Headless
	}
	if cfg.Session.ReadyTimeout.Duration == 0 {
		cfg.Session.ReadyTimeout = defaults.Session.ReadyTimeout
	}
	if cfg.Session.ForceQuitGrace.Duration == 0 {
		cfg.Session.ForceQuitGrace = defaults.Session.ForceQuitGrace
	}
	if cfg.Session.SendTimeout.Duration == 0 {
		cfg.Session.SendTimeout = defaults.Session.SendTimeout
	}
	if cfg.Session.IdleConnTTL.Duration == 0 {
		cfg.Session.IdleConnTTL = defaults.Session.IdleConnTTL
	}

	return &cfg, nil
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	if cfg.Backend.WorkingDir != "" {
		if info, err := os.Stat(cfg.Backend.WorkingDir); err != nil || !info.IsDir() {
			warnings = append(warnings, "backend.working_dir is not a directory: "+cfg.Backend.WorkingDir)
		}
	}
	if cfg.Session.ReadyTimeout.Duration < 0 {
		warnings = append(warnings, "session.ready_timeout is negative; the default will be used")
	}
	if cfg.Shell.InteractiveZsh && filepath.Base(ResolveShell(cfg)) != "zsh" {
		warnings = append(warnings, "shell.interactive_zsh is set but the login shell is not zsh")
	}
	return warnings
}

// ResolveBackendExecutable returns the configured backend executable path.
// Priority: $NVIMBRIDGE_BACKEND env > config value.
func ResolveBackendExecutable(cfg *Config) string {
	if path := os.Getenv("NVIMBRIDGE_BACKEND"); path != "" {
		return path
	}
	if cfg != nil {
		return cfg.Backend.Executable
	}
	return ""
}

// ResolveShell returns the login shell to launch the backend through.
// Priority: $NVIMBRIDGE_SHELL env > config value > $SHELL > /bin/bash.
func ResolveShell(cfg *Config) string {
	if shell := os.Getenv("NVIMBRIDGE_SHELL"); shell != "" {
		return shell
	}
	if cfg != nil && cfg.Shell.Path != "" {
		return cfg.Shell.Path
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/bash"
}

// ResolveRuntimeDir returns the directory holding the session sockets.
// Priority: $NVIMBRIDGE_RUNTIME_DIR env > config value > $XDG_RUNTIME_DIR > /tmp/nvimbridge-<uid>.
func ResolveRuntimeDir(cfg *Config) string {
	if dir := os.Getenv("NVIMBRIDGE_RUNTIME_DIR"); dir != "" {
		return dir
	}
	if cfg != nil && cfg.Session.RuntimeDir != "" {
		return cfg.Session.RuntimeDir
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return fmt.Sprintf("/tmp/nvimbridge-%d", os.Getuid())
}

// HeadlessEnabled reports whether --headless is passed to the backend.
func HeadlessEnabled(cfg *Config) bool {
	if cfg == nil || cfg.Backend.Headless == nil {
		return true // default true
	}
	return *cfg.Backend.Headless
}

// durationOr returns d unless it is not positive.
func durationOr(d Duration, fallback time.Duration) time.Duration {
	if d.Duration <= 0 {
		return fallback
	}
	return d.Duration
}

// ReadyTimeout returns how long Run waits for the backend handshake.
func ReadyTimeout(cfg *Config) time.Duration {
	if cfg == nil {
		return 5 * time.Second
	}
	return durationOr(cfg.Session.ReadyTimeout, 5*time.Second)
}

// ForceQuitGrace returns how long a forced quit waits before killing the backend.
func ForceQuitGrace(cfg *Config) time.Duration {
	if cfg == nil {
		return 5 * time.Second
	}
	return durationOr(cfg.Session.ForceQuitGrace, 5*time.Second)
}

// SendTimeout returns the delivery deadline applied to outbound messages.
func SendTimeout(cfg *Config) time.Duration {
	if cfg == nil {
		return 2 * time.Second
	}
	return durationOr(cfg.Session.SendTimeout, 2*time.Second)
}

// IdleConnTTL returns how long an unused outbound connection stays cached.
func IdleConnTTL(cfg *Config) time.Duration {
	if cfg == nil {
		return 5 * time.Minute
	}
	return durationOr(cfg.Session.IdleConnTTL, 5*time.Minute)
}
