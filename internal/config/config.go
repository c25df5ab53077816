// Package config provides configuration types and defaults for clhorde,
// loaded by cmd/root.go's viper wiring the same way perles' cmd/root.go
// binds flags and a YAML file into a Config struct via mapstructure tags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/abusi/clhorde/internal/log"
)

// TracingConfig controls OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// RetentionConfig bounds how many terminal prompts are kept on disk.
type RetentionConfig struct {
	MaxTerminalPrompts int `mapstructure:"max_terminal_prompts"`
}

// WorktreeConfig controls git-worktree lifecycle behavior.
type WorktreeConfig struct {
	AutoClean bool `mapstructure:"auto_clean"`
}

// Config holds every daemon setting. Request-scoped knobs — SubmitPrompt's
// worktree flag, the connection-local SetDefaultMode — live outside it.
type Config struct {
	MaxWorkers      int             `mapstructure:"max_workers"`
	RingBufferBytes int             `mapstructure:"ring_buffer_bytes"`
	DataDir         string          `mapstructure:"data_dir"`
	Tracing         TracingConfig   `mapstructure:"tracing"`
	Retention       RetentionConfig `mapstructure:"retention"`
	Worktree        WorktreeConfig  `mapstructure:"worktree"`
}

// Defaults returns a Config with the values the ambient configuration
// section names.
func Defaults() Config {
	return Config{
		MaxWorkers:      4,
		RingBufferBytes: 65536,
		DataDir:         DefaultDataDir(),
		Tracing:         TracingConfig{Enabled: false},
		Retention:       RetentionConfig{MaxTerminalPrompts: 500},
		Worktree:        WorktreeConfig{AutoClean: true},
	}
}

// DefaultDataDir returns ~/.clhorde, mirroring perles' ~/.perles
// session-storage convention.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".clhorde")
}

// DefaultConfigDir returns ~/.config/clhorde, mirroring perles' cmd/root.go
// config lookup.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "clhorde")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// SocketPath returns the control socket path under dataDir.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, "daemon.sock")
}

// PIDPath returns the PID file path under dataDir.
func PIDPath(dataDir string) string {
	return filepath.Join(dataDir, "daemon.pid")
}

// IndexPath returns the derived SQLite index path under dataDir.
func IndexPath(dataDir string) string {
	return filepath.Join(dataDir, "prompts", "index.db")
}

// PromptsDir returns the prompt store directory under dataDir.
func PromptsDir(dataDir string) string {
	return filepath.Join(dataDir, "prompts")
}

// defaultConfigTemplate is written to a fresh install's config file, in
// perles' DefaultConfigTemplate commented-YAML style.
const defaultConfigTemplate = `# clhorde daemon configuration

# Maximum number of concurrently running workers.
max_workers: 4

# Per-prompt PTY replay buffer size, in bytes.
ring_buffer_bytes: 65536

# Directory the daemon stores prompts, its socket, and its PID file under.
# data_dir: ~/.clhorde

tracing:
  enabled: false

retention:
  # Oldest terminal (Completed/Failed) prompts beyond this count are
  # pruned after every terminal transition.
  max_terminal_prompts: 500

worktree:
  # Automatically remove a prompt's git worktree once it finishes.
  auto_clean: true
`

// WriteDefaultConfig creates a config file at path with default settings
// and comments, creating its parent directory if needed.
func WriteDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o600); err != nil {
		return fmt.Errorf("config: writing file: %w", err)
	}
	log.Info(log.CatConfig, "wrote default config", "path", path)
	return nil
}
