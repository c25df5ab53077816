package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 4, cfg.MaxWorkers)
	require.Equal(t, 65536, cfg.RingBufferBytes)
	require.Equal(t, 500, cfg.Retention.MaxTerminalPrompts)
	require.True(t, cfg.Worktree.AutoClean)
	require.False(t, cfg.Tracing.Enabled)
}

func TestWriteDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "max_workers: 4")

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))
	require.Equal(t, 4, cfg.MaxWorkers)
	require.Equal(t, 500, cfg.Retention.MaxTerminalPrompts)
}

func TestSaveRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := Defaults()
	cfg.MaxWorkers = 8
	require.NoError(t, Save(path, cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Config
	require.NoError(t, yaml.Unmarshal(data, &got))
	require.Equal(t, 8, got.MaxWorkers)
}

func TestSocketAndPIDPaths(t *testing.T) {
	require.Equal(t, "/tmp/clhorde/daemon.sock", SocketPath("/tmp/clhorde"))
	require.Equal(t, "/tmp/clhorde/daemon.pid", PIDPath("/tmp/clhorde"))
	require.Equal(t, "/tmp/clhorde/prompts/index.db", IndexPath("/tmp/clhorde"))
}
