package cmd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3")
	require.Equal(t, "1.2.3", version)
	require.Equal(t, "1.2.3", rootCmd.Version)
}

func TestInitConfigAppliesDefaultsWithoutConfigFile(t *testing.T) {
	cfgFile = ""
	t.Setenv("HOME", t.TempDir())

	initConfig()

	require.Equal(t, 4, cfg.MaxWorkers)
	require.Equal(t, 65536, cfg.RingBufferBytes)
	require.Equal(t, 500, cfg.Retention.MaxTerminalPrompts)
	require.True(t, cfg.Worktree.AutoClean)
}
