package worktree

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, exec.Command("git", "-C", dir, "commit", "--allow-empty", "-m", "init", "-q").Run())
	return dir
}

func TestIsGitRepo(t *testing.T) {
	h := New()
	dir := initRepo(t)
	require.True(t, h.IsGitRepo(dir))
	require.False(t, h.IsGitRepo(t.TempDir()))
}

func TestCreateAndRemoveWorktree(t *testing.T) {
	h := New()
	repo := initRepo(t)
	wtPath := filepath.Join(t.TempDir(), "wt")

	require.NoError(t, h.Create(repo, wtPath, "clhorde-test-branch"))
	require.DirExists(t, wtPath)

	require.NoError(t, h.Remove(repo, wtPath))
}
