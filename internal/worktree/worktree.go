// Package worktree wraps git-worktree invocations needed to give a single
// prompt an isolated working copy of a source tree. It is grounded on the
// teacher's internal/git executor (sentinel errors parsed from stderr,
// shelling out via os/exec) but trims that package's full branch-management
// surface down to what the orchestrator actually needs: create, remove,
// prune, and a repository check.
package worktree

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/abusi/clhorde/internal/log"
)

// Sentinel errors parsed from git's stderr, mirroring the teacher's
// internal/git package.
var (
	ErrPathAlreadyExists = errors.New("worktree: path already exists")
	ErrWorktreeLocked    = errors.New("worktree: locked")
	ErrNotGitRepo        = errors.New("worktree: not a git repository")
)

// Helper creates and removes detached working copies for prompts whose
// worktree flag is set, and answers whether a directory is inside a git
// repository. Repository checks are cached briefly since many prompts in
// a burst often share the same cwd.
type Helper struct {
	repoCheckCache *cache.Cache
}

// New returns a Helper with a 5-second TTL on repository-check results.
func New() *Helper {
	return &Helper{
		repoCheckCache: cache.New(5*time.Second, 10*time.Second),
	}
}

// IsGitRepo reports whether dir is inside a git working tree.
func (h *Helper) IsGitRepo(dir string) bool {
	if v, ok := h.repoCheckCache.Get(dir); ok {
		return v.(bool)
	}
	_, err := h.runGit(dir, "rev-parse", "--git-dir")
	result := err == nil
	h.repoCheckCache.Set(dir, result, cache.DefaultExpiration)
	return result
}

// Create creates a new detached working copy at path, branching from the
// current HEAD of the repository rooted at repoDir.
func (h *Helper) Create(repoDir, path, branch string) error {
	if !h.IsGitRepo(repoDir) {
		return ErrNotGitRepo
	}
	_, err := h.runGit(repoDir, "worktree", "add", "-b", branch, path, "HEAD")
	if err != nil {
		log.ErrorErr(log.CatWorktree, "creating worktree", err, "path", path, "branch", branch)
		return err
	}
	log.Info(log.CatWorktree, "created worktree", "path", path, "branch", branch)
	return nil
}

// Remove deletes the worktree at path. A missing path is not an error.
func (h *Helper) Remove(repoDir, path string) error {
	_, err := h.runGit(repoDir, "worktree", "remove", "--force", path)
	if err != nil && !strings.Contains(err.Error(), "is not a working tree") {
		log.ErrorErr(log.CatWorktree, "removing worktree", err, "path", path)
		return err
	}
	log.Info(log.CatWorktree, "removed worktree", "path", path)
	return nil
}

// Prune removes administrative data for worktrees whose working directory
// has been deleted manually, implementing the bulk CleanWorktrees verb's
// final tidy-up step.
func (h *Helper) Prune(repoDir string) error {
	_, err := h.runGit(repoDir, "worktree", "prune")
	return err
}

func (h *Helper) runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...) //nolint:gosec // args are daemon-constructed, not attacker input
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return "", parseGitError(stderrStr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func parseGitError(stderr string, original error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "already exists"):
		return fmt.Errorf("%w: %s", ErrPathAlreadyExists, stderr)
	case strings.Contains(lower, "is locked"):
		return fmt.Errorf("%w: %s", ErrWorktreeLocked, stderr)
	case strings.Contains(lower, "not a git repository"):
		return fmt.Errorf("%w: %s", ErrNotGitRepo, stderr)
	default:
		return fmt.Errorf("git error: %s: %w", stderr, original)
	}
}
