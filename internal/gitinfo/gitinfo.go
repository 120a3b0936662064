// Package gitinfo resolves repository metadata for a session's working
// directory by shelling out to git. Resolution is bounded by an internal
// timeout and every failure degrades to zero-valued metadata — a session in
// a non-repo directory is normal, not an error.
package gitinfo

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joestump/claude-relay/internal/wire"
)

// resolveTimeout bounds the whole resolve, covering all git invocations.
const resolveTimeout = 3 * time.Second

// Resolver resolves git metadata for working directories.
type Resolver struct{}

// New returns a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve returns branch, worktree flag, repository root and ahead/behind
// counts for cwd. The zero value is returned when cwd is not inside a git
// checkout, git is unavailable, or the timeout elapses.
func (r *Resolver) Resolve(ctx context.Context, cwd string) wire.RepoInfo {
	if cwd == "" {
		return wire.RepoInfo{}
	}
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	root, err := gitOutput(ctx, cwd, "rev-parse", "--show-toplevel")
	if err != nil || root == "" {
		return wire.RepoInfo{}
	}

	info := wire.RepoInfo{RepoRoot: root}

	if branch, err := gitOutput(ctx, cwd, "rev-parse", "--abbrev-ref", "HEAD"); err == nil {
		info.Branch = branch
	}

	// A linked worktree's git dir lives under the main checkout's
	// .git/worktrees; the common dir differs from the local git dir there.
	gitDir, err1 := gitOutput(ctx, cwd, "rev-parse", "--git-dir")
	commonDir, err2 := gitOutput(ctx, cwd, "rev-parse", "--git-common-dir")
	if err1 == nil && err2 == nil {
		abs := func(p string) string {
			if !filepath.IsAbs(p) {
				p = filepath.Join(cwd, p)
			}
			return filepath.Clean(p)
		}
		info.IsWorktree = abs(gitDir) != abs(commonDir)
	}

	// Ahead/behind relative to the upstream branch; absent upstream is fine.
	if counts, err := gitOutput(ctx, cwd, "rev-list", "--left-right", "--count", "@{upstream}...HEAD"); err == nil {
		parts := strings.Fields(counts)
		if len(parts) == 2 {
			info.Behind, _ = strconv.Atoi(parts[0])
			info.Ahead, _ = strconv.Atoi(parts[1])
		}
	}

	return info
}

func gitOutput(ctx context.Context, cwd string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
