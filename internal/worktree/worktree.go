// Package worktree shells out to git to manage per-card worktrees under
// <base>/projects/<project>/worktrees/.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/paths"
)

// BranchName builds the conventional branch for a card:
// maestro/<card8>-<slug>, slug truncated to 40 bytes.
func BranchName(cardID, title string) string {
	slug := paths.TruncateSlug(paths.Slug(title), 40)
	return fmt.Sprintf("maestro/%s-%s", paths.CardShort(cardID), slug)
}

// PathFor returns the worktree directory for a card and title.
func PathFor(basePath, projectID, cardID, title string) string {
	slug := paths.TruncateSlug(paths.Slug(title), 40)
	return paths.WorktreePath(basePath, projectID, cardID, slug)
}

// Exists reports whether a worktree directory is present.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Create runs `git worktree add <path> -b <branch>` against repoPath. An
// existing worktree directory is returned as-is.
func Create(ctx context.Context, repoPath, wtPath, branch string) error {
	if Exists(wtPath) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return fmt.Errorf("creating worktree parent directory: %w", err)
	}

	out, err := git(ctx, repoPath, "worktree", "add", wtPath, "-b", branch)
	if err != nil {
		return fmt.Errorf("git worktree add failed: %s", strings.TrimSpace(out))
	}

	debug.LogKV("worktree", "created", "path", wtPath, "branch", branch)
	return nil
}

// Remove runs `git worktree remove --force`, falling back to deleting the
// directory when git refuses.
func Remove(ctx context.Context, repoPath, wtPath string) error {
	if out, err := git(ctx, repoPath, "worktree", "remove", "--force", wtPath); err != nil {
		if rmErr := os.RemoveAll(wtPath); rmErr != nil {
			return fmt.Errorf("git worktree remove failed (%s) and manual cleanup failed: %w",
				strings.TrimSpace(out), rmErr)
		}
		git(ctx, repoPath, "worktree", "prune")
	}
	return nil
}

func git(ctx context.Context, repoPath string, args ...string) (string, error) {
	full := append([]string{"-C", repoPath}, args...)
	out, err := exec.CommandContext(ctx, "git", full...).CombinedOutput()
	return string(out), err
}
