// Package paths computes the deterministic on-disk layout rooted at the
// maestro base path:
//
//	config.toml
//	projects/<project_id>/
//	  store
//	  artifacts/<card_id>/<slug>.md
//	  worktrees/<card8>-<slug>/
//
// Sockets live outside the base path at /tmp/maestro-<project_id>.sock.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ExpandTilde resolves a leading "~/" against the user home directory.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// ProjectsDir returns <base>/projects.
func ProjectsDir(basePath string) string {
	return filepath.Join(basePath, "projects")
}

// ProjectDir returns <base>/projects/<projectID>.
func ProjectDir(basePath, projectID string) string {
	return filepath.Join(ProjectsDir(basePath), projectID)
}

// StorePath returns the embedded relational store file for a project.
func StorePath(basePath, projectID string) string {
	return filepath.Join(ProjectDir(basePath, projectID), "store")
}

// ArtifactDir returns the directory holding a card's artifact files.
func ArtifactDir(basePath, projectID, cardID string) string {
	return filepath.Join(ProjectDir(basePath, projectID), "artifacts", cardID)
}

// WorktreeDir returns the directory holding a project's worktrees.
func WorktreeDir(basePath, projectID string) string {
	return filepath.Join(ProjectDir(basePath, projectID), "worktrees")
}

// WorktreePath returns the worktree directory for a card: <card8>-<slug>.
func WorktreePath(basePath, projectID, cardID, branchSlug string) string {
	return filepath.Join(WorktreeDir(basePath, projectID), CardShort(cardID)+"-"+branchSlug)
}

// SocketPath returns the per-project Unix socket path.
func SocketPath(projectID string) string {
	return fmt.Sprintf("/tmp/maestro-%s.sock", projectID)
}

// CardShort returns the first 8 characters of a card id.
func CardShort(cardID string) string {
	if len(cardID) > 8 {
		return cardID[:8]
	}
	return cardID
}

var stripMarks = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Slug lowercases a name and collapses every non-alphanumeric run into a
// single hyphen. Combining marks are stripped first so accented names slug
// cleanly. Returns "" when nothing alphanumeric survives.
func Slug(name string) string {
	if folded, _, err := transform.String(stripMarks, name); err == nil {
		name = folded
	}
	name = strings.ToLower(name)

	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}

	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '-' })
	return strings.Join(parts, "-")
}

// TruncateSlug shortens a slug to at most max bytes without leaving a
// trailing hyphen.
func TruncateSlug(slug string, max int) string {
	if len(slug) <= max {
		return slug
	}
	return strings.TrimRight(slug[:max], "-")
}
