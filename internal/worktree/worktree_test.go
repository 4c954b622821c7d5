package worktree

import (
	"strings"
	"testing"
)

func TestBranchName(t *testing.T) {
	name := BranchName("a1b2c3d4-5678-abcd-efgh-ijklmnopqrst", "Add Auth")
	if name != "maestro/a1b2c3d4-add-auth" {
		t.Errorf("BranchName = %q", name)
	}
}

func TestBranchNameTruncatesSlug(t *testing.T) {
	long := strings.Repeat("word-", 20)
	name := BranchName("a1b2c3d4", long)
	slug := strings.TrimPrefix(name, "maestro/a1b2c3d4-")
	if len(slug) > 40 {
		t.Errorf("slug length = %d, want <= 40", len(slug))
	}
	if strings.HasSuffix(slug, "-") {
		t.Errorf("slug %q has trailing hyphen", slug)
	}
}

func TestExists(t *testing.T) {
	dir := t.TempDir()
	if !Exists(dir) {
		t.Error("Exists on a directory should be true")
	}
	if Exists(dir + "/nope") {
		t.Error("Exists on a missing path should be false")
	}
}
