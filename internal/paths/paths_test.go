package paths

import (
	"path/filepath"
	"testing"
)

func TestSlug(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"My Artifact", "my-artifact"},
		{"Hello World!", "hello-world"},
		{"  spaces  and---dashes  ", "spaces-and-dashes"},
		{"CamelCase", "camelcase"},
		{"with_underscores", "with-underscores"},
		{"Résumé Notes", "resume-notes"},
		{"!!!", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slug(tc.in); got != tc.want {
			t.Errorf("Slug(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTruncateSlug(t *testing.T) {
	if got := TruncateSlug("abc-def", 40); got != "abc-def" {
		t.Errorf("TruncateSlug short = %q", got)
	}
	if got := TruncateSlug("abcd-efgh", 5); got != "abcd" {
		t.Errorf("TruncateSlug mid-hyphen = %q, want %q", got, "abcd")
	}
}

func TestLayout(t *testing.T) {
	base := "/tmp/maestro-base"
	if got := StorePath(base, "p1"); got != filepath.Join(base, "projects", "p1", "store") {
		t.Errorf("StorePath = %q", got)
	}
	if got := ArtifactDir(base, "p1", "c1"); got != filepath.Join(base, "projects", "p1", "artifacts", "c1") {
		t.Errorf("ArtifactDir = %q", got)
	}
	if got := WorktreePath(base, "p1", "a1b2c3d4-5678", "add-auth"); got != filepath.Join(base, "projects", "p1", "worktrees", "a1b2c3d4-add-auth") {
		t.Errorf("WorktreePath = %q", got)
	}
	if got := SocketPath("p1"); got != "/tmp/maestro-p1.sock" {
		t.Errorf("SocketPath = %q", got)
	}
}

func TestCardShort(t *testing.T) {
	if got := CardShort("abc"); got != "abc" {
		t.Errorf("CardShort short id = %q", got)
	}
	if got := CardShort("a1b2c3d4-5678-abcd"); got != "a1b2c3d4" {
		t.Errorf("CardShort long id = %q", got)
	}
}
