package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinPromptsResolve(t *testing.T) {
	for _, id := range builtinPromptIDs {
		content, ok := statusPromptContent(id)
		if !ok || strings.TrimSpace(content) == "" {
			t.Errorf("builtin prompt %q missing", id)
		}
	}
	if _, ok := statusPromptContent("nope"); ok {
		t.Error("unknown prompt id should not resolve")
	}
}

func TestLoadUserPromptsExtendsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	content := `
prompts:
  security-review: |
    # Security Review
    Look for injection points.
  TDD: |
    overridden tdd content
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := LoadUserPrompts(path); err != nil {
		t.Fatalf("LoadUserPrompts() error = %v", err)
	}
	t.Cleanup(func() {
		userPromptsMu.Lock()
		userPrompts = nil
		userPromptsMu.Unlock()
	})

	got, ok := statusPromptContent("security-review")
	if !ok || !strings.Contains(got, "Security Review") {
		t.Errorf("user prompt = %q, %v", got, ok)
	}

	// User snippets may override built-ins (ids are case-insensitive).
	got, ok = statusPromptContent("tdd")
	if !ok || !strings.Contains(got, "overridden tdd content") {
		t.Errorf("override = %q, %v", got, ok)
	}
}

func TestLoadUserPromptsMissingFileIsFine(t *testing.T) {
	if err := LoadUserPrompts(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Errorf("missing prompts file should not error, got %v", err)
	}
}

func TestLoadUserPromptsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	os.WriteFile(path, []byte(":\n  - ["), 0644)
	if err := LoadUserPrompts(path); err == nil {
		t.Error("malformed yaml should error")
	}
}
