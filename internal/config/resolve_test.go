package config

import "testing"

func testGlobal() *GlobalConfig {
	cfg := Default()
	cfg.Defaults.Status = map[string]StatusGroupConfig{
		"started": {
			Agent:        "claude-code",
			Model:        "sonnet",
			Instructions: "Global started instructions",
		},
	}
	return cfg
}

func TestResolveGlobalDefaultFallback(t *testing.T) {
	resolved := ResolveAgentConfig(testGlobal(), map[string]any{}, "Backlog")
	if resolved.Agent != "claude-code" {
		t.Errorf("Agent = %q, want claude-code", resolved.Agent)
	}
	if resolved.Model != "" {
		t.Errorf("Model = %q, want empty", resolved.Model)
	}
}

func TestResolveGlobalStatusOverride(t *testing.T) {
	resolved := ResolveAgentConfig(testGlobal(), map[string]any{}, "Started")
	if resolved.Agent != "claude-code" || resolved.Model != "sonnet" {
		t.Errorf("resolved = %+v", resolved)
	}
	if resolved.Instructions == "" {
		t.Error("Instructions should come from global status override")
	}
}

func TestResolveProjectDefaultOverridesGlobal(t *testing.T) {
	project := map[string]any{"agent": "codex"}
	resolved := ResolveAgentConfig(testGlobal(), project, "Backlog")
	if resolved.Agent != "codex" {
		t.Errorf("Agent = %q, want codex", resolved.Agent)
	}
}

func TestResolveProjectStatusOverridesAll(t *testing.T) {
	project := map[string]any{
		"agent": "codex",
		"status": map[string]any{
			"started": map[string]any{
				"agent":        "opencode",
				"model":        "opus",
				"instructions": "Project started instructions",
			},
		},
	}
	resolved := ResolveAgentConfig(testGlobal(), project, "Started")
	if resolved.Agent != "opencode" || resolved.Model != "opus" || resolved.Instructions != "Project started instructions" {
		t.Errorf("resolved = %+v", resolved)
	}
}

func TestResolvePartialProjectStatusInheritsAgent(t *testing.T) {
	project := map[string]any{
		"agent": "codex",
		"status": map[string]any{
			"started": map[string]any{"model": "opus"},
		},
	}
	resolved := ResolveAgentConfig(testGlobal(), project, "Started")
	if resolved.Agent != "codex" {
		t.Errorf("Agent = %q, want codex (inherited from project default)", resolved.Agent)
	}
	if resolved.Model != "opus" {
		t.Errorf("Model = %q, want opus", resolved.Model)
	}
}
