package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Defaults.Agent != "claude-code" {
		t.Errorf("Defaults.Agent = %q", cfg.Defaults.Agent)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file should have been created: %v", err)
	}
}

func TestLoadParsesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
base_path = "/custom/path"

[defaults]
agent = "codex"
last_project_id = "abc-123"

[agents.codex]
binary = "codex"
flags = ["--full-auto"]

[http_server]
port = 4000
bind_address = "0.0.0.0"
auth_token = "secret"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.BasePath != "/custom/path" {
		t.Errorf("BasePath = %q", cfg.Storage.BasePath)
	}
	if cfg.Defaults.Agent != "codex" || cfg.Defaults.LastProjectID != "abc-123" {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
	if cfg.HTTPServer.Port != 4000 || cfg.HTTPServer.AuthToken != "secret" {
		t.Errorf("HTTPServer = %+v", cfg.HTTPServer)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Defaults.LastProjectID = "test-id"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Defaults.LastProjectID != "test-id" {
		t.Errorf("LastProjectID = %q", loaded.Defaults.LastProjectID)
	}
}

func TestStateUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	state := NewState(cfg, path)
	if err := state.Update(func(c *GlobalConfig) {
		c.Defaults.LastProjectID = "updated"
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if reloaded.Defaults.LastProjectID != "updated" {
		t.Errorf("LastProjectID = %q, want updated", reloaded.Defaults.LastProjectID)
	}
}
