// Package config loads and resolves the global maestro configuration
// stored at ~/.maestro/config.toml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/josephschmitt/maestro/internal/paths"
)

// AgentProfile describes how to invoke one agent CLI.
// A non-empty CustomCommand replaces Binary+Flags entirely.
type AgentProfile struct {
	Binary        string   `toml:"binary"`
	Flags         []string `toml:"flags"`
	CustomCommand string   `toml:"custom_command,omitempty"`
}

// StatusGroupConfig is a per-status-group override. Empty fields inherit
// from the next resolution layer.
type StatusGroupConfig struct {
	Agent        string `toml:"agent,omitempty"`
	Model        string `toml:"model,omitempty"`
	Instructions string `toml:"instructions,omitempty"`
}

// StorageConfig locates the on-disk base path.
type StorageConfig struct {
	BasePath string `toml:"base_path"`
}

// DefaultsConfig holds the global agent defaults.
type DefaultsConfig struct {
	Agent         string                       `toml:"agent"`
	LastProjectID string                       `toml:"last_project_id"`
	Status        map[string]StatusGroupConfig `toml:"status,omitempty"`
}

// HTTPServerConfig configures the HTTP facade. An empty AuthToken
// disables authentication.
type HTTPServerConfig struct {
	Enabled     bool   `toml:"enabled"`
	Port        int    `toml:"port"`
	BindAddress string `toml:"bind_address"`
	AuthToken   string `toml:"auth_token,omitempty"`
}

// GlobalConfig is the full contents of config.toml.
type GlobalConfig struct {
	Storage    StorageConfig           `toml:"storage"`
	Agents     map[string]AgentProfile `toml:"agents"`
	Defaults   DefaultsConfig          `toml:"defaults"`
	HTTPServer HTTPServerConfig        `toml:"http_server"`
}

// Default returns the built-in configuration written on first run.
func Default() *GlobalConfig {
	return &GlobalConfig{
		Storage: StorageConfig{BasePath: "~/.maestro"},
		Agents: map[string]AgentProfile{
			"claude-code": {
				Binary: "claude",
				Flags:  []string{"--dangerously-skip-permissions"},
			},
			"codex": {
				Binary: "codex",
				Flags:  []string{"--full-auto"},
			},
		},
		Defaults: DefaultsConfig{
			Agent:  "claude-code",
			Status: map[string]StatusGroupConfig{},
		},
		HTTPServer: HTTPServerConfig{
			Enabled:     true,
			Port:        3100,
			BindAddress: "127.0.0.1",
		},
	}
}

// DefaultPath returns ~/.maestro/config.toml.
func DefaultPath() string {
	return paths.ExpandTilde("~/.maestro/config.toml")
}

// ResolveBasePath expands the configured storage base path.
func (c *GlobalConfig) ResolveBasePath() string {
	return paths.ExpandTilde(c.Storage.BasePath)
}

// Load reads the config file at path, creating it with defaults when missing.
func Load(path string) (*GlobalConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	var cfg GlobalConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]AgentProfile)
	}
	if cfg.Defaults.Agent == "" {
		cfg.Defaults.Agent = "claude-code"
	}
	if cfg.Defaults.Status == nil {
		cfg.Defaults.Status = make(map[string]StatusGroupConfig)
	}
	if cfg.Storage.BasePath == "" {
		cfg.Storage.BasePath = "~/.maestro"
	}
	return &cfg, nil
}

// Save writes the config atomically: marshal to a temp file in the same
// directory, then rename over the target.
func Save(cfg *GlobalConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return fmt.Errorf("creating temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// State guards the live global config behind mutual exclusion. Updates are
// persisted to disk before the lock is released.
type State struct {
	mu   sync.Mutex
	cfg  *GlobalConfig
	path string
}

// NewState wraps a loaded config.
func NewState(cfg *GlobalConfig, path string) *State {
	return &State{cfg: cfg, path: path}
}

// With runs fn with read access to the config.
func (s *State) With(fn func(*GlobalConfig) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.cfg)
}

// BasePath returns the resolved storage base path.
func (s *State) BasePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ResolveBasePath()
}

// Snapshot returns a shallow copy of the current config.
func (s *State) Snapshot() GlobalConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.cfg
}

// Update mutates the config and saves it to disk under the lock.
func (s *State) Update(fn func(*GlobalConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cfg)
	return Save(s.cfg, s.path)
}
