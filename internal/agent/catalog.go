package agent

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/josephschmitt/maestro/internal/debug"
)

//go:embed prompts/*.md
var promptFS embed.FS

// maestroSkill is the baseline primer injected whenever the IPC socket is
// available to the child.
var maestroSkill = mustPrompt("maestro-skill")

var builtinPromptIDs = []string{
	"brainstorming",
	"tdd",
	"systematic-debugging",
	"verification",
	"code-review",
	"implementation-planning",
}

func mustPrompt(id string) string {
	data, err := promptFS.ReadFile("prompts/" + id + ".md")
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %s: %v", id, err))
	}
	return string(data)
}

var (
	userPromptsMu sync.RWMutex
	userPrompts   map[string]string
)

// userPromptsFile is the optional catalog of user-defined status-prompt
// snippets, keyed by id:
//
//	prompts:
//	  security-review: |
//	    # Security Review
//	    ...
type userPromptsFile struct {
	Prompts map[string]string `yaml:"prompts"`
}

// LoadUserPrompts reads the prompts catalog at path (the daemon passes
// DefaultUserPromptsPath, ~/.maestro/prompts.yaml). User snippets extend
// the built-in catalog and may override built-in ids.
// A missing file is not an error.
func LoadUserPrompts(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading prompts catalog: %w", err)
	}

	var file userPromptsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing prompts catalog %s: %w", path, err)
	}

	loaded := make(map[string]string, len(file.Prompts))
	for id, content := range file.Prompts {
		id = strings.TrimSpace(strings.ToLower(id))
		if id == "" || strings.TrimSpace(content) == "" {
			continue
		}
		loaded[id] = content
	}

	userPromptsMu.Lock()
	userPrompts = loaded
	userPromptsMu.Unlock()

	debug.LogKV("agent", "user prompts loaded", "path", path, "count", len(loaded))
	return nil
}

// DefaultUserPromptsPath returns ~/.maestro/prompts.yaml.
func DefaultUserPromptsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".maestro", "prompts.yaml")
}

// statusPromptContent resolves a snippet id against the user catalog first,
// then the built-ins. Unknown ids return ("", false) and are skipped.
func statusPromptContent(id string) (string, bool) {
	userPromptsMu.RLock()
	content, ok := userPrompts[strings.ToLower(id)]
	userPromptsMu.RUnlock()
	if ok {
		return content, true
	}

	for _, builtin := range builtinPromptIDs {
		if builtin == id {
			return mustPrompt(id), true
		}
	}
	return "", false
}
