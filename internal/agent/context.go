package agent

import (
	"fmt"

	"github.com/josephschmitt/maestro/internal/config"
)

// Context is the spawn descriptor for one supervised child.
type Context struct {
	Binary       string
	Args         []string
	WorkingDir   string
	Env          map[string]string
	SystemPrompt string
}

// CardInfo is the card metadata folded into the system prompt.
type CardInfo struct {
	ID                string
	Title             string
	Description       string
	ParentTitle       *string
	ParentDescription *string
}

// AssembleInput collects everything context assembly needs.
type AssembleInput struct {
	Global             *config.GlobalConfig
	ProjectAgentConfig map[string]any
	StatusGroup        string
	Card               CardInfo
	WorkingDir         string
	Artifacts          [][2]string // (name, content) pairs
	SocketPath         string      // "" when the IPC socket is not bound
	WorktreeName       string      // "" when no worktree is used
	StatusPrompts      []string
}

// Assemble resolves the agent configuration and builds the spawn
// descriptor. Fails when the resolved agent name has no profile — that is
// a fatal configuration error, not something to paper over at spawn time.
func Assemble(in AssembleInput) (*Context, error) {
	resolved := config.ResolveAgentConfig(in.Global, in.ProjectAgentConfig, in.StatusGroup)

	profile, ok := in.Global.Agents[resolved.Agent]
	if !ok {
		return nil, fmt.Errorf("agent profile %q not found in config", resolved.Agent)
	}

	binary := profile.Binary
	var args []string
	if profile.CustomCommand != "" {
		binary = profile.CustomCommand
	} else {
		args = append(args, profile.Flags...)
	}

	systemPrompt := buildSystemPrompt(resolved, in)

	args = append(args, "--print", systemPrompt)
	if resolved.Model != "" {
		args = append(args, "--model", resolved.Model)
	}
	if in.WorktreeName != "" {
		args = append(args, "--worktree", in.WorktreeName)
	}

	env := map[string]string{
		"MAESTRO_CARD_ID":     in.Card.ID,
		"MAESTRO_WORKING_DIR": in.WorkingDir,
	}
	if in.SocketPath != "" {
		env["MAESTRO_SOCKET"] = in.SocketPath
	}

	return &Context{
		Binary:       binary,
		Args:         args,
		WorkingDir:   in.WorkingDir,
		Env:          env,
		SystemPrompt: systemPrompt,
	}, nil
}

// buildSystemPrompt concatenates, in order: resolved instructions, the
// maestro skill primer (socket available only), each named status-prompt
// snippet, then the card section with parent and artifacts.
func buildSystemPrompt(resolved config.ResolvedAgentConfig, in AssembleInput) string {
	var parts []string

	if resolved.Instructions != "" {
		parts = append(parts, resolved.Instructions)
	}

	if in.SocketPath != "" {
		parts = append(parts, maestroSkill)
	}

	for _, id := range in.StatusPrompts {
		if content, ok := statusPromptContent(id); ok {
			parts = append(parts, content)
		}
	}

	parts = append(parts, "# Task: "+in.Card.Title)

	if in.Card.Description != "" {
		parts = append(parts, "\n## Description\n\n"+in.Card.Description)
	}

	if in.Card.ParentTitle != nil {
		parts = append(parts, "\n## Parent Card: "+*in.Card.ParentTitle)
		if in.Card.ParentDescription != nil && *in.Card.ParentDescription != "" {
			parts = append(parts, *in.Card.ParentDescription)
		}
	}

	if len(in.Artifacts) > 0 {
		parts = append(parts, "\n## Exploration Artifacts\n")
		for _, a := range in.Artifacts {
			parts = append(parts, fmt.Sprintf("### %s\n\n%s", a[0], a[1]))
		}
	}

	return joinParts(parts)
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}
