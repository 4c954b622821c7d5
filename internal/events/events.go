// Package events defines the daemon's typed event plane: every change a
// subscriber might care about flows through one in-process Bus.
package events

// Event type identifiers as they appear on the wire.
const (
	TypeAgentOutput  = "agent-output"
	TypeAgentExit    = "agent-exit"
	TypeAgentCrashed = "agent-crashed"
	TypeAgentLog     = "agent-log"

	TypeCardsChanged         = "cards-changed"
	TypeStatusesChanged      = "statuses-changed"
	TypeQuestionsChanged     = "questions-changed"
	TypeArtifactsChanged     = "artifacts-changed"
	TypeConversationsChanged = "conversations-changed"
	TypeWorkspacesChanged    = "workspaces-changed"
	TypeDirectoriesChanged   = "directories-changed"

	TypeProjectsChanged = "projects-changed"
	TypeConfigChanged   = "config-changed"
)

// Event is anything publishable on the Bus. Scope returns the workspace or
// project id the event applies to, or "" for unscoped events, so that
// subscribers can filter cheaply.
type Event interface {
	EventType() string
	Scope() string
}

// AgentOutput carries one line from a supervised child's stdout or stderr.
type AgentOutput struct {
	WorkspaceID string `json:"workspace_id"`
	Stream      string `json:"stream"` // "stdout" or "stderr"
	Line        string `json:"line"`
}

func (AgentOutput) EventType() string { return TypeAgentOutput }
func (e AgentOutput) Scope() string   { return e.WorkspaceID }

// AgentExit signals that a supervised child exited on its own.
type AgentExit struct {
	WorkspaceID string `json:"workspace_id"`
	ExitCode    *int   `json:"exit_code"`
	Status      string `json:"status"` // "completed" or "failed"
}

func (AgentExit) EventType() string { return TypeAgentExit }
func (e AgentExit) Scope() string   { return e.WorkspaceID }

// AgentCrashed signals that a child's pid was found dead without an
// observed exit.
type AgentCrashed struct {
	WorkspaceID string `json:"workspace_id"`
	ProjectID   string `json:"project_id"`
}

func (AgentCrashed) EventType() string { return TypeAgentCrashed }
func (e AgentCrashed) Scope() string   { return e.WorkspaceID }

// AgentLog is a progress note from the agent, never persisted.
type AgentLog struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	CardID      string `json:"card_id"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}

func (AgentLog) EventType() string { return TypeAgentLog }
func (e AgentLog) Scope() string   { return e.WorkspaceID }

// ProjectScoped is the shared shape of all <entity>-changed events.
type ProjectScoped struct {
	ProjectID string `json:"project_id"`
}

func (e ProjectScoped) Scope() string { return e.ProjectID }

// CardsChanged signals card rows changed in a project.
type CardsChanged struct{ ProjectScoped }

func (CardsChanged) EventType() string { return TypeCardsChanged }

// StatusesChanged signals status rows changed in a project.
type StatusesChanged struct{ ProjectScoped }

func (StatusesChanged) EventType() string { return TypeStatusesChanged }

// QuestionsChanged signals open-question rows changed in a project.
type QuestionsChanged struct{ ProjectScoped }

func (QuestionsChanged) EventType() string { return TypeQuestionsChanged }

// ArtifactsChanged signals artifact rows changed in a project.
type ArtifactsChanged struct{ ProjectScoped }

func (ArtifactsChanged) EventType() string { return TypeArtifactsChanged }

// ConversationsChanged signals conversation rows changed in a project.
type ConversationsChanged struct{ ProjectScoped }

func (ConversationsChanged) EventType() string { return TypeConversationsChanged }

// WorkspacesChanged signals workspace rows changed in a project.
type WorkspacesChanged struct{ ProjectScoped }

func (WorkspacesChanged) EventType() string { return TypeWorkspacesChanged }

// DirectoriesChanged signals linked-directory rows changed in a project.
type DirectoriesChanged struct{ ProjectScoped }

func (DirectoriesChanged) EventType() string { return TypeDirectoriesChanged }

// ProjectsChanged signals the set of projects changed.
type ProjectsChanged struct{}

func (ProjectsChanged) EventType() string { return TypeProjectsChanged }
func (ProjectsChanged) Scope() string     { return "" }

// ConfigChanged signals the global config was updated.
type ConfigChanged struct{}

func (ConfigChanged) EventType() string { return TypeConfigChanged }
func (ConfigChanged) Scope() string     { return "" }

// NewProjectScoped builds the payload for an <entity>-changed event.
func NewProjectScoped(projectID string) ProjectScoped {
	return ProjectScoped{ProjectID: projectID}
}
