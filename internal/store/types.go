package store

// Status group names. Every status belongs to exactly one group.
const (
	GroupBacklog   = "Backlog"
	GroupUnstarted = "Unstarted"
	GroupStarted   = "Started"
	GroupCompleted = "Completed"
	GroupCancelled = "Cancelled"
)

// Groups lists the canonical status groups in board order.
var Groups = []string{GroupBacklog, GroupUnstarted, GroupStarted, GroupCompleted, GroupCancelled}

// Workspace states. completed and failed are terminal.
const (
	WorkspaceRunning   = "running"
	WorkspaceCompleted = "completed"
	WorkspaceFailed    = "failed"
)

// Actor values for created_by / source / resolved_by / role fields.
const (
	ActorAgent = "agent"
	ActorUser  = "user"
)

// Project is the single row owning every other entity in this store.
type Project struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	AgentConfig map[string]any `json:"agent_config"`
	BasePath    *string        `json:"base_path,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// Status is one workflow column.
type Status struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	Group         string   `json:"group"`
	Name          string   `json:"name"`
	SortOrder     int      `json:"sort_order"`
	IsDefault     bool     `json:"is_default"`
	StatusPrompts []string `json:"status_prompts"`
	CreatedAt     string   `json:"created_at"`
}

// Card is a tracked unit of work.
type Card struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	ParentID    *string  `json:"parent_id,omitempty"`
	StatusID    string   `json:"status_id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	SortOrder   int      `json:"sort_order"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// CardWithStatus joins a card with its status name and group.
type CardWithStatus struct {
	Card
	StatusName  string `json:"status_name"`
	StatusGroup string `json:"status_group"`
}

// OpenQuestion is unresolved iff ResolvedAt is nil.
type OpenQuestion struct {
	ID         string  `json:"id"`
	CardID     string  `json:"card_id"`
	Question   string  `json:"question"`
	Resolution *string `json:"resolution,omitempty"`
	Source     string  `json:"source"`
	ResolvedBy *string `json:"resolved_by,omitempty"`
	CreatedAt  string  `json:"created_at"`
	ResolvedAt *string `json:"resolved_at,omitempty"`
}

// Artifact indexes a markdown file on disk at <project_root>/<Path>.
type Artifact struct {
	ID        string `json:"id"`
	CardID    string `json:"card_id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Path      string `json:"path"`
	CreatedBy string `json:"created_by"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// Conversation is a message thread attached to a card.
type Conversation struct {
	ID        string  `json:"id"`
	CardID    string  `json:"card_id"`
	AgentType string  `json:"agent_type"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
}

// ConversationMessage is one message, ordered by Timestamp.
type ConversationMessage struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Timestamp      string `json:"timestamp"`
}

// LinkedDirectory associates an external directory with a project.
type LinkedDirectory struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Path      string `json:"path"`
	Label     string `json:"label"`
	IsRepo    bool   `json:"is_repo"`
	CreatedAt string `json:"created_at"`
}

// Workspace is the persisted mirror of one supervised agent process.
// The pid is a weak reference: the process may die without the row
// changing, and reconciliation is explicit.
type Workspace struct {
	ID           string  `json:"id"`
	CardID       string  `json:"card_id"`
	AgentType    string  `json:"agent_type"`
	Status       string  `json:"status"`
	SessionID    *string `json:"session_id,omitempty"`
	PID          *int64  `json:"pid,omitempty"`
	WorktreePath *string `json:"worktree_path,omitempty"`
	BranchName   *string `json:"branch_name,omitempty"`
	ReviewCount  int     `json:"review_count"`
	AttachedAt   string  `json:"attached_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
}
