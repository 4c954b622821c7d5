package agent

import (
	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/store"
)

// ReattachedWorkspace is a running row whose process survived a daemon
// restart. The daemon cannot recapture its stdio; the workspace is
// observed passively until it exits.
type ReattachedWorkspace struct {
	WorkspaceID string `json:"workspace_id"`
	ProjectID   string `json:"project_id"`
	CardID      string `json:"card_id"`
	PID         int64  `json:"pid"`
}

// CrashedWorkspace is a running row whose process died while the daemon
// was down.
type CrashedWorkspace struct {
	WorkspaceID string  `json:"workspace_id"`
	ProjectID   string  `json:"project_id"`
	CardID      string  `json:"card_id"`
	SessionID   *string `json:"session_id,omitempty"`
}

// ReconcileResult partitions persisted running rows after a daemon boot.
type ReconcileResult struct {
	Reattached []ReattachedWorkspace
	Crashed    []CrashedWorkspace
}

// Reconcile runs once on daemon boot, before any new supervision begins.
// Rows whose pid is alive are recorded for passive observation; rows whose
// pid is missing or dead are transitioned to failed and collected into the
// crashed-on-startup list. Per-project errors are swallowed.
func (sv *Supervisor) Reconcile() ReconcileResult {
	var result ReconcileResult

	basePath := sv.cfg.BasePath()
	ids, err := store.ProjectDirs(basePath)
	if err != nil {
		return result
	}

	for _, projectID := range ids {
		sv.reconcileProject(basePath, projectID, &result)
	}

	if len(result.Crashed) > 0 {
		seen := make(map[string]bool)
		for _, c := range result.Crashed {
			sv.bus.Publish(events.AgentCrashed{WorkspaceID: c.WorkspaceID, ProjectID: c.ProjectID})
			if !seen[c.ProjectID] {
				seen[c.ProjectID] = true
				sv.bus.Publish(events.WorkspacesChanged{ProjectScoped: events.NewProjectScoped(c.ProjectID)})
			}
		}
	}

	debug.LogKV("reconcile", "startup scan complete",
		"reattached", len(result.Reattached), "crashed", len(result.Crashed))
	return result
}

func (sv *Supervisor) reconcileProject(basePath, projectID string, result *ReconcileResult) {
	s, err := store.Open(basePath, projectID)
	if err != nil {
		return
	}
	defer s.Close()

	running, err := s.ListRunningWorkspaces()
	if err != nil {
		return
	}

	for _, w := range running {
		if w.PID != nil && *w.PID > 0 && processAlive(int(*w.PID)) {
			result.Reattached = append(result.Reattached, ReattachedWorkspace{
				WorkspaceID: w.ID,
				ProjectID:   projectID,
				CardID:      w.CardID,
				PID:         *w.PID,
			})
			continue
		}

		if err := s.TransitionWorkspace(w.ID, store.WorkspaceFailed); err != nil {
			continue
		}
		result.Crashed = append(result.Crashed, CrashedWorkspace{
			WorkspaceID: w.ID,
			ProjectID:   projectID,
			CardID:      w.CardID,
			SessionID:   w.SessionID,
		})
	}
}
