package agent

import (
	"context"
	"time"

	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/store"
)

// sweepInterval is how often the liveness monitor probes persisted pids.
const sweepInterval = 5 * time.Second

// RunMonitor ticks until ctx is done, sweeping every project store for
// running rows whose pid is no longer alive. Per-row and per-project
// errors are swallowed so one bad store never stops the sweep.
func (sv *Supervisor) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sv.sweep()
		}
	}
}

func (sv *Supervisor) sweep() {
	basePath := sv.cfg.BasePath()
	ids, err := store.ProjectDirs(basePath)
	if err != nil {
		return
	}

	for _, projectID := range ids {
		sv.sweepProject(basePath, projectID)
	}
}

func (sv *Supervisor) sweepProject(basePath, projectID string) {
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
		if w.PID == nil {
			continue
		}
		if processAlive(int(*w.PID)) {
			continue
		}

		// The exit waiter may have won the race; TransitionWorkspace only
		// touches rows still marked running, so a second update is a no-op.
		sv.registry.Remove(w.ID)
		if err := s.TransitionWorkspace(w.ID, store.WorkspaceFailed); err != nil {
			continue
		}

		debug.LogKV("monitor", "dead pid detected",
			"workspace_id", w.ID, "project_id", projectID, "pid", *w.PID)

		sv.bus.Publish(events.AgentCrashed{WorkspaceID: w.ID, ProjectID: projectID})
		sv.bus.Publish(events.WorkspacesChanged{ProjectScoped: events.NewProjectScoped(projectID)})
	}
}
