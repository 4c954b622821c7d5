package agent

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/josephschmitt/maestro/internal/config"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/store"
)

// newTestSupervisor builds a supervisor whose "agent" is a shell script.
func newTestSupervisor(t *testing.T, script string) (*Supervisor, *store.Store, *events.Bus, string) {
	t.Helper()

	base := t.TempDir()

	scriptPath := filepath.Join(t.TempDir(), "agent.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg := config.Default()
	cfg.Storage.BasePath = base
	cfg.Agents["claude-code"] = config.AgentProfile{Binary: scriptPath}
	state := config.NewState(cfg, filepath.Join(base, "config.toml"))

	bus := events.NewBus()
	sv := NewSupervisor(state, bus, NewRegistry())

	s, _, err := store.CreateProject(base, "Test")
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return sv, s, bus, base
}

func launchTestCard(t *testing.T, sv *Supervisor, s *store.Store) *store.Workspace {
	t.Helper()
	card, err := s.CreateCard("T1", "do the thing", nil, nil, "")
	if err != nil {
		t.Fatalf("CreateCard() error = %v", err)
	}
	w, err := sv.Launch(LaunchRequest{
		ProjectID: s.ProjectID(),
		CardID:    card.ID,
		StatusID:  card.StatusID,
	})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	return w
}

func waitForEvent(t *testing.T, sub *events.Subscription, eventType string, timeout time.Duration) events.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.C:
			if ev.EventType() == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestLaunchStreamsOutputAndExit(t *testing.T) {
	sv, s, bus, _ := newTestSupervisor(t, `#!/usr/bin/env sh
echo "starting up"
echo "on stderr" >&2
exit 0
`)
	sub := bus.Subscribe()
	defer sub.Close()

	w := launchTestCard(t, sv, s)
	if w.Status != store.WorkspaceRunning || w.PID == nil {
		t.Fatalf("fresh workspace = %+v", w)
	}

	out := waitForEvent(t, sub, events.TypeAgentOutput, 5*time.Second).(events.AgentOutput)
	if out.WorkspaceID != w.ID {
		t.Errorf("output workspace = %q, want %q", out.WorkspaceID, w.ID)
	}

	exit := waitForEvent(t, sub, events.TypeAgentExit, 5*time.Second).(events.AgentExit)
	if exit.Status != store.WorkspaceCompleted {
		t.Errorf("exit status = %q, want completed", exit.Status)
	}

	// Row converges to completed after the exit event.
	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetWorkspace(w.ID)
		return err == nil && got.Status == store.WorkspaceCompleted
	})

	if _, ok := sv.Registry().Get(w.ID); ok {
		t.Error("registry entry should be gone after exit")
	}
}

func TestLaunchNonzeroExitFails(t *testing.T) {
	sv, s, bus, _ := newTestSupervisor(t, `#!/usr/bin/env sh
exit 3
`)
	sub := bus.Subscribe()
	defer sub.Close()

	w := launchTestCard(t, sv, s)

	exit := waitForEvent(t, sub, events.TypeAgentExit, 5*time.Second).(events.AgentExit)
	if exit.Status != store.WorkspaceFailed || exit.ExitCode == nil || *exit.ExitCode != 3 {
		t.Errorf("exit = %+v", exit)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetWorkspace(w.ID)
		return err == nil && got.Status == store.WorkspaceFailed
	})
}

func TestSendInputReachesChild(t *testing.T) {
	sv, s, bus, _ := newTestSupervisor(t, `#!/usr/bin/env sh
read line
echo "got: $line"
`)
	sub := bus.Subscribe()
	defer sub.Close()

	w := launchTestCard(t, sv, s)

	if err := sv.SendInput(w.ID, "hello agent"); err != nil {
		t.Fatalf("SendInput() error = %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sub.C:
			if out, ok := ev.(events.AgentOutput); ok && out.Line == "got: hello agent" {
				return
			}
		case <-deadline:
			t.Fatal("child never echoed forwarded stdin")
		}
	}
}

func TestSendInputToUnknownWorkspaceErrors(t *testing.T) {
	sv, _, _, _ := newTestSupervisor(t, "#!/usr/bin/env sh\n")
	if err := sv.SendInput("missing", "text"); err == nil {
		t.Error("SendInput to unknown workspace should error")
	}
}

func TestStopMarksWorkspaceFailed(t *testing.T) {
	sv, s, _, _ := newTestSupervisor(t, `#!/usr/bin/env sh
while true; do sleep 1; done
`)
	w := launchTestCard(t, sv, s)

	stopped, err := sv.Stop(s.ProjectID(), w.ID)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stopped.Status != store.WorkspaceFailed || stopped.CompletedAt == nil {
		t.Errorf("stopped = %+v", stopped)
	}
	if _, ok := sv.Registry().Get(w.ID); ok {
		t.Error("registry entry should be gone after stop")
	}
	if w.PID != nil {
		waitFor(t, 5*time.Second, func() bool { return !processAlive(int(*w.PID)) })
	}
}

func TestStopAllFailsEveryRunningRow(t *testing.T) {
	sv, s, _, _ := newTestSupervisor(t, `#!/usr/bin/env sh
while true; do sleep 1; done
`)
	launchTestCard(t, sv, s)
	launchTestCard(t, sv, s)

	sv.StopAll()

	if sv.Registry().Len() != 0 {
		t.Errorf("registry size = %d, want 0", sv.Registry().Len())
	}
	waitFor(t, 5*time.Second, func() bool {
		running, err := s.ListRunningWorkspaces()
		return err == nil && len(running) == 0
	})
}

func TestResumeRequiresSessionID(t *testing.T) {
	sv, s, _, _ := newTestSupervisor(t, "#!/usr/bin/env sh\n")

	card, _ := s.CreateCard("T1", "", nil, nil, "")
	w, err := s.InsertWorkspace(store.NewWorkspace{CardID: card.ID, AgentType: "claude", PID: 1})
	if err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}

	if _, err := sv.Resume(s.ProjectID(), w.ID); err == nil {
		t.Error("Resume without session_id should error")
	}
}

func TestResumeInsertsNewWorkspaceRow(t *testing.T) {
	sv, s, _, _ := newTestSupervisor(t, `#!/usr/bin/env sh
exit 0
`)
	card, _ := s.CreateCard("T1", "", nil, nil, "")
	sess := "sess-token"
	prev, err := s.InsertWorkspace(store.NewWorkspace{
		CardID:    card.ID,
		AgentType: "claude",
		SessionID: &sess,
		PID:       1,
	})
	if err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}
	s.TransitionWorkspace(prev.ID, store.WorkspaceFailed)

	resumed, err := sv.Resume(s.ProjectID(), prev.ID)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.ID == prev.ID {
		t.Error("resume must insert a fresh workspace row")
	}
	if resumed.SessionID == nil || *resumed.SessionID != sess {
		t.Errorf("resumed session = %v, want shared token", resumed.SessionID)
	}

	all, _ := s.ListWorkspaces(card.ID)
	if len(all) != 2 {
		t.Errorf("workspace rows = %d, want 2", len(all))
	}
}

func TestMonitorSweepDetectsDeadPid(t *testing.T) {
	sv, s, bus, _ := newTestSupervisor(t, "#!/usr/bin/env sh\n")
	sub := bus.Subscribe()
	defer sub.Close()

	card, _ := s.CreateCard("T1", "", nil, nil, "")
	deadPID := reapedPID(t)
	w, err := s.InsertWorkspace(store.NewWorkspace{CardID: card.ID, AgentType: "claude", PID: int64(deadPID)})
	if err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}

	sv.sweep()

	crashed := waitForEvent(t, sub, events.TypeAgentCrashed, 5*time.Second).(events.AgentCrashed)
	if crashed.WorkspaceID != w.ID || crashed.ProjectID != s.ProjectID() {
		t.Errorf("crashed = %+v", crashed)
	}

	got, _ := s.GetWorkspace(w.ID)
	if got.Status != store.WorkspaceFailed || got.CompletedAt == nil {
		t.Errorf("workspace after sweep = %+v", got)
	}
}

func TestMonitorSkipsLivePid(t *testing.T) {
	sv, s, _, _ := newTestSupervisor(t, "#!/usr/bin/env sh\n")

	card, _ := s.CreateCard("T1", "", nil, nil, "")
	w, err := s.InsertWorkspace(store.NewWorkspace{CardID: card.ID, AgentType: "claude", PID: int64(os.Getpid())})
	if err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}

	sv.sweep()

	got, _ := s.GetWorkspace(w.ID)
	if got.Status != store.WorkspaceRunning {
		t.Errorf("live workspace transitioned to %q", got.Status)
	}
}

func TestReconcilePartitionsRows(t *testing.T) {
	sv, s, _, _ := newTestSupervisor(t, "#!/usr/bin/env sh\n")

	card, _ := s.CreateCard("T1", "", nil, nil, "")
	alive, err := s.InsertWorkspace(store.NewWorkspace{CardID: card.ID, AgentType: "claude", PID: int64(os.Getpid())})
	if err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}
	dead, err := s.InsertWorkspace(store.NewWorkspace{CardID: card.ID, AgentType: "claude", PID: int64(reapedPID(t))})
	if err != nil {
		t.Fatalf("InsertWorkspace() error = %v", err)
	}

	result := sv.Reconcile()

	if len(result.Reattached) != 1 || result.Reattached[0].WorkspaceID != alive.ID {
		t.Errorf("reattached = %+v", result.Reattached)
	}
	if len(result.Crashed) != 1 || result.Crashed[0].WorkspaceID != dead.ID {
		t.Errorf("crashed = %+v", result.Crashed)
	}

	gotDead, _ := s.GetWorkspace(dead.ID)
	if gotDead.Status != store.WorkspaceFailed {
		t.Errorf("dead row status = %q, want failed", gotDead.Status)
	}
	gotAlive, _ := s.GetWorkspace(alive.ID)
	if gotAlive.Status != store.WorkspaceRunning {
		t.Errorf("alive row status = %q, want running", gotAlive.Status)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own pid should be alive")
	}
	if processAlive(reapedPID(t)) {
		t.Error("reaped pid should be dead")
	}
}

// reapedPID spawns and reaps a short-lived process, returning its now-dead pid.
func reapedPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting /bin/true: %v", err)
	}
	pid := cmd.Process.Pid
	cmd.Wait()
	return pid
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
