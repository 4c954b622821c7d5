package agent

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/josephschmitt/maestro/internal/config"
	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/paths"
	"github.com/josephschmitt/maestro/internal/store"
)

const (
	stopGracePeriod = 5 * time.Second
	stopPollEvery   = 100 * time.Millisecond
)

// Supervisor spawns and tracks agent child processes. The workspace row in
// the store is the persisted mirror of each child; the registry holds the
// live side.
type Supervisor struct {
	cfg      *config.State
	bus      *events.Bus
	registry *Registry
}

// NewSupervisor wires the process-wide collaborators together.
func NewSupervisor(cfg *config.State, bus *events.Bus, registry *Registry) *Supervisor {
	return &Supervisor{cfg: cfg, bus: bus, registry: registry}
}

// Registry exposes the live handle map (the IPC server and websocket
// bridge need stdin senders).
func (sv *Supervisor) Registry() *Registry {
	return sv.registry
}

// LaunchRequest names the card and optional worktree for a launch.
type LaunchRequest struct {
	ProjectID    string
	CardID       string
	StatusID     string
	WorktreePath *string
	BranchName   *string
}

// Launch assembles the context for a card, spawns the agent child with
// piped stdio, records the workspace row, and arms the stream readers and
// exit waiter. The row and registry entry exist before the first output
// event is published.
func (sv *Supervisor) Launch(req LaunchRequest) (*store.Workspace, error) {
	basePath := sv.cfg.BasePath()

	s, err := store.Open(basePath, req.ProjectID)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	card, err := s.GetCard(req.CardID)
	if err != nil {
		return nil, err
	}
	info := CardInfo{ID: card.ID, Title: card.Title, Description: card.Description}
	if card.ParentID != nil {
		if parent, err := s.GetCard(*card.ParentID); err == nil {
			info.ParentTitle = &parent.Title
			info.ParentDescription = &parent.Description
		}
	}

	project, err := s.Project()
	if err != nil {
		return nil, err
	}

	status, err := s.GetStatus(req.StatusID)
	if err != nil {
		return nil, err
	}

	workingDir := paths.ArtifactDir(basePath, req.ProjectID, req.CardID)
	var artifacts [][2]string
	if req.WorktreePath != nil {
		workingDir = *req.WorktreePath
		artifacts = store.CollectArtifactContents(basePath, req.ProjectID, req.CardID)
	}
	if err := os.MkdirAll(workingDir, 0755); err != nil {
		return nil, fmt.Errorf("creating working directory: %w", err)
	}

	socketPath := ""
	if _, err := os.Stat(paths.SocketPath(req.ProjectID)); err == nil {
		socketPath = paths.SocketPath(req.ProjectID)
	}

	worktreeName := ""
	if req.WorktreePath != nil {
		worktreeName = paths.CardShort(req.CardID) + "-" + paths.TruncateSlug(paths.Slug(card.Title), 40)
	}

	global := sv.cfg.Snapshot()
	ctx, err := Assemble(AssembleInput{
		Global:             &global,
		ProjectAgentConfig: project.AgentConfig,
		StatusGroup:        status.Group,
		Card:               info,
		WorkingDir:         workingDir,
		Artifacts:          artifacts,
		SocketPath:         socketPath,
		WorktreeName:       worktreeName,
		StatusPrompts:      status.StatusPrompts,
	})
	if err != nil {
		return nil, err
	}

	return sv.startChild(s, ctx, store.NewWorkspace{
		CardID:       req.CardID,
		AgentType:    ctx.Binary,
		WorktreePath: req.WorktreePath,
		BranchName:   req.BranchName,
	}, req.ProjectID)
}

// Resume spawns a fresh supervised process that reattaches to a previous
// agent-side session. A new workspace row is inserted on purpose: each
// resume is its own supervised process sharing the session token, which
// keeps an audit trail of every attach.
func (sv *Supervisor) Resume(projectID, workspaceID string) (*store.Workspace, error) {
	basePath := sv.cfg.BasePath()

	s, err := store.Open(basePath, projectID)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	prev, err := s.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	if prev.SessionID == nil || *prev.SessionID == "" {
		return nil, fmt.Errorf("workspace %s has no session to resume", workspaceID)
	}

	card, err := s.GetCard(prev.CardID)
	if err != nil {
		return nil, err
	}
	info := CardInfo{ID: card.ID, Title: card.Title, Description: card.Description}

	project, err := s.Project()
	if err != nil {
		return nil, err
	}

	workingDir := paths.ArtifactDir(basePath, projectID, prev.CardID)
	if prev.WorktreePath != nil {
		workingDir = *prev.WorktreePath
	}

	socketPath := ""
	if _, err := os.Stat(paths.SocketPath(projectID)); err == nil {
		socketPath = paths.SocketPath(projectID)
	}

	global := sv.cfg.Snapshot()
	ctx, err := Assemble(AssembleInput{
		Global:             &global,
		ProjectAgentConfig: project.AgentConfig,
		StatusGroup:        "InProgress",
		Card:               info,
		WorkingDir:         workingDir,
		SocketPath:         socketPath,
	})
	if err != nil {
		return nil, err
	}

	ctx.Args = stripPrintArg(ctx.Args)
	ctx.Args = append(ctx.Args, "--resume", *prev.SessionID)

	return sv.startChild(s, ctx, store.NewWorkspace{
		CardID:       prev.CardID,
		AgentType:    ctx.Binary,
		SessionID:    prev.SessionID,
		WorktreePath: prev.WorktreePath,
		BranchName:   prev.BranchName,
	}, projectID)
}

// stripPrintArg removes the "--print <prompt>" pair from an arg list.
func stripPrintArg(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if args[i] == "--print" {
			i++ // skip the prompt payload too
			continue
		}
		out = append(out, args[i])
	}
	return out
}

// startChild spawns the process and arms the four per-child tasks: stdout
// reader, stderr reader, stdin forwarder, exit waiter.
func (sv *Supervisor) startChild(s *store.Store, ctx *Context, nw store.NewWorkspace, projectID string) (*store.Workspace, error) {
	cmd := exec.Command(ctx.Binary, ctx.Args...)
	cmd.Dir = ctx.WorkingDir
	cmd.Env = os.Environ()
	for k, v := range ctx.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("piping stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent %s: %w", ctx.Binary, err)
	}

	nw.PID = int64(cmd.Process.Pid)
	workspace, err := s.InsertWorkspace(nw)
	if err != nil {
		cmd.Process.Kill()
		return nil, err
	}

	handle := NewHandle(workspace.ID, cmd.Process.Pid)
	sv.registry.Insert(handle)

	debug.LogKV("supervisor", "agent launched",
		"workspace_id", workspace.ID,
		"project_id", projectID,
		"card_id", nw.CardID,
		"binary", ctx.Binary,
		"pid", cmd.Process.Pid,
	)

	// Readers start after the row and registry entry are visible.
	go sv.readStream(workspace.ID, "stdout", stdout)
	go sv.readStream(workspace.ID, "stderr", stderr)
	go forwardStdin(stdin, handle.Stdin)
	go sv.awaitExit(cmd, workspace.ID, projectID)

	sv.bus.Publish(events.WorkspacesChanged{ProjectScoped: events.NewProjectScoped(projectID)})
	return workspace, nil
}

// readStream publishes each line of one child stream in emission order. A
// partial trailing line is dropped if the child dies mid-write.
func (sv *Supervisor) readStream(workspaceID, stream string, r interface{ Read([]byte) (int, error) }) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		sv.bus.Publish(events.AgentOutput{
			WorkspaceID: workspaceID,
			Stream:      stream,
			Line:        scanner.Text(),
		})
	}
	if err := scanner.Err(); err != nil {
		debug.LogKV("supervisor", "stream reader terminated",
			"workspace_id", workspaceID, "stream", stream, "error", err)
	}
}

// forwardStdin drains the bounded queue into the child, appending a
// newline to each message. Exits when the pipe breaks or the queue closes.
func forwardStdin(w interface {
	Write([]byte) (int, error)
	Close() error
}, queue <-chan string) {
	defer w.Close()
	for line := range queue {
		if _, err := w.Write([]byte(line + "\n")); err != nil {
			return
		}
	}
}

// awaitExit waits for the child, records the terminal state, and publishes
// agent-exit after the row is committed.
func (sv *Supervisor) awaitExit(cmd *exec.Cmd, workspaceID, projectID string) {
	err := cmd.Wait()

	status := store.WorkspaceCompleted
	var exitCode *int
	if err != nil {
		status = store.WorkspaceFailed
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			exitCode = &code
		}
	} else {
		code := 0
		exitCode = &code
	}

	sv.registry.Remove(workspaceID)

	if s, openErr := store.Open(sv.cfg.BasePath(), projectID); openErr == nil {
		if txErr := s.TransitionWorkspace(workspaceID, status); txErr != nil {
			debug.LogKV("supervisor", "exit transition failed", "workspace_id", workspaceID, "error", txErr)
		}
		s.Close()
	}

	debug.LogKV("supervisor", "agent exited",
		"workspace_id", workspaceID, "status", status, "error", err)

	sv.bus.Publish(events.AgentExit{WorkspaceID: workspaceID, ExitCode: exitCode, Status: status})
	sv.bus.Publish(events.WorkspacesChanged{ProjectScoped: events.NewProjectScoped(projectID)})
}

// SendInput enqueues keyboard-like input for a running child. Blocks until
// the bounded queue accepts it.
func (sv *Supervisor) SendInput(workspaceID, text string) error {
	h, ok := sv.registry.Get(workspaceID)
	if !ok {
		return fmt.Errorf("no running agent for workspace %s", workspaceID)
	}
	h.Stdin <- text
	return nil
}

// Stop terminates a child: SIGTERM, poll every 100ms, SIGKILL after the
// grace period. The workspace row always ends failed — the stop request is
// the recorded cause even if the process exits cleanly under SIGTERM.
func (sv *Supervisor) Stop(projectID, workspaceID string) (*store.Workspace, error) {
	h, ok := sv.registry.Remove(workspaceID)
	if !ok {
		return nil, fmt.Errorf("no running agent for workspace %s", workspaceID)
	}

	s, err := store.Open(sv.cfg.BasePath(), projectID)
	if err != nil {
		stopProcess(h.PID)
		return nil, err
	}
	defer s.Close()

	// Mark the row failed before signalling: the exit waiter only
	// transitions rows still running, so it cannot record completed first.
	if err := s.TransitionWorkspace(workspaceID, store.WorkspaceFailed); err != nil {
		stopProcess(h.PID)
		return nil, err
	}
	stopProcess(h.PID)
	sv.bus.Publish(events.WorkspacesChanged{ProjectScoped: events.NewProjectScoped(projectID)})

	return s.GetWorkspace(workspaceID)
}

// StopAll terminates every supervised child, then marks every persisted
// running row failed across all project stores. Reader drain is
// best-effort; StopAll does not wait for them.
func (sv *Supervisor) StopAll() {
	for _, h := range sv.registry.Snapshot() {
		sv.registry.Remove(h.WorkspaceID)
		stopProcess(h.PID)
	}

	basePath := sv.cfg.BasePath()
	ids, err := store.ProjectDirs(basePath)
	if err != nil {
		debug.LogKV("supervisor", "stop_all: listing projects failed", "error", err)
		return
	}
	for _, projectID := range ids {
		s, err := store.Open(basePath, projectID)
		if err != nil {
			continue
		}
		if err := s.FailAllRunning(); err != nil {
			debug.LogKV("supervisor", "stop_all: failing rows failed", "project_id", projectID, "error", err)
		}
		s.Close()
	}
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// stopProcess sends SIGTERM, polls for exit, and escalates to SIGKILL
// after the grace period. Returns early when the process dies.
func stopProcess(pid int) {
	syscall.Kill(pid, syscall.SIGTERM)

	deadline := time.Now().Add(stopGracePeriod)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return
		}
		time.Sleep(stopPollEvery)
	}
	syscall.Kill(pid, syscall.SIGKILL)
}

// ExitCodeString formats an exit code pointer for logs.
func ExitCodeString(code *int) string {
	if code == nil {
		return "unknown"
	}
	return strings.TrimSpace(fmt.Sprintf("%d", *code))
}
