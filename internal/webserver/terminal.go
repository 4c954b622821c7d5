package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/creack/pty"

	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/paths"
)

// A workspace terminal is a shell inside the workspace's working
// directory: the worktree when the agent ran in one, otherwise the card's
// artifact directory. PTY output flows to the client as raw binary
// frames; the client sends JSON control ops on text frames:
//
//	{"op":"stdin","data":"ls\n"}
//	{"op":"resize","cols":120,"rows":40}
//
// The daemon replies with a final {"op":"exit","code":N} text frame when
// the shell ends.
type termOp struct {
	Op   string `json:"op"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Code int    `json:"code"`
}

const termReadChunk = 8 * 1024

func (srv *Server) handleWorkspaceTerminal(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")

	dir, env, ok := srv.terminalTarget(workspaceID)
	if !ok {
		writeError(w, http.StatusNotFound, "workspace "+workspaceID+" not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	term, err := startTerminal(dir, env, termSizeFromQuery(r))
	if err != nil {
		frame, _ := json.Marshal(termOp{Op: "exit", Code: 1})
		ws.Write(ctx, websocket.MessageText, frame)
		ws.Close(websocket.StatusInternalError, "shell start failed")
		return
	}
	defer term.close()

	debug.LogKV("webserver", "terminal opened", "workspace_id", workspaceID, "dir", dir)

	// PTY -> client, raw bytes.
	go func() {
		defer cancel()
		buf := make([]byte, termReadChunk)
		for {
			n, readErr := term.ptmx.Read(buf)
			if n > 0 {
				writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
				err := ws.Write(writeCtx, websocket.MessageBinary, buf[:n])
				writeCancel()
				if err != nil {
					return
				}
			}
			if readErr != nil {
				return
			}
		}
	}()

	// Shell exit -> final status frame.
	go func() {
		code := term.wait()
		frame, _ := json.Marshal(termOp{Op: "exit", Code: code})
		writeCtx, writeCancel := context.WithTimeout(context.Background(), wsWriteTimeout)
		ws.Write(writeCtx, websocket.MessageText, frame)
		writeCancel()
		cancel()
		ws.Close(websocket.StatusNormalClosure, "shell exited")
	}()

	// Client -> PTY, JSON control ops.
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		var op termOp
		if err := json.Unmarshal(data, &op); err != nil {
			continue
		}
		switch op.Op {
		case "stdin":
			if op.Data == "" {
				continue
			}
			if _, err := term.ptmx.Write([]byte(op.Data)); err != nil {
				return
			}
		case "resize":
			term.resize(op.Cols, op.Rows)
		}
	}
}

// terminalTarget resolves where a workspace's shell should run and which
// maestro variables it should see.
func (srv *Server) terminalTarget(workspaceID string) (dir string, env []string, ok bool) {
	basePath := srv.cfg.BasePath()

	projectIDs, err := srv.projectIDs()
	if err != nil {
		return "", nil, false
	}
	for _, projectID := range projectIDs {
		s, err := srv.openStore(projectID)
		if err != nil {
			continue
		}
		workspace, err := s.GetWorkspace(workspaceID)
		s.Close()
		if err != nil {
			continue
		}

		dir = paths.ArtifactDir(basePath, projectID, workspace.CardID)
		if workspace.WorktreePath != nil && *workspace.WorktreePath != "" {
			dir = *workspace.WorktreePath
		}
		env = []string{
			"MAESTRO_CARD_ID=" + workspace.CardID,
			"MAESTRO_WORKING_DIR=" + dir,
			"MAESTRO_SOCKET=" + paths.SocketPath(projectID),
		}
		return dir, env, true
	}
	return "", nil, false
}

// terminal owns one PTY-backed shell process.
type terminal struct {
	ptmx      *os.File
	cmd       *exec.Cmd
	closeOnce sync.Once
}

func startTerminal(dir string, extraEnv []string, cols, rows uint16) (*terminal, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)
	// Own process group so close() can take the shell's children with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, err
	}
	return &terminal{ptmx: ptmx, cmd: cmd}, nil
}

func (t *terminal) resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	pty.Setsize(t.ptmx, &pty.Winsize{Cols: clampWinDim(cols), Rows: clampWinDim(rows)})
}

func (t *terminal) wait() int {
	err := t.cmd.Wait()
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return 1
}

func (t *terminal) close() {
	t.closeOnce.Do(func() {
		t.ptmx.Close()
		if t.cmd.Process != nil && t.cmd.Process.Pid > 0 {
			syscall.Kill(-t.cmd.Process.Pid, syscall.SIGKILL)
		}
	})
}

// termSizeFromQuery reads the initial geometry from ?cols=&rows=.
func termSizeFromQuery(r *http.Request) (cols, rows uint16) {
	cols, rows = 80, 24
	if v, err := strconv.Atoi(r.URL.Query().Get("cols")); err == nil && v > 0 {
		cols = clampWinDim(v)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("rows")); err == nil && v > 0 {
		rows = clampWinDim(v)
	}
	return cols, rows
}

func clampWinDim(v int) uint16 {
	if v < 1 {
		return 1
	}
	if v > 0xffff {
		return 0xffff
	}
	return uint16(v)
}
