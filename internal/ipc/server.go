package ipc

import (
	"bufio"
	"errors"
	"net"
	"os"
	"time"

	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/paths"
	"github.com/josephschmitt/maestro/internal/store"
)

// Server is one project's Unix-socket listener. Each accepted connection
// carries exactly one request/response round trip.
type Server struct {
	projectID string
	basePath  string
	bus       *events.Bus
	listener  net.Listener
	sockPath  string
}

// Start removes any stale socket file, binds the per-project socket, and
// spawns the accept loop.
func Start(basePath, projectID string, bus *events.Bus) (*Server, error) {
	sockPath := paths.SocketPath(projectID)
	os.Remove(sockPath)

	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		projectID: projectID,
		basePath:  basePath,
		bus:       bus,
		listener:  listener,
		sockPath:  sockPath,
	}
	go srv.acceptLoop()

	debug.LogKV("ipc", "listening", "project_id", projectID, "socket", sockPath)
	return srv, nil
}

// SocketPath returns the bound socket path.
func (srv *Server) SocketPath() string {
	return srv.sockPath
}

// Stop closes the listener and removes the socket file.
func (srv *Server) Stop() {
	srv.listener.Close()
	os.Remove(srv.sockPath)
}

func (srv *Server) acceptLoop() {
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			// A closed listener, ENOENT, or any other non-temporary accept
			// error (EINVAL after the socket is unlinked) ends the loop;
			// temporary errors are logged and retried.
			if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrNotExist) {
				return
			}
			var opErr *net.OpError
			if errors.As(err, &opErr) && !opErr.Temporary() {
				return
			}
			debug.LogKV("ipc", "accept error", "project_id", srv.projectID, "error", err)
			continue
		}
		go srv.handleConn(conn)
	}
}

// handleConn reads one request line, dispatches it, and writes one
// response line. Malformed JSON produces an error response, never a dead
// listener.
func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(30 * time.Second))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return
	}

	var resp Response
	var req Request
	if jsonErr := decodeRequest(line, &req); jsonErr != nil {
		resp = Errorf("invalid request JSON: %v", jsonErr)
	} else {
		resp = srv.dispatch(req)
	}

	out, err := EncodeLine(resp)
	if err != nil {
		out, _ = EncodeLine(Errorf("failed to serialize response"))
	}
	conn.Write(out)
}

func (srv *Server) dispatch(req Request) Response {
	debug.LogKV("ipc", "request", "project_id", srv.projectID, "command", req.Command, "card_id", req.CardID)

	switch req.Command {
	case "question":
		return srv.handleQuestion(req)
	case "resolve-question":
		return srv.handleResolveQuestion(req)
	case "add-artifact":
		return srv.handleAddArtifact(req)
	case "set-status":
		return srv.handleSetStatus(req)
	case "log":
		return srv.handleLog(req)
	case "get-card":
		return srv.handleGetCard(req)
	case "get-artifacts":
		return srv.handleGetArtifacts(req)
	case "get-parent":
		return srv.handleGetParent(req)
	default:
		return Errorf("unknown command: %s", req.Command)
	}
}

func (srv *Server) openStore() (*store.Store, error) {
	return store.Open(srv.basePath, srv.projectID)
}

func (srv *Server) handleQuestion(req Request) Response {
	question, ok := payloadString(req.Payload, "question")
	if !ok {
		return Errorf("missing 'question' in payload")
	}

	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	q, err := s.CreateQuestion(req.CardID, question, store.ActorAgent)
	if err != nil {
		return Errorf("%v", err)
	}

	srv.bus.Publish(events.QuestionsChanged{ProjectScoped: events.NewProjectScoped(srv.projectID)})
	return Success(q)
}

func (srv *Server) handleResolveQuestion(req Request) Response {
	id, ok := payloadString(req.Payload, "id")
	if !ok {
		return Errorf("missing 'id' in payload")
	}
	var resolution *string
	if r, ok := payloadString(req.Payload, "resolution"); ok {
		resolution = &r
	}

	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	q, err := s.ResolveQuestion(id, resolution, store.ActorAgent)
	if err != nil {
		return Errorf("%v", err)
	}

	srv.bus.Publish(events.QuestionsChanged{ProjectScoped: events.NewProjectScoped(srv.projectID)})
	return Success(q)
}

func (srv *Server) handleAddArtifact(req Request) Response {
	name, ok := payloadString(req.Payload, "name")
	if !ok {
		return Errorf("missing 'name' in payload")
	}
	content, ok := req.Payload["content"].(string)
	if !ok {
		return Errorf("missing 'content' in payload")
	}

	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	a, err := s.CreateArtifact(req.CardID, name, content, store.ActorAgent)
	if err != nil {
		return Errorf("%v", err)
	}

	srv.bus.Publish(events.ArtifactsChanged{ProjectScoped: events.NewProjectScoped(srv.projectID)})
	return Success(a)
}

func (srv *Server) handleSetStatus(req Request) Response {
	statusName, ok := payloadString(req.Payload, "status")
	if !ok {
		return Errorf("missing 'status' in payload")
	}

	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	status, err := s.FindStatusByName(statusName)
	if err != nil {
		return Errorf("status '%s' not found", statusName)
	}

	card, err := s.MoveCardToEnd(req.CardID, status.ID)
	if err != nil {
		return Errorf("%v", err)
	}

	srv.bus.Publish(events.CardsChanged{ProjectScoped: events.NewProjectScoped(srv.projectID)})
	return Success(map[string]any{
		"card_id":     card.ID,
		"status_id":   status.ID,
		"status_name": statusName,
	})
}

// handleLog publishes an agent-log event only; nothing is persisted.
func (srv *Server) handleLog(req Request) Response {
	message, ok := payloadString(req.Payload, "message")
	if !ok {
		return Errorf("missing 'message' in payload")
	}

	ev := events.AgentLog{
		CardID:    req.CardID,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s, err := srv.openStore(); err == nil {
		if w, err := s.LatestRunningWorkspaceForCard(req.CardID); err == nil && w != nil {
			ev.WorkspaceID = w.ID
		}
		s.Close()
	}

	srv.bus.Publish(ev)
	return Success(ev)
}

func (srv *Server) handleGetCard(req Request) Response {
	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	card, err := s.GetCard(req.CardID)
	if err != nil {
		return Errorf("card not found: %v", err)
	}
	return Success(card)
}

func (srv *Server) handleGetArtifacts(req Request) Response {
	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	artifacts, err := s.ListArtifacts(req.CardID)
	if err != nil {
		return Errorf("%v", err)
	}
	if artifacts == nil {
		artifacts = []store.Artifact{}
	}
	return Success(artifacts)
}

func (srv *Server) handleGetParent(req Request) Response {
	s, err := srv.openStore()
	if err != nil {
		return Errorf("%v", err)
	}
	defer s.Close()

	parent, err := s.GetParentCard(req.CardID)
	if err != nil {
		return Errorf("%v", err)
	}
	if parent == nil {
		return Success(nil)
	}
	return Success(parent)
}
