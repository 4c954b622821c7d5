package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/josephschmitt/maestro/internal/agent"
	"github.com/josephschmitt/maestro/internal/buildinfo"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/ipc"
	"github.com/josephschmitt/maestro/internal/store"
	"github.com/josephschmitt/maestro/internal/worktree"
)

type commandResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

// commandFunc handles one POST /api/<command> body.
type commandFunc func(srv *Server, body []byte) (any, error)

// commands is the dispatch table mirroring the store and supervisor
// operations one to one.
var commands = map[string]commandFunc{
	"create-project": cmdCreateProject,
	"list-projects":  cmdListProjects,
	"get-project":    cmdGetProject,
	"update-project": cmdUpdateProject,
	"delete-project": cmdDeleteProject,

	"list-statuses": cmdListStatuses,
	"create-status": cmdCreateStatus,
	"update-status": cmdUpdateStatus,
	"delete-status": cmdDeleteStatus,

	"create-card":   cmdCreateCard,
	"list-cards":    cmdListCards,
	"get-card":      cmdGetCard,
	"update-card":   cmdUpdateCard,
	"delete-card":   cmdDeleteCard,
	"move-card":     cmdMoveCard,
	"reorder-cards": cmdReorderCards,

	"create-question":    cmdCreateQuestion,
	"list-questions":     cmdListQuestions,
	"resolve-question":   cmdResolveQuestion,
	"unresolve-question": cmdUnresolveQuestion,
	"delete-question":    cmdDeleteQuestion,

	"create-artifact": cmdCreateArtifact,
	"list-artifacts":  cmdListArtifacts,
	"get-artifact":    cmdGetArtifact,
	"update-artifact": cmdUpdateArtifact,
	"delete-artifact": cmdDeleteArtifact,

	"list-conversations": cmdListConversations,
	"list-messages":      cmdListMessages,
	"add-message":        cmdAddMessage,

	"add-directory":    cmdAddDirectory,
	"list-directories": cmdListDirectories,
	"remove-directory": cmdRemoveDirectory,

	"launch-agent":          cmdLaunchAgent,
	"resume-agent":          cmdResumeAgent,
	"stop-agent":            cmdStopAgent,
	"send-agent-input":      cmdSendAgentInput,
	"list-workspaces":       cmdListWorkspaces,
	"get-workspace":         cmdGetWorkspace,
	"set-workspace-session": cmdSetWorkspaceSession,

	"request-changes":      cmdRequestChanges,
	"approve-card":         cmdApproveCard,
	"generate-branch-name": cmdGenerateBranchName,
	"create-worktree":      cmdCreateWorktree,
}

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"version": buildinfo.Current().Version,
	})
}

func (srv *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("command")
	fn, ok := commands[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown command: "+name)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	data, err := fn(srv, body)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{OK: true, Data: data})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, errors.Join(store.ErrInvalid, err)
	}
	return v, nil
}

type projectRef struct {
	ProjectID string `json:"project_id"`
}

// withStore decodes a project reference, opens its store, and closes it
// after fn returns.
func withStore[T any](srv *Server, body []byte, fn func(*store.Store, T) (any, error)) (any, error) {
	req, err := decode[T](body)
	if err != nil {
		return nil, err
	}

	var ref projectRef
	if err := json.Unmarshal(body, &ref); err != nil {
		return nil, errors.Join(store.ErrInvalid, err)
	}
	s, err := srv.openStore(ref.ProjectID)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	return fn(s, req)
}

func (srv *Server) projectEvent(ev events.Event) {
	srv.bus.Publish(ev)
}

// --- projects ---

func cmdCreateProject(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		Name string `json:"name"`
	}](body)
	if err != nil {
		return nil, err
	}

	s, project, err := store.CreateProject(srv.cfg.BasePath(), req.Name)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	// Bind the project's IPC socket so agents launched later can connect.
	srv.ipcMu.Lock()
	if _, ok := srv.ipcServers[project.ID]; !ok {
		if ipcSrv, err := ipc.Start(srv.cfg.BasePath(), project.ID, srv.bus); err == nil {
			srv.ipcServers[project.ID] = ipcSrv
		}
	}
	srv.ipcMu.Unlock()

	srv.projectEvent(events.ProjectsChanged{})
	return project, nil
}

func cmdListProjects(srv *Server, body []byte) (any, error) {
	return store.ListProjects(srv.cfg.BasePath())
}

func cmdGetProject(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, _ projectRef) (any, error) {
		return s.Project()
	})
}

func cmdUpdateProject(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		Name        *string        `json:"name"`
		AgentConfig map[string]any `json:"agent_config"`
		BasePath    *string        `json:"base_path"`
	}) (any, error) {
		project, err := s.UpdateProject(req.Name, req.AgentConfig, req.BasePath)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.ProjectsChanged{})
		return project, nil
	})
}

func cmdDeleteProject(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, _ projectRef) (any, error) {
		projectID := s.ProjectID()
		if err := s.DeleteProject(); err != nil {
			return nil, err
		}

		srv.ipcMu.Lock()
		if ipcSrv, ok := srv.ipcServers[projectID]; ok {
			ipcSrv.Stop()
			delete(srv.ipcServers, projectID)
		}
		srv.ipcMu.Unlock()
		s.Close()
		if err := store.RemoveProjectDir(srv.cfg.BasePath(), projectID); err != nil {
			return nil, err
		}

		srv.projectEvent(events.ProjectsChanged{})
		return nil, nil
	})
}

// --- statuses ---

func cmdListStatuses(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, _ projectRef) (any, error) {
		return s.ListStatuses()
	})
}

func cmdCreateStatus(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		Group         string   `json:"group"`
		Name          string   `json:"name"`
		IsDefault     bool     `json:"is_default"`
		StatusPrompts []string `json:"status_prompts"`
	}) (any, error) {
		st, err := s.CreateStatus(req.Group, req.Name, req.IsDefault, req.StatusPrompts)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.StatusesChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return st, nil
	})
}

func cmdUpdateStatus(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID            string   `json:"id"`
		Name          *string  `json:"name"`
		IsDefault     *bool    `json:"is_default"`
		StatusPrompts []string `json:"status_prompts"`
	}) (any, error) {
		st, err := s.UpdateStatus(req.ID, req.Name, req.IsDefault, req.StatusPrompts)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.StatusesChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return st, nil
	})
}

func cmdDeleteStatus(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		if err := s.DeleteStatus(req.ID); err != nil {
			return nil, err
		}
		srv.projectEvent(events.StatusesChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return nil, nil
	})
}

// --- cards ---

func cmdCreateCard(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Labels      []string `json:"labels"`
		ParentID    *string  `json:"parent_id"`
		StatusID    string   `json:"status_id"`
	}) (any, error) {
		card, err := s.CreateCard(req.Title, req.Description, req.Labels, req.ParentID, req.StatusID)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.CardsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return card, nil
	})
}

func cmdListCards(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, _ projectRef) (any, error) {
		return s.ListCards()
	})
}

func cmdGetCard(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		return s.GetCard(req.ID)
	})
}

func cmdUpdateCard(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID          string   `json:"id"`
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Labels      []string `json:"labels"`
	}) (any, error) {
		card, err := s.UpdateCard(req.ID, req.Title, req.Description, req.Labels)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.CardsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return card, nil
	})
}

func cmdDeleteCard(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		if err := s.DeleteCard(req.ID); err != nil {
			return nil, err
		}
		srv.projectEvent(events.CardsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return nil, nil
	})
}

func cmdMoveCard(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID              string `json:"id"`
		TargetStatusID  string `json:"target_status_id"`
		TargetSortOrder int    `json:"target_sort_order"`
	}) (any, error) {
		card, err := s.MoveCard(req.ID, req.TargetStatusID, req.TargetSortOrder)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.CardsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return card, nil
	})
}

func cmdReorderCards(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		StatusID string   `json:"status_id"`
		CardIDs  []string `json:"card_ids"`
	}) (any, error) {
		cards, err := s.ReorderCards(req.StatusID, req.CardIDs)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.CardsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return cards, nil
	})
}

// --- questions ---

func cmdCreateQuestion(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID   string `json:"card_id"`
		Question string `json:"question"`
	}) (any, error) {
		q, err := s.CreateQuestion(req.CardID, req.Question, store.ActorUser)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.QuestionsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return q, nil
	})
}

func cmdListQuestions(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID string `json:"card_id"`
	}) (any, error) {
		return s.ListQuestions(req.CardID)
	})
}

func cmdResolveQuestion(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID         string  `json:"id"`
		Resolution *string `json:"resolution"`
	}) (any, error) {
		q, err := s.ResolveQuestion(req.ID, req.Resolution, store.ActorUser)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.QuestionsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return q, nil
	})
}

func cmdUnresolveQuestion(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		q, err := s.UnresolveQuestion(req.ID)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.QuestionsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return q, nil
	})
}

func cmdDeleteQuestion(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		if err := s.DeleteQuestion(req.ID); err != nil {
			return nil, err
		}
		srv.projectEvent(events.QuestionsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return nil, nil
	})
}

// --- artifacts ---

func cmdCreateArtifact(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID  string `json:"card_id"`
		Name    string `json:"name"`
		Content string `json:"content"`
	}) (any, error) {
		a, err := s.CreateArtifact(req.CardID, req.Name, req.Content, store.ActorUser)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.ArtifactsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return a, nil
	})
}

func cmdListArtifacts(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID string `json:"card_id"`
	}) (any, error) {
		return s.ListArtifacts(req.CardID)
	})
}

func cmdGetArtifact(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		a, err := s.GetArtifact(req.ID)
		if err != nil {
			return nil, err
		}
		content, err := s.ReadArtifactContent(req.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"artifact": a, "content": content}, nil
	})
}

func cmdUpdateArtifact(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID      string `json:"id"`
		Content string `json:"content"`
	}) (any, error) {
		a, err := s.UpdateArtifactContent(req.ID, req.Content)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.ArtifactsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return a, nil
	})
}

func cmdDeleteArtifact(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		if err := s.DeleteArtifact(req.ID); err != nil {
			return nil, err
		}
		srv.projectEvent(events.ArtifactsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return nil, nil
	})
}

// --- conversations ---

func cmdListConversations(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID string `json:"card_id"`
	}) (any, error) {
		return s.ListConversations(req.CardID)
	})
}

func cmdListMessages(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ConversationID string `json:"conversation_id"`
	}) (any, error) {
		return s.ListMessages(req.ConversationID)
	})
}

func cmdAddMessage(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ConversationID string `json:"conversation_id"`
		Role           string `json:"role"`
		Content        string `json:"content"`
	}) (any, error) {
		m, err := s.AppendMessage(req.ConversationID, req.Role, req.Content)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.ConversationsChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return m, nil
	})
}

// --- directories ---

func cmdAddDirectory(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		Path  string `json:"path"`
		Label string `json:"label"`
	}) (any, error) {
		d, err := s.AddDirectory(req.Path, req.Label)
		if err != nil {
			return nil, err
		}
		srv.projectEvent(events.DirectoriesChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return d, nil
	})
}

func cmdListDirectories(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, _ projectRef) (any, error) {
		return s.ListDirectories()
	})
}

func cmdRemoveDirectory(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		ID string `json:"id"`
	}) (any, error) {
		if err := s.RemoveDirectory(req.ID); err != nil {
			return nil, err
		}
		srv.projectEvent(events.DirectoriesChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return nil, nil
	})
}

// --- agents ---

func cmdLaunchAgent(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		ProjectID    string  `json:"project_id"`
		CardID       string  `json:"card_id"`
		StatusID     string  `json:"status_id"`
		WorktreePath *string `json:"worktree_path"`
		BranchName   *string `json:"branch_name"`
	}](body)
	if err != nil {
		return nil, err
	}
	return srv.supervisor.Launch(agent.LaunchRequest{
		ProjectID:    req.ProjectID,
		CardID:       req.CardID,
		StatusID:     req.StatusID,
		WorktreePath: req.WorktreePath,
		BranchName:   req.BranchName,
	})
}

func cmdResumeAgent(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		ProjectID   string `json:"project_id"`
		WorkspaceID string `json:"workspace_id"`
	}](body)
	if err != nil {
		return nil, err
	}
	return srv.supervisor.Resume(req.ProjectID, req.WorkspaceID)
}

func cmdStopAgent(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		ProjectID   string `json:"project_id"`
		WorkspaceID string `json:"workspace_id"`
	}](body)
	if err != nil {
		return nil, err
	}
	return srv.supervisor.Stop(req.ProjectID, req.WorkspaceID)
}

func cmdSendAgentInput(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		WorkspaceID string `json:"workspace_id"`
		Text        string `json:"text"`
	}](body)
	if err != nil {
		return nil, err
	}
	if err := srv.supervisor.SendInput(req.WorkspaceID, req.Text); err != nil {
		return nil, err
	}
	return nil, nil
}

func cmdListWorkspaces(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID string `json:"card_id"`
	}) (any, error) {
		return s.ListWorkspaces(req.CardID)
	})
}

func cmdGetWorkspace(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		WorkspaceID string `json:"workspace_id"`
	}) (any, error) {
		return s.GetWorkspace(req.WorkspaceID)
	})
}

func cmdSetWorkspaceSession(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		WorkspaceID string `json:"workspace_id"`
		SessionID   string `json:"session_id"`
	}) (any, error) {
		if err := s.SetWorkspaceSessionID(req.WorkspaceID, req.SessionID); err != nil {
			return nil, err
		}
		srv.projectEvent(events.WorkspacesChanged{ProjectScoped: events.NewProjectScoped(s.ProjectID())})
		return s.GetWorkspace(req.WorkspaceID)
	})
}

// --- review flow ---

func cmdRequestChanges(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID             string `json:"card_id"`
		Feedback           string `json:"feedback"`
		InProgressStatusID string `json:"in_progress_status_id"`
	}) (any, error) {
		if _, err := s.MoveCardToEnd(req.CardID, req.InProgressStatusID); err != nil {
			return nil, err
		}
		if err := s.IncrementReviewCount(req.CardID); err != nil {
			return nil, err
		}
		conv, err := s.GetOrCreateConversation(req.CardID, "review")
		if err != nil {
			return nil, err
		}
		if _, err := s.AppendMessage(conv.ID, store.ActorUser, req.Feedback); err != nil {
			return nil, err
		}

		scope := events.NewProjectScoped(s.ProjectID())
		srv.projectEvent(events.CardsChanged{ProjectScoped: scope})
		srv.projectEvent(events.WorkspacesChanged{ProjectScoped: scope})
		srv.projectEvent(events.ConversationsChanged{ProjectScoped: scope})
		return nil, nil
	})
}

func cmdApproveCard(srv *Server, body []byte) (any, error) {
	return withStore(srv, body, func(s *store.Store, req struct {
		CardID            string `json:"card_id"`
		CompletedStatusID string `json:"completed_status_id"`
	}) (any, error) {
		if _, err := s.MoveCardToEnd(req.CardID, req.CompletedStatusID); err != nil {
			return nil, err
		}
		if err := s.CompleteCardWorkspaces(req.CardID); err != nil {
			return nil, err
		}

		scope := events.NewProjectScoped(s.ProjectID())
		srv.projectEvent(events.CardsChanged{ProjectScoped: scope})
		srv.projectEvent(events.WorkspacesChanged{ProjectScoped: scope})
		return nil, nil
	})
}

// --- worktrees ---

func cmdGenerateBranchName(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		CardID string `json:"card_id"`
		Title  string `json:"title"`
	}](body)
	if err != nil {
		return nil, err
	}
	return map[string]string{"branch_name": worktree.BranchName(req.CardID, req.Title)}, nil
}

func cmdCreateWorktree(srv *Server, body []byte) (any, error) {
	req, err := decode[struct {
		ProjectID  string `json:"project_id"`
		CardID     string `json:"card_id"`
		RepoPath   string `json:"repo_path"`
		BranchName string `json:"branch_name"`
		Title      string `json:"title"`
	}](body)
	if err != nil {
		return nil, err
	}

	wtPath := worktree.PathFor(srv.cfg.BasePath(), req.ProjectID, req.CardID, req.Title)
	if err := worktree.Create(context.Background(), req.RepoPath, wtPath, req.BranchName); err != nil {
		return nil, err
	}
	return map[string]string{"worktree_path": wtPath}, nil
}
