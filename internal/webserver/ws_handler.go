package webserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/pkg/protocol"
)

const wsWriteTimeout = 15 * time.Second

func encodeWSEvent(ev events.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(protocol.WSEvent{
		EventType: ev.EventType(),
		Scope:     ev.Scope(),
		Data:      data,
	})
}

// handleEventsWebSocket relays the full event bus to one client. A lagged
// subscriber only loses events, never the connection — the client is
// expected to refetch.
func (srv *Server) handleEventsWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	sub := srv.bus.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Lag:
			continue
		case ev := <-sub.C:
			if !srv.writeEvent(ctx, ws, ev) {
				return
			}
		}
	}
}

// handleAgentWebSocket relays one workspace's agent-* events and forwards
// incoming text frames to the child's stdin.
func (srv *Server) handleAgentWebSocket(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceID")
	if workspaceID == "" {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	defer ws.CloseNow()

	ctx := r.Context()
	sub := srv.bus.Subscribe()
	defer sub.Close()

	// Reader: text frames become stdin lines for the agent.
	go func() {
		for {
			typ, data, err := ws.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageText {
				continue
			}
			srv.supervisor.SendInput(workspaceID, string(data))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Lag:
			continue
		case ev := <-sub.C:
			if ev.Scope() != workspaceID || !strings.HasPrefix(ev.EventType(), "agent-") {
				continue
			}
			if !srv.writeEvent(ctx, ws, ev) {
				return
			}
		}
	}
}

func (srv *Server) writeEvent(ctx context.Context, ws *websocket.Conn, ev events.Event) bool {
	frame, err := encodeWSEvent(ev)
	if err != nil {
		return true
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, frame) == nil
}
