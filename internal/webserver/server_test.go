package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/josephschmitt/maestro/internal/agent"
	"github.com/josephschmitt/maestro/internal/config"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/ipc"
	"github.com/josephschmitt/maestro/pkg/protocol"
)

func newTestServer(t *testing.T, authToken string) (*Server, *httptest.Server, *events.Bus) {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Storage.BasePath = base
	state := config.NewState(cfg, filepath.Join(base, "config.toml"))

	bus := events.NewBus()
	supervisor := agent.NewSupervisor(state, bus, agent.NewRegistry())

	srv := New(state, bus, supervisor, map[string]*ipc.Server{}, Options{AuthToken: authToken})
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)

	return srv, ts, bus
}

func postCommand(t *testing.T, ts *httptest.Server, command string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling body: %v", err)
	}
	resp, err := http.Post(ts.URL+"/api/"+command, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/%s error = %v", command, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestCreateAndListProjects(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp, created := postCommand(t, ts, "create-project", map[string]any{"name": "Demo"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create-project status = %d body = %v", resp.StatusCode, created)
	}
	data := created["data"].(map[string]any)
	if data["name"] != "Demo" || data["id"] == "" {
		t.Errorf("created = %v", data)
	}

	_, listed := postCommand(t, ts, "list-projects", map[string]any{})
	projects := listed["data"].([]any)
	if len(projects) != 1 {
		t.Errorf("projects = %d, want 1", len(projects))
	}

	// Six statuses were seeded.
	_, statuses := postCommand(t, ts, "list-statuses", map[string]any{"project_id": data["id"]})
	if got := len(statuses["data"].([]any)); got != 6 {
		t.Errorf("seeded statuses = %d, want 6", got)
	}
}

func TestCardLifecycleOverHTTP(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	_, created := postCommand(t, ts, "create-project", map[string]any{"name": "Demo"})
	projectID := created["data"].(map[string]any)["id"].(string)

	_, t1Resp := postCommand(t, ts, "create-card", map[string]any{"project_id": projectID, "title": "T1"})
	t1 := t1Resp["data"].(map[string]any)
	if t1["status_group"] != "Backlog" || t1["sort_order"].(float64) != 0 {
		t.Errorf("T1 = %v", t1)
	}

	_, t2Resp := postCommand(t, ts, "create-card", map[string]any{"project_id": projectID, "title": "T2"})
	t2 := t2Resp["data"].(map[string]any)
	if t2["sort_order"].(float64) != 1 {
		t.Errorf("T2 sort_order = %v", t2["sort_order"])
	}

	_, statusesResp := postCommand(t, ts, "list-statuses", map[string]any{"project_id": projectID})
	var inProgressID string
	for _, raw := range statusesResp["data"].([]any) {
		st := raw.(map[string]any)
		if st["name"] == "In Progress" {
			inProgressID = st["id"].(string)
		}
	}

	_, movedResp := postCommand(t, ts, "move-card", map[string]any{
		"project_id":        projectID,
		"id":                t1["id"],
		"target_status_id":  inProgressID,
		"target_sort_order": 0,
	})
	moved := movedResp["data"].(map[string]any)
	if moved["sort_order"].(float64) != 0 || moved["status_group"] != "Started" {
		t.Errorf("moved = %v", moved)
	}

	_, t2After := postCommand(t, ts, "get-card", map[string]any{"project_id": projectID, "id": t2["id"]})
	if t2After["data"].(map[string]any)["sort_order"].(float64) != 0 {
		t.Errorf("T2 after move = %v", t2After["data"])
	}
}

func TestErrorMapping(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	_, created := postCommand(t, ts, "create-project", map[string]any{"name": "Demo"})
	projectID := created["data"].(map[string]any)["id"].(string)

	resp, _ := postCommand(t, ts, "get-card", map[string]any{"project_id": projectID, "id": "missing"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing card status = %d, want 404", resp.StatusCode)
	}

	resp, _ = postCommand(t, ts, "does-not-exist", map[string]any{})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown command status = %d, want 404", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	_, ts, _ := newTestServer(t, "secret-token")

	resp, err := http.Post(ts.URL+"/api/list-projects", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/list-projects", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer secret-token")
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authorized POST error = %v", err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("authorized status = %d, want 200", authed.StatusCode)
	}
}

func TestHealthBypassesAuth(t *testing.T) {
	_, ts, _ := newTestServer(t, "secret-token")

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health with auth enabled = %d, want 200 (discovery probe)", resp.StatusCode)
	}
}

func TestTerminalUnknownWorkspace(t *testing.T) {
	_, ts, _ := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/ws/terminal/no-such-workspace")
	if err != nil {
		t.Fatalf("GET /ws/terminal error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown workspace terminal = %d, want 404", resp.StatusCode)
	}
}

func TestEventsWebSocketRelaysBus(t *testing.T) {
	_, ts, bus := newTestServer(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + ts.URL[len("http"):] + "/ws/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	// Give the handler a beat to subscribe before publishing.
	time.Sleep(100 * time.Millisecond)
	bus.Publish(events.CardsChanged{ProjectScoped: events.NewProjectScoped("p1")})

	_, frame, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	ev, err := protocol.DecodeWSEvent(frame)
	if err != nil {
		t.Fatalf("DecodeWSEvent() error = %v", err)
	}
	if ev.EventType != events.TypeCardsChanged || ev.Scope != "p1" {
		t.Errorf("frame = %+v", ev)
	}
}

func TestAgentWebSocketFiltersByScope(t *testing.T) {
	_, ts, bus := newTestServer(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + ts.URL[len("http"):] + "/ws/agent/ws-1"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	time.Sleep(100 * time.Millisecond)
	// An event for another workspace must be filtered out.
	bus.Publish(events.AgentOutput{WorkspaceID: "ws-other", Stream: "stdout", Line: "noise"})
	bus.Publish(events.AgentOutput{WorkspaceID: "ws-1", Stream: "stdout", Line: "signal"})

	_, frame, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	ev, _ := protocol.DecodeWSEvent(frame)
	var out events.AgentOutput
	json.Unmarshal(ev.Data, &out)
	if out.Line != "signal" {
		t.Errorf("first frame = %+v, want the scoped event only", out)
	}
}
