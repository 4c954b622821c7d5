// Package webserver hosts the HTTP command facade, the WebSocket event
// bridge, and the PTY terminal endpoint.
package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/josephschmitt/maestro/internal/agent"
	"github.com/josephschmitt/maestro/internal/config"
	"github.com/josephschmitt/maestro/internal/debug"
	"github.com/josephschmitt/maestro/internal/events"
	"github.com/josephschmitt/maestro/internal/ipc"
	"github.com/josephschmitt/maestro/internal/store"
)

// Options configures the HTTP server.
type Options struct {
	Host      string
	Port      int
	AuthToken string
}

// Server bridges HTTP and WebSocket clients onto the store, the
// supervisor, and the event bus.
type Server struct {
	cfg        *config.State
	bus        *events.Bus
	supervisor *agent.Supervisor

	ipcMu      sync.Mutex
	ipcServers map[string]*ipc.Server

	httpServer *http.Server
	host       string
	port       int
	authToken  string
}

// New constructs a server; ipcServers maps project id to its socket
// listener so project deletion can tear the socket down.
func New(cfg *config.State, bus *events.Bus, supervisor *agent.Supervisor, ipcServers map[string]*ipc.Server, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := opts.Port
	if port <= 0 {
		port = 3100
	}

	srv := &Server{
		cfg:        cfg,
		bus:        bus,
		supervisor: supervisor,
		ipcServers: ipcServers,
		host:       host,
		port:       port,
		authToken:  strings.TrimSpace(opts.AuthToken),
	}

	mux := http.NewServeMux()
	srv.setupRoutes(mux)

	handler := corsMiddleware(logMiddleware(authMiddleware(srv.authToken, mux)))
	srv.httpServer = &http.Server{
		Addr:              srv.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// Start begins serving in a background goroutine and returns immediately.
func (srv *Server) Start() error {
	ln, err := net.Listen("tcp", srv.Addr())
	if err != nil {
		return err
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		srv.port = tcpAddr.Port
		srv.httpServer.Addr = srv.Addr()
	}

	go func() {
		if err := srv.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			debug.LogKV("webserver", "server stopped with error", "error", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (srv *Server) Shutdown(ctx context.Context) error {
	if srv.httpServer == nil {
		return nil
	}
	return srv.httpServer.Shutdown(ctx)
}

// Addr returns the bound host:port.
func (srv *Server) Addr() string {
	return net.JoinHostPort(srv.host, strconv.Itoa(srv.port))
}

// Port returns the bound port.
func (srv *Server) Port() int {
	return srv.port
}

// URL returns the server's base URL.
func (srv *Server) URL() string {
	return "http://" + srv.Addr()
}

func (srv *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", srv.handleHealth)
	mux.HandleFunc("POST /api/{command}", srv.handleCommand)
	mux.HandleFunc("GET /api/projects/{projectID}/artifacts/{artifactID}/preview", srv.handleArtifactPreview)

	mux.HandleFunc("GET /ws/events", srv.handleEventsWebSocket)
	mux.HandleFunc("GET /ws/agent/{workspaceID}", srv.handleAgentWebSocket)
	mux.HandleFunc("GET /ws/terminal/{workspaceID}", srv.handleWorkspaceTerminal)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
}

// openStore opens the per-project store for a request.
func (srv *Server) openStore(projectID string) (*store.Store, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, fmt.Errorf("missing project_id")
	}
	return store.Open(srv.cfg.BasePath(), projectID)
}

// projectIDs lists the project directories under the storage base path.
func (srv *Server) projectIDs() ([]string, error) {
	return store.ProjectDirs(srv.cfg.BasePath())
}
