package webserver

import (
	"bufio"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/josephschmitt/maestro/internal/debug"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

// corsMiddleware lets the desktop front-end (served from its own origin)
// call the daemon. The daemon binds to loopback by default, so a
// permissive origin is acceptable here.
func corsMiddleware(next http.Handler) http.Handler {
	headers := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type, Authorization",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces the configured token on every request except
// preflights and the health probe, which discovery pings must reach
// before the client has a token. An empty token disables auth, matching
// the config contract.
func authMiddleware(token string, next http.Handler) http.Handler {
	token = strings.TrimSpace(token)
	if token == "" {
		return next
	}
	want := []byte(token)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isHealthProbe(r) {
			next.ServeHTTP(w, r)
			return
		}

		got := []byte(requestToken(r))
		if subtle.ConstantTimeCompare(want, got) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isHealthProbe(r *http.Request) bool {
	return r.Method == http.MethodGet && r.URL.Path == "/api/health"
}

// requestToken pulls the auth token from the Authorization header, or
// from ?token= for WebSocket clients that cannot set headers.
func requestToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// responseTap records the status code so logMiddleware can report it. It
// forwards Flush and Hijack because the event stream and terminal
// endpoints upgrade their connections.
type responseTap struct {
	http.ResponseWriter
	status int
}

func (t *responseTap) WriteHeader(status int) {
	t.status = status
	t.ResponseWriter.WriteHeader(status)
}

func (t *responseTap) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *responseTap) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := t.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		tap := &responseTap{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(tap, r)

		debug.LogKV("webserver", r.Method+" "+r.URL.Path,
			"status", tap.status,
			"elapsed", time.Since(started).Round(time.Millisecond),
		)
	})
}
