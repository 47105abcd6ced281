// Package server implements the JSON-RPC 2.0 over WebSocket transport
// and the HTTP health/discovery sidecar on the same listener.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/nova-run/novad/internal/history"
	"github.com/nova-run/novad/internal/logging"
	"github.com/nova-run/novad/internal/plugin"
)

// Config holds server bind configuration.
type Config struct {
	Port int
	Host string
}

func DefaultConfig() *Config {
	return &Config{Port: 8080, Host: "0.0.0.0"}
}

// Server wires the plugin registry and history service to a chi router
// serving the WebSocket endpoint and the HTTP sidecar.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	registry *plugin.Registry
	history  *history.Service

	mu    sync.RWMutex
	conns map[*conn]bool
}

func New(cfg *Config, registry *plugin.Registry, hist *history.Service) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		registry: registry,
		history:  hist,
		conns:    make(map[*conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/nova", s.handleWebSocket)
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/plugins", s.handlePluginsHTTP)
	s.router.HandleFunc("/*", s.handleBanner)
}

func (s *Server) handleBanner(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "nova agent orchestration core")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	numConns := len(s.conns)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"plugins":     len(s.registry.Plugins()),
		"sessions":    len(s.registry.GetSessions()),
		"connections": numConns,
	})
}

func (s *Server) handlePluginsHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"plugins": s.trimmedPlugins()})
}

func (s *Server) trimmedPlugins() []map[string]any {
	manifests := s.registry.Plugins()
	out := make([]map[string]any, 0, len(manifests))
	for _, m := range manifests {
		out = append(out, map[string]any{
			"name":   m.Name,
			"type":   m.Type,
			"source": m.Source,
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("server: websocket upgrade failed")
		return
	}

	c := newConn(ws, s)
	s.mu.Lock()
	s.conns[c] = true
	s.mu.Unlock()
	logging.Debug().Str("conn", c.id).Str("remote", r.RemoteAddr).Msg("server: websocket connected")

	c.run()

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	logging.Debug().Str("conn", c.id).Msg("server: websocket disconnected")
}

// Start binds the listener and serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown closes every live WebSocket connection, then stops the HTTP
// server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux { return s.router }

// homeDirectory implements system.homeDirectory: the root of the
// transcript store this process reads from.
func (s *Server) homeDirectory() string {
	return s.history.Root
}
