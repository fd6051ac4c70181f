// Package api is the HTTP/WebSocket surface in front of the session
// manager, input router, and the stream fan-out and buffer snapshot
// planes. Routing is gorilla/mux, with path parameters for per-session
// endpoints (/api/sessions/{id}).
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/auth"
	"github.com/vibetunnel/vtd/pkg/session"
	"github.com/vibetunnel/vtd/pkg/snapshot"
)

// controlSocketStatus is the subset of *controlsocket.Server the status
// handler needs; kept as an interface so tests can supply a fake in
// place of a real control socket.
type controlSocketStatus interface {
	HasSubscribers() bool
}

// Server wires the HTTP surface to the session manager and gate.
type Server struct {
	mgr         *session.Manager
	gate        *auth.Gate
	snapshotHub *snapshot.Hub
	logger      *zap.Logger

	controlSocket controlSocketStatus
	isHQMode      bool

	router *mux.Router
}

// Config bundles Server's dependencies.
type Config struct {
	Manager       *session.Manager
	Gate          *auth.Gate
	SnapshotHub   *snapshot.Hub
	ControlSocket controlSocketStatus
	IsHQMode      bool
	Logger        *zap.Logger
}

// NewServer builds the full route table. Router() returns the Server's
// http.Handler.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		mgr:           cfg.Manager,
		gate:          cfg.Gate,
		snapshotHub:   cfg.SnapshotHub,
		controlSocket: cfg.ControlSocket,
		isHQMode:      cfg.IsHQMode,
		logger:        logger,
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the root http.Handler, with the Auth Gate applied to
// every path the gate does not exempt.
func (s *Server) Router() http.Handler {
	if s.gate != nil {
		return s.gate.Middleware(s.router)
	}
	return s.router
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.handleCleanupSessions).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleUpdateSession).Methods(http.MethodPatch)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/input", s.handleInput).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/resize", s.handleResize).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/stream", s.handleStream).Methods(http.MethodGet)
	api.HandleFunc("/server/status", s.handleServerStatus).Methods(http.MethodGet)

	r.HandleFunc("/ws/buffers", s.handleWSBuffers)
	r.HandleFunc("/ws/input", s.handleWSInput)

	return r
}
