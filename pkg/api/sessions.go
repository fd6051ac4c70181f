package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vibetunnel/vtd/pkg/inputrouter"
	"github.com/vibetunnel/vtd/pkg/session"
)

// createSessionRequest is the POST /api/sessions body.
type createSessionRequest struct {
	Command       []string `json:"command"`
	WorkingDir    string   `json:"workingDir"`
	Name          string   `json:"name,omitempty"`
	TitleMode     string   `json:"titleMode,omitempty"`
	Cols          int      `json:"cols,omitempty"`
	Rows          int      `json:"rows,omitempty"`
	SpawnTerminal bool     `json:"spawn_terminal,omitempty"`
	GitRepoPath   string   `json:"gitRepoPath,omitempty"`
	GitBranch     string   `json:"gitBranch,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// handleCreateSession is POST /api/sessions.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}

	if req.SpawnTerminal {
		// Delegates to the desktop companion app; outside the core's
		// happy path.
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "spawn_terminal requires the desktop companion"})
		return
	}

	cfg := session.Config{
		Command:     req.Command,
		WorkingDir:  req.WorkingDir,
		Name:        req.Name,
		TitleMode:   session.TitleMode(req.TitleMode),
		Cols:        req.Cols,
		Rows:        req.Rows,
		GitRepoPath: req.GitRepoPath,
		GitBranch:   req.GitBranch,
	}
	sess, err := s.mgr.Create(cfg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID()})
}

// handleListSessions is GET /api/sessions.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.List())
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

// handleCleanupSessions is DELETE /api/sessions (no id): an operator
// bulk-removal sweep over every exited session, supplementing the
// single-id DELETE /api/sessions/:id.
func (s *Server) handleCleanupSessions(w http.ResponseWriter, r *http.Request) {
	n, err := s.mgr.RemoveExitedSessions()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cleanupResponse{Removed: n})
}

// handleGetSession is GET /api/sessions/:id.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.mgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

type updateSessionRequest struct {
	Name string `json:"name"`
}

// handleUpdateSession is PATCH /api/sessions/:id.
func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	if err := s.mgr.UpdateName(id, req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleDeleteSession is DELETE /api/sessions/:id.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.mgr.Delete(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleInput is POST /api/sessions/:id/input.
func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var in inputrouter.SessionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	text, err := in.Resolve()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	if err := s.mgr.SendInput(id, text); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// handleResize is POST /api/sessions/:id/resize.
func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req resizeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return
	}
	if err := s.mgr.Resize(id, req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
