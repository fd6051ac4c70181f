package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/gitinfo"
	"github.com/vibetunnel/vtd/pkg/journal"
	"github.com/vibetunnel/vtd/pkg/ptysup"
	"github.com/vibetunnel/vtd/pkg/titleinject"
)

// GenerateID returns a new globally-unique, URL-safe session id.
func GenerateID() string {
	return uuid.New().String()
}

const (
	defaultCols = 80
	defaultRows = 24
	maxDim      = 1024
)

// Session is a single PTY-backed terminal, its Journal, and the
// supervising goroutines that connect them.
type Session struct {
	mu   sync.RWMutex
	info Info

	dir     string
	journal *journal.Journal
	sup     *ptysup.Supervisor
	logger  *zap.Logger
}

func sessionDir(controlDir, id string) string {
	return filepath.Join(controlDir, id)
}

// Create spawns a new session: allocates the PTY, writes the journal, and
// starts proxying. argv must be non-empty, working_dir must exist, and
// cols/rows must be in [1, 1024].
func Create(controlDir string, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Command) == 0 {
		return nil, newErr(KindInvalidArgument, "", "command must be non-empty")
	}
	if st, err := os.Stat(cfg.WorkingDir); err != nil || !st.IsDir() {
		return nil, newErr(KindInvalidArgument, "", "working_dir must exist and be readable")
	}
	cols, rows := cfg.Cols, cfg.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}
	if cols < 1 || cols > maxDim || rows < 1 || rows > maxDim {
		return nil, newErr(KindInvalidArgument, "", "cols and rows must be in [1, 1024]")
	}

	id := GenerateID()
	dir := sessionDir(controlDir, id)
	now := time.Now()

	meta := journal.Meta{
		SessionID:  id,
		Command:    cfg.Command,
		WorkingDir: cfg.WorkingDir,
		CreatedAt:  now,
		Cols:       cols,
		Rows:       rows,
	}
	jrnl, err := journal.Create(dir, meta, cols, rows, logger)
	if err != nil {
		return nil, wrapErr(KindIO, id, "create journal", err)
	}

	git := gitinfo.Capture(cfg.WorkingDir)
	var gitPtr *GitInfo
	if git != nil {
		gitPtr = &GitInfo{
			RepoPath:   git.RepoPath,
			Branch:     git.Branch,
			IsWorktree: git.IsWorktree,
			Ahead:      git.Ahead,
			Behind:     git.Behind,
			Changes:    git.Changes,
		}
	}

	titleMode := cfg.TitleMode
	if titleMode == "" {
		titleMode = TitleModeDynamic
	}

	info := Info{
		ID:             id,
		Command:        cfg.Command,
		WorkingDir:     cfg.WorkingDir,
		Name:           cfg.Name,
		TitleMode:      titleMode,
		CreatedAt:      now,
		LastActivityAt: now,
		Status:         StatusStarting,
		Cols:           cols,
		Rows:           rows,
		Git:            gitPtr,
	}

	s := &Session{
		info:    info,
		dir:     dir,
		journal: jrnl,
		logger:  logger.With(zap.String("session_id", id)),
	}

	injector := titleinject.New(titleinject.Mode(titleMode), cfg.WorkingDir, cfg.Command, cfg.Name)

	sup, err := ptysup.Spawn(ptysup.Spec{
		SessionID:  id,
		Command:    cfg.Command,
		WorkingDir: cfg.WorkingDir,
		Cols:       cols,
		Rows:       rows,
	}, jrnl, injector, logger)
	if err != nil {
		// Spawn failure is fatal: status never leaves "starting".
		return nil, wrapErr(KindInternal, id, "spawn pty", err)
	}

	s.sup = sup
	s.mu.Lock()
	s.info.Status = StatusRunning
	s.info.Pid = sup.Pid()
	s.mu.Unlock()
	if err := s.saveInfo(); err != nil {
		s.logger.Error("save info after spawn failed", zap.Error(err))
	}

	sup.Run(func(exitCode int) {
		s.mu.Lock()
		s.info.Status = StatusExited
		s.info.ExitCode = &exitCode
		s.info.LastActivityAt = time.Now()
		s.mu.Unlock()
		if err := s.saveInfo(); err != nil {
			s.logger.Error("save info after exit failed", zap.Error(err))
		}
	})

	return s, nil
}

// ID returns the session's id.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.ID
}

// Info returns a copy of the current session record.
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Dir returns the session's on-disk control directory.
func (s *Session) Dir() string { return s.dir }

// Journal exposes the session's journal, for the Stream Fan-out layer.
func (s *Session) Journal() *journal.Journal { return s.journal }

// IsRunning reports whether the Supervisor is still driving a live child.
func (s *Session) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.Status == StatusRunning
}

// SendInput writes input to the PTY. Returns KindGone if the session has
// already exited, KindBusy if the supervisor is backpressured.
func (s *Session) SendInput(text string) error {
	if !s.IsRunning() {
		return newErr(KindGone, s.ID(), "session has exited")
	}
	if s.sup == nil {
		return newErr(KindGone, s.ID(), "recovered session accepts no input")
	}
	s.sup.ObserveInput(text)
	if err := s.sup.Write([]byte(text)); err != nil {
		if err == ptysup.ErrBusy {
			return newErr(KindBusy, s.ID(), "pty backpressured")
		}
		return wrapErr(KindIO, s.ID(), "write input", err)
	}
	s.touchActivity()
	return nil
}

// Resize updates the PTY window and records the activity timestamp.
// Returns KindGone if the session has already exited.
func (s *Session) Resize(cols, rows int) error {
	if cols < 1 || cols > maxDim || rows < 1 || rows > maxDim {
		return newErr(KindInvalidArgument, s.ID(), "cols and rows must be in [1, 1024]")
	}
	if !s.IsRunning() {
		return newErr(KindGone, s.ID(), "session has exited")
	}
	if s.sup == nil {
		return newErr(KindGone, s.ID(), "recovered session cannot be resized")
	}
	if err := s.sup.Resize(cols, rows); err != nil {
		return wrapErr(KindIO, s.ID(), "resize pty", err)
	}
	s.mu.Lock()
	s.info.Cols = cols
	s.info.Rows = rows
	s.info.LastActivityAt = time.Now()
	s.mu.Unlock()
	return s.saveInfo()
}

func (s *Session) touchActivity() {
	s.mu.Lock()
	s.info.LastActivityAt = time.Now()
	s.mu.Unlock()
	_ = s.saveInfo()
}

// UpdateName renames the session.
func (s *Session) UpdateName(name string) error {
	s.mu.Lock()
	s.info.Name = name
	s.mu.Unlock()
	return s.saveInfo()
}

// Kill performs a graceful-then-forceful termination: SIGTERM, escalating
// to SIGKILL after 3s if the child has not exited. It blocks until the
// reaper has finalized the journal and session status.
func (s *Session) Kill() error {
	if !s.IsRunning() {
		return nil
	}
	s.sup.Kill()
	for s.IsRunning() {
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Remove deletes the session's on-disk directory. Only valid once the
// session has exited; exiting alone leaves the directory in place.
func (s *Session) Remove() error {
	if s.IsRunning() {
		return newErr(KindConflict, s.ID(), "cannot remove a running session")
	}
	return os.RemoveAll(s.dir)
}

func (s *Session) saveInfo() error {
	s.mu.RLock()
	info := s.info
	s.mu.RUnlock()

	mi := &journal.MutableInfo{
		Status:         string(info.Status),
		Pid:            info.Pid,
		ExitCode:       info.ExitCode,
		LastActivityAt: info.LastActivityAt,
	}
	if err := s.journal.SaveInfo(mi); err != nil {
		return fmt.Errorf("save info.json: %w", err)
	}
	return nil
}
