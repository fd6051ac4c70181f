package session

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/fanout"
	"github.com/vibetunnel/vtd/pkg/journal"
	"github.com/vibetunnel/vtd/pkg/ptysup"
)

// Manager is the session registry: a lookup of sessions by id, with
// CRUD, lookup, and the boot-time crash-recovery scan.
type Manager struct {
	controlDir string
	logger     *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager constructs a Manager rooted at controlDir. Callers should
// follow this with Recover to rehydrate sessions from a prior process.
func NewManager(controlDir string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		controlDir: controlDir,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// Create spawns and registers a new session.
func (m *Manager) Create(cfg Config) (*Session, error) {
	s, err := Create(m.controlDir, cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get looks up a session by exact id, returning KindNotFound if absent.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, newErr(KindNotFound, id, "unknown session")
	}
	return s, nil
}

// Find resolves an id or a unique id-prefix to a session (used by the
// CLI, which lets users type a short prefix).
func (m *Manager) Find(idOrPrefix string) (*Session, error) {
	if s, err := m.Get(idOrPrefix); err == nil {
		return s, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var match *Session
	for id, s := range m.sessions {
		if len(idOrPrefix) > 0 && len(id) >= len(idOrPrefix) && id[:len(idOrPrefix)] == idOrPrefix {
			if match != nil {
				return nil, newErr(KindInvalidArgument, idOrPrefix, "ambiguous session id prefix")
			}
			match = s
		}
	}
	if match == nil {
		return nil, newErr(KindNotFound, idOrPrefix, "unknown session")
	}
	return match, nil
}

// List returns all known sessions sorted by creation time, newest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdateName renames a session.
func (m *Manager) UpdateName(id, name string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.UpdateName(name)
}

// Resize resizes a session's PTY.
func (m *Manager) Resize(id string, cols, rows int) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.Resize(cols, rows)
}

// SendInput delivers input to a session.
func (m *Manager) SendInput(id, text string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	return s.SendInput(text)
}

// SubscribeText opens a Stream Fan-out text subscription for a session.
func (m *Manager) SubscribeText(id string, cursor int64) (*fanout.Subscription, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	b := fanout.New(s.Journal(), s.IsRunning)
	return b.Subscribe(cursor)
}

// Delete transitions a session to removed. Running sessions are killed
// first: a delete on a running session is kill-then-unlink as a single
// operation. Deletes are idempotent: deleting an already-removed id is
// a no-op success.
func (m *Manager) Delete(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return nil //nolint:nilerr // idempotent delete
	}
	if s.IsRunning() {
		if err := s.Kill(); err != nil {
			return err
		}
	}
	if err := s.Remove(); err != nil {
		return wrapErr(KindIO, id, "remove session directory", err)
	}
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

// RemoveExitedSessions sweeps every exited session and removes its
// directory, returning the count removed. Unlike Delete, which targets
// one session id, this is the operator-triggered bulk cleanup the
// teacher's manager exposes for "clear all finished sessions" tooling.
func (m *Manager) RemoveExitedSessions() (int, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if !s.IsRunning() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range ids {
		if err := m.Delete(id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Recover scans the control directory at boot for session directories
// left behind by a prior process. For each, if the recorded
// pid is alive it is rehydrated as "running" with a re-attached Journal
// (the original Supervisor is gone, so the session becomes read-only:
// subscriptions still work, while SendInput and Resize return gone).
// Otherwise it is
// marked "exited" with a synthetic code if none was recorded. The pass
// is idempotent: re-running it against already up-to-date info.json
// files is a no-op.
func (m *Manager) Recover() error {
	entries, err := os.ReadDir(m.controlDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.controlDir, entry.Name())
		if err := m.recoverOne(entry.Name(), dir); err != nil {
			m.logger.Warn("recovery: skipping session directory",
				zap.String("dir", dir), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) recoverOne(id, dir string) error {
	meta, err := journal.LoadMeta(dir)
	if err != nil {
		return err
	}
	info, err := journal.LoadInfo(dir)
	if err != nil {
		return err
	}

	jrnl, err := journal.Open(dir, m.logger)
	if err != nil {
		return err
	}

	status := StatusExited
	pid := info.Pid
	alive := pid != 0 && ptysup.IsAlive(pid)
	if alive && info.Status == string(StatusRunning) {
		status = StatusRunning
	} else {
		pid = 0
		if info.ExitCode == nil {
			synthetic := -1
			info.ExitCode = &synthetic
		}
	}

	s := &Session{
		dir:     dir,
		journal: jrnl,
		logger:  m.logger.With(zap.String("session_id", id)),
		info: Info{
			ID:             id,
			Command:        meta.Command,
			WorkingDir:     meta.WorkingDir,
			TitleMode:      TitleModeDynamic,
			CreatedAt:      meta.CreatedAt,
			LastActivityAt: info.LastActivityAt,
			Status:         status,
			Pid:            pid,
			Cols:           meta.Cols,
			Rows:           meta.Rows,
			ExitCode:       info.ExitCode,
		},
	}

	if status == StatusExited && info.Status != string(StatusExited) {
		if err := s.saveInfo(); err != nil {
			return err
		}
		if err := jrnl.Finalize(*s.info.ExitCode, s.info.LastActivityAt); err != nil {
			m.logger.Warn("recovery: finalize failed", zap.Error(err))
		}
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return nil
}
