package controlsocket

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/gitinfo"
	"github.com/vibetunnel/vtd/pkg/session"
)

// gitFollowTimeout bounds the best-effort git config commands the control
// socket runs on behalf of GIT_FOLLOW_REQUEST.
const gitFollowTimeout = 5 * time.Second

// StatusProvider supplies the live process facts a STATUS_RESPONSE needs.
type StatusProvider interface {
	Port() int
	URL() string
}

// Server is the Control Plane listener: one Unix socket, goroutine per
// connection, no additional auth (it inherits filesystem permissions).
type Server struct {
	socketPath string
	mgr        *session.Manager
	status     StatusProvider
	logger     *zap.Logger

	ln net.Listener
	wg sync.WaitGroup

	notifyMu sync.Mutex
	notify   []chan GitEventNotify
}

// NewServer constructs a Server bound to socketPath, which is created
// fresh on Serve (any stale socket file from a prior process is removed).
func NewServer(socketPath string, mgr *session.Manager, status StatusProvider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{socketPath: socketPath, mgr: mgr, status: status, logger: logger}
}

// Serve listens on the Unix socket and accepts connections until ctx is
// done, then drains outstanding connections before returning.
func (s *Server) Serve(ctx context.Context) error {
	_ = os.Remove(s.socketPath)
	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		s.logger.Warn("chmod control socket failed", zap.Error(err))
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}
		resp := s.dispatch(msg)
		if err := WriteMessage(conn, resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(msg Message) Message {
	switch msg.Type {
	case TypeStatusRequest:
		return s.handleStatus()
	case TypeGitFollowRequest:
		var req GitFollowRequest
		if err := decode(msg.Payload, &req); err != nil {
			return errorMessage("bad-request", err.Error())
		}
		return s.handleGitFollow(req)
	case TypeGitEventNotify:
		var ev GitEventNotify
		if err := decode(msg.Payload, &ev); err != nil {
			return errorMessage("bad-request", err.Error())
		}
		return s.handleGitEvent(ev)
	default:
		return errorMessage("unknown-type", "unrecognized message type")
	}
}

func (s *Server) handleStatus() Message {
	resp := StatusResponse{Running: true}
	if s.status != nil {
		resp.Port = s.status.Port()
		resp.URL = s.status.URL()
	}
	// FollowMode is always left empty: a STATUS_REQUEST carries no payload,
	// so the server has no caller working directory to read
	// vibetunnel.followBranch from, and no other request reports it.
	return Message{Type: TypeStatusResponse, Payload: encode(resp)}
}

func (s *Server) handleGitFollow(req GitFollowRequest) Message {
	ctx, cancel := context.WithTimeout(context.Background(), gitFollowTimeout)
	defer cancel()

	if !req.Enable {
		_ = gitinfo.SetFollowBranch(ctx, req.RepoPath, "")
		_ = gitinfo.UninstallHook(req.RepoPath)
		return Message{Type: TypeGitFollowRespons, Payload: encode(GitFollowResponse{Success: true})}
	}

	if err := gitinfo.InstallHook(req.RepoPath, gitHookBody); err != nil {
		return Message{Type: TypeGitFollowRespons, Payload: encode(GitFollowResponse{Error: err.Error()})}
	}
	if err := gitinfo.SetFollowBranch(ctx, req.RepoPath, req.Branch); err != nil {
		return Message{Type: TypeGitFollowRespons, Payload: encode(GitFollowResponse{Error: err.Error()})}
	}
	s.broadcastNotify(GitEventNotify{RepoPath: req.RepoPath, Type: "follow-enabled"})
	return Message{Type: TypeGitFollowRespons, Payload: encode(GitFollowResponse{Success: true, CurrentBranch: req.Branch})}
}

func (s *Server) handleGitEvent(ev GitEventNotify) Message {
	s.broadcastNotify(ev)
	return Message{Type: TypeGitEventAck, Payload: encode(GitEventAck{Handled: true})}
}

// HasSubscribers reports whether a companion app is currently listening
// for GIT_EVENT_NOTIFY events, used as the macAppConnected signal in
// GET /api/server/status.
func (s *Server) HasSubscribers() bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return len(s.notify) > 0
}

// Subscribe registers a channel to receive GIT_EVENT_NOTIFY events
// relayed to a connected companion desktop app.
func (s *Server) Subscribe() (<-chan GitEventNotify, func()) {
	ch := make(chan GitEventNotify, 8)
	s.notifyMu.Lock()
	s.notify = append(s.notify, ch)
	s.notifyMu.Unlock()
	cancel := func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		for i, c := range s.notify {
			if c == ch {
				s.notify = append(s.notify[:i], s.notify[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (s *Server) broadcastNotify(ev GitEventNotify) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for _, ch := range s.notify {
		select {
		case ch <- ev:
		default:
		}
	}
}

func errorMessage(code, message string) Message {
	return Message{Type: TypeError, Payload: encode(ErrorPayload{Code: code, Message: message})}
}

const gitHookBody = "#!/bin/sh\n" + hookMarker + "\nexit 0\n"

const hookMarker = "# vibetunnel-git-follow-hook"
