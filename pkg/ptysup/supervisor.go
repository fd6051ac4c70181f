// Package ptysup supervises a single child process behind a
// pseudo-terminal: it spawns the child, proxies bytes in both directions,
// resizes the kernel window, and reaps the child on exit or on explicit
// kill.
package ptysup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/journal"
	"github.com/vibetunnel/vtd/pkg/titleinject"
)

// highWatermarkBytes bounds how much unwritten input a Supervisor will
// buffer before it starts rejecting new input with ErrBusy.
const highWatermarkBytes = 64 * 1024

// killGrace is how long Kill waits after SIGTERM before escalating to
// SIGKILL.
const killGrace = 3 * time.Second

// ErrBusy is returned by Write when the PTY master is backpressured past
// the high watermark; callers translate this to HTTP 429 or a WS nack.
var ErrBusy = fmt.Errorf("ptysup: input backpressured")

// Spec is the spawn contract input: the argv, working directory, initial
// size, and any extra environment variables a new session's child needs.
type Spec struct {
	SessionID  string
	Command    []string
	WorkingDir string
	Cols       int
	Rows       int
	ExtraEnv   []string
}

// Supervisor owns one child process's PTY master fd and its lifecycle.
// Exactly one Supervisor exists per running session.
type Supervisor struct {
	sessionID string

	master *os.File
	cmd    *exec.Cmd

	journal  *journal.Journal
	injector *titleinject.Injector
	logger   *zap.Logger

	writeMu sync.Mutex
	pending []byte // backlog left over from a prior EAGAIN, retried on the next Write

	mu      sync.Mutex
	pid     int
	exited  bool
	exitErr error

	onExit func(exitCode int)
}

// Spawn allocates a PTY pair, starts the child, and returns a Supervisor.
// It neither proxies output nor reaps the child yet; call Run for that
// once the caller has finished wiring callbacks.
func Spawn(spec Spec, j *journal.Journal, injector *titleinject.Injector, logger *zap.Logger) (*Supervisor, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("ptysup: empty command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cols, rows := spec.Cols, spec.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(append([]string{}, os.Environ()...),
		"TERM=xterm-256color",
		fmt.Sprintf("COLUMNS=%d", cols),
		fmt.Sprintf("LINES=%d", rows),
		fmt.Sprintf("VIBETUNNEL_SESSION_ID=%s", spec.SessionID),
	)
	cmd.Env = append(cmd.Env, spec.ExtraEnv...)

	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("ptysup: spawn: %w", err)
	}
	if err := setNonblocking(master); err != nil {
		master.Close()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("ptysup: set nonblocking: %w", err)
	}

	sup := &Supervisor{
		sessionID: spec.SessionID,
		master:    master,
		cmd:       cmd,
		journal:   j,
		injector:  injector,
		logger:    logger.With(zap.String("session_id", spec.SessionID)),
		pid:       cmd.Process.Pid,
	}
	return sup, nil
}

// Pid returns the child's process id.
func (s *Supervisor) Pid() int { return s.pid }

// Run starts the output-proxy and reaper goroutines. onExit is invoked
// exactly once, with the child's exit code, after the journal has been
// finalized.
func (s *Supervisor) Run(onExit func(exitCode int)) {
	s.onExit = onExit
	go s.proxyOutput()
	go s.reap()
}

// proxyOutput reads from the PTY master and hands each chunk to the title
// injector and then the journal; the fan-out plane never reads the PTY
// directly, it tails the journal file instead.
func (s *Supervisor) proxyOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.master.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if s.injector != nil {
				chunk = s.injector.ObserveOutput(chunk)
			}
			if aerr := s.journal.AppendOutput(chunk, time.Now()); aerr != nil {
				s.logger.Warn("journal append failed, tearing down", zap.Error(aerr))
				s.Kill()
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Debug("pty read ended", zap.Error(err))
			}
			return
		}
	}
}

// reap waits for the child, then finalizes the journal with its exit
// code. It runs unconditionally, including for spontaneous child death:
// Run arms the reaper for every child, not only on Kill.
func (s *Supervisor) reap() {
	err := s.cmd.Wait()
	code := exitCodeOf(err)

	s.mu.Lock()
	s.exited = true
	s.exitErr = err
	s.mu.Unlock()

	s.master.Close()
	if ferr := s.journal.Finalize(code, time.Now()); ferr != nil {
		s.logger.Error("finalize failed", zap.Error(ferr))
	}
	if s.onExit != nil {
		s.onExit(code)
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return 128 + int(ws.Signal())
			}
			return ws.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	if e, ok := err.(*exec.ExitError); ok {
		*target = e
		return true
	}
	return false
}

// ObserveInput lets the Title Injector see inbound text before it reaches
// the PTY.
func (s *Supervisor) ObserveInput(text string) {
	if s.injector != nil {
		s.injector.ObserveInput(text)
	}
}

// Write sends bytes to the PTY master. Writes are non-blocking: each call
// first retries any backlog left by a prior EAGAIN, then attempts data
// itself. Once the combined backlog exceeds the high watermark, Write
// rejects new input with ErrBusy until a later call drains it below the
// threshold again.
func (s *Supervisor) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.drainPendingLocked(); err != nil {
		return err
	}
	if len(s.pending) > 0 {
		if len(s.pending)+len(data) > highWatermarkBytes {
			return ErrBusy
		}
		s.pending = append(s.pending, data...)
		return nil
	}

	n, err := rawWrite(s.master, data)
	if err != nil && !errors.Is(err, syscall.EAGAIN) {
		return fmt.Errorf("ptysup: write: %w", err)
	}
	if n < len(data) {
		s.pending = append([]byte(nil), data[n:]...)
		if len(s.pending) >= highWatermarkBytes {
			return ErrBusy
		}
	}
	return nil
}

// drainPendingLocked retries s.pending with a single non-blocking write,
// shrinking it by however much succeeded. Called with writeMu held.
func (s *Supervisor) drainPendingLocked() error {
	if len(s.pending) == 0 {
		return nil
	}
	n, err := rawWrite(s.master, s.pending)
	s.pending = s.pending[n:]
	if err != nil && !errors.Is(err, syscall.EAGAIN) {
		s.pending = nil
		return fmt.Errorf("ptysup: write: %w", err)
	}
	return nil
}

// rawWrite issues a single write syscall directly on f's file descriptor
// via SyscallConn, bypassing (*os.File).Write's runtime-poller integration
// that would otherwise park the calling goroutine until the fd is
// writable again. That integration is what makes os.File.Write "blocking"
// even on a non-blocking fd: it retries EAGAIN internally and never
// returns it to the caller. Going around it is what lets EAGAIN reach
// Write's backpressure logic above.
func rawWrite(f *os.File, data []byte) (int, error) {
	conn, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}
	var n int
	var writeErr error
	if ctrlErr := conn.Write(func(fd uintptr) bool {
		n, writeErr = syscall.Write(int(fd), data)
		if n < 0 {
			n = 0 // the syscall reports -1 alongside EAGAIN
		}
		return true
	}); ctrlErr != nil {
		return n, ctrlErr
	}
	return n, writeErr
}

// setNonblocking puts f's descriptor into O_NONBLOCK mode without
// triggering (*os.File).Fd()'s side effect of switching it back to
// blocking mode.
func setNonblocking(f *os.File) error {
	conn, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var setErr error
	if ctrlErr := conn.Control(func(fd uintptr) {
		setErr = syscall.SetNonblock(int(fd), true)
	}); ctrlErr != nil {
		return ctrlErr
	}
	return setErr
}

// Resize updates the kernel PTY window and appends a resize frame to the
// journal.
func (s *Supervisor) Resize(cols, rows int) error {
	if err := pty.Setsize(s.master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("ptysup: resize: %w", err)
	}
	return s.journal.AppendResize(cols, rows, time.Now())
}

// Signal delivers sig to the child.
func (s *Supervisor) Signal(sig os.Signal) error {
	if s.cmd.Process == nil {
		return nil
	}
	if err := s.cmd.Process.Signal(sig); err != nil && err.Error() != "os: process already finished" {
		return err
	}
	return nil
}

// Kill performs SIGTERM, escalating to SIGKILL after killGrace if the
// child has not exited. It returns once the child has been reaped.
func (s *Supervisor) Kill() {
	_ = s.Signal(syscall.SIGTERM)

	deadline := time.After(killGrace)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if s.IsExited() {
			return
		}
		select {
		case <-deadline:
			_ = s.Signal(syscall.SIGKILL)
			s.waitExited()
			return
		case <-tick.C:
		}
	}
}

func (s *Supervisor) waitExited() {
	for !s.IsExited() {
		time.Sleep(10 * time.Millisecond)
	}
}

// IsExited reports whether the child has been reaped.
func (s *Supervisor) IsExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// IsAlive probes the kernel for liveness, used by the boot-time recovery
// scan for sessions whose in-process Supervisor is gone.
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
