package session

import "time"

// Status is a Session's lifecycle stage.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
)

// TitleMode is the terminal title injection policy: dynamic injects an
// OSC-2 title (cwd, command, status) at each shell prompt boundary;
// static and none both leave the output untouched, so no title is
// written in either mode.
type TitleMode string

const (
	TitleModeStatic  TitleMode = "static"
	TitleModeDynamic TitleMode = "dynamic"
	TitleModeNone    TitleMode = "none"
)

// GitInfo is captured best-effort at session creation.
type GitInfo struct {
	RepoPath   string `json:"repoPath,omitempty"`
	Branch     string `json:"branch,omitempty"`
	IsWorktree bool   `json:"isWorktree,omitempty"`
	Ahead      int    `json:"ahead,omitempty"`
	Behind     int    `json:"behind,omitempty"`
	Changes    int    `json:"changes,omitempty"`
}

// Config is the input to Manager.Create.
type Config struct {
	Command      []string
	WorkingDir   string
	Name         string
	TitleMode    TitleMode
	Cols         int
	Rows         int
	GitRepoPath  string
	GitBranch    string
}

// Info is the externally visible Session record.
type Info struct {
	ID             string     `json:"id"`
	Command        []string   `json:"command"`
	WorkingDir     string     `json:"workingDir"`
	Name           string     `json:"name,omitempty"`
	TitleMode      TitleMode  `json:"titleMode"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	Status         Status     `json:"status"`
	Pid            int        `json:"pid,omitempty"`
	Cols           int        `json:"cols"`
	Rows           int        `json:"rows"`
	ExitCode       *int       `json:"exitCode,omitempty"`
	Git            *GitInfo   `json:"git,omitempty"`
}

// validate enforces the Session invariants.
func (i *Info) validate() error {
	if i.Status == StatusRunning && i.Pid == 0 {
		return newErr(KindInternal, i.ID, "invariant violated: running session has no pid")
	}
	if i.Status == StatusExited && i.ExitCode == nil {
		return newErr(KindInternal, i.ID, "invariant violated: exited session has no exit code")
	}
	if i.Cols < 1 || i.Rows < 1 {
		return newErr(KindInvalidArgument, i.ID, "cols and rows must be >= 1")
	}
	return nil
}
