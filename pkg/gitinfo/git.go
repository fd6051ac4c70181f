// Package gitinfo captures best-effort git repository state at session
// creation via git rev-parse/git status, with a 5-second timeout, and
// never causes session creation to fail. It also supports the CLI's
// follow-mode configuration (GIT_FOLLOW_REQUEST/RESPONSE).
package gitinfo

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const captureTimeout = 5 * time.Second

// Info mirrors the git_* attributes captured on a Session.
type Info struct {
	RepoPath   string
	Branch     string
	IsWorktree bool
	Ahead      int
	Behind     int
	Changes    int
}

// Capture best-effort inspects workingDir for an enclosing git repository.
// It never returns an error: any failure (not a repo, git missing, binary
// crash, timeout) yields a nil Info so session creation proceeds.
func Capture(workingDir string) *Info {
	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	repoPath, ok := run(ctx, workingDir, "rev-parse", "--show-toplevel")
	if !ok {
		return nil
	}
	repoPath = strings.TrimSpace(repoPath)
	if repoPath == "" {
		return nil
	}

	info := &Info{RepoPath: repoPath}

	if gitDir, ok := run(ctx, workingDir, "rev-parse", "--git-dir"); ok {
		info.IsWorktree = strings.Contains(strings.TrimSpace(gitDir), "worktrees")
	}

	if branch, ok := run(ctx, workingDir, "rev-parse", "--abbrev-ref", "HEAD"); ok {
		info.Branch = strings.TrimSpace(branch)
	}

	if counts, ok := run(ctx, workingDir, "rev-list", "--left-right", "--count", "@{upstream}...HEAD"); ok {
		ahead, behind := parseAheadBehind(counts)
		info.Behind, info.Ahead = ahead, behind
	}

	if status, ok := run(ctx, workingDir, "status", "--porcelain"); ok {
		info.Changes = countNonEmptyLines(status)
	}

	return info
}

func run(ctx context.Context, dir string, args ...string) (string, bool) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return "", false
	}
	return out.String(), true
}

func parseAheadBehind(s string) (left, right int) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0
	}
	l, err1 := strconv.Atoi(fields[0])
	r, err2 := strconv.Atoi(fields[1])
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return l, r
}

func countNonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// FollowBranch reads the vibetunnel.followBranch git config key, empty if
// unset.
func FollowBranch(ctx context.Context, repoPath string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "config", "--get", "vibetunnel.followBranch")
	cmd.Dir = repoPath
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return "", nil // key not set
		}
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

// SetFollowBranch sets or clears (branch == "") the follow-mode config key.
func SetFollowBranch(ctx context.Context, repoPath, branch string) error {
	var cmd *exec.Cmd
	if branch == "" {
		cmd = exec.CommandContext(ctx, "git", "config", "--unset", "vibetunnel.followBranch")
	} else {
		cmd = exec.CommandContext(ctx, "git", "config", "vibetunnel.followBranch", branch)
	}
	cmd.Dir = repoPath
	if err := cmd.Run(); err != nil {
		if branch == "" {
			if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 5 {
				return nil // already unset
			}
		}
		return err
	}
	return nil
}

// InstallHook idempotently installs the follow-mode post-checkout hook.
// hookBody is the full script contents to write; a hook that already
// carries the vibetunnel marker is left untouched.
func InstallHook(repoPath, hookBody string) error {
	path := hookPath(repoPath)
	existing, err := readFileIfExists(path)
	if err == nil && strings.Contains(existing, hookMarker) {
		return nil // already installed
	}
	return writeExecutable(path, hookBody)
}

// UninstallHook removes the hook only if it was installed by us.
func UninstallHook(repoPath string) error {
	path := hookPath(repoPath)
	existing, err := readFileIfExists(path)
	if err != nil {
		return nil
	}
	if !strings.Contains(existing, hookMarker) {
		return nil
	}
	return removeFile(path)
}

const hookMarker = "# vibetunnel-git-follow-hook"

func hookPath(repoPath string) string {
	return repoPath + "/.git/hooks/post-checkout"
}

func readFileIfExists(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writeExecutable(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o755)
}

func removeFile(path string) error {
	return os.Remove(path)
}
