// Command vt is the companion CLI for vibetunneld: it talks to the
// daemon over the Unix control socket to report status, toggle git
// follow-mode, and attach a raw-mode terminal to a running session.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vibetunnel/vtd/pkg/controlsocket"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vt:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vt",
	Short: "vt talks to a running vibetunneld over its control socket",
}

func defaultSocketPath() string {
	if dir := os.Getenv("VIBETUNNEL_CONTROL_DIR"); dir != "" {
		return filepath.Join(dir, "api.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".vibetunnel", "api.sock")
}

func dial(cmd *cobra.Command) (*controlsocket.Client, error) {
	socketPath, _ := cmd.Flags().GetString("socket")
	if socketPath == "" {
		socketPath = defaultSocketPath()
	}
	c, err := controlsocket.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is vibetunneld running?)", socketPath, err)
	}
	return c, nil
}

func init() {
	rootCmd.PersistentFlags().String("socket", "", "path to the control socket (default $VIBETUNNEL_CONTROL_DIR/api.sock)")
	rootCmd.AddCommand(statusCmd, followCmd, unfollowCmd, attachCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report whether the daemon is running and its HTTP endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.Status()
		if err != nil {
			return err
		}
		fmt.Printf("running: %v\n", resp.Running)
		if resp.URL != "" {
			fmt.Printf("url: %s\n", resp.URL)
		}
		if resp.Port != 0 {
			fmt.Printf("port: %d\n", resp.Port)
		}
		return nil
	},
}

var followCmd = &cobra.Command{
	Use:   "follow [branch]",
	Short: "install the git follow hook for the current repo, tracking branch",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := os.Getwd()
		if err != nil {
			return err
		}
		branch := ""
		if len(args) == 1 {
			branch = args[0]
		}
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.GitFollow(controlsocket.GitFollowRequest{RepoPath: repoPath, Branch: branch, Enable: true})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Printf("following %s in %s\n", resp.CurrentBranch, repoPath)
		return nil
	},
}

var unfollowCmd = &cobra.Command{
	Use:   "unfollow",
	Short: "remove the git follow hook for the current repo",
	RunE: func(cmd *cobra.Command, args []string) error {
		repoPath, err := os.Getwd()
		if err != nil {
			return err
		}
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.GitFollow(controlsocket.GitFollowRequest{RepoPath: repoPath, Enable: false})
		if err != nil {
			return err
		}
		if resp.Error != "" {
			return fmt.Errorf("%s", resp.Error)
		}
		fmt.Println("follow hook removed")
		return nil
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <sessionId>",
	Short: "attach stdin/stdout to a running session, raw-mode passthrough",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		status, err := c.Status()
		c.Close()
		if err != nil {
			return err
		}
		if !status.Running {
			return fmt.Errorf("vibetunneld is not running")
		}
		return runAttach(baseURL(status), sessionID)
	},
}

// baseURL prefers the daemon's public URL (tunnel mode), falling back to
// the loopback address on its bound port.
func baseURL(status controlsocket.StatusResponse) string {
	if status.URL != "" {
		return strings.TrimSuffix(status.URL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", status.Port)
}

// runAttach puts the local terminal into raw mode, streams the session's
// recorded-and-live output to stdout over GET /api/sessions/:id/stream,
// and forwards stdin keystrokes over /ws/input, the same raw-mode
// passthrough shape a local terminal forwarder would use.
func runAttach(base, sessionID string) error {
	stdinFd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(stdinFd) {
		var err error
		oldState, err = term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("attach: enter raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws/input?sessionId=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("attach: connect input channel: %w", err)
	}
	defer conn.Close()

	streamResp, err := http.Get(base + "/api/sessions/" + sessionID + "/stream")
	if err != nil {
		return fmt.Errorf("attach: connect output stream: %w", err)
	}
	defer streamResp.Body.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(os.Stdout, streamResp.Body)
		close(done)
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if werr := conn.WriteMessage(websocket.TextMessage, buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-sigCh:
	}
	return nil
}
