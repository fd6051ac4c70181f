// Command vibetunneld is the VibeTunnel daemon: it owns the Session
// Manager, the Transport Layer (HTTP + WebSocket), and the Unix control
// socket for the `vt` CLI and desktop companion.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vibetunnel/vtd/pkg/api"
	"github.com/vibetunnel/vtd/pkg/auth"
	"github.com/vibetunnel/vtd/pkg/config"
	"github.com/vibetunnel/vtd/pkg/controlsocket"
	"github.com/vibetunnel/vtd/pkg/session"
	"github.com/vibetunnel/vtd/pkg/snapshot"
	"github.com/vibetunnel/vtd/pkg/tunnel"
)

var (
	flagAddr      string
	flagTunnel    string
	flagHostname  string
	flagAuthToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vibetunneld:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vibetunneld",
	Short: "VibeTunnel daemon: PTY session server",
	RunE:  runServe,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", ":4020", "address to listen on")
	rootCmd.Flags().StringVar(&flagTunnel, "tunnel", "none", "public exposure mode: none, autotls, or ngrok")
	rootCmd.Flags().StringVar(&flagHostname, "hostname", "", "public hostname (autotls mode)")
	rootCmd.Flags().StringVar(&flagAuthToken, "ngrok-authtoken", "", "ngrok auth token (ngrok mode)")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// statusProvider implements controlsocket.StatusProvider.
type statusProvider struct {
	port int
	url  string
}

func (p *statusProvider) Port() int   { return p.port }
func (p *statusProvider) URL() string { return p.url }

func runServe(cmd *cobra.Command, args []string) error {
	env := config.LoadEnv()

	logger, err := newLogger(env.Debug)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(env.ControlDir, 0o755); err != nil {
		return fmt.Errorf("create control dir: %w", err)
	}

	operator, err := config.LoadOperator(env.ControlDir)
	if err != nil {
		return fmt.Errorf("load operator config: %w", err)
	}

	watcher, err := config.WatchOperator(env.ControlDir, func(op *config.Operator) {
		logger.Info("operator config reloaded",
			zap.Bool("allowTailscaleAuth", op.AllowTailscaleAuth),
			zap.Bool("allowLocalBypass", op.AllowLocalBypass))
	})
	if err != nil {
		logger.Warn("operator config watch disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	secret, err := auth.LoadOrCreateSecret(env.ControlDir)
	if err != nil {
		return fmt.Errorf("load auth secret: %w", err)
	}

	gate := &auth.Gate{
		NoAuth:           env.Username == "" && env.Password == "",
		AllowTailscale:   operator.AllowTailscaleAuth,
		AllowLocalBypass: operator.AllowLocalBypass,
		HQBearerToken:    operator.HQBearerToken,
		Verifier:         auth.NewTokenVerifier(secret),
	}

	mgr := session.NewManager(env.ControlDir, logger)
	if err := mgr.Recover(); err != nil {
		logger.Warn("session recovery scan failed", zap.Error(err))
	}

	hub := snapshot.NewHub(mgr, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	status := &statusProvider{}
	controlSock := controlsocket.NewServer(controlSocketPath(env.ControlDir), mgr, status, logger)
	go func() {
		if err := controlSock.Serve(ctx); err != nil {
			logger.Error("control socket stopped", zap.Error(err))
		}
	}()

	srv := api.NewServer(api.Config{
		Manager:       mgr,
		Gate:          gate,
		SnapshotHub:   hub,
		ControlSocket: controlSock,
		IsHQMode:      operator.HQBearerToken != "",
		Logger:        logger,
	})

	addr := flagAddr
	if env.Port != "" {
		addr = ":" + env.Port
	}

	ln, err := tunnel.Listen(ctx, tunnel.Config{
		Mode:      tunnel.Mode(flagTunnel),
		Hostname:  flagHostname,
		AuthToken: flagAuthToken,
	}, addr, logger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	status.port = portOf(ln.Addr())
	if flagTunnel == string(tunnel.ModeNgrok) {
		if urler, ok := ln.(interface{ URL() string }); ok {
			status.url = urler.URL()
		}
	}

	logger.Info("vibetunneld starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("controlDir", env.ControlDir),
		zap.String("tunnel", flagTunnel))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if err := tunnel.Serve(ctx, ln, srv.Router()); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func controlSocketPath(controlDir string) string {
	return controlDir + "/api.sock"
}

func portOf(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	if s := addr.String(); s != "" {
		if _, portStr, err := net.SplitHostPort(s); err == nil {
			if p, err := strconv.Atoi(portStr); err == nil {
				return p
			}
		}
	}
	return 0
}
