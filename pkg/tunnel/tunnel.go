// Package tunnel provides optional public exposure for the HTTP surface:
// automatic TLS for a public hostname via certmagic, or an ngrok-backed
// tunnel for zero-config remote access. Neither is required for local
// operation; the server listens on a plain TCP port by default.
package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/caddyserver/certmagic"
	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
)

// Mode selects how (or whether) the server is exposed publicly.
type Mode string

const (
	ModeNone      Mode = "none"
	ModeAutoTLS   Mode = "autotls"
	ModeNgrok     Mode = "ngrok"
)

// Config configures public exposure.
type Config struct {
	Mode     Mode
	Hostname string // required for ModeAutoTLS
	AuthToken string // required for ModeNgrok
}

// Listen returns a net.Listener appropriate for cfg.Mode. For ModeNone it
// is a plain TCP listener on addr; for ModeAutoTLS it is a TLS listener
// using a certmagic-managed certificate for cfg.Hostname; for ModeNgrok
// it is an ngrok-backed tunnel.
func Listen(ctx context.Context, cfg Config, addr string, logger *zap.Logger) (net.Listener, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Mode {
	case "", ModeNone:
		return net.Listen("tcp", addr)

	case ModeAutoTLS:
		if cfg.Hostname == "" {
			return nil, fmt.Errorf("tunnel: autotls mode requires a hostname")
		}
		certmagic.DefaultACME.Agreed = true
		tlsConfig, err := certmagic.TLS([]string{cfg.Hostname})
		if err != nil {
			return nil, fmt.Errorf("tunnel: certmagic setup: %w", err)
		}
		logger.Info("serving with automatic TLS", zap.String("hostname", cfg.Hostname))
		return tlsListen(addr, tlsConfig)

	case ModeNgrok:
		if cfg.AuthToken == "" {
			return nil, fmt.Errorf("tunnel: ngrok mode requires an auth token")
		}
		ln, err := ngrok.Listen(ctx,
			config.HTTPEndpoint(),
			ngrok.WithAuthtoken(cfg.AuthToken),
		)
		if err != nil {
			return nil, fmt.Errorf("tunnel: ngrok listen: %w", err)
		}
		logger.Info("serving via ngrok tunnel", zap.String("url", ln.URL()))
		return ln, nil

	default:
		return nil, fmt.Errorf("tunnel: unknown mode %q", cfg.Mode)
	}
}

// tlsListen wraps net.Listen with tlsConfig.
func tlsListen(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, tlsConfig), nil
}

// Serve is a convenience wrapper running an http.Server over ln until ctx
// is done.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
