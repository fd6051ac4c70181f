package tunnel

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenModeNone(t *testing.T) {
	ln, err := Listen(context.Background(), Config{Mode: ModeNone}, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()
	assert.NotEmpty(t, ln.Addr().String())
}

func TestListenDefaultModeIsNone(t *testing.T) {
	ln, err := Listen(context.Background(), Config{}, "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()
}

func TestListenAutoTLSRequiresHostname(t *testing.T) {
	_, err := Listen(context.Background(), Config{Mode: ModeAutoTLS}, "127.0.0.1:0", nil)
	assert.Error(t, err)
}

func TestListenNgrokRequiresAuthToken(t *testing.T) {
	_, err := Listen(context.Background(), Config{Mode: ModeNgrok}, "127.0.0.1:0", nil)
	assert.Error(t, err)
}

func TestListenUnknownMode(t *testing.T) {
	_, err := Listen(context.Background(), Config{Mode: "bogus"}, "127.0.0.1:0", nil)
	assert.Error(t, err)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- Serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	}()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestServeRespondsUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Serve(ctx, ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	var resp *http.Response
	for i := 0; i < 20; i++ {
		resp, err = http.Get("http://" + addr + "/")
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}
