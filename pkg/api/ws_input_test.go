package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibetunnel/vtd/pkg/session"
)

func TestWSInputRequiresSessionID(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), nil)
	s := NewServer(Config{Manager: mgr})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws/input")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWSInputUnknownSessionRejected(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), nil)
	s := NewServer(Config{Manager: mgr})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/ws/input?sessionId=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSInputRoundTripDeliversTextToSession(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), nil)
	sess, err := mgr.Create(session.Config{
		Command:    []string{"/bin/sh", "-c", "cat > /dev/null; sleep 5"},
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Delete(sess.ID()) })

	s := NewServer(Config{Manager: mgr})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/input?sessionId=" + sess.ID()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("echo hi\n")))
	// The PTY echoes delivered input, so it shows up in the session's journal.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(sess.Journal().StreamPath())
		return err == nil && strings.Contains(string(data), "echo hi")
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWSInputSendInputFailureNacksWithoutClosing(t *testing.T) {
	mgr := session.NewManager(t.TempDir(), nil)
	sess, err := mgr.Create(session.Config{
		Command:    []string{"/bin/sh", "-c", "sleep 5"},
		WorkingDir: t.TempDir(),
	})
	require.NoError(t, err)

	s := NewServer(Config{Manager: mgr})
	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/input?sessionId=" + sess.ID()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	// Kill the session after the handshake so SendInput fails mid-connection.
	require.NoError(t, mgr.Delete(sess.ID()))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("echo hi\n")))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var nack map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &nack))
	assert.Equal(t, "nack", nack["type"])
}
