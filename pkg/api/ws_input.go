package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vibetunnel/vtd/pkg/inputrouter"
)

// inputWSPongWait mirrors the snapshot plane's keepalive budget; the
// input channel is low-traffic but still needs a dead-peer timeout.
const inputWSPongWait = 60 * time.Second

var inputUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWSInput is /ws/input?sessionId=…: a single-session input
// channel. The wire format is ultra-minimal: each frame
// is either raw text or a special-key name wrapped in \x00 bytes
// (inputrouter.DecodeWSFrame). A backpressure nack is sent as a text
// control frame rather than closing the connection.
func (s *Server) handleWSInput(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	if _, err := s.mgr.Get(sessionID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := inputUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("ws/input upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(inputWSPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(inputWSPongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		text, err := inputrouter.DecodeWSFrame(payload)
		if err != nil || text == "" {
			continue // decode error or empty payload: skip it, never fail the connection
		}
		if err := s.mgr.SendInput(sessionID, text); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nack","error":"`+err.Error()+`"}`))
		}
	}
}
