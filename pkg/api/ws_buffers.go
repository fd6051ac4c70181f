package api

import (
	"net/http"

	"github.com/vibetunnel/vtd/pkg/snapshot"
)

// handleWSBuffers is /ws/buffers: the multiplexed binary snapshot stream.
// All session multiplexing, subscribe/unsubscribe framing, and
// coalescing live in pkg/snapshot; this handler only wires the Hub to
// the HTTP upgrade.
func (s *Server) handleWSBuffers(w http.ResponseWriter, r *http.Request) {
	_ = snapshot.ServeWS(s.snapshotHub, w, r, s.logger)
}
