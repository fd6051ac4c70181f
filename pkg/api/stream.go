package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleStream is GET /api/sessions/:id/stream: the asciinema header
// line, then every recorded frame in journal order, then a live tail
// for as long as the client stays connected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sub, err := s.mgr.SubscribeText(id, 0)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	ctx := r.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-sub.Chunks:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case _, ok := <-sub.Err:
			if ok {
				return
			}
			return
		}
	}
}
