package api

import (
	"encoding/json"
	"net/http"

	"github.com/vibetunnel/vtd/pkg/session"
)

// errorBody is the JSON shape of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps a session.Kind to the HTTP status the transport reports
// for it. KindGone (an operation on an exited session) maps to 400, not
// 410, the same status as KindInvalidArgument; an unknown session id
// (KindNotFound) is reported as 404.
func statusFor(kind session.Kind) int {
	switch kind {
	case session.KindInvalidArgument:
		return http.StatusBadRequest
	case session.KindUnauthorized:
		return http.StatusUnauthorized
	case session.KindNotFound:
		return http.StatusNotFound
	case session.KindGone:
		return http.StatusBadRequest
	case session.KindConflict:
		return http.StatusConflict
	case session.KindBusy:
		return http.StatusTooManyRequests
	case session.KindIO, session.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status via its session.Kind and writes the
// JSON error body. A plain (non-*session.Error) err is treated as 500.
func writeError(w http.ResponseWriter, err error) {
	kind := session.KindOf(err)
	writeJSON(w, statusFor(kind), errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// maxRequestBodyBytes bounds every JSON request body the transport
// accepts; decodeJSON enforces it via http.MaxBytesReader.
const maxRequestBodyBytes = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
