package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the error envelope of every devserver response, the same
// {"detail": ...} shape the journey backend answers with.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeJSON sends payload with the given status code. Status bodies change
// every step, so nothing is cacheable.
func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.app.Logger.Error("failed to encode response", "error", err)
		code = http.StatusInternalServerError
		data = []byte(`{"detail":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	w.Write(append(data, '\n'))
}

func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, errorBody{Detail: detail})
}
