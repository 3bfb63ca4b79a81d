package api

import (
	"encoding/json"
	"net/http"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// writeJSON writes v as-is. The event and health endpoints use fixed shapes
// that callers such as the sidecar rely on.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) jsonCreated(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: data})
}

func (s *Server) jsonError(w http.ResponseWriter, err string, status int) {
	s.writeJSON(w, status, APIResponse{Success: false, Error: err})
}
