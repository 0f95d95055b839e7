package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type sessionFlagRequest struct {
	Value string `json:"value"`
}

type sessionFlagResponse struct {
	SessionID string    `json:"session_id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type installHintRequest struct {
	Installed *bool `json:"installed"`
}

type installHintResponse struct {
	Identity  string `json:"identity"`
	Installed *bool  `json:"installed"`
}

func (s *Server) putSessionFlag(w http.ResponseWriter, r *http.Request) {
	if !s.hintsConfigured(w) {
		return
	}
	var req sessionFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	flag, err := s.hints.SetSessionFlag(chi.URLParam(r, "sessionID"), chi.URLParam(r, "key"), req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sessionFlagResponse{SessionID: flag.SessionID, Key: flag.Key, Value: flag.Value, UpdatedAt: flag.UpdatedAt})
}

func (s *Server) getSessionFlag(w http.ResponseWriter, r *http.Request) {
	if !s.hintsConfigured(w) {
		return
	}
	flag, ok := s.hints.SessionFlag(chi.URLParam(r, "sessionID"), chi.URLParam(r, "key"))
	if !ok {
		http.Error(w, "flag not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sessionFlagResponse{SessionID: flag.SessionID, Key: flag.Key, Value: flag.Value, UpdatedAt: flag.UpdatedAt})
}

func (s *Server) putInstallHint(w http.ResponseWriter, r *http.Request) {
	if !s.hintsConfigured(w) {
		return
	}
	var req installHintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Installed == nil {
		http.Error(w, "installed is required", http.StatusBadRequest)
		return
	}
	identity := chi.URLParam(r, "identity")
	if err := s.hints.RecordInstallState(r.Context(), identity, *req.Installed); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getInstallHint answers installed=null when nothing has been recorded.
func (s *Server) getInstallHint(w http.ResponseWriter, r *http.Request) {
	if !s.hintsConfigured(w) {
		return
	}
	identity := chi.URLParam(r, "identity")
	installed, err := s.hints.InstallState(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, installHintResponse{Identity: identity, Installed: installed})
}

func (s *Server) hintsConfigured(w http.ResponseWriter) bool {
	if s.hints == nil {
		http.Error(w, "hints not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}
