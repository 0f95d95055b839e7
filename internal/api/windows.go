package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/coordinator"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

type registerWindowRequest struct {
	ClientID string     `json:"client_id"`
	Identity string     `json:"identity"`
	Role     store.Role `json:"role"`
	URL      string     `json:"url"`
}

type registerWindowResponse struct {
	ClientID         string `json:"client_id"`
	Proceed          bool   `json:"proceed"`
	Success          bool   `json:"success"`
	Reason           string `json:"reason"`
	Terminate        bool   `json:"terminate"`
	ExistingClientID string `json:"existing_client_id,omitempty"`
}

type windowResponse struct {
	ClientID     string            `json:"client_id"`
	Identity     string            `json:"identity,omitempty"`
	Role         store.Role        `json:"role"`
	URL          string            `json:"url,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeenAt   time.Time         `json:"last_seen_at"`
	State        store.WindowState `json:"state"`
}

type pongRequest struct {
	At time.Time `json:"at"`
}

type focusResultRequest struct {
	Outcome protocol.FocusOutcome `json:"outcome"`
}

func (s *Server) registerWindow(w http.ResponseWriter, r *http.Request) {
	var req registerWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if s.cfg.ArbitrationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ArbitrationTimeout)
		defer cancel()
	}
	result, err := s.coordinator.Arbitrate(ctx, coordinator.Registration{
		ClientID: strings.TrimSpace(req.ClientID),
		Identity: req.Identity,
		Role:     req.Role,
		URL:      req.URL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, registerWindowResponse{
		ClientID:         result.ClientID,
		Proceed:          !result.Terminate,
		Success:          result.Success,
		Reason:           result.Reason,
		Terminate:        result.Terminate,
		ExistingClientID: result.ExistingClientID,
	})
}

func (s *Server) listWindows(w http.ResponseWriter, r *http.Request) {
	records, err := s.coordinator.Windows(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	windows := make([]windowResponse, 0, len(records))
	for _, record := range records {
		windows = append(windows, toWindowResponse(record))
	}
	writeJSON(w, map[string]any{"windows": windows})
}

func (s *Server) unregisterWindow(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pongWindow(w http.ResponseWriter, r *http.Request) {
	var req pongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.Pong(r.Context(), chi.URLParam(r, "id"), req.At); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) reportFocus(w http.ResponseWriter, r *http.Request) {
	var req focusResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	switch req.Outcome {
	case protocol.FocusOutcomeFocused, protocol.FocusOutcomeBlocked, protocol.FocusOutcomeFailed:
	default:
		http.Error(w, "unknown focus outcome", http.StatusBadRequest)
		return
	}
	if err := s.coordinator.ReportFocus(chi.URLParam(r, "id"), chi.URLParam(r, "requestID"), req.Outcome); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pingWindows(w http.ResponseWriter, r *http.Request) {
	probed, err := s.coordinator.PingAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]int{"probed": probed})
}

// streamWindow attaches the caller as the window's message link. The link is
// detached when the client goes away, which the coordinator then reports as
// window-not-found to anyone trying to focus it.
func (s *Server) streamWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	link, err := s.coordinator.Connect(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer link.Close()

	flusher, ok := startStream(w)
	if !ok {
		return
	}
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	messages := link.Messages()
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return
			}
			sendSSE(w, "coordinator_message", msg)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func toWindowResponse(record store.WindowRecord) windowResponse {
	return windowResponse{
		ClientID:     record.ClientID,
		Identity:     record.Identity,
		Role:         record.Role,
		URL:          record.URL,
		RegisteredAt: record.RegisteredAt,
		LastSeenAt:   record.LastSeenAt,
		State:        record.State,
	}
}
