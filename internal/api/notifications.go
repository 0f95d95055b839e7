package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
)

type publishRequest struct {
	Type      string         `json:"type"`
	Identity  string         `json:"identity"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"trace_id"`
	Payload   map[string]any `json:"payload"`
}

func (s *Server) publishNotification(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	eventType := events.NormalizeType(req.Type)
	if eventType == "" {
		http.Error(w, "event type required", http.StatusBadRequest)
		return
	}
	event := events.Notification{
		Type:      eventType,
		Identity:  req.Identity,
		Timestamp: req.Timestamp,
		Source:    strings.TrimSpace(req.Source),
		TraceID:   strings.TrimSpace(req.TraceID),
		Payload:   req.Payload,
	}
	if event.TraceID == "" {
		event.TraceID = uuid.New().String()
	}
	s.broker.Publish(event)
	writeJSONStatus(w, map[string]string{"trace_id": event.TraceID}, http.StatusAccepted)
}

// streamNotifications subscribes the caller to the bus. identity scopes the
// stream; type may be repeated or comma separated.
func (s *Server) streamNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := events.Filter{Identity: query.Get("identity")}
	for _, value := range query["type"] {
		for _, eventType := range strings.Split(value, ",") {
			if eventType = events.NormalizeType(eventType); eventType != "" {
				filter.Types = append(filter.Types, eventType)
			}
		}
	}

	// Subscribe before the headers go out so a connected client never misses
	// an event published right after.
	ctx := r.Context()
	notifications := s.broker.Subscribe(ctx, filter)
	flusher, ok := startStream(w)
	if !ok {
		return
	}
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-notifications:
			if !ok {
				return
			}
			sendSSE(w, "notification", event)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": keep-alive\n\n")
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
