package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/coordinator"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/hints"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

const heartbeatInterval = 15 * time.Second

type Server struct {
	coordinator Coordinator
	store       store.Store
	broker      Broker
	hints       *hints.Hints
	tracer      trace.Tracer
	cfg         config.Config
	heartbeat   time.Duration
}

// Coordinator is the part of coordinator.Coordinator the HTTP surface uses.
type Coordinator interface {
	Arbitrate(ctx context.Context, reg coordinator.Registration) (protocol.ArbitrationResult, error)
	Windows(ctx context.Context) ([]store.WindowRecord, error)
	Unregister(ctx context.Context, clientID string) error
	Pong(ctx context.Context, clientID string, at time.Time) error
	ReportFocus(clientID, requestID string, outcome protocol.FocusOutcome) error
	Connect(ctx context.Context, clientID string) (*coordinator.Link, error)
	PingAll(ctx context.Context) (int, error)
}

type Broker interface {
	Publish(event events.Notification)
	Subscribe(ctx context.Context, filter events.Filter) <-chan events.Notification
}

type Option func(*Server)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithHeartbeat sets the keep-alive interval of SSE streams.
func WithHeartbeat(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.heartbeat = interval
		}
	}
}

func NewServer(coord Coordinator, st store.Store, broker Broker, hintStore *hints.Hints, cfg config.Config, opts ...Option) *Server {
	s := &Server{
		coordinator: coord,
		store:       st,
		broker:      broker,
		hints:       hintStore,
		tracer:      noop.NewTracerProvider().Tracer("api"),
		cfg:         cfg,
		heartbeat:   heartbeatInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Post("/windows", s.registerWindow)
	r.Get("/windows", s.listWindows)
	r.Post("/windows/ping", s.pingWindows)
	r.Delete("/windows/{id}", s.unregisterWindow)
	r.Post("/windows/{id}/pong", s.pongWindow)
	r.Post("/windows/{id}/focus-results/{requestID}", s.reportFocus)
	r.Get("/windows/{id}/stream", s.streamWindow)
	r.Post("/notifications", s.publishNotification)
	r.Get("/notifications/stream", s.streamNotifications)
	r.Post("/route", s.resolveRoute)
	r.Get("/open", s.openLink)
	r.Put("/sessions/{sessionID}/flags/{key}", s.putSessionFlag)
	r.Get("/sessions/{sessionID}/flags/{key}", s.getSessionFlag)
	r.Put("/install-hints/{identity}", s.putInstallHint)
	r.Get("/install-hints/{identity}", s.getInstallHint)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

// Liveness traffic and long-lived streams would drown everything else.
func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/stream") {
		return true
	}
	if method == http.MethodPost && (strings.HasSuffix(cleanPath, "/pong") || cleanPath == "/windows/ping") {
		return true
	}
	if method == http.MethodGet && (cleanPath == "/health" || cleanPath == "/ready") {
		return true
	}
	return method == http.MethodOptions
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListWindows(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.coordinator == nil {
		subsystems["coordinator"] = subsystemStatus{Status: "error", Error: "not configured"}
		overall = http.StatusServiceUnavailable
	} else if _, err := s.coordinator.Windows(ctx); err != nil {
		subsystems["coordinator"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["coordinator"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSON(w http.ResponseWriter, value any) {
	writeJSONStatus(w, value, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

// writeError maps coordinator and hint errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrInvalidRegistration), errors.Is(err, hints.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, coordinator.ErrUnknownWindow), errors.Is(err, coordinator.ErrUnknownRequest):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, coordinator.ErrStopped), errors.Is(err, coordinator.ErrQueueFull):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// startStream writes the SSE headers and returns the flusher, or fails the
// request when the writer cannot stream.
func startStream(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()
	return flusher, true
}

func sendSSE(w http.ResponseWriter, event string, value any) {
	payload, _ := json.Marshal(value)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
		// Streams end with ctx so Shutdown does not wait on them.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
