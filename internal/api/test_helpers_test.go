package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/coordinator"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/hints"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store/memory"
)

type MockStore struct {
	mock.Mock
}

var _ store.Store = (*MockStore)(nil)

func (m *MockStore) UpsertWindow(ctx context.Context, record store.WindowRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockStore) GetWindow(ctx context.Context, clientID string) (*store.WindowRecord, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.WindowRecord), args.Error(1)
}

func (m *MockStore) ListWindows(ctx context.Context) ([]store.WindowRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.WindowRecord), args.Error(1)
}

func (m *MockStore) ListWindowsByIdentity(ctx context.Context, identity string) ([]store.WindowRecord, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.WindowRecord), args.Error(1)
}

func (m *MockStore) DeleteWindow(ctx context.Context, clientID string) error {
	args := m.Called(ctx, clientID)
	return args.Error(0)
}

func (m *MockStore) GetInstallHint(ctx context.Context, identity string) (*store.InstallHint, error) {
	args := m.Called(ctx, identity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.InstallHint), args.Error(1)
}

func (m *MockStore) UpsertInstallHint(ctx context.Context, hint store.InstallHint) error {
	args := m.Called(ctx, hint)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.Notification) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, filter events.Filter) <-chan events.Notification {
	args := m.Called(ctx, filter)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.Notification); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.Notification); ok {
			return ch
		}
	}
	return nil
}

type MockCoordinator struct {
	mock.Mock
}

func (m *MockCoordinator) Arbitrate(ctx context.Context, reg coordinator.Registration) (protocol.ArbitrationResult, error) {
	args := m.Called(ctx, reg)
	return args.Get(0).(protocol.ArbitrationResult), args.Error(1)
}

func (m *MockCoordinator) Windows(ctx context.Context) ([]store.WindowRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.WindowRecord), args.Error(1)
}

func (m *MockCoordinator) Unregister(ctx context.Context, clientID string) error {
	args := m.Called(ctx, clientID)
	return args.Error(0)
}

func (m *MockCoordinator) Pong(ctx context.Context, clientID string, at time.Time) error {
	args := m.Called(ctx, clientID, at)
	return args.Error(0)
}

func (m *MockCoordinator) ReportFocus(clientID, requestID string, outcome protocol.FocusOutcome) error {
	args := m.Called(clientID, requestID, outcome)
	return args.Error(0)
}

func (m *MockCoordinator) Connect(ctx context.Context, clientID string) (*coordinator.Link, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*coordinator.Link), args.Error(1)
}

func (m *MockCoordinator) PingAll(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func testConfig() config.Config {
	return config.Config{
		ArbitrationTimeout: time.Second,
		AppBaseURL:         "https://example.test/app",
		BrowserBaseURL:     "https://example.test",
		InstallGuideURL:    "https://example.test/install",
	}
}

// liveServer runs the API in front of a real coordinator and memory store.
type liveServer struct {
	*httptest.Server
	coordinator *coordinator.Coordinator
	store       *memory.MemoryStore
	broker      *events.Broker
	hints       *hints.Hints
}

func newLiveServer(t *testing.T, opts ...coordinator.Option) *liveServer {
	t.Helper()
	st := memory.New()
	coord := coordinator.New(st, append([]coordinator.Option{coordinator.WithFocusTimeout(200 * time.Millisecond)}, opts...)...)
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	broker := events.NewBroker()
	hintStore := hints.New(st, time.Hour)
	server := NewServer(coord, st, broker, hintStore, testConfig(), WithHeartbeat(50*time.Millisecond))
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(func() {
		httpServer.CloseClientConnections()
		httpServer.Close()
		cancel()
		<-coord.Stopped()
	})
	return &liveServer{Server: httpServer, coordinator: coord, store: st, broker: broker, hints: hintStore}
}

func newTestServer(t *testing.T, coord Coordinator, st store.Store, broker Broker, hintStore *hints.Hints) *httptest.Server {
	t.Helper()
	server := NewServer(coord, st, broker, hintStore, testConfig())
	httpServer := httptest.NewServer(server.Router())
	t.Cleanup(httpServer.Close)
	return httpServer
}

// sseEvent is one decoded server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// readSSE decodes events from body onto the returned channel until the body
// ends.
func readSSE(body io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(body)
		current := sseEvent{}
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if current.Name != "" || current.Data != "" {
					out <- current
				}
				current = sseEvent{}
			case strings.HasPrefix(line, "event: "):
				current.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				current.Data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	return out
}

func nextSSE(t *testing.T, stream <-chan sseEvent) sseEvent {
	t.Helper()
	select {
	case event, ok := <-stream:
		require.True(t, ok, "stream ended")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return sseEvent{}
	}
}

func openStream(t *testing.T, ctx context.Context, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return resp
}

type noFlushWriter struct {
	header http.Header
	status int
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *noFlushWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (w *noFlushWriter) WriteHeader(status int) {
	w.status = status
}
