package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/agent"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/api"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/config"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/coordinator"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/hints"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/resolver"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store/memory"
)

var (
	_ agent.Coordinator = (*Client)(nil)
	_ agent.Notifier    = (*Client)(nil)
)

type testEnv struct {
	server      *httptest.Server
	coordinator *coordinator.Coordinator
	broker      *events.Broker
	store       *memory.MemoryStore
	stop        context.CancelFunc
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	st := memory.New()
	coord := coordinator.New(st, coordinator.WithFocusTimeout(300*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	go coord.Run(ctx)

	broker := events.NewBroker()
	cfg := config.Config{
		ArbitrationTimeout: 2 * time.Second,
		AppBaseURL:         "https://example.test/app",
		BrowserBaseURL:     "https://example.test",
		InstallGuideURL:    "https://example.test/install",
	}
	server := httptest.NewServer(api.NewServer(coord, st, broker, hints.New(st, time.Hour), cfg, api.WithHeartbeat(50*time.Millisecond)).Router())
	t.Cleanup(func() {
		server.CloseClientConnections()
		server.Close()
		cancel()
		<-coord.Stopped()
	})
	return &testEnv{server: server, coordinator: coord, broker: broker, store: st, stop: cancel}
}

type shell struct {
	mu         sync.Mutex
	open       bool
	focusCalls int
	focusErr   error
}

func (s *shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	return nil
}

func (s *shell) IsOpen() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open, nil
}

func (s *shell) Back() error { return nil }

func (s *shell) Focus() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusCalls++
	return s.focusErr
}

func (s *shell) ShowMessage(string) {}

func (s *shell) focused() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusCalls
}

func TestArbitrate(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)

	result, err := c.Arbitrate(context.Background(), protocol.ArbitrationRequest{ClientID: "a", Identity: "s1", Role: store.RoleDashboard})
	require.NoError(t, err)
	require.Equal(t, "a", result.ClientID)
	require.False(t, result.Terminate)
	require.Equal(t, protocol.ReasonNoExistingWindow, result.Reason)

	windows, err := c.Windows(context.Background())
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, "s1", windows[0].Identity)
}

func TestConnect_ReceivesPing(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)
	ctx := context.Background()

	inbox, err := c.Connect(ctx, "a")
	require.NoError(t, err)
	defer inbox.Close()
	_, err = c.Arbitrate(ctx, protocol.ArbitrationRequest{ClientID: "a", Identity: "s1"})
	require.NoError(t, err)

	probed, err := c.PingAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, probed)

	select {
	case msg := <-inbox.Messages():
		require.Equal(t, protocol.MessagePing, msg.Kind)
		require.Equal(t, "a", msg.ClientID)
	case <-time.After(2 * time.Second):
		t.Fatal("ping not received")
	}
	require.NoError(t, c.Pong(ctx, "a", time.Time{}))
}

func TestConnect_EndsWhenUnregistered(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)
	ctx := context.Background()

	inbox, err := c.Connect(ctx, "a")
	require.NoError(t, err)
	defer inbox.Close()
	require.NoError(t, c.Unregister(ctx, "a"))

	select {
	case _, ok := <-inbox.Messages():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open")
	}
}

func TestConnect_CloseDetaches(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)
	ctx := context.Background()

	inbox, err := c.Connect(ctx, "a")
	require.NoError(t, err)
	_, err = c.Arbitrate(ctx, protocol.ArbitrationRequest{ClientID: "a", Identity: "s1"})
	require.NoError(t, err)
	inbox.Close()
	inbox.Close()

	require.Eventually(t, func() bool {
		result, err := c.Arbitrate(ctx, protocol.ArbitrationRequest{ClientID: "b", Identity: "s1"})
		return err == nil && !result.Terminate
	}, 2*time.Second, 50*time.Millisecond)
}

func TestConnect_ContextBoundsOnlyTheHandshake(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	inbox, err := c.Connect(ctx, "a")
	require.NoError(t, err)
	defer inbox.Close()
	cancel()

	_, err = c.Arbitrate(context.Background(), protocol.ArbitrationRequest{ClientID: "a", Identity: "s1"})
	require.NoError(t, err)
	_, err = c.PingAll(context.Background())
	require.NoError(t, err)
	select {
	case msg, ok := <-inbox.Messages():
		require.True(t, ok)
		require.Equal(t, protocol.MessagePing, msg.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("stream ended with the connect context")
	}
}

func TestUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	c := New(baseURL)
	_, err := c.Arbitrate(context.Background(), protocol.ArbitrationRequest{Identity: "s1"})
	require.ErrorIs(t, err, agent.ErrUnavailable)

	_, err = c.Connect(context.Background(), "a")
	require.ErrorIs(t, err, agent.ErrUnavailable)

	ch := c.Subscribe(context.Background(), events.Filter{})
	_, ok := <-ch
	require.False(t, ok)
}

func TestStatusErrors(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)

	err := c.Pong(context.Background(), "ghost", time.Time{})
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.Contains(t, statusErr.Error(), "404")

	env.stop()
	<-env.coordinator.Stopped()
	_, err = c.Arbitrate(context.Background(), protocol.ArbitrationRequest{Identity: "s1"})
	require.ErrorIs(t, err, agent.ErrUnavailable)
}

func TestCallerDeadlineIsPreserved(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := New(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Arbitrate(ctx, protocol.ArbitrationRequest{Identity: "s1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublishAndSubscribe(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Subscribe(ctx, events.Filter{Identity: "s1", Types: []string{events.TypeNewContentAvailable}})
	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err := c.Publish(ctx, events.Notification{Type: "other", Identity: "s1"})
	require.NoError(t, err)
	traceID, err := c.Publish(ctx, events.Notification{Type: events.TypeNewContentAvailable, Identity: "s1", Payload: map[string]any{"token": "t"}})
	require.NoError(t, err)
	require.NotEmpty(t, traceID)

	select {
	case got := <-ch:
		require.Equal(t, events.TypeNewContentAvailable, got.Type)
		require.Equal(t, traceID, got.TraceID)
		require.Equal(t, "t", got.Payload["token"])
	case <-time.After(2 * time.Second):
		t.Fatal("notification not received")
	}

	cancel()
	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestResolve(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)

	decision, err := c.Resolve(context.Background(), resolver.Params{ContentToken: "tok"}, resolver.Signals{InstalledApps: resolver.Bool(true)})
	require.NoError(t, err)
	require.Equal(t, resolver.VerdictOpenInApp, decision.Verdict)
	require.Equal(t, "https://example.test/app?contentToken=tok", decision.Target)

	decision, err = c.Resolve(context.Background(), resolver.Params{RawMode: "sideways"}, resolver.Signals{InstalledApps: resolver.Bool(false)})
	require.NoError(t, err)
	require.Contains(t, decision.Reasons, "ignored-unknown-mode:sideways")
}

func TestAgentsOverHTTP_SecondWindowYields(t *testing.T) {
	env := startEnv(t)
	opts := agent.Options{ArbitrationTimeout: 2 * time.Second, CloseStepTimeout: 50 * time.Millisecond}

	firstShell := &shell{open: true}
	first := agent.New(New(env.server.URL), firstShell)
	decision, err := first.Start(context.Background(), "s1", store.RoleDashboard, opts)
	require.NoError(t, err)
	require.True(t, decision.Proceed)
	defer first.Stop(context.Background())

	secondShell := &shell{open: true}
	second := agent.New(New(env.server.URL), secondShell)
	decision, err = second.Start(context.Background(), "S1", store.RoleDashboard, opts)
	require.NoError(t, err)
	require.False(t, decision.Proceed)
	require.Equal(t, protocol.ReasonExistingWindowFocused, decision.Reason)
	require.Equal(t, first.ClientID(), decision.ExistingClientID)
	require.Equal(t, agent.TerminationClosed, decision.Termination)
	require.Equal(t, 1, firstShell.focused())
	require.Equal(t, agent.StateClosed, second.State())

	records, err := env.store.ListWindows(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestAgentsOverHTTP_LivenessAndNotifications(t *testing.T) {
	env := startEnv(t)
	c := New(env.server.URL)
	a := agent.New(c, &shell{open: true}, agent.WithNotifier(c))
	_, err := a.Start(context.Background(), "s1", store.RoleDashboard, agent.Options{})
	require.NoError(t, err)
	defer a.Stop(context.Background())

	received := make(chan events.Notification, 1)
	unsubscribe := a.OnNotification(events.TypeNewContentAvailable, func(n events.Notification) {
		received <- n
	})
	defer unsubscribe()
	require.Eventually(t, func() bool { return env.broker.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err = c.PingAll(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		record, err := env.store.GetWindow(context.Background(), a.ClientID())
		return err == nil && record != nil && record.State == store.StateActive
	}, 2*time.Second, 20*time.Millisecond)

	env.broker.Publish(events.Notification{Type: events.TypeNewContentAvailable, Identity: "s1"})
	select {
	case n := <-received:
		require.Equal(t, "s1", n.Identity)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestReadEvents(t *testing.T) {
	body := strings.NewReader(": connected\n\nevent: a\ndata: one\ndata: two\n\n: keep-alive\n\ndata:bare\n\nevent: empty\n\n")
	type event struct{ name, data string }
	var got []event
	readEvents(body, func(name, data string) {
		got = append(got, event{name, data})
	})
	require.Equal(t, []event{{"a", "one\ntwo"}, {"", "bare"}}, got)
}

func TestStatusErrorWithoutMessage(t *testing.T) {
	err := &StatusError{Code: http.StatusTeapot}
	require.Equal(t, "coordinator returned 418", err.Error())
	require.False(t, errors.Is(err, agent.ErrUnavailable))
}
