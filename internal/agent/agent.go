// Package agent runs inside each window. It asks the coordinator whether the
// window may proceed, answers liveness and focus messages, and closes the
// window when it has been superseded by an existing one.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/events"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

const (
	DefaultArbitrationTimeout = 3 * time.Second
	DefaultCloseStepTimeout   = 500 * time.Millisecond
	DefaultCallTimeout        = 2 * time.Second
)

var (
	ErrUnavailable    = protocol.ErrUnavailable
	ErrFocusBlocked   = errors.New("focus blocked by host")
	ErrStateUnknown   = errors.New("window state cannot be observed")
	ErrAlreadyStarted = errors.New("agent already started")
)

// Coordinator is the agent's view of the coordinator, whether in process or
// over HTTP.
type Coordinator interface {
	Arbitrate(ctx context.Context, req protocol.ArbitrationRequest) (protocol.ArbitrationResult, error)
	Connect(ctx context.Context, clientID string) (protocol.Inbox, error)
	Pong(ctx context.Context, clientID string, at time.Time) error
	ReportFocus(ctx context.Context, clientID, requestID string, outcome protocol.FocusOutcome) error
	Unregister(ctx context.Context, clientID string) error
}

// Shell is the host environment of one window.
type Shell interface {
	// Close asks the host to close the window. The host may silently refuse.
	Close() error
	// IsOpen reports whether the window is still open. ErrStateUnknown means
	// the host cannot tell.
	IsOpen() (bool, error)
	// Back navigates the window's history back one step.
	Back() error
	// Focus raises the window. ErrFocusBlocked means host policy refused.
	Focus() error
	ShowMessage(text string)
}

type Notifier interface {
	Subscribe(ctx context.Context, filter events.Filter) <-chan events.Notification
}

type Options struct {
	// Standalone skips coordination entirely.
	Standalone         bool
	URL                string
	ClientID           string
	ArbitrationTimeout time.Duration
	CloseStepTimeout   time.Duration
	// NewerWindowHint replaces the default manual-close instruction.
	NewerWindowHint string
}

type Decision struct {
	Proceed          bool               `json:"proceed"`
	Reason           string             `json:"reason"`
	ClientID         string             `json:"client_id"`
	ExistingClientID string             `json:"existing_client_id,omitempty"`
	Termination      TerminationOutcome `json:"termination,omitempty"`
}

type Option func(*Agent)

func WithNotifier(notifier Notifier) Option {
	return func(a *Agent) {
		a.notifier = notifier
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithCallTimeout bounds pong, focus report and unregister calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout > 0 {
			a.callTimeout = timeout
		}
	}
}

type Agent struct {
	coordinator Coordinator
	shell       Shell
	notifier    Notifier
	now         func() time.Time
	callTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	transitions []Transition
	clientID    string
	identity    string
	inbox       protocol.Inbox
	registered  bool
}

// New builds an agent. A nil coordinator makes every Start resolve to an
// uncoordinated window.
func New(coordinator Coordinator, shell Shell, opts ...Option) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		coordinator: coordinator,
		shell:       shell,
		now:         time.Now,
		callTimeout: DefaultCallTimeout,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Start begins coordination for this window. It always returns within the
// arbitration timeout and only reports Proceed=false after the coordinator
// has named an existing window for the same identity.
func (a *Agent) Start(ctx context.Context, identity string, role store.Role, opts Options) (Decision, error) {
	if opts.ArbitrationTimeout <= 0 {
		opts.ArbitrationTimeout = DefaultArbitrationTimeout
	}
	if opts.CloseStepTimeout <= 0 {
		opts.CloseStepTimeout = DefaultCloseStepTimeout
	}
	clientID := strings.TrimSpace(opts.ClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return Decision{}, ErrAlreadyStarted
	}
	a.clientID = clientID
	a.identity = store.NormalizeIdentity(identity)
	a.mu.Unlock()
	a.transition(StateStarting, EventStart)

	decision := Decision{Proceed: true, ClientID: clientID}
	if opts.Standalone {
		a.transition(StateStandalone, EventStandalone)
		decision.Reason = protocol.ReasonStandaloneMode
		return decision, nil
	}
	if a.coordinator == nil {
		a.transition(StateUncoordinated, EventCoordinationUnavailable)
		decision.Reason = protocol.ReasonCoordinationUnavailable
		return decision, nil
	}

	a.transition(StateAwaitingArbitration, EventArbitrationRequested)
	arbCtx, cancel := context.WithTimeout(ctx, opts.ArbitrationTimeout)
	defer cancel()

	inbox, err := callWithTimeout(arbCtx, func(ctx context.Context) (protocol.Inbox, error) {
		return a.coordinator.Connect(ctx, clientID)
	})
	if err != nil {
		return a.proceedWithout(decision, err), nil
	}
	a.mu.Lock()
	a.inbox = inbox
	a.mu.Unlock()
	a.wg.Add(1)
	go a.serve(inbox)

	result, err := callWithTimeout(arbCtx, func(ctx context.Context) (protocol.ArbitrationResult, error) {
		return a.coordinator.Arbitrate(ctx, protocol.ArbitrationRequest{
			ClientID: clientID,
			Identity: identity,
			Role:     role,
			URL:      opts.URL,
		})
	})
	if err != nil {
		return a.proceedWithout(decision, err), nil
	}

	decision.Reason = result.Reason
	decision.ExistingClientID = result.ExistingClientID
	if !result.Terminate {
		a.mu.Lock()
		a.registered = true
		a.mu.Unlock()
		a.transition(StateActive, EventProceed)
		return decision, nil
	}

	a.transition(StateTerminating, EventTerminate)
	a.detach()
	decision.Proceed = false
	decision.Termination = a.terminate(ctx, result.Reason, opts)
	if decision.Termination == TerminationBlockedFallbackShown {
		a.transition(StateClosed, EventCloseDenied)
	} else {
		a.transition(StateClosed, EventCloseConfirmed)
	}
	a.cancel()
	a.wg.Wait()
	return decision, nil
}

// proceedWithout resolves a Start whose coordinator call failed. A timeout
// keeps the link, if any, so the window can still answer pings.
func (a *Agent) proceedWithout(decision Decision, err error) Decision {
	if errors.Is(err, context.DeadlineExceeded) {
		log.Printf("agent: arbitration timed out client_id=%s", decision.ClientID)
		a.mu.Lock()
		a.registered = a.inbox != nil
		a.mu.Unlock()
		a.transition(StateActive, EventArbitrationTimeout)
		decision.Reason = protocol.ReasonArbitrationTimeout
		return decision
	}
	if !errors.Is(err, ErrUnavailable) {
		log.Printf("agent: coordination failed client_id=%s: %v", decision.ClientID, err)
	}
	a.detach()
	a.transition(StateUncoordinated, EventCoordinationUnavailable)
	decision.Reason = protocol.ReasonCoordinationUnavailable
	return decision
}

// Stop unregisters the window and stops message handling and notification
// handlers. It is safe to call more than once.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	clientID := a.clientID
	registered := a.registered
	a.registered = false
	a.mu.Unlock()

	a.cancel()
	a.detach()

	var err error
	if registered && a.coordinator != nil {
		callCtx, cancel := context.WithTimeout(ctx, a.callTimeout)
		_, err = callWithTimeout(callCtx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.coordinator.Unregister(ctx, clientID)
		})
		cancel()
		if err != nil {
			err = fmt.Errorf("unregister window: %w", err)
		}
	}
	a.wg.Wait()

	a.mu.Lock()
	state := a.state
	a.mu.Unlock()
	if state != StateClosed {
		a.transition(StateClosed, EventStop)
	}
	return err
}

func (a *Agent) ClientID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clientID
}

func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) Transitions() []Transition {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Transition(nil), a.transitions...)
}

func (a *Agent) transition(to State, event string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	from := a.state
	if !canTransition(from, to) {
		log.Printf("agent: ignoring transition %s -> %s on %s", from, to, event)
		return
	}
	a.state = to
	a.transitions = append(a.transitions, Transition{From: from, To: to, Event: event, At: a.now()})
}

func (a *Agent) detach() {
	a.mu.Lock()
	inbox := a.inbox
	a.inbox = nil
	a.mu.Unlock()
	if inbox != nil {
		inbox.Close()
	}
}

// callWithTimeout returns when fn does or when ctx ends, whichever is first.
// fn keeps running in the background if it ignores ctx.
func callWithTimeout[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		done <- outcome{value: value, err: err}
	}()
	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
