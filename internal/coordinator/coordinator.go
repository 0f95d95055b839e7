// Package coordinator owns the registry of live windows and arbitrates
// duplicate-window requests.
//
// All registry reads and writes run on a single goroutine started by Run.
// Callers reach it through a FIFO mailbox, so two arbitrations for the same
// identity can never interleave and no window ever mutates another window's
// record directly.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

const (
	DefaultQueueCapacity   = 256
	DefaultLivenessTimeout = 5 * time.Second
	DefaultFocusTimeout    = time.Second
)

var (
	ErrStopped             = errors.New("coordinator stopped")
	ErrQueueFull           = errors.New("coordinator queue full")
	ErrUnknownWindow       = errors.New("unknown window")
	ErrUnknownRequest      = errors.New("unknown focus request")
	ErrInvalidRegistration = errors.New("invalid registration")
)

type Option func(*Coordinator)

func WithLivenessTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.livenessTimeout = timeout
		}
	}
}

func WithFocusTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.focusTimeout = timeout
		}
	}
}

func WithQueueCapacity(capacity int) Option {
	return func(c *Coordinator) {
		if capacity > 0 {
			c.queueCapacity = capacity
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

type command struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

type Coordinator struct {
	store           store.Store
	tracer          trace.Tracer
	now             func() time.Time
	livenessTimeout time.Duration
	focusTimeout    time.Duration
	queueCapacity   int

	queue   chan command
	started atomic.Bool
	running chan struct{}
	stopped chan struct{}

	// Owned by the Run goroutine.
	links     map[string]*Link
	awaiting  map[string]int64
	pingRound int64

	// Focus answers bypass the mailbox because the loop is blocked waiting
	// for them.
	focusMu      sync.Mutex
	pendingFocus map[string]pendingFocus
}

func New(st store.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:           st,
		tracer:          noop.NewTracerProvider().Tracer("coordinator"),
		now:             func() time.Time { return time.Now().UTC() },
		livenessTimeout: DefaultLivenessTimeout,
		focusTimeout:    DefaultFocusTimeout,
		queueCapacity:   DefaultQueueCapacity,
		running:         make(chan struct{}),
		stopped:         make(chan struct{}),
		links:           map[string]*Link{},
		awaiting:        map[string]int64{},
		pendingFocus:    map[string]pendingFocus{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	// The queue exists before Run so early callers wait (and time out)
	// instead of failing outright.
	c.queue = make(chan command, c.queueCapacity)
	return c
}

// Run processes mailbox commands until ctx is cancelled. It can only be
// called once; later calls return immediately.
func (c *Coordinator) Run(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	close(c.running)
	defer func() {
		close(c.stopped)
		for clientID, link := range c.links {
			link.close()
			delete(c.links, clientID)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-c.queue:
			if err := cmd.ctx.Err(); err != nil {
				cmd.done <- err
				continue
			}
			cmd.done <- cmd.fn(cmd.ctx)
		}
	}
}

// do runs fn on the coordinator goroutine and waits for its result.
func (c *Coordinator) do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	select {
	case c.queue <- command{ctx: ctx, fn: fn, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

// submit enqueues fn without waiting for it to run.
func (c *Coordinator) submit(fn func(ctx context.Context) error) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.queue <- command{ctx: context.Background(), fn: fn, done: make(chan error, 1)}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Running is closed once Run has started.
func (c *Coordinator) Running() <-chan struct{} {
	return c.running
}

// Stopped is closed once Run has returned.
func (c *Coordinator) Stopped() <-chan struct{} {
	return c.stopped
}
