package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
)

// DefaultStartGrace is how long a LocalClient waits for a coordinator that
// has not been started yet before reporting it unavailable.
const DefaultStartGrace = 250 * time.Millisecond

// LocalClient lets agents in the same process talk to a Coordinator without
// going through HTTP.
type LocalClient struct {
	coordinator *Coordinator
	startGrace  time.Duration
}

func NewLocalClient(c *Coordinator) *LocalClient {
	return &LocalClient{coordinator: c, startGrace: DefaultStartGrace}
}

// awaitRunning returns ErrUnavailable when the coordinator is not running
// within the start grace.
func (l *LocalClient) awaitRunning(ctx context.Context) error {
	select {
	case <-l.coordinator.Running():
		return nil
	default:
	}
	timer := time.NewTimer(l.startGrace)
	defer timer.Stop()
	select {
	case <-l.coordinator.Running():
		return nil
	case <-timer.C:
		return protocol.ErrUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *LocalClient) Arbitrate(ctx context.Context, req protocol.ArbitrationRequest) (protocol.ArbitrationResult, error) {
	if err := l.awaitRunning(ctx); err != nil {
		return protocol.ArbitrationResult{}, err
	}
	result, err := l.coordinator.Arbitrate(ctx, Registration{
		ClientID: req.ClientID,
		Identity: req.Identity,
		Role:     req.Role,
		URL:      req.URL,
	})
	return result, unavailable(err)
}

func (l *LocalClient) Connect(ctx context.Context, clientID string) (protocol.Inbox, error) {
	if err := l.awaitRunning(ctx); err != nil {
		return nil, err
	}
	link, err := l.coordinator.Connect(ctx, clientID)
	if err != nil {
		return nil, unavailable(err)
	}
	return link, nil
}

func (l *LocalClient) Pong(ctx context.Context, clientID string, at time.Time) error {
	return unavailable(l.coordinator.Pong(ctx, clientID, at))
}

func (l *LocalClient) ReportFocus(ctx context.Context, clientID, requestID string, outcome protocol.FocusOutcome) error {
	return l.coordinator.ReportFocus(clientID, requestID, outcome)
}

func (l *LocalClient) Unregister(ctx context.Context, clientID string) error {
	return unavailable(l.coordinator.Unregister(ctx, clientID))
}

func unavailable(err error) error {
	if errors.Is(err, ErrStopped) {
		return protocol.ErrUnavailable
	}
	return err
}
