package agent

import (
	"context"
	"errors"
	"log"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
)

// serve answers coordinator messages until the inbox closes or the agent
// stops.
func (a *Agent) serve(inbox protocol.Inbox) {
	defer a.wg.Done()
	messages := inbox.Messages()
	for {
		select {
		case <-a.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			a.handle(msg)
		}
	}
}

func (a *Agent) handle(msg protocol.Message) {
	clientID := a.ClientID()
	ctx, cancel := context.WithTimeout(a.ctx, a.callTimeout)
	defer cancel()

	switch msg.Kind {
	case protocol.MessagePing:
		_, err := callWithTimeout(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.coordinator.Pong(ctx, clientID, a.now())
		})
		if err != nil {
			log.Printf("agent: pong failed client_id=%s: %v", clientID, err)
		}
	case protocol.MessageFocus:
		outcome := a.focus()
		_, err := callWithTimeout(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.coordinator.ReportFocus(ctx, clientID, msg.RequestID, outcome)
		})
		if err != nil {
			log.Printf("agent: focus report failed client_id=%s request_id=%s: %v", clientID, msg.RequestID, err)
		}
	default:
		log.Printf("agent: ignoring message kind=%s client_id=%s", msg.Kind, clientID)
	}
}

func (a *Agent) focus() protocol.FocusOutcome {
	if a.shell == nil {
		return protocol.FocusOutcomeFailed
	}
	err := a.shell.Focus()
	switch {
	case err == nil:
		return protocol.FocusOutcomeFocused
	case errors.Is(err, ErrFocusBlocked):
		return protocol.FocusOutcomeBlocked
	default:
		return protocol.FocusOutcomeFailed
	}
}
