package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
)

type TerminationOutcome string

const (
	TerminationClosed               TerminationOutcome = "closed"
	TerminationBlockedFallbackShown TerminationOutcome = "blocked-fallback-shown"
	// TerminationUnknownAssumeClosed means history navigation was accepted
	// but the host cannot confirm the window left.
	TerminationUnknownAssumeClosed TerminationOutcome = "unknown-assume-closed"
)

const closePollInterval = 25 * time.Millisecond

// terminate closes the superseded window in stages: close, then history
// back, then a manual-close message. Each stage waits CloseStepTimeout.
func (a *Agent) terminate(ctx context.Context, reason string, opts Options) TerminationOutcome {
	if a.shell == nil {
		return TerminationUnknownAssumeClosed
	}

	if err := a.shell.Close(); err != nil {
		log.Printf("agent: close refused client_id=%s: %v", a.ClientID(), err)
	} else if closed, _ := a.waitClosed(ctx, opts.CloseStepTimeout); closed {
		return TerminationClosed
	}

	backErr := a.shell.Back()
	if backErr != nil {
		log.Printf("agent: history back refused client_id=%s: %v", a.ClientID(), backErr)
	} else {
		closed, known := a.waitClosed(ctx, opts.CloseStepTimeout)
		if closed {
			return TerminationClosed
		}
		if !known {
			return TerminationUnknownAssumeClosed
		}
	}

	a.shell.ShowMessage(manualCloseMessage(reason, opts.NewerWindowHint))
	return TerminationBlockedFallbackShown
}

// waitClosed polls the shell until the window is gone or timeout passes.
// known is false when the host cannot report the window state.
func (a *Agent) waitClosed(ctx context.Context, timeout time.Duration) (closed bool, known bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(min(closePollInterval, timeout))
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.observeClosed()
		case <-deadline.C:
			return a.observeClosed()
		case <-poll.C:
			if closed, known := a.observeClosed(); closed || !known {
				return closed, known
			}
		}
	}
}

func (a *Agent) observeClosed() (closed bool, known bool) {
	open, err := a.shell.IsOpen()
	if errors.Is(err, ErrStateUnknown) {
		return false, false
	}
	if err != nil {
		return false, true
	}
	return !open, true
}

func manualCloseMessage(reason, hint string) string {
	if hint == "" {
		hint = "This app is already open in another window."
	}
	switch reason {
	case protocol.ReasonFocusBlockedFallbackCloseNew, protocol.ReasonFocusFailedPreferExisting:
		return fmt.Sprintf("%s Switch to it manually and close this tab. (%s)", hint, reason)
	default:
		return fmt.Sprintf("%s Please close this tab. (%s)", hint, reason)
	}
}
