package coordinator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/protocol"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/tracing"
)

type pendingFocus struct {
	clientID string
	answer   chan protocol.FocusOutcome
}

// Arbitrate registers the window and decides whether it may proceed. The
// whole decision runs as one mailbox command, so arbitrations are strictly
// sequential and a second window for the same identity always sees the first.
func (c *Coordinator) Arbitrate(ctx context.Context, reg Registration) (protocol.ArbitrationResult, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.arbitrate")
	defer span.End()
	span.SetAttributes(
		attribute.String(tracing.AttrIdentity, store.NormalizeIdentity(reg.Identity)),
		attribute.String(tracing.AttrRole, string(reg.Role)),
	)

	var result protocol.ArbitrationResult
	err := c.do(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.arbitrate(ctx, reg)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return protocol.ArbitrationResult{}, err
	}
	span.SetAttributes(
		attribute.String(tracing.AttrClientID, result.ClientID),
		attribute.String(tracing.AttrReason, result.Reason),
		attribute.String(tracing.AttrExistingClientID, result.ExistingClientID),
	)
	log.Printf("coordinator: arbitration %s", describe(result))
	return result, nil
}

// RequestFocus asks the window to raise itself and waits up to the focus
// timeout for its answer.
func (c *Coordinator) RequestFocus(ctx context.Context, clientID string) (protocol.FocusResult, error) {
	var result protocol.FocusResult
	err := c.do(ctx, func(ctx context.Context) error {
		result = c.requestFocus(ctx, clientID)
		return nil
	})
	return result, err
}

// ReportFocus delivers a window's answer to a focus message. It does not go
// through the mailbox because the coordinator goroutine is the one waiting.
func (c *Coordinator) ReportFocus(clientID, requestID string, outcome protocol.FocusOutcome) error {
	c.focusMu.Lock()
	pending, ok := c.pendingFocus[requestID]
	if ok && pending.clientID == clientID {
		delete(c.pendingFocus, requestID)
	}
	c.focusMu.Unlock()
	if !ok || pending.clientID != clientID {
		return ErrUnknownRequest
	}
	pending.answer <- outcome
	return nil
}

func (c *Coordinator) arbitrate(ctx context.Context, reg Registration) (protocol.ArbitrationResult, error) {
	record, err := c.register(ctx, reg)
	if err != nil {
		return protocol.ArbitrationResult{}, err
	}
	result := protocol.ArbitrationResult{ClientID: record.ClientID}
	if record.Identity == "" {
		result.Reason = protocol.ReasonNoIdentity
		return result, nil
	}

	// Every pass either decides or evicts one unreachable record, so the loop
	// ends once the identity's stale records are gone.
	for {
		duplicate, err := c.findDuplicate(ctx, record.Identity, record.ClientID)
		if err != nil {
			return protocol.ArbitrationResult{}, err
		}
		if duplicate == nil {
			result.Reason = protocol.ReasonNoExistingWindow
			return result, nil
		}

		focus := c.requestFocus(ctx, duplicate.ClientID)
		if err := ctx.Err(); err != nil {
			// A caller that gave up keeps its record.
			return protocol.ArbitrationResult{}, err
		}
		switch {
		case focus.Success:
			result.Success = true
			result.Reason = protocol.ReasonExistingWindowFocused
		case focus.Reason == protocol.FocusBlockedByHostSecurity:
			result.Success = true
			result.Reason = protocol.ReasonFocusBlockedFallbackCloseNew
		case focus.Reason == protocol.FocusWindowNotFound:
			log.Printf("coordinator: evicting unreachable window client_id=%s identity=%s", duplicate.ClientID, duplicate.Identity)
			if err := c.unregister(ctx, duplicate.ClientID); err != nil {
				return protocol.ArbitrationResult{}, err
			}
			continue
		default:
			result.Success = false
			result.Reason = protocol.ReasonFocusFailedPreferExisting
		}

		// The existing window stays canonical; the new one is superseded.
		result.Terminate = true
		result.ExistingClientID = duplicate.ClientID
		if err := c.unregister(ctx, record.ClientID); err != nil {
			return protocol.ArbitrationResult{}, err
		}
		return result, nil
	}
}

func (c *Coordinator) requestFocus(ctx context.Context, clientID string) protocol.FocusResult {
	link := c.liveLink(clientID)
	if link == nil {
		return protocol.FocusResult{Reason: protocol.FocusWindowNotFound}
	}

	requestID := uuid.NewString()
	answer := make(chan protocol.FocusOutcome, 1)
	c.focusMu.Lock()
	c.pendingFocus[requestID] = pendingFocus{clientID: clientID, answer: answer}
	c.focusMu.Unlock()
	defer func() {
		c.focusMu.Lock()
		delete(c.pendingFocus, requestID)
		c.focusMu.Unlock()
	}()

	sent := link.send(protocol.Message{
		Kind:      protocol.MessageFocus,
		ClientID:  clientID,
		RequestID: requestID,
		SentAt:    c.now(),
	})
	if !sent {
		if link.isDetached() {
			return protocol.FocusResult{Reason: protocol.FocusWindowNotFound}
		}
		return protocol.FocusResult{Reason: protocol.FocusFailedOther}
	}

	timer := time.NewTimer(c.focusTimeout)
	defer timer.Stop()
	select {
	case outcome := <-answer:
		return focusResult(outcome)
	case <-link.Detached():
		return protocol.FocusResult{Reason: protocol.FocusWindowNotFound}
	case <-timer.C:
		log.Printf("coordinator: focus request timed out client_id=%s request_id=%s", clientID, requestID)
		return protocol.FocusResult{Reason: protocol.FocusFailedOther}
	case <-ctx.Done():
		return protocol.FocusResult{Reason: protocol.FocusFailedOther}
	}
}

func focusResult(outcome protocol.FocusOutcome) protocol.FocusResult {
	switch outcome {
	case protocol.FocusOutcomeFocused:
		return protocol.FocusResult{Success: true}
	case protocol.FocusOutcomeBlocked:
		return protocol.FocusResult{Reason: protocol.FocusBlockedByHostSecurity}
	default:
		return protocol.FocusResult{Reason: protocol.FocusFailedOther}
	}
}

// describe is used in log lines.
func describe(result protocol.ArbitrationResult) string {
	return fmt.Sprintf("client_id=%s reason=%s terminate=%t existing=%s", result.ClientID, result.Reason, result.Terminate, result.ExistingClientID)
}
