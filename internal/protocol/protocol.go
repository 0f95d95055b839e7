// Package protocol holds the message and result types exchanged between the
// coordinator and the agents running inside windows. Both the in-process
// link and the HTTP/SSE transport carry these values unchanged.
package protocol

import (
	"errors"
	"time"

	"github.com/Keyring-Network/keyring-gavryn/window-coordinator/internal/store"
)

// ErrUnavailable means the coordinator could not be reached at all.
var ErrUnavailable = errors.New("coordinator unavailable")

// Arbitration reasons returned by the coordinator.
const (
	ReasonNoExistingWindow             = "no-existing-window"
	ReasonNoIdentity                   = "no-identity"
	ReasonExistingWindowFocused        = "existing-window-focused"
	ReasonFocusBlockedFallbackCloseNew = "focus-blocked-fallback-close-new"
	ReasonFocusFailedPreferExisting    = "focus-failed-prefer-existing"
)

// Reasons produced locally by an agent when the coordinator is not consulted
// or does not answer.
const (
	ReasonStandaloneMode          = "standalone-mode"
	ReasonCoordinationUnavailable = "coordination-unavailable"
	ReasonArbitrationTimeout      = "arbitration-timeout"
)

// Focus failure reasons.
const (
	FocusWindowNotFound        = "window-not-found"
	FocusBlockedByHostSecurity = "focus-blocked-by-host-security"
	FocusFailedOther           = "focus-failed-other"
)

type MessageKind string

const (
	MessagePing  MessageKind = "ping"
	MessageFocus MessageKind = "focus"
)

// Message is sent by the coordinator to a single window.
type Message struct {
	Kind      MessageKind `json:"kind"`
	ClientID  string      `json:"client_id"`
	RequestID string      `json:"request_id,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

// FocusOutcome is a window's answer to a focus message.
type FocusOutcome string

const (
	FocusOutcomeFocused FocusOutcome = "focused"
	FocusOutcomeBlocked FocusOutcome = "blocked"
	FocusOutcomeFailed  FocusOutcome = "failed"
)

type FocusResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

type ArbitrationRequest struct {
	ClientID string     `json:"client_id,omitempty"`
	Identity string     `json:"identity"`
	Role     store.Role `json:"role"`
	URL      string     `json:"url,omitempty"`
}

type ArbitrationResult struct {
	ClientID         string `json:"client_id"`
	Success          bool   `json:"success"`
	Reason           string `json:"reason"`
	Terminate        bool   `json:"terminate"`
	ExistingClientID string `json:"existing_client_id,omitempty"`
}

// Inbox is a window's receiving end of its coordinator link. Messages is
// closed when the link is dropped by either side.
type Inbox interface {
	Messages() <-chan Message
	Close()
}
