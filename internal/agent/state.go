package agent

import "time"

type State string

const (
	StateIdle                State = "idle"
	StateStarting            State = "starting"
	StateAwaitingArbitration State = "awaiting-arbitration"
	StateActive              State = "active"
	StateTerminating         State = "terminating"
	StateClosed              State = "closed"
	StateStandalone          State = "standalone"
	StateUncoordinated       State = "uncoordinated"
)

// Events that drive state transitions.
const (
	EventStart                   = "start"
	EventStandalone              = "standalone"
	EventCoordinationUnavailable = "coordination-unavailable"
	EventArbitrationRequested    = "arbitration-requested"
	EventArbitrationTimeout      = "arbitration-timeout"
	EventProceed                 = "proceed"
	EventTerminate               = "terminate"
	EventCloseConfirmed          = "close-confirmed"
	EventCloseDenied             = "close-denied"
	EventStop                    = "stop"
)

type Transition struct {
	From  State
	To    State
	Event string
	At    time.Time
}

var allowedTransitions = map[State][]State{
	StateIdle:                {StateStarting, StateClosed},
	StateStarting:            {StateAwaitingArbitration, StateStandalone, StateUncoordinated},
	StateAwaitingArbitration: {StateActive, StateTerminating, StateUncoordinated},
	StateActive:              {StateClosed},
	StateTerminating:         {StateClosed},
	StateStandalone:          {StateClosed},
	StateUncoordinated:       {StateClosed},
}

func canTransition(from, to State) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}
