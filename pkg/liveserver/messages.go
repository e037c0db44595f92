package liveserver

import "time"

// Event types pushed to subscribers.
const (
	EventDecision   = "decision"
	EventTransition = "transition"
	EventHalted     = "halted"
	EventKillSwitch = "kill_switch"
	EventPosition   = "position"
)

// Envelope is the wire format for every pushed event.
type Envelope struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// NewEnvelope stamps an event with the current time.
func NewEnvelope(eventType string, data interface{}) Envelope {
	return Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// DecisionEvent mirrors one cycle's outcome.
type DecisionEvent struct {
	SnapshotID string  `json:"snapshot_id"`
	Proposal   string  `json:"proposal"`
	Confidence float64 `json:"confidence"`
	Decision   string  `json:"decision"`
	Reason     string  `json:"reason,omitempty"`
	Armed      bool    `json:"armed"`
}

// TransitionEvent reports a coordinator state change.
type TransitionEvent struct {
	State      string `json:"state"`
	PositionID string `json:"position_id,omitempty"`
	HaltReason string `json:"halt_reason,omitempty"`
}
