package models

import "time"

// WebSocket event types.
const (
	EventProviderHealth    = "provider_health"
	EventCircuitTransition = "circuit_transition"
)

// ProviderHealth is one provider's entry in a ProviderHealthEvent.
type ProviderHealth struct {
	Status   string `json:"status"`
	Failures int    `json:"failures,omitempty"`
}

// ProviderHealthEvent is sent once when a WebSocket connects.
type ProviderHealthEvent struct {
	Type      string                    `json:"type"`
	Providers map[string]ProviderHealth `json:"providers"`
}

// CircuitTransitionEvent is pushed whenever a provider's circuit changes state.
type CircuitTransitionEvent struct {
	Type     string    `json:"type"`
	Provider string    `json:"provider"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	At       time.Time `json:"at"`
}
