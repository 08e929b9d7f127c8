package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transition describes one terminal state change of a request. Transitions
// are emitted after commit; consumers (notification dispatcher, permission
// layer) subscribe to them, this module never delivers notifications or
// grants itself.
type Transition struct {
	RequestID  uuid.UUID `json:"request_id"`
	PolicyID   uuid.UUID `json:"policy_id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
}
