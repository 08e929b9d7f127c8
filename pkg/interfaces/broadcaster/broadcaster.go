package broadcaster

import "context"

// Event carries request state-transition payloads destined for downstream
// consumers (notification dispatcher, permission layer, websockets).
type Event struct {
	Topic   string
	Payload any
}

// Broadcaster pushes transition events to interested consumers. This module
// emits events after commit; it never delivers notifications itself.
type Broadcaster interface {
	Broadcast(ctx context.Context, event Event) error
}

// Nop broadcaster discards events.
type Nop struct{}

var _ Broadcaster = (*Nop)(nil)

func (n *Nop) Broadcast(ctx context.Context, event Event) error { return nil }
