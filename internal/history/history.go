package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventExit  EventType = "exit"
)

// Event records one instance lifecycle transition.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	InstanceID string    `json:"instance_id"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
}

// Sink is a destination for lifecycle events. Implementations must be
// safe for concurrent use; the supervisor's exit observers call Send
// from independent goroutines.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
