// Package history exports local server lifecycle events to analytics
// stores. A Recorder buffers events produced on the tick goroutine and hands
// them to a Sink from a background worker.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	// EventTransition is a local server lifecycle state change.
	EventTransition EventType = "transition"
	// EventShutdown is recorded when the engine shutdown finalizes.
	EventShutdown EventType = "shutdown"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Tick       uint64    `json:"tick"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	SavePath   string    `json:"save_path,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
