// Package pubsub provides a generic publish/subscribe fan-out used to push
// session snapshots, log entries and supervisor events to their observers.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// SnapshotEvent carries a fresh copy of some observable state.
	SnapshotEvent EventType = "snapshot"
	// EntryEvent carries one appended record, such as a log line.
	EntryEvent EventType = "entry"
	// SignalEvent carries a named notification relayed from elsewhere.
	SignalEvent EventType = "signal"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
