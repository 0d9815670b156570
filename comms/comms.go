// Package comms provides the bus that carries state-change notifications
// from the timer core to presentation adapters.
package comms

import (
	"context"
	"time"
)

// EventType identifies the kind of notification.
type EventType string

const (
	TypeSnapshot       EventType = "snapshot"        // task list or timer state changed
	TypeTick           EventType = "tick"            // running timer's displayed time advanced
	TypeTaskCompleted  EventType = "task_completed"  // a task was completed; drives completion effects
	TypePersistWarning EventType = "persist_warning" // durable write failed, state kept in memory
)

// Event is a single notification.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler processes an event delivered to a subscriber.
type Handler func(ctx context.Context, ev *Event) error

// Bus fans events out to subscribers.
type Bus interface {
	// Publish delivers ev to every subscriber. ID and Timestamp are filled
	// in when empty.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers handler under subscriberID.
	// Returns an unsubscribe function.
	Subscribe(subscriberID string, handler Handler) (unsubscribe func())

	// History returns up to limit recent events, oldest first.
	History(limit int) ([]*Event, error)
}
