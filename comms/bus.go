package comms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBus is a thread-safe in-process event bus.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry // subscriberID -> handlers
	history  []*Event
	maxHist  int
	nextID   int
}

type handlerEntry struct {
	id      int
	handler Handler
}

// NewInMemoryBus creates an InMemoryBus with a 1000-event history cap.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]handlerEntry),
		maxHist:  1000,
	}
}

// Publish records ev and hands it to every subscriber. Handlers run on the
// caller's goroutine, outside the bus lock.
func (b *InMemoryBus) Publish(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > b.maxHist {
		b.history = b.history[len(b.history)-b.maxHist:]
	}

	// Collect handlers to invoke outside the lock
	var targets []Handler
	for _, entries := range b.handlers {
		for _, e := range entries {
			targets = append(targets, e.handler)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, h := range targets {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("publish %s: %d handler error(s): %w", ev.Type, len(errs), errs[0])
	}
	return nil
}

// Subscribe registers a handler under subscriberID.
// The returned function unsubscribes the handler.
func (b *InMemoryBus) Subscribe(subscriberID string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers[subscriberID] = append(b.handlers[subscriberID], handlerEntry{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.handlers[subscriberID]
		filtered := entries[:0]
		for _, e := range entries {
			if e.id != id {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(b.handlers, subscriberID)
		} else {
			b.handlers[subscriberID] = filtered
		}
	}
}

// History returns the most recent limit events in chronological order.
// A non-positive limit returns the whole retained history.
func (b *InMemoryBus) History(limit int) ([]*Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if limit > 0 && len(b.history) > limit {
		start = len(b.history) - limit
	}
	out := make([]*Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out, nil
}
