package testutil

import (
	"sync"
	"time"

	"github.com/Bigsy/mcptap/internal/events"
)

// EventCollector is a thread-safe event recorder for test assertions.
// Subscribe its Handler to a bus, then query what was observed.
type EventCollector struct {
	mu     sync.Mutex
	events []events.Event
	states map[string][]events.RuntimeState
	cond   *sync.Cond
}

// NewEventCollector creates a new EventCollector.
func NewEventCollector() *EventCollector {
	ec := &EventCollector{
		states: make(map[string][]events.RuntimeState),
	}
	ec.cond = sync.NewCond(&ec.mu)
	return ec
}

// Handler is suitable for bus.Subscribe.
func (c *EventCollector) Handler(e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = append(c.events, e)
	if evt, ok := e.(events.StatusChangedEvent); ok {
		c.states[evt.SessionID] = append(c.states[evt.SessionID], evt.State)
	}
	c.cond.Broadcast()
}

// Events returns all collected events.
func (c *EventCollector) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.Event, len(c.events))
	copy(result, c.events)
	return result
}

// StatesFor returns the runtime states observed for a session id.
func (c *EventCollector) StatesFor(sessionID string) []events.RuntimeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]events.RuntimeState, len(c.states[sessionID]))
	copy(result, c.states[sessionID])
	return result
}

// WaitForState blocks until the session reaches the given state or the
// timeout elapses. Returns whether the state was observed.
func (c *EventCollector) WaitForState(sessionID string, want events.RuntimeState, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	timer := time.AfterFunc(timeout, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer timer.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		for _, s := range c.states[sessionID] {
			if s == want {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		c.cond.Wait()
	}
}
