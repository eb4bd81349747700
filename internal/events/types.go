// Package events provides a small event bus for server lifecycle notifications.
package events

import "time"

// RuntimeState represents the lifecycle state of the server subprocess.
type RuntimeState string

const (
	StateStarting RuntimeState = "starting"
	StateRunning  RuntimeState = "running"
	StateStopping RuntimeState = "stopping"
	StateStopped  RuntimeState = "stopped"
	StateCrashed  RuntimeState = "crashed"
	StateError    RuntimeState = "error"
)

// Event is the interface implemented by all event types.
type Event interface {
	EventType() string
	Timestamp() time.Time
}

type base struct {
	At time.Time
}

func (b base) Timestamp() time.Time { return b.At }

// LastExit records how the subprocess exited.
type LastExit struct {
	Code   int
	Signal string
	At     time.Time
}

// StatusChangedEvent is published when the subprocess changes runtime state.
type StatusChangedEvent struct {
	base
	SessionID string
	State     RuntimeState
	PID       int
	LastExit  *LastExit
	Err       string
}

func (StatusChangedEvent) EventType() string { return "status_changed" }

// NewStatusChangedEvent creates a status change event.
func NewStatusChangedEvent(sessionID string, state RuntimeState, pid int, lastExit *LastExit, errMsg string) StatusChangedEvent {
	return StatusChangedEvent{
		base:      base{At: time.Now()},
		SessionID: sessionID,
		State:     state,
		PID:       pid,
		LastExit:  lastExit,
		Err:       errMsg,
	}
}

// LogReceivedEvent is published for each stderr line the subprocess emits.
type LogReceivedEvent struct {
	base
	SessionID string
	Line      string
}

func (LogReceivedEvent) EventType() string { return "log_received" }

// NewLogReceivedEvent creates a log event.
func NewLogReceivedEvent(sessionID, line string) LogReceivedEvent {
	return LogReceivedEvent{base: base{At: time.Now()}, SessionID: sessionID, Line: line}
}

// ToolsUpdatedEvent is published when the tool catalog is replaced after discovery.
type ToolsUpdatedEvent struct {
	base
	SessionID string
	Names     []string
}

func (ToolsUpdatedEvent) EventType() string { return "tools_updated" }

// NewToolsUpdatedEvent creates a catalog update event.
func NewToolsUpdatedEvent(sessionID string, names []string) ToolsUpdatedEvent {
	return ToolsUpdatedEvent{base: base{At: time.Now()}, SessionID: sessionID, Names: names}
}
