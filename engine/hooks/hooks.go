// Package hooks provides a middleware system for intercepting workflow execution events.
package hooks

import (
	"context"
	"log"
)

// EventType identifies the kind of execution event.
type EventType string

const (
	EventStepBefore EventType = "step.before"
	EventStepAfter  EventType = "step.after"
	EventRunStart   EventType = "run.start"
	EventRunEnd     EventType = "run.end"
)

// Event carries data about an execution event.
type Event struct {
	Type     EventType      `json:"type"`
	RunID    string         `json:"run_id,omitempty"`
	Node     string         `json:"node,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Error    error          `json:"-"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Hook intercepts execution events for logging, metrics, or modification.
type Hook interface {
	// Before is called before the event executes. Return an error to abort.
	Before(ctx context.Context, evt *Event) error
	// After is called after the event executes.
	After(ctx context.Context, evt *Event) error
}

// Chain runs multiple hooks in sequence.
type Chain []Hook

func (c Chain) Before(ctx context.Context, evt *Event) error {
	for _, h := range c {
		if err := h.Before(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) After(ctx context.Context, evt *Event) error {
	// Run in reverse order for proper unwinding
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].After(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// CollectorHook records every event it sees, primarily for tests.
type CollectorHook struct {
	Events []Event
}

func (h *CollectorHook) Before(_ context.Context, evt *Event) error {
	h.Events = append(h.Events, *evt)
	return nil
}

func (h *CollectorHook) After(_ context.Context, evt *Event) error {
	h.Events = append(h.Events, *evt)
	return nil
}

// LoggingHook writes step events to the given logger.
type LoggingHook struct {
	Logger *log.Logger
}

func (h *LoggingHook) Before(_ context.Context, evt *Event) error {
	h.Logger.Printf("run=%s %s node=%s tool=%s", evt.RunID, evt.Type, evt.Node, evt.Tool)
	return nil
}

func (h *LoggingHook) After(_ context.Context, evt *Event) error {
	if evt.Error != nil {
		h.Logger.Printf("run=%s %s node=%s tool=%s error=%v", evt.RunID, evt.Type, evt.Node, evt.Tool, evt.Error)
		return nil
	}
	h.Logger.Printf("run=%s %s node=%s tool=%s", evt.RunID, evt.Type, evt.Node, evt.Tool)
	return nil
}
