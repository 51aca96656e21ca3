// Package graph provides the workflow graph data model and execution engine.
package graph

import (
	"context"
	"maps"
	"time"
)

// State is the mutable state bag passed through graph execution.
// Tools read and write it; the engine never interprets its contents.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Tool is the function signature for a node's state transformer.
// It receives the current state and returns the next state.
type Tool func(ctx context.Context, state State) (State, error)

// ToolResolver looks up tools by name. The engine never constructs
// or mutates the registry behind it.
type ToolResolver interface {
	Resolve(name string) (Tool, bool)
}

// Node is one executable step in a workflow graph. At most one of
// Next, Branch, Loop may be set; none of them means the run ends
// after the node's tool executes.
type Node struct {
	ID   string `json:"id"`
	Tool string `json:"tool"`

	Next   string  `json:"next,omitempty"`
	Branch *Branch `json:"branch,omitempty"`
	Loop   *Loop   `json:"loop,omitempty"`

	// Retries is the number of additional tool invocation attempts
	// before the step is declared failed. Zero means fail on the
	// first error.
	Retries int `json:"retries,omitempty"`
}

// Branch routes to Then when the predicate holds, otherwise to Else.
type Branch struct {
	When Predicate `json:"when"`
	Then string    `json:"then,omitempty"`
	Else string    `json:"else,omitempty"`
}

// Loop re-enters Back (the node itself when empty) while Until is
// false, and exits to Then once it becomes true. The predicate is
// evaluated fresh after every tool invocation.
type Loop struct {
	Until Predicate `json:"until"`
	Back  string    `json:"back,omitempty"`
	Then  string    `json:"then,omitempty"`
}

// RunStatus represents the status of a graph run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepRecord is one entry in a run's trace: the node executed, the
// tool invoked, the chosen next node and a snapshot of state taken
// immediately after the tool ran.
type StepRecord struct {
	Step       int    `json:"step"`
	Node       string `json:"node"`
	Tool       string `json:"tool"`
	NextNode   string `json:"next_node"`
	StateAfter State  `json:"state_after"`
}

// Run is one execution instance of a graph against an initial state.
type Run struct {
	RunID     string       `json:"run_id"`
	GraphID   string       `json:"graph_id"`
	Status    RunStatus    `json:"status"`
	State     State        `json:"state"`
	Trace     []StepRecord `json:"trace"`
	Error     string       `json:"error,omitempty"`
	ErrorCode string       `json:"error_code,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// StreamEvent is emitted during graph execution for real-time observability.
type StreamEvent struct {
	Type      string    `json:"type"` // node_start, node_end, edge_transition, completed, failed
	RunID     string    `json:"run_id"`
	Node      string    `json:"node,omitempty"`
	NextNode  string    `json:"next_node,omitempty"`
	State     State     `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
