package graph

import (
	"errors"
	"fmt"
)

// Stable error codes recorded on failed runs and returned over the API.
const (
	CodeGraphIntegrity = "graph_integrity"
	CodeToolNotFound   = "tool_not_found"
	CodeToolExecution  = "tool_execution"
	CodeStepLimit      = "step_limit_exceeded"
	CodeInternal       = "internal"
)

// GraphIntegrityError indicates the run walked into a node id that does
// not exist, or a transition rule that selected no target.
type GraphIntegrityError struct {
	Node   string
	Reason string
}

func (e *GraphIntegrityError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("graph integrity: %s", e.Reason)
	}
	return fmt.Sprintf("graph integrity at node %q: %s", e.Node, e.Reason)
}

// ToolNotFoundError indicates a node references a tool name absent from
// the registry.
type ToolNotFoundError struct {
	Node string
	Tool string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("node %q: tool %q not registered", e.Node, e.Tool)
}

// ToolExecutionError wraps a failure raised by a tool, carrying the node
// and tool context. The run's state is not updated for a failed step.
type ToolExecutionError struct {
	Node string
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("node %q: tool %q: %v", e.Node, e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// StepLimitError indicates the defensive per-run step bound was reached.
// It distinguishes a workflow that never converges from broken wiring.
type StepLimitError struct {
	Limit int
}

func (e *StepLimitError) Error() string {
	return fmt.Sprintf("step limit of %d exceeded", e.Limit)
}

// CodeOf maps an execution error to its stable code.
func CodeOf(err error) string {
	var (
		integrity *GraphIntegrityError
		notFound  *ToolNotFoundError
		toolExec  *ToolExecutionError
		stepLimit *StepLimitError
	)
	switch {
	case errors.As(err, &integrity):
		return CodeGraphIntegrity
	case errors.As(err, &notFound):
		return CodeToolNotFound
	case errors.As(err, &toolExec):
		return CodeToolExecution
	case errors.As(err, &stepLimit):
		return CodeStepLimit
	default:
		return CodeInternal
	}
}
