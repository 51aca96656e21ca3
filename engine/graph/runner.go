package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stepflow-ai/stepflow/engine/hooks"
)

// DefaultStepLimit bounds runs whose options leave StepLimit unset. The
// limit is a defensive guard against non-converging loop-until
// workflows, not part of the declared workflow semantics.
const DefaultStepLimit = 100

// Options configures a Runner.
type Options struct {
	// StepLimit is the maximum number of steps per run. Zero or
	// negative selects DefaultStepLimit.
	StepLimit int

	// Hooks are invoked around every tool invocation.
	Hooks hooks.Chain

	// Events, if set, receives execution events. Sends never block;
	// events are dropped when the channel is full. The channel is
	// closed when Execute returns.
	Events chan<- StreamEvent

	// Retry computes backoff for nodes declaring Retries > 0.
	Retry hooks.Retry
}

// Runner executes graphs against a tool resolver. One Runner may drive
// many runs, but each run's state is owned exclusively by the goroutine
// calling Execute for it.
type Runner struct {
	tools ToolResolver
	opts  Options
}

// NewRunner creates a runner backed by the given tool resolver.
func NewRunner(tools ToolResolver, opts Options) *Runner {
	if opts.StepLimit <= 0 {
		opts.StepLimit = DefaultStepLimit
	}
	return &Runner{tools: tools, opts: opts}
}

// NewRun creates a run record for the graph in the running state.
func NewRun(g *Graph, initial State) *Run {
	now := time.Now().UTC()
	return &Run{
		RunID:     uuid.NewString(),
		GraphID:   g.ID,
		Status:    RunStatusRunning,
		State:     initial.Clone(),
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Run executes the graph from its start node against the initial state
// and returns the terminal run record. Errors are captured into the
// record (status failed plus error detail) rather than returned; the
// last known state and trace stay available for diagnosis.
func (r *Runner) Run(ctx context.Context, g *Graph, initial State) *Run {
	run := NewRun(g, initial)
	r.Execute(ctx, g, run)
	return run
}

// Execute drives the run to a terminal status, one node at a time.
func (r *Runner) Execute(ctx context.Context, g *Graph, run *Run) {
	if r.opts.Events != nil {
		defer close(r.opts.Events)
	}

	current := g.Start
	for run.Status == RunStatusRunning {
		// Cancellation is observed only between steps so a tool never
		// partially mutates state without a recorded trace entry.
		if err := ctx.Err(); err != nil {
			r.fail(run, current, err)
			return
		}
		if len(run.Trace) >= r.opts.StepLimit {
			r.fail(run, current, &StepLimitError{Limit: r.opts.StepLimit})
			return
		}

		node, ok := g.Nodes[current]
		if !ok {
			r.fail(run, current, &GraphIntegrityError{Node: current, Reason: "node not found"})
			return
		}
		tool, ok := r.tools.Resolve(node.Tool)
		if !ok {
			r.fail(run, current, &ToolNotFoundError{Node: node.ID, Tool: node.Tool})
			return
		}

		r.emit(StreamEvent{Type: "node_start", RunID: run.RunID, Node: node.ID, State: run.State})

		evt := &hooks.Event{Type: hooks.EventStepBefore, RunID: run.RunID, Node: node.ID, Tool: node.Tool}
		if err := r.opts.Hooks.Before(ctx, evt); err != nil {
			r.fail(run, current, err)
			return
		}

		newState, err := r.invoke(ctx, node, tool, run.State)

		evt.Type = hooks.EventStepAfter
		evt.Error = err
		if herr := r.opts.Hooks.After(ctx, evt); herr != nil && err == nil {
			err = herr
		}
		if err != nil {
			// The failing attempt leaves the last successful state in place.
			r.fail(run, current, &ToolExecutionError{Node: node.ID, Tool: node.Tool, Err: err})
			return
		}
		if newState != nil {
			run.State = newState
		}

		next, err := nextNode(node, run.State)
		if err != nil {
			r.fail(run, current, &GraphIntegrityError{Node: node.ID, Reason: err.Error()})
			return
		}

		run.Trace = append(run.Trace, StepRecord{
			Step:       len(run.Trace) + 1,
			Node:       node.ID,
			Tool:       node.Tool,
			NextNode:   next,
			StateAfter: run.State.Clone(),
		})
		run.UpdatedAt = time.Now().UTC()
		r.emit(StreamEvent{Type: "node_end", RunID: run.RunID, Node: node.ID, NextNode: next, State: run.State})

		if next == EndNode {
			run.Status = RunStatusCompleted
			run.UpdatedAt = time.Now().UTC()
			r.emit(StreamEvent{Type: "completed", RunID: run.RunID, State: run.State})
			return
		}
		r.emit(StreamEvent{Type: "edge_transition", RunID: run.RunID, Node: node.ID, NextNode: next})
		current = next
	}
}

// invoke runs the tool, retrying per the node's retry budget. Each
// attempt gets its own copy of the state so a failed attempt cannot
// leak partial writes into the run.
func (r *Runner) invoke(ctx context.Context, node *Node, tool Tool, state State) (State, error) {
	var (
		out State
		err error
	)
	for attempt := 0; ; attempt++ {
		out, err = tool(ctx, state.Clone())
		if err == nil || attempt >= node.Retries {
			return out, err
		}
		select {
		case <-time.After(r.opts.Retry.Delay(attempt + 1)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Runner) fail(run *Run, node string, err error) {
	run.Status = RunStatusFailed
	run.Error = err.Error()
	run.ErrorCode = CodeOf(err)
	run.UpdatedAt = time.Now().UTC()
	r.emit(StreamEvent{Type: "failed", RunID: run.RunID, Node: node, Error: run.Error})
}

func (r *Runner) emit(evt StreamEvent) {
	if r.opts.Events == nil {
		return
	}
	evt.Timestamp = time.Now().UTC()
	select {
	case r.opts.Events <- evt:
	default:
	}
}
