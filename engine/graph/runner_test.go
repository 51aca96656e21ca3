package graph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/stepflow-ai/stepflow/engine/hooks"
)

// mapResolver is a minimal ToolResolver for tests.
type mapResolver map[string]Tool

func (m mapResolver) Resolve(name string) (Tool, bool) {
	fn, ok := m[name]
	return fn, ok
}

// markVisit returns a tool that appends the node's name to state["visited"].
func markVisit(name string) Tool {
	return func(_ context.Context, state State) (State, error) {
		out := state.Clone()
		visited, _ := out["visited"].([]string)
		out["visited"] = append(visited, name)
		return out, nil
	}
}

func linearGraph() *Graph {
	g := New("linear", "a")
	g.AddNode("a", "mark_a", "b")
	g.AddNode("b", "mark_b", "c")
	g.AddNode("c", "mark_c", EndNode)
	return g
}

func TestLinearGraphVisitsEachNodeOnce(t *testing.T) {
	tools := mapResolver{
		"mark_a": markVisit("a"),
		"mark_b": markVisit("b"),
		"mark_c": markVisit("c"),
	}
	runner := NewRunner(tools, Options{})
	run := runner.Run(context.Background(), linearGraph(), State{})

	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
	want := []string{"a", "b", "c"}
	if got, _ := run.State["visited"].([]string); !reflect.DeepEqual(got, want) {
		t.Errorf("visited = %v, want %v", got, want)
	}
	if len(run.Trace) != 3 {
		t.Fatalf("trace length = %d, want 3", len(run.Trace))
	}
	wantNext := []string{"b", "c", EndNode}
	for i, rec := range run.Trace {
		if rec.Step != i+1 {
			t.Errorf("trace[%d].Step = %d, want %d", i, rec.Step, i+1)
		}
		if rec.NextNode != wantNext[i] {
			t.Errorf("trace[%d].NextNode = %q, want %q", i, rec.NextNode, wantNext[i])
		}
	}
	if run.Trace[len(run.Trace)-1].NextNode != EndNode {
		t.Errorf("last trace entry next = %q, want end sentinel", run.Trace[len(run.Trace)-1].NextNode)
	}
}

func TestLoopUntilConverges(t *testing.T) {
	// Shrinks value by 3 each invocation: 10 -> 7 -> 4 -> 1. The run
	// must converge in ceil((10-1)/3) = 3 steps.
	tools := mapResolver{
		"shrink": func(_ context.Context, state State) (State, error) {
			out := state.Clone()
			out["value"] = out["value"].(int) - 3
			return out, nil
		},
	}
	g := New("converge", "shrink")
	g.AddLoopNode("shrink", "shrink", &Loop{
		Until: Predicate{Key: "value", Op: OpLE, Value: 1},
	})

	runner := NewRunner(tools, Options{})
	run := runner.Run(context.Background(), g, State{"value": 10})

	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
	if len(run.Trace) != 3 {
		t.Errorf("trace length = %d, want 3", len(run.Trace))
	}
	if v := run.State["value"].(int); v > 1 {
		t.Errorf("final value = %d, want <= 1", v)
	}
}

func TestLoopBackTarget(t *testing.T) {
	// refine loops back to merge until done; verifies the designated
	// loop-back node is re-entered rather than the loop node itself.
	count := 0
	tools := mapResolver{
		"merge": markVisit("merge"),
		"refine": func(_ context.Context, state State) (State, error) {
			count++
			out := state.Clone()
			out["done"] = count >= 3
			return out, nil
		},
	}
	g := New("loopback", "merge")
	g.AddNode("merge", "merge", "refine")
	g.AddLoopNode("refine", "refine", &Loop{
		Until: Predicate{Key: "done", Op: OpEQ, Value: true},
		Back:  "merge",
	})

	run := NewRunner(tools, Options{}).Run(context.Background(), g, State{})
	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
	if visited, _ := run.State["visited"].([]string); len(visited) != 3 {
		t.Errorf("merge visited %d times, want 3", len(visited))
	}
}

func TestMissingToolFailsRun(t *testing.T) {
	g := New("missing-tool", "a")
	g.AddNode("a", "nonexistent", EndNode)

	run := NewRunner(mapResolver{}, Options{}).Run(context.Background(), g, State{})
	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeToolNotFound {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeToolNotFound)
	}
	if len(run.Trace) != 0 {
		t.Errorf("trace length = %d, want 0 (no partial trace treated as success)", len(run.Trace))
	}
}

func TestEdgeToMissingNodeFailsWhenTaken(t *testing.T) {
	tools := mapResolver{"mark_a": markVisit("a")}
	g := New("dangling", "a")
	g.AddNode("a", "mark_a", "ghost")

	// The dangling target passes validation; it fails when taken.
	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	run := NewRunner(tools, Options{}).Run(context.Background(), g, State{})
	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeGraphIntegrity {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeGraphIntegrity)
	}
	if len(run.Trace) != 1 {
		t.Errorf("trace length = %d, want 1 (the successful step before the bad edge)", len(run.Trace))
	}
}

func TestStepLimitEnforcedExactly(t *testing.T) {
	tools := mapResolver{
		"spin": func(_ context.Context, state State) (State, error) {
			out := state.Clone()
			out["n"] = out["n"].(int) + 1
			return out, nil
		},
	}
	g := New("runaway", "spin")
	g.AddLoopNode("spin", "spin", &Loop{
		// Never satisfied: n only grows.
		Until: Predicate{Key: "n", Op: OpLT, Value: 0},
	})

	const limit = 7
	run := NewRunner(tools, Options{StepLimit: limit}).Run(context.Background(), g, State{"n": 0})

	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeStepLimit {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeStepLimit)
	}
	if len(run.Trace) != limit {
		t.Errorf("trace length = %d, want exactly %d", len(run.Trace), limit)
	}
}

func TestRunCompletingAtStepLimitSucceeds(t *testing.T) {
	tools := mapResolver{
		"mark_a": markVisit("a"),
		"mark_b": markVisit("b"),
		"mark_c": markVisit("c"),
	}
	run := NewRunner(tools, Options{StepLimit: 3}).Run(context.Background(), linearGraph(), State{})
	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
}

func TestToolFailurePreservesStateAndTrace(t *testing.T) {
	boom := errors.New("boom")
	tools := mapResolver{
		"prepare": func(_ context.Context, state State) (State, error) {
			out := state.Clone()
			out["x"] = 1
			return out, nil
		},
		"explode": func(_ context.Context, state State) (State, error) {
			// Mutate the received state before failing; the run must
			// not observe the partial write.
			state["x"] = 99
			return nil, boom
		},
	}
	g := New("failing", "prepare")
	g.AddNode("prepare", "prepare", "explode")
	g.AddNode("explode", "explode", EndNode)

	run := NewRunner(tools, Options{}).Run(context.Background(), g, State{})

	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeToolExecution {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeToolExecution)
	}
	if len(run.Trace) != 1 || run.Trace[0].Node != "prepare" {
		t.Fatalf("trace = %+v, want the single prepare step", run.Trace)
	}
	if x := run.State["x"]; x != 1 {
		t.Errorf("state x = %v, want 1 (last successful step's post-state)", x)
	}
	if run.Trace[0].StateAfter["x"] != 1 {
		t.Errorf("trace state x = %v, want 1 (unchanged by the failing attempt)", run.Trace[0].StateAfter["x"])
	}
}

func TestConditionalBranch(t *testing.T) {
	tools := mapResolver{
		"noop":   func(_ context.Context, state State) (State, error) { return state, nil },
		"mark_t": markVisit("then"),
		"mark_e": markVisit("else"),
	}
	newBranchGraph := func() *Graph {
		g := New("branching", "decide")
		g.AddBranchNode("decide", "noop", &Branch{
			When: Predicate{Key: "score", Op: OpGE, Value: 10},
			Then: "high",
			Else: "low",
		})
		g.AddNode("high", "mark_t", EndNode)
		g.AddNode("low", "mark_e", EndNode)
		return g
	}

	tests := []struct {
		name  string
		score int
		want  string
	}{
		{"predicate holds", 15, "then"},
		{"predicate fails", 5, "else"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := NewRunner(tools, Options{}).Run(context.Background(), newBranchGraph(), State{"score": tt.score})
			if run.Status != RunStatusCompleted {
				t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
			}
			visited, _ := run.State["visited"].([]string)
			if len(visited) != 1 || visited[0] != tt.want {
				t.Errorf("visited = %v, want [%s]", visited, tt.want)
			}
		})
	}
}

func TestBranchWithoutMatchingTargetFails(t *testing.T) {
	tools := mapResolver{
		"noop": func(_ context.Context, state State) (State, error) { return state, nil },
	}
	g := New("half-branch", "decide")
	g.AddBranchNode("decide", "noop", &Branch{
		When: Predicate{Key: "ok", Op: OpEQ, Value: true},
		Then: "done",
		// No Else: an unmatched predicate is a wiring error, not an
		// implicit end.
	})
	g.AddNode("done", "noop", EndNode)

	run := NewRunner(tools, Options{}).Run(context.Background(), g, State{"ok": false})
	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeGraphIntegrity {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeGraphIntegrity)
	}
}

func TestPredicateOnMissingKeyFailsRun(t *testing.T) {
	tools := mapResolver{
		"noop": func(_ context.Context, state State) (State, error) { return state, nil },
	}
	g := New("missing-key", "decide")
	g.AddBranchNode("decide", "noop", &Branch{
		When: Predicate{Key: "absent", Op: OpEQ, Value: 1},
		Then: "done",
		Else: "done",
	})
	g.AddNode("done", "noop", EndNode)

	run := NewRunner(tools, Options{}).Run(context.Background(), g, State{})
	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeGraphIntegrity {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeGraphIntegrity)
	}
}

func TestRetriesRecoverFlakyTool(t *testing.T) {
	attempts := 0
	tools := mapResolver{
		"flaky": func(_ context.Context, state State) (State, error) {
			attempts++
			if attempts < 3 {
				return nil, fmt.Errorf("transient failure %d", attempts)
			}
			return state, nil
		},
	}
	g := New("flaky", "a")
	g.Nodes["a"] = &Node{ID: "a", Tool: "flaky", Next: EndNode, Retries: 2}

	runner := NewRunner(tools, Options{Retry: hooks.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})
	run := runner.Run(context.Background(), g, State{})

	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetriesExhaustedFailsRun(t *testing.T) {
	attempts := 0
	tools := mapResolver{
		"flaky": func(_ context.Context, _ State) (State, error) {
			attempts++
			return nil, errors.New("still broken")
		},
	}
	g := New("flaky", "a")
	g.Nodes["a"] = &Node{ID: "a", Tool: "flaky", Next: EndNode, Retries: 1}

	runner := NewRunner(tools, Options{Retry: hooks.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}})
	run := runner.Run(context.Background(), g, State{})

	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.ErrorCode != CodeToolExecution {
		t.Errorf("error code = %q, want %q", run.ErrorCode, CodeToolExecution)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestDeterministicRuns(t *testing.T) {
	tools := mapResolver{
		"mark_a": markVisit("a"),
		"mark_b": markVisit("b"),
		"mark_c": markVisit("c"),
	}
	g := linearGraph()
	runner := NewRunner(tools, Options{})

	first := runner.Run(context.Background(), g, State{"seed": 42})
	second := runner.Run(context.Background(), g, State{"seed": 42})

	if first.Status != second.Status {
		t.Errorf("statuses differ: %s vs %s", first.Status, second.Status)
	}
	if !reflect.DeepEqual(first.State, second.State) {
		t.Errorf("final states differ: %v vs %v", first.State, second.State)
	}
	if len(first.Trace) != len(second.Trace) {
		t.Fatalf("trace lengths differ: %d vs %d", len(first.Trace), len(second.Trace))
	}
	for i := range first.Trace {
		if first.Trace[i].Node != second.Trace[i].Node || first.Trace[i].NextNode != second.Trace[i].NextNode {
			t.Errorf("trace[%d] differs: %+v vs %+v", i, first.Trace[i], second.Trace[i])
		}
	}
}

func TestCanceledContextStopsAtStepBoundary(t *testing.T) {
	tools := mapResolver{"mark_a": markVisit("a")}
	g := New("canceled", "a")
	g.AddNode("a", "mark_a", EndNode)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := NewRunner(tools, Options{}).Run(ctx, g, State{})
	if run.Status != RunStatusFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if len(run.Trace) != 0 {
		t.Errorf("trace length = %d, want 0 (no step after cancellation)", len(run.Trace))
	}
}

func TestEventsEmittedAndClosed(t *testing.T) {
	tools := mapResolver{
		"mark_a": markVisit("a"),
		"mark_b": markVisit("b"),
		"mark_c": markVisit("c"),
	}
	events := make(chan StreamEvent, 64)
	runner := NewRunner(tools, Options{Events: events})
	run := runner.Run(context.Background(), linearGraph(), State{})

	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}

	var types []string
	for evt := range events { // channel must be closed by the runner
		types = append(types, evt.Type)
	}
	if len(types) == 0 {
		t.Fatal("no events emitted")
	}
	if types[0] != "node_start" {
		t.Errorf("first event = %q, want node_start", types[0])
	}
	if types[len(types)-1] != "completed" {
		t.Errorf("last event = %q, want completed", types[len(types)-1])
	}
}

func TestHooksObserveSteps(t *testing.T) {
	tools := mapResolver{
		"mark_a": markVisit("a"),
		"mark_b": markVisit("b"),
		"mark_c": markVisit("c"),
	}
	collector := &hooks.CollectorHook{}
	runner := NewRunner(tools, Options{Hooks: hooks.Chain{collector}})
	run := runner.Run(context.Background(), linearGraph(), State{})

	if run.Status != RunStatusCompleted {
		t.Fatalf("status = %s, want completed (error: %s)", run.Status, run.Error)
	}
	// One before and one after event per step.
	if len(collector.Events) != 6 {
		t.Errorf("hook events = %d, want 6", len(collector.Events))
	}
}

func TestInspectionAfterCompletionIsStable(t *testing.T) {
	tools := mapResolver{
		"mark_a": markVisit("a"),
		"mark_b": markVisit("b"),
		"mark_c": markVisit("c"),
	}
	run := NewRunner(tools, Options{}).Run(context.Background(), linearGraph(), State{})

	snapshot := make([]StepRecord, len(run.Trace))
	copy(snapshot, run.Trace)
	state := run.State.Clone()

	if !reflect.DeepEqual(snapshot, run.Trace) {
		t.Error("trace changed between reads")
	}
	if !reflect.DeepEqual(state, run.State.Clone()) {
		t.Error("state changed between reads")
	}
}
