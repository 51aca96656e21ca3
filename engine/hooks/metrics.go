package hooks

import (
	"context"
	"sync"
	"time"
)

// StepMetric records timing data for a single tool invocation.
type StepMetric struct {
	Node      string        `json:"node"`
	Tool      string        `json:"tool"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     bool          `json:"error,omitempty"`
}

// ToolSummary aggregates metrics for one tool.
type ToolSummary struct {
	Calls      int           `json:"calls"`
	Errors     int           `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
	MaxLatency time.Duration `json:"max_latency"`
}

// MetricsSummary aggregates metrics across all steps.
type MetricsSummary struct {
	TotalSteps  int                    `json:"total_steps"`
	TotalErrors int                    `json:"total_errors"`
	AvgLatency  time.Duration          `json:"avg_latency"`
	MaxLatency  time.Duration          `json:"max_latency"`
	PerTool     map[string]ToolSummary `json:"per_tool"`
}

// MetricsHook provides structured observability for step execution.
// It tracks per-tool latency and error rates with thread-safe counters.
type MetricsHook struct {
	mu      sync.Mutex
	steps   []StepMetric
	pending map[string]time.Time // run id + node -> start time
}

// NewMetricsHook creates a new metrics hook.
func NewMetricsHook() *MetricsHook {
	return &MetricsHook{
		pending: make(map[string]time.Time),
	}
}

func (h *MetricsHook) Before(_ context.Context, evt *Event) error {
	if evt.Type != EventStepBefore {
		return nil
	}
	h.mu.Lock()
	h.pending[metricsKey(evt)] = time.Now()
	h.mu.Unlock()
	return nil
}

func (h *MetricsHook) After(_ context.Context, evt *Event) error {
	if evt.Type != EventStepAfter {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := metricsKey(evt)
	started, ok := h.pending[key]
	if !ok {
		started = time.Now()
	}
	delete(h.pending, key)

	h.steps = append(h.steps, StepMetric{
		Node:      evt.Node,
		Tool:      evt.Tool,
		StartedAt: started,
		Duration:  time.Since(started),
		Error:     evt.Error != nil,
	})
	return nil
}

// Summary aggregates all recorded steps.
func (h *MetricsHook) Summary() MetricsSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	sum := MetricsSummary{PerTool: make(map[string]ToolSummary)}
	var total time.Duration
	perToolTotal := make(map[string]time.Duration)

	for _, m := range h.steps {
		sum.TotalSteps++
		if m.Error {
			sum.TotalErrors++
		}
		total += m.Duration
		if m.Duration > sum.MaxLatency {
			sum.MaxLatency = m.Duration
		}

		ts := sum.PerTool[m.Tool]
		ts.Calls++
		if m.Error {
			ts.Errors++
		}
		if m.Duration > ts.MaxLatency {
			ts.MaxLatency = m.Duration
		}
		perToolTotal[m.Tool] += m.Duration
		sum.PerTool[m.Tool] = ts
	}

	if sum.TotalSteps > 0 {
		sum.AvgLatency = total / time.Duration(sum.TotalSteps)
	}
	for tool, ts := range sum.PerTool {
		if ts.Calls > 0 {
			ts.AvgLatency = perToolTotal[tool] / time.Duration(ts.Calls)
			sum.PerTool[tool] = ts
		}
	}
	return sum
}

func metricsKey(evt *Event) string {
	return evt.RunID + "/" + evt.Node
}
