// Package tools provides the built-in text summarization tools and the
// example workflow graph wired to them.
package tools

import (
	"context"
	"strings"

	"github.com/stepflow-ai/stepflow/engine/graph"
	"github.com/stepflow-ai/stepflow/engine/tool"
)

const (
	defaultMaxChunkSize     = 300
	defaultSummaryCharLimit = 300
	chunkSummaryLen         = 80
)

// Register installs all built-in tools on the registry. Call once at startup.
func Register(reg *tool.Registry) {
	reg.Register("split_text", SplitText)
	reg.Register("generate_summaries", GenerateSummaries)
	reg.Register("merge_summaries", MergeSummaries)
	reg.Register("refine_summary", RefineSummary)
}

// SplitText splits state["text"] into chunks of at most
// state["max_chunk_size"] characters (default 300).
func SplitText(_ context.Context, state graph.State) (graph.State, error) {
	text, _ := state["text"].(string)
	maxChunk := intValue(state["max_chunk_size"], defaultMaxChunkSize)

	out := state.Clone()
	out["chunks"] = splitIntoChunks(text, maxChunk)
	return out, nil
}

// GenerateSummaries produces a naive summary per chunk: the first 80
// characters, with an ellipsis when truncated.
func GenerateSummaries(_ context.Context, state graph.State) (graph.State, error) {
	chunks := stringSlice(state["chunks"])
	summaries := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len(c) > chunkSummaryLen {
			summaries = append(summaries, strings.TrimSpace(c[:chunkSummaryLen])+"...")
		} else {
			summaries = append(summaries, strings.TrimSpace(c))
		}
	}

	out := state.Clone()
	out["summaries"] = summaries
	return out, nil
}

// MergeSummaries joins the chunk summaries into a single summary and
// records its length.
func MergeSummaries(_ context.Context, state graph.State) (graph.State, error) {
	merged := strings.Join(stringSlice(state["summaries"]), " ")

	out := state.Clone()
	out["summary"] = merged
	out["summary_length"] = len(merged)
	return out, nil
}

// RefineSummary trims the summary strictly to state["summary_char_limit"]
// (default 300), guaranteeing summary_length <= summary_char_limit. The
// effective limit is written back so transition predicates can read it.
func RefineSummary(_ context.Context, state graph.State) (graph.State, error) {
	summary, _ := state["summary"].(string)
	limit := intValue(state["summary_char_limit"], defaultSummaryCharLimit)

	if len(summary) > limit {
		summary = strings.TrimRight(summary[:limit], " ")
	}

	out := state.Clone()
	out["summary"] = summary
	out["summary_length"] = len(summary)
	out["summary_char_limit"] = limit
	return out, nil
}

// ExampleGraph builds the summarization-and-refinement workflow:
// split -> summarize -> merge -> refine, with refine looping back to
// merge until the summary fits within the character limit.
func ExampleGraph() *graph.Graph {
	g := graph.New("summarization_and_refinement", "split")
	g.AddNode("split", "split_text", "summarize")
	g.AddNode("summarize", "generate_summaries", "merge")
	g.AddNode("merge", "merge_summaries", "refine")
	g.AddLoopNode("refine", "refine_summary", &graph.Loop{
		Until: graph.Predicate{Key: "summary_length", Op: graph.OpLE, ValueFrom: "summary_char_limit"},
		Back:  "merge",
	})
	return g
}

// splitIntoChunks is deliberately naive: split on sentence-ish markers,
// then regroup up to the size limit.
func splitIntoChunks(text string, maxChunkSize int) []string {
	flat := strings.ReplaceAll(text, "\n", " ")
	var chunks []string
	current := ""
	for _, part := range strings.Split(flat, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		candidate := strings.TrimSpace(current + " " + part)
		if len(candidate) <= maxChunkSize {
			current = candidate
			continue
		}
		if current != "" {
			chunks = append(chunks, current)
		}
		current = part
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

func intValue(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

func stringSlice(v any) []string {
	switch vs := v.(type) {
	case []string:
		return vs
	case []any:
		out := make([]string, 0, len(vs))
		for _, item := range vs {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
