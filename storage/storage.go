// Package storage defines the persistence interfaces for Stepflow.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/stepflow-ai/stepflow/engine/graph"
)

// ErrNotFound is returned when a graph or run id does not exist.
var ErrNotFound = errors.New("not found")

// Event is an append-only ledger entry recording one execution event of
// a run, in execution order.
type Event struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store is the primary persistence interface. All adapters must implement this.
type Store interface {
	// Graphs (immutable once saved)
	SaveGraph(ctx context.Context, g *graph.Graph) error
	GetGraph(ctx context.Context, id string) (*graph.Graph, error)
	ListGraphs(ctx context.Context) ([]*graph.Graph, error)

	// Runs
	CreateRun(ctx context.Context, r *graph.Run) error
	UpdateRun(ctx context.Context, r *graph.Run) error
	GetRun(ctx context.Context, id string) (*graph.Run, error)
	ListRuns(ctx context.Context, graphID string, limit, offset int) ([]*graph.Run, error)

	// Event ledger (append-only)
	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, runID string, afterSeq int64) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
