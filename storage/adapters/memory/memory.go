// Package memory provides a process-local, mutex-guarded Store adapter.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/stepflow-ai/stepflow/engine/graph"
	"github.com/stepflow-ai/stepflow/storage"
)

// Store implements storage.Store with in-memory maps. Values are copied
// on the way in and out so callers never share mutable state with the
// store.
type Store struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
	runs   map[string]*graph.Run
	events map[string][]*storage.Event // run id -> ordered events
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		graphs: make(map[string]*graph.Graph),
		runs:   make(map[string]*graph.Run),
		events: make(map[string][]*storage.Event),
	}
}

// Migrate is a no-op for the in-memory adapter.
func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// --- Graphs ---

func (s *Store) SaveGraph(_ context.Context, g *graph.Graph) error {
	cp, err := cloneJSON(g)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[g.ID] = cp
	return nil
}

func (s *Store) GetGraph(_ context.Context, id string) (*graph.Graph, error) {
	s.mu.RLock()
	g, ok := s.graphs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneJSON(g)
}

func (s *Store) ListGraphs(_ context.Context) ([]*graph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*graph.Graph, 0, len(s.graphs))
	for _, g := range s.graphs {
		cp, err := cloneJSON(g)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// --- Runs ---

func (s *Store) CreateRun(_ context.Context, r *graph.Run) error {
	return s.putRun(r)
}

func (s *Store) UpdateRun(_ context.Context, r *graph.Run) error {
	s.mu.RLock()
	_, ok := s.runs[r.RunID]
	s.mu.RUnlock()
	if !ok {
		return storage.ErrNotFound
	}
	return s.putRun(r)
}

func (s *Store) putRun(r *graph.Run) error {
	cp, err := cloneJSON(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.RunID] = cp
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*graph.Run, error) {
	s.mu.RLock()
	r, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneJSON(r)
}

func (s *Store) ListRuns(_ context.Context, graphID string, limit, offset int) ([]*graph.Run, error) {
	s.mu.RLock()
	all := make([]*graph.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if graphID != "" && r.GraphID != graphID {
			continue
		}
		all = append(all, r)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]*graph.Run, 0, len(all))
	for _, r := range all {
		cp, err := cloneJSON(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// --- Events ---

func (s *Store) AppendEvent(_ context.Context, e *storage.Event) error {
	cp, err := cloneJSON(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.RunID] = append(s.events[e.RunID], cp)
	return nil
}

func (s *Store) ListEvents(_ context.Context, runID string, afterSeq int64) ([]*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Event
	for _, e := range s.events[runID] {
		if e.Seq <= afterSeq {
			continue
		}
		cp, err := cloneJSON(e)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// cloneJSON deep-copies a value through its JSON form, matching how the
// sqlite adapter round-trips the same data.
func cloneJSON[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	cp := new(T)
	if err := json.Unmarshal(data, cp); err != nil {
		return nil, err
	}
	return cp, nil
}
