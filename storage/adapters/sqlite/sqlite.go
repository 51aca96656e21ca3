// Package sqlite provides a SQLite-backed Store adapter for Stepflow.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/stepflow-ai/stepflow/engine/graph"
	"github.com/stepflow-ai/stepflow/storage"
)

// Store implements storage.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database at the given path (":memory:" keeps it
// in-process only).
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A second connection to :memory: would see a separate empty
	// database, so keep the pool at one connection.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Migrate creates all required tables.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graphs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			start_node TEXT NOT NULL,
			nodes TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			graph_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'running',
			state TEXT,
			trace TEXT,
			error TEXT,
			error_code TEXT,
			started_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_graph ON runs(graph_id, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// --- Graphs ---

func (s *Store) SaveGraph(ctx context.Context, g *graph.Graph) error {
	nodes, err := json.Marshal(g.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (id, name, start_node, nodes, created_at) VALUES (?,?,?,?,?)`,
		g.ID, g.Name, g.Start, nodes, g.CreatedAt,
	)
	return err
}

func (s *Store) GetGraph(ctx context.Context, id string) (*graph.Graph, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, start_node, nodes, created_at FROM graphs WHERE id=?`, id)
	g, err := scanGraph(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return g, err
}

func (s *Store) ListGraphs(ctx context.Context) ([]*graph.Graph, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, start_node, nodes, created_at FROM graphs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*graph.Graph
	for rows.Next() {
		g, err := scanGraph(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGraph(scan func(...any) error) (*graph.Graph, error) {
	g := &graph.Graph{}
	var nodes []byte
	if err := scan(&g.ID, &g.Name, &g.Start, &nodes, &g.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(nodes, &g.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	return g, nil
}

// --- Runs ---

func (s *Store) CreateRun(ctx context.Context, r *graph.Run) error {
	state, trace, err := encodeRun(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, graph_id, status, state, trace, error, error_code, started_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.GraphID, r.Status, state, trace, r.Error, r.ErrorCode, r.StartedAt, r.UpdatedAt,
	)
	return err
}

func (s *Store) UpdateRun(ctx context.Context, r *graph.Run) error {
	state, trace, err := encodeRun(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status=?, state=?, trace=?, error=?, error_code=?, updated_at=? WHERE id=?`,
		r.Status, state, trace, r.Error, r.ErrorCode, r.UpdatedAt, r.RunID,
	)
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*graph.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, graph_id, status, state, trace, error, error_code, started_at, updated_at FROM runs WHERE id=?`, id)
	r, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return r, err
}

func (s *Store) ListRuns(ctx context.Context, graphID string, limit, offset int) ([]*graph.Run, error) {
	query := `SELECT id, graph_id, status, state, trace, error, error_code, started_at, updated_at FROM runs`
	args := []any{}
	if graphID != "" {
		query += ` WHERE graph_id=?`
		args = append(args, graphID)
	}
	query += ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*graph.Run
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func encodeRun(r *graph.Run) (state, trace []byte, err error) {
	state, err = json.Marshal(r.State)
	if err != nil {
		return nil, nil, fmt.Errorf("encode state: %w", err)
	}
	trace, err = json.Marshal(r.Trace)
	if err != nil {
		return nil, nil, fmt.Errorf("encode trace: %w", err)
	}
	return state, trace, nil
}

func scanRun(scan func(...any) error) (*graph.Run, error) {
	r := &graph.Run{}
	var state, trace []byte
	if err := scan(&r.RunID, &r.GraphID, &r.Status, &state, &trace, &r.Error, &r.ErrorCode, &r.StartedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &r.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal(trace, &r.Trace); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return r, nil
}

// --- Events ---

func (s *Store) AppendEvent(ctx context.Context, e *storage.Event) error {
	payload, _ := json.Marshal(e.Payload)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, seq, type, payload, created_at) VALUES (?,?,?,?,?,?)`,
		e.ID, e.RunID, e.Seq, e.Type, payload, e.CreatedAt,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, runID string, afterSeq int64) ([]*storage.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, seq, type, payload, created_at FROM events WHERE run_id=? AND seq>? ORDER BY seq`,
		runID, afterSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*storage.Event
	for rows.Next() {
		e := &storage.Event{}
		var payload []byte
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(payload, &e.Payload)
		out = append(out, e)
	}
	return out, rows.Err()
}
