// Package server provides the Stepflow HTTP control plane: graph
// creation, synchronous run execution, and run inspection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/stepflow-ai/stepflow/engine/graph"
	"github.com/stepflow-ai/stepflow/engine/hooks"
	"github.com/stepflow-ai/stepflow/engine/stream"
	"github.com/stepflow-ai/stepflow/engine/tool"
	"github.com/stepflow-ai/stepflow/storage"
)

// Server is the Stepflow control plane.
type Server struct {
	Addr     string
	Store    storage.Store
	Registry *tool.Registry
	Broker   *stream.Broker
	Metrics  *hooks.MetricsHook

	stepLimit      int
	exampleGraphID string
	mux            *http.ServeMux
}

// New creates a control plane server around the given store and registry.
func New(cfg *Config, store storage.Store, reg *tool.Registry) *Server {
	s := &Server{
		Addr:      cfg.Addr,
		Store:     store,
		Registry:  reg,
		Broker:    stream.NewBroker(),
		Metrics:   hooks.NewMetricsHook(),
		stepLimit: cfg.StepLimit,
		mux:       http.NewServeMux(),
	}
	if s.stepLimit <= 0 {
		s.stepLimit = graph.DefaultStepLimit
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	s.mux.HandleFunc("POST /graph/create", s.handleCreateGraph)
	s.mux.HandleFunc("POST /graph/run", s.handleRunGraph)
	s.mux.HandleFunc("GET /graph/state/{run_id}", s.handleRunState)
	s.mux.HandleFunc("GET /graph/example", s.handleExampleGraph)
	s.mux.HandleFunc("GET /api/graphs", s.handleListGraphs)
	s.mux.HandleFunc("GET /api/runs", s.handleListRuns)
	s.mux.HandleFunc("GET /api/runs/{run_id}/events", s.handleRunEvents)
	s.mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	s.mux.HandleFunc("GET /api/events/stream", s.Broker.SSEHandler())
}

// Bootstrap installs the configured graphs plus the example graph given
// by exampleGraph (may be nil). Call once before serving.
func (s *Server) Bootstrap(ctx context.Context, cfgGraphs []GraphCreateRequest, exampleGraph *graph.Graph) error {
	if exampleGraph != nil {
		if err := exampleGraph.Validate(); err != nil {
			return fmt.Errorf("example graph: %w", err)
		}
		if err := s.Store.SaveGraph(ctx, exampleGraph); err != nil {
			return fmt.Errorf("save example graph: %w", err)
		}
		s.exampleGraphID = exampleGraph.ID
	}
	for i := range cfgGraphs {
		g, err := cfgGraphs[i].ToGraph()
		if err != nil {
			return fmt.Errorf("config graph %q: %w", cfgGraphs[i].Name, err)
		}
		if err := s.Store.SaveGraph(ctx, g); err != nil {
			return fmt.Errorf("save config graph %q: %w", g.Name, err)
		}
	}
	return nil
}

// Start begins serving the control plane.
func (s *Server) Start(_ context.Context) error {
	log.Printf("stepflow control plane starting on %s", s.Addr)
	return http.ListenAndServe(s.Addr, s.mux)
}

// Handler exposes the route mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleCreateGraph(w http.ResponseWriter, r *http.Request) {
	var req GraphCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	g, err := req.ToGraph()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Store.SaveGraph(r.Context(), g); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, GraphCreateResponse{GraphID: g.ID})
}

func (s *Server) handleRunGraph(w http.ResponseWriter, r *http.Request) {
	var req GraphRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	g, err := s.Store.GetGraph(r.Context(), req.GraphID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("graph %q not found", req.GraphID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	run, err := s.ExecuteRun(r.Context(), g, graph.State(req.InitialState), req.StepLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, GraphRunResponse{
		RunID:      run.RunID,
		Status:     run.Status,
		FinalState: run.State,
		Trace:      run.Trace,
		Error:      run.Error,
		ErrorCode:  run.ErrorCode,
	})
}

// ExecuteRun drives one run synchronously: the run record is stored as
// running before the first step, step events are fanned out to the SSE
// broker and the event ledger, and the terminal record is stored when
// the engine finishes. Run failures are captured in the record, not
// returned; the error return covers storage problems only.
func (s *Server) ExecuteRun(ctx context.Context, g *graph.Graph, initial graph.State, stepLimit int) (*graph.Run, error) {
	if stepLimit <= 0 {
		stepLimit = s.stepLimit
	}

	run := graph.NewRun(g, initial)
	if err := s.Store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	events := make(chan graph.StreamEvent, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var seq int64
		for evt := range events {
			seq++
			s.Broker.Publish(stream.Event{Type: evt.Type, RunID: run.RunID, Data: evt})
			err := s.Store.AppendEvent(context.WithoutCancel(ctx), &storage.Event{
				ID:        fmt.Sprintf("evt_%s_%d", run.RunID, seq),
				RunID:     run.RunID,
				Seq:       seq,
				Type:      evt.Type,
				Payload:   map[string]any{"node": evt.Node, "next_node": evt.NextNode, "error": evt.Error},
				CreatedAt: time.Now().UTC(),
			})
			if err != nil {
				log.Printf("run %s: append event: %v", run.RunID, err)
			}
		}
	}()

	runner := graph.NewRunner(s.Registry, graph.Options{
		StepLimit: stepLimit,
		Hooks:     hooks.Chain{s.Metrics},
		Events:    events,
	})
	runner.Execute(ctx, g, run)
	<-done

	if err := s.Store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, fmt.Errorf("update run: %w", err)
	}
	return run, nil
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := s.Store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("run %q not found", runID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, RunStateResponse{
		RunID:     run.RunID,
		GraphID:   run.GraphID,
		Status:    run.Status,
		State:     run.State,
		Trace:     run.Trace,
		Error:     run.Error,
		ErrorCode: run.ErrorCode,
	})
}

func (s *Server) handleExampleGraph(w http.ResponseWriter, _ *http.Request) {
	if s.exampleGraphID == "" {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("example graph not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, GraphCreateResponse{GraphID: s.exampleGraphID})
}

func (s *Server) handleListGraphs(w http.ResponseWriter, r *http.Request) {
	graphs, err := s.Store.ListGraphs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"graphs": graphs})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	graphID := r.URL.Query().Get("graph_id")
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	runs, err := s.Store.ListRuns(r.Context(), graphID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	afterSeq := int64(0)
	if v := r.URL.Query().Get("after_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = n
		}
	}
	events, err := s.Store.ListEvents(r.Context(), runID, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Metrics.Summary())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
