// Package cmd provides the Stepflow CLI command tree.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/stepflow-ai/stepflow/cli/repl"
	"github.com/stepflow-ai/stepflow/engine/graph"
	"github.com/stepflow-ai/stepflow/engine/tool"
	"github.com/stepflow-ai/stepflow/server"
	"github.com/stepflow-ai/stepflow/storage"
	"github.com/stepflow-ai/stepflow/storage/adapters/memory"
	"github.com/stepflow-ai/stepflow/storage/adapters/sqlite"
	"github.com/stepflow-ai/stepflow/tools"
)

// Execute runs the root CLI command.
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}
	switch os.Args[1] {
	case "serve":
		return runServe()
	case "run":
		return runWorkflow()
	case "graphs":
		return runGraphs()
	case "runs":
		return runRuns()
	case "repl", "interactive":
		return runREPL()
	case "version":
		fmt.Println("stepflow v0.1.0")
		return nil
	case "help", "--help", "-h":
		return printUsage()
	default:
		return fmt.Errorf("unknown command: %s\nRun 'stepflow help' for usage.", os.Args[1])
	}
}

func printUsage() error {
	fmt.Println(`Stepflow CLI — workflow executor

Usage:
  stepflow <command> [subcommand] [options]

Commands:
  serve [addr]              Start the control plane server (default :8420)
  run [state-json]          Run the example summarization workflow headless
  graphs list               List stored graphs
  graphs show <id>          Show a graph definition
  runs list [graph_id]      List runs, optionally filtered by graph
  runs show <run_id>        Show a run's state and trace
  repl                      Start interactive REPL
  version                   Print version
  help                      Show this help

Graph Configuration:
  Define graphs in stepflow.yaml (project-level) or
  ~/.stepflow/stepflow.yaml (global).

Environment:
  STEPFLOW_CONFIG    Path to YAML config file
  STEPFLOW_DB_PATH   SQLite database path (default: in-memory)
  STEPFLOW_ADDR      Control plane listen address`)
	return nil
}

// openStore opens the configured storage backend, migrated and ready.
func openStore(cfg *server.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "", "sqlite":
		store, err := sqlite.New(cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		if err := store.Migrate(context.Background()); err != nil {
			store.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return store, nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func newRegistry() *tool.Registry {
	reg := tool.NewRegistry()
	tools.Register(reg)
	return reg
}

func runServe() error {
	cfg, err := server.LoadConfig("")
	if err != nil {
		return err
	}
	if len(os.Args) > 2 {
		cfg.Addr = os.Args[2]
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	srv := server.New(cfg, store, newRegistry())
	if err := srv.Bootstrap(ctx, cfg.Graphs, tools.ExampleGraph()); err != nil {
		return err
	}
	return srv.Start(ctx)
}

func runWorkflow() error {
	initial := graph.State{}
	if len(os.Args) > 2 {
		if err := json.Unmarshal([]byte(os.Args[2]), &initial); err != nil {
			return fmt.Errorf("parse initial state: %w", err)
		}
	}

	g := tools.ExampleGraph()
	runner := graph.NewRunner(newRegistry(), graph.Options{})
	run := runner.Run(context.Background(), g, initial)

	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if run.Status == graph.RunStatusFailed {
		return fmt.Errorf("run failed: %s", run.Error)
	}
	return nil
}

func runGraphs() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: stepflow graphs list|show <id>")
	}
	cfg, err := server.LoadConfig("")
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	switch os.Args[2] {
	case "list":
		return graphsList(ctx, store)
	case "show":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: stepflow graphs show <id>")
		}
		return graphsShow(ctx, store, os.Args[3])
	default:
		return fmt.Errorf("unknown graphs subcommand: %s", os.Args[2])
	}
}

func graphsList(ctx context.Context, store storage.Store) error {
	graphs, err := store.ListGraphs(ctx)
	if err != nil {
		return err
	}
	if len(graphs) == 0 {
		fmt.Println("No graphs found.")
		return nil
	}
	for _, g := range graphs {
		fmt.Printf("  %s  %s  nodes=%d  start=%s\n", g.ID, g.Name, len(g.Nodes), g.Start)
	}
	return nil
}

func graphsShow(ctx context.Context, store storage.Store, id string) error {
	g, err := store.GetGraph(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runRuns() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: stepflow runs list|show <run_id>")
	}
	cfg, err := server.LoadConfig("")
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	switch os.Args[2] {
	case "list":
		graphID := ""
		if len(os.Args) > 3 {
			graphID = os.Args[3]
		}
		return runsList(ctx, store, graphID)
	case "show":
		if len(os.Args) < 4 {
			return fmt.Errorf("usage: stepflow runs show <run_id>")
		}
		return runsShow(ctx, store, os.Args[3])
	default:
		return fmt.Errorf("unknown runs subcommand: %s", os.Args[2])
	}
}

func runsList(ctx context.Context, store storage.Store, graphID string) error {
	runs, err := store.ListRuns(ctx, graphID, 50, 0)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}
	for _, r := range runs {
		fmt.Printf("  [%s] %s  graph=%s  status=%s  steps=%d\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.RunID, r.GraphID, r.Status, len(r.Trace))
	}
	return nil
}

func runsShow(ctx context.Context, store storage.Store, runID string) error {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runREPL() error {
	cfg, err := server.LoadConfig("")
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return repl.New(store, newRegistry()).Start()
}
