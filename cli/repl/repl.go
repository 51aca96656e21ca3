// Package repl provides an interactive shell for running workflows.
package repl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/stepflow-ai/stepflow/engine/graph"
	"github.com/stepflow-ai/stepflow/engine/tool"
	"github.com/stepflow-ai/stepflow/storage"
	"github.com/stepflow-ai/stepflow/tools"
)

// REPL is the interactive command loop. Plain input is fed as the text
// of the example summarization workflow; slash commands inspect stored
// graphs and runs.
type REPL struct {
	store    storage.Store
	registry *tool.Registry
	commands map[string]Command
	ctx      context.Context
	cancel   context.CancelFunc

	lastRunID string
}

// Command represents a slash command.
type Command struct {
	Name        string
	Description string
	Handler     func(args string) error
}

// New creates a new REPL with built-in commands.
func New(store storage.Store, registry *tool.Registry) *REPL {
	ctx, cancel := context.WithCancel(context.Background())
	r := &REPL{
		store:    store,
		registry: registry,
		commands: make(map[string]Command),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.registerBuiltins()
	return r
}

func (r *REPL) registerBuiltins() {
	r.Register(Command{
		Name: "/help", Description: "Show available commands",
		Handler: func(_ string) error {
			fmt.Println("Available commands:")
			for _, c := range r.commands {
				fmt.Printf("  %-20s %s\n", c.Name, c.Description)
			}
			return nil
		},
	})
	r.Register(Command{
		Name: "/graphs", Description: "List stored graphs",
		Handler: func(_ string) error {
			graphs, err := r.store.ListGraphs(r.ctx)
			if err != nil {
				return err
			}
			if len(graphs) == 0 {
				fmt.Println("No graphs found.")
				return nil
			}
			for _, g := range graphs {
				fmt.Printf("  %s  %s  nodes=%d\n", g.ID, g.Name, len(g.Nodes))
			}
			return nil
		},
	})
	r.Register(Command{
		Name: "/runs", Description: "List recent runs",
		Handler: func(args string) error {
			runs, err := r.store.ListRuns(r.ctx, strings.TrimSpace(args), 10, 0)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("  [%s] %s  status=%s  steps=%d\n",
					run.StartedAt.Format("2006-01-02 15:04"), run.RunID, run.Status, len(run.Trace))
			}
			return nil
		},
	})
	r.Register(Command{
		Name: "/trace", Description: "Show the trace of a run (defaults to the last run)",
		Handler: func(args string) error {
			runID := strings.TrimSpace(args)
			if runID == "" {
				runID = r.lastRunID
			}
			if runID == "" {
				return fmt.Errorf("usage: /trace <run_id>")
			}
			run, err := r.store.GetRun(r.ctx, runID)
			if err != nil {
				return err
			}
			for _, rec := range run.Trace {
				fmt.Printf("  [%d] %s (%s) -> %s\n", rec.Step, rec.Node, rec.Tool, rec.NextNode)
			}
			if run.Error != "" {
				fmt.Printf("  error: %s (%s)\n", run.Error, run.ErrorCode)
			}
			return nil
		},
	})
	r.Register(Command{
		Name: "/run", Description: "Run the example workflow with a JSON initial state",
		Handler: func(args string) error {
			initial := graph.State{}
			if strings.TrimSpace(args) != "" {
				if err := json.Unmarshal([]byte(args), &initial); err != nil {
					return fmt.Errorf("parse initial state: %w", err)
				}
			}
			return r.runExample(initial)
		},
	})
	r.Register(Command{
		Name: "/quit", Description: "Exit the REPL",
		Handler: func(_ string) error {
			r.cancel()
			return nil
		},
	})
}

// Register adds a slash command.
func (r *REPL) Register(c Command) {
	r.commands[c.Name] = c
}

// runExample executes the built-in summarization graph and persists the run.
func (r *REPL) runExample(initial graph.State) error {
	g := tools.ExampleGraph()
	runner := graph.NewRunner(r.registry, graph.Options{})
	run := runner.Run(r.ctx, g, initial)
	r.lastRunID = run.RunID

	if err := r.store.SaveGraph(r.ctx, g); err != nil {
		return err
	}
	if err := r.store.CreateRun(r.ctx, run); err != nil {
		return err
	}

	if run.Status == graph.RunStatusFailed {
		fmt.Printf("Run %s failed: %s (%s)\n", run.RunID, run.Error, run.ErrorCode)
		return nil
	}
	fmt.Printf("Run %s completed in %d steps.\n", run.RunID, len(run.Trace))
	if summary, ok := run.State["summary"].(string); ok {
		fmt.Printf("Summary: %s\n", summary)
	}
	return nil
}

// Start begins the interactive loop.
func (r *REPL) Start() error {
	fmt.Println("Stepflow REPL v0.1.0 — type text to summarize it, /help for commands, /quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("stepflow> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		select {
		case <-r.ctx.Done():
			fmt.Println("Goodbye.")
			return nil
		default:
		}

		if strings.HasPrefix(line, "/") {
			parts := strings.SplitN(line, " ", 2)
			cmdName := parts[0]
			args := ""
			if len(parts) > 1 {
				args = parts[1]
			}
			if cmd, ok := r.commands[cmdName]; ok {
				if err := cmd.Handler(args); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
			} else {
				fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmdName)
			}
			select {
			case <-r.ctx.Done():
				fmt.Println("Goodbye.")
				return nil
			default:
			}
		} else {
			if err := r.runExample(graph.State{"text": line}); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
		}
	}
	return scanner.Err()
}
