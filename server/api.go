package server

import (
	"fmt"

	"github.com/stepflow-ai/stepflow/engine/graph"
)

// ConditionConfig is the wire form of a transition predicate.
type ConditionConfig struct {
	Key       string `json:"key" yaml:"key"`
	Op        string `json:"op" yaml:"op"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
	ValueFrom string `json:"value_from,omitempty" yaml:"value_from,omitempty"`
	TrueNext  string `json:"true_next,omitempty" yaml:"true_next,omitempty"`
	FalseNext string `json:"false_next,omitempty" yaml:"false_next,omitempty"`
}

// LoopConfig is the wire form of a loop-until transition.
type LoopConfig struct {
	Key       string `json:"key" yaml:"key"`
	Op        string `json:"op" yaml:"op"`
	Value     any    `json:"value,omitempty" yaml:"value,omitempty"`
	ValueFrom string `json:"value_from,omitempty" yaml:"value_from,omitempty"`
	Back      string `json:"back,omitempty" yaml:"back,omitempty"`
	Next      string `json:"next,omitempty" yaml:"next,omitempty"`
}

// NodeConfig is the wire form of one workflow node.
type NodeConfig struct {
	ID        string           `json:"id" yaml:"id"`
	ToolName  string           `json:"tool_name" yaml:"tool_name"`
	Next      string           `json:"next,omitempty" yaml:"next,omitempty"`
	Condition *ConditionConfig `json:"condition,omitempty" yaml:"condition,omitempty"`
	Loop      *LoopConfig      `json:"loop,omitempty" yaml:"loop,omitempty"`
	Retries   int              `json:"retries,omitempty" yaml:"retries,omitempty"`
}

// GraphCreateRequest defines a new workflow graph.
type GraphCreateRequest struct {
	Name      string       `json:"name" yaml:"name"`
	StartNode string       `json:"start_node" yaml:"start_node"`
	Nodes     []NodeConfig `json:"nodes" yaml:"nodes"`
}

// GraphCreateResponse returns the generated graph id.
type GraphCreateResponse struct {
	GraphID string `json:"graph_id"`
}

// GraphRunRequest starts a run of a stored graph.
type GraphRunRequest struct {
	GraphID      string         `json:"graph_id"`
	InitialState map[string]any `json:"initial_state"`

	// StepLimit overrides the server's default per-run step bound.
	StepLimit int `json:"step_limit,omitempty"`
}

// GraphRunResponse is the terminal result of a synchronous run.
type GraphRunResponse struct {
	RunID      string             `json:"run_id"`
	Status     graph.RunStatus    `json:"status"`
	FinalState graph.State        `json:"final_state"`
	Trace      []graph.StepRecord `json:"trace"`
	Error      string             `json:"error,omitempty"`
	ErrorCode  string             `json:"error_code,omitempty"`
}

// RunStateResponse is the full stored record of a run.
type RunStateResponse struct {
	RunID     string             `json:"run_id"`
	GraphID   string             `json:"graph_id"`
	Status    graph.RunStatus    `json:"status"`
	State     graph.State        `json:"state"`
	Trace     []graph.StepRecord `json:"trace"`
	Error     string             `json:"error,omitempty"`
	ErrorCode string             `json:"error_code,omitempty"`
}

// ToGraph converts the request into a validated graph definition.
func (req *GraphCreateRequest) ToGraph() (*graph.Graph, error) {
	g := graph.New(req.Name, req.StartNode)
	for _, nc := range req.Nodes {
		node, err := nc.toNode()
		if err != nil {
			return nil, err
		}
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", node.ID)
		}
		g.Nodes[node.ID] = node
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func (nc *NodeConfig) toNode() (*graph.Node, error) {
	if nc.ID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if nc.ToolName == "" {
		return nil, fmt.Errorf("node %q: tool_name is required", nc.ID)
	}
	node := &graph.Node{
		ID:      nc.ID,
		Tool:    nc.ToolName,
		Next:    nc.Next,
		Retries: nc.Retries,
	}
	if nc.Condition != nil {
		node.Branch = &graph.Branch{
			When: graph.Predicate{
				Key:       nc.Condition.Key,
				Op:        graph.Op(nc.Condition.Op),
				Value:     nc.Condition.Value,
				ValueFrom: nc.Condition.ValueFrom,
			},
			Then: nc.Condition.TrueNext,
			Else: nc.Condition.FalseNext,
		}
	}
	if nc.Loop != nil {
		node.Loop = &graph.Loop{
			Until: graph.Predicate{
				Key:       nc.Loop.Key,
				Op:        graph.Op(nc.Loop.Op),
				Value:     nc.Loop.Value,
				ValueFrom: nc.Loop.ValueFrom,
			},
			Back: nc.Loop.Back,
			Then: nc.Loop.Next,
		}
	}
	return node, nil
}
