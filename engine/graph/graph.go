package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EndNode is the sentinel node id meaning no further node executes.
const EndNode = "__end__"

// Graph is an immutable workflow definition: a set of nodes and the id
// of the node where execution begins.
type Graph struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Start     string           `json:"start"`
	Nodes     map[string]*Node `json:"nodes"`
	CreatedAt time.Time        `json:"created_at"`
}

// New creates an empty graph with a generated id.
func New(name, start string) *Graph {
	return &Graph{
		ID:        uuid.NewString(),
		Name:      name,
		Start:     start,
		Nodes:     make(map[string]*Node),
		CreatedAt: time.Now().UTC(),
	}
}

// AddNode registers a node bound to the named tool with an
// unconditional edge to next (empty or EndNode ends the run).
func (g *Graph) AddNode(id, tool, next string) *Graph {
	g.Nodes[id] = &Node{ID: id, Tool: tool, Next: next}
	return g
}

// AddBranchNode registers a node whose transition is a conditional branch.
func (g *Graph) AddBranchNode(id, tool string, b *Branch) *Graph {
	g.Nodes[id] = &Node{ID: id, Tool: tool, Branch: b}
	return g
}

// AddLoopNode registers a node with a loop-until transition.
func (g *Graph) AddLoopNode(id, tool string, l *Loop) *Graph {
	g.Nodes[id] = &Node{ID: id, Tool: tool, Loop: l}
	return g
}

// Validate checks that the definition is runnable: the start node
// exists, node ids match their map keys, every node names a tool, and
// no node carries more than one transition rule.
//
// Edge targets are deliberately not checked here. Branch and loop
// targets may be data-dependent; an edge to a missing node fails the
// run at the point it is taken.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("graph %q: no nodes defined", g.Name)
	}
	if g.Start == "" {
		return fmt.Errorf("graph %q: no start node set", g.Name)
	}
	if _, ok := g.Nodes[g.Start]; !ok {
		return fmt.Errorf("graph %q: start node %q not found", g.Name, g.Start)
	}
	for id, n := range g.Nodes {
		if n == nil {
			return fmt.Errorf("graph %q: node %q is nil", g.Name, id)
		}
		if n.ID != id {
			return fmt.Errorf("graph %q: node key %q does not match node id %q", g.Name, id, n.ID)
		}
		if n.Tool == "" {
			return fmt.Errorf("graph %q: node %q has no tool", g.Name, id)
		}
		rules := 0
		if n.Next != "" {
			rules++
		}
		if n.Branch != nil {
			rules++
		}
		if n.Loop != nil {
			rules++
		}
		if rules > 1 {
			return fmt.Errorf("graph %q: node %q has more than one transition rule", g.Name, id)
		}
		if n.Retries < 0 {
			return fmt.Errorf("graph %q: node %q has negative retries", g.Name, id)
		}
	}
	return nil
}

// nextNode evaluates the node's transition rule against the post-tool
// state and returns the chosen next node id, EndNode meaning done.
func nextNode(n *Node, state State) (string, error) {
	switch {
	case n.Loop != nil:
		done, err := n.Loop.Until.Eval(state)
		if err != nil {
			return "", err
		}
		if !done {
			if n.Loop.Back != "" {
				return n.Loop.Back, nil
			}
			return n.ID, nil
		}
		if n.Loop.Then == "" {
			return EndNode, nil
		}
		return n.Loop.Then, nil

	case n.Branch != nil:
		hold, err := n.Branch.When.Eval(state)
		if err != nil {
			return "", err
		}
		target := n.Branch.Else
		if hold {
			target = n.Branch.Then
		}
		if target == "" {
			return "", fmt.Errorf("branch selected no target (predicate %v)", hold)
		}
		return target, nil

	case n.Next != "":
		return n.Next, nil

	default:
		return EndNode, nil
	}
}
