// Package graph builds the dependency representation of a workflow DAG.
// It is shared by the validation service and the execution engine.
package graph

import (
	"fmt"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

// Graph is the adjacency view of a workflow: per node, the set of
// predecessors (dependencies) and successors (dependents).
type Graph struct {
	Nodes        map[string]*models.Node
	Predecessors map[string]map[string]struct{}
	Successors   map[string]map[string]struct{}
}

// Build constructs the adjacency representation and verifies the
// structural invariants: non-empty node set, edges referencing known
// nodes, and acyclicity.
func Build(nodes []models.Node, edges []models.Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, apperrors.InvalidWorkflow("workflow has no nodes")
	}

	g := &Graph{
		Nodes:        make(map[string]*models.Node, len(nodes)),
		Predecessors: make(map[string]map[string]struct{}, len(nodes)),
		Successors:   make(map[string]map[string]struct{}, len(nodes)),
	}

	for i := range nodes {
		node := &nodes[i]
		if _, dup := g.Nodes[node.ID]; dup {
			return nil, apperrors.InvalidWorkflow(fmt.Sprintf("duplicate node id '%s'", node.ID))
		}
		g.Nodes[node.ID] = node
		g.Predecessors[node.ID] = make(map[string]struct{})
		g.Successors[node.ID] = make(map[string]struct{})
	}

	for _, edge := range edges {
		if _, ok := g.Nodes[edge.SourceNodeID]; !ok {
			return nil, apperrors.InvalidWorkflow(fmt.Sprintf("edge '%s' references unknown source node '%s'", edge.ID, edge.SourceNodeID))
		}
		if _, ok := g.Nodes[edge.TargetNodeID]; !ok {
			return nil, apperrors.InvalidWorkflow(fmt.Sprintf("edge '%s' references unknown target node '%s'", edge.ID, edge.TargetNodeID))
		}
		g.Successors[edge.SourceNodeID][edge.TargetNodeID] = struct{}{}
		g.Predecessors[edge.TargetNodeID][edge.SourceNodeID] = struct{}{}
	}

	if cycle := g.findCycle(); cycle != "" {
		return nil, apperrors.InvalidWorkflow(fmt.Sprintf("workflow contains a cycle through node '%s'", cycle))
	}

	return g, nil
}

// EntryPoints returns the ids of nodes with no predecessors.
func (g *Graph) EntryPoints() []string {
	var entries []string
	for id, preds := range g.Predecessors {
		if len(preds) == 0 {
			entries = append(entries, id)
		}
	}
	return entries
}

// findCycle runs a depth-first search with a recursion stack and returns
// the id of a node on a cycle, or "" if the graph is acyclic.
func (g *Graph) findCycle() string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Nodes))

	var visit func(id string) string
	visit = func(id string) string {
		state[id] = inStack
		for succ := range g.Successors[id] {
			switch state[succ] {
			case inStack:
				return succ
			case unvisited:
				if hit := visit(succ); hit != "" {
					return hit
				}
			}
		}
		state[id] = done
		return ""
	}

	for id := range g.Nodes {
		if state[id] == unvisited {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// HasCycle reports whether the node/edge set contains a cycle without
// requiring a full Build. Edges referencing unknown nodes are ignored.
func HasCycle(nodes []models.Node, edges []models.Edge) bool {
	known := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		known[n.ID] = struct{}{}
	}

	succ := make(map[string][]string)
	for _, e := range edges {
		if _, ok := known[e.SourceNodeID]; !ok {
			continue
		}
		if _, ok := known[e.TargetNodeID]; !ok {
			continue
		}
		succ[e.SourceNodeID] = append(succ[e.SourceNodeID], e.TargetNodeID)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		for _, next := range succ[id] {
			switch state[next] {
			case inStack:
				return true
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, n := range nodes {
		if state[n.ID] == unvisited && visit(n.ID) {
			return true
		}
	}
	return false
}
