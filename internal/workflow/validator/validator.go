// Package validator performs structural and semantic checks on a workflow
// definition before it is executed.
package validator

import (
	"encoding/json"
	"fmt"

	"github.com/agentflow/agentflow/internal/workflow/graph"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

// Result is the outcome of validating a workflow. Errors make IsValid
// false; warnings do not.
type Result struct {
	IsValid         bool                `json:"is_valid"`
	Errors          []string            `json:"errors"`
	Warnings        []string            `json:"warnings"`
	NodeErrors      map[string][]string `json:"node_errors"`
	EdgeErrors      map[string][]string `json:"edge_errors"`
	Recommendations []string            `json:"recommendations"`
}

// AgentCatalog answers which agent kinds exist. Implemented by the
// agent registry; kept as an interface so the validator stays free of
// agent internals.
type AgentCatalog interface {
	Has(kind string) bool
}

// Validator checks workflow definitions.
type Validator struct {
	catalog AgentCatalog
}

// New creates a Validator backed by the given agent catalog.
func New(catalog AgentCatalog) *Validator {
	return &Validator{catalog: catalog}
}

const largeWorkflowThreshold = 100

var validNodeKinds = map[models.NodeKind]bool{
	models.NodeKindAgent:     true,
	models.NodeKindCondition: true,
	models.NodeKindTrigger:   true,
	models.NodeKindAction:    true,
}

var codeAnalyzerLanguages = map[string]bool{
	"python":     true,
	"javascript": true,
	"java":       true,
	"cpp":        true,
	"csharp":     true,
	"go":         true,
}

// Validate runs all checks against the workflow data.
func (v *Validator) Validate(data models.WorkflowData) Result {
	res := Result{
		Errors:          []string{},
		Warnings:        []string{},
		NodeErrors:      map[string][]string{},
		EdgeErrors:      map[string][]string{},
		Recommendations: []string{},
	}

	nodes := data.Nodes
	edges := data.Edges

	if len(nodes) == 0 {
		res.Errors = append(res.Errors, "workflow must contain at least one node")
		res.IsValid = false
		return res
	}
	if len(nodes) > largeWorkflowThreshold {
		res.Warnings = append(res.Warnings, fmt.Sprintf("workflow has %d nodes; consider splitting it into smaller workflows", len(nodes)))
	}

	nodeIDs := v.checkNodes(nodes, &res)
	v.checkEdges(edges, nodeIDs, &res)

	if graph.HasCycle(nodes, edges) {
		res.Errors = append(res.Errors, "workflow contains a cycle")
	}

	v.checkEntryPoints(nodes, edges, &res)
	v.checkOrphans(nodes, edges, &res)

	res.IsValid = len(res.Errors) == 0 && len(res.NodeErrors) == 0 && len(res.EdgeErrors) == 0
	return res
}

// checkNodes verifies per-node invariants and returns the set of node ids.
func (v *Validator) checkNodes(nodes []models.Node, res *Result) map[string]bool {
	nodeIDs := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		if node.ID == "" {
			res.Errors = append(res.Errors, "node is missing an id")
			continue
		}
		if nodeIDs[node.ID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate node id '%s'", node.ID))
			continue
		}
		nodeIDs[node.ID] = true

		if !validNodeKinds[node.Kind] {
			res.NodeErrors[node.ID] = append(res.NodeErrors[node.ID],
				fmt.Sprintf("invalid node kind '%s'", node.Kind))
		}
		if node.Position == nil {
			res.NodeErrors[node.ID] = append(res.NodeErrors[node.ID], "node is missing a position")
		}
		if !nodeDataPresent(node.Data) {
			res.NodeErrors[node.ID] = append(res.NodeErrors[node.ID], "node is missing data")
		}

		if node.Kind == models.NodeKindAgent {
			v.checkAgentNode(node, res)
		}
	}
	return nodeIDs
}

// nodeDataPresent reports whether the node carried any data payload.
func nodeDataPresent(d models.NodeData) bool {
	return d.Label != "" || d.AgentKind != "" || d.Config != nil || d.InputMapping != nil
}

func (v *Validator) checkAgentNode(node models.Node, res *Result) {
	if node.Data.AgentKind == "" {
		res.NodeErrors[node.ID] = append(res.NodeErrors[node.ID], "agent node is missing agent_kind")
		return
	}
	if v.catalog != nil && !v.catalog.Has(node.Data.AgentKind) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("node '%s' references unknown agent kind '%s'", node.ID, node.Data.AgentKind))
	}
	if node.Data.Label == "" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("node '%s' has no label", node.ID))
	}

	v.checkAgentConfig(node, res)
}

// checkAgentConfig applies per-agent-kind config sanity checks.
func (v *Validator) checkAgentConfig(node models.Node, res *Result) {
	cfg := node.Data.Config
	if cfg == nil {
		return
	}

	addError := func(msg string) {
		res.NodeErrors[node.ID] = append(res.NodeErrors[node.ID], msg)
	}

	switch node.Data.AgentKind {
	case "llm_text_generator":
		if temp, ok := numeric(cfg["temperature"]); ok && (temp < 0 || temp > 2) {
			addError("temperature must be between 0 and 2")
		}
		if mt, ok := numeric(cfg["max_tokens"]); ok && (mt < 1 || mt > 4000) {
			addError("max_tokens must be between 1 and 4000")
		}
	case "http_caller", "api_caller":
		if timeout, ok := numeric(cfg["timeout_seconds"]); ok && (timeout < 1 || timeout > 300) {
			addError("timeout_seconds must be between 1 and 300")
		}
		if retries, ok := numeric(cfg["retries"]); ok && (retries < 0 || retries > 10) {
			addError("retries must be between 0 and 10")
		}
	case "code_analyzer":
		if lang, ok := cfg["language"].(string); ok && lang != "" && !codeAnalyzerLanguages[lang] {
			addError(fmt.Sprintf("unsupported language '%s'", lang))
		}
	}
}

func (v *Validator) checkEdges(edges []models.Edge, nodeIDs map[string]bool, res *Result) {
	edgeIDs := make(map[string]bool, len(edges))

	for _, edge := range edges {
		if edge.ID == "" {
			res.Errors = append(res.Errors, "edge is missing an id")
			continue
		}
		if edgeIDs[edge.ID] {
			res.Errors = append(res.Errors, fmt.Sprintf("duplicate edge id '%s'", edge.ID))
			continue
		}
		edgeIDs[edge.ID] = true

		if edge.SourceNodeID == "" || edge.TargetNodeID == "" {
			res.EdgeErrors[edge.ID] = append(res.EdgeErrors[edge.ID], "edge must have a source and a target")
			continue
		}
		if !nodeIDs[edge.SourceNodeID] {
			res.EdgeErrors[edge.ID] = append(res.EdgeErrors[edge.ID],
				fmt.Sprintf("source references unknown node '%s'", edge.SourceNodeID))
		}
		if !nodeIDs[edge.TargetNodeID] {
			res.EdgeErrors[edge.ID] = append(res.EdgeErrors[edge.ID],
				fmt.Sprintf("target references unknown node '%s'", edge.TargetNodeID))
		}
	}
}

func (v *Validator) checkEntryPoints(nodes []models.Node, edges []models.Edge, res *Result) {
	hasIncoming := make(map[string]bool)
	for _, edge := range edges {
		hasIncoming[edge.TargetNodeID] = true
	}

	entryCount := 0
	for _, node := range nodes {
		if !hasIncoming[node.ID] {
			entryCount++
		}
	}
	if entryCount == 0 {
		res.Warnings = append(res.Warnings, "workflow has no entry point (every node has incoming edges)")
	}
}

func (v *Validator) checkOrphans(nodes []models.Node, edges []models.Edge, res *Result) {
	if len(nodes) <= 1 {
		return
	}

	connected := make(map[string]bool)
	for _, edge := range edges {
		connected[edge.SourceNodeID] = true
		connected[edge.TargetNodeID] = true
	}

	for _, node := range nodes {
		if !connected[node.ID] {
			res.Warnings = append(res.Warnings, fmt.Sprintf("node '%s' is not connected to any other node", node.ID))
			res.Recommendations = append(res.Recommendations,
				fmt.Sprintf("connect node '%s' to the workflow or remove it", node.ID))
		}
	}
}

// numeric extracts a float from the loosely typed config values that
// arrive via JSON decoding.
func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
