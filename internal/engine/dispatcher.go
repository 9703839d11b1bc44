package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentflow/agentflow/internal/agents"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/events"
	"github.com/agentflow/agentflow/internal/metrics"
	"github.com/agentflow/agentflow/internal/workflow/graph"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

// dispatcher runs one execution's graph. All scheduling state is owned
// by the single run goroutine; node work happens in child goroutines
// that report back over the results channel.
type dispatcher struct {
	engine *Engine
	graph  *graph.Graph
	req    ExecuteRequest
	log    *logger.Logger

	variables   map[string]interface{}
	nodeResults map[string]interface{}
	completed   map[string]struct{}
	running     map[string]struct{}
	stepIndex   int
	logs        []models.ProgressRecord
}

// dispatchOutcome is what the dispatcher hands back to finishExecution.
type dispatchOutcome struct {
	output    map[string]interface{}
	logs      []models.ProgressRecord
	err       error
	cancelled bool
}

type nodeResult struct {
	nodeID      string
	output      interface{}
	variables   map[string]interface{}
	err         error
	startedAt   time.Time
	completedAt time.Time
}

func newDispatcher(e *Engine, g *graph.Graph, req ExecuteRequest, log *logger.Logger) *dispatcher {
	variables := make(map[string]interface{}, len(req.InputData))
	for k, v := range req.InputData {
		variables[k] = v
	}
	return &dispatcher{
		engine:      e,
		graph:       g,
		req:         req,
		log:         log,
		variables:   variables,
		nodeResults: make(map[string]interface{}, len(g.Nodes)),
		completed:   make(map[string]struct{}, len(g.Nodes)),
		running:     make(map[string]struct{}),
	}
}

// run drives the graph to quiescence: it launches every ready node,
// waits for results, and stops the whole run on the first real
// failure. Returns the terminal outcome; the caller persists it.
func (d *dispatcher) run(ctx context.Context) *dispatchOutcome {
	results := make(chan nodeResult)

	d.appendLog(models.ProgressRecord{
		Timestamp:   time.Now().UTC(),
		ExecutionID: d.req.ExecutionID,
		Level:       "info",
		Type:        models.ProgressExecutionStarted,
	})
	d.launchReady(ctx, results)

	var firstErr error
	for len(d.running) > 0 {
		res := <-results
		delete(d.running, res.nodeID)

		if res.err != nil {
			if isCancellation(res.err) {
				// Sibling aborted by a failure or by user cancel. Its
				// durable record says cancelled, not failed.
				d.recordNodeCancelled(ctx, res)
				continue
			}
			if firstErr == nil {
				firstErr = fmt.Errorf("node '%s' failed: %w", res.nodeID, res.err)
				d.recordNodeFailure(ctx, res)
				// First failure wins; stop every sibling.
				d.engine.cancelRun(d.req.ExecutionID)
			}
			continue
		}
		if firstErr != nil || ctx.Err() != nil {
			// Result raced with the abort; the run is already lost.
			continue
		}

		d.recordNodeSuccess(ctx, res)
		d.launchReady(ctx, results)
	}

	if ctx.Err() != nil && firstErr == nil {
		d.appendLog(models.ProgressRecord{
			Timestamp:   time.Now().UTC(),
			ExecutionID: d.req.ExecutionID,
			Level:       "warn",
			Type:        models.ProgressExecutionCancelled,
		})
	}

	outcome := &dispatchOutcome{logs: d.logs, err: firstErr}
	switch {
	case firstErr != nil:
	case ctx.Err() != nil:
		outcome.cancelled = true
	default:
		outcome.output = d.buildOutput()
		d.appendLog(models.ProgressRecord{
			Timestamp:   time.Now().UTC(),
			ExecutionID: d.req.ExecutionID,
			Level:       "info",
			Type:        models.ProgressExecutionCompleted,
		})
	}
	return outcome
}

// launchReady starts every node whose predecessors have all completed.
func (d *dispatcher) launchReady(ctx context.Context, results chan<- nodeResult) {
	for id := range d.graph.Nodes {
		if _, done := d.completed[id]; done {
			continue
		}
		if _, busy := d.running[id]; busy {
			continue
		}
		if !d.predecessorsDone(id) {
			continue
		}
		d.running[id] = struct{}{}
		d.startNode(ctx, id, results)
	}
}

func (d *dispatcher) predecessorsDone(id string) bool {
	for dep := range d.graph.Predecessors[id] {
		if _, ok := d.completed[dep]; !ok {
			return false
		}
	}
	return true
}

// startNode launches one node in its own goroutine. The input snapshot
// is taken here, on the dispatcher goroutine, so node workers never
// touch shared maps.
func (d *dispatcher) startNode(ctx context.Context, nodeID string, results chan<- nodeResult) {
	node := d.graph.Nodes[nodeID]
	input := d.buildNodeInput(node)

	d.appendLog(models.ProgressRecord{
		Timestamp:   time.Now().UTC(),
		ExecutionID: d.req.ExecutionID,
		NodeID:      nodeID,
		Level:       "info",
		Type:        models.ProgressNodeStarted,
	})
	d.publishNodeEvent(events.NodeStarted, nodeID, map[string]interface{}{
		"agent_kind": node.Data.AgentKind,
		"label":      node.Data.Label,
	})

	go func() {
		started := time.Now().UTC()
		output, vars, err := d.runNode(ctx, node, input)
		results <- nodeResult{
			nodeID:      nodeID,
			output:      output,
			variables:   vars,
			err:         err,
			startedAt:   started,
			completedAt: time.Now().UTC(),
		}
	}()
}

// runNode executes one node's work. Non-agent kinds are structural and
// pass their input through unchanged.
func (d *dispatcher) runNode(ctx context.Context, node *models.Node, input map[string]interface{}) (interface{}, map[string]interface{}, error) {
	if node.Kind != models.NodeKindAgent {
		return input, nil, nil
	}

	if timeout := d.engine.cfg.AgentTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := d.engine.registry.Execute(ctx, node.Data.AgentKind, agents.Invocation{
		ExecutionID: d.req.ExecutionID,
		NodeID:      node.ID,
		UserID:      d.req.UserID,
		Config:      node.Data.Config,
		Input:       input,
		Logger:      d.log,
	})
	if err != nil {
		return nil, nil, err
	}
	return result.Output, result.Variables, nil
}

// buildNodeInput resolves the node's input from its mapping, the
// variable scope, and upstream node results.
func (d *dispatcher) buildNodeInput(node *models.Node) map[string]interface{} {
	input := make(map[string]interface{}, len(node.Data.InputMapping)+2)
	for key, raw := range node.Data.InputMapping {
		if ref, ok := raw.(string); ok && strings.HasPrefix(ref, "$") {
			if v, found := d.variables[strings.TrimPrefix(ref, "$")]; found {
				input[key] = v
			}
			continue
		}
		input[key] = raw
	}

	variables := make(map[string]interface{}, len(d.variables))
	for k, v := range d.variables {
		variables[k] = v
	}
	input["variables"] = variables

	upstream := make(map[string]interface{}, len(d.graph.Predecessors[node.ID]))
	for dep := range d.graph.Predecessors[node.ID] {
		if r, ok := d.nodeResults[dep]; ok {
			upstream[dep] = r
		}
	}
	input["node_results"] = upstream
	return input
}

func (d *dispatcher) recordNodeSuccess(ctx context.Context, res nodeResult) {
	d.completed[res.nodeID] = struct{}{}
	d.nodeResults[res.nodeID] = res.output
	for k, v := range res.variables {
		d.variables[k] = v
	}
	d.stepIndex++

	node := d.graph.Nodes[res.nodeID]
	elapsed := res.completedAt.Sub(res.startedAt)
	d.log.Info("node completed",
		zap.String("node_id", res.nodeID),
		zap.String("agent_kind", node.Data.AgentKind),
		zap.Int("step_index", d.stepIndex),
		zap.Duration("duration", elapsed))
	metrics.NodeExecutions.WithLabelValues(node.Data.AgentKind, "completed").Inc()
	metrics.NodeDuration.WithLabelValues(node.Data.AgentKind).Observe(elapsed.Seconds())

	d.appendLog(models.ProgressRecord{
		Timestamp:   res.completedAt,
		ExecutionID: d.req.ExecutionID,
		NodeID:      res.nodeID,
		Level:       "info",
		Type:        models.ProgressNodeCompleted,
		Result:      res.output,
	})
	d.persistAgentLog(ctx, res, "completed", "")
	d.publishNodeEvent(events.NodeCompleted, res.nodeID, map[string]interface{}{
		"agent_kind":        node.Data.AgentKind,
		"step_index":        d.stepIndex,
		"execution_time_ms": elapsed.Milliseconds(),
	})
}

func (d *dispatcher) recordNodeFailure(ctx context.Context, res nodeResult) {
	d.stepIndex++
	node := d.graph.Nodes[res.nodeID]
	d.log.Error("node failed",
		zap.String("node_id", res.nodeID),
		zap.String("agent_kind", node.Data.AgentKind),
		zap.Error(res.err))
	metrics.NodeExecutions.WithLabelValues(node.Data.AgentKind, "failed").Inc()

	d.appendLog(models.ProgressRecord{
		Timestamp:   res.completedAt,
		ExecutionID: d.req.ExecutionID,
		NodeID:      res.nodeID,
		Level:       "error",
		Type:        models.ProgressNodeFailed,
		Error:       res.err.Error(),
	})
	d.persistAgentLog(ctx, res, "failed", res.err.Error())
	d.publishNodeEvent(events.NodeFailed, res.nodeID, map[string]interface{}{
		"agent_kind": node.Data.AgentKind,
		"error":      res.err.Error(),
	})
}

// recordNodeCancelled notes a node aborted mid-flight. The abort is not
// attributed as a failure and publishes no event of its own.
func (d *dispatcher) recordNodeCancelled(ctx context.Context, res nodeResult) {
	d.stepIndex++
	node := d.graph.Nodes[res.nodeID]
	d.log.Warn("node cancelled",
		zap.String("node_id", res.nodeID),
		zap.String("agent_kind", node.Data.AgentKind))
	metrics.NodeExecutions.WithLabelValues(node.Data.AgentKind, "cancelled").Inc()
	d.persistAgentLog(ctx, res, "cancelled", "")
}

// persistAgentLog writes the durable per-node record. StepIndex is the
// completion order across the whole run.
func (d *dispatcher) persistAgentLog(ctx context.Context, res nodeResult, status, errMsg string) {
	node := d.graph.Nodes[res.nodeID]
	var outputData map[string]interface{}
	if m, ok := res.output.(map[string]interface{}); ok {
		outputData = m
	} else if res.output != nil {
		outputData = map[string]interface{}{"value": res.output}
	}

	entry := &models.AgentLog{
		ExecutionID:      d.req.ExecutionID,
		NodeID:           res.nodeID,
		AgentKind:        node.Data.AgentKind,
		AgentDisplayName: node.Data.Label,
		StepIndex:        d.stepIndex,
		Status:           status,
		OutputData:       outputData,
		ErrorMessage:     errMsg,
		ExecutionTimeMS:  res.completedAt.Sub(res.startedAt).Milliseconds(),
		StartedAt:        &res.startedAt,
		CompletedAt:      &res.completedAt,
	}
	// Persist even when the run context is gone.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := d.engine.store.AppendAgentLog(ctx, entry); err != nil {
		d.log.Warn("failed to persist agent log",
			zap.String("node_id", res.nodeID), zap.Error(err))
	}
}

// buildOutput is the terminal output: final variables plus the results
// of the graph's sink nodes.
func (d *dispatcher) buildOutput() map[string]interface{} {
	finals := make(map[string]interface{})
	for id := range d.graph.Nodes {
		if len(d.graph.Successors[id]) == 0 {
			if r, ok := d.nodeResults[id]; ok {
				finals[id] = r
			}
		}
	}
	return map[string]interface{}{
		"variables":     d.variables,
		"final_results": finals,
	}
}

func (d *dispatcher) appendLog(rec models.ProgressRecord) {
	d.logs = append(d.logs, rec)
}

func (d *dispatcher) publishNodeEvent(eventType, nodeID string, data map[string]interface{}) {
	payload := map[string]interface{}{
		"execution_id": d.req.ExecutionID,
		"node_id":      nodeID,
	}
	for k, v := range data {
		payload[k] = v
	}
	d.engine.publishProgress(d.req.WorkflowID, eventType, payload)
}
