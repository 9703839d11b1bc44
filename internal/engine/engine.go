// Package engine runs workflow executions: graph scheduling, agent
// dispatch, cancellation, and write-through persistence.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/agentflow/agentflow/internal/agents"
	"github.com/agentflow/agentflow/internal/common/config"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/events"
	"github.com/agentflow/agentflow/internal/events/bus"
	"github.com/agentflow/agentflow/internal/metrics"
	"github.com/agentflow/agentflow/internal/workflow/graph"
	"github.com/agentflow/agentflow/internal/workflow/models"
	"github.com/agentflow/agentflow/internal/workflow/store"
)

const monitorInterval = time.Minute

// Engine coordinates workflow executions. Safe for concurrent use.
type Engine struct {
	cfg      config.EngineConfig
	store    store.Store
	registry *agents.Registry
	bus      bus.EventBus
	log      *logger.Logger

	sem *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]*inflightRun

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	monitorWg  sync.WaitGroup
	started    bool
}

// inflightRun is one live execution as seen by Cancel and the monitor
// loop.
type inflightRun struct {
	executionID string
	workflowID  string
	startedAt   time.Time
	cancel      context.CancelFunc
}

// New creates an engine. Call Start before Execute.
func New(cfg config.EngineConfig, st store.Store, registry *agents.Registry, eventBus bus.EventBus, log *logger.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		registry: registry,
		bus:      eventBus,
		log:      log,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentExecutions)),
		inflight: make(map[string]*inflightRun),
	}
}

// Start launches the stale-execution monitor.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return
	}
	e.baseCtx, e.baseCancel = context.WithCancel(context.Background())
	e.started = true

	e.monitorWg.Add(1)
	go e.monitorLoop()
	e.log.Info("execution engine started",
		zap.Int("max_concurrent_executions", e.cfg.MaxConcurrentExecutions),
		zap.Int("execution_timeout_seconds", e.cfg.ExecutionTimeoutSeconds))
}

// Stop cancels every in-flight execution and waits for them to drain,
// bounded by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.baseCancel()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.monitorWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.log.Info("execution engine stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown timed out: %w", ctx.Err())
	}
}

// ExecuteRequest carries everything needed to run one workflow.
type ExecuteRequest struct {
	ExecutionID  string
	WorkflowID   string
	UserID       string
	WorkflowData models.WorkflowData
	InputData    map[string]interface{}
}

// Execute runs a workflow to completion and returns the final record.
// Blocks while the engine is at its concurrency cap.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*models.Execution, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, apperrors.ServiceUnavailable("execution engine")
	}
	baseCtx := e.baseCtx
	e.mu.Unlock()

	// Admission: block until a slot frees or the caller gives up.
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Cancelled("execution admission cancelled")
	}
	defer e.sem.Release(1)

	g, err := graph.Build(req.WorkflowData.Nodes, req.WorkflowData.Edges)
	if err != nil {
		e.failBeforeStart(req.ExecutionID, err)
		return nil, err
	}

	execCtx, cancel := context.WithCancel(baseCtx)
	defer cancel()
	run := &inflightRun{
		executionID: req.ExecutionID,
		workflowID:  req.WorkflowID,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
	}
	e.mu.Lock()
	e.inflight[req.ExecutionID] = run
	e.mu.Unlock()
	e.wg.Add(1)
	metrics.ExecutionsInFlight.Inc()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, req.ExecutionID)
		e.mu.Unlock()
		e.wg.Done()
		metrics.ExecutionsInFlight.Dec()
	}()

	log := e.log.WithWorkflowID(req.WorkflowID).WithExecutionID(req.ExecutionID)
	log.Info("execution started", zap.Int("nodes", len(req.WorkflowData.Nodes)))

	running := models.StatusRunning
	if err := e.store.UpdateExecution(execCtx, req.ExecutionID, models.ExecutionPatch{
		Status:    &running,
		StartedAt: &run.startedAt,
	}); err != nil {
		return nil, apperrors.Wrap(err, "failed to mark execution running")
	}
	e.publishProgress(req.WorkflowID, events.ExecutionUpdate, map[string]interface{}{
		"execution_id": req.ExecutionID,
		"status":       string(models.StatusRunning),
	})

	d := newDispatcher(e, g, req, log)
	outcome := d.run(execCtx)

	final := e.finishExecution(req, run, outcome, log)
	return final, nil
}

// Cancel requests cancellation of a run. Terminal executions return a
// conflict; unknown ids return not found.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	run, ok := e.inflight[executionID]
	if ok {
		run.cancel()
	}
	e.mu.Unlock()
	if ok {
		e.log.Info("execution cancellation requested", zap.String("execution_id", executionID))
		return nil
	}

	exec, err := e.store.GetExecution(ctx, executionID, "")
	if err != nil {
		return err
	}
	if exec.Status.IsTerminal() {
		return apperrors.Conflict("execution already finished")
	}
	// Queued but not yet admitted: mark cancelled directly.
	cancelled := models.StatusCancelled
	now := time.Now().UTC()
	return e.store.UpdateExecution(ctx, executionID, models.ExecutionPatch{
		Status:      &cancelled,
		CompletedAt: &now,
	})
}

// cancelRun aborts a run's context. The dispatcher uses it to stop the
// remaining siblings after the first node failure.
func (e *Engine) cancelRun(executionID string) {
	e.mu.Lock()
	run, ok := e.inflight[executionID]
	e.mu.Unlock()
	if ok {
		run.cancel()
	}
}

// failBeforeStart records a graph-construction failure as a failed run.
func (e *Engine) failBeforeStart(executionID string, cause error) {
	failed := models.StatusFailed
	now := time.Now().UTC()
	msg := cause.Error()
	_ = e.store.UpdateExecution(context.Background(), executionID, models.ExecutionPatch{
		Status:       &failed,
		ErrorMessage: &msg,
		CompletedAt:  &now,
	})
}

// finishExecution writes the terminal record and emits the final
// events. The store ignores the write if a concurrent writer already
// finished the run.
func (e *Engine) finishExecution(req ExecuteRequest, run *inflightRun, outcome *dispatchOutcome, log *logger.Logger) *models.Execution {
	now := time.Now().UTC()
	elapsed := now.Sub(run.startedAt).Milliseconds()

	status := models.StatusCompleted
	var errMsg string
	switch {
	case outcome.cancelled:
		status = models.StatusCancelled
	case outcome.err != nil:
		status = models.StatusFailed
		errMsg = outcome.err.Error()
	}

	patch := models.ExecutionPatch{
		Status:          &status,
		CompletedAt:     &now,
		ExecutionTimeMS: &elapsed,
		Logs:            outcome.logs,
	}
	if status == models.StatusCompleted {
		patch.OutputData = outcome.output
	}
	if errMsg != "" {
		patch.ErrorMessage = &errMsg
	}
	// Terminal write must land before Execute returns; use a fresh
	// context so cancellation cannot lose it.
	if err := e.store.UpdateExecution(context.Background(), req.ExecutionID, patch); err != nil {
		log.Error("failed to persist terminal execution state", zap.Error(err))
	}

	eventType := events.ExecutionUpdate
	if status == models.StatusCancelled {
		eventType = events.ExecutionCancelled
	}
	e.publishProgress(req.WorkflowID, eventType, map[string]interface{}{
		"execution_id":      req.ExecutionID,
		"status":            string(status),
		"error_message":     errMsg,
		"execution_time_ms": elapsed,
	})
	metrics.ExecutionsTotal.WithLabelValues(string(status)).Inc()
	log.Info("execution finished",
		zap.String("status", string(status)),
		zap.Int64("execution_time_ms", elapsed))

	final, err := e.store.GetExecution(context.Background(), req.ExecutionID, "")
	if err != nil {
		// Fall back to an in-memory view.
		final = &models.Execution{
			ID:           req.ExecutionID,
			WorkflowID:   req.WorkflowID,
			UserID:       req.UserID,
			Status:       status,
			OutputData:   outcome.output,
			ErrorMessage: errMsg,
			StartedAt:    &run.startedAt,
			CompletedAt:  &now,
			Logs:         outcome.logs,
		}
	}
	return final
}

func (e *Engine) publishProgress(workflowID, eventType string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	subject := events.BuildExecutionSubject(workflowID)
	data["workflow_id"] = workflowID
	event := bus.NewEvent(eventType, events.SourceEngine, data)
	if err := e.bus.Publish(context.Background(), subject, event); err != nil {
		e.log.Warn("failed to publish progress event",
			zap.String("subject", subject), zap.Error(err))
	}
}

// monitorLoop cancels executions that outlive the wall-clock cap.
func (e *Engine) monitorLoop() {
	defer e.monitorWg.Done()
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	timeout := time.Duration(e.cfg.ExecutionTimeoutSeconds) * time.Second
	for {
		select {
		case <-e.baseCtx.Done():
			return
		case <-ticker.C:
			e.cancelStaleRuns(timeout)
		}
	}
}

func (e *Engine) cancelStaleRuns(timeout time.Duration) {
	now := time.Now().UTC()
	e.mu.Lock()
	var stale []*inflightRun
	for _, run := range e.inflight {
		if now.Sub(run.startedAt) > timeout {
			stale = append(stale, run)
		}
	}
	e.mu.Unlock()

	for _, run := range stale {
		e.log.Warn("cancelling stale execution",
			zap.String("execution_id", run.executionID),
			zap.String("workflow_id", run.workflowID),
			zap.Time("started_at", run.startedAt))
		run.cancel()
		metrics.ExecutionsTimedOut.Inc()
	}
}

// isCancellation reports whether an error is a cooperative abort rather
// than a real node failure.
func isCancellation(err error) bool {
	return err != nil && (apperrors.IsCancelled(err) ||
		errors.Is(err, context.Canceled) ||
		strings.Contains(err.Error(), context.Canceled.Error()))
}
