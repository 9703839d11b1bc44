// Package api exposes the HTTP surface: workflow management, execution
// control, validation, and the agent catalog.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentflow/agentflow/internal/agents"
	"github.com/agentflow/agentflow/internal/auth"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/engine"
	"github.com/agentflow/agentflow/internal/workflow/models"
	"github.com/agentflow/agentflow/internal/workflow/store"
	"github.com/agentflow/agentflow/internal/workflow/validator"
)

// Handler contains the HTTP handlers for the AgentFlow API.
type Handler struct {
	store     store.Store
	engine    *engine.Engine
	validator *validator.Validator
	registry  *agents.Registry
	logger    *logger.Logger
}

// NewHandler creates the API handler.
func NewHandler(st store.Store, eng *engine.Engine, val *validator.Validator, registry *agents.Registry, log *logger.Logger) *Handler {
	return &Handler{
		store:     st,
		engine:    eng,
		validator: val,
		registry:  registry,
		logger:    log.WithFields(zap.String("component", "api")),
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.InternalError("internal server error", err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(appErr.HTTPStatus, gin.H{"error": appErr})
}

// CreateWorkflowRequest is the body for POST /workflows.
type CreateWorkflowRequest struct {
	Name            string                 `json:"name" binding:"required"`
	WorkflowData    models.WorkflowData    `json:"workflow_data"`
	ExecutionConfig models.ExecutionConfig `json:"execution_config"`
	Tags            []string               `json:"tags"`
	Visibility      string                 `json:"visibility"`
}

// CreateWorkflow handles POST /api/v1/workflows.
func (h *Handler) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(err.Error()))
		return
	}

	if result := h.validator.Validate(req.WorkflowData); !result.IsValid {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "workflow is not valid",
			"validation": result,
		})
		return
	}

	now := time.Now().UTC()
	visibility := req.Visibility
	if visibility == "" {
		visibility = "private"
	}
	wf := &models.Workflow{
		ID:              uuid.New().String(),
		OwnerID:         auth.UserID(c),
		Name:            req.Name,
		Version:         1,
		WorkflowData:    req.WorkflowData,
		ExecutionConfig: req.ExecutionConfig,
		Tags:            req.Tags,
		Visibility:      visibility,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.store.CreateWorkflow(c.Request.Context(), wf); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wf)
}

// GetWorkflow handles GET /api/v1/workflows/:id.
func (h *Handler) GetWorkflow(c *gin.Context) {
	wf, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// UpdateWorkflowRequest is the body for PUT /workflows/:id.
type UpdateWorkflowRequest struct {
	Name            string                  `json:"name"`
	WorkflowData    *models.WorkflowData    `json:"workflow_data"`
	ExecutionConfig *models.ExecutionConfig `json:"execution_config"`
	Tags            []string                `json:"tags"`
	Visibility      string                  `json:"visibility"`
}

// UpdateWorkflow handles PUT /api/v1/workflows/:id. Only the owner may
// mutate; the store bumps the version.
func (h *Handler) UpdateWorkflow(c *gin.Context) {
	userID := auth.UserID(c)
	wf, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if wf.OwnerID != userID {
		h.respondError(c, apperrors.Forbidden("only the owner may modify a workflow"))
		return
	}

	var req UpdateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(err.Error()))
		return
	}
	if req.Name != "" {
		wf.Name = req.Name
	}
	if req.WorkflowData != nil {
		if result := h.validator.Validate(*req.WorkflowData); !result.IsValid {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":      "workflow is not valid",
				"validation": result,
			})
			return
		}
		wf.WorkflowData = *req.WorkflowData
	}
	if req.ExecutionConfig != nil {
		wf.ExecutionConfig = *req.ExecutionConfig
	}
	if req.Tags != nil {
		wf.Tags = req.Tags
	}
	if req.Visibility != "" {
		wf.Visibility = req.Visibility
	}

	if err := h.store.UpdateWorkflow(c.Request.Context(), wf); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

// DeleteWorkflow handles DELETE /api/v1/workflows/:id. Cascades to the
// workflow's executions.
func (h *Handler) DeleteWorkflow(c *gin.Context) {
	if err := h.store.DeleteWorkflow(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExecuteWorkflowRequest is the body for POST /workflows/:id/execute.
type ExecuteWorkflowRequest struct {
	InputData map[string]interface{} `json:"input_data"`
}

// ExecuteWorkflow handles POST /api/v1/workflows/:id/execute. The
// execution record is created queued and handed to the engine; the
// response does not wait for completion.
func (h *Handler) ExecuteWorkflow(c *gin.Context) {
	userID := auth.UserID(c)
	wf, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	var req ExecuteWorkflowRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, apperrors.ValidationError(err.Error()))
			return
		}
	}

	inputData := req.InputData
	if inputData == nil {
		inputData = map[string]interface{}{}
	}
	for k, v := range wf.ExecutionConfig.InitialVariables {
		if _, present := inputData[k]; !present {
			inputData[k] = v
		}
	}

	exec := &models.Execution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		UserID:      userID,
		Status:      models.StatusQueued,
		TriggerType: models.TriggerAPI,
		InputData:   inputData,
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateExecution(c.Request.Context(), exec); err != nil {
		h.respondError(c, err)
		return
	}

	execReq := engine.ExecuteRequest{
		ExecutionID:  exec.ID,
		WorkflowID:   wf.ID,
		UserID:       userID,
		WorkflowData: wf.WorkflowData,
		InputData:    inputData,
	}
	go func() {
		if _, err := h.engine.Execute(context.Background(), execReq); err != nil {
			h.logger.Error("execution failed to start",
				zap.String("execution_id", exec.ID), zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"execution_id": exec.ID,
		"status":       string(models.StatusQueued),
		"message":      "execution queued",
	})
}

// ListExecutions handles GET /api/v1/workflows/:id/executions.
func (h *Handler) ListExecutions(c *gin.Context) {
	userID := auth.UserID(c)
	// Workflow visibility gates the listing.
	if _, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"), userID); err != nil {
		h.respondError(c, err)
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	execs, err := h.store.ListExecutions(c.Request.Context(), store.ExecutionFilter{
		WorkflowID: c.Param("id"),
		Status:     models.ExecutionStatus(c.Query("status")),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"executions": execs,
		"limit":      limit,
		"offset":     offset,
		"count":      len(execs),
	})
}

// GetExecution handles GET /api/v1/executions/:id. The embedded
// progress log rides along on the record.
func (h *Handler) GetExecution(c *gin.Context) {
	exec, err := h.store.GetExecution(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// CancelExecution handles POST /api/v1/executions/:id/cancel.
func (h *Handler) CancelExecution(c *gin.Context) {
	// Ownership check before touching the engine.
	if _, err := h.store.GetExecution(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	if err := h.engine.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"execution_id": c.Param("id"),
		"message":      "cancellation requested",
	})
}

// GetExecutionLogs handles GET /api/v1/executions/:id/logs. Agent logs
// come back in completion order.
func (h *Handler) GetExecutionLogs(c *gin.Context) {
	if _, err := h.store.GetExecution(c.Request.Context(), c.Param("id"), auth.UserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	logs, err := h.store.ListAgentLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// ValidateWorkflowRequest is the body for POST /workflows/validate.
type ValidateWorkflowRequest struct {
	WorkflowData models.WorkflowData `json:"workflow_data"`
}

// ValidateWorkflow handles POST /api/v1/workflows/validate.
func (h *Handler) ValidateWorkflow(c *gin.Context) {
	var req ValidateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.ValidationError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, h.validator.Validate(req.WorkflowData))
}

// ValidateSavedWorkflow handles POST /api/v1/workflows/:id/validate.
func (h *Handler) ValidateSavedWorkflow(c *gin.Context) {
	wf, err := h.store.GetWorkflow(c.Request.Context(), c.Param("id"), auth.UserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.validator.Validate(wf.WorkflowData))
}

// ListAgents handles GET /api/v1/agents: the registry catalog with
// schemas, for editor palettes.
func (h *Handler) ListAgents(c *gin.Context) {
	defs := h.registry.List()
	c.JSON(http.StatusOK, gin.H{"agents": defs, "count": len(defs)})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
