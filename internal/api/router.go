package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/collab"
	"github.com/agentflow/agentflow/internal/common/httpmw"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/metrics"
)

// NewRouter assembles the gin engine: public health and metrics
// endpoints, and the JWT-protected API plus websocket upgrade.
func NewRouter(h *Handler, wsHandler *collab.Handler, tokens *auth.TokenService, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), httpmw.RequestLogger(log, "agentflow"), requestMetrics())

	router.GET("/healthz", h.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authed := router.Group("/", auth.Middleware(tokens))

	v1 := authed.Group("/api/v1")
	{
		v1.POST("/workflows", h.CreateWorkflow)
		v1.GET("/workflows/:id", h.GetWorkflow)
		v1.PUT("/workflows/:id", h.UpdateWorkflow)
		v1.DELETE("/workflows/:id", h.DeleteWorkflow)

		v1.POST("/workflows/validate", h.ValidateWorkflow)
		v1.POST("/workflows/:id/validate", h.ValidateSavedWorkflow)

		v1.POST("/workflows/:id/execute", h.ExecuteWorkflow)
		v1.GET("/workflows/:id/executions", h.ListExecutions)
		v1.GET("/executions/:id", h.GetExecution)
		v1.POST("/executions/:id/cancel", h.CancelExecution)
		v1.GET("/executions/:id/logs", h.GetExecutionLogs)

		v1.GET("/agents", h.ListAgents)
	}

	authed.GET("/ws/:workflow_id", wsHandler.Serve)

	return router
}

// requestMetrics counts requests by method, route template and status.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(
			c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
