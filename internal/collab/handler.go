package collab

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentflow/agentflow/internal/auth"
	"github.com/agentflow/agentflow/internal/common/config"
	"github.com/agentflow/agentflow/internal/common/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Cross-origin editors are expected; auth happens via JWT.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to collaboration connections.
type Handler struct {
	hub *Hub
	cfg config.WebSocketConfig
	log *logger.Logger
}

// NewHandler creates the websocket endpoint handler.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, log *logger.Logger) *Handler {
	return &Handler{hub: hub, cfg: cfg, log: log}
}

// Serve handles GET /ws/:workflow_id. The auth middleware has already
// resolved the user from the bearer token or the token query parameter.
func (h *Handler) Serve(c *gin.Context) {
	workflowID := c.Param("workflow_id")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow_id is required"})
		return
	}
	userID := auth.UserID(c)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(workflowID, userID, conn, h.log)
	if err := h.hub.Connect(client); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	pongWait := h.cfg.Timeout()
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := h.cfg.Heartbeat()
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = pongWait * 9 / 10
	}

	go client.writePump(pingPeriod)
	client.readPump(h.hub, pongWait)
}
