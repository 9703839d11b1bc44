// Package collab is the workflow-scoped collaboration hub. It fans
// frames out to every live subscriber of a workflow: cursor moves, edit
// operations, chat, and execution progress re-broadcast from the event
// bus.
package collab

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/events"
	"github.com/agentflow/agentflow/internal/events/bus"
	"github.com/agentflow/agentflow/internal/metrics"
)

// Frame is one collaboration message. Frames are flat JSON objects
// distinguished by their "type" field; every outbound frame carries a
// UTC timestamp.
type Frame map[string]interface{}

// room is the live state of one workflow: its subscribers and the last
// known cursor position per user.
type room struct {
	clients map[*Client]struct{}
	cursors map[string]interface{}
}

// Hub owns all subscription state. The engine never calls into it
// directly; progress arrives over the event bus.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	maxPerUser int
	bus        bus.EventBus
	sub        bus.Subscription
	log        *logger.Logger
}

// NewHub creates a hub. maxPerUser caps connections per user per
// workflow; zero means unlimited.
func NewHub(eventBus bus.EventBus, maxPerUser int, log *logger.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]*room),
		maxPerUser: maxPerUser,
		bus:        eventBus,
		log:        log.WithFields(zap.String("component", "collab_hub")),
	}
}

// Start subscribes the hub to engine progress events for all workflows.
func (h *Hub) Start() error {
	if h.bus == nil {
		return nil
	}
	sub, err := h.bus.Subscribe(events.BuildExecutionWildcardSubject(), h.onEngineEvent)
	if err != nil {
		return apperrors.Wrap(err, "failed to subscribe to execution events")
	}
	h.sub = sub
	h.log.Info("collaboration hub subscribed to execution events")
	return nil
}

// Stop drops the bus subscription and closes every client.
func (h *Hub) Stop() {
	if h.sub != nil {
		_ = h.sub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for c := range r.clients {
			c.close()
		}
	}
	h.rooms = make(map[string]*room)
}

// Connect registers a client and announces it to its peers. Fails when
// the user already holds the maximum number of connections for the
// workflow.
func (h *Hub) Connect(c *Client) error {
	h.mu.Lock()
	r, ok := h.rooms[c.workflowID]
	if !ok {
		r = &room{clients: make(map[*Client]struct{}), cursors: make(map[string]interface{})}
		h.rooms[c.workflowID] = r
	}
	if h.maxPerUser > 0 {
		open := 0
		for peer := range r.clients {
			if peer.userID == c.userID {
				open++
			}
		}
		if open >= h.maxPerUser {
			h.mu.Unlock()
			return apperrors.Conflict("connection limit reached for user '" + c.userID + "'")
		}
	}
	r.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.WebsocketConnections.Inc()
	h.log.Debug("client joined",
		zap.String("workflow_id", c.workflowID),
		zap.String("user_id", c.userID))

	h.broadcast(c.workflowID, Frame{
		"type":    events.UserJoined,
		"user_id": c.userID,
	}, c)
	return nil
}

// Disconnect removes a client and its cursor, then announces the
// departure. Safe to call more than once.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	r, ok := h.rooms[c.workflowID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, member := r.clients[c]; !member {
		h.mu.Unlock()
		return
	}
	delete(r.clients, c)
	delete(r.cursors, c.userID)
	if len(r.clients) == 0 {
		delete(h.rooms, c.workflowID)
	}
	h.mu.Unlock()

	c.close()
	metrics.WebsocketConnections.Dec()
	h.log.Debug("client left",
		zap.String("workflow_id", c.workflowID),
		zap.String("user_id", c.userID))

	h.broadcast(c.workflowID, Frame{
		"type":    events.UserLeft,
		"user_id": c.userID,
	}, nil)
}

// HandleMessage dispatches one inbound frame from a client. Cursor
// updates mutate hub state; everything else is re-broadcast to the
// sender's peers.
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		h.log.Warn("dropping malformed frame",
			zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	frameType, _ := frame["type"].(string)
	if frame["user_id"] == nil {
		frame["user_id"] = c.userID
	}

	switch frameType {
	case events.CursorUpdate:
		h.mu.Lock()
		if r, ok := h.rooms[c.workflowID]; ok {
			r.cursors[c.userID] = frame["position"]
		}
		h.mu.Unlock()
		h.broadcast(c.workflowID, frame, c)
	case events.NodeUpdate, events.WorkflowSave, events.ChatMessage:
		h.broadcast(c.workflowID, frame, c)
	default:
		h.log.Debug("ignoring unknown frame type",
			zap.String("type", frameType),
			zap.String("user_id", c.userID))
	}
}

// Cursors returns the current cursor positions for a workflow.
func (h *Hub) Cursors(workflowID string) map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[workflowID]
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(r.cursors))
	for k, v := range r.cursors {
		out[k] = v
	}
	return out
}

// SubscriberCount returns the number of live connections for a workflow.
func (h *Hub) SubscriberCount(workflowID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[workflowID]; ok {
		return len(r.clients)
	}
	return 0
}

// broadcast sends a frame to every subscriber of a workflow except the
// optional sender. Subscribers whose send buffer is full are dropped.
func (h *Hub) broadcast(workflowID string, frame Frame, exclude *Client) {
	frame["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("failed to marshal frame", zap.Error(err))
		return
	}

	// Snapshot under the read lock; sends happen outside it.
	h.mu.RLock()
	r, ok := h.rooms[workflowID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		if c != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) {
			h.log.Warn("dropping slow subscriber",
				zap.String("workflow_id", workflowID),
				zap.String("user_id", c.userID))
			h.Disconnect(c)
		}
	}
}

// onEngineEvent re-broadcasts one engine progress event to the
// workflow's subscribers.
func (h *Hub) onEngineEvent(ctx context.Context, event *bus.Event) error {
	workflowID := workflowIDFromEvent(event)
	if workflowID == "" {
		return nil
	}
	frame := Frame{"type": event.Type}
	for k, v := range event.Data {
		if k == "type" || k == "timestamp" {
			continue
		}
		frame[k] = v
	}
	h.broadcast(workflowID, frame, nil)
	return nil
}

// workflowIDFromEvent recovers the workflow id carried in the event
// payload, falling back to nothing when absent.
func workflowIDFromEvent(event *bus.Event) string {
	if id, ok := event.Data["workflow_id"].(string); ok {
		return strings.TrimSpace(id)
	}
	return ""
}
