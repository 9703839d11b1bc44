package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/common/logger"
	"github.com/agentflow/agentflow/internal/events"
	"github.com/agentflow/agentflow/internal/events/bus"
)

func newTestHub(t *testing.T, maxPerUser int) (*Hub, *bus.MemoryEventBus) {
	t.Helper()
	log := logger.Default()
	eventBus := bus.NewMemoryEventBus(log)
	hub := NewHub(eventBus, maxPerUser, log)
	require.NoError(t, hub.Start())
	t.Cleanup(hub.Stop)
	return hub, eventBus
}

// testClient joins the hub without a real socket; frames are read
// straight from the send buffer.
func testClient(workflowID, userID string) *Client {
	return NewClient(workflowID, userID, nil, logger.Default())
}

func recvFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case data := <-c.send:
		var frame Frame
		require.NoError(t, json.Unmarshal(data, &frame))
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame: %s", data)
	default:
	}
}

func TestHub_ConnectAnnouncesToPeersOnly(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	b := testClient("wf-1", "bob")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(b))

	frame := recvFrame(t, a)
	assert.Equal(t, events.UserJoined, frame["type"])
	assert.Equal(t, "bob", frame["user_id"])
	assert.NotEmpty(t, frame["timestamp"])

	// The joiner itself hears nothing.
	assertNoFrame(t, b)
	assert.Equal(t, 2, hub.SubscriberCount("wf-1"))
}

func TestHub_DisconnectAnnouncesAndClearsCursor(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	b := testClient("wf-1", "bob")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(b))
	recvFrame(t, a) // bob joined

	hub.HandleMessage(b, []byte(`{"type":"cursor_update","position":{"x":1,"y":2}}`))
	recvFrame(t, a) // bob's cursor
	require.Contains(t, hub.Cursors("wf-1"), "bob")

	hub.Disconnect(b)
	frame := recvFrame(t, a)
	assert.Equal(t, events.UserLeft, frame["type"])
	assert.Equal(t, "bob", frame["user_id"])
	assert.NotContains(t, hub.Cursors("wf-1"), "bob")
	assert.Equal(t, 1, hub.SubscriberCount("wf-1"))

	// A second disconnect is a no-op.
	hub.Disconnect(b)
	assertNoFrame(t, a)
}

func TestHub_CursorUpdateStoredAndRebroadcast(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	b := testClient("wf-1", "bob")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(b))
	recvFrame(t, a)

	hub.HandleMessage(a, []byte(`{"type":"cursor_update","position":{"x":10,"y":20}}`))

	frame := recvFrame(t, b)
	assert.Equal(t, events.CursorUpdate, frame["type"])
	assert.Equal(t, "ada", frame["user_id"])
	position := frame["position"].(map[string]interface{})
	assert.Equal(t, 10.0, position["x"])

	// The sender does not get its own cursor back.
	assertNoFrame(t, a)

	cursors := hub.Cursors("wf-1")
	require.Contains(t, cursors, "ada")
}

func TestHub_ChatAndEditFramesRebroadcast(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	b := testClient("wf-1", "bob")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(b))
	recvFrame(t, a)

	hub.HandleMessage(a, []byte(`{"type":"chat_message","message":"hello"}`))
	frame := recvFrame(t, b)
	assert.Equal(t, events.ChatMessage, frame["type"])
	assert.Equal(t, "hello", frame["message"])

	hub.HandleMessage(a, []byte(`{"type":"node_update","node_id":"n1","changes":{"label":"x"}}`))
	frame = recvFrame(t, b)
	assert.Equal(t, events.NodeUpdate, frame["type"])
	assert.Equal(t, "n1", frame["node_id"])
}

func TestHub_FramesStayInsideWorkflow(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	other := testClient("wf-2", "cyd")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(other))

	hub.HandleMessage(a, []byte(`{"type":"chat_message","message":"private"}`))
	assertNoFrame(t, other)
}

func TestHub_UnknownAndMalformedFramesIgnored(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	b := testClient("wf-1", "bob")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(b))
	recvFrame(t, a)

	hub.HandleMessage(a, []byte(`{"type":"format_disk"}`))
	hub.HandleMessage(a, []byte(`{not json`))
	assertNoFrame(t, b)
}

func TestHub_ConnectionCapPerUser(t *testing.T) {
	hub, _ := newTestHub(t, 1)

	first := testClient("wf-1", "ada")
	require.NoError(t, hub.Connect(first))

	second := testClient("wf-1", "ada")
	require.Error(t, hub.Connect(second))

	// The cap is per workflow.
	elsewhere := testClient("wf-2", "ada")
	require.NoError(t, hub.Connect(elsewhere))
}

func TestHub_EngineEventsRebroadcast(t *testing.T) {
	hub, eventBus := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	require.NoError(t, hub.Connect(a))

	event := bus.NewEvent(events.ExecutionUpdate, events.SourceEngine, map[string]interface{}{
		"workflow_id":  "wf-1",
		"execution_id": "exec-1",
		"status":       "running",
	})
	require.NoError(t, eventBus.Publish(context.Background(), events.BuildExecutionSubject("wf-1"), event))

	frame := recvFrame(t, a)
	assert.Equal(t, events.ExecutionUpdate, frame["type"])
	assert.Equal(t, "exec-1", frame["execution_id"])
	assert.Equal(t, "running", frame["status"])
	assert.NotEmpty(t, frame["timestamp"])
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	hub, _ := newTestHub(t, 0)

	a := testClient("wf-1", "ada")
	slow := testClient("wf-1", "bob")
	require.NoError(t, hub.Connect(a))
	require.NoError(t, hub.Connect(slow))
	recvFrame(t, a)

	// Jam the subscriber's buffer so the next broadcast cannot land.
	for i := 0; i < sendBuffer; i++ {
		require.True(t, slow.trySend([]byte("{}")))
	}

	hub.HandleMessage(a, []byte(`{"type":"chat_message","message":"x"}`))
	assert.Equal(t, 1, hub.SubscriberCount("wf-1"))

	// The drop is announced to survivors.
	frame := recvFrame(t, a)
	assert.Equal(t, events.UserLeft, frame["type"])
	assert.Equal(t, "bob", frame["user_id"])
}
