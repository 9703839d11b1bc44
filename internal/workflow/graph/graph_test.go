package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/workflow/models"
)

func node(id string) models.Node {
	return models.Node{ID: id, Kind: models.NodeKindAgent, Data: models.NodeData{Label: id}}
}

func edge(id, source, target string) models.Edge {
	return models.Edge{ID: id, SourceNodeID: source, TargetNodeID: target}
}

func TestBuild_Linear(t *testing.T) {
	g, err := Build(
		[]models.Node{node("a"), node("b"), node("c")},
		[]models.Edge{edge("e1", "a", "b"), edge("e2", "b", "c")},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, g.EntryPoints())
	assert.Len(t, g.Predecessors["c"], 1)
	assert.Len(t, g.Successors["a"], 1)
}

func TestBuild_Diamond(t *testing.T) {
	g, err := Build(
		[]models.Node{node("a"), node("b"), node("c"), node("d")},
		[]models.Edge{
			edge("e1", "a", "b"),
			edge("e2", "a", "c"),
			edge("e3", "b", "d"),
			edge("e4", "c", "d"),
		},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, g.EntryPoints())
	assert.Len(t, g.Predecessors["d"], 2)
}

func TestBuild_EmptyGraph(t *testing.T) {
	_, err := Build(nil, nil)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidWorkflow, appErr.Code)
}

func TestBuild_UnknownEdgeTarget(t *testing.T) {
	_, err := Build(
		[]models.Node{node("a")},
		[]models.Edge{edge("e1", "a", "missing")},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build(
		[]models.Node{node("a"), node("b"), node("c")},
		[]models.Edge{
			edge("e1", "a", "b"),
			edge("e2", "b", "c"),
			edge("e3", "c", "a"),
		},
	)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeInvalidWorkflow, appErr.Code)
}

func TestBuild_SelfLoop(t *testing.T) {
	_, err := Build(
		[]models.Node{node("a")},
		[]models.Edge{edge("e1", "a", "a")},
	)
	require.Error(t, err)
}

func TestBuild_DuplicateNodeID(t *testing.T) {
	_, err := Build([]models.Node{node("a"), node("a")}, nil)
	require.Error(t, err)
}

func TestBuild_MultipleEntryPoints(t *testing.T) {
	g, err := Build(
		[]models.Node{node("a"), node("b"), node("c")},
		[]models.Edge{edge("e1", "a", "c"), edge("e2", "b", "c")},
	)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, g.EntryPoints())
}

func TestHasCycle(t *testing.T) {
	nodes := []models.Node{node("a"), node("b")}

	assert.False(t, HasCycle(nodes, []models.Edge{edge("e1", "a", "b")}))
	assert.True(t, HasCycle(nodes, []models.Edge{
		edge("e1", "a", "b"),
		edge("e2", "b", "a"),
	}))
}

func TestHasCycle_IgnoresUnknownNodes(t *testing.T) {
	nodes := []models.Node{node("a")}
	assert.False(t, HasCycle(nodes, []models.Edge{edge("e1", "a", "ghost")}))
}
