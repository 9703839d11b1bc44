package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/agentflow/internal/common/config"
	apperrors "github.com/agentflow/agentflow/internal/common/errors"
)

func defaultTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry(BuiltinDeps{})
	require.NoError(t, err)
	return r
}

func TestRegistry_BuiltinsRegistered(t *testing.T) {
	r := defaultTestRegistry(t)

	kinds := []string{
		"http_caller", "data_processor", "code_analyzer",
		"file_handler", "email_sender", "database_query", "llm_text_generator",
	}
	for _, kind := range kinds {
		assert.True(t, r.Has(kind), "missing builtin %s", kind)
	}
	assert.False(t, r.Has("teleporter"))

	defs := r.List()
	require.Len(t, defs, len(kinds))
	for _, def := range defs {
		assert.NotEmpty(t, def.DisplayName, "definition %s has no display name", def.Kind)
		assert.NotNil(t, def.InputSchema, "definition %s has no input schema", def.Kind)
	}
}

func TestRegistry_UnknownAgent(t *testing.T) {
	r := defaultTestRegistry(t)

	_, err := r.Execute(context.Background(), "teleporter", Invocation{})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeUnknownAgent, appErr.Code)
}

func TestRegistry_InputSchemaEnforced(t *testing.T) {
	r := defaultTestRegistry(t)

	// http_caller requires url.
	_, err := r.Execute(context.Background(), "http_caller", Invocation{
		Input: map[string]interface{}{"method": "GET"},
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeValidationError, appErr.Code)
}

func TestRegistry_DuplicateKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(dataProcessorDefinition(), NewDataProcessor()))
	err := r.Register(dataProcessorDefinition(), NewDataProcessor())
	require.Error(t, err)
}

func TestRegistry_AgentFailureWrapped(t *testing.T) {
	r := defaultTestRegistry(t)

	// A transport failure is untyped and gets wrapped as an agent
	// failure attributed to the kind.
	_, err := r.Execute(context.Background(), "http_caller", Invocation{
		Config: map[string]interface{}{"retries": 1, "timeout_seconds": 1},
		Input:  map[string]interface{}{"url": "http://127.0.0.1:1/unreachable"},
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeAgentFailure, appErr.Code)
}

func TestRegistry_TypedErrorsPassThrough(t *testing.T) {
	r := defaultTestRegistry(t)

	// An unknown filter operator is a validation error and keeps its
	// code through dispatch.
	_, err := r.Execute(context.Background(), "data_processor", Invocation{
		Input: map[string]interface{}{
			"data":      []interface{}{map[string]interface{}{"a": 1.0}},
			"operation": "filter",
			"parameters": map[string]interface{}{
				"conditions": []interface{}{
					map[string]interface{}{"column": "a", "operator": "explode", "value": 1.0},
				},
			},
		},
	})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeValidationError, appErr.Code)
}

func TestRegistry_SatisfiesValidatorCatalog(t *testing.T) {
	// The registry doubles as the validator's agent catalog.
	var catalog interface{ Has(string) bool } = defaultTestRegistry(t)
	assert.True(t, catalog.Has("code_analyzer"))
}

func TestNewOpenAIClient_NoKey(t *testing.T) {
	assert.Nil(t, NewOpenAIClient(config.LLMConfig{}))
}
