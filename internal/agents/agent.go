// Package agents contains the built-in agent implementations and the
// registry the execution engine dispatches through.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/agentflow/agentflow/internal/common/errors"
	"github.com/agentflow/agentflow/internal/common/logger"
)

// Result is the common return shape of every agent invocation.
type Result struct {
	// Output is the agent's primary result.
	Output interface{} `json:"output"`
	// Variables are merged into the execution's variable scope.
	Variables map[string]interface{} `json:"variables,omitempty"`
	// Metadata carries timing and bookkeeping.
	Metadata Metadata `json:"metadata"`
}

// Metadata records timing for one agent invocation.
type Metadata struct {
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt time.Time              `json:"completed_at"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// Invocation is what the engine hands an agent for one node run.
type Invocation struct {
	ExecutionID string
	NodeID      string
	UserID      string
	Config      map[string]interface{}
	Input       map[string]interface{}
	Logger      *logger.Logger
}

// Agent executes one node. Implementations must honor ctx cancellation
// on blocking work.
type Agent interface {
	Kind() string
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// Definition is the registry entry surfaced to clients and the
// validation service.
type Definition struct {
	Kind         string                 `json:"kind"`
	DisplayName  string                 `json:"display_name"`
	Description  string                 `json:"description"`
	ConfigSchema map[string]interface{} `json:"config_schema"`
	InputSchema  map[string]interface{} `json:"input_schema"`
	OutputSchema map[string]interface{} `json:"output_schema"`
}

type entry struct {
	def   Definition
	agent Agent
	input *compiledSchema
}

// Registry maps agent kinds to implementations and their schemas.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds an agent under its kind. The input schema is compiled
// once at registration time.
func (r *Registry) Register(def Definition, agent Agent) error {
	compiled, err := compileSchema(def.Kind, def.InputSchema)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Kind]; exists {
		return apperrors.Conflict("agent kind already registered: " + def.Kind)
	}
	r.entries[def.Kind] = &entry{def: def, agent: agent, input: compiled}
	return nil
}

// Has reports whether a kind is registered. Satisfies the validator's
// agent catalog.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind]
	return ok
}

// List returns all definitions sorted by kind.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Kind < defs[j].Kind })
	return defs
}

// Execute validates the input against the kind's schema and dispatches.
// Unknown kinds return UnknownAgent; schema violations return
// ValidationError. Agent failures come back wrapped as AgentFailure so
// the engine can attribute them to the node.
func (r *Registry) Execute(ctx context.Context, kind string, inv Invocation) (*Result, error) {
	r.mu.RLock()
	e, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.UnknownAgent(kind)
	}

	if inv.Logger == nil {
		inv.Logger = logger.Default()
	}
	if err := e.input.validate(inv.Input); err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}

	result, err := e.agent.Execute(ctx, inv)
	if err != nil {
		// Typed errors and cancellations pass through untouched so the
		// engine and the API keep their codes.
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) || ctx.Err() != nil {
			return nil, err
		}
		return nil, apperrors.AgentFailure(kind, err)
	}
	return result, nil
}

// abortErr maps a dead invocation context to the agent's return error.
// A cancelled context is a cooperative abort; an expired deadline is a
// timeout and must surface as a failure, not a cancellation.
func abortErr(ctx context.Context, what string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out: %w", what, ctx.Err())
	}
	return apperrors.Cancelled(what + " cancelled")
}

// NewDefaultRegistry wires up the seven built-in agents.
func NewDefaultRegistry(deps BuiltinDeps) (*Registry, error) {
	r := NewRegistry()

	builtins := []struct {
		def   Definition
		agent Agent
	}{
		{httpCallerDefinition(), NewHTTPCaller(deps.HTTPClient)},
		{dataProcessorDefinition(), NewDataProcessor()},
		{codeAnalyzerDefinition(), NewCodeAnalyzer()},
		{fileHandlerDefinition(), NewFileHandler()},
		{emailSenderDefinition(), NewEmailSender(deps.SMTP)},
		{databaseQueryDefinition(), NewDatabaseQuery()},
		{llmTextDefinition(), NewLLMTextGenerator(deps.LLM)},
	}
	for _, b := range builtins {
		if err := r.Register(b.def, b.agent); err != nil {
			return nil, err
		}
	}
	return r, nil
}
