// Package toolregistry implements the Tool Registry (§4.3): thread-safe
// registration and lookup of Tools, and their execution with errors wrapped
// into the coreerrors taxonomy.
package toolregistry

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
	"github.com/fathomlabs/agentcore/pkg/models"
)

// Tool parameter limits, to prevent resource exhaustion from a malicious or
// buggy caller (§3 Tool invariant: name matches [A-Za-z0-9_-]{1,64}).
const (
	MaxToolNameLength  = 64
	MaxToolParamsBytes = 10 << 20 // 10MB
)

// Tool is implemented by every callable the Responder can invoke.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult is what a Tool body returns; IsError carries a failure back to
// the model as a normal tool output rather than a Go error, so the model
// can react to it in-band.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Registry is a thread-safe, name-keyed store of Tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, rejecting a duplicate name (§4.3).
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return coreerrors.NewConfigurationError("tool already registered: "+tool.Name(), nil)
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Unregister removes a tool by name. A no-op if the name is absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Contains reports whether a tool is registered under name.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute looks up name, invokes it with params, and wraps any error the
// tool body returns as a ToolExecutionError. Execution is otherwise
// transparent: no retry, no timeout — the caller owns both (§4.3).
func (r *Registry) Execute(ctx context.Context, callID, name string, params json.RawMessage) (*ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return nil, coreerrors.NewToolExecutionError(name, callID, string(params),
			"tool name exceeds maximum length", nil)
	}
	if len(params) > MaxToolParamsBytes {
		return nil, coreerrors.NewToolExecutionError(name, callID, "",
			"tool parameters exceed maximum size", nil)
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, coreerrors.NewToolExecutionError(name, callID, string(params),
			"tool not found", nil)
	}

	result, err := tool.Execute(ctx, params)
	if err != nil {
		return nil, coreerrors.NewToolExecutionError(name, callID, string(params),
			"tool body returned an error", err)
	}
	return result, nil
}

// AsLLMTools lists registered tools sorted by name, required by §4.4 for
// deterministic request payloads and reproducible tests.
func (r *Registry) AsLLMTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// AsToolSchemas projects the registry into the wire ToolSchema shape used to
// build a RequestPayload (§3).
func (r *Registry) AsToolSchemas() []models.ToolSchema {
	tools := r.AsLLMTools()
	schemas := make([]models.ToolSchema, len(tools))
	for i, t := range tools {
		schemas[i] = models.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
			Strict:      true,
		}
	}
	return schemas
}
