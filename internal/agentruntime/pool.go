package agentruntime

import (
	"encoding/json"
	"strings"

	"github.com/fathomlabs/agentcore/internal/guardrails"
	"github.com/fathomlabs/agentcore/internal/retry"
	"github.com/fathomlabs/agentcore/internal/toolregistry"
)

// AgentDefinition is one agent's configuration: its instructions, model,
// tool surface, and turn-loop policy (§4.7).
type AgentDefinition struct {
	Name         string
	Description  string
	Instructions string
	Model        string

	// MaxTurns caps Responder round trips for this agent; <= 0 uses
	// DefaultMaxTurns.
	MaxTurns int

	Tools            *toolregistry.Registry
	InputGuardrails  []guardrails.Named
	OutputGuardrails []guardrails.Named
	ResponseSchema   json.RawMessage

	// ToolPlanEnabled advertises the synthetic tool_plan tool and routes
	// its calls to the ToolPlan Executor instead of the tool registry.
	ToolPlanEnabled      bool
	ToolPlanRetryConfig  retry.Config
	ToolPlanRetryEnabled func(toolName string) bool

	// CanReceiveHandoffs marks this agent as a valid handoff target; it
	// also gates whether the handoff/list_agents/return_control tools are
	// advertised to this agent's own model calls (only useful in a pool
	// of more than one agent).
	CanReceiveHandoffs bool
}

// DefaultMaxTurns is used when an AgentDefinition doesn't set MaxTurns.
const DefaultMaxTurns = 10

func (a *AgentDefinition) maxTurns() int {
	if a.MaxTurns <= 0 {
		return DefaultMaxTurns
	}
	return a.MaxTurns
}

// Pool is a named set of agents, resolvable by exact name, case-insensitive
// name, or unique name prefix — the same three-tier match the handoff tool
// uses to resolve a model-supplied target string.
type Pool struct {
	byName map[string]*AgentDefinition
	order  []string
}

// NewPool builds a Pool from agents. Duplicate names keep the first
// occurrence.
func NewPool(agents ...*AgentDefinition) *Pool {
	p := &Pool{byName: make(map[string]*AgentDefinition, len(agents))}
	for _, a := range agents {
		if a == nil || a.Name == "" {
			continue
		}
		if _, exists := p.byName[a.Name]; exists {
			continue
		}
		p.byName[a.Name] = a
		p.order = append(p.order, a.Name)
	}
	return p
}

// List returns every agent in the pool, in registration order.
func (p *Pool) List() []*AgentDefinition {
	agents := make([]*AgentDefinition, 0, len(p.order))
	for _, name := range p.order {
		agents = append(agents, p.byName[name])
	}
	return agents
}

// Find resolves identifier to an agent: exact name match first, then
// case-insensitive name match, then a unique case-insensitive name prefix.
// An identifier matching more than one agent by prefix is not considered
// found.
func (p *Pool) Find(identifier string) (*AgentDefinition, bool) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, false
	}

	if a, ok := p.byName[identifier]; ok {
		return a, true
	}

	lower := strings.ToLower(identifier)
	for _, name := range p.order {
		if strings.ToLower(name) == lower {
			return p.byName[name], true
		}
	}

	var match *AgentDefinition
	matches := 0
	for _, name := range p.order {
		if strings.HasPrefix(strings.ToLower(name), lower) {
			matches++
			match = p.byName[name]
		}
	}
	if matches == 1 {
		return match, true
	}
	return nil, false
}
