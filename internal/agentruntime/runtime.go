// Package agentruntime implements the Agent Runtime turn loop (§4.7): it
// drives a Responder through guardrails, tool execution, ToolPlan routing,
// and handoffs between agents in a Pool until a final assistant response,
// a blocking guardrail, a handoff return, max-turns, or cancellation ends
// the run.
package agentruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
	"github.com/fathomlabs/agentcore/internal/guardrails"
	"github.com/fathomlabs/agentcore/internal/prompt"
	"github.com/fathomlabs/agentcore/internal/responder"
	"github.com/fathomlabs/agentcore/internal/toolplan"
	"github.com/fathomlabs/agentcore/pkg/models"
)

// Reserved tool names the turn loop intercepts itself rather than routing
// through an agent's own tool registry; an agent never needs to (and per
// toolplan.ReservedPlanTool, for tool_plan, never may) register a tool
// under one of these names.
const (
	toolNameHandoff       = "handoff"
	toolNameReturnControl = "return_control"
	toolNameListAgents    = "list_agents"
)

// TelemetrySink receives AgentFailed lifecycle events; nil drops them.
type TelemetrySink interface {
	Emit(models.Event)
}

// Runtime ties a Responder to a Pool of agents and drives the turn loop.
type Runtime struct {
	responder *responder.Responder
	pool      *Pool
	telemetry TelemetrySink
}

// New builds a Runtime. telemetry may be nil.
func New(resp *responder.Responder, pool *Pool, telemetry TelemetrySink) *Runtime {
	return &Runtime{responder: resp, pool: pool, telemetry: telemetry}
}

// Result is the outcome of a Run: either a final Response from whichever
// agent ended up driving the conversation, or a cancellation marker with
// no partial side effects beyond tools that had already completed.
type Result struct {
	AgentName      string
	Response       *models.Response
	Messages       []models.RequestMessage
	TurnsCompleted int
	Cancelled      bool
}

// Run drives the turn loop starting at startAgent with the given initial
// message transcript, following handoffs until a result is produced.
func (rt *Runtime) Run(ctx context.Context, startAgent string, session models.Session, messages []models.RequestMessage) (*Result, error) {
	current, ok := rt.pool.Find(startAgent)
	if !ok {
		return nil, coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseHandoff, 0, "",
			fmt.Errorf("start agent not found: %q", startAgent))
	}

	frame := &stackFrame{agent: current, messages: append([]models.RequestMessage(nil), messages...)}
	var history []*stackFrame

	for {
		outcome, err := rt.runTurns(ctx, frame, session)
		if err != nil {
			rt.emitAgentFailed(session, frame.agent.Name, err)
			return nil, err
		}

		switch outcome.kind {
		case outcomeCancelled:
			return &Result{AgentName: frame.agent.Name, Messages: frame.messages, TurnsCompleted: outcome.turns, Cancelled: true}, nil

		case outcomeDone:
			return &Result{
				AgentName:      frame.agent.Name,
				Response:       outcome.response,
				Messages:       frame.messages,
				TurnsCompleted: outcome.turns,
			}, nil

		case outcomeHandoff:
			target, ok := rt.pool.Find(outcome.targetAgent)
			if !ok {
				err := coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseHandoff, outcome.turns, "",
					fmt.Errorf("handoff target not found or ambiguous: %q", outcome.targetAgent))
				rt.emitAgentFailed(session, frame.agent.Name, err)
				return nil, err
			}
			history = append(history, frame)
			frame = &stackFrame{
				agent:         target,
				messages:      append([]models.RequestMessage(nil), frame.messages...),
				handoffCallID: outcome.callID,
			}

		case outcomeReturnControl:
			if len(history) == 0 {
				// Root agent returning control to no one: nothing to
				// resume, so its own state is the final result.
				return &Result{
					AgentName:      frame.agent.Name,
					Messages:       frame.messages,
					TurnsCompleted: outcome.turns,
				}, nil
			}
			parent := history[len(history)-1]
			history = history[:len(history)-1]
			// The return payload becomes the handoff call's tool output,
			// replacing the handoff-request output recorded at push time.
			returned := toolOutputMessage(frame.handoffCallID, outcome.payload, false)
			replaced := false
			for i := len(parent.messages) - 1; i >= 0 && !replaced; i-- {
				for _, c := range parent.messages[i].Content {
					if c.Type == models.ContentTypeToolCallOutput && c.ToolCallOutput != nil && c.ToolCallOutput.CallID == frame.handoffCallID {
						parent.messages[i] = returned
						replaced = true
						break
					}
				}
			}
			if !replaced {
				parent.messages = append(parent.messages, returned)
			}
			frame = parent
		}
	}
}

// stackFrame is one agent's place in an in-flight handoff chain.
type stackFrame struct {
	agent         *AgentDefinition
	messages      []models.RequestMessage
	handoffCallID string // call_id of the handoff tool call that pushed this frame, if any
}

type outcomeKind int

const (
	outcomeDone outcomeKind = iota
	outcomeHandoff
	outcomeReturnControl
	outcomeCancelled
)

type turnOutcome struct {
	kind        outcomeKind
	response    *models.Response
	turns       int
	targetAgent string
	callID      string
	payload     string
}

// runTurns drives frame.agent's turn loop until it produces a final
// response, requests a handoff or return-of-control, is cancelled, or
// fails. Exactly one turn is counted per Responder round trip (the
// invariant of §4.7).
func (rt *Runtime) runTurns(ctx context.Context, frame *stackFrame, session models.Session) (turnOutcome, error) {
	agent := frame.agent
	maxTurns := agent.maxTurns()
	turns := 0
	var lastResponseID string

	for {
		select {
		case <-ctx.Done():
			return turnOutcome{kind: outcomeCancelled, turns: turns}, nil
		default:
		}

		// §4.7: input guardrails run against messages[-1] every turn, not
		// just the first; a tool-output message carries no text content,
		// so on those turns the guardrails are called with an empty string.
		if len(frame.messages) > 0 && len(agent.InputGuardrails) > 0 {
			last := frame.messages[len(frame.messages)-1]
			result, name := guardrails.RunInput(ctx, agent.InputGuardrails, textOf(last))
			if !result.Pass {
				err := guardrails.InputError(result, name)
				return turnOutcome{}, coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseInputGuardrail, turns, lastResponseID, err)
			}
		}

		payload, err := rt.buildPayload(ctx, agent, frame.messages, session)
		if err != nil {
			return turnOutcome{}, coreerrors.NewAgentExecutionError(coreerrors.AgentPhasePromptCompile, turns, lastResponseID, err)
		}

		resp, err := rt.responder.Respond(ctx, session, &payload)
		if err != nil {
			phase := coreerrors.AgentPhaseLLMCall
			var parseErr *coreerrors.AgentExecutionError
			if errors.As(err, &parseErr) && parseErr.Phase == coreerrors.AgentPhaseParsing {
				phase = coreerrors.AgentPhaseParsing
			}
			return turnOutcome{}, coreerrors.NewAgentExecutionError(phase, turns, lastResponseID, err)
		}
		turns++
		lastResponseID = resp.ID

		if turns > maxTurns {
			return turnOutcome{}, coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseMaxTurnsExceeded, turns, lastResponseID, nil)
		}

		select {
		case <-ctx.Done():
			return turnOutcome{kind: outcomeCancelled, turns: turns}, nil
		default:
		}

		toolCalls := resp.ToolCalls()
		if len(toolCalls) == 0 {
			text := resp.AssistantText()
			if len(agent.OutputGuardrails) > 0 {
				result, name := guardrails.RunOutput(ctx, agent.OutputGuardrails, text)
				if !result.Pass {
					err := guardrails.OutputError(result, name)
					return turnOutcome{}, coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseOutputGuardrail, turns, lastResponseID, err)
				}
			}
			// Structured-output parsing against agent.ResponseSchema already
			// happened inside Respond; a mismatch surfaces from there as a
			// PARSING AgentExecutionError before this point is reached.
			frame.messages = append(frame.messages, assistantMessageFromResponse(resp))
			return turnOutcome{kind: outcomeDone, response: resp, turns: turns}, nil
		}

		frame.messages = append(frame.messages, assistantToolCallMessage(resp, toolCalls))

		for _, tc := range toolCalls {
			select {
			case <-ctx.Done():
				return turnOutcome{kind: outcomeCancelled, turns: turns}, nil
			default:
			}

			outcome, handled, err := rt.dispatchReservedTool(ctx, agent, frame, tc, turns, lastResponseID)
			if err != nil {
				return turnOutcome{}, err
			}
			if handled {
				if outcome.kind != outcomeDone {
					return outcome, nil
				}
				continue
			}

			if !agent.Tools.Contains(tc.Name) {
				frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, fmt.Sprintf("tool not found: %s", tc.Name), true))
				continue
			}

			result, execErr := agent.Tools.Execute(ctx, tc.CallID, tc.Name, json.RawMessage(tc.Arguments))
			if execErr != nil {
				return turnOutcome{}, coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseToolExecution, turns, lastResponseID, execErr)
			}
			frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, result.Content, result.IsError))

			if target, ok := detectHandoffShape(result.Content); ok {
				return turnOutcome{kind: outcomeHandoff, turns: turns, targetAgent: target, callID: tc.CallID}, nil
			}
			if detectReturnControlShape(result.Content) {
				return turnOutcome{kind: outcomeReturnControl, turns: turns, payload: result.Content}, nil
			}
		}
	}
}

// dispatchReservedTool handles the synthetic tool_plan/handoff/
// return_control/list_agents calls the turn loop intercepts itself. handled
// is false (and outcome is the zero value) for any other tool name.
func (rt *Runtime) dispatchReservedTool(ctx context.Context, agent *AgentDefinition, frame *stackFrame, tc *models.ToolCall, turns int, lastResponseID string) (turnOutcome, bool, error) {
	switch tc.Name {
	case toolplan.ReservedPlanTool:
		if !agent.ToolPlanEnabled {
			frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, "tool_plan is not enabled for this agent", true))
			return turnOutcome{kind: outcomeDone}, true, nil
		}
		var plan models.ToolPlan
		if err := json.Unmarshal([]byte(tc.Arguments), &plan); err != nil {
			frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, fmt.Sprintf("invalid tool plan: %v", err), true))
			return turnOutcome{kind: outcomeDone}, true, nil
		}
		executor := toolplan.New(agent.Tools, agent.ToolPlanRetryConfig, agent.ToolPlanRetryEnabled)
		result, err := executor.Run(ctx, plan)
		if err != nil {
			frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, err.Error(), true))
			return turnOutcome{kind: outcomeDone}, true, nil
		}
		frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, toolplan.FormatOutputs(result.OutputResults), false))
		return turnOutcome{kind: outcomeDone}, true, nil

	case toolNameListAgents:
		if !agent.CanReceiveHandoffs {
			return turnOutcome{}, false, nil
		}
		frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, rt.listAgentsJSON(), false))
		return turnOutcome{kind: outcomeDone}, true, nil

	case toolNameHandoff:
		if !agent.CanReceiveHandoffs {
			return turnOutcome{}, false, nil
		}
		var input struct {
			TargetAgent string `json:"target_agent"`
			Reason      string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
			frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, fmt.Sprintf("invalid handoff parameters: %v", err), true))
			return turnOutcome{kind: outcomeDone}, true, nil
		}
		target, ok := rt.pool.Find(input.TargetAgent)
		if !ok {
			return turnOutcome{}, true, coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseHandoff, turns, lastResponseID,
				fmt.Errorf("handoff target not found or ambiguous: %q", input.TargetAgent))
		}
		if !target.CanReceiveHandoffs {
			frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, fmt.Sprintf("agent %q cannot receive handoffs", target.Name), true))
			return turnOutcome{kind: outcomeDone}, true, nil
		}
		payload, _ := json.Marshal(map[string]any{
			"handoff_request": true,
			"target_agent":    target.Name,
			"status":          "initiated",
			"reason":          input.Reason,
		})
		frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, string(payload), false))
		return turnOutcome{kind: outcomeHandoff, turns: turns, targetAgent: target.Name, callID: tc.CallID}, true, nil

	case toolNameReturnControl:
		if !agent.CanReceiveHandoffs {
			return turnOutcome{}, false, nil
		}
		var input struct {
			Summary string `json:"summary"`
			Result  string `json:"result"`
			Success bool   `json:"success"`
		}
		input.Success = true
		_ = json.Unmarshal([]byte(tc.Arguments), &input)
		payload, _ := json.Marshal(map[string]any{
			"return_control": true,
			"status":         "returning",
			"summary":        input.Summary,
			"result":         input.Result,
			"success":        input.Success,
		})
		frame.messages = append(frame.messages, toolOutputMessage(tc.CallID, string(payload), false))
		return turnOutcome{kind: outcomeReturnControl, turns: turns, payload: string(payload)}, true, nil

	default:
		return turnOutcome{}, false, nil
	}
}

func (rt *Runtime) listAgentsJSON() string {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	var entries []entry
	for _, a := range rt.pool.List() {
		if a.CanReceiveHandoffs {
			entries = append(entries, entry{Name: a.Name, Description: a.Description})
		}
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// buildPayload assembles the RequestPayload for one turn, applying the
// agent's own configuration plus any scoped context overrides (§4.7). When
// a prompt variable context is scoped to ctx, Instructions is compiled as a
// template (internal/prompt) before use.
func (rt *Runtime) buildPayload(ctx context.Context, agent *AgentDefinition, messages []models.RequestMessage, session models.Session) (models.RequestPayload, error) {
	instructions := agent.Instructions
	if override, ok := SystemPromptFromContext(ctx); ok {
		instructions = override
	}
	if vars, ok := PromptContextFromContext(ctx); ok {
		compiled, err := prompt.Compile(instructions, vars)
		if err != nil {
			return models.RequestPayload{}, err
		}
		instructions = compiled
	}
	model := agent.Model
	if override, ok := ModelFromContext(ctx); ok {
		model = override
	}

	tools := agent.Tools.AsToolSchemas()
	if policy, ok := ToolPolicyFromContext(ctx); ok && policy != nil {
		filtered := tools[:0:0]
		for _, t := range tools {
			if policy(t.Name) {
				filtered = append(filtered, t)
			}
		}
		tools = filtered
	}
	if agent.ToolPlanEnabled {
		tools = append(tools, models.ToolSchema{
			Name:        toolplan.ReservedPlanTool,
			Description: "Execute a declarative multi-step tool plan with $ref dependencies between steps.",
			Parameters:  toolPlanSchema,
		})
	}
	if agent.CanReceiveHandoffs {
		tools = append(tools, reservedHandoffSchemas...)
	}

	base := models.RequestPayload{
		Model:        model,
		Input:        messages,
		Instructions: instructions,
	}
	return responder.BuildPayload(base, tools, agent.ResponseSchema, session), nil
}

var toolPlanSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "tool": {"type": "string"},
          "arguments": {"type": "string"}
        },
        "required": ["id", "tool", "arguments"]
      }
    },
    "output_steps": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["steps"]
}`)

var reservedHandoffSchemas = []models.ToolSchema{
	{
		Name:        toolNameHandoff,
		Description: "Hand off the conversation to another agent in the pool.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"target_agent": {"type": "string"},
				"reason": {"type": "string"}
			},
			"required": ["target_agent"]
		}`),
	},
	{
		Name:        toolNameReturnControl,
		Description: "Return control to the agent that handed off to you.",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"summary": {"type": "string"},
				"result": {"type": "string"},
				"success": {"type": "boolean", "default": true}
			},
			"required": ["summary"]
		}`),
	},
	{
		Name:        toolNameListAgents,
		Description: "List agents available to hand off to.",
		Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
	},
}

func (rt *Runtime) emitAgentFailed(session models.Session, agentName string, err error) {
	if rt.telemetry == nil {
		return
	}
	phase := models.Phase("")
	turnsCompleted := 0
	if e, ok := err.(*coreerrors.AgentExecutionError); ok {
		phase = models.Phase(e.Phase)
		turnsCompleted = e.TurnsCompleted
	}
	rt.telemetry.Emit(models.NewAgentFailed(session.SessionID, session.TraceID, session.RootSpanID, agentName, phase, turnsCompleted,
		string(coreerrors.CodeOf(err)), err.Error()))
}

// textOf concatenates a message's text content items.
func textOf(msg models.RequestMessage) string {
	var sb strings.Builder
	for _, c := range msg.Content {
		if c.Type == models.ContentTypeText {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

func assistantMessageFromResponse(resp *models.Response) models.RequestMessage {
	return models.RequestMessage{
		ID:      resp.ID,
		Role:    models.ResponderRoleAssistant,
		Content: []models.Content{models.TextContent(resp.AssistantText())},
	}
}

func assistantToolCallMessage(resp *models.Response, toolCalls []*models.ToolCall) models.RequestMessage {
	content := make([]models.Content, 0, len(toolCalls)+1)
	if text := resp.AssistantText(); text != "" {
		content = append(content, models.TextContent(text))
	}
	for _, tc := range toolCalls {
		content = append(content, models.ToolCallContent(tc))
	}
	return models.RequestMessage{ID: resp.ID, Role: models.ResponderRoleAssistant, Content: content}
}

func toolOutputMessage(callID, output string, isError bool) models.RequestMessage {
	return models.RequestMessage{
		Role: models.ResponderRoleUser,
		Content: []models.Content{
			models.ToolCallOutputContent(&models.ToolCallOutput{CallID: callID, Output: output, IsError: isError}),
		},
	}
}

// detectHandoffShape inspects a tool result's content for the handoff
// envelope shape ({"handoff_request": true, "target_agent": "...", ...}).
// Any tool — not only the built-in handoff tool — can trigger a handoff by
// returning this shape (§4.7 expansion).
func detectHandoffShape(content string) (string, bool) {
	var env struct {
		HandoffRequest bool   `json:"handoff_request"`
		TargetAgent    string `json:"target_agent"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return "", false
	}
	if !env.HandoffRequest || env.TargetAgent == "" {
		return "", false
	}
	return env.TargetAgent, true
}

// detectReturnControlShape inspects a tool result's content for the
// return-control envelope shape ({"return_control": true, ...}).
func detectReturnControlShape(content string) bool {
	var env struct {
		ReturnControl bool `json:"return_control"`
	}
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return false
	}
	return env.ReturnControl
}
