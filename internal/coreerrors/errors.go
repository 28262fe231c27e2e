// Package coreerrors implements the error taxonomy of §7: every error the
// Core surfaces carries a code, a retryable flag, and an optional
// suggestion, and wraps its cause with %w so errors.Is/errors.As compose.
package coreerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind for telemetry and programmatic handling.
type Code string

const (
	CodeAuthentication  Code = "authentication_error"
	CodeRateLimit       Code = "rate_limit_error"
	CodeInvalidRequest  Code = "invalid_request_error"
	CodeServer          Code = "server_error"
	CodeConnection      Code = "connection_error"
	CodeStreaming       Code = "streaming_error"
	CodeConfiguration   Code = "configuration_error"
	CodeGuardrail       Code = "guardrail_error"
	CodeToolExecution   Code = "tool_execution_error"
	CodeToolPlan        Code = "tool_plan_error"
	CodeAgentExecution  Code = "agent_execution_error"
)

// CoreError is satisfied by every error kind in this package.
type CoreError interface {
	error
	Code() Code
	Retryable() bool
	Suggestion() string
}

// baseError implements the common scaffolding; each concrete kind embeds it.
type baseError struct {
	code       Code
	message    string
	cause      error
	retryable  bool
	suggestion string
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *baseError) Unwrap() error    { return e.cause }
func (e *baseError) Code() Code       { return e.code }
func (e *baseError) Retryable() bool  { return e.retryable }
func (e *baseError) Suggestion() string { return e.suggestion }

// AuthenticationError — HTTP 401/403, never retryable.
type AuthenticationError struct{ *baseError }

func NewAuthenticationError(message string, cause error) *AuthenticationError {
	return &AuthenticationError{&baseError{code: CodeAuthentication, message: message, cause: cause, retryable: false,
		suggestion: "check that the API key is valid and has not been revoked"}}
}

// RateLimitError — HTTP 429, retryable, obeys Retry-After.
type RateLimitError struct {
	*baseError
	RetryAfterSeconds float64
}

func NewRateLimitError(message string, retryAfterSeconds float64, cause error) *RateLimitError {
	return &RateLimitError{
		baseError: &baseError{code: CodeRateLimit, message: message, cause: cause, retryable: true,
			suggestion: "retry after the indicated delay"},
		RetryAfterSeconds: retryAfterSeconds,
	}
}

// InvalidRequestError — HTTP 4xx other than 401/403/429, never retryable.
type InvalidRequestError struct{ *baseError }

func NewInvalidRequestError(message string, cause error) *InvalidRequestError {
	return &InvalidRequestError{&baseError{code: CodeInvalidRequest, message: message, cause: cause, retryable: false,
		suggestion: "check the request payload against the API contract"}}
}

// ServerError — HTTP 5xx, retryable.
type ServerError struct{ *baseError }

func NewServerError(message string, cause error) *ServerError {
	return &ServerError{&baseError{code: CodeServer, message: message, cause: cause, retryable: true,
		suggestion: "retry with backoff"}}
}

// ConnectionError — transport I/O failure, retryable.
type ConnectionError struct{ *baseError }

func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{&baseError{code: CodeConnection, message: message, cause: cause, retryable: true,
		suggestion: "retry with backoff"}}
}

// StreamingError — mid-stream failure, carries PartialOutput + BytesReceived.
// Never retryable by the transport itself: resumption is not supported by
// the upstream protocol, so the caller decides whether to restart (§4.1).
type StreamingError struct {
	*baseError
	PartialOutput string
	BytesReceived int64
}

func NewStreamingError(message string, partialOutput string, bytesReceived int64, cause error) *StreamingError {
	return &StreamingError{
		baseError: &baseError{code: CodeStreaming, message: message, cause: cause, retryable: false,
			suggestion: "caller may restart the request; partial_output preserves delivered text"},
		PartialOutput: partialOutput,
		BytesReceived: bytesReceived,
	}
}

// ConfigurationError — builder/input validation failure, never retryable.
type ConfigurationError struct{ *baseError }

func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{&baseError{code: CodeConfiguration, message: message, cause: cause, retryable: false,
		suggestion: "fix the configuration and restart"}}
}

// GuardrailViolationType distinguishes which side of a turn a guardrail blocked.
type GuardrailViolationType string

const (
	GuardrailViolationInput  GuardrailViolationType = "INPUT"
	GuardrailViolationOutput GuardrailViolationType = "OUTPUT"
)

// GuardrailError — blocked by an input or output guardrail, never retryable.
type GuardrailError struct {
	*baseError
	ViolationType GuardrailViolationType
	Reason        string
	GuardrailName string
}

func NewGuardrailError(violationType GuardrailViolationType, reason, guardrailName string) *GuardrailError {
	return &GuardrailError{
		baseError: &baseError{code: CodeGuardrail, message: reason, retryable: false,
			suggestion: "adjust the input or the guardrail policy"},
		ViolationType: violationType,
		Reason:        reason,
		GuardrailName: guardrailName,
	}
}

// ToolExecutionError — thrown from a tool body, never retryable (the Tool
// Registry performs no retry of its own per §4.3).
type ToolExecutionError struct {
	*baseError
	ToolName      string
	CallID        string
	ArgumentsText string
}

func NewToolExecutionError(toolName, callID, argumentsText, message string, cause error) *ToolExecutionError {
	return &ToolExecutionError{
		baseError: &baseError{code: CodeToolExecution, message: message, cause: cause, retryable: false,
			suggestion: "inspect the tool body for the underlying failure"},
		ToolName:      toolName,
		CallID:        callID,
		ArgumentsText: argumentsText,
	}
}

// ToolPlanError — plan validation failure, a dependency cycle, or a step
// skip; never retryable.
type ToolPlanError struct {
	*baseError
	StepID string
}

func NewToolPlanError(message, stepID string) *ToolPlanError {
	return &ToolPlanError{
		baseError: &baseError{code: CodeToolPlan, message: message, retryable: false,
			suggestion: "fix the plan's step graph"},
		StepID: stepID,
	}
}

// AgentPhase identifies the turn-loop stage active when an AgentExecutionError
// occurred (§3, §7).
type AgentPhase string

const (
	AgentPhaseInputGuardrail   AgentPhase = "INPUT_GUARDRAIL"
	AgentPhaseLLMCall          AgentPhase = "LLM_CALL"
	AgentPhaseToolExecution    AgentPhase = "TOOL_EXECUTION"
	AgentPhaseOutputGuardrail  AgentPhase = "OUTPUT_GUARDRAIL"
	AgentPhaseHandoff          AgentPhase = "HANDOFF"
	AgentPhaseParsing          AgentPhase = "PARSING"
	AgentPhaseMaxTurnsExceeded AgentPhase = "MAX_TURNS_EXCEEDED"
	AgentPhasePromptCompile    AgentPhase = "PROMPT_COMPILE"
)

// AgentExecutionError wraps an underlying cause with the agent's phase and
// turns-completed count (§7: "retryable varies" — it mirrors the wrapped
// cause's retryability when the cause is itself a CoreError).
type AgentExecutionError struct {
	*baseError
	Phase          AgentPhase
	TurnsCompleted int
	LastResponseID string
}

func NewAgentExecutionError(phase AgentPhase, turnsCompleted int, lastResponseID string, cause error) *AgentExecutionError {
	retryable := false
	if ce, ok := asCoreError(cause); ok {
		retryable = ce.Retryable()
	}
	msg := fmt.Sprintf("agent execution failed in phase %s after %d turn(s)", phase, turnsCompleted)
	return &AgentExecutionError{
		baseError: &baseError{code: CodeAgentExecution, message: msg, cause: cause, retryable: retryable,
			suggestion: "inspect the wrapped cause for the underlying failure"},
		Phase:          phase,
		TurnsCompleted: turnsCompleted,
		LastResponseID: lastResponseID,
	}
}

func asCoreError(err error) (CoreError, bool) {
	var ce CoreError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable reports whether err (or a CoreError it wraps) is retryable.
func IsRetryable(err error) bool {
	if ce, ok := asCoreError(err); ok {
		return ce.Retryable()
	}
	return false
}

// CodeOf returns the Code of err (or a CoreError it wraps), or "" if none.
func CodeOf(err error) Code {
	if ce, ok := asCoreError(err); ok {
		return ce.Code()
	}
	return ""
}
