package models

import "time"

// EventKind discriminates the Event sum type (§3, §9 "sealed hierarchies").
// Modeled the way the ancestor's observability package tags its Event
// struct with an EventType string: one concrete struct, a Kind field, and a
// switch at each consumer rather than an interface per variant.
type EventKind string

const (
	EventKindResponseStarted   EventKind = "response_started"
	EventKindResponseCompleted EventKind = "response_completed"
	EventKindResponseFailed    EventKind = "response_failed"
	EventKindAgentFailed       EventKind = "agent_failed"
	EventKindBatchFlushed      EventKind = "batch_flushed"
	EventKindBatchFailed       EventKind = "batch_failed"
)

// Phase is the turn-loop stage active when a failure occurred (§3, §7).
type Phase string

const (
	PhaseInputGuardrail  Phase = "INPUT_GUARDRAIL"
	PhaseLLMCall         Phase = "LLM_CALL"
	PhaseToolExecution   Phase = "TOOL_EXECUTION"
	PhaseOutputGuardrail Phase = "OUTPUT_GUARDRAIL"
	PhaseHandoff         Phase = "HANDOFF"
	PhaseParsing         Phase = "PARSING"
	PhaseMaxTurnsExceeded Phase = "MAX_TURNS_EXCEEDED"
)

// Event is the sum type emitted to the Telemetry Bus (§3, §4.10). Exactly
// the fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind EventKind `json:"kind"`

	SessionID     string    `json:"session_id"`
	TraceID       string    `json:"trace_id"`
	SpanID        string    `json:"span_id"`
	ParentSpanID  string    `json:"parent_span_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`

	// ResponseStarted / ResponseCompleted / ResponseFailed
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage,omitempty"`

	// ResponseFailed / AgentFailed
	ErrorCode      string `json:"error_code,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	Retryable      bool   `json:"retryable,omitempty"`

	// AgentFailed
	AgentName      string `json:"agent_name,omitempty"`
	Phase          Phase  `json:"phase,omitempty"`
	TurnsCompleted int    `json:"turns_completed,omitempty"`

	// BatchFlushed / BatchFailed
	UserID         string `json:"user_id,omitempty"`
	BatchID        string `json:"batch_id,omitempty"`
	MessageCount   int    `json:"message_count,omitempty"`
	FlushTrigger   string `json:"flush_trigger,omitempty"`
	ErrorStrategy  string `json:"error_strategy,omitempty"`
}

// NewResponseStarted builds a ResponseStarted event.
func NewResponseStarted(sessionID, traceID, spanID, model string) Event {
	return Event{
		Kind:      EventKindResponseStarted,
		SessionID: sessionID,
		TraceID:   traceID,
		SpanID:    spanID,
		StartedAt: time.Now(),
		Model:     model,
	}
}

// NewResponseCompleted builds a ResponseCompleted event.
func NewResponseCompleted(sessionID, traceID, spanID, model string, usage Usage) Event {
	return Event{
		Kind:        EventKindResponseCompleted,
		SessionID:   sessionID,
		TraceID:     traceID,
		SpanID:      spanID,
		CompletedAt: time.Now(),
		Model:       model,
		Usage:       usage,
	}
}

// NewResponseFailed builds a ResponseFailed event.
func NewResponseFailed(sessionID, traceID, spanID string, httpStatus int, retryable bool, code, msg string) Event {
	return Event{
		Kind:           EventKindResponseFailed,
		SessionID:      sessionID,
		TraceID:        traceID,
		SpanID:         spanID,
		CompletedAt:    time.Now(),
		HTTPStatusCode: httpStatus,
		Retryable:      retryable,
		ErrorCode:      code,
		ErrorMessage:   msg,
	}
}

// NewBatchFlushed builds a BatchFlushed event for a successfully processed
// batching-service flush.
func NewBatchFlushed(userID, batchID string, messageCount int, trigger string) Event {
	return Event{
		Kind:         EventKindBatchFlushed,
		UserID:       userID,
		BatchID:      batchID,
		CompletedAt:  time.Now(),
		MessageCount: messageCount,
		FlushTrigger: trigger,
	}
}

// NewBatchFailed builds a BatchFailed event for a batch whose processor
// callback returned an error, after the configured ErrorHandlingStrategy was
// applied.
func NewBatchFailed(userID, batchID string, messageCount int, trigger, errorStrategy, errMsg string) Event {
	return Event{
		Kind:          EventKindBatchFailed,
		UserID:        userID,
		BatchID:       batchID,
		CompletedAt:   time.Now(),
		MessageCount:  messageCount,
		FlushTrigger:  trigger,
		ErrorStrategy: errorStrategy,
		ErrorMessage:  errMsg,
	}
}

// NewAgentFailed builds an AgentFailed event.
func NewAgentFailed(sessionID, traceID, spanID, agentName string, phase Phase, turnsCompleted int, code, msg string) Event {
	return Event{
		Kind:           EventKindAgentFailed,
		SessionID:      sessionID,
		TraceID:        traceID,
		SpanID:         spanID,
		CompletedAt:    time.Now(),
		AgentName:      agentName,
		Phase:          phase,
		TurnsCompleted: turnsCompleted,
		ErrorCode:      code,
		ErrorMessage:   msg,
	}
}
