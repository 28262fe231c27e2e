// Package responder implements the Responder (§4.4): it builds a
// RequestPayload, calls a Provider, and assembles the streaming or unary
// result into a models.Response — structured-output parsing, sorted tool
// listing, and best-effort telemetry all live here, once, regardless of
// which vendor backs the call.
package responder

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
	"github.com/fathomlabs/agentcore/internal/jsonschema"
	"github.com/fathomlabs/agentcore/pkg/models"
	"github.com/google/uuid"
)

// CompletionChunk is the provider-agnostic unit a Provider streams back.
// Exactly one of TextDelta/ToolCall/Usage is meaningful per chunk, except
// Done and Error which are terminal.
type CompletionChunk struct {
	TextDelta string
	ToolCall  *models.ToolCall
	Usage     *models.Usage
	Done      bool
	Error     error
}

// Provider is implemented by each vendor integration (OpenAI, Anthropic).
type Provider interface {
	Name() string
	Complete(ctx context.Context, payload *models.RequestPayload) (<-chan CompletionChunk, error)
}

// Callbacks drives the streaming mode of Respond. OnTextDelta fires once
// per visible fragment in arrival order; OnComplete fires exactly once on
// terminal success, after every delta; OnError fires exactly once on
// terminal failure and never alongside OnComplete.
type Callbacks struct {
	OnTextDelta func(string)
	OnComplete  func(*models.Response)
	OnError     func(error)
}

// TelemetrySink receives best-effort lifecycle events; a nil sink is valid
// and simply drops them. Responder never blocks the response path on this.
type TelemetrySink interface {
	Emit(models.Event)
}

// Responder ties a Provider to the request-building and response-assembly
// rules of §4.4.
type Responder struct {
	provider  Provider
	telemetry TelemetrySink
}

// New builds a Responder around provider. telemetry may be nil.
func New(provider Provider, telemetry TelemetrySink) *Responder {
	return &Responder{provider: provider, telemetry: telemetry}
}

// BuildPayload applies the request-building rules of §4.4: tools sorted by
// name, a strict schema attached when a descriptor is given, and session
// metadata stamped on every call.
func BuildPayload(base models.RequestPayload, tools []models.ToolSchema, schema json.RawMessage, session models.Session) models.RequestPayload {
	payload := base
	if len(tools) > 0 {
		sorted := make([]models.ToolSchema, len(tools))
		copy(sorted, tools)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
		payload.Tools = sorted
	}
	if len(schema) > 0 {
		payload.ResponseSchema = schema
	}
	payload.SessionID = session.SessionID
	return payload
}

// Respond awaits a single completion value, parsing structured output when
// payload.ResponseSchema is set.
func (r *Responder) Respond(ctx context.Context, session models.Session, payload *models.RequestPayload) (*models.Response, error) {
	r.emitStarted(session, payload.Model)

	chunks, err := r.provider.Complete(ctx, payload)
	if err != nil {
		r.emitFailed(session, err)
		return nil, err
	}

	resp := &models.Response{ID: uuid.NewString(), Object: "response", Model: payload.Model, Status: models.ResponseStatusInProgress, CreatedAt: time.Now().Unix()}
	var text string
	var toolCalls []models.ToolCall

	for chunk := range chunks {
		if chunk.Error != nil {
			r.emitFailed(session, chunk.Error)
			return nil, chunk.Error
		}
		if chunk.TextDelta != "" {
			text += chunk.TextDelta
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}

	resp.Status = models.ResponseStatusCompleted
	resp.Output = assembleOutput(text, toolCalls)

	if len(payload.ResponseSchema) > 0 {
		if _, err := parseStructured(text, payload.ResponseSchema); err != nil {
			agentErr := coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseParsing, 0, resp.ID, err)
			r.emitFailed(session, agentErr)
			return nil, agentErr
		}
	}

	r.emitCompleted(session, payload.Model, resp.Usage)
	return resp, nil
}

// RespondStreaming drives cb as chunks arrive; all deltas precede
// OnComplete, and OnComplete never fires after OnError.
func (r *Responder) RespondStreaming(ctx context.Context, session models.Session, payload *models.RequestPayload, cb Callbacks) {
	r.emitStarted(session, payload.Model)

	chunks, err := r.provider.Complete(ctx, payload)
	if err != nil {
		r.emitFailed(session, err)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}

	var text string
	var toolCalls []models.ToolCall
	var usage models.Usage

	for chunk := range chunks {
		if chunk.Error != nil {
			r.emitFailed(session, chunk.Error)
			if cb.OnError != nil {
				cb.OnError(chunk.Error)
			}
			return
		}
		if chunk.TextDelta != "" {
			text += chunk.TextDelta
			if cb.OnTextDelta != nil {
				cb.OnTextDelta(chunk.TextDelta)
			}
		}
		if chunk.ToolCall != nil {
			toolCalls = append(toolCalls, *chunk.ToolCall)
		}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}
		if chunk.Done {
			break
		}
	}

	resp := &models.Response{
		ID:        uuid.NewString(),
		Object:    "response",
		Model:     payload.Model,
		Status:    models.ResponseStatusCompleted,
		Usage:     usage,
		Output:    assembleOutput(text, toolCalls),
		CreatedAt: time.Now().Unix(),
	}

	if len(payload.ResponseSchema) > 0 {
		if _, err := parseStructured(text, payload.ResponseSchema); err != nil {
			agentErr := coreerrors.NewAgentExecutionError(coreerrors.AgentPhaseParsing, 0, resp.ID, err)
			r.emitFailed(session, agentErr)
			if cb.OnError != nil {
				cb.OnError(agentErr)
			}
			return
		}
	}

	r.emitCompleted(session, payload.Model, usage)
	if cb.OnComplete != nil {
		cb.OnComplete(resp)
	}
}

func assembleOutput(text string, toolCalls []models.ToolCall) []models.OutputItem {
	var items []models.OutputItem
	if text != "" {
		items = append(items, models.OutputItem{
			Type: models.OutputItemMessage,
			Message: &models.RequestMessage{
				ID:      uuid.NewString(),
				Role:    models.ResponderRoleAssistant,
				Content: []models.Content{models.TextContent(text)},
			},
		})
	}
	for i := range toolCalls {
		items = append(items, models.OutputItem{
			Type:     models.OutputItemToolCall,
			ToolCall: &toolCalls[i],
		})
	}
	return items
}

// parseStructured checks that text is syntactically valid JSON and conforms
// to schema, per §4.4's structured-output contract.
func parseStructured(text string, schema json.RawMessage) (json.RawMessage, error) {
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("assistant output is not valid JSON")
	}
	if err := jsonschema.ValidateAgainst(schema, []byte(text)); err != nil {
		return nil, fmt.Errorf("assistant output does not match response schema: %w", err)
	}
	return json.RawMessage(text), nil
}

func (r *Responder) emitStarted(session models.Session, model string) {
	if r.telemetry == nil {
		return
	}
	r.telemetry.Emit(models.NewResponseStarted(session.SessionID, session.TraceID, session.RootSpanID, model))
}

func (r *Responder) emitCompleted(session models.Session, model string, usage models.Usage) {
	if r.telemetry == nil {
		return
	}
	r.telemetry.Emit(models.NewResponseCompleted(session.SessionID, session.TraceID, session.RootSpanID, model, usage))
}

func (r *Responder) emitFailed(session models.Session, err error) {
	if r.telemetry == nil {
		return
	}
	status := 0
	retryable := coreerrors.IsRetryable(err)
	code := string(coreerrors.CodeOf(err))
	r.telemetry.Emit(models.NewResponseFailed(session.SessionID, session.TraceID, session.RootSpanID, status, retryable, code, err.Error()))
}
