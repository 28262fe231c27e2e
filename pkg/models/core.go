// Package models defines the wire-level and in-process data types shared by
// every Core component: the Responses-API request/response shape (§3 of the
// design), the channel-facing message envelope, and the small value types
// (ToolCall, ToolPlan, Prompt, Session) that pass between them.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResponderRole is the author of a RequestMessage in a Responder
// request/response payload.
//
// This is distinct from the channel-facing Role in message.go: the Responses
// API only ever sees developer/user/assistant, never "system" or "tool" —
// tool output is its own Content variant (ContentTypeToolCallOutput), not a role.
type ResponderRole string

const (
	ResponderRoleDeveloper ResponderRole = "developer"
	ResponderRoleUser      ResponderRole = "user"
	ResponderRoleAssistant ResponderRole = "assistant"
)

// MarshalJSON enforces the lower-case wire format required by §9 ("Enum wire
// format: lower-case underscore").
func (r ResponderRole) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.ToLower(string(r)))
}

// ContentType discriminates the variants of Content.
type ContentType string

const (
	ContentTypeText            ContentType = "text"
	ContentTypeImage           ContentType = "image"
	ContentTypeFile            ContentType = "file"
	ContentTypeToolCall        ContentType = "tool_call"
	ContentTypeToolCallOutput  ContentType = "tool_call_output"
)

// Content is a tagged sum type: exactly one of the variant-specific fields is
// populated, selected by Type. Modeled as one struct with a discriminator
// (rather than an interface hierarchy) so JSON marshaling is symmetric and a
// consumer can switch on Type without a type assertion per the §9 design
// note on sealed hierarchies.
type Content struct {
	Type ContentType `json:"type"`

	// ContentTypeText
	Text string `json:"text,omitempty"`

	// ContentTypeImage / ContentTypeFile
	URL      string `json:"url,omitempty"`
	DataB64  string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`

	// ContentTypeToolCall
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ContentTypeToolCallOutput
	ToolCallOutput *ToolCallOutput `json:"tool_call_output,omitempty"`
}

// TextContent builds a text Content item.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// ToolCallContent builds a tool-call Content item.
func ToolCallContent(call *ToolCall) Content {
	return Content{Type: ContentTypeToolCall, ToolCall: call}
}

// ToolCallOutputContent builds a tool-call-output Content item.
func ToolCallOutputContent(out *ToolCallOutput) Content {
	return Content{Type: ContentTypeToolCallOutput, ToolCallOutput: out}
}

// RequestMessage is one item of a Request payload's ordered input list.
// Invariant: every message has at least one Content item; assistant messages
// originating from the model always carry a non-empty ID.
type RequestMessage struct {
	ID      string        `json:"id,omitempty"`
	Role    ResponderRole `json:"role"`
	Content []Content     `json:"content"`
	// Parsed holds the structured-output value decoded from the final
	// assistant text, when the request carried a type descriptor. Only ever
	// set on assistant messages.
	Parsed json.RawMessage `json:"parsed,omitempty"`
}

// Validate enforces the message invariants from §3.
func (m RequestMessage) Validate() error {
	if len(m.Content) == 0 {
		return fmt.Errorf("message must have at least one content item")
	}
	if m.Role == ResponderRoleAssistant && m.ID == "" {
		return fmt.Errorf("assistant message must carry an id")
	}
	return nil
}

// ToolChoice is the policy governing whether/which tools the model may call.
type ToolChoice struct {
	Policy ToolChoicePolicy `json:"policy"`
	Name   string           `json:"name,omitempty"` // set when Policy == ToolChoiceNamed
}

type ToolChoicePolicy string

const (
	ToolChoiceAuto     ToolChoicePolicy = "auto"
	ToolChoiceRequired ToolChoicePolicy = "required"
	ToolChoiceNone     ToolChoicePolicy = "none"
	ToolChoiceNamed    ToolChoicePolicy = "one_of_named"
)

// RequestPayload is the full request body sent to the Responses API (§3, §6).
type RequestPayload struct {
	Model           string           `json:"model"`
	Input           []RequestMessage `json:"input"`
	Instructions    string           `json:"instructions,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	MaxToolCalls    int              `json:"max_tool_calls,omitempty"`
	Temperature     float64          `json:"temperature,omitempty"`
	TopP            float64          `json:"top_p,omitempty"`
	Tools           []ToolSchema     `json:"tools,omitempty"`
	ToolChoice      ToolChoice       `json:"tool_choice,omitempty"`
	ResponseSchema  json.RawMessage  `json:"response_schema,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
	SessionID       string           `json:"session_id,omitempty"`
	Metadata        map[string]any   `json:"metadata,omitempty"`
}

// Validate enforces the request-payload invariants from §3.
func (p RequestPayload) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if p.MaxToolCalls < 0 {
		return fmt.Errorf("max_tool_calls must be >= 0, got %d", p.MaxToolCalls)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2], got %v", p.Temperature)
	}
	if p.TopP != 0 && (p.TopP <= 0 || p.TopP > 1) {
		return fmt.Errorf("top_p must be in (0, 1], got %v", p.TopP)
	}
	return nil
}

// ToolSchema is the wire shape of a Tool as attached to a RequestPayload.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
	Strict      bool            `json:"strict,omitempty"`
}

// ResponseStatus is the terminal or in-flight state of a Response.
type ResponseStatus string

const (
	ResponseStatusInProgress ResponseStatus = "in_progress"
	ResponseStatusCompleted  ResponseStatus = "completed"
	ResponseStatusFailed     ResponseStatus = "failed"
	ResponseStatusCancelled  ResponseStatus = "cancelled"
)

// Usage carries token accounting for a Response.
type Usage struct {
	InputTokens  int  `json:"input_tokens"`
	OutputTokens int  `json:"output_tokens"`
	TotalTokens  int  `json:"total_tokens"`
	CachedTokens *int `json:"cached_tokens,omitempty"`
}

// OutputItemType discriminates Response.Output entries.
type OutputItemType string

const (
	OutputItemMessage   OutputItemType = "message"
	OutputItemToolCall  OutputItemType = "tool_call"
	OutputItemReasoning OutputItemType = "reasoning"
	OutputItemDelta     OutputItemType = "delta"
)

// OutputItem is one entry of a Response's ordered output list.
type OutputItem struct {
	Type     OutputItemType `json:"type"`
	Message  *RequestMessage `json:"message,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Text     string          `json:"text,omitempty"` // reasoning/delta text
}

// Response is the Responder's parsed reply to a RequestPayload.
type Response struct {
	ID           string         `json:"id"`
	Object       string         `json:"object"`
	Status       ResponseStatus `json:"status"`
	Output       []OutputItem   `json:"output"`
	Usage        Usage          `json:"usage"`
	Model        string         `json:"model"`
	CreatedAt    int64          `json:"created_at"`
	FinishReason string         `json:"finish_reason,omitempty"`
	CostUSD      float64        `json:"-"`
}

// AssistantText concatenates every message-output item's text content, in
// order; this is the "final assistant text" the turn loop inspects.
func (r *Response) AssistantText() string {
	var sb strings.Builder
	for _, item := range r.Output {
		if item.Type != OutputItemMessage || item.Message == nil {
			continue
		}
		for _, c := range item.Message.Content {
			if c.Type == ContentTypeText {
				sb.WriteString(c.Text)
			}
		}
	}
	return sb.String()
}

// ToolCalls returns every tool-call output item, in order.
func (r *Response) ToolCalls() []*ToolCall {
	var calls []*ToolCall
	for _, item := range r.Output {
		if item.Type == OutputItemToolCall && item.ToolCall != nil {
			calls = append(calls, item.ToolCall)
		}
	}
	return calls
}

// ToolCall is a single model-issued invocation request.
type ToolCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON text
}

// ToolCallOutput is the result fed back to the model for a given ToolCall.
type ToolCallOutput struct {
	CallID  string `json:"call_id"`
	Output  string `json:"output"`
	IsError bool   `json:"is_error,omitempty"`
}
