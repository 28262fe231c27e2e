package providers

import (
	"encoding/json"
	"testing"

	"github.com/fathomlabs/agentcore/pkg/models"
)

func TestAnthropicResponder_ConvertMessages(t *testing.T) {
	p := NewAnthropicResponder("test-key", "", "")

	toolCall := &models.ToolCall{CallID: "call-1", Name: "search", Arguments: `{"q":"weather"}`}
	messages := []models.RequestMessage{
		{Role: models.ResponderRoleUser, Content: []models.Content{models.TextContent("hi")}},
		{Role: models.ResponderRoleAssistant, ID: "m1", Content: []models.Content{models.ToolCallContent(toolCall)}},
		{Role: models.ResponderRoleUser, Content: []models.Content{models.ToolCallOutputContent(&models.ToolCallOutput{CallID: "call-1", Output: "72F"})}},
	}

	converted, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted) != 3 {
		t.Fatalf("expected 3 converted messages, got %d", len(converted))
	}
}

func TestAnthropicResponder_ConvertMessages_InvalidToolArguments(t *testing.T) {
	p := NewAnthropicResponder("test-key", "", "")
	toolCall := &models.ToolCall{CallID: "call-1", Name: "search", Arguments: `not json`}
	messages := []models.RequestMessage{
		{Role: models.ResponderRoleAssistant, ID: "m1", Content: []models.Content{models.ToolCallContent(toolCall)}},
	}

	if _, err := p.convertMessages(messages); err == nil {
		t.Fatal("expected error for malformed tool call arguments")
	}
}

func TestAnthropicResponder_ConvertTools(t *testing.T) {
	p := NewAnthropicResponder("test-key", "", "")
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"],"additionalProperties":false}`)
	tools := []models.ToolSchema{{Name: "search", Description: "search the web", Parameters: schema}}

	converted, err := p.convertTools(tools)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(converted) != 1 || converted[0].OfTool == nil {
		t.Fatalf("expected one converted tool, got %+v", converted)
	}
}

func TestAnthropicResponder_Name(t *testing.T) {
	p := NewAnthropicResponder("test-key", "", "")
	if p.Name() != "anthropic" {
		t.Errorf("expected provider name anthropic, got %q", p.Name())
	}
}
