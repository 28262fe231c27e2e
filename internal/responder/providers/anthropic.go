package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
	"github.com/fathomlabs/agentcore/internal/responder"
	"github.com/fathomlabs/agentcore/pkg/models"
)

// maxEmptyStreamEvents bounds how many consecutive events may carry no
// translatable content before the stream is treated as malformed and
// aborted, rather than spun on forever.
const maxEmptyStreamEvents = 300

const defaultAnthropicMaxTokens = 4096

// AnthropicResponder calls Anthropic's Messages API directly through
// anthropic-sdk-go, translating its content-block streaming events into the
// shared responder.CompletionChunk shape. Unlike OpenAIResponder this does
// not sit on Transport: the SDK owns its own HTTP client, retry, and SSE
// handling, and duplicating that here would just be two retry policies
// fighting over the same request.
type AnthropicResponder struct {
	client       anthropic.Client
	defaultModel string
}

// NewAnthropicResponder builds an AnthropicResponder. baseURL may be empty
// to use the SDK default.
func NewAnthropicResponder(apiKey, baseURL, defaultModel string) *AnthropicResponder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}
	return &AnthropicResponder{client: anthropic.NewClient(opts...), defaultModel: defaultModel}
}

func (p *AnthropicResponder) Name() string { return "anthropic" }

func (p *AnthropicResponder) Complete(ctx context.Context, payload *models.RequestPayload) (<-chan responder.CompletionChunk, error) {
	messages, err := p.convertMessages(payload.Input)
	if err != nil {
		return nil, coreerrors.NewInvalidRequestError("anthropic: failed to convert messages", err)
	}

	model := payload.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := int64(payload.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if payload.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: payload.Instructions}}
	}
	if len(payload.Tools) > 0 {
		tools, err := p.convertTools(payload.Tools)
		if err != nil {
			return nil, coreerrors.NewInvalidRequestError("anthropic: failed to convert tools", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan responder.CompletionChunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *AnthropicResponder) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- responder.CompletionChunk) {
	defer close(chunks)

	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		produced := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			produced = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{CallID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				produced = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- responder.CompletionChunk{TextDelta: delta.Text}
					produced = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					produced = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Arguments = currentToolInput.String()
				chunks <- responder.CompletionChunk{ToolCall: currentToolCall}
				currentToolCall = nil
				produced = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			produced = true

		case "message_stop":
			chunks <- responder.CompletionChunk{
				Usage: &models.Usage{InputTokens: inputTokens, OutputTokens: outputTokens, TotalTokens: inputTokens + outputTokens},
				Done:  true,
			}
			return

		case "error":
			chunks <- responder.CompletionChunk{Error: coreerrors.NewConnectionError("anthropic stream error", nil), Done: true}
			return
		}

		if produced {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- responder.CompletionChunk{
					Error: fmt.Errorf("anthropic: stream appears malformed: %d consecutive empty events", emptyEvents),
					Done:  true,
				}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- responder.CompletionChunk{Error: coreerrors.NewConnectionError("anthropic stream failed", err), Done: true}
	}
}

func (p *AnthropicResponder) convertMessages(messages []models.RequestMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, c := range msg.Content {
			switch c.Type {
			case models.ContentTypeText:
				if c.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(c.Text))
				}
			case models.ContentTypeToolCall:
				if c.ToolCall == nil {
					continue
				}
				var input map[string]any
				if err := json.Unmarshal([]byte(c.ToolCall.Arguments), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments for %s: %w", c.ToolCall.Name, err)
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolCall.CallID, input, c.ToolCall.Name))
			case models.ContentTypeToolCallOutput:
				if c.ToolCallOutput == nil {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolCallOutput.CallID, c.ToolCallOutput.Output, c.ToolCallOutput.IsError))
			}
		}
		if msg.Role == models.ResponderRoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return result, nil
}

func (p *AnthropicResponder) convertTools(tools []models.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
