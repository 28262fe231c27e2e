// Package providers ships the concrete Provider implementations the
// Responder dispatches to: one per LLM vendor, each translating its own
// wire format into the shared responder.CompletionChunk stream.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
	"github.com/fathomlabs/agentcore/internal/httptransport"
	"github.com/fathomlabs/agentcore/internal/responder"
	"github.com/fathomlabs/agentcore/pkg/models"
)

// OpenAIResponder calls the OpenAI-compatible Responses API (§6): a single
// POST to {base_url}/responses, streamed as server-sent events rather than
// the chat-completions `chat.completion.chunk` shape. All transport, retry
// and status classification is delegated to Transport; this type only
// knows the Responses-API request/event shape.
type OpenAIResponder struct {
	transport *httptransport.Transport
	baseURL   string
	apiKey    string
}

// NewOpenAIResponder builds an OpenAIResponder. baseURL should not carry a
// trailing slash (e.g. "https://api.openai.com/v1").
func NewOpenAIResponder(transport *httptransport.Transport, baseURL, apiKey string) *OpenAIResponder {
	return &OpenAIResponder{transport: transport, baseURL: strings.TrimSuffix(baseURL, "/"), apiKey: apiKey}
}

func (p *OpenAIResponder) Name() string { return "openai" }

// Complete streams a Responses-API completion. The returned channel is
// closed once a terminal event (response.completed, an error, or the
// [DONE] sentinel) has been translated into a CompletionChunk.
func (p *OpenAIResponder) Complete(ctx context.Context, payload *models.RequestPayload) (<-chan responder.CompletionChunk, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return nil, coreerrors.NewConfigurationError("openai: api key not configured", nil)
	}

	streamPayload := *payload
	streamPayload.Stream = true

	events, errs, err := p.transport.Stream(ctx, httptransport.Request{
		Method: "POST",
		URL:    p.baseURL + "/responses",
		Headers: map[string]string{
			"Authorization": "Bearer " + p.apiKey,
			"Content-Type":  "application/json",
		},
		Body: streamPayload,
	})
	if err != nil {
		return nil, err
	}

	chunks := make(chan responder.CompletionChunk)
	go p.translate(ctx, events, errs, chunks)
	return chunks, nil
}

func (p *OpenAIResponder) translate(ctx context.Context, events <-chan httptransport.StreamEvent, errs <-chan error, chunks chan<- responder.CompletionChunk) {
	defer close(chunks)

	emit := func(c responder.CompletionChunk) bool {
		select {
		case chunks <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range events {
		switch ev.Event {
		case "response.output_text.delta":
			var frame struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &frame); err != nil {
				if !emit(responder.CompletionChunk{Error: fmt.Errorf("openai: malformed delta frame: %w", err), Done: true}) {
					return
				}
				continue
			}
			if frame.Delta != "" {
				if !emit(responder.CompletionChunk{TextDelta: frame.Delta}) {
					return
				}
			}

		case "response.completed":
			var final models.Response
			if err := json.Unmarshal([]byte(ev.Data), &final); err != nil {
				if !emit(responder.CompletionChunk{Error: fmt.Errorf("openai: malformed completed frame: %w", err), Done: true}) {
					return
				}
				continue
			}
			for _, tc := range final.ToolCalls() {
				if !emit(responder.CompletionChunk{ToolCall: tc}) {
					return
				}
			}
			usage := final.Usage
			if !emit(responder.CompletionChunk{Usage: &usage, Done: true}) {
				return
			}

		case "[DONE]":
			// Stream-closed sentinel; response.completed already carried the
			// terminal chunk, nothing further to translate.

		default:
			// Unrecognized event name: ignore rather than fail the whole
			// stream over a forward-compatible addition.
		}
	}

	if err := <-errs; err != nil {
		emit(responder.CompletionChunk{Error: err, Done: true})
	}
}
