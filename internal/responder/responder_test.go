package responder

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/fathomlabs/agentcore/pkg/models"
)

type stubProvider struct {
	chunks []CompletionChunk
	err    error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, payload *models.RequestPayload) (<-chan CompletionChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan CompletionChunk, len(s.chunks))
	for _, c := range s.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type recordingSink struct {
	events []models.Event
}

func (r *recordingSink) Emit(e models.Event) {
	r.events = append(r.events, e)
}

func TestBuildPayload_SortsToolsAndStampsSession(t *testing.T) {
	base := models.RequestPayload{Model: "gpt-5"}
	tools := []models.ToolSchema{{Name: "zeta"}, {Name: "alpha"}}
	session := models.Session{SessionID: "sess-1"}

	payload := BuildPayload(base, tools, nil, session)

	if len(payload.Tools) != 2 || payload.Tools[0].Name != "alpha" || payload.Tools[1].Name != "zeta" {
		t.Fatalf("expected tools sorted by name, got %+v", payload.Tools)
	}
	if payload.SessionID != "sess-1" {
		t.Errorf("expected session id stamped, got %q", payload.SessionID)
	}
}

func TestRespond_AssemblesTextOutput(t *testing.T) {
	provider := &stubProvider{chunks: []CompletionChunk{
		{TextDelta: "hello "},
		{TextDelta: "world"},
		{Usage: &models.Usage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12}},
		{Done: true},
	}}
	sink := &recordingSink{}
	r := New(provider, sink)

	resp, err := r.Respond(context.Background(), models.Session{SessionID: "s1"}, &models.RequestPayload{Model: "gpt-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != models.ResponseStatusCompleted {
		t.Errorf("expected completed status, got %s", resp.Status)
	}
	text := resp.AssistantText()
	if text != "hello world" {
		t.Errorf("expected assembled text %q, got %q", "hello world", text)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("expected usage propagated, got %+v", resp.Usage)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected started+completed events, got %d", len(sink.events))
	}
}

func TestRespond_ProviderErrorEmitsFailedAndReturnsError(t *testing.T) {
	boom := errors.New("provider unavailable")
	provider := &stubProvider{err: boom}
	sink := &recordingSink{}
	r := New(provider, sink)

	_, err := r.Respond(context.Background(), models.Session{SessionID: "s1"}, &models.RequestPayload{Model: "gpt-5"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected started+failed events, got %d", len(sink.events))
	}
}

func TestRespond_StructuredOutputValidatedAgainstSchema(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}},"additionalProperties":false}`)
	provider := &stubProvider{chunks: []CompletionChunk{
		{TextDelta: `{"ok":true}`},
		{Done: true},
	}}
	r := New(provider, nil)

	resp, err := r.Respond(context.Background(), models.Session{SessionID: "s1"}, &models.RequestPayload{Model: "gpt-5", ResponseSchema: schema})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.AssistantText() != `{"ok":true}` {
		t.Errorf("unexpected assembled text: %q", resp.AssistantText())
	}
}

func TestRespond_StructuredOutputRejectsSchemaMismatch(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","required":["ok"],"properties":{"ok":{"type":"boolean"}},"additionalProperties":false}`)
	provider := &stubProvider{chunks: []CompletionChunk{
		{TextDelta: `{"wrong":true}`},
		{Done: true},
	}}
	sink := &recordingSink{}
	r := New(provider, sink)

	_, err := r.Respond(context.Background(), models.Session{SessionID: "s1"}, &models.RequestPayload{Model: "gpt-5", ResponseSchema: schema})
	if err == nil {
		t.Fatal("expected schema mismatch to produce an error")
	}
}

func TestRespondStreaming_CallbackOrdering(t *testing.T) {
	provider := &stubProvider{chunks: []CompletionChunk{
		{TextDelta: "a"},
		{TextDelta: "b"},
		{Done: true},
	}}
	r := New(provider, nil)

	var deltas []string
	var completed *models.Response
	r.RespondStreaming(context.Background(), models.Session{SessionID: "s1"}, &models.RequestPayload{Model: "gpt-5"}, Callbacks{
		OnTextDelta: func(d string) { deltas = append(deltas, d) },
		OnComplete:  func(resp *models.Response) { completed = resp },
		OnError:     func(err error) { t.Fatalf("unexpected OnError: %v", err) },
	})

	if len(deltas) != 2 || deltas[0] != "a" || deltas[1] != "b" {
		t.Fatalf("expected deltas in order, got %v", deltas)
	}
	if completed == nil {
		t.Fatal("expected OnComplete to fire")
	}
}

func TestRespondStreaming_ErrorNeverFollowedByComplete(t *testing.T) {
	boom := errors.New("mid-stream failure")
	provider := &stubProvider{chunks: []CompletionChunk{
		{TextDelta: "partial"},
		{Error: boom},
	}}
	r := New(provider, nil)

	var gotErr error
	completeCalled := false
	r.RespondStreaming(context.Background(), models.Session{SessionID: "s1"}, &models.RequestPayload{Model: "gpt-5"}, Callbacks{
		OnComplete: func(resp *models.Response) { completeCalled = true },
		OnError:    func(err error) { gotErr = err },
	})

	if !errors.Is(gotErr, boom) {
		t.Fatalf("expected OnError with wrapped cause, got %v", gotErr)
	}
	if completeCalled {
		t.Error("OnComplete must not fire after OnError")
	}
}
