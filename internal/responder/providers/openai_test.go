package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fathomlabs/agentcore/internal/httptransport"
	"github.com/fathomlabs/agentcore/pkg/models"
)

func sseHandler(frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			fmt.Fprint(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func TestOpenAIResponder_TranslatesDeltasAndCompletion(t *testing.T) {
	completed := `{"id":"resp_1","object":"response","status":"completed","output":[],"usage":{"input_tokens":5,"output_tokens":2,"total_tokens":7},"model":"gpt-5","created_at":1700000000}`
	frames := []string{
		"event: response.output_text.delta\ndata: {\"delta\":\"hel\"}\n\n",
		"event: response.output_text.delta\ndata: {\"delta\":\"lo\"}\n\n",
		"event: response.completed\ndata: " + completed + "\n\n",
		"event: [DONE]\ndata: \n\n",
	}
	srv := httptest.NewServer(sseHandler(frames))
	defer srv.Close()

	p := NewOpenAIResponder(httptransport.New(), srv.URL, "test-key")
	chunks, err := p.Complete(context.Background(), &models.RequestPayload{Model: "gpt-5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var text string
	var usage *models.Usage
	var done bool
	for c := range chunks {
		if c.Error != nil {
			t.Fatalf("unexpected chunk error: %v", c.Error)
		}
		text += c.TextDelta
		if c.Usage != nil {
			usage = c.Usage
		}
		if c.Done {
			done = true
		}
	}

	if text != "hello" {
		t.Errorf("expected assembled text %q, got %q", "hello", text)
	}
	if !done {
		t.Error("expected a terminal Done chunk")
	}
	if usage == nil || usage.TotalTokens != 7 {
		t.Errorf("expected usage propagated from response.completed, got %+v", usage)
	}
}

func TestOpenAIResponder_MissingAPIKey(t *testing.T) {
	p := NewOpenAIResponder(httptransport.New(), "https://example.invalid", "")
	_, err := p.Complete(context.Background(), &models.RequestPayload{Model: "gpt-5"})
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}
