package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fathomlabs/agentcore/pkg/models"
)

func newCapturingLangfuseServer(t *testing.T) (*httptest.Server, *[]langfuseTrace, *[]string, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var traces []langfuseTrace
	var authHeaders []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/public/ingestion" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var trace langfuseTrace
		if err := json.NewDecoder(r.Body).Decode(&trace); err != nil {
			t.Errorf("decode trace: %v", err)
		}
		mu.Lock()
		traces = append(traces, trace)
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return server, &traces, &authHeaders, &mu
}

func TestLangfuseProcessor_FlushesOnResponseCompleted(t *testing.T) {
	server, traces, headers, mu := newCapturingLangfuseServer(t)
	defer server.Close()

	p := NewLangfuseProcessor(LangfuseConfig{Endpoint: server.URL, PublicKey: "pub", SecretKey: "sec"}, nil)

	ctx := context.Background()
	_ = p.Process(ctx, models.NewResponseStarted("s1", "t1", "sp1", "gpt-5"))
	_ = p.Process(ctx, models.NewResponseCompleted("s1", "t1", "sp1", "gpt-5", models.Usage{InputTokens: 3, OutputTokens: 4, TotalTokens: 7}))

	mu.Lock()
	defer mu.Unlock()
	if len(*traces) != 1 {
		t.Fatalf("len(traces) = %d, want 1", len(*traces))
	}
	trace := (*traces)[0]
	if trace.SessionID != "s1" || trace.ID != "t1" {
		t.Fatalf("unexpected trace identity: %+v", trace)
	}
	if trace.Usage == nil || trace.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected usage: %+v", trace.Usage)
	}
	if (*headers)[0] == "" {
		t.Fatal("expected a Basic auth header")
	}
}

func TestLangfuseProcessor_CompletionWithoutStartStillFlushes(t *testing.T) {
	server, traces, _, mu := newCapturingLangfuseServer(t)
	defer server.Close()

	p := NewLangfuseProcessor(LangfuseConfig{Endpoint: server.URL, BearerToken: "tok"}, nil)
	_ = p.Process(context.Background(), models.NewResponseFailed("s1", "t1", "sp1", 500, true, "ServerError", "boom"))

	mu.Lock()
	defer mu.Unlock()
	if len(*traces) != 1 {
		t.Fatalf("len(traces) = %d, want 1", len(*traces))
	}
}

func TestLangfuseProcessor_TracesAreIsolatedByKey(t *testing.T) {
	server, traces, _, mu := newCapturingLangfuseServer(t)
	defer server.Close()

	p := NewLangfuseProcessor(LangfuseConfig{Endpoint: server.URL, BearerToken: "tok"}, nil)
	ctx := context.Background()

	_ = p.Process(ctx, models.NewResponseStarted("s1", "t1", "sp1", "m"))
	_ = p.Process(ctx, models.NewResponseStarted("s2", "t2", "sp2", "m"))
	_ = p.Process(ctx, models.NewResponseCompleted("s1", "t1", "sp1", "m", models.Usage{}))

	mu.Lock()
	defer mu.Unlock()
	if len(*traces) != 1 {
		t.Fatalf("expected only the s1/t1 trace to flush, got %d", len(*traces))
	}
	if (*traces)[0].SessionID != "s1" {
		t.Fatalf("flushed wrong trace: %+v", (*traces)[0])
	}
}
