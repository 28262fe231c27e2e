package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fathomlabs/agentcore/pkg/models"
)

type capturedRequest struct {
	authHeader string
	body       otlpExportRequest
}

func newCapturingOTLPServer(t *testing.T) (*httptest.Server, *[]capturedRequest, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var captured []capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req otlpExportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode export request: %v", err)
		}
		mu.Lock()
		captured = append(captured, capturedRequest{authHeader: r.Header.Get("Authorization"), body: req})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return server, &captured, &mu
}

func TestOTLPProcessor_FlushesOnBatchSize(t *testing.T) {
	server, captured, mu := newCapturingOTLPServer(t)
	defer server.Close()

	p := NewOTLPProcessor(OTLPConfig{
		Endpoint:      server.URL,
		PublicKey:     "pub",
		SecretKey:     "sec",
		BatchSize:     2,
		FlushInterval: time.Hour,
	}, nil)
	defer p.Shutdown(context.Background())

	ctx := context.Background()
	_ = p.Process(ctx, models.NewResponseCompleted("s1", "t1", "sp1", "gpt-5", models.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}))
	_ = p.Process(ctx, models.NewResponseCompleted("s1", "t1", "sp2", "gpt-5", models.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}))

	waitForCount(t, func() int { mu.Lock(); defer mu.Unlock(); return len(*captured) }, 1)

	mu.Lock()
	defer mu.Unlock()
	req := (*captured)[0]
	if req.authHeader == "" {
		t.Fatal("expected Authorization header to be set")
	}
	if len(req.body.ResourceSpans) != 1 || len(req.body.ResourceSpans[0].ScopeSpans) != 1 {
		t.Fatalf("unexpected export request shape: %+v", req.body)
	}
	spans := req.body.ResourceSpans[0].ScopeSpans[0].Spans
	if len(spans) != 2 {
		t.Fatalf("len(spans) = %d, want 2", len(spans))
	}
	for _, span := range spans {
		if span.Status.Code != "OK" {
			t.Errorf("span status = %q, want OK", span.Status.Code)
		}
	}
}

func TestOTLPProcessor_FailedEventCarriesErrorAttributes(t *testing.T) {
	server, captured, mu := newCapturingOTLPServer(t)
	defer server.Close()

	p := NewOTLPProcessor(OTLPConfig{
		Endpoint:      server.URL,
		BearerToken:   "tok",
		BatchSize:     1,
		FlushInterval: time.Hour,
	}, nil)
	defer p.Shutdown(context.Background())

	_ = p.Process(context.Background(), models.NewResponseFailed("s1", "t1", "sp1", 429, true, "RateLimitError", "too many requests"))

	waitForCount(t, func() int { mu.Lock(); defer mu.Unlock(); return len(*captured) }, 1)

	mu.Lock()
	defer mu.Unlock()
	req := (*captured)[0]
	if req.authHeader != "Bearer tok" {
		t.Fatalf("authHeader = %q, want Bearer tok", req.authHeader)
	}
	span := req.body.ResourceSpans[0].ScopeSpans[0].Spans[0]
	if span.Status.Code != "ERROR" || span.Status.Message != "too many requests" {
		t.Fatalf("unexpected status: %+v", span.Status)
	}

	foundStatusCode := false
	for _, attr := range span.Attributes {
		if attr.Key == "http.status_code" && attr.Value.IntValue != nil && *attr.Value.IntValue == "429" {
			foundStatusCode = true
		}
	}
	if !foundStatusCode {
		t.Fatalf("expected http.status_code=429 attribute, got %+v", span.Attributes)
	}
}

func TestOTLPProcessor_IgnoresIrrelevantEventKinds(t *testing.T) {
	server, captured, mu := newCapturingOTLPServer(t)
	defer server.Close()

	p := NewOTLPProcessor(OTLPConfig{Endpoint: server.URL, BatchSize: 1, FlushInterval: time.Hour}, nil)
	defer p.Shutdown(context.Background())

	_ = p.Process(context.Background(), models.NewBatchFlushed("u1", "b1", 3, "TIMEOUT"))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(*captured) != 0 {
		t.Fatalf("expected BatchFlushed events to be ignored by the OTLP processor, got %d requests", len(*captured))
	}
}

func TestOTLPProcessor_GRPCProtocol_ExportsViaSDKWithoutPanicking(t *testing.T) {
	p := NewOTLPProcessor(OTLPConfig{
		Endpoint:      "127.0.0.1:4317",
		Protocol:      OTLPProtocolGRPC,
		Insecure:      true,
		BatchSize:     1,
		FlushInterval: time.Hour,
	}, nil)

	_ = p.Process(context.Background(), models.NewResponseCompleted("s1", "t1", "sp1", "m", models.Usage{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestOTLPConfig_ProtocolDefaultsToHTTP(t *testing.T) {
	var c OTLPConfig
	if c.protocol() != OTLPProtocolHTTP {
		t.Fatalf("protocol() = %q, want http", c.protocol())
	}
}

func TestOTLPProcessor_Shutdown_FlushesBufferedEvents(t *testing.T) {
	server, captured, mu := newCapturingOTLPServer(t)
	defer server.Close()

	p := NewOTLPProcessor(OTLPConfig{Endpoint: server.URL, BatchSize: 100, FlushInterval: time.Hour}, nil)
	_ = p.Process(context.Background(), models.NewResponseCompleted("s1", "t1", "sp1", "m", models.Usage{}))

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*captured) != 1 {
		t.Fatalf("expected shutdown to flush the buffered event, got %d requests", len(*captured))
	}
}
