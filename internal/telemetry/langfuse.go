package telemetry

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// langfuseTrace is the simplified JSON ingestion body posted to
// {endpoint}/api/public/ingestion (§4.10 "Langfuse exporter").
type langfuseTrace struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	SessionID string         `json:"sessionId"`
	Input     any            `json:"input,omitempty"`
	Output    any            `json:"output,omitempty"`
	Usage     *models.Usage  `json:"usage,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	StartTime time.Time      `json:"startTime"`
	EndTime   time.Time      `json:"endTime,omitempty"`
}

// LangfuseConfig configures a LangfuseProcessor.
type LangfuseConfig struct {
	Endpoint    string
	PublicKey   string
	SecretKey   string
	BearerToken string
	HTTPClient  *http.Client
}

func (c LangfuseConfig) authHeader() (string, bool) {
	if c.PublicKey != "" && c.SecretKey != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.PublicKey + ":" + c.SecretKey))
		return "Basic " + token, true
	}
	if c.BearerToken != "" {
		return "Bearer " + c.BearerToken, true
	}
	return "", false
}

// traceKey identifies an in-flight trace buffer: ResponseStarted opens it,
// ResponseCompleted/ResponseFailed flushes and removes it (§4.10
// "Event-to-trace mapping").
type traceKey struct {
	sessionID string
	traceID   string
}

// LangfuseProcessor buffers ResponseStarted events per (session_id,
// trace_id) and flushes a trace-ingestion POST when the matching
// ResponseCompleted/ResponseFailed arrives.
type LangfuseProcessor struct {
	config     LangfuseConfig
	logger     *slog.Logger
	httpClient *http.Client

	mu   sync.Mutex
	open map[traceKey]langfuseTrace

	running atomic.Bool
}

// NewLangfuseProcessor creates a running Langfuse processor.
func NewLangfuseProcessor(config LangfuseConfig, logger *slog.Logger) *LangfuseProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	p := &LangfuseProcessor{
		config:     config,
		logger:     logger,
		httpClient: client,
		open:       make(map[traceKey]langfuseTrace),
	}
	p.running.Store(true)
	return p
}

func (p *LangfuseProcessor) Process(ctx context.Context, event models.Event) error {
	key := traceKey{sessionID: event.SessionID, traceID: event.TraceID}

	switch event.Kind {
	case models.EventKindResponseStarted:
		p.mu.Lock()
		p.open[key] = langfuseTrace{
			ID:        event.TraceID,
			Name:      string(event.Kind),
			SessionID: event.SessionID,
			StartTime: event.StartedAt,
		}
		p.mu.Unlock()
		return nil

	case models.EventKindResponseCompleted, models.EventKindResponseFailed:
		p.mu.Lock()
		trace, ok := p.open[key]
		delete(p.open, key)
		p.mu.Unlock()
		if !ok {
			trace = langfuseTrace{ID: event.TraceID, SessionID: event.SessionID, StartTime: event.StartedAt}
		}

		trace.Name = string(event.Kind)
		trace.EndTime = event.CompletedAt
		usage := event.Usage
		trace.Usage = &usage
		if event.Kind == models.EventKindResponseFailed {
			trace.Output = map[string]any{"error_code": event.ErrorCode, "error_message": event.ErrorMessage}
		}
		return p.send(ctx, trace)

	default:
		return nil
	}
}

func (p *LangfuseProcessor) send(ctx context.Context, trace langfuseTrace) error {
	if p.config.Endpoint == "" {
		return nil
	}

	body, err := json.Marshal(trace)
	if err != nil {
		p.logger.Warn("langfuse: marshal trace failed", "error", err)
		return err
	}

	url := p.config.Endpoint + "/api/public/ingestion"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("langfuse: build request failed", "error", err)
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if auth, ok := p.config.authHeader(); ok {
		req.Header.Set("Authorization", auth)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Warn("langfuse: ingestion request failed", "error", err, "endpoint", url)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		p.logger.Warn("langfuse: ingestion rejected", "status_code", resp.StatusCode, "endpoint", url)
	}
	return nil
}

func (p *LangfuseProcessor) IsRunning() bool {
	return p.running.Load()
}

func (p *LangfuseProcessor) Shutdown(ctx context.Context) error {
	p.running.Store(false)
	return nil
}
