package telemetry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// otlpAnyValue is the JSON shape of an OTLP AnyValue: exactly one field set.
type otlpAnyValue struct {
	StringValue *string  `json:"stringValue,omitempty"`
	IntValue    *string  `json:"intValue,omitempty"`
	DoubleValue *float64 `json:"doubleValue,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
}

type otlpKeyValue struct {
	Key   string       `json:"key"`
	Value otlpAnyValue `json:"value"`
}

type otlpStatus struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type otlpSpan struct {
	TraceID           string         `json:"traceId"`
	SpanID            string         `json:"spanId"`
	ParentSpanID      string         `json:"parentSpanId,omitempty"`
	Name              string         `json:"name"`
	StartTimeUnixNano string         `json:"startTimeUnixNano"`
	EndTimeUnixNano   string         `json:"endTimeUnixNano"`
	Attributes        []otlpKeyValue `json:"attributes"`
	Status            otlpStatus     `json:"status"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type otlpScopeSpans struct {
	Scope otlpScope  `json:"scope"`
	Spans []otlpSpan `json:"spans"`
}

type otlpResource struct {
	Attributes []otlpKeyValue `json:"attributes"`
}

type otlpResourceSpans struct {
	Resource   otlpResource     `json:"resource"`
	ScopeSpans []otlpScopeSpans `json:"scopeSpans"`
}

// otlpExportRequest is the body of a POST {endpoint}/v1/traces request
// (§4.10, §6 "Telemetry HTTP (OTLP/JSON)").
type otlpExportRequest struct {
	ResourceSpans []otlpResourceSpans `json:"resourceSpans"`
}

func kv(key string, v attribute.Value) otlpKeyValue {
	av := otlpAnyValue{}
	switch v.Type() {
	case attribute.STRING:
		s := v.AsString()
		av.StringValue = &s
	case attribute.INT64:
		s := strconv.FormatInt(v.AsInt64(), 10)
		av.IntValue = &s
	case attribute.FLOAT64:
		d := v.AsFloat64()
		av.DoubleValue = &d
	case attribute.BOOL:
		b := v.AsBool()
		av.BoolValue = &b
	default:
		s := v.Emit()
		av.StringValue = &s
	}
	return otlpKeyValue{Key: key, Value: av}
}

// OTLPConfig configures an OTLPProcessor.
type OTLPConfig struct {
	Endpoint       string
	PublicKey      string
	SecretKey      string
	BearerToken    string
	ServiceName    string
	ServiceVersion string
	BatchSize      int
	FlushInterval  time.Duration
	HTTPClient     *http.Client

	// Protocol selects http (default, hand-rolled OTLP/JSON over net/http
	// per §4.10) or grpc (the OTel SDK's own otlptracegrpc batching
	// exporter, per §6's "protocol ∈ {http, grpc} (expansion)").
	Protocol OTLPProtocol

	// Insecure disables transport security for the grpc protocol: dev/
	// test endpoints without TLS. Ignored for http.
	Insecure bool
}

func (c OTLPConfig) protocol() OTLPProtocol {
	if c.Protocol == "" {
		return OTLPProtocolHTTP
	}
	return c.Protocol
}

func (c OTLPConfig) batchSize() int {
	if c.BatchSize <= 0 {
		return 50
	}
	return c.BatchSize
}

func (c OTLPConfig) flushInterval() time.Duration {
	if c.FlushInterval <= 0 {
		return 5 * time.Second
	}
	return c.FlushInterval
}

func (c OTLPConfig) authHeader() (string, bool) {
	if c.PublicKey != "" && c.SecretKey != "" {
		token := base64.StdEncoding.EncodeToString([]byte(c.PublicKey + ":" + c.SecretKey))
		return "Basic " + token, true
	}
	if c.BearerToken != "" {
		return "Bearer " + c.BearerToken, true
	}
	return "", false
}

// OTLPProcessor batches ResponseStarted/Completed/Failed and AgentFailed
// events into OTLP spans and POSTs them as OTLP/JSON (§4.10, §6). HTTP
// failures are logged and never propagate back to the emitting turn.
type OTLPProcessor struct {
	config     OTLPConfig
	logger     *slog.Logger
	httpClient *http.Client
	grpc       *grpcExporter

	mu     sync.Mutex
	buffer []models.Event

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewOTLPProcessor creates a running OTLP processor and starts its
// background flush-interval loop. When config.Protocol is grpc, the SDK's
// otlptracegrpc exporter is built eagerly; if that fails to dial, the
// processor falls back to the http/JSON path and logs why.
func NewOTLPProcessor(config OTLPConfig, logger *slog.Logger) *OTLPProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	p := &OTLPProcessor{
		config:     config,
		logger:     logger,
		httpClient: client,
		stopCh:     make(chan struct{}),
	}

	if config.protocol() == OTLPProtocolGRPC && config.Endpoint != "" {
		exporter, err := newGRPCExporter(context.Background(), config)
		if err != nil {
			logger.Warn("otlp: grpc exporter init failed, falling back to http/json", "error", err)
		} else {
			p.grpc = exporter
		}
	}

	p.running.Store(true)

	p.wg.Add(1)
	go p.flushLoop()
	return p
}

func (p *OTLPProcessor) flushLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.config.flushInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.flush(context.Background())
		case <-p.stopCh:
			p.flush(context.Background())
			return
		}
	}
}

func (p *OTLPProcessor) Process(ctx context.Context, event models.Event) error {
	switch event.Kind {
	case models.EventKindResponseStarted, models.EventKindResponseCompleted,
		models.EventKindResponseFailed, models.EventKindAgentFailed:
	default:
		return nil
	}

	p.mu.Lock()
	p.buffer = append(p.buffer, event)
	shouldFlush := len(p.buffer) >= p.config.batchSize()
	p.mu.Unlock()

	if shouldFlush {
		p.flush(ctx)
	}
	return nil
}

func (p *OTLPProcessor) IsRunning() bool {
	return p.running.Load()
}

func (p *OTLPProcessor) Shutdown(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if p.grpc != nil {
		if err := p.grpc.shutdown(ctx); err != nil {
			p.logger.Warn("otlp: grpc exporter shutdown failed", "error", err)
			return err
		}
	}
	return nil
}

func (p *OTLPProcessor) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.buffer) == 0 {
		p.mu.Unlock()
		return
	}
	batch := p.buffer
	p.buffer = nil
	p.mu.Unlock()

	if p.grpc != nil {
		for _, event := range batch {
			p.grpc.export(ctx, event)
		}
		return
	}

	if p.config.Endpoint == "" {
		return
	}

	req := p.buildExportRequest(batch)
	body, err := json.Marshal(req)
	if err != nil {
		p.logger.Warn("otlp: marshal export request failed", "error", err)
		return
	}

	url := p.config.Endpoint + "/v1/traces"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("otlp: build request failed", "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if auth, ok := p.config.authHeader(); ok {
		httpReq.Header.Set("Authorization", auth)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Warn("otlp: export request failed", "error", err, "endpoint", url)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		p.logger.Warn("otlp: export rejected", "status_code", resp.StatusCode, "endpoint", url)
	}
}

func (p *OTLPProcessor) buildExportRequest(events []models.Event) otlpExportRequest {
	resourceAttrs := []otlpKeyValue{
		kv("service.name", attribute.StringValue(serviceNameOr(p.config.ServiceName))),
	}
	if p.config.ServiceVersion != "" {
		resourceAttrs = append(resourceAttrs, kv("service.version", attribute.StringValue(p.config.ServiceVersion)))
	}

	spans := make([]otlpSpan, 0, len(events))
	for _, event := range events {
		spans = append(spans, eventToSpan(event))
	}

	return otlpExportRequest{
		ResourceSpans: []otlpResourceSpans{
			{
				Resource: otlpResource{Attributes: resourceAttrs},
				ScopeSpans: []otlpScopeSpans{
					{
						Scope: otlpScope{Name: "agentcore/telemetry"},
						Spans: spans,
					},
				},
			},
		},
	}
}

func serviceNameOr(name string) string {
	if name == "" {
		return "agentcore"
	}
	return name
}

func eventToSpan(event models.Event) otlpSpan {
	traceID := hexTraceID(event.TraceID)
	spanID := hexSpanID(event.SpanID)

	attrs := make([]otlpKeyValue, 0, 8)
	for _, a := range spanAttributes(event) {
		attrs = append(attrs, kv(string(a.Key), a.Value))
	}

	status := otlpStatus{Code: "OK"}
	failed := event.Kind == models.EventKindResponseFailed || event.Kind == models.EventKindAgentFailed
	if failed {
		status = otlpStatus{Code: "ERROR", Message: event.ErrorMessage}
	}

	start := event.StartedAt
	if start.IsZero() {
		start = event.CompletedAt
	}
	end := event.CompletedAt
	if end.IsZero() {
		end = start
	}

	return otlpSpan{
		TraceID:           traceID,
		SpanID:            spanID,
		Name:              string(event.Kind),
		StartTimeUnixNano: strconv.FormatInt(start.UnixNano(), 10),
		EndTimeUnixNano:   strconv.FormatInt(end.UnixNano(), 10),
		Attributes:        attrs,
		Status:            status,
	}
}

// hexTraceID maps an application-level trace ID (arbitrary string, often a
// UUID) onto a 16-byte OTLP trace ID, hashed rather than parsed since
// application IDs are not guaranteed to already be hex. oteltrace.TraceID
// provides the canonical hex encoding and validity check.
func hexTraceID(id string) string {
	sum := sha256.Sum256([]byte(id))
	var tid oteltrace.TraceID
	copy(tid[:], sum[:16])
	if !tid.IsValid() {
		tid[len(tid)-1] = 1
	}
	return tid.String()
}

func hexSpanID(id string) string {
	sum := sha256.Sum256([]byte(id))
	var sid oteltrace.SpanID
	copy(sid[:], sum[16:24])
	if !sid.IsValid() {
		sid[len(sid)-1] = 1
	}
	return sid.String()
}
