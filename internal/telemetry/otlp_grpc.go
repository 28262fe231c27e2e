package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// OTLPProtocol selects the OTLP processor's wire transport (§6 "protocol ∈
// {http, grpc} (expansion)"). http is the default and matches §4.10's
// literal "serializes as OTLP/JSON, and POSTs" description; grpc uses the
// OpenTelemetry SDK's own batching exporter instead of the hand-rolled
// HTTP client.
type OTLPProtocol string

const (
	OTLPProtocolHTTP OTLPProtocol = "http"
	OTLPProtocolGRPC OTLPProtocol = "grpc"
)

// grpcExporter wraps an SDK TracerProvider/Tracer pair built from
// otlptracegrpc, grounded on the ancestor's NewTracer (§ DESIGN.md C10):
// one real OTel span per event instead of a hand-assembled JSON struct,
// batched and shipped by the SDK's own BatchSpanProcessor.
type grpcExporter struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

func newGRPCExporter(ctx context.Context, config OTLPConfig) (*grpcExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceNameOr(config.ServiceName))}
	if config.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(config.ServiceVersion))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return &grpcExporter{
		provider: provider,
		tracer:   provider.Tracer("agentcore/telemetry"),
	}, nil
}

func (g *grpcExporter) export(ctx context.Context, event models.Event) {
	start := event.StartedAt
	if start.IsZero() {
		start = event.CompletedAt
	}
	end := event.CompletedAt
	if end.IsZero() {
		end = start
	}

	_, span := g.tracer.Start(ctx, string(event.Kind), oteltrace.WithTimestamp(start))
	span.SetAttributes(spanAttributes(event)...)

	failed := event.Kind == models.EventKindResponseFailed || event.Kind == models.EventKindAgentFailed
	if failed {
		span.SetStatus(codes.Error, event.ErrorMessage)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(oteltrace.WithTimestamp(end))
}

func (g *grpcExporter) shutdown(ctx context.Context) error {
	return g.provider.Shutdown(ctx)
}

// spanAttributes builds the attribute.KeyValue list shared by both the
// grpc exporter (applied via span.SetAttributes) and the hand-rolled
// OTLP/JSON exporter (flattened by kv() into the wire AnyValue shape).
func spanAttributes(event models.Event) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("session.id", event.SessionID)}
	if event.Model != "" {
		attrs = append(attrs, attribute.String("gen_ai.request.model", event.Model))
	}
	if event.Usage.TotalTokens > 0 || event.Usage.InputTokens > 0 || event.Usage.OutputTokens > 0 {
		attrs = append(attrs,
			attribute.Int("gen_ai.usage.input_tokens", event.Usage.InputTokens),
			attribute.Int("gen_ai.usage.output_tokens", event.Usage.OutputTokens),
			attribute.Int("gen_ai.usage.total_tokens", event.Usage.TotalTokens),
		)
	}

	failed := event.Kind == models.EventKindResponseFailed || event.Kind == models.EventKindAgentFailed
	if failed {
		if event.ErrorCode != "" {
			attrs = append(attrs,
				attribute.String("error.type", string(event.Kind)),
				attribute.String("error.code", event.ErrorCode),
			)
		}
		if event.HTTPStatusCode != 0 {
			attrs = append(attrs, attribute.Int("http.status_code", event.HTTPStatusCode))
		}
	}
	return attrs
}
