package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fathomlabs/agentcore/internal/agentruntime"
	"github.com/fathomlabs/agentcore/internal/batching"
	"github.com/fathomlabs/agentcore/internal/config"
	"github.com/fathomlabs/agentcore/internal/guardrails"
	"github.com/fathomlabs/agentcore/internal/history"
	"github.com/fathomlabs/agentcore/internal/httptransport"
	"github.com/fathomlabs/agentcore/internal/responder"
	"github.com/fathomlabs/agentcore/internal/responder/providers"
	"github.com/fathomlabs/agentcore/internal/security"
	"github.com/fathomlabs/agentcore/internal/telemetry"
	"github.com/fathomlabs/agentcore/internal/toolregistry"
	"github.com/fathomlabs/agentcore/pkg/models"
)

// defaultAgentName is the single agent a bare agentcore.yaml drives; a
// multi-agent pool is assembled the same way from additional
// agentruntime.AgentDefinition values once a deployment defines them.
const defaultAgentName = "default"

// Server ties the wired Core components to an http.Handler.
type Server struct {
	cfg     *config.Config
	bus     *telemetry.Bus
	metrics *telemetry.Metrics
	batcher *batching.Service
	flood   *security.FloodDetector
	store   history.Store
	mux     *http.ServeMux
}

// buildServer wires every Core component from cfg, grounded on §6's
// configuration surface: the HTTP Transport backs the selected Responder
// provider, the Telemetry Bus gets an OTLP and/or Langfuse processor per
// cfg.Telemetry, the Batching Service fronts the Agent Runtime, and
// inbound webhook requests are checked against cfg.Security before ever
// reaching a batching slot.
func buildServer(cfg *config.Config) (*Server, error) {
	bus := telemetry.New(slog.Default())
	metrics := telemetry.NewMetrics()
	bus.Register(telemetry.NewMetricsProcessor(metrics))

	if cfg.Telemetry.Endpoint != "" {
		bus.Register(telemetry.NewOTLPProcessor(cfg.Telemetry.ToOTLPConfig(), slog.Default()))
		if cfg.Telemetry.PublicKey != "" || cfg.Telemetry.SecretKey != "" {
			bus.Register(telemetry.NewLangfuseProcessor(cfg.Telemetry.ToLangfuseConfig(), slog.Default()))
		}
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	resp := responder.New(provider, bus)

	tools := toolregistry.New()
	var inputGuardrails []guardrails.Named
	if cfg.Security.MaxMessageLength > 0 {
		inputGuardrails = append(inputGuardrails, guardrails.Named{
			Name: "max_message_length",
			Func: guardrails.MaxMessageLength(cfg.Security.MaxMessageLength),
		})
	}
	if len(cfg.Security.BlockedPatterns) > 0 {
		inputGuardrails = append(inputGuardrails, guardrails.Named{
			Name: "blocked_patterns",
			Func: guardrails.BlockedPatterns(cfg.Security.BlockedPatterns),
		})
	}

	pool := agentruntime.NewPool(&agentruntime.AgentDefinition{
		Name:                 defaultAgentName,
		Instructions:         "You are a helpful assistant.",
		Model:                cfg.Provider.DefaultModel,
		MaxTurns:             cfg.MaxTurns,
		Tools:                tools,
		InputGuardrails:      inputGuardrails,
		ToolPlanEnabled:      true,
		ToolPlanRetryConfig:  cfg.RetryPolicy.ToRetryConfig(),
		ToolPlanRetryEnabled: func(string) bool { return true },
	})
	runtime := agentruntime.New(resp, pool, bus)

	store := history.Store(history.NewMemoryStore(0))

	var flood *security.FloodDetector
	if cfg.Security.FloodMaxMessages > 0 {
		flood = security.NewFloodDetector(cfg.Security.FloodWindow, cfg.Security.FloodMaxMessages)
	}

	srv := &Server{cfg: cfg, bus: bus, metrics: metrics, flood: flood, store: store}

	srv.batcher = batching.New(cfg.Batching.ToBatchingConfig(), srv.processBatch(runtime), srv.deadLetter, bus)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/messages", srv.handleMessage)
	srv.mux = mux

	return srv, nil
}

func buildProvider(cfg *config.Config) (responder.Provider, error) {
	switch cfg.Provider.Name {
	case "anthropic":
		return providers.NewAnthropicResponder(cfg.APIKey, cfg.BaseURL, cfg.Provider.DefaultModel), nil
	case "openai", "":
		transport := httptransport.New(
			httptransport.WithMaxRetries(cfg.RetryPolicy.Attempts - 1),
		)
		return providers.NewOpenAIResponder(transport, cfg.BaseURL, cfg.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %q", cfg.Provider.Name)
	}
}

// ServeHTTP dispatches to the wired mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start runs the batching service; call before serving traffic.
func (s *Server) Start(ctx context.Context) {
	s.batcher.Start(ctx)
}

// Shutdown drains the batching service's in-flight batches.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.batcher.Shutdown(ctx)
}

type inboundMessage struct {
	UserID  string `json:"user_id"`
	Content string `json:"content"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if s.cfg.Security.ValidateSignatures {
		if !security.VerifyWebhookSignature(s.cfg.Security.WebhookSecret(), body, r.Header.Get("X-Signature")) {
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	}

	var in inboundMessage
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if in.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if s.flood != nil && !s.flood.Allow(in.UserID) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	msg := models.Message{
		ID:        uuid.NewString(),
		SessionID: in.UserID,
		Channel:   models.ChannelAPI,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   in.Content,
		CreatedAt: time.Now(),
	}

	if err := s.batcher.Submit(r.Context(), in.UserID, msg); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"queued"}`))
}

// processBatch adapts the Agent Runtime into a batching.Processor: the
// flushed batch becomes the turn's message transcript, the runtime drives
// handoffs/tools/guardrails to completion, and the result is appended to
// the user's History Store.
func (s *Server) processBatch(runtime *agentruntime.Runtime) batching.Processor {
	return func(ctx context.Context, userID string, batch []models.Message, pctx batching.ProcessContext) error {
		var turn []models.RequestMessage
		for _, m := range batch {
			turn = append(turn, models.RequestMessage{
				Role:    models.ResponderRoleUser,
				Content: []models.Content{models.TextContent(m.Content)},
			})
			if err := s.store.Add(ctx, userID, m); err != nil {
				slog.Warn("history store add failed", "user_id", userID, "error", err)
			}
		}

		session := models.Session{SessionID: userID, TraceID: uuid.NewString()}
		result, err := runtime.Run(ctx, defaultAgentName, session, turn)
		if err != nil {
			return err
		}
		if result.Response == nil {
			return nil
		}

		reply := models.Message{
			ID:        uuid.NewString(),
			SessionID: userID,
			Channel:   models.ChannelAPI,
			Direction: models.DirectionOutbound,
			Role:      models.RoleAssistant,
			Content:   result.Response.AssistantText(),
			CreatedAt: time.Now(),
		}
		return s.store.Add(ctx, userID, reply)
	}
}

func (s *Server) deadLetter(userID string, batch []models.Message, pctx batching.ProcessContext, err error) {
	slog.Error("batch dead-lettered", "user_id", userID, "reason", pctx.Reason, "error", err)
}
