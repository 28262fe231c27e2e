// Package config loads and validates the configuration surface of §6:
// outbound transport (api_key/base_url/timeout/retry_policy), turn-loop
// knobs (max_turns/parallel_tool_calls/structured_output_schema), the
// batching service, inbound webhook security, the telemetry exporters,
// and the LLM provider selection.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fathomlabs/agentcore/internal/batching"
	"github.com/fathomlabs/agentcore/internal/retry"
	"github.com/fathomlabs/agentcore/internal/telemetry"
)

// Config is the root configuration surface (§6 "Configuration surface").
type Config struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryPolicy RetryPolicy   `yaml:"retry_policy"`

	MaxTurns               int    `yaml:"max_turns"`
	ParallelToolCalls      bool   `yaml:"parallel_tool_calls"`
	StructuredOutputSchema string `yaml:"structured_output_schema,omitempty"`

	Batching  BatchingConfig  `yaml:"batching"`
	Security  SecurityConfig  `yaml:"security"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Provider  ProviderConfig  `yaml:"provider"`
}

// RetryPolicy mirrors retry.Config with the §6 wire field names.
type RetryPolicy struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	Factor    float64       `yaml:"factor"`
	Jitter    bool          `yaml:"jitter"`
}

// ToRetryConfig translates the wire policy into a retry.Config.
func (p RetryPolicy) ToRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  p.Attempts,
		InitialDelay: p.BaseDelay,
		MaxDelay:     10 * time.Second,
		Factor:       p.Factor,
		Jitter:       p.Jitter,
	}
}

// BatchingConfig mirrors batching.Config with the §6 wire field names.
// ErrorStrategy and Backpressure reuse batching's own string-enum types
// directly, so they decode straight off the wire with no translation step.
type BatchingConfig struct {
	MaxBatchSize       int                         `yaml:"max_batch_size"`
	MaxWait            time.Duration               `yaml:"max_wait"`
	SilenceThreshold   time.Duration               `yaml:"silence_threshold"`
	MaxConcurrentUsers int                         `yaml:"max_concurrent_users"`
	ErrorStrategy      batching.ErrorStrategy      `yaml:"error_strategy"`
	Backpressure       batching.BackpressurePolicy `yaml:"backpressure"`
}

// ToBatchingConfig translates the wire config into a batching.Config,
// filling every knob the wire surface doesn't expose from
// batching.DefaultConfig().
func (b BatchingConfig) ToBatchingConfig() batching.Config {
	cfg := batching.DefaultConfig()
	if b.MaxBatchSize != 0 {
		cfg.MaxBatchSize = b.MaxBatchSize
	}
	if b.MaxWait != 0 {
		cfg.MaxWait = b.MaxWait
	}
	if b.SilenceThreshold != 0 {
		cfg.SilenceThreshold = b.SilenceThreshold
	}
	if b.MaxConcurrentUsers != 0 {
		cfg.MaxConcurrentUsers = b.MaxConcurrentUsers
	}
	if b.ErrorStrategy != "" {
		cfg.ErrorStrategy = b.ErrorStrategy
	}
	if b.Backpressure != "" {
		cfg.Backpressure = b.Backpressure
	}
	return cfg
}

// SecurityConfig configures inbound webhook verification, content
// filtering, and flood control (§6 "security:").
type SecurityConfig struct {
	WebhookVerifyToken string        `yaml:"webhook_verify_token"`
	AppSecret          string        `yaml:"app_secret,omitempty"`
	ValidateSignatures bool          `yaml:"validate_signatures"`
	MaxMessageLength   int           `yaml:"max_message_length"`
	BlockedPatterns    []string      `yaml:"blocked_patterns"`
	FloodWindow        time.Duration `yaml:"flood_window"`
	FloodMaxMessages   int           `yaml:"flood_max_messages"`
}

// WebhookSecret is the shared key a webhook verifier checks against:
// AppSecret when set, falling back to WebhookVerifyToken (the
// single-token channels that don't issue a separate app secret). config
// stays a flat data surface — constructing the actual verifier
// (internal/security.VerifyWebhookSignature) is a cmd/agentcore wiring
// concern, so this package doesn't import internal/security.
func (s SecurityConfig) WebhookSecret() string {
	if s.AppSecret != "" {
		return s.AppSecret
	}
	return s.WebhookVerifyToken
}

// TelemetryConfig configures the OTLP/Langfuse exporters (§6 "telemetry:").
type TelemetryConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	PublicKey     string        `yaml:"public_key,omitempty"`
	SecretKey     string        `yaml:"secret_key,omitempty"`
	BearerToken   string        `yaml:"bearer_token,omitempty"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Protocol selects http (default) or grpc (expansion, §6).
	Protocol string `yaml:"protocol"`

	// Sampler selects always_on, always_off, or ratio (expansion, §6).
	// SamplerRatio is consulted only when Sampler is "ratio".
	Sampler      string  `yaml:"sampler"`
	SamplerRatio float64 `yaml:"sampler_ratio,omitempty"`
}

// ToOTLPConfig translates the wire config into an OTLPConfig.
func (t TelemetryConfig) ToOTLPConfig() telemetry.OTLPConfig {
	return telemetry.OTLPConfig{
		Endpoint:      t.Endpoint,
		PublicKey:     t.PublicKey,
		SecretKey:     t.SecretKey,
		BearerToken:   t.BearerToken,
		BatchSize:     t.BatchSize,
		FlushInterval: t.FlushInterval,
		Protocol:      telemetry.OTLPProtocol(t.Protocol),
	}
}

// ToLangfuseConfig translates the wire config into a LangfuseConfig.
func (t TelemetryConfig) ToLangfuseConfig() telemetry.LangfuseConfig {
	return telemetry.LangfuseConfig{
		Endpoint:    t.Endpoint,
		PublicKey:   t.PublicKey,
		SecretKey:   t.SecretKey,
		BearerToken: t.BearerToken,
	}
}

// ShouldSample reports whether an event should be kept under this
// telemetry config's sampler. roll is a caller-supplied value in [0, 1);
// ShouldSample takes no randomness of its own so it stays deterministic
// and testable — callers needing real randomness pass math/rand's output.
func (t TelemetryConfig) ShouldSample(roll float64) bool {
	switch t.Sampler {
	case "always_off":
		return false
	case "ratio":
		return roll < t.SamplerRatio
	default: // "always_on" or unset
		return true
	}
}

// ProviderConfig selects the LLM provider and its default model (§6
// "provider: (expansion)").
type ProviderConfig struct {
	Name         string `yaml:"name"` // openai | anthropic
	DefaultModel string `yaml:"default_model,omitempty"`
}

// Load reads path (resolving $include directives, expanding environment
// variables, and rejecting unknown fields), applies defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryPolicy.Attempts == 0 {
		cfg.RetryPolicy.Attempts = 3
	}
	if cfg.RetryPolicy.BaseDelay == 0 {
		cfg.RetryPolicy.BaseDelay = 100 * time.Millisecond
	}
	if cfg.RetryPolicy.Factor == 0 {
		cfg.RetryPolicy.Factor = 2.0
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 10
	}

	if cfg.Batching.MaxBatchSize == 0 {
		cfg.Batching.MaxBatchSize = 10
	}
	if cfg.Batching.MaxWait == 0 {
		cfg.Batching.MaxWait = 5 * time.Second
	}
	if cfg.Batching.SilenceThreshold == 0 {
		cfg.Batching.SilenceThreshold = 1500 * time.Millisecond
	}
	if cfg.Batching.MaxConcurrentUsers == 0 {
		cfg.Batching.MaxConcurrentUsers = 16
	}
	if cfg.Batching.ErrorStrategy == "" {
		cfg.Batching.ErrorStrategy = batching.ErrorDeadLetter
	}
	if cfg.Batching.Backpressure == "" {
		cfg.Batching.Backpressure = batching.BackpressureReject
	}

	if cfg.Security.MaxMessageLength == 0 {
		cfg.Security.MaxMessageLength = 4096
	}
	if cfg.Security.FloodWindow == 0 {
		cfg.Security.FloodWindow = 10 * time.Second
	}
	if cfg.Security.FloodMaxMessages == 0 {
		cfg.Security.FloodMaxMessages = 20
	}

	if cfg.Telemetry.BatchSize == 0 {
		cfg.Telemetry.BatchSize = 50
	}
	if cfg.Telemetry.FlushInterval == 0 {
		cfg.Telemetry.FlushInterval = 5 * time.Second
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = string(telemetry.OTLPProtocolHTTP)
	}
	if cfg.Telemetry.Sampler == "" {
		cfg.Telemetry.Sampler = "always_on"
	}

	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "openai"
	}
}

// ConfigValidationError aggregates every validation issue found in a
// single pass, so a misconfigured deploy reports all its problems at
// once rather than one failed field at a time.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation failed:\n- %s", strings.Join(e.Issues, "\n- "))
}

func validateConfig(cfg *Config) error {
	var issues []string

	if cfg.BaseURL == "" {
		issues = append(issues, "base_url is required")
	}
	if cfg.RetryPolicy.Attempts < 1 {
		issues = append(issues, "retry_policy.attempts must be at least 1")
	}
	if cfg.RetryPolicy.Factor < 1 {
		issues = append(issues, "retry_policy.factor must be at least 1")
	}
	if cfg.MaxTurns < 1 {
		issues = append(issues, "max_turns must be at least 1")
	}

	if cfg.Batching.MaxBatchSize < 1 {
		issues = append(issues, "batching.max_batch_size must be at least 1")
	}
	switch cfg.Batching.ErrorStrategy {
	case batching.ErrorRetry, batching.ErrorDeadLetter, batching.ErrorDrop, batching.ErrorIgnore:
	default:
		issues = append(issues, fmt.Sprintf("batching.error_strategy %q is not one of RETRY, DEAD_LETTER, DROP, IGNORE", cfg.Batching.ErrorStrategy))
	}
	switch cfg.Batching.Backpressure {
	case batching.BackpressureReject, batching.BackpressureBlock, batching.BackpressureDropOldest:
	default:
		issues = append(issues, fmt.Sprintf("batching.backpressure %q is not one of REJECT, BLOCK, DROP_OLDEST", cfg.Batching.Backpressure))
	}

	if cfg.Security.ValidateSignatures && cfg.Security.WebhookSecret() == "" {
		issues = append(issues, "security.webhook_verify_token (or app_secret) is required when validate_signatures is true")
	}
	for _, pattern := range cfg.Security.BlockedPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			issues = append(issues, fmt.Sprintf("security.blocked_patterns: invalid pattern %q: %v", pattern, err))
		}
	}

	switch cfg.Telemetry.Protocol {
	case string(telemetry.OTLPProtocolHTTP), string(telemetry.OTLPProtocolGRPC), "":
	default:
		issues = append(issues, fmt.Sprintf("telemetry.protocol %q is not one of http, grpc", cfg.Telemetry.Protocol))
	}
	switch cfg.Telemetry.Sampler {
	case "always_on", "always_off", "ratio", "":
	default:
		issues = append(issues, fmt.Sprintf("telemetry.sampler %q is not one of always_on, always_off, ratio", cfg.Telemetry.Sampler))
	}
	if cfg.Telemetry.Sampler == "ratio" && (cfg.Telemetry.SamplerRatio < 0 || cfg.Telemetry.SamplerRatio > 1) {
		issues = append(issues, "telemetry.sampler_ratio must be in [0, 1] when sampler is ratio")
	}

	switch cfg.Provider.Name {
	case "openai", "anthropic", "":
	default:
		issues = append(issues, fmt.Sprintf("provider.name %q is not one of openai, anthropic", cfg.Provider.Name))
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

