package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fathomlabs/agentcore/internal/batching"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d, want 10", cfg.MaxTurns)
	}
	if cfg.RetryPolicy.Attempts != 3 {
		t.Errorf("RetryPolicy.Attempts = %d, want 3", cfg.RetryPolicy.Attempts)
	}
	if cfg.Batching.ErrorStrategy != batching.ErrorDeadLetter {
		t.Errorf("Batching.ErrorStrategy = %q, want DEAD_LETTER", cfg.Batching.ErrorStrategy)
	}
	if cfg.Provider.Name != "openai" {
		t.Errorf("Provider.Name = %q, want openai", cfg.Provider.Name)
	}
	if cfg.Telemetry.Sampler != "always_on" {
		t.Errorf("Telemetry.Sampler = %q, want always_on", cfg.Telemetry.Sampler)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
bogus_field: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	path := writeConfig(t, `
api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}

func TestLoadValidatesBatchingEnums(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
batching:
  error_strategy: EXPLODE
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "error_strategy") {
		t.Fatalf("expected error_strategy error, got %v", err)
	}
}

func TestLoadValidatesSecurityRequiresSecretWhenValidating(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
security:
  validate_signatures: true
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "webhook_verify_token") {
		t.Fatalf("expected webhook_verify_token error, got %v", err)
	}
}

func TestLoadValidatesBlockedPatterns(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
security:
  blocked_patterns:
    - "["
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "blocked_patterns") {
		t.Fatalf("expected blocked_patterns error, got %v", err)
	}
}

func TestLoadValidatesSamplerRatioRange(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
telemetry:
  sampler: ratio
  sampler_ratio: 1.5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "sampler_ratio") {
		t.Fatalf("expected sampler_ratio error, got %v", err)
	}
}

func TestLoadValidatesProviderName(t *testing.T) {
	path := writeConfig(t, `
base_url: https://api.example.com
provider:
  name: cohere
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider.name") {
		t.Fatalf("expected provider.name error, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte(`
base_url: https://api.example.com
max_turns: 5
`), 0o644); err != nil {
		t.Fatalf("write base: %v", err)
	}

	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: base.yaml
max_turns: 7
`), 0o644); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTurns != 7 {
		t.Errorf("MaxTurns = %d, want 7 (includer overrides include)", cfg.MaxTurns)
	}
	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q, want inherited from include", cfg.BaseURL)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_AGENTCORE_API_KEY", "sk-from-env")
	path := writeConfig(t, `
base_url: https://api.example.com
api_key: ${TEST_AGENTCORE_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIKey != "sk-from-env" {
		t.Errorf("APIKey = %q, want sk-from-env", cfg.APIKey)
	}
}

func TestSecurityConfigWebhookSecret(t *testing.T) {
	s := SecurityConfig{WebhookVerifyToken: "token-only"}
	if s.WebhookSecret() != "token-only" {
		t.Errorf("WebhookSecret() = %q, want token-only", s.WebhookSecret())
	}

	s = SecurityConfig{WebhookVerifyToken: "token", AppSecret: "app-secret-wins"}
	if s.WebhookSecret() != "app-secret-wins" {
		t.Errorf("WebhookSecret() = %q, want app-secret-wins (AppSecret takes precedence)", s.WebhookSecret())
	}
}

func TestTelemetryConfigShouldSample(t *testing.T) {
	always := TelemetryConfig{Sampler: "always_on"}
	if !always.ShouldSample(0.999) {
		t.Errorf("always_on should always sample")
	}

	never := TelemetryConfig{Sampler: "always_off"}
	if never.ShouldSample(0.0) {
		t.Errorf("always_off should never sample")
	}

	ratio := TelemetryConfig{Sampler: "ratio", SamplerRatio: 0.5}
	if !ratio.ShouldSample(0.1) {
		t.Errorf("roll below ratio should sample")
	}
	if ratio.ShouldSample(0.9) {
		t.Errorf("roll above ratio should not sample")
	}
}
