package security

import (
	"fmt"
	"strings"

	"github.com/fathomlabs/agentcore/internal/config"
)

// looksLikeEnvReference reports whether value is an env-var placeholder
// (${FOO}) rather than a literal secret.
func looksLikeEnvReference(value string) bool {
	return strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}")
}

// auditConfigContent scans a loaded configuration for embedded secrets and
// insecure webhook settings that a checked-in config file shouldn't carry.
func auditConfigContent(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding
	findings = append(findings, auditSecretsInConfig(cfg)...)
	findings = append(findings, auditSecuritySettings(cfg)...)
	return findings
}

func auditSecretsInConfig(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding

	if cfg.APIKey != "" && !looksLikeEnvReference(cfg.APIKey) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.hardcoded_api_key",
			Severity:    SeverityCritical,
			Title:       "API key embedded in config file",
			Detail:      "api_key is a literal value rather than an ${ENV_VAR} reference.",
			Remediation: "Move the key to an environment variable and reference it as ${VAR_NAME}.",
		})
	}

	if cfg.Security.AppSecret != "" && !looksLikeEnvReference(cfg.Security.AppSecret) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.hardcoded_app_secret",
			Severity:    SeverityCritical,
			Title:       "Webhook app secret embedded in config file",
			Detail:      "security.app_secret is a literal value rather than an ${ENV_VAR} reference.",
			Remediation: "Move the secret to an environment variable.",
		})
	}

	if cfg.Security.WebhookVerifyToken != "" && !looksLikeEnvReference(cfg.Security.WebhookVerifyToken) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.hardcoded_webhook_token",
			Severity:    SeverityWarn,
			Title:       "Webhook verify token embedded in config file",
			Detail:      "security.webhook_verify_token is a literal value rather than an ${ENV_VAR} reference.",
			Remediation: "Move the token to an environment variable.",
		})
	}

	if cfg.Telemetry.SecretKey != "" && !looksLikeEnvReference(cfg.Telemetry.SecretKey) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.hardcoded_telemetry_secret",
			Severity:    SeverityWarn,
			Title:       "Telemetry secret key embedded in config file",
			Detail:      "telemetry.secret_key is a literal value rather than an ${ENV_VAR} reference.",
			Remediation: "Move the secret to an environment variable.",
		})
	}

	return findings
}

func auditSecuritySettings(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding

	if !cfg.Security.ValidateSignatures {
		findings = append(findings, AuditFinding{
			CheckID:     "config.signature_validation_disabled",
			Severity:    SeverityWarn,
			Title:       "Webhook signature validation is disabled",
			Detail:      "security.validate_signatures is false: inbound webhooks are accepted without verifying their sender.",
			Remediation: "Set security.validate_signatures to true and configure webhook_verify_token or app_secret.",
		})
	}

	if cfg.Security.MaxMessageLength <= 0 {
		findings = append(findings, AuditFinding{
			CheckID:  "config.unbounded_message_length",
			Severity: SeverityWarn,
			Title:    "No message-length limit configured",
			Detail:   "security.max_message_length is not set: inbound messages of any size are accepted.",
		})
	}

	if cfg.Security.FloodMaxMessages <= 0 {
		findings = append(findings, AuditFinding{
			CheckID:  "config.flood_control_disabled",
			Severity: SeverityInfo,
			Title:    "Flood control is not configured",
			Detail:   fmt.Sprintf("security.flood_max_messages is %d: no per-user rate limiting is applied.", cfg.Security.FloodMaxMessages),
		})
	}

	return findings
}
