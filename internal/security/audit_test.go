package security

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestNewAuditor(t *testing.T) {
	opts := DefaultAuditOptions()
	auditor := NewAuditor(opts)

	if auditor == nil {
		t.Fatal("NewAuditor returned nil")
	}
}

func TestAuditFilesystemPermissions(t *testing.T) {
	// Create a temp directory for testing
	tmpDir := t.TempDir()

	// Create a test config file with loose permissions
	configPath := filepath.Join(tmpDir, "nexus.yaml")
	if err := os.WriteFile(configPath, []byte("test: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	opts := AuditOptions{
		ConfigPath:        configPath,
		StateDir:          tmpDir,
		IncludeFilesystem: true,
	}

	auditor := NewAuditor(opts)
	report, err := auditor.Audit(context.Background())

	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}

	// Should find the world-readable config file
	found := false
	for _, f := range report.Findings {
		if f.CheckID == "fs.config_world_readable" {
			found = true
			if f.Severity != SeverityCritical {
				t.Errorf("Expected critical severity, got %s", f.Severity)
			}
		}
	}

	if !found {
		t.Error("Expected to find world-readable config finding")
	}
}

func TestAuditWorldWritableDir(t *testing.T) {
	tmpDir := t.TempDir()

	// Create a world-writable subdirectory
	credsDir := filepath.Join(tmpDir, "credentials")
	if err := os.Mkdir(credsDir, 0777); err != nil {
		t.Fatal(err)
	}
	// Explicitly set permissions to override umask
	if err := os.Chmod(credsDir, 0777); err != nil {
		t.Fatal(err)
	}

	opts := AuditOptions{
		StateDir:          tmpDir,
		IncludeFilesystem: true,
	}

	auditor := NewAuditor(opts)
	report, err := auditor.Audit(context.Background())

	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}

	// Should find the world-writable credentials directory
	found := false
	for _, f := range report.Findings {
		if f.CheckID == "fs.sensitive_file_world_writable" {
			found = true
			if f.Severity != SeverityCritical {
				t.Errorf("Expected critical severity, got %s", f.Severity)
			}
		}
	}

	if !found {
		t.Error("Expected to find world-writable sensitive-path finding for the credentials dir")
	}
}

func TestCountBySeverity(t *testing.T) {
	findings := []Finding{
		{CheckID: "test1", Severity: SeverityCritical},
		{CheckID: "test2", Severity: SeverityCritical},
		{CheckID: "test3", Severity: SeverityWarn},
		{CheckID: "test4", Severity: SeverityInfo},
		{CheckID: "test5", Severity: SeverityInfo},
		{CheckID: "test6", Severity: SeverityInfo},
	}

	summary := computeSummary(findings)

	if summary.Critical != 2 {
		t.Errorf("Expected 2 critical, got %d", summary.Critical)
	}
	if summary.Warn != 1 {
		t.Errorf("Expected 1 warn, got %d", summary.Warn)
	}
	if summary.Info != 3 {
		t.Errorf("Expected 3 info, got %d", summary.Info)
	}
}
