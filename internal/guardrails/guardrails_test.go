package guardrails

import (
	"context"
	"testing"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
)

func TestRunInput_FirstBlockShortCircuits(t *testing.T) {
	var secondCalled bool
	list := []Named{
		{Name: "too-long", Func: MaxMessageLength(5)},
		{Name: "never-reached", Func: func(ctx context.Context, content string) GuardrailResult {
			secondCalled = true
			return Pass
		}},
	}

	result, name := RunInput(context.Background(), list, "this is definitely too long")
	if result.Pass {
		t.Fatal("expected block")
	}
	if name != "too-long" {
		t.Errorf("expected blocking guardrail name %q, got %q", "too-long", name)
	}
	if secondCalled {
		t.Error("expected second guardrail to be skipped after first block")
	}
}

func TestRunInput_AllPass(t *testing.T) {
	list := []Named{
		{Name: "len", Func: MaxMessageLength(100)},
		{Name: "patterns", Func: BlockedPatterns([]string{`secret`})},
	}
	result, name := RunInput(context.Background(), list, "hello world")
	if !result.Pass {
		t.Fatalf("expected pass, got block by %q: %s", name, result.Reason)
	}
}

func TestBlockedPatterns_Matches(t *testing.T) {
	g := BlockedPatterns([]string{`(?i)ssn:\s*\d{3}-\d{2}-\d{4}`})
	result := g(context.Background(), "my ssn: 123-45-6789")
	if result.Pass {
		t.Fatal("expected blocked-pattern guardrail to block")
	}
}

func TestBlockedPatterns_SkipsInvalidRegex(t *testing.T) {
	g := BlockedPatterns([]string{"("})
	result := g(context.Background(), "anything")
	if !result.Pass {
		t.Fatal("expected invalid pattern to be skipped, not block everything")
	}
}

func TestInputError_WrapsAsGuardrailError(t *testing.T) {
	result := Block("too risky")
	err := InputError(result, "blocked-pattern")
	if coreerrors.CodeOf(err) != coreerrors.CodeGuardrail {
		t.Errorf("expected guardrail error code, got %v", coreerrors.CodeOf(err))
	}
	if err.ViolationType != coreerrors.GuardrailViolationInput {
		t.Errorf("expected input violation type, got %v", err.ViolationType)
	}
}
