// Package guardrails implements the Guardrails (§4.5): ordered lists of
// pure input/output validators that can veto a turn before/after the LLM
// call, plus two reference guardrails built on the standard library
// (a length cap and a regexp blocklist).
package guardrails

import (
	"context"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
)

// GuardrailResult is the outcome of a single GuardrailFunc invocation.
type GuardrailResult struct {
	Pass   bool
	Reason string
}

// Pass is the zero-friction passing result.
var Pass = GuardrailResult{Pass: true}

// Block builds a failing result carrying reason.
func Block(reason string) GuardrailResult {
	return GuardrailResult{Pass: false, Reason: reason}
}

// GuardrailFunc is a single-method extension point: a guardrail is a plain
// function, not an interface, matching the ancestor's preference for
// function-typed callbacks (e.g. its ToolConfig hooks) over interface
// hierarchies for single-method concerns. Guardrails are pure w.r.t. the
// turn loop: they inspect content and return a verdict, never mutate
// agent state.
type GuardrailFunc func(ctx context.Context, content string) GuardrailResult

// Named pairs a GuardrailFunc with the name surfaced in a GuardrailError
// when it blocks.
type Named struct {
	Name string
	Func GuardrailFunc
}

// RunInput runs guardrails, in order, against an input turn. The first
// block short-circuits the rest.
func RunInput(ctx context.Context, guardrails []Named, content string) (GuardrailResult, string) {
	return run(ctx, guardrails, content)
}

// RunOutput runs guardrails, in order, against an assembled output turn.
// The first block short-circuits the rest.
func RunOutput(ctx context.Context, guardrails []Named, content string) (GuardrailResult, string) {
	return run(ctx, guardrails, content)
}

func run(ctx context.Context, guardrails []Named, content string) (GuardrailResult, string) {
	for _, g := range guardrails {
		if result := g.Func(ctx, content); !result.Pass {
			return result, g.Name
		}
	}
	return Pass, ""
}

// InputError builds the GuardrailError the turn loop surfaces when
// RunInput reports a block.
func InputError(result GuardrailResult, guardrailName string) *coreerrors.GuardrailError {
	return coreerrors.NewGuardrailError(coreerrors.GuardrailViolationInput, result.Reason, guardrailName)
}

// OutputError builds the GuardrailError the turn loop surfaces when
// RunOutput reports a block.
func OutputError(result GuardrailResult, guardrailName string) *coreerrors.GuardrailError {
	return coreerrors.NewGuardrailError(coreerrors.GuardrailViolationOutput, result.Reason, guardrailName)
}
