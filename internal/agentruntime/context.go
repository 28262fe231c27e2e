package agentruntime

import "context"

// ToolPolicy decides whether a tool name is callable for the current turn.
// A nil ToolPolicy (the default) allows everything.
type ToolPolicy func(toolName string) bool

type ctxKey int

const (
	ctxKeySystemPrompt ctxKey = iota
	ctxKeyModel
	ctxKeyToolPolicy
	ctxKeyPromptContext
)

// WithSystemPrompt overrides the agent's instructions for the scope of ctx,
// without mutating the AgentDefinition itself (§4.7 scoped overrides).
func WithSystemPrompt(ctx context.Context, prompt string) context.Context {
	return context.WithValue(ctx, ctxKeySystemPrompt, prompt)
}

// SystemPromptFromContext reads a per-request instructions override.
func SystemPromptFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeySystemPrompt).(string)
	return v, ok
}

// WithModel overrides the model for the scope of ctx.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ctxKeyModel, model)
}

// ModelFromContext reads a per-request model override.
func ModelFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyModel).(string)
	return v, ok
}

// WithToolPolicy scopes a ToolPolicy to ctx; the turn loop consults it when
// advertising tools to the model.
func WithToolPolicy(ctx context.Context, policy ToolPolicy) context.Context {
	return context.WithValue(ctx, ctxKeyToolPolicy, policy)
}

// ToolPolicyFromContext reads a per-request tool policy override.
func ToolPolicyFromContext(ctx context.Context) (ToolPolicy, bool) {
	v, ok := ctx.Value(ctxKeyToolPolicy).(ToolPolicy)
	return v, ok
}

// WithPromptContext attaches a variable context for prompt compilation
// (§3 "Prompt", §9 "Prompt template engine"). When set, the agent's
// Instructions (after any WithSystemPrompt override) are compiled as a
// template against these variables before each turn.
func WithPromptContext(ctx context.Context, vars map[string]any) context.Context {
	return context.WithValue(ctx, ctxKeyPromptContext, vars)
}

// PromptContextFromContext reads a per-request prompt variable context.
func PromptContextFromContext(ctx context.Context) (map[string]any, bool) {
	v, ok := ctx.Value(ctxKeyPromptContext).(map[string]any)
	return v, ok
}
