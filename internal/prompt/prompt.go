// Package prompt compiles template text — {{var}}, {{#if cond}}…{{/if}},
// {{#each list}}…{{/each}} — against a variable context into resolved
// instruction text for an agent (§3 "Prompt", §9 "Prompt template engine").
package prompt

import "fmt"

// Prompt is a template and a flag distinguishing whether Text still needs
// resolving against a context, or already holds resolved output.
type Prompt struct {
	Text     string
	Compiled bool
}

// New wraps raw template text as an unresolved Prompt.
func New(text string) Prompt {
	return Prompt{Text: text}
}

// Resolved wraps already-compiled text; Resolve is then a no-op.
func Resolved(text string) Prompt {
	return Prompt{Text: text, Compiled: true}
}

// Resolve compiles p against ctx, returning a new Compiled Prompt. A Prompt
// that is already Compiled is returned unchanged — a template is resolved
// at most once.
func (p Prompt) Resolve(ctx map[string]any) (Prompt, error) {
	if p.Compiled {
		return p, nil
	}
	text, err := Compile(p.Text, ctx)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{Text: text, Compiled: true}, nil
}

// Compile parses and renders template text against ctx in one pass. Each
// call reparses template — callers that render the same template
// repeatedly against different contexts should Parse once and call Render
// directly instead.
func Compile(template string, ctx map[string]any) (string, error) {
	nodes, err := Parse(template)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	out, err := Render(nodes, ctx)
	if err != nil {
		return "", fmt.Errorf("prompt: %w", err)
	}
	return out, nil
}
