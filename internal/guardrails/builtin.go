package guardrails

import (
	"context"
	"fmt"
	"regexp"
)

// MaxMessageLength builds a guardrail that blocks content longer than
// maxChars, configured straight from the configuration surface
// (security.max_message_length, §6).
func MaxMessageLength(maxChars int) GuardrailFunc {
	return func(ctx context.Context, content string) GuardrailResult {
		if len(content) > maxChars {
			return Block(fmt.Sprintf("content length %d exceeds maximum of %d characters", len(content), maxChars))
		}
		return Pass
	}
}

// BlockedPatterns compiles a set of regular expressions (security.blocked_patterns,
// §6) and builds a guardrail that blocks content matching any of them.
// Invalid patterns are skipped rather than panicking at call time, since a
// guardrail cannot fail construction after it's already wired into a
// running agent.
func BlockedPatterns(patterns []string) GuardrailFunc {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}

	return func(ctx context.Context, content string) GuardrailResult {
		for _, re := range compiled {
			if re.MatchString(content) {
				return Block(fmt.Sprintf("content matches blocked pattern %q", re.String()))
			}
		}
		return Pass
	}
}
