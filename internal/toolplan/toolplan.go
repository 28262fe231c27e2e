// Package toolplan implements the ToolPlan Executor (§4.6): validates a
// declarative multi-step plan, builds its step dependency graph from
// $ref:ID references embedded in step arguments, schedules steps into
// parallel waves by Kahn's algorithm, and executes each wave fail-forward
// against a tool registry.
package toolplan

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathomlabs/agentcore/internal/coreerrors"
	"github.com/fathomlabs/agentcore/internal/retry"
	"github.com/fathomlabs/agentcore/internal/toolregistry"
	"github.com/fathomlabs/agentcore/pkg/models"
)

// ReservedPlanTool is the tool name a plan step may never target: it's the
// name under which the plan executor itself is registered as a synthetic
// tool in the agent runtime (§4.7).
const ReservedPlanTool = "tool_plan"

// refPattern matches $ref:ID or $ref:ID.dotted.path tokens. IDs follow the
// same grammar as step ids: letters, digits, underscore, hyphen.
var refPattern = regexp.MustCompile(`\$ref:([A-Za-z0-9_-]+)((?:\.[A-Za-z0-9_-]+)*)`)

// Executor runs ToolPlans against a tool registry.
type Executor struct {
	registry     *toolregistry.Registry
	retryConfig  retry.Config
	retryEnabled func(toolName string) bool
}

// New builds an Executor. retryEnabled, if non-nil, is consulted per step to
// decide whether a failed step's tool call should be retried via
// internal/retry rather than failing outright; a nil retryEnabled disables
// retry for every step.
func New(registry *toolregistry.Registry, retryConfig retry.Config, retryEnabled func(toolName string) bool) *Executor {
	return &Executor{registry: registry, retryConfig: retryConfig, retryEnabled: retryEnabled}
}

// Run validates, schedules, and executes plan, returning the assembled
// PlanResult (§4.6 step 6). A validation failure or cycle yields a
// *coreerrors.ToolPlanError and a zero PlanResult.
func (e *Executor) Run(ctx context.Context, plan models.ToolPlan) (models.PlanResult, error) {
	if err := plan.Validate(ReservedPlanTool); err != nil {
		return models.PlanResult{}, coreerrors.NewToolPlanError(err.Error(), "")
	}
	for _, step := range plan.Steps {
		if !e.registry.Contains(step.Tool) {
			return models.PlanResult{}, coreerrors.NewToolPlanError(
				fmt.Sprintf("tool plan step %q references unknown tool %q", step.ID, step.Tool), step.ID)
		}
	}

	byID := make(map[string]models.ToolPlanStep, len(plan.Steps))
	for _, step := range plan.Steps {
		byID[step.ID] = step
	}

	deps := buildDependencyGraph(plan.Steps, byID)
	waves, err := topoWaves(plan.Steps, deps)
	if err != nil {
		return models.PlanResult{}, err
	}

	outputs := make(map[string]string, len(plan.Steps))  // step id -> raw output text
	failed := make(map[string]bool, len(plan.Steps))
	resultByID := make(map[string]models.StepResult, len(plan.Steps))

	for _, wave := range waves {
		waveResults := e.runWave(ctx, wave, byID, deps, outputs, failed)
		for _, r := range waveResults {
			resultByID[r.StepID] = r
			if r.Success {
				outputs[r.StepID] = r.Output
			} else {
				failed[r.StepID] = true
			}
		}
	}

	ordered := make([]models.StepResult, 0, len(plan.Steps))
	errs := make(map[string]string)
	for _, step := range plan.Steps {
		r := resultByID[step.ID]
		ordered = append(ordered, r)
		if !r.Success {
			errs[step.ID] = r.Error
		}
	}

	outputSteps := plan.OutputSteps
	if len(outputSteps) == 0 {
		outputSteps = make([]string, 0, len(plan.Steps))
		for _, step := range plan.Steps {
			outputSteps = append(outputSteps, step.ID)
		}
	}
	outputResults := make([]models.StepResult, 0, len(outputSteps))
	for _, id := range outputSteps {
		if r, ok := resultByID[id]; ok {
			outputResults = append(outputResults, r)
		}
	}

	result := models.PlanResult{Results: ordered, OutputResults: outputResults}
	if len(errs) > 0 {
		result.Errors = errs
	}
	return result, nil
}

// runWave executes one wave of steps concurrently, indexed-result style:
// no shared mutable state, each goroutine owns results[i] (mirrors
// internal/agent/executor.go's ExecuteAll fan-out).
func (e *Executor) runWave(
	ctx context.Context,
	wave []string,
	byID map[string]models.ToolPlanStep,
	deps map[string][]string,
	outputs map[string]string,
	failed map[string]bool,
) []models.StepResult {
	results := make([]models.StepResult, len(wave))
	var wg sync.WaitGroup
	wg.Add(len(wave))
	for i, stepID := range wave {
		go func(i int, stepID string) {
			defer wg.Done()
			results[i] = e.runStep(ctx, byID[stepID], deps[stepID], outputs, failed)
		}(i, stepID)
	}
	wg.Wait()
	return results
}

func (e *Executor) runStep(
	ctx context.Context,
	step models.ToolPlanStep,
	dependsOn []string,
	outputs map[string]string,
	failed map[string]bool,
) models.StepResult {
	callID := fmt.Sprintf("plan_%s_%s", step.ID, uuid.NewString())

	for _, dep := range dependsOn {
		if failed[dep] {
			return models.StepResult{
				StepID:  step.ID,
				Tool:    step.Tool,
				CallID:  callID,
				Success: false,
				Error:   fmt.Sprintf("skipped because dependency %s failed", dep),
			}
		}
	}

	resolvedArgs := resolveReferences(step.Arguments, outputs)

	start := time.Now()
	var toolResult *toolregistry.ToolResult
	var execErr error

	attempt := func() error {
		toolResult, execErr = e.registry.Execute(ctx, callID, step.Tool, json.RawMessage(resolvedArgs))
		if execErr != nil {
			return execErr
		}
		if toolResult != nil && toolResult.IsError {
			return fmt.Errorf("%s", toolResult.Content)
		}
		return nil
	}

	if e.retryEnabled != nil && e.retryEnabled(step.Tool) {
		retry.Do(ctx, e.retryConfig, attempt)
	} else {
		attempt()
	}

	duration := time.Since(start)

	if execErr != nil {
		return models.StepResult{
			StepID: step.ID, Tool: step.Tool, CallID: callID,
			Success: false, Error: execErr.Error(), Duration: duration.Nanoseconds(),
		}
	}
	if toolResult != nil && toolResult.IsError {
		return models.StepResult{
			StepID: step.ID, Tool: step.Tool, CallID: callID,
			Output: toolResult.Content, Success: false, Error: toolResult.Content,
			Duration: duration.Nanoseconds(),
		}
	}

	output := ""
	if toolResult != nil {
		output = toolResult.Content
	}
	return models.StepResult{
		StepID: step.ID, Tool: step.Tool, CallID: callID,
		Output: output, Success: true, Duration: duration.Nanoseconds(),
	}
}

// buildDependencyGraph scans every step's Arguments for $ref:ID tokens,
// keeping only references to sibling step ids (a reference to an unknown
// id is left unresolved and substituted as empty at execution time, not
// treated as a dependency edge).
func buildDependencyGraph(steps []models.ToolPlanStep, byID map[string]models.ToolPlanStep) map[string][]string {
	deps := make(map[string][]string, len(steps))
	for _, step := range steps {
		seen := make(map[string]bool)
		var ids []string
		for _, m := range refPattern.FindAllStringSubmatch(step.Arguments, -1) {
			ref := m[1]
			if ref == step.ID {
				continue
			}
			if _, ok := byID[ref]; !ok {
				continue
			}
			if !seen[ref] {
				seen[ref] = true
				ids = append(ids, ref)
			}
		}
		deps[step.ID] = ids
	}
	return deps
}

// topoWaves runs Kahn's algorithm over the dependency graph, grouping all
// steps with in-degree zero into one wave, removing them, and repeating.
// Returns a *coreerrors.ToolPlanError if a cycle prevents full processing.
func topoWaves(steps []models.ToolPlanStep, deps map[string][]string) ([][]string, error) {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, step := range steps {
		inDegree[step.ID] = len(deps[step.ID])
	}
	for id, ds := range deps {
		for _, d := range ds {
			dependents[d] = append(dependents[d], id)
		}
	}

	remaining := len(steps)
	var waves [][]string
	for remaining > 0 {
		var wave []string
		for _, step := range steps {
			if inDegree[step.ID] == 0 {
				wave = append(wave, step.ID)
			}
		}
		if len(wave) == 0 {
			return nil, coreerrors.NewToolPlanError("cycle detected", "")
		}
		waves = append(waves, wave)
		for _, id := range wave {
			inDegree[id] = -1 // mark processed, excluded from future waves
			remaining--
		}
		for _, id := range wave {
			for _, dep := range dependents[id] {
				if inDegree[dep] > 0 {
					inDegree[dep]--
				}
			}
		}
	}
	return waves, nil
}

// resolveReferences substitutes every $ref:ID[.path] token in args with the
// referenced step's output. Whether a token sits directly between two
// quote characters in args decides how it's substituted:
//   - quoted ("$ref:a") — treated as a reference inside a JSON string
//     literal: the resolved value is rendered as text (a string's own
//     content, or a compact JSON encoding for anything else) and spliced
//     in with the surrounding quotes left untouched;
//   - bare ($ref:a, no surrounding quotes) — treated as a reference used
//     as a value in its own right: the resolved value is marshaled back
//     to JSON and spliced in raw, so an object or array output flows
//     through as a nested object/array rather than a string.
//
// Dotted paths walk the referenced output as a JSON document; a missing
// key or a non-object intermediate yields an empty string.
func resolveReferences(args string, outputs map[string]string) string {
	matches := refPattern.FindAllStringSubmatchIndex(args, -1)
	if matches == nil {
		return args
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		id := args[m[2]:m[3]]
		path := ""
		if m[4] >= 0 {
			path = args[m[4]:m[5]]
		}

		b.WriteString(args[last:start])

		value, ok := resolveValue(id, path, outputs)
		if !ok {
			value = ""
		}

		quoted := start > 0 && args[start-1] == '"' && end < len(args) && args[end] == '"'
		if quoted {
			b.WriteString(jsonStringBody(value))
		} else {
			encoded, err := json.Marshal(value)
			if err != nil {
				encoded = []byte(`""`)
			}
			b.Write(encoded)
		}

		last = end
	}
	b.WriteString(args[last:])
	return b.String()
}

// resolveValue looks up id's output and walks path (dot-separated, already
// stripped of its leading dot included in the regex match) through it as a
// JSON document. A non-JSON output is treated as an opaque string value. A
// missing id reports ok=false; a missing path segment or non-object
// intermediate resolves to "".
func resolveValue(id, path string, outputs map[string]string) (any, bool) {
	raw, ok := outputs[id]
	if !ok {
		return nil, false
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		decoded = raw
	}
	if path == "" {
		return decoded, true
	}

	for _, seg := range strings.Split(strings.TrimPrefix(path, "."), ".") {
		obj, ok := decoded.(map[string]any)
		if !ok {
			return "", true
		}
		v, ok := obj[seg]
		if !ok {
			return "", true
		}
		decoded = v
	}
	return decoded, true
}

// jsonStringBody renders value as the unquoted body of a JSON string
// literal: a string value's own content, or a compact JSON encoding of
// anything else with its own surrounding quotes stripped.
func jsonStringBody(value any) string {
	if s, ok := value.(string); ok {
		encoded, _ := json.Marshal(s)
		return strings.TrimSuffix(strings.TrimPrefix(string(encoded), `"`), `"`)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// FormatOutputs serializes the given step results as a single JSON object
// keyed by step id, for feeding a plan's assembled output back to the model
// as one tool-call output message. Values that already look like JSON
// (begin with '{' or '[') are inlined as raw JSON; everything else is
// quoted as a JSON string.
func FormatOutputs(results []models.StepResult) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, r := range results {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(r.StepID)
		b.Write(key)
		b.WriteByte(':')
		trimmed := strings.TrimSpace(r.Output)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			b.WriteString(trimmed)
		} else {
			encoded, _ := json.Marshal(r.Output)
			b.Write(encoded)
		}
	}
	b.WriteByte('}')
	return b.String()
}
