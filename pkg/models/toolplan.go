package models

import (
	"fmt"
	"regexp"
)

// toolNamePattern enforces the Tool name grammar from §3: `[A-Za-z0-9_-]{1,64}`.
var toolNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidToolName reports whether name satisfies the Tool naming invariant.
func ValidToolName(name string) bool {
	return toolNamePattern.MatchString(name)
}

// ToolPlanStep is one step of a declarative ToolPlan (§3, §4.6).
type ToolPlanStep struct {
	ID        string `json:"id"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"` // JSON text, may embed $ref:ID[.path]
}

// ToolPlan is a declarative multi-tool-call plan (§3, §4.6).
type ToolPlan struct {
	Steps       []ToolPlanStep `json:"steps"`
	OutputSteps []string       `json:"output_steps,omitempty"`
}

// Validate checks the structural invariants of §4.6 step 1. It does not
// check tool existence (the caller must own the registry) or acyclicity
// (computed by the dependency-graph pass).
func (p ToolPlan) Validate(reservedPlanTool string) error {
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if step.ID == "" {
			return fmt.Errorf("tool plan step has blank id")
		}
		if step.Tool == "" {
			return fmt.Errorf("tool plan step %q has blank tool", step.ID)
		}
		if seen[step.ID] {
			return fmt.Errorf("tool plan step id %q is not unique", step.ID)
		}
		seen[step.ID] = true
		if step.Tool == reservedPlanTool {
			return fmt.Errorf("tool plan step %q may not call the reserved plan tool %q", step.ID, reservedPlanTool)
		}
	}
	return nil
}

// StepResult is the recorded outcome of executing one ToolPlanStep.
type StepResult struct {
	StepID   string        `json:"step_id"`
	Tool     string        `json:"tool"`
	CallID   string        `json:"call_id"`
	Output   string        `json:"output"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration int64         `json:"duration_ns"`
}

// PlanResult is the assembled result of a ToolPlan execution (§4.6 step 6).
type PlanResult struct {
	Results       []StepResult      `json:"results"`
	OutputResults []StepResult      `json:"output_results"`
	Errors        map[string]string `json:"errors,omitempty"`
}
