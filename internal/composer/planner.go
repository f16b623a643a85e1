package composer

import (
	"context"
	"fmt"

	"github.com/pria-cloud/app-composer/internal/decode"
	"github.com/pria-cloud/app-composer/internal/llm"
)

// Planner converts a confirmed specification into an ordered action plan
type Planner struct {
	completer llm.Completer
}

// NewPlanner creates a planner
func NewPlanner(completer llm.Completer) *Planner {
	return &Planner{completer: completer}
}

// Plan produces the action plan for a confirmed spec. A completion that
// cannot be decoded yields a PlanError of kind decode_failure carrying the
// raw text; a decoded plan with a step missing its filePath is a contract
// violation, reported as its own error kind rather than a crash.
func (p *Planner) Plan(ctx context.Context, spec ApplicationSpec, catalogue string) (Plan, error) {
	prompt := buildPlanPrompt(spec, catalogue)

	text, err := p.completer.Complete(ctx, llm.CompletionRequest{
		Prompt: prompt,
		ResponseSchema: map[string]interface{}{
			"type":     "object",
			"required": []string{"classification", "actionPlan"},
		},
	})
	if err != nil {
		return Plan{}, &PlanError{Kind: PlanErrorDecode, Detail: fmt.Sprintf("completion failed: %v", err)}
	}

	result := decode.Decode[Plan](text)
	if !result.OK() {
		return Plan{}, &PlanError{Kind: PlanErrorDecode, Detail: "no valid plan in completion text", Raw: result.Raw}
	}

	plan := result.Value
	seen := make(map[string]bool, len(plan.Steps))
	for i, step := range plan.Steps {
		if step.FilePath == "" {
			return Plan{}, &PlanError{
				Kind:   PlanErrorContract,
				Detail: fmt.Sprintf("action plan step %d has no filePath", i),
				Raw:    result.Raw,
			}
		}
		if seen[step.FilePath] {
			return Plan{}, &PlanError{
				Kind:   PlanErrorContract,
				Detail: fmt.Sprintf("action plan step %d duplicates filePath %s", i, step.FilePath),
				Raw:    result.Raw,
			}
		}
		seen[step.FilePath] = true
	}

	return plan, nil
}

// StepFor finds the plan step that originated a file path
func (p Plan) StepFor(filePath string) (ActionPlanStep, bool) {
	for _, step := range p.Steps {
		if step.FilePath == filePath {
			return step, true
		}
	}
	return ActionPlanStep{}, false
}
