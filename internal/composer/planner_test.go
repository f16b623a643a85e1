package composer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pria-cloud/app-composer/internal/llm"
)

func TestPlanner_Plan(t *testing.T) {
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			require.True(t, isPlanPrompt(req))
			return "```json\n{\"classification\": \"crud_app\", \"actionPlan\": [{\"filePath\": \"app/page.tsx\", \"description\": \"landing page\"}, {\"filePath\": \"components/Table.tsx\", \"description\": \"data table\"}]}\n```", nil
		},
	}
	planner := NewPlanner(fake)

	plan, err := planner.Plan(context.Background(), ApplicationSpec{Description: "expense tracker", Confirmed: true}, "")

	require.NoError(t, err)
	assert.Equal(t, "crud_app", plan.Classification)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "app/page.tsx", plan.Steps[0].FilePath)
}

func TestPlanner_DecodeFailureIsTyped(t *testing.T) {
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			return "I couldn't come up with a plan, sorry.", nil
		},
	}
	planner := NewPlanner(fake)

	_, err := planner.Plan(context.Background(), ApplicationSpec{Confirmed: true}, "")

	require.Error(t, err)
	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, PlanErrorDecode, planErr.Kind)
	assert.NotEmpty(t, planErr.Raw)
}

func TestPlanner_MissingFilePathIsContractViolation(t *testing.T) {
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			return "{\"classification\": \"crud_app\", \"actionPlan\": [{\"filePath\": \"\", \"description\": \"mystery step\"}]}", nil
		},
	}
	planner := NewPlanner(fake)

	_, err := planner.Plan(context.Background(), ApplicationSpec{Confirmed: true}, "")

	require.Error(t, err)
	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, PlanErrorContract, planErr.Kind)
}

func TestPlanner_DuplicateFilePathIsContractViolation(t *testing.T) {
	fake := &fakeCompleter{
		handler: func(req llm.CompletionRequest) (string, error) {
			return "{\"classification\": \"crud_app\", \"actionPlan\": [{\"filePath\": \"app/page.tsx\", \"description\": \"a\"}, {\"filePath\": \"app/page.tsx\", \"description\": \"b\"}]}", nil
		},
	}
	planner := NewPlanner(fake)

	_, err := planner.Plan(context.Background(), ApplicationSpec{Confirmed: true}, "")

	require.Error(t, err)
	var planErr *PlanError
	require.ErrorAs(t, err, &planErr)
	assert.Equal(t, PlanErrorContract, planErr.Kind)
}

func TestPlan_StepFor(t *testing.T) {
	plan := Plan{Steps: []ActionPlanStep{
		{FilePath: "a.ts", Description: "one"},
		{FilePath: "b.ts", Description: "two"},
	}}

	step, ok := plan.StepFor("b.ts")
	require.True(t, ok)
	assert.Equal(t, "two", step.Description)

	_, ok = plan.StepFor("missing.ts")
	assert.False(t, ok)
}
